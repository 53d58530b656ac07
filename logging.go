package otaextract

import (
	"io"
	"log"
	"os"

	"github.com/mitchellh/colorstring"
	"golang.org/x/term"
)

// colorWriter strips or renders colorstring markup depending on whether the
// underlying writer looks like a terminal; log.Logger only needs an
// io.Writer, so this is the one seam colorstring needs to sit under it.
type colorWriter struct {
	out     io.Writer
	disable bool
}

func newColorWriter(out *os.File) *colorWriter {
	return &colorWriter{out: out, disable: !term.IsTerminal(int(out.Fd()))}
}

func (w *colorWriter) Write(p []byte) (int, error) {
	rendered := (&colorstring.Colorize{
		Colors:  colorstring.DefaultColors,
		Disable: w.disable,
		Reset:   true,
	}).Color(string(p))
	n, err := io.WriteString(w.out, rendered)
	if err != nil {
		return n, err
	}
	// Report the original length so callers (including log.Logger, which
	// treats a short write as an error) don't see the markup's shrinkage.
	return len(p), nil
}

// Logger is the package-wide diagnostic logger. The engine packages never
// call Fatal/Exit through it; only cmd/otaextract does that.
var Logger = log.New(newColorWriter(os.Stderr), "", log.LstdFlags)
