package otaextract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// Prefetched mirrors a remote body into a local temp file once, then serves
// the same ReadAt contract as every other ByteSource out of that mirror.
// Used when the caller passed --prefetch. A ranged source that reports
// KindRangeNotSupported is not downgraded to Prefetched automatically; Open
// returns that error instead.
type Prefetched struct {
	f    *os.File
	size int64
}

// NewPrefetchedFromURL performs a single plain GET against url and mirrors
// the whole response body to a temp file.
func NewPrefetchedFromURL(ctx context.Context, url, userAgent, cookie string) (*Prefetched, error) {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return nil, NewError(KindNetworkFatal, "prefetch GET failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(KindNetworkFatal, fmt.Sprintf("prefetch returned status %d", resp.StatusCode), nil)
	}

	return NewPrefetchedFromReader(resp.Body)
}

// NewPrefetchedFromReader mirrors r into a temp file in full.
func NewPrefetchedFromReader(r io.Reader) (*Prefetched, error) {
	tmp, err := os.CreateTemp("", "ota-payload-prefetch-*")
	if err != nil {
		return nil, err
	}
	// The temp file stays on disk while the mirror is open. It is removed
	// here if the copy fails, and otherwise by Close; a crash leaves it
	// behind.
	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, NewError(KindNetworkFatal, "prefetch copy failed", err)
	}

	return &Prefetched{f: tmp, size: n}, nil
}

func (p *Prefetched) Len() int64 { return p.size }

func (p *Prefetched) ReadAt(buf []byte, off int64) (int, error) {
	if off >= p.size {
		return 0, io.EOF
	}
	want := len(buf)
	if int64(want) > p.size-off {
		want = int(p.size - off)
	}
	n, err := p.f.ReadAt(buf[:want], off)
	if err == io.EOF && n == want {
		err = nil
	}
	return n, err
}

func (p *Prefetched) Close() error {
	name := p.f.Name()
	err := p.f.Close()
	os.Remove(name)
	return err
}
