package otaextract

import (
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// LocalFile serves ByteSource reads from a local, regular file. When the
// file can be memory-mapped it is, so concurrent workers get lock-free
// parallel ReadAt; otherwise reads fall back to the
// file's own ReadAt, which the OS already makes safe for concurrent use
// from multiple goroutines.
type LocalFile struct {
	f    *os.File
	size int64
	mm   mmap.MMap // nil if mapping wasn't used
}

// NewLocalFile opens path and maps it read-only when possible.
func NewLocalFile(path string) (*LocalFile, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewError(KindInputNotFound, path, err)
		}
		return nil, err
	}
	return newLocalFileFromHandle(f)
}

func newLocalFileFromHandle(f *os.File) (*LocalFile, error) {
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	lf := &LocalFile{f: f, size: info.Size()}

	if info.Size() > 0 {
		if m, err := mmap.Map(f, mmap.RDONLY, 0); err == nil {
			lf.mm = m
		} else {
			Logger.Printf("[yellow]local file could not be memory-mapped, falling back to ReadAt: %v[reset]", err)
		}
	}
	return lf, nil
}

func (l *LocalFile) Len() int64 { return l.size }

func (l *LocalFile) ReadAt(buf []byte, off int64) (int, error) {
	if off >= l.size {
		return 0, io.EOF
	}
	want := len(buf)
	if int64(want) > l.size-off {
		want = int(l.size - off)
	}
	if l.mm != nil {
		n := copy(buf[:want], l.mm[off:off+int64(want)])
		if n < len(buf) {
			return n, io.EOF
		}
		return n, nil
	}
	n, err := l.f.ReadAt(buf[:want], off)
	if err == io.EOF && n == want {
		err = nil
	}
	return n, err
}

func (l *LocalFile) Close() error {
	var err error
	if l.mm != nil {
		err = l.mm.Unmap()
	}
	if cerr := l.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
