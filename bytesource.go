package otaextract

import "io"

// ByteSource is a logical content-addressable byte array of known total
// length, uniformly backed by a local file, a ZIP entry, or a ranged HTTP
// endpoint. Seekability of the underlying transport is
// not required; HTTP emulates positioned reads with Range requests.
//
// Two successful ReadAt calls at overlapping ranges must return identical
// bytes — every implementation here is either immutable once constructed or
// serializes reads behind a mutex to preserve that invariant under
// concurrent workers.
type ByteSource interface {
	// Len returns the total addressable length.
	Len() int64

	// ReadAt fills buf with min(Len()-off, len(buf)) bytes starting at
	// off and returns how many bytes were copied. Short reads other than
	// at EOF indicate failure; transient failures are retried internally
	// by the implementation, never surfaced to the caller as a partial
	// read.
	ReadAt(buf []byte, off int64) (int, error)

	io.Closer
}

// ReadFull reads exactly len(buf) bytes from src at off, looping over
// ReadAt until satisfied or an error occurs. Used by every component that
// needs "give me exactly N bytes" instead of ByteSource's best-effort
// contract.
func ReadFull(src ByteSource, buf []byte, off int64) error {
	total := 0
	for total < len(buf) {
		n, err := src.ReadAt(buf[total:], off+int64(total))
		if n > 0 {
			total += n
		}
		if err != nil {
			if err == io.EOF && total == len(buf) {
				return nil
			}
			return err
		}
		if n == 0 {
			return io.ErrNoProgress
		}
	}
	return nil
}
