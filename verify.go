package otaextract

import (
	"bytes"
	"crypto/sha256"
	"io"
	"os"

	"github.com/otaxtract/payload-extract/manifest"
)

// VerifyPartition streams path through SHA-256 and compares it against
// info.Sha256 when info declares one. A partition with no declared digest
// passes trivially: verification is only mandatory when the manifest
// carries something to check against.
func VerifyPartition(path string, info *manifest.PartitionInfo) error {
	if info == nil || len(info.Sha256) == 0 {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return NewError(KindIoWrite, "opening for verification", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return NewError(KindIoWrite, "hashing output image", err)
	}

	sum := h.Sum(nil)
	if !bytes.Equal(sum, info.Sha256) {
		return &Error{
			Kind:   KindOutputHashMismatch,
			Detail: path,
		}
	}
	return nil
}
