package otaextract

import (
	"bytes"
	"compress/bzip2"
	"io"

	"github.com/DataDog/zstd"
	"github.com/otaxtract/payload-extract/manifest"
	"github.com/ulikunitz/xz"
)

const codecChunkSize = 64 * 1024

// decodeOperationData wraps an operation's raw (still encoded) data in the
// streaming decoder its type requires. REPLACE needs no decoding at all.
// Decoders are required to exist for BZIP2/XZ/ZSTD;
// BROTLI and the BSDIFF family are build-time features this binary does
// not carry (see DESIGN.md), so they return ErrUnsupportedOp.
func decodeOperationData(opType manifest.OpType, data []byte) (io.ReadCloser, error) {
	switch opType {
	case manifest.OpReplace:
		return io.NopCloser(bytes.NewReader(data)), nil
	case manifest.OpReplaceBZ:
		return io.NopCloser(bzip2.NewReader(bytes.NewReader(data))), nil
	case manifest.OpReplaceXZ:
		r, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, ErrCorruptStream("xz", err)
		}
		return io.NopCloser(r), nil
	case manifest.OpZstd:
		return zstd.NewReader(bytes.NewReader(data)), nil
	default:
		return nil, ErrUnsupportedOp(opType.String())
	}
}

// copyDecoded streams src through to dst in fixed-size chunks so no
// whole-image buffer is ever allocated for the decompressed form
// and returns the total number of decoded bytes
// written.
func copyDecoded(dst io.Writer, src io.Reader, codecName string) (int64, error) {
	buf := make([]byte, codecChunkSize)
	n, err := io.CopyBuffer(dst, src, buf)
	if err != nil {
		return n, ErrCorruptStream(codecName, err)
	}
	return n, nil
}
