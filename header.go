package otaextract

import (
	"encoding/binary"
	"fmt"
)

// PayloadMagic is the 4-byte magic prefix of every payload.bin, inside or
// outside a ZIP wrapper.
const PayloadMagic = "CrAU"

// DefaultManifestSizeCap bounds how large a declared manifest_size this
// implementation will allocate for, guarding against a corrupt or hostile
// header. Configurable via OpenOptions.ManifestSizeCap (ParseFrame's
// manifestSizeCap argument).
const DefaultManifestSizeCap = 256 << 20 // 256 MiB

const payloadHeaderSize = 24 // magic(4) + version(8) + manifest_size(8) + metadata_sig_size(4)

// Frame is the result of validating and locating the fixed regions of one
// payload: header, manifest, metadata signature, and blob.
type Frame struct {
	PayloadOffset   int64
	Version         uint64
	ManifestOffset  int64
	ManifestSize    uint64
	MetadataSigSize uint32
	BlobOffset      int64
}

// ParseFrame reads and validates the 24-byte prologue at payloadOffset and
// computes the manifest/blob region boundaries.
// manifestSizeCap <= 0 means DefaultManifestSizeCap.
func ParseFrame(src ByteSource, payloadOffset int64, manifestSizeCap int64) (*Frame, error) {
	if manifestSizeCap <= 0 {
		manifestSizeCap = DefaultManifestSizeCap
	}

	hdr := make([]byte, payloadHeaderSize)
	if err := ReadFull(src, hdr, payloadOffset); err != nil {
		return nil, fmt.Errorf("reading payload header: %w", err)
	}

	if string(hdr[0:4]) != PayloadMagic {
		return nil, NewError(KindInvalidMagic, fmt.Sprintf("got %q", hdr[0:4]), nil)
	}

	version := binary.BigEndian.Uint64(hdr[4:12])
	if version != 2 {
		return nil, NewError(KindUnsupportedVersion, fmt.Sprintf("version %d", version), nil)
	}

	manifestSize := binary.BigEndian.Uint64(hdr[12:20])
	if manifestSize > uint64(manifestSizeCap) {
		return nil, NewError(KindManifestTooLarge, fmt.Sprintf("manifest_size %d exceeds cap %d", manifestSize, manifestSizeCap), nil)
	}

	metadataSigSize := binary.BigEndian.Uint32(hdr[20:24])

	manifestOffset := payloadOffset + payloadHeaderSize
	blobOffset := manifestOffset + int64(manifestSize) + int64(metadataSigSize)

	return &Frame{
		PayloadOffset:   payloadOffset,
		Version:         version,
		ManifestOffset:  manifestOffset,
		ManifestSize:    manifestSize,
		MetadataSigSize: metadataSigSize,
		BlobOffset:      blobOffset,
	}, nil
}

// ReadManifestBytes reads the raw, still-encoded manifest region described
// by f out of src.
func (f *Frame) ReadManifestBytes(src ByteSource) ([]byte, error) {
	buf := make([]byte, f.ManifestSize)
	if err := ReadFull(src, buf, f.ManifestOffset); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return buf, nil
}
