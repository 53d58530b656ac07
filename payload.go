// Package otaextract implements the payload extraction engine: locating
// payload.bin inside a local file, ZIP archive, or remote URL; decoding its
// manifest; and replaying every partition's install operations onto local
// image files, verifying each one against its declared SHA-256.
//
// Framing lives in header.go, manifest decoding in manifest/, per-operation
// interpretation in operation.go, and the multi-partition driver in
// scheduler.go; this file wires them together as Payload/Open.
package otaextract

import (
	"context"
	"fmt"

	"github.com/otaxtract/payload-extract/manifest"
)

// Payload ties a ByteSource to its validated Frame and decoded manifest.
// It is read-only and safe to share across every partition worker once
// built.
type Payload struct {
	Source   ByteSource
	Frame    *Frame
	Manifest *manifest.DeltaArchiveManifest
}

// OpenOptions controls how an input URI is turned into a Payload.
type OpenOptions struct {
	// UserAgent overrides the default HTTP User-Agent.
	UserAgent string
	// Cookie is forwarded verbatim as a single Cookie: header.
	Cookie string
	// Prefetch forces a one-shot full download for remote sources,
	// instead of per-operation ranged reads.
	Prefetch bool
	// ManifestSizeCap overrides DefaultManifestSizeCap; <= 0 means default.
	ManifestSizeCap int64
}

// Open resolves input (a local path or an http(s):// URL, either a bare
// payload.bin or a ZIP wrapping one) into a validated Payload.
func Open(ctx context.Context, input string, opts OpenOptions) (*Payload, error) {
	src, err := openByteSource(ctx, input, opts)
	if err != nil {
		return nil, err
	}

	payloadOffset, err := locatePayloadOffset(src)
	if err != nil {
		src.Close()
		return nil, err
	}

	frame, err := ParseFrame(src, payloadOffset, opts.ManifestSizeCap)
	if err != nil {
		src.Close()
		return nil, err
	}

	manifestBytes, err := frame.ReadManifestBytes(src)
	if err != nil {
		src.Close()
		return nil, err
	}

	m, err := manifest.Decode(manifestBytes)
	if err != nil {
		src.Close()
		return nil, NewError(KindManifestDecode, "", err)
	}

	return &Payload{Source: src, Frame: frame, Manifest: m}, nil
}

func (p *Payload) Close() error {
	return p.Source.Close()
}

// openByteSource builds the ByteSource for input without yet knowing
// whether it is ZIP-wrapped; ZIP detection happens afterwards against the
// same source so remote ZIP-wrapped payloads are located with ranged reads
// instead of a full download.
func openByteSource(ctx context.Context, input string, opts OpenOptions) (ByteSource, error) {
	if isHTTPURL(input) {
		if opts.Prefetch {
			return NewPrefetchedFromURL(ctx, input, opts.UserAgent, opts.Cookie)
		}
		src, err := NewHttpRange(ctx, input, opts.UserAgent, opts.Cookie)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return NewLocalFile(input)
}

func isHTTPURL(s string) bool {
	return len(s) >= 7 && (s[:7] == "http://" || (len(s) >= 8 && s[:8] == "https://"))
}

// locatePayloadOffset determines whether src is a bare payload.bin or a ZIP
// wrapping one, and returns the byte offset the payload itself starts at.
func locatePayloadOffset(src ByteSource) (int64, error) {
	magic := make([]byte, 4)
	if err := ReadFull(src, magic, 0); err != nil {
		return 0, fmt.Errorf("reading leading bytes: %w", err)
	}

	if string(magic) == PayloadMagic {
		return 0, nil
	}

	entry, err := LocatePayloadInZip(src)
	if err != nil {
		if IsKind(err, KindNotAZip) {
			return 0, NewError(KindInvalidMagic, "input is neither a bare payload.bin nor a ZIP archive", err)
		}
		return 0, err
	}
	return int64(entry.DataOffset), nil
}
