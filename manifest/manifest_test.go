package manifest

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := &DeltaArchiveManifest{
		BlockSize:    4096,
		MinorVersion: 0,
		MaxTimestamp: 1710000000,
		Partitions: []*PartitionUpdate{
			{
				PartitionName: "boot",
				NewPartitionInfo: &PartitionInfo{
					Size:   4096,
					Sha256: []byte{0xde, 0xad, 0xbe, 0xef},
				},
				Operations: []*InstallOperation{
					{
						Type:       OpReplace,
						HasDataOff: true,
						HasDataLen: true,
						DataLength: 4096,
						DstExtents: []Extent{{StartBlock: 0, NumBlocks: 1}},
						DataSha256: []byte{1, 2, 3},
					},
				},
			},
			{
				PartitionName: "vendor",
				Operations: []*InstallOperation{
					{
						Type:       OpZero,
						DstExtents: []Extent{{StartBlock: 0, NumBlocks: 4}},
					},
				},
			},
		},
		ApexInfo: []*ApexInfo{
			{PackageName: "com.android.example", Version: 3},
		},
	}

	encoded := Encode(want)
	got, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	base := &DeltaArchiveManifest{BlockSize: 4096}
	encoded := Encode(base)

	// Append an unknown varint field (field 99) and an unknown
	// length-delimited field (field 100); Decode must skip both instead
	// of erroring, per the forward-compatibility requirement.
	encoded = append(encoded, 0x98, 0x06, 0x01) // tag for field 99, varint type, value 1
	encoded = append(encoded, 0xa2, 0x06, 0x03, 'f', 'o', 'o')

	got, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode with unknown fields: %v", err)
	}
	if got.EffectiveBlockSize() != 4096 {
		t.Fatalf("block size = %d, want 4096", got.EffectiveBlockSize())
	}
}

func TestEffectiveBlockSizeDefault(t *testing.T) {
	m := &DeltaArchiveManifest{}
	if m.EffectiveBlockSize() != 4096 {
		t.Fatalf("default block size = %d, want 4096", m.EffectiveBlockSize())
	}
}

func TestTargetSizeFallsBackToExtents(t *testing.T) {
	pu := &PartitionUpdate{
		Operations: []*InstallOperation{
			{DstExtents: []Extent{{StartBlock: 2, NumBlocks: 3}}},
		},
	}
	if got := pu.TargetSize(4096); got != 5*4096 {
		t.Fatalf("TargetSize = %d, want %d", got, 5*4096)
	}
}

func TestOpTypeString(t *testing.T) {
	cases := map[OpType]string{
		OpReplace:      "REPLACE",
		OpReplaceBZ:    "REPLACE_BZ",
		OpReplaceXZ:    "REPLACE_XZ",
		OpZstd:         "ZSTD",
		OpZero:         "ZERO",
		OpDiscard:      "DISCARD",
		OpSourceCopy:   "SOURCE_COPY",
		OpSourceBsdiff: "SOURCE_BSDIFF",
	}
	for in, want := range cases {
		if got := in.String(); got != want {
			t.Errorf("OpType(%d).String() = %q, want %q", in, got, want)
		}
	}
}

func TestIsBsdiffFamily(t *testing.T) {
	for _, t2 := range []OpType{OpSourceBsdiff, OpPuffdiff, OpBrotliBsdiff, OpZucchini, OpLz4diffBsdiff, OpLz4diffPuffdiff} {
		if !t2.IsBsdiffFamily() {
			t.Errorf("%s should be in bsdiff family", t2)
		}
	}
	for _, t2 := range []OpType{OpReplace, OpZero, OpSourceCopy} {
		if t2.IsBsdiffFamily() {
			t.Errorf("%s should not be in bsdiff family", t2)
		}
	}
}
