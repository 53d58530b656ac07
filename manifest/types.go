// Package manifest decodes the update_engine DeltaArchiveManifest catalogue
// that sits at the head of an OTA payload: the tag/length/varint-framed
// record listing every partition and its install operations.
package manifest

// OpType is the install-operation type enum. Values are contractual and
// match the on-disk encoding used by update_engine payloads.
type OpType int32

const (
	OpReplace          OpType = 0
	OpReplaceBZ        OpType = 1
	OpMove             OpType = 2 // deprecated, rejected
	OpBsdiff           OpType = 3 // deprecated, rejected
	OpSourceCopy       OpType = 4
	OpSourceBsdiff     OpType = 5
	OpZero             OpType = 6
	OpDiscard          OpType = 7
	OpReplaceXZ        OpType = 8
	OpPuffdiff         OpType = 9
	OpBrotliBsdiff     OpType = 10
	OpZucchini         OpType = 11
	OpLz4diffBsdiff    OpType = 12
	OpLz4diffPuffdiff  OpType = 13
	OpZstd             OpType = 14
)

func (t OpType) String() string {
	switch t {
	case OpReplace:
		return "REPLACE"
	case OpReplaceBZ:
		return "REPLACE_BZ"
	case OpMove:
		return "MOVE"
	case OpBsdiff:
		return "BSDIFF"
	case OpSourceCopy:
		return "SOURCE_COPY"
	case OpSourceBsdiff:
		return "SOURCE_BSDIFF"
	case OpZero:
		return "ZERO"
	case OpDiscard:
		return "DISCARD"
	case OpReplaceXZ:
		return "REPLACE_XZ"
	case OpPuffdiff:
		return "PUFFDIFF"
	case OpBrotliBsdiff:
		return "BROTLI_BSDIFF"
	case OpZucchini:
		return "ZUCCHINI"
	case OpLz4diffBsdiff:
		return "LZ4DIFF_BSDIFF"
	case OpLz4diffPuffdiff:
		return "LZ4DIFF_PUFFDIFF"
	case OpZstd:
		return "ZSTD"
	default:
		return "UNKNOWN"
	}
}

// IsBsdiffFamily reports whether t is one of the SOURCE_BSDIFF-style
// diff-against-old-image variants.
func (t OpType) IsBsdiffFamily() bool {
	switch t {
	case OpSourceBsdiff, OpPuffdiff, OpBrotliBsdiff, OpZucchini, OpLz4diffBsdiff, OpLz4diffPuffdiff:
		return true
	default:
		return false
	}
}

// Extent is a contiguous block range on a partition.
type Extent struct {
	StartBlock uint64
	NumBlocks  uint64
}

// PartitionInfo carries the declared size and digest of one side (old or
// new) of a partition update.
type PartitionInfo struct {
	Size   uint64
	Sha256 []byte
}

// InstallOperation is one atomic modification of a destination extent list.
type InstallOperation struct {
	Type         OpType
	DataOffset   uint64
	HasDataOff   bool
	DataLength   uint64
	HasDataLen   bool
	SrcExtents   []Extent
	DstExtents   []Extent
	SrcSha256    []byte
	DataSha256   []byte
	SrcLength    uint64
	DstLength    uint64
}

// PartitionUpdate describes every install operation needed to build one
// partition image, plus the declared old/new image metadata.
type PartitionUpdate struct {
	PartitionName    string
	RunPostinstall   bool
	Operations       []*InstallOperation
	NewPartitionInfo *PartitionInfo
	OldPartitionInfo *PartitionInfo
	Version          string
	MergeOperations  []*InstallOperation
}

// ApexInfo describes one APEX package carried alongside the partitions.
type ApexInfo struct {
	PackageName       string
	Version           int64
	IsCompressed      bool
	DecompressedSize  int64
}

// DeltaArchiveManifest is the decoded partition catalogue.
type DeltaArchiveManifest struct {
	BlockSize           uint32
	SignaturesOffset    uint64
	SignaturesSize      uint64
	MinorVersion        uint32
	Partitions          []*PartitionUpdate
	SecurityPatchLevel  string
	PartialUpdate       bool
	HasPartialUpdate    bool
	MaxTimestamp        int64
	ApexInfo            []*ApexInfo
}

// EffectiveBlockSize returns BlockSize, defaulting to 4096 when the field
// was absent from the wire encoding (proto2 optional-with-default semantics).
func (m *DeltaArchiveManifest) EffectiveBlockSize() uint32 {
	if m.BlockSize == 0 {
		return 4096
	}
	return m.BlockSize
}

// Partition returns the PartitionUpdate named name, or nil.
func (m *DeltaArchiveManifest) Partition(name string) *PartitionUpdate {
	for _, p := range m.Partitions {
		if p.PartitionName == name {
			return p
		}
	}
	return nil
}

// TargetSize returns the size the output image for pu should be truncated
// to: the declared new size when present, else the maximum end-block across
// all dst_extents times blockSize.
func (pu *PartitionUpdate) TargetSize(blockSize uint32) uint64 {
	if pu.NewPartitionInfo != nil && pu.NewPartitionInfo.Size != 0 {
		return pu.NewPartitionInfo.Size
	}
	var maxEnd uint64
	for _, op := range pu.Operations {
		for _, ext := range op.DstExtents {
			end := (ext.StartBlock + ext.NumBlocks) * uint64(blockSize)
			if end > maxEnd {
				maxEnd = end
			}
		}
	}
	return maxEnd
}
