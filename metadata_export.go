package otaextract

import (
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/otaxtract/payload-extract/manifest"
)

// metadataExtent mirrors manifest.Extent in a JSON-friendly shape.
type metadataExtent struct {
	StartBlock uint64 `json:"start_block"`
	NumBlocks  uint64 `json:"num_blocks"`
}

type metadataOperation struct {
	Type       string           `json:"type"`
	DataOffset *uint64          `json:"data_offset,omitempty"`
	DataLength *uint64          `json:"data_length,omitempty"`
	SrcExtents []metadataExtent `json:"src_extents,omitempty"`
	DstExtents []metadataExtent `json:"dst_extents,omitempty"`
	DataSha256 string           `json:"data_sha256,omitempty"`
	SrcSha256  string           `json:"src_sha256,omitempty"`
}

type metadataPartitionInfo struct {
	Size   uint64 `json:"size"`
	Sha256 string `json:"sha256,omitempty"`
}

type metadataPartition struct {
	Name             string                 `json:"name"`
	RunPostinstall   bool                   `json:"run_postinstall"`
	NewPartitionInfo *metadataPartitionInfo `json:"new_partition_info,omitempty"`
	OldPartitionInfo *metadataPartitionInfo `json:"old_partition_info,omitempty"`
	OperationCount   int                    `json:"operation_count"`
	Operations       []metadataOperation    `json:"operations,omitempty"`
}

// metadataDocument is the JSON shape produced by --metadata. Signature
// verification is out of scope, so SignaturesOffset/Size are reported
// as-is with no attempt to validate them.
type metadataDocument struct {
	BlockSize          uint32               `json:"block_size"`
	MinorVersion       uint32               `json:"minor_version"`
	MaxTimestamp       int64                `json:"max_timestamp,omitempty"`
	SecurityPatchLevel string               `json:"security_patch_level,omitempty"`
	SignaturesOffset   uint64               `json:"signatures_offset,omitempty"`
	SignaturesSize     uint64               `json:"signatures_size,omitempty"`
	Partitions         []metadataPartition  `json:"partitions"`
}

func toMetadataExtents(extents []manifest.Extent) []metadataExtent {
	if len(extents) == 0 {
		return nil
	}
	out := make([]metadataExtent, len(extents))
	for i, e := range extents {
		out[i] = metadataExtent{StartBlock: e.StartBlock, NumBlocks: e.NumBlocks}
	}
	return out
}

func toMetadataPartitionInfo(info *manifest.PartitionInfo) *metadataPartitionInfo {
	if info == nil {
		return nil
	}
	out := &metadataPartitionInfo{Size: info.Size}
	if len(info.Sha256) > 0 {
		out.Sha256 = base64.StdEncoding.EncodeToString(info.Sha256)
	}
	return out
}

// WriteMetadataJSON renders m as JSON to w. When full is false the per-
// operation detail is omitted and only each partition's operation count is
// reported, matching the distinction the CLI draws between --metadata and
// --metadata=full.
func WriteMetadataJSON(w io.Writer, m *manifest.DeltaArchiveManifest, full bool) error {
	doc := metadataDocument{
		BlockSize:          m.EffectiveBlockSize(),
		MinorVersion:       m.MinorVersion,
		MaxTimestamp:       m.MaxTimestamp,
		SecurityPatchLevel: m.SecurityPatchLevel,
		SignaturesOffset:   m.SignaturesOffset,
		SignaturesSize:     m.SignaturesSize,
	}

	for _, pu := range m.Partitions {
		mp := metadataPartition{
			Name:             pu.PartitionName,
			RunPostinstall:   pu.RunPostinstall,
			NewPartitionInfo: toMetadataPartitionInfo(pu.NewPartitionInfo),
			OldPartitionInfo: toMetadataPartitionInfo(pu.OldPartitionInfo),
			OperationCount:   len(pu.Operations),
		}
		if full {
			mp.Operations = make([]metadataOperation, len(pu.Operations))
			for i, op := range pu.Operations {
				mo := metadataOperation{
					Type:       op.Type.String(),
					SrcExtents: toMetadataExtents(op.SrcExtents),
					DstExtents: toMetadataExtents(op.DstExtents),
				}
				if op.HasDataOff {
					v := op.DataOffset
					mo.DataOffset = &v
				}
				if op.HasDataLen {
					v := op.DataLength
					mo.DataLength = &v
				}
				if len(op.DataSha256) > 0 {
					mo.DataSha256 = base64.StdEncoding.EncodeToString(op.DataSha256)
				}
				if len(op.SrcSha256) > 0 {
					mo.SrcSha256 = base64.StdEncoding.EncodeToString(op.SrcSha256)
				}
				mp.Operations[i] = mo
			}
		}
		doc.Partitions = append(doc.Partitions, mp)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
