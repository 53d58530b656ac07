package manifest

import "google.golang.org/protobuf/encoding/protowire"

// Encode serializes m back to the tag/length/varint wire encoding. It exists
// to let tests build synthetic payloads without depending on a real
// update_engine toolchain; the engine itself only ever calls Decode.
func Encode(m *DeltaArchiveManifest) []byte {
	var b []byte
	if m.BlockSize != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.BlockSize))
	}
	if m.SignaturesOffset != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, m.SignaturesOffset)
	}
	if m.SignaturesSize != 0 {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, m.SignaturesSize)
	}
	if m.MinorVersion != 0 {
		b = protowire.AppendTag(b, 12, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.MinorVersion))
	}
	for _, pu := range m.Partitions {
		b = protowire.AppendTag(b, 13, protowire.BytesType)
		b = protowire.AppendBytes(b, encodePartitionUpdate(pu))
	}
	if m.MaxTimestamp != 0 {
		b = protowire.AppendTag(b, 14, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.MaxTimestamp))
	}
	if m.HasPartialUpdate {
		b = protowire.AppendTag(b, 16, protowire.VarintType)
		b = protowire.AppendVarint(b, boolVarint(m.PartialUpdate))
	}
	for _, ai := range m.ApexInfo {
		b = protowire.AppendTag(b, 17, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeApexInfo(ai))
	}
	if m.SecurityPatchLevel != "" {
		b = protowire.AppendTag(b, 18, protowire.BytesType)
		b = protowire.AppendString(b, m.SecurityPatchLevel)
	}
	return b
}

func encodePartitionUpdate(pu *PartitionUpdate) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, pu.PartitionName)
	if pu.RunPostinstall {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, boolVarint(pu.RunPostinstall))
	}
	if pu.OldPartitionInfo != nil {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, encodePartitionInfo(pu.OldPartitionInfo))
	}
	if pu.NewPartitionInfo != nil {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, encodePartitionInfo(pu.NewPartitionInfo))
	}
	for _, op := range pu.Operations {
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeInstallOperation(op))
	}
	if pu.Version != "" {
		b = protowire.AppendTag(b, 17, protowire.BytesType)
		b = protowire.AppendString(b, pu.Version)
	}
	for _, op := range pu.MergeOperations {
		b = protowire.AppendTag(b, 18, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeInstallOperation(op))
	}
	return b
}

func encodePartitionInfo(pi *PartitionInfo) []byte {
	var b []byte
	if pi.Size != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, pi.Size)
	}
	if len(pi.Sha256) != 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, pi.Sha256)
	}
	return b
}

func encodeInstallOperation(op *InstallOperation) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(op.Type))
	if op.HasDataOff {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, op.DataOffset)
	}
	if op.HasDataLen {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, op.DataLength)
	}
	for _, ext := range op.SrcExtents {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeExtent(ext))
	}
	if op.SrcLength != 0 {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, op.SrcLength)
	}
	for _, ext := range op.DstExtents {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeExtent(ext))
	}
	if op.DstLength != 0 {
		b = protowire.AppendTag(b, 7, protowire.VarintType)
		b = protowire.AppendVarint(b, op.DstLength)
	}
	if len(op.DataSha256) != 0 {
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		b = protowire.AppendBytes(b, op.DataSha256)
	}
	if len(op.SrcSha256) != 0 {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, op.SrcSha256)
	}
	return b
}

func encodeExtent(ext Extent) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, ext.StartBlock)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, ext.NumBlocks)
	return b
}

func encodeApexInfo(ai *ApexInfo) []byte {
	var b []byte
	if ai.PackageName != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, ai.PackageName)
	}
	if ai.Version != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ai.Version))
	}
	if ai.IsCompressed {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, boolVarint(ai.IsCompressed))
	}
	if ai.DecompressedSize != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ai.DecompressedSize))
	}
	return b
}

func boolVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}
