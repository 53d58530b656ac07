package manifest

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Decode parses a DeltaArchiveManifest from its tag/length/varint wire
// encoding. Unknown fields are skipped by wire type so newer payloads with
// fields this decoder doesn't know about still parse.
func Decode(data []byte) (*DeltaArchiveManifest, error) {
	m := &DeltaArchiveManifest{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("manifest: malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case 3: // block_size
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.BlockSize = uint32(v)
			b = b[n:]
		case 4: // signatures_offset
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.SignaturesOffset = v
			b = b[n:]
		case 5: // signatures_size
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.SignaturesSize = v
			b = b[n:]
		case 12: // minor_version
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.MinorVersion = uint32(v)
			b = b[n:]
		case 13: // partitions
			msg, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			pu, err := decodePartitionUpdate(msg)
			if err != nil {
				return nil, fmt.Errorf("manifest: partition %d: %w", len(m.Partitions), err)
			}
			m.Partitions = append(m.Partitions, pu)
			b = b[n:]
		case 14: // max_timestamp
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.MaxTimestamp = int64(v)
			b = b[n:]
		case 16: // partial_update
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			m.PartialUpdate = v != 0
			m.HasPartialUpdate = true
			b = b[n:]
		case 17: // apex_info
			msg, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			ai, err := decodeApexInfo(msg)
			if err != nil {
				return nil, fmt.Errorf("manifest: apex_info: %w", err)
			}
			m.ApexInfo = append(m.ApexInfo, ai)
			b = b[n:]
		case 18: // security_patch_level
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			m.SecurityPatchLevel = string(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("manifest: malformed field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return m, nil
}

func decodePartitionUpdate(data []byte) (*PartitionUpdate, error) {
	pu := &PartitionUpdate{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case 1: // partition_name
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			pu.PartitionName = string(v)
			b = b[n:]
		case 2: // run_postinstall
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			pu.RunPostinstall = v != 0
			b = b[n:]
		case 6: // old_partition_info
			msg, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			pi, err := decodePartitionInfo(msg)
			if err != nil {
				return nil, fmt.Errorf("old_partition_info: %w", err)
			}
			pu.OldPartitionInfo = pi
			b = b[n:]
		case 7: // new_partition_info
			msg, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			pi, err := decodePartitionInfo(msg)
			if err != nil {
				return nil, fmt.Errorf("new_partition_info: %w", err)
			}
			pu.NewPartitionInfo = pi
			b = b[n:]
		case 8: // operations
			msg, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			op, err := decodeInstallOperation(msg)
			if err != nil {
				return nil, fmt.Errorf("operation %d: %w", len(pu.Operations), err)
			}
			pu.Operations = append(pu.Operations, op)
			b = b[n:]
		case 17: // version
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			pu.Version = string(v)
			b = b[n:]
		case 18: // merge_operations
			msg, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			op, err := decodeInstallOperation(msg)
			if err != nil {
				return nil, fmt.Errorf("merge_operation %d: %w", len(pu.MergeOperations), err)
			}
			pu.MergeOperations = append(pu.MergeOperations, op)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("malformed field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if pu.PartitionName == "" {
		return nil, fmt.Errorf("partition_name missing")
	}
	return pu, nil
}

func decodePartitionInfo(data []byte) (*PartitionInfo, error) {
	pi := &PartitionInfo{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1: // size
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			pi.Size = v
			b = b[n:]
		case 2: // hash
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			pi.Sha256 = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("malformed field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return pi, nil
}

func decodeInstallOperation(data []byte) (*InstallOperation, error) {
	op := &InstallOperation{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1: // type
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			op.Type = OpType(v)
			b = b[n:]
		case 2: // data_offset
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			op.DataOffset = v
			op.HasDataOff = true
			b = b[n:]
		case 3: // data_length
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			op.DataLength = v
			op.HasDataLen = true
			b = b[n:]
		case 4: // src_extents
			msg, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			ext, err := decodeExtent(msg)
			if err != nil {
				return nil, fmt.Errorf("src_extent: %w", err)
			}
			op.SrcExtents = append(op.SrcExtents, ext)
			b = b[n:]
		case 5: // src_length
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			op.SrcLength = v
			b = b[n:]
		case 6: // dst_extents
			msg, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			ext, err := decodeExtent(msg)
			if err != nil {
				return nil, fmt.Errorf("dst_extent: %w", err)
			}
			op.DstExtents = append(op.DstExtents, ext)
			b = b[n:]
		case 7: // dst_length
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			op.DstLength = v
			b = b[n:]
		case 8: // data_sha256_hash
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			op.DataSha256 = append([]byte(nil), v...)
			b = b[n:]
		case 9: // src_sha256_hash
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			op.SrcSha256 = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("malformed field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return op, nil
}

func decodeExtent(data []byte) (Extent, error) {
	var ext Extent
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ext, fmt.Errorf("malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n, err := consumeVarint(b)
			if err != nil {
				return ext, err
			}
			ext.StartBlock = v
			b = b[n:]
		case 2:
			v, n, err := consumeVarint(b)
			if err != nil {
				return ext, err
			}
			ext.NumBlocks = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ext, fmt.Errorf("malformed field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return ext, nil
}

func decodeApexInfo(data []byte) (*ApexInfo, error) {
	ai := &ApexInfo{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n, err := consumeBytes(b)
			if err != nil {
				return nil, err
			}
			ai.PackageName = string(v)
			b = b[n:]
		case 2:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			ai.Version = int64(v)
			b = b[n:]
		case 3:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			ai.IsCompressed = v != 0
			b = b[n:]
		case 4:
			v, n, err := consumeVarint(b)
			if err != nil {
				return nil, err
			}
			ai.DecompressedSize = int64(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("malformed field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return ai, nil
}

func consumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("malformed varint: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBytes(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("malformed length-delimited field: %w", protowire.ParseError(n))
	}
	return v, n, nil
}
