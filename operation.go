package otaextract

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/otaxtract/payload-extract/manifest"
)

// PartitionPlan is everything one worker needs to extract and verify a
// single partition; it owns no state beyond what it was constructed with,
// so it is safe to build once per queued item; each PartitionUpdate is
// owned by exactly one worker for the plan's lifetime.
type PartitionPlan struct {
	Payload      *Payload
	Partition    *manifest.PartitionUpdate
	OutDir       string
	OldDir       string // "" disables differential mode
	NoVerify     bool
	Cancel       *CancelFlag
	Progress     *ProgressBus
	PartitionIdx int
}

// OutPath returns the destination image path for this plan's partition.
func (p *PartitionPlan) OutPath() string {
	return filepath.Join(p.OutDir, p.Partition.PartitionName+".img")
}

func (p *PartitionPlan) oldPath() string {
	return filepath.Join(p.OldDir, p.Partition.PartitionName+".img")
}

// Apply runs every install operation for p.Partition, in declared order
// (mandatory: extents may overlap between operations),
// against a freshly created/truncated output image, then verifies it
// unless NoVerify is set.
func (p *PartitionPlan) Apply() error {
	blockSize := p.Payload.Manifest.EffectiveBlockSize()
	targetSize := int64(p.Partition.TargetSize(blockSize))

	outPath := p.OutPath()
	out, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return NewPartitionError(KindIoWrite, p.Partition.PartitionName, "creating output image", err)
	}
	if err := out.Truncate(targetSize); err != nil {
		out.Close()
		os.Remove(outPath)
		return NewPartitionError(KindIoWrite, p.Partition.PartitionName, "truncating output image", err)
	}

	var old *os.File
	if p.OldDir != "" && partitionNeedsOldImage(p.Partition) {
		old, err = os.Open(p.oldPath())
		if err != nil {
			out.Close()
			os.Remove(outPath)
			return NewPartitionError(KindIoWrite, p.Partition.PartitionName, "opening old image for differential OTA", err)
		}
		defer old.Close()
	}

	total := len(p.Partition.Operations)
	if p.Progress != nil {
		p.Progress.StartPartition(p.PartitionIdx, p.Partition.PartitionName, total)
	}

	for i, op := range p.Partition.Operations {
		if p.Cancel != nil && p.Cancel.Cancelled() {
			out.Close()
			os.Remove(outPath)
			return NewPartitionError(KindCancelled, p.Partition.PartitionName, "", nil)
		}

		if err := p.applyOne(out, old, op, blockSize); err != nil {
			out.Close()
			return NewPartitionError(errKind(err), p.Partition.PartitionName, fmt.Sprintf("operation %d (%s)", i, op.Type), err)
		}

		if p.Progress != nil {
			p.Progress.CompleteOp(p.PartitionIdx)
		}
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return NewPartitionError(KindIoWrite, p.Partition.PartitionName, "fsync", err)
	}
	if err := out.Close(); err != nil {
		return NewPartitionError(KindIoWrite, p.Partition.PartitionName, "close", err)
	}

	if !p.NoVerify {
		if err := VerifyPartition(outPath, p.Partition.NewPartitionInfo); err != nil {
			return err
		}
	}

	return nil
}

func errKind(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindIoWrite
}

func partitionNeedsOldImage(pu *manifest.PartitionUpdate) bool {
	for _, op := range pu.Operations {
		if op.Type == manifest.OpSourceCopy || op.Type.IsBsdiffFamily() {
			return true
		}
	}
	return false
}

func (p *PartitionPlan) applyOne(out, old *os.File, op *manifest.InstallOperation, blockSize uint32) error {
	switch op.Type {
	case manifest.OpMove:
		return NewError(KindUnsupportedOp, "MOVE is deprecated in payload format v2", nil)
	case manifest.OpBsdiff:
		return NewError(KindUnsupportedOp, "BSDIFF (v1) is deprecated in payload format v2", nil)

	case manifest.OpZero, manifest.OpDiscard:
		return writeZeroExtents(out, op.DstExtents, blockSize)

	case manifest.OpReplace, manifest.OpReplaceBZ, manifest.OpReplaceXZ, manifest.OpZstd:
		return p.applyReplaceFamily(out, op, blockSize)

	case manifest.OpSourceCopy:
		return applySourceCopy(out, old, op, blockSize)

	default:
		if op.Type.IsBsdiffFamily() {
			return applyBsdiffFamily(out, old, op, blockSize)
		}
		return ErrUnsupportedOp(op.Type.String())
	}
}

func (p *PartitionPlan) applyReplaceFamily(out *os.File, op *manifest.InstallOperation, blockSize uint32) error {
	if len(op.DstExtents) == 0 {
		return NewError(KindOpLengthMismatch, "empty dst_extents", nil)
	}

	data, err := p.fetchOperationData(op)
	if err != nil {
		return err
	}

	if !p.NoVerify && len(op.DataSha256) > 0 {
		sum := sha256.Sum256(data)
		if !bytes.Equal(sum[:], op.DataSha256) {
			return NewError(KindSourceHashMismatch, "operation data hash mismatch", nil)
		}
	}

	stream, err := decodeOperationData(op.Type, data)
	if err != nil {
		return err
	}
	defer stream.Close()

	return writeDecodedToExtents(out, stream, op.DstExtents, blockSize, codecNameFor(op.Type))
}

// fetchOperationData reads an operation's raw blob bytes from the shared
// source, rejecting reads that would run past the blob region before doing
// any I/O.
func (p *PartitionPlan) fetchOperationData(op *manifest.InstallOperation) ([]byte, error) {
	if !op.HasDataLen || op.DataLength == 0 {
		return nil, nil
	}

	blobLen := p.Payload.Source.Len() - p.Payload.Frame.BlobOffset
	if int64(op.DataOffset+op.DataLength) > blobLen {
		return nil, NewError(KindOpLengthMismatch, "data_offset+data_length exceeds blob region", nil)
	}

	buf := make([]byte, op.DataLength)
	off := p.Payload.Frame.BlobOffset + int64(op.DataOffset)
	if err := ReadFull(p.Payload.Source, buf, off); err != nil {
		return nil, NewError(KindNetworkTransient, "reading operation data", err)
	}
	return buf, nil
}

// writeDecodedToExtents streams a decoded operation's bytes across its
// dst_extents in order; the total decoded length must equal the sum of
// extent byte lengths exactly, or it's a fatal OpLengthMismatch.
func writeDecodedToExtents(out *os.File, stream io.Reader, extents []manifest.Extent, blockSize uint32, codecName string) error {
	for _, ext := range extents {
		want := int64(ext.NumBlocks) * int64(blockSize)
		if _, err := out.Seek(int64(ext.StartBlock)*int64(blockSize), io.SeekStart); err != nil {
			return NewError(KindIoWrite, "seek", err)
		}
		n, err := copyDecoded(out, io.LimitReader(stream, want), codecName)
		if err != nil {
			return err
		}
		if n != want {
			return NewError(KindOpLengthMismatch, fmt.Sprintf("extent wanted %d decoded bytes, got %d", want, n), nil)
		}
	}

	// Any remaining byte means the decompressed payload was longer than
	// the sum of its extents.
	var extra [1]byte
	if n, _ := stream.Read(extra[:]); n > 0 {
		return NewError(KindOpLengthMismatch, "decoded stream longer than declared extents", nil)
	}
	return nil
}

func writeZeroExtents(out *os.File, extents []manifest.Extent, blockSize uint32) error {
	zero := make([]byte, 256*1024)
	for _, ext := range extents {
		if _, err := out.Seek(int64(ext.StartBlock)*int64(blockSize), io.SeekStart); err != nil {
			return NewError(KindIoWrite, "seek", err)
		}
		remaining := int64(ext.NumBlocks) * int64(blockSize)
		for remaining > 0 {
			n := int64(len(zero))
			if n > remaining {
				n = remaining
			}
			if _, err := out.Write(zero[:n]); err != nil {
				return NewError(KindIoWrite, "writing zero extent", err)
			}
			remaining -= n
		}
	}
	return nil
}

func applySourceCopy(out, old *os.File, op *manifest.InstallOperation, blockSize uint32) error {
	if len(op.DstExtents) == 0 {
		return NewError(KindOpLengthMismatch, "empty dst_extents", nil)
	}
	if len(op.SrcExtents) != len(op.DstExtents) {
		return NewError(KindOpLengthMismatch, "SOURCE_COPY src/dst extent count mismatch", nil)
	}
	if old == nil {
		return NewError(KindIoWrite, "SOURCE_COPY requires an old image (pass --old)", nil)
	}

	var hasher hash.Hash
	if len(op.SrcSha256) > 0 {
		hasher = sha256.New()
	}

	for i, srcExt := range op.SrcExtents {
		dstExt := op.DstExtents[i]
		if srcExt.NumBlocks != dstExt.NumBlocks {
			return NewError(KindOpLengthMismatch, "SOURCE_COPY extent pair length mismatch", nil)
		}
		n := int64(srcExt.NumBlocks) * int64(blockSize)

		buf := make([]byte, n)
		if _, err := old.ReadAt(buf, int64(srcExt.StartBlock)*int64(blockSize)); err != nil {
			return NewError(KindIoWrite, "reading source extent", err)
		}
		if hasher != nil {
			hasher.Write(buf)
		}
		if _, err := out.Seek(int64(dstExt.StartBlock)*int64(blockSize), io.SeekStart); err != nil {
			return NewError(KindIoWrite, "seek", err)
		}
		if _, err := out.Write(buf); err != nil {
			return NewError(KindIoWrite, "writing dest extent", err)
		}
	}

	if hasher != nil {
		got := hasher.Sum(nil)
		if !bytes.Equal(got, op.SrcSha256) {
			return NewError(KindSourceHashMismatch, "SOURCE_COPY source hash mismatch", nil)
		}
	}
	return nil
}

// applyBsdiffFamily is reached for SOURCE_BSDIFF/PUFFDIFF/BROTLI_BSDIFF/
// ZUCCHINI/LZ4DIFF_*. No diff-applier library ships with this build (see
// DESIGN.md); a payload that needs one fails with a clearly named
// UnsupportedOp rather than silently producing a wrong image.
func applyBsdiffFamily(out, old *os.File, op *manifest.InstallOperation, blockSize uint32) error {
	return ErrUnsupportedOp(op.Type.String())
}

func codecNameFor(t manifest.OpType) string {
	switch t {
	case manifest.OpReplaceBZ:
		return "bzip2"
	case manifest.OpReplaceXZ:
		return "xz"
	case manifest.OpZstd:
		return "zstd"
	default:
		return "raw"
	}
}

