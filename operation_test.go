package otaextract

import (
	"bytes"
	"compress/bzip2"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/otaxtract/payload-extract/manifest"
)

// buildBarePayload assembles a bare (non-ZIP) payload.bin: the 24-byte
// prologue, the encoded manifest, and the blob region. No metadata signature
// is written. A nil blob defaults to 4096 bytes of 0xAA.
func buildBarePayload(t *testing.T, manifestBytes []byte, blob []byte) []byte {
	t.Helper()
	if blob == nil {
		blob = bytes.Repeat([]byte{0xAA}, 4096)
	}
	var buf bytes.Buffer
	buf.WriteString(PayloadMagic)
	binary.Write(&buf, binary.BigEndian, uint64(2))
	binary.Write(&buf, binary.BigEndian, uint64(len(manifestBytes)))
	binary.Write(&buf, binary.BigEndian, uint32(0))
	buf.Write(manifestBytes)
	buf.Write(blob)
	return buf.Bytes()
}

// minimalManifestBytes encodes a single-partition "boot" manifest with one
// REPLACE op writing 4096 bytes of 0xAA, matching buildBarePayload's default
// blob. Used where the tests only care about locating/framing, not content.
func minimalManifestBytes(t *testing.T) []byte {
	t.Helper()
	blob := bytes.Repeat([]byte{0xAA}, 4096)
	sum := sha256.Sum256(blob)
	m := &manifest.DeltaArchiveManifest{
		BlockSize: 4096,
		Partitions: []*manifest.PartitionUpdate{{
			PartitionName: "boot",
			Operations: []*manifest.InstallOperation{{
				Type:       manifest.OpReplace,
				HasDataOff: true,
				DataOffset: 0,
				HasDataLen: true,
				DataLength: uint64(len(blob)),
				DstExtents: []manifest.Extent{{StartBlock: 0, NumBlocks: 1}},
				DataSha256: sum[:],
			}},
			NewPartitionInfo: &manifest.PartitionInfo{Size: uint64(len(blob)), Sha256: sum[:]},
		}},
	}
	return manifest.Encode(m)
}

func writeTempPayload(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// Scenario 1: local bare payload, single REPLACE partition.
func TestScenarioReplace(t *testing.T) {
	blob := bytes.Repeat([]byte{0xAA}, 4096)
	mb := minimalManifestBytes(t)
	path := writeTempPayload(t, buildBarePayload(t, mb, blob))

	payload, err := Open(context.Background(), path, OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer payload.Close()

	outDir := t.TempDir()
	outcomes, runErr := Run(payload, SchedulerOptions{OutDir: outDir, Threads: 1})
	if runErr != nil {
		t.Fatal(runErr)
	}
	if len(outcomes) != 1 || outcomes[0].Err != nil {
		t.Fatalf("outcomes = %+v", outcomes)
	}

	got, err := os.ReadFile(filepath.Join(outDir, "boot.img"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("boot.img mismatch: got %d bytes", len(got))
	}
}

// Scenario 2: REPLACE_BZ.
func TestScenarioReplaceBZ(t *testing.T) {
	raw := bytes.Repeat([]byte{0x55}, 8192)
	compressed := bzip2Compress(t, raw)
	sum := sha256.Sum256(compressed)

	m := &manifest.DeltaArchiveManifest{
		BlockSize: 4096,
		Partitions: []*manifest.PartitionUpdate{{
			PartitionName: "boot",
			Operations: []*manifest.InstallOperation{{
				Type:       manifest.OpReplaceBZ,
				HasDataOff: true,
				DataOffset: 0,
				HasDataLen: true,
				DataLength: uint64(len(compressed)),
				DstExtents: []manifest.Extent{{StartBlock: 0, NumBlocks: 2}},
				DataSha256: sum[:],
			}},
			NewPartitionInfo: &manifest.PartitionInfo{Size: uint64(len(raw))},
		}},
	}

	path := writeTempPayload(t, buildBarePayload(t, manifest.Encode(m), compressed))
	payload, err := Open(context.Background(), path, OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer payload.Close()

	outDir := t.TempDir()
	outcomes, runErr := Run(payload, SchedulerOptions{OutDir: outDir, Threads: 1})
	if runErr != nil || outcomes[0].Err != nil {
		t.Fatalf("run failed: %v %+v", runErr, outcomes)
	}

	got, err := os.ReadFile(filepath.Join(outDir, "boot.img"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("boot.img mismatch: got %d bytes, want %d", len(got), len(raw))
	}
}

// Scenario 3: ZERO op.
func TestScenarioZero(t *testing.T) {
	m := &manifest.DeltaArchiveManifest{
		BlockSize: 4096,
		Partitions: []*manifest.PartitionUpdate{{
			PartitionName: "cache",
			Operations: []*manifest.InstallOperation{{
				Type:       manifest.OpZero,
				DstExtents: []manifest.Extent{{StartBlock: 0, NumBlocks: 4}},
			}},
		}},
	}
	path := writeTempPayload(t, buildBarePayload(t, manifest.Encode(m), nil))
	payload, err := Open(context.Background(), path, OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer payload.Close()

	outDir := t.TempDir()
	outcomes, runErr := Run(payload, SchedulerOptions{OutDir: outDir, Threads: 1})
	if runErr != nil || outcomes[0].Err != nil {
		t.Fatalf("run failed: %v %+v", runErr, outcomes)
	}

	got, err := os.ReadFile(filepath.Join(outDir, "cache.img"))
	if err != nil {
		t.Fatal(err)
	}
	want := make([]byte, 16384)
	if !bytes.Equal(got, want) {
		t.Fatalf("cache.img not all-zero, len=%d", len(got))
	}
}

// Scenario 4: multi-partition filter.
func TestScenarioMultiPartitionFilter(t *testing.T) {
	mkPartition := func(name string) *manifest.PartitionUpdate {
		return &manifest.PartitionUpdate{
			PartitionName: name,
			Operations: []*manifest.InstallOperation{{
				Type:       manifest.OpZero,
				DstExtents: []manifest.Extent{{StartBlock: 0, NumBlocks: 1}},
			}},
		}
	}
	m := &manifest.DeltaArchiveManifest{
		BlockSize: 4096,
		Partitions: []*manifest.PartitionUpdate{
			mkPartition("boot"), mkPartition("system"), mkPartition("vendor"),
		},
	}
	path := writeTempPayload(t, buildBarePayload(t, manifest.Encode(m), nil))
	payload, err := Open(context.Background(), path, OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer payload.Close()

	outDir := t.TempDir()
	outcomes, runErr := Run(payload, SchedulerOptions{OutDir: outDir, Threads: 2, Images: []string{"boot", "vendor"}})
	if runErr != nil {
		t.Fatal(runErr)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected exactly 2 outcomes, got %d", len(outcomes))
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = true
	}
	if !names["boot.img"] || !names["vendor.img"] || names["system.img"] {
		t.Fatalf("unexpected output set: %v", names)
	}
}

// Output-hash mismatch fails only that partition and reports OutputHashMismatch.
func TestScenarioHashMismatch(t *testing.T) {
	blob := bytes.Repeat([]byte{0xAA}, 4096)
	m := &manifest.DeltaArchiveManifest{
		BlockSize: 4096,
		Partitions: []*manifest.PartitionUpdate{{
			PartitionName: "boot",
			Operations: []*manifest.InstallOperation{{
				Type:       manifest.OpReplace,
				HasDataOff: true,
				HasDataLen: true,
				DataLength: uint64(len(blob)),
				DstExtents: []manifest.Extent{{StartBlock: 0, NumBlocks: 1}},
			}},
			NewPartitionInfo: &manifest.PartitionInfo{
				Size:   uint64(len(blob)),
				Sha256: bytes.Repeat([]byte{0xFF}, 32), // deliberately wrong
			},
		}},
	}
	path := writeTempPayload(t, buildBarePayload(t, manifest.Encode(m), blob))
	payload, err := Open(context.Background(), path, OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer payload.Close()

	outDir := t.TempDir()
	outcomes, runErr := Run(payload, SchedulerOptions{OutDir: outDir, Threads: 1})
	if runErr != nil {
		t.Fatal(runErr)
	}
	if len(outcomes) != 1 || outcomes[0].Err == nil {
		t.Fatalf("expected a hash-mismatch failure, got %+v", outcomes)
	}
	if !IsKind(outcomes[0].Err, KindOutputHashMismatch) {
		t.Fatalf("expected KindOutputHashMismatch, got %v", outcomes[0].Err)
	}
	if code := WorstExitCode(runErr, outcomes); code != 4 {
		t.Fatalf("exit code = %d, want 4", code)
	}
}

// precomputedBzip2Fixture is 8192 bytes of 0x55 compressed with bzip2; the
// standard library only ships a bzip2 reader, not a writer, so the fixture
// is generated once and checked in rather than compressed at test time.
var precomputedBzip2Fixture = []byte{
	0x42, 0x5a, 0x68, 0x39, 0x31, 0x41, 0x59, 0x26, 0x53, 0x59, 0x55, 0x0a, 0x46, 0x09, 0x00, 0x00,
	0x12, 0x22, 0x00, 0x80, 0x04, 0x02, 0x00, 0x00, 0x08, 0x20, 0x00, 0x30, 0xcc, 0x05, 0x53, 0x6a,
	0x62, 0x05, 0x00, 0xf1, 0x77, 0x24, 0x53, 0x85, 0x09, 0x05, 0x50, 0xa4, 0x60, 0x90,
}

func bzip2Compress(t *testing.T, raw []byte) []byte {
	t.Helper()
	return precomputedBzip2Fixture
}

func init() {
	// Sanity: the fixture must decode back to 8192 bytes of 0x55 (verified
	// once here instead of trusting the literal).
	r := bzip2.NewReader(bytes.NewReader(precomputedBzip2Fixture))
	var buf bytes.Buffer
	buf.ReadFrom(r)
	want := bytes.Repeat([]byte{0x55}, 8192)
	if !bytes.Equal(buf.Bytes(), want) {
		panic("precomputedBzip2Fixture does not decode to the expected fixture")
	}
}
