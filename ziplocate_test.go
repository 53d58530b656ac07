package otaextract

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"testing"
)

// prefetchedFrom wraps raw bytes in a ByteSource for locator tests without
// touching the filesystem.
func prefetchedFrom(t *testing.T, data []byte) ByteSource {
	t.Helper()
	src, err := NewPrefetchedFromReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { src.Close() })
	return src
}

func buildStoredZip(t *testing.T, name string, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	hdr := &zip.FileHeader{Name: name, Method: zip.Store}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// buildStoredZipWithZip64Locator takes an ordinary archive/zip-produced
// fixture and splices a ZIP64 end-of-central-directory record and its
// locator in immediately before the normal EOCD, mirroring the producers
// that tack on ZIP64 records defensively without flipping the 32-bit
// sentinel fields: resolveCentralDirectoryLocation always checks for the
// locator, sentinels or not.
func buildStoredZipWithZip64Locator(t *testing.T, name string, payload []byte) []byte {
	t.Helper()
	plain := buildStoredZip(t, name, payload)

	eocdIdx := bytes.LastIndex(plain, []byte{0x50, 0x4b, 0x05, 0x06})
	if eocdIdx < 0 {
		t.Fatal("test bug: EOCD not found in fixture")
	}
	eocd := plain[eocdIdx:]
	cdSize := uint64(binary.LittleEndian.Uint32(eocd[12:16]))
	cdOffset := uint64(binary.LittleEndian.Uint32(eocd[16:20]))
	totalEntries := uint64(binary.LittleEndian.Uint16(eocd[10:12]))

	body := plain[:eocdIdx]
	zip64EOCDOffset := uint64(len(body))

	var zip64EOCD bytes.Buffer
	binary.Write(&zip64EOCD, binary.LittleEndian, uint32(sigZIP64EOCD))
	binary.Write(&zip64EOCD, binary.LittleEndian, uint64(44)) // size of remaining record
	binary.Write(&zip64EOCD, binary.LittleEndian, uint16(45)) // version made by
	binary.Write(&zip64EOCD, binary.LittleEndian, uint16(45)) // version needed to extract
	binary.Write(&zip64EOCD, binary.LittleEndian, uint32(0))  // number of this disk
	binary.Write(&zip64EOCD, binary.LittleEndian, uint32(0))  // disk with start of central directory
	binary.Write(&zip64EOCD, binary.LittleEndian, totalEntries)
	binary.Write(&zip64EOCD, binary.LittleEndian, totalEntries)
	binary.Write(&zip64EOCD, binary.LittleEndian, cdSize)
	binary.Write(&zip64EOCD, binary.LittleEndian, cdOffset)

	var locator bytes.Buffer
	binary.Write(&locator, binary.LittleEndian, uint32(sigZIP64Locator))
	binary.Write(&locator, binary.LittleEndian, uint32(0)) // disk with ZIP64 EOCD
	binary.Write(&locator, binary.LittleEndian, zip64EOCDOffset)
	binary.Write(&locator, binary.LittleEndian, uint32(1)) // total disks

	out := append([]byte{}, body...)
	out = append(out, zip64EOCD.Bytes()...)
	out = append(out, locator.Bytes()...)
	out = append(out, eocd...)
	return out
}

func TestLocatePayloadInZipZip64Locator(t *testing.T) {
	payload := buildBarePayload(t, minimalManifestBytes(t), nil)
	zipBytes := buildStoredZipWithZip64Locator(t, "payload.bin", payload)

	src := prefetchedFrom(t, zipBytes)
	entry, err := LocatePayloadInZip(src)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Name != "payload.bin" {
		t.Fatalf("Name = %q", entry.Name)
	}

	got := make([]byte, 4)
	if err := ReadFull(src, got, int64(entry.DataOffset)); err != nil {
		t.Fatal(err)
	}
	if string(got) != PayloadMagic {
		t.Fatalf("data at DataOffset = %q, want %q", got, PayloadMagic)
	}
}

func TestLocatePayloadInZipStored(t *testing.T) {
	payload := buildBarePayload(t, minimalManifestBytes(t), nil)
	zipBytes := buildStoredZip(t, "payload.bin", payload)

	src := prefetchedFrom(t, zipBytes)
	entry, err := LocatePayloadInZip(src)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Name != "payload.bin" {
		t.Fatalf("Name = %q", entry.Name)
	}

	got := make([]byte, 4)
	if err := ReadFull(src, got, int64(entry.DataOffset)); err != nil {
		t.Fatal(err)
	}
	if string(got) != PayloadMagic {
		t.Fatalf("data at DataOffset = %q, want %q", got, PayloadMagic)
	}
}

func TestLocatePayloadInZipRejectsDeflate(t *testing.T) {
	payload := buildBarePayload(t, minimalManifestBytes(t), nil)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "payload.bin", Method: zip.Deflate})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	src := prefetchedFrom(t, buf.Bytes())
	_, err = LocatePayloadInZip(src)
	if !IsKind(err, KindPayloadNotInZip) {
		t.Fatalf("expected KindPayloadNotInZip for a deflated member, got %v", err)
	}
}

func TestLocatePayloadInZipMissingMember(t *testing.T) {
	zipBytes := buildStoredZip(t, "not_the_payload.bin", []byte("hello"))
	src := prefetchedFrom(t, zipBytes)
	_, err := LocatePayloadInZip(src)
	if !IsKind(err, KindPayloadNotInZip) {
		t.Fatalf("expected KindPayloadNotInZip, got %v", err)
	}
}

func TestLocatePayloadInZipNotAZip(t *testing.T) {
	src := prefetchedFrom(t, []byte("not a zip file at all"))
	_, err := LocatePayloadInZip(src)
	if !IsKind(err, KindNotAZip) {
		t.Fatalf("expected KindNotAZip, got %v", err)
	}
}
