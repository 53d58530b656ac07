package otaextract

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	sigEOCD         = 0x06054b50
	sigZIP64Locator = 0x07064b50
	sigZIP64EOCD    = 0x06064b50
	sigCentralDir   = 0x02014b50
	sigLocalHeader  = 0x04034b50

	maxEOCDCommentScan = 65557 // 22-byte EOCD record + max 65535-byte comment
)

// ZipEntry is the transient record describing the payload.bin member found
// inside an outer ZIP.
type ZipEntry struct {
	Name               string
	CompressedSize     uint64
	UncompressedSize   uint64
	LocalHeaderOffset  uint64
	DataOffset         uint64
	CompressionMethod  uint16
}

// LocatePayloadInZip walks src's End-of-Central-Directory, central
// directory, and (if present) the local file header of a "payload.bin"
// member, returning the offset at which the payload's own bytes begin.
// It does not read the payload itself. ZIP64 is handled by checking both
// the sentinel 0xFFFFFFFF fields and an explicit ZIP64 EOCD locator, since
// real-world producers set these inconsistently.
func LocatePayloadInZip(src ByteSource) (*ZipEntry, error) {
	eocd, eocdPos, err := findEOCD(src)
	if err != nil {
		return nil, err
	}

	cdOffset, cdSize, totalEntries, err := resolveCentralDirectoryLocation(src, eocd, eocdPos)
	if err != nil {
		return nil, err
	}

	entry, err := scanCentralDirectory(src, cdOffset, cdSize, totalEntries)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, NewError(KindPayloadNotInZip, "no payload.bin member found", nil)
	}

	if entry.CompressionMethod != 0 {
		return nil, NewError(KindPayloadNotInZip, "payload.bin member is compressed (deflate); only stored members are supported", nil)
	}

	dataOffset, err := resolveLocalDataOffset(src, entry.LocalHeaderOffset)
	if err != nil {
		return nil, err
	}
	entry.DataOffset = dataOffset

	magic := make([]byte, 4)
	if err := ReadFull(src, magic, int64(dataOffset)); err != nil {
		return nil, NewError(KindPayloadNotInZip, "could not verify payload.bin data offset", err)
	}
	if !bytes.Equal(magic, []byte(PayloadMagic)) {
		return nil, NewError(KindPayloadNotInZip, "payload.bin data offset does not point at a CrAU payload", nil)
	}

	return entry, nil
}

// findEOCD scans the last maxEOCDCommentScan bytes of src for the EOCD
// signature and returns the raw fixed-size record (without the trailing
// comment) plus its absolute offset in src.
func findEOCD(src ByteSource) ([]byte, int64, error) {
	scanLen := int64(maxEOCDCommentScan)
	if scanLen > src.Len() {
		scanLen = src.Len()
	}
	if scanLen < 22 {
		return nil, 0, NewError(KindNotAZip, "file too small to contain an EOCD record", nil)
	}

	tailOff := src.Len() - scanLen
	tail := make([]byte, scanLen)
	if err := ReadFull(src, tail, tailOff); err != nil {
		return nil, 0, fmt.Errorf("reading EOCD scan tail: %w", err)
	}

	sigBytes := []byte{0x50, 0x4b, 0x05, 0x06}
	for i := len(tail) - 22; i >= 0; i-- {
		if bytes.Equal(tail[i:i+4], sigBytes) {
			return tail[i : i+22], tailOff + int64(i), nil
		}
	}
	return nil, 0, NewError(KindNotAZip, "no End-of-Central-Directory record found", nil)
}

// resolveCentralDirectoryLocation returns the central directory's offset,
// size, and entry count, upgrading to the ZIP64 EOCD record when the
// 32-bit EOCD carries sentinel values or a ZIP64 locator immediately
// precedes it.
func resolveCentralDirectoryLocation(src ByteSource, eocd []byte, eocdPos int64) (cdOffset, cdSize, totalEntries uint64, err error) {
	totalEntries = uint64(binary.LittleEndian.Uint16(eocd[10:12]))
	cdSize = uint64(binary.LittleEndian.Uint32(eocd[12:16]))
	cdOffset = uint64(binary.LittleEndian.Uint32(eocd[16:20]))

	needsZip64 := cdOffset == 0xFFFFFFFF || cdSize == 0xFFFFFFFF || totalEntries == 0xFFFF

	// Always also check for the locator, even if the 32-bit fields look
	// sane: some producers set ZIP64 records but leave sentinels absent
	// in EOCD.
	if eocdPos >= 20 {
		locBuf := make([]byte, 20)
		if rerr := ReadFull(src, locBuf, eocdPos-20); rerr == nil {
			if binary.LittleEndian.Uint32(locBuf[0:4]) == sigZIP64Locator {
				zip64EOCDOffset := binary.LittleEndian.Uint64(locBuf[8:16])
				rec := make([]byte, 56)
				if err := ReadFull(src, rec, int64(zip64EOCDOffset)); err != nil {
					return 0, 0, 0, fmt.Errorf("reading ZIP64 EOCD record: %w", err)
				}
				if binary.LittleEndian.Uint32(rec[0:4]) != sigZIP64EOCD {
					return 0, 0, 0, NewError(KindNotAZip, "ZIP64 EOCD locator points at invalid record", nil)
				}
				totalEntries = binary.LittleEndian.Uint64(rec[32:40])
				cdSize = binary.LittleEndian.Uint64(rec[40:48])
				cdOffset = binary.LittleEndian.Uint64(rec[48:56])
				return cdOffset, cdSize, totalEntries, nil
			}
		}
	}

	if needsZip64 {
		return 0, 0, 0, NewError(KindNotAZip, "EOCD declares ZIP64 sentinels but no ZIP64 EOCD locator was found", nil)
	}

	return cdOffset, cdSize, totalEntries, nil
}

func scanCentralDirectory(src ByteSource, cdOffset, cdSize, totalEntries uint64) (*ZipEntry, error) {
	buf := make([]byte, cdSize)
	if err := ReadFull(src, buf, int64(cdOffset)); err != nil {
		return nil, fmt.Errorf("reading central directory: %w", err)
	}

	var found *ZipEntry
	pos := 0
	for i := uint64(0); i < totalEntries && pos+46 <= len(buf); i++ {
		if binary.LittleEndian.Uint32(buf[pos:pos+4]) != sigCentralDir {
			return nil, NewError(KindNotAZip, "malformed central directory entry", nil)
		}

		method := binary.LittleEndian.Uint16(buf[pos+10 : pos+12])
		compSize := uint64(binary.LittleEndian.Uint32(buf[pos+20 : pos+24]))
		uncompSize := uint64(binary.LittleEndian.Uint32(buf[pos+24 : pos+28]))
		nameLen := int(binary.LittleEndian.Uint16(buf[pos+28 : pos+30]))
		extraLen := int(binary.LittleEndian.Uint16(buf[pos+30 : pos+32]))
		commentLen := int(binary.LittleEndian.Uint16(buf[pos+32 : pos+34]))
		localHeaderOffset := uint64(binary.LittleEndian.Uint32(buf[pos+42 : pos+46]))

		entryStart := pos + 46
		if entryStart+nameLen+extraLen+commentLen > len(buf) {
			return nil, NewError(KindNotAZip, "truncated central directory entry", nil)
		}
		name := string(buf[entryStart : entryStart+nameLen])
		extra := buf[entryStart+nameLen : entryStart+nameLen+extraLen]

		compSize, uncompSize, localHeaderOffset = applyZip64Extra(extra, compSize, uncompSize, localHeaderOffset)

		if name == "payload.bin" || (len(name) > len("/payload.bin") && name[len(name)-len("/payload.bin"):] == "/payload.bin") {
			found = &ZipEntry{
				Name:              name,
				CompressedSize:    compSize,
				UncompressedSize:  uncompSize,
				LocalHeaderOffset: localHeaderOffset,
				CompressionMethod: method,
			}
			break
		}

		pos = entryStart + nameLen + extraLen + commentLen
	}

	return found, nil
}

// applyZip64Extra overrides sentinel 32-bit fields with their 64-bit
// counterparts from a ZIP64 extended-information extra field (tag 0x0001),
// in the fixed order the ZIP64 extra field requires: uncompressed size, compressed
// size, local header offset, disk start — only for fields that were
// actually sentineled.
func applyZip64Extra(extra []byte, compSize, uncompSize, localHeaderOffset uint64) (uint64, uint64, uint64) {
	for len(extra) >= 4 {
		tag := binary.LittleEndian.Uint16(extra[0:2])
		size := int(binary.LittleEndian.Uint16(extra[2:4]))
		if len(extra) < 4+size {
			break
		}
		data := extra[4 : 4+size]
		if tag == 0x0001 {
			off := 0
			if uncompSize == 0xFFFFFFFF && off+8 <= len(data) {
				uncompSize = binary.LittleEndian.Uint64(data[off : off+8])
				off += 8
			}
			if compSize == 0xFFFFFFFF && off+8 <= len(data) {
				compSize = binary.LittleEndian.Uint64(data[off : off+8])
				off += 8
			}
			if localHeaderOffset == 0xFFFFFFFF && off+8 <= len(data) {
				localHeaderOffset = binary.LittleEndian.Uint64(data[off : off+8])
				off += 8
			}
		}
		extra = extra[4+size:]
	}
	return compSize, uncompSize, localHeaderOffset
}

// resolveLocalDataOffset re-reads the local file header because its extra
// field length may differ from the central directory's copy — trusting the
// central directory's extra length alone can point at the wrong offset.
func resolveLocalDataOffset(src ByteSource, localHeaderOffset uint64) (uint64, error) {
	hdr := make([]byte, 30)
	if err := ReadFull(src, hdr, int64(localHeaderOffset)); err != nil {
		return 0, fmt.Errorf("reading local file header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != sigLocalHeader {
		return 0, NewError(KindNotAZip, "local file header signature mismatch", nil)
	}
	nameLen := int(binary.LittleEndian.Uint16(hdr[26:28]))
	extraLen := int(binary.LittleEndian.Uint16(hdr[28:30]))
	return localHeaderOffset + 30 + uint64(nameLen) + uint64(extraLen), nil
}
