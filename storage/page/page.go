// Package page defines the on-disk page layout shared by the disk manager,
// buffer pool, B+ tree and table storage layers: a fixed-size byte buffer
// with a 24-byte header at a fixed offset and a trailing CRC32 footer used
// to detect corruption. Byte order is little-endian throughout, per the
// database file format.
package page

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
)

// ID identifies a page within the database file. -1 denotes "invalid"
// throughout the core.
type ID int32

// InvalidID is the sentinel page id meaning "no page".
const InvalidID ID = -1

// Type distinguishes the kind of data a page holds.
type Type uint8

const (
	TypeInvalid Type = 0
	TypeTable   Type = 1
	TypeIndex   Type = 2
	TypeSystem  Type = 3
)

// HeaderSize is the fixed size, in bytes, of the common page header.
const HeaderSize = 24

// FooterSize is the fixed size, in bytes, of the trailing CRC32 footer.
// The footer is an addition beyond spec's header layout (which reserves no
// room for a checksum inside the 24-byte header); it lives at the tail of
// the page so the mandated header byte offsets are undisturbed.
const FooterSize = 4

// Header offsets, per the external interface's page header format.
const (
	offType            = 0
	offPageID          = 1
	offPrevPageID      = 5
	offNextPageID      = 9
	offFreeSpaceOffset = 13
	offFreeSpaceSize   = 15
	offSlotCount       = 17
	offTupleCount      = 19
	// offset 21: 3 reserved bytes, alignment to 24
)

// Header is the decoded form of the 24-byte common page header.
type Header struct {
	Type            Type
	PageID          ID
	PrevPageID      ID
	NextPageID      ID
	FreeSpaceOffset uint16
	FreeSpaceSize   uint16
	SlotCount       uint16
	TupleCount      uint16
}

// PutHeader encodes h into buf[0:HeaderSize].
func PutHeader(buf []byte, h Header) {
	_ = buf[HeaderSize-1]
	buf[offType] = byte(h.Type)
	binary.LittleEndian.PutUint32(buf[offPageID:], uint32(h.PageID))
	binary.LittleEndian.PutUint32(buf[offPrevPageID:], uint32(h.PrevPageID))
	binary.LittleEndian.PutUint32(buf[offNextPageID:], uint32(h.NextPageID))
	binary.LittleEndian.PutUint16(buf[offFreeSpaceOffset:], h.FreeSpaceOffset)
	binary.LittleEndian.PutUint16(buf[offFreeSpaceSize:], h.FreeSpaceSize)
	binary.LittleEndian.PutUint16(buf[offSlotCount:], h.SlotCount)
	binary.LittleEndian.PutUint16(buf[offTupleCount:], h.TupleCount)
	buf[21], buf[22], buf[23] = 0, 0, 0
}

// GetHeader decodes the common page header from buf.
func GetHeader(buf []byte) Header {
	_ = buf[HeaderSize-1]
	return Header{
		Type:            Type(buf[offType]),
		PageID:          ID(int32(binary.LittleEndian.Uint32(buf[offPageID:]))),
		PrevPageID:      ID(int32(binary.LittleEndian.Uint32(buf[offPrevPageID:]))),
		NextPageID:      ID(int32(binary.LittleEndian.Uint32(buf[offNextPageID:]))),
		FreeSpaceOffset: binary.LittleEndian.Uint16(buf[offFreeSpaceOffset:]),
		FreeSpaceSize:   binary.LittleEndian.Uint16(buf[offFreeSpaceSize:]),
		SlotCount:       binary.LittleEndian.Uint16(buf[offSlotCount:]),
		TupleCount:      binary.LittleEndian.Uint16(buf[offTupleCount:]),
	}
}

// New returns a zeroed page buffer of pageSize bytes with a header stamped
// for the given type and id. Free space spans the region between the
// header and the footer.
func New(pageSize int, typ Type, id ID) []byte {
	buf := make([]byte, pageSize)
	PutHeader(buf, Header{
		Type:            typ,
		PageID:          id,
		PrevPageID:      InvalidID,
		NextPageID:      InvalidID,
		FreeSpaceOffset: HeaderSize,
		FreeSpaceSize:   uint16(pageSize - HeaderSize - FooterSize),
	})
	return buf
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// SetChecksum computes the CRC32-Castagnoli checksum over buf[:len(buf)-4]
// and stores it in the trailing 4 bytes.
func SetChecksum(buf []byte) {
	n := len(buf)
	sum := crc32.Checksum(buf[:n-FooterSize], crcTable)
	binary.LittleEndian.PutUint32(buf[n-FooterSize:], sum)
}

// VerifyChecksum recomputes the checksum over buf[:len(buf)-4] and compares
// it against the trailing 4 bytes, returning a *errs.Error of kind
// CorruptPage on mismatch.
func VerifyChecksum(buf []byte) error {
	n := len(buf)
	if n < FooterSize {
		return errs.New(errs.CorruptPage, "VerifyChecksum", "page shorter than footer")
	}
	want := binary.LittleEndian.Uint32(buf[n-FooterSize:])
	got := crc32.Checksum(buf[:n-FooterSize], crcTable)
	if want != got {
		return errs.New(errs.CorruptPage, "VerifyChecksum", "checksum mismatch")
	}
	return nil
}

// UsableSize returns how many bytes of a page of pageSize are available for
// payload between the header and the footer.
func UsableSize(pageSize int) int {
	return pageSize - HeaderSize - FooterSize
}
