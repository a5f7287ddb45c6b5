package disk

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
	"github.com/yinglichina8848/sqlcc-sub002/storage/page"
)

// Magic identifies a sqlcc database file. Page 0 of every database file
// begins with these eight bytes.
var Magic = [8]byte{'S', 'Q', 'L', 'C', 'C', 'D', 'B', 0}

// Superblock offsets within page 0. Page 0 is a bespoke layout (not the
// generic table/index page header) since it is the file's own catalog
// header, per the database file format.
const (
	sbMagicOff      = 0
	sbPageSizeOff   = 8
	sbNextPageOff   = 12
	sbNumTablesOff  = 16
	sbRegistryOff   = 20
	sbFreelistOff   = 24
	sbUUIDOff       = 28
	sbHeaderEndOff  = sbUUIDOff + 16 // 44
)

// Superblock is the decoded form of page 0.
type Superblock struct {
	PageSize       uint32
	NextPageID     page.ID // next id AllocatePage will hand out absent a freelist entry
	NumTables      uint32
	RegistryHead   page.ID // head of the table registry page chain, InvalidID if empty
	FreelistHead   page.ID // head of the on-disk freelist chain, InvalidID if empty
	InstanceID     uuid.UUID
}

// NewSuperblock builds the initial superblock for a freshly created
// database file of the given page size.
func NewSuperblock(pageSize int) Superblock {
	return Superblock{
		PageSize:     uint32(pageSize),
		NextPageID:   1, // page 0 is the superblock itself
		NumTables:    0,
		RegistryHead: page.InvalidID,
		FreelistHead: page.InvalidID,
		InstanceID:   uuid.New(),
	}
}

// Marshal encodes sb into a fresh page-0 buffer of pageSize bytes.
func Marshal(sb Superblock, pageSize int) []byte {
	buf := make([]byte, pageSize)
	copy(buf[sbMagicOff:], Magic[:])
	binary.LittleEndian.PutUint32(buf[sbPageSizeOff:], sb.PageSize)
	binary.LittleEndian.PutUint32(buf[sbNextPageOff:], uint32(int32(sb.NextPageID)))
	binary.LittleEndian.PutUint32(buf[sbNumTablesOff:], sb.NumTables)
	binary.LittleEndian.PutUint32(buf[sbRegistryOff:], uint32(int32(sb.RegistryHead)))
	binary.LittleEndian.PutUint32(buf[sbFreelistOff:], uint32(int32(sb.FreelistHead)))
	idBytes, _ := sb.InstanceID.MarshalBinary()
	copy(buf[sbUUIDOff:sbUUIDOff+16], idBytes)
	page.SetChecksum(buf)
	return buf
}

// Unmarshal decodes and validates a page-0 buffer.
func Unmarshal(buf []byte) (Superblock, error) {
	const op = "disk.UnmarshalSuperblock"
	if len(buf) < sbHeaderEndOff+page.FooterSize {
		return Superblock{}, errs.New(errs.CorruptPage, op, "page 0 too short")
	}
	if err := page.VerifyChecksum(buf); err != nil {
		return Superblock{}, errs.Wrap(errs.CorruptPage, op, err)
	}
	var magic [8]byte
	copy(magic[:], buf[sbMagicOff:sbMagicOff+8])
	if magic != Magic {
		return Superblock{}, errs.New(errs.CorruptPage, op, "bad magic")
	}
	sb := Superblock{
		PageSize:     binary.LittleEndian.Uint32(buf[sbPageSizeOff:]),
		NextPageID:   page.ID(int32(binary.LittleEndian.Uint32(buf[sbNextPageOff:]))),
		NumTables:    binary.LittleEndian.Uint32(buf[sbNumTablesOff:]),
		RegistryHead: page.ID(int32(binary.LittleEndian.Uint32(buf[sbRegistryOff:]))),
		FreelistHead: page.ID(int32(binary.LittleEndian.Uint32(buf[sbFreelistOff:]))),
	}
	_ = sb.InstanceID.UnmarshalBinary(buf[sbUUIDOff : sbUUIDOff+16])
	return sb, nil
}
