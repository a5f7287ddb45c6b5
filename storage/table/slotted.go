// Package table implements the Table Storage layer: a record-oriented
// interface over the buffer pool, addressing tuples by (page_id, offset)
// Record Locators and maintaining the Table Index Catalog.
package table

import (
	"encoding/binary"

	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
	"github.com/yinglichina8848/sqlcc-sub002/storage/page"
)

// slotEntrySize is the size, in bytes, of one slot directory entry: a
// 2-byte record offset and a 2-byte record length. A slot with both zero is
// a tombstone.
const slotEntrySize = 4

// recordHeaderSize is the size, in bytes, of the per-record header that
// precedes every record's serialized column data: size (uint32),
// is_deleted (bool as 1 byte), next_free_offset (uint32) for tombstone
// chaining.
const recordHeaderSize = 4 + 1 + 4

type recordHeader struct {
	Size           uint32
	IsDeleted      bool
	NextFreeOffset uint32
}

func putRecordHeader(buf []byte, h recordHeader) {
	binary.LittleEndian.PutUint32(buf[0:], h.Size)
	if h.IsDeleted {
		buf[4] = 1
	} else {
		buf[4] = 0
	}
	binary.LittleEndian.PutUint32(buf[5:], h.NextFreeOffset)
}

func getRecordHeader(buf []byte) recordHeader {
	return recordHeader{
		Size:           binary.LittleEndian.Uint32(buf[0:]),
		IsDeleted:      buf[4] != 0,
		NextFreeOffset: binary.LittleEndian.Uint32(buf[5:]),
	}
}

// slottedPage wraps a table page buffer. The slot directory grows upward
// from the end of the common page header; record bodies (each prefixed by
// a recordHeader) grow downward from the page footer. page.Header's
// FreeSpaceOffset tracks the absolute offset where record data currently
// starts, and FreeSpaceSize the gap between the slot directory and it, per
// the Slotted Table Page invariant:
// free_space_offset_from_footer + free_space_size + slot_count*4 == usable.
type slottedPage struct {
	buf []byte
}

func wrapSlotted(buf []byte) *slottedPage { return &slottedPage{buf: buf} }

func initSlotted(buf []byte, id page.ID, prev, next page.ID) *slottedPage {
	pageSize := len(buf)
	page.PutHeader(buf, page.Header{
		Type:            page.TypeTable,
		PageID:          id,
		PrevPageID:      prev,
		NextPageID:      next,
		FreeSpaceOffset: uint16(pageSize - page.FooterSize),
		FreeSpaceSize:   uint16(page.UsableSize(pageSize)),
		SlotCount:       0,
		TupleCount:      0,
	})
	return wrapSlotted(buf)
}

func (sp *slottedPage) header() page.Header { return page.GetHeader(sp.buf) }

func (sp *slottedPage) slotOffset(i int) int { return page.HeaderSize + i*slotEntrySize }

func (sp *slottedPage) getSlot(i int) (offset, length uint16) {
	o := sp.slotOffset(i)
	return binary.LittleEndian.Uint16(sp.buf[o:]), binary.LittleEndian.Uint16(sp.buf[o+2:])
}

func (sp *slottedPage) setSlot(i int, offset, length uint16) {
	o := sp.slotOffset(i)
	binary.LittleEndian.PutUint16(sp.buf[o:], offset)
	binary.LittleEndian.PutUint16(sp.buf[o+2:], length)
}

func (sp *slottedPage) isTombstone(i int) bool {
	off, length := sp.getSlot(i)
	return off == 0 && length == 0
}

// recordAt returns the record body (excluding the record header) at slot
// i, or nil, false if the slot is a tombstone or deleted.
func (sp *slottedPage) recordAt(i int) ([]byte, bool) {
	off, length := sp.getSlot(i)
	if off == 0 && length == 0 {
		return nil, false
	}
	rh := getRecordHeader(sp.buf[off:])
	if rh.IsDeleted {
		return nil, false
	}
	start := int(off) + recordHeaderSize
	return sp.buf[start : start+int(length)-recordHeaderSize], true
}

// freeBytes returns how many bytes are available for one more slot plus
// its record, accounting for the slot directory's growth.
func (sp *slottedPage) freeBytes() int {
	h := sp.header()
	recordAreaStart := int(h.FreeSpaceOffset)
	slotDirEnd := page.HeaderSize + int(h.SlotCount)*slotEntrySize
	return recordAreaStart - slotDirEnd
}

// insert places a record (header+body) for data, reusing a tombstoned slot
// if one exists, and returns its slot index. Fails with RecordTooLarge if
// the page lacks room even after accounting for a new slot entry.
func (sp *slottedPage) insert(data []byte) (int, error) {
	const op = "table.slottedPage.insert"
	total := recordHeaderSize + len(data)
	h := sp.header()

	reuse := -1
	for i := 0; i < int(h.SlotCount); i++ {
		if sp.isTombstone(i) {
			reuse = i
			break
		}
	}
	needSlot := slotEntrySize
	if reuse >= 0 {
		needSlot = 0
	}
	if sp.freeBytes() < total+needSlot {
		return -1, errs.New(errs.RecordTooLarge, op, "not enough free space in page")
	}

	newStart := int(h.FreeSpaceOffset) - total
	putRecordHeader(sp.buf[newStart:], recordHeader{Size: uint32(total), IsDeleted: false})
	copy(sp.buf[newStart+recordHeaderSize:], data)

	idx := reuse
	if idx < 0 {
		idx = int(h.SlotCount)
		h.SlotCount++
	}
	sp.setSlot(idx, uint16(newStart), uint16(total))
	h.TupleCount++
	h.FreeSpaceOffset = uint16(newStart)
	h.FreeSpaceSize = uint16(sp.freeBytesFor(h))
	page.PutHeader(sp.buf, h)
	return idx, nil
}

func (sp *slottedPage) freeBytesFor(h page.Header) int {
	slotDirEnd := page.HeaderSize + int(h.SlotCount)*slotEntrySize
	return int(h.FreeSpaceOffset) - slotDirEnd
}

// updateInPlace overwrites the record at slot i with data, which must fit
// within the slot's existing allocation.
func (sp *slottedPage) updateInPlace(i int, data []byte) {
	off, _ := sp.getSlot(i)
	total := recordHeaderSize + len(data)
	putRecordHeader(sp.buf[off:], recordHeader{Size: uint32(total), IsDeleted: false})
	copy(sp.buf[int(off)+recordHeaderSize:], data)
	sp.setSlot(i, off, uint16(total))
}

// fitsInPlace reports whether data could be updated in place at slot i.
func (sp *slottedPage) fitsInPlace(i int, data []byte) bool {
	_, length := sp.getSlot(i)
	return int(length) >= recordHeaderSize+len(data)
}

// delete tombstones slot i (zeroing its directory entry so insert's
// reuse scan picks it up) and decrements the tuple count.
func (sp *slottedPage) delete(i int) {
	off, _ := sp.getSlot(i)
	rh := getRecordHeader(sp.buf[off:])
	rh.IsDeleted = true
	putRecordHeader(sp.buf[off:], rh)
	sp.setSlot(i, 0, 0)
	h := sp.header()
	if h.TupleCount > 0 {
		h.TupleCount--
	}
	page.PutHeader(sp.buf, h)
}

// liveSlots returns the indices of every non-tombstoned slot.
func (sp *slottedPage) liveSlots() []int {
	h := sp.header()
	out := make([]int, 0, int(h.SlotCount))
	for i := 0; i < int(h.SlotCount); i++ {
		if _, ok := sp.recordAt(i); ok {
			out = append(out, i)
		}
	}
	return out
}
