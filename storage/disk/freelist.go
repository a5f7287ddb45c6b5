package disk

import (
	"encoding/binary"

	"github.com/yinglichina8848/sqlcc-sub002/storage/page"
)

// Free-list pages form a singly-linked chain of TypeSystem pages; each page
// stores an array of reclaimed page ids available for reuse. Adapted from
// the teacher's free-list pager component, remapped onto the common
// page.Header layout instead of a bespoke header offset.
const (
	flNextOff  = page.HeaderSize     // next free-list page id (i32)
	flCountOff = flNextOff + 4       // entry count (u32)
	flDataOff  = flCountOff + 4      // page id entries (i32 each)
	flEntryLen = 4
)

func freeListCapacity(pageSize int) int {
	return (pageSize - page.FooterSize - flDataOff) / flEntryLen
}

func initFreeListPage(buf []byte, id page.ID) {
	page.PutHeader(buf, page.Header{Type: page.TypeSystem, PageID: id, PrevPageID: page.InvalidID, NextPageID: page.InvalidID})
	flSetNext(buf, page.InvalidID)
	binary.LittleEndian.PutUint32(buf[flCountOff:], 0)
}

func flNext(buf []byte) page.ID {
	return page.ID(int32(binary.LittleEndian.Uint32(buf[flNextOff:])))
}

func flSetNext(buf []byte, id page.ID) {
	binary.LittleEndian.PutUint32(buf[flNextOff:], uint32(int32(id)))
}

func flCount(buf []byte) int {
	return int(binary.LittleEndian.Uint32(buf[flCountOff:]))
}

func flEntry(buf []byte, i int) page.ID {
	off := flDataOff + i*flEntryLen
	return page.ID(int32(binary.LittleEndian.Uint32(buf[off:])))
}

func flAppend(buf []byte, id page.ID, pageSize int) bool {
	n := flCount(buf)
	if n >= freeListCapacity(pageSize) {
		return false
	}
	off := flDataOff + n*flEntryLen
	binary.LittleEndian.PutUint32(buf[off:], uint32(int32(id)))
	binary.LittleEndian.PutUint32(buf[flCountOff:], uint32(n+1))
	return true
}

// freeSet is the in-memory mirror of the on-disk free-list chain. The
// Manager consults it on AllocatePage/DeallocatePage and persists it back
// to the chain on Close, mirroring the original storage engine's freelist
// persistence across reopen (see SPEC_FULL.md, Supplemented Features).
type freeSet struct {
	ids  []page.ID
	head page.ID
}

func newFreeSet() *freeSet {
	return &freeSet{head: page.InvalidID}
}

func (f *freeSet) pop() (page.ID, bool) {
	if len(f.ids) == 0 {
		return page.InvalidID, false
	}
	id := f.ids[len(f.ids)-1]
	f.ids = f.ids[:len(f.ids)-1]
	return id, true
}

func (f *freeSet) push(id page.ID) {
	f.ids = append(f.ids, id)
}

func (f *freeSet) count() int { return len(f.ids) }
