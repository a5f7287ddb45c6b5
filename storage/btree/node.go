// Package btree implements the B+ Tree Index: a disk-resident,
// page-backed B+ tree keyed by raw byte strings with (page_id, offset)
// payloads, supporting point/range lookup and self-balancing split/merge.
//
// Nodes are a tagged variant dispatched on the is_leaf header byte (design
// note §9): there is no inheritance/vtable, since a node's representation
// is exactly its serialized page and must be recoverable from the header
// alone on every load.
package btree

import (
	"bytes"
	"encoding/binary"

	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
	"github.com/yinglichina8848/sqlcc-sub002/storage/page"
)

// Node header offsets, overlaying the common page header region (both are
// exactly 24 bytes) per the B+ tree node header format.
const (
	offIsLeaf        = 0
	offKeyCount      = 1
	offParentPageID  = 5
	offNextLeafPageID = 9
	// offsets 13..23: 11 bytes of zero padding up to page.HeaderSize (24)
)

// nodeHeader is the decoded B+ tree node header.
type nodeHeader struct {
	IsLeaf         bool
	KeyCount       int32
	ParentPageID   page.ID
	NextLeafPageID page.ID // leaf only
}

func putNodeHeader(buf []byte, h nodeHeader) {
	if h.IsLeaf {
		buf[offIsLeaf] = 1
	} else {
		buf[offIsLeaf] = 0
	}
	binary.LittleEndian.PutUint32(buf[offKeyCount:], uint32(h.KeyCount))
	binary.LittleEndian.PutUint32(buf[offParentPageID:], uint32(int32(h.ParentPageID)))
	binary.LittleEndian.PutUint32(buf[offNextLeafPageID:], uint32(int32(h.NextLeafPageID)))
	for i := 13; i < page.HeaderSize; i++ {
		buf[i] = 0
	}
}

func getNodeHeader(buf []byte) nodeHeader {
	return nodeHeader{
		IsLeaf:         buf[offIsLeaf] != 0,
		KeyCount:       int32(binary.LittleEndian.Uint32(buf[offKeyCount:])),
		ParentPageID:   page.ID(int32(binary.LittleEndian.Uint32(buf[offParentPageID:]))),
		NextLeafPageID: page.ID(int32(binary.LittleEndian.Uint32(buf[offNextLeafPageID:]))),
	}
}

// IndexEntry is a (key, page_id, offset) triple stored in a leaf, ordered
// by key.
type IndexEntry struct {
	Key    []byte
	PageID page.ID
	Offset uint16
}

// internalEntry pairs a separator key with the child preceding it: child
// associated with entries[i] holds keys in [entries[i-1].Key, entries[i].Key).
type internalEntry struct {
	Key   []byte
	Child page.ID
}

const (
	leafEntryFixed     = 4 + 4 + 2 // keylen + pageID + offset
	internalEntryFixed = 4 + 4     // keylen + child
)

func leafEntrySize(e IndexEntry) int     { return leafEntryFixed + len(e.Key) }
func internalEntrySize(e internalEntry) int { return internalEntryFixed + len(e.Key) }

// usableBody is the number of bytes available for entries after the node
// header and before the page footer.
func usableBody(pageSize int) int {
	return pageSize - page.HeaderSize - page.FooterSize
}

func parseLeaf(buf []byte) (nodeHeader, []IndexEntry) {
	h := getNodeHeader(buf)
	off := page.HeaderSize
	entries := make([]IndexEntry, 0, h.KeyCount)
	for i := int32(0); i < h.KeyCount; i++ {
		klen := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		key := append([]byte(nil), buf[off:off+klen]...)
		off += klen
		pid := page.ID(int32(binary.LittleEndian.Uint32(buf[off:])))
		off += 4
		offset := binary.LittleEndian.Uint16(buf[off:])
		off += 2
		entries = append(entries, IndexEntry{Key: key, PageID: pid, Offset: offset})
	}
	return h, entries
}

func writeLeaf(buf []byte, pageSize int, h nodeHeader, entries []IndexEntry) error {
	size := 0
	for _, e := range entries {
		size += leafEntrySize(e)
	}
	if size > usableBody(pageSize) {
		return errs.New(errs.RecordTooLarge, "btree.writeLeaf", "node does not fit in page")
	}
	h.IsLeaf = true
	h.KeyCount = int32(len(entries))
	putNodeHeader(buf, h)
	off := page.HeaderSize
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.Key)))
		off += 4
		copy(buf[off:], e.Key)
		off += len(e.Key)
		binary.LittleEndian.PutUint32(buf[off:], uint32(int32(e.PageID)))
		off += 4
		binary.LittleEndian.PutUint16(buf[off:], e.Offset)
		off += 2
	}
	for ; off < pageSize-page.FooterSize; off++ {
		buf[off] = 0
	}
	return nil
}

func parseInternal(buf []byte) (nodeHeader, []internalEntry, page.ID) {
	h := getNodeHeader(buf)
	off := page.HeaderSize
	entries := make([]internalEntry, 0, h.KeyCount)
	for i := int32(0); i < h.KeyCount; i++ {
		klen := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		key := append([]byte(nil), buf[off:off+klen]...)
		off += klen
		child := page.ID(int32(binary.LittleEndian.Uint32(buf[off:])))
		off += 4
		entries = append(entries, internalEntry{Key: key, Child: child})
	}
	trailing := page.ID(int32(binary.LittleEndian.Uint32(buf[off:])))
	return h, entries, trailing
}

func writeInternal(buf []byte, pageSize int, h nodeHeader, entries []internalEntry, trailing page.ID) error {
	size := 4 // trailing child
	for _, e := range entries {
		size += internalEntrySize(e)
	}
	if size > usableBody(pageSize) {
		return errs.New(errs.RecordTooLarge, "btree.writeInternal", "node does not fit in page")
	}
	h.IsLeaf = false
	h.KeyCount = int32(len(entries))
	putNodeHeader(buf, h)
	off := page.HeaderSize
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.Key)))
		off += 4
		copy(buf[off:], e.Key)
		off += len(e.Key)
		binary.LittleEndian.PutUint32(buf[off:], uint32(int32(e.Child)))
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], uint32(int32(trailing)))
	off += 4
	for ; off < pageSize-page.FooterSize; off++ {
		buf[off] = 0
	}
	return nil
}

// childForKey returns the child that would hold key, per the internal
// node invariant: child[i] holds keys in [key[i-1], key[i]).
func childForKey(entries []internalEntry, trailing page.ID, key []byte) page.ID {
	for _, e := range entries {
		if bytes.Compare(key, e.Key) < 0 {
			return e.Child
		}
	}
	return trailing
}

// allChildren returns every child pointer of an internal node, in order.
func allChildren(entries []internalEntry, trailing page.ID) []page.ID {
	out := make([]page.ID, 0, len(entries)+1)
	for _, e := range entries {
		out = append(out, e.Child)
	}
	return append(out, trailing)
}
