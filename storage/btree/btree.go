package btree

import (
	"bytes"

	"github.com/yinglichina8848/sqlcc-sub002/storage/buffer"
	"github.com/yinglichina8848/sqlcc-sub002/storage/page"
)

// Tree is a disk-resident B+ tree. Its root page id is owned by the
// caller's catalog (the Table Index Catalog maps (table, column) to a
// Tree's root); Root returns the current value so the catalog can persist
// it after structural changes (split/merge/shrink).
type Tree struct {
	pool     *buffer.Pool
	root     page.ID
	pageSize int
}

// Create allocates a root leaf page and returns a new, empty Tree.
func Create(pool *buffer.Pool, pageSize int) (*Tree, error) {
	h, err := pool.NewPage()
	if err != nil {
		return nil, err
	}
	if err := writeLeaf(h.Data, pageSize, nodeHeader{ParentPageID: page.InvalidID, NextLeafPageID: page.InvalidID}, nil); err != nil {
		return nil, err
	}
	page.SetChecksum(h.Data)
	if err := pool.UnpinPage(h.PageIDv, true); err != nil {
		return nil, err
	}
	return &Tree{pool: pool, root: h.PageIDv, pageSize: pageSize}, nil
}

// Open wraps an existing tree whose root is already on disk.
func Open(pool *buffer.Pool, root page.ID, pageSize int) *Tree {
	return &Tree{pool: pool, root: root, pageSize: pageSize}
}

// Root returns the current root page id.
func (t *Tree) Root() page.ID { return t.root }

func (t *Tree) fetch(id page.ID) (*buffer.Handle, error) {
	return t.pool.FetchPage(id)
}

func (t *Tree) unpin(id page.ID, dirty bool) error {
	return t.pool.UnpinPage(id, dirty)
}

// setParent overwrites only the parent-page-id field of child's header,
// used when a split reassigns a subtree to a new internal node.
func (t *Tree) setParent(child page.ID, parent page.ID) error {
	h, err := t.fetch(child)
	if err != nil {
		return err
	}
	hdr := getNodeHeader(h.Data)
	hdr.ParentPageID = parent
	putNodeHeader(h.Data, hdr)
	page.SetChecksum(h.Data)
	return t.unpin(child, true)
}

// splitResult is returned up the recursion when a child split and the
// parent must absorb a new separator key and right-sibling pointer.
type splitResult struct {
	sepKey  []byte
	rightID page.ID
}

// Insert descends to the target leaf and inserts entry in sorted
// position, upserting the payload on an equal key. Splits cascade upward;
// a root split grows the tree by one level.
func (t *Tree) Insert(e IndexEntry) error {
	sr, err := t.insertInto(t.root, e)
	if err != nil {
		return err
	}
	if sr == nil {
		return nil
	}
	newRoot, err := t.pool.NewPage()
	if err != nil {
		return err
	}
	entries := []internalEntry{{Key: sr.sepKey, Child: t.root}}
	if err := writeInternal(newRoot.Data, t.pageSize, nodeHeader{ParentPageID: page.InvalidID}, entries, sr.rightID); err != nil {
		return err
	}
	page.SetChecksum(newRoot.Data)
	if err := t.pool.UnpinPage(newRoot.PageIDv, true); err != nil {
		return err
	}
	if err := t.setParent(t.root, newRoot.PageIDv); err != nil {
		return err
	}
	if err := t.setParent(sr.rightID, newRoot.PageIDv); err != nil {
		return err
	}
	t.root = newRoot.PageIDv
	return nil
}

func (t *Tree) insertInto(id page.ID, e IndexEntry) (*splitResult, error) {
	h, err := t.fetch(id)
	if err != nil {
		return nil, err
	}
	isLeaf := h.Data[offIsLeaf] != 0

	if isLeaf {
		hdr, entries := parseLeaf(h.Data)
		if err := t.unpin(id, false); err != nil {
			return nil, err
		}
		pos, found := searchLeafPos(entries, e.Key)
		if found {
			entries[pos] = e
		} else {
			entries = append(entries, IndexEntry{})
			copy(entries[pos+1:], entries[pos:])
			entries[pos] = e
		}

		h2, err := t.fetch(id)
		if err != nil {
			return nil, err
		}
		if werr := writeLeaf(h2.Data, t.pageSize, hdr, entries); werr == nil {
			page.SetChecksum(h2.Data)
			return nil, t.unpin(id, true)
		}
		if err := t.unpin(id, false); err != nil {
			return nil, err
		}
		return t.splitLeaf(id, hdr, entries)
	}

	hdr, entries, trailing := parseInternal(h.Data)
	parent := hdr.ParentPageID
	childID := childForKey(entries, trailing, e.Key)
	if err := t.unpin(id, false); err != nil {
		return nil, err
	}

	childSplit, err := t.insertInto(childID, e)
	if err != nil {
		return nil, err
	}
	if childSplit == nil {
		return nil, nil
	}

	h2, err := t.fetch(id)
	if err != nil {
		return nil, err
	}
	hdr2, entries2, trailing2 := parseInternal(h2.Data)
	if err := t.unpin(id, false); err != nil {
		return nil, err
	}
	p := findChildIndex(entries2, trailing2, childID)
	if p < len(entries2) {
		entries2[p].Child = childSplit.rightID
		entries2 = append(entries2, internalEntry{})
		copy(entries2[p+1:], entries2[p:len(entries2)-1])
		entries2[p] = internalEntry{Key: childSplit.sepKey, Child: childID}
	} else {
		entries2 = append(entries2, internalEntry{Key: childSplit.sepKey, Child: childID})
		trailing2 = childSplit.rightID
	}
	hdr2.ParentPageID = parent

	h3, err := t.fetch(id)
	if err != nil {
		return nil, err
	}
	if werr := writeInternal(h3.Data, t.pageSize, hdr2, entries2, trailing2); werr == nil {
		page.SetChecksum(h3.Data)
		return nil, t.unpin(id, true)
	}
	if err := t.unpin(id, false); err != nil {
		return nil, err
	}
	return t.splitInternal(id, hdr2, entries2, trailing2)
}

func (t *Tree) splitLeaf(id page.ID, hdr nodeHeader, entries []IndexEntry) (*splitResult, error) {
	leftCount := (len(entries) + 1) / 2
	left := entries[:leftCount]
	right := entries[leftCount:]
	sep := append([]byte(nil), right[0].Key...)

	rightH, err := t.pool.NewPage()
	if err != nil {
		return nil, err
	}
	rightHdr := nodeHeader{ParentPageID: hdr.ParentPageID, NextLeafPageID: hdr.NextLeafPageID}
	if err := writeLeaf(rightH.Data, t.pageSize, rightHdr, right); err != nil {
		return nil, err
	}
	page.SetChecksum(rightH.Data)
	if err := t.pool.UnpinPage(rightH.PageIDv, true); err != nil {
		return nil, err
	}

	leftH, err := t.fetch(id)
	if err != nil {
		return nil, err
	}
	hdr.NextLeafPageID = rightH.PageIDv
	if err := writeLeaf(leftH.Data, t.pageSize, hdr, left); err != nil {
		return nil, err
	}
	page.SetChecksum(leftH.Data)
	if err := t.unpin(id, true); err != nil {
		return nil, err
	}

	return &splitResult{sepKey: sep, rightID: rightH.PageIDv}, nil
}

func (t *Tree) splitInternal(id page.ID, hdr nodeHeader, entries []internalEntry, trailing page.ID) (*splitResult, error) {
	mid := len(entries) / 2
	promoted := append([]byte(nil), entries[mid].Key...)
	left := entries[:mid]
	leftTrailing := entries[mid].Child
	right := entries[mid+1:]

	rightH, err := t.pool.NewPage()
	if err != nil {
		return nil, err
	}
	rightHdr := nodeHeader{ParentPageID: hdr.ParentPageID}
	if err := writeInternal(rightH.Data, t.pageSize, rightHdr, right, trailing); err != nil {
		return nil, err
	}
	page.SetChecksum(rightH.Data)
	if err := t.pool.UnpinPage(rightH.PageIDv, true); err != nil {
		return nil, err
	}
	for _, c := range allChildren(right, trailing) {
		if err := t.setParent(c, rightH.PageIDv); err != nil {
			return nil, err
		}
	}

	leftH, err := t.fetch(id)
	if err != nil {
		return nil, err
	}
	if err := writeInternal(leftH.Data, t.pageSize, hdr, left, leftTrailing); err != nil {
		return nil, err
	}
	page.SetChecksum(leftH.Data)
	if err := t.unpin(id, true); err != nil {
		return nil, err
	}

	return &splitResult{sepKey: promoted, rightID: rightH.PageIDv}, nil
}

func searchLeafPos(entries []IndexEntry, key []byte) (pos int, found bool) {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(entries[mid].Key, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(entries) && bytes.Equal(entries[lo].Key, key) {
		return lo, true
	}
	return lo, false
}

func findChildIndex(entries []internalEntry, trailing page.ID, child page.ID) int {
	for i, e := range entries {
		if e.Child == child {
			return i
		}
	}
	return len(entries)
}

// Search returns the entry for key, or found=false if no such key exists.
func (t *Tree) Search(key []byte) (IndexEntry, bool, error) {
	id := t.root
	for {
		h, err := t.fetch(id)
		if err != nil {
			return IndexEntry{}, false, err
		}
		if h.Data[offIsLeaf] != 0 {
			_, entries := parseLeaf(h.Data)
			if err := t.unpin(id, false); err != nil {
				return IndexEntry{}, false, err
			}
			pos, found := searchLeafPos(entries, key)
			if !found {
				return IndexEntry{}, false, nil
			}
			return entries[pos], true, nil
		}
		_, entries, trailing := parseInternal(h.Data)
		if err := t.unpin(id, false); err != nil {
			return IndexEntry{}, false, err
		}
		id = childForKey(entries, trailing, key)
	}
}

// firstLeafFor locates the leftmost leaf that could contain key.
func (t *Tree) firstLeafFor(key []byte) (page.ID, error) {
	id := t.root
	for {
		h, err := t.fetch(id)
		if err != nil {
			return page.InvalidID, err
		}
		if h.Data[offIsLeaf] != 0 {
			if err := t.unpin(id, false); err != nil {
				return page.InvalidID, err
			}
			return id, nil
		}
		_, entries, trailing := parseInternal(h.Data)
		if err := t.unpin(id, false); err != nil {
			return page.InvalidID, err
		}
		id = childForKey(entries, trailing, key)
	}
}

// SearchRange returns every entry with lo <= key <= hi, both ends
// inclusive, by locating the first candidate leaf and walking next-leaf
// links.
func (t *Tree) SearchRange(lo, hi []byte) ([]IndexEntry, error) {
	id, err := t.firstLeafFor(lo)
	if err != nil {
		return nil, err
	}
	var out []IndexEntry
	for id != page.InvalidID {
		h, err := t.fetch(id)
		if err != nil {
			return nil, err
		}
		hdr, entries := parseLeaf(h.Data)
		if err := t.unpin(id, false); err != nil {
			return nil, err
		}
		stop := false
		for _, e := range entries {
			if bytes.Compare(e.Key, lo) < 0 {
				continue
			}
			if bytes.Compare(e.Key, hi) > 0 {
				stop = true
				break
			}
			out = append(out, e)
		}
		if stop {
			break
		}
		id = hdr.NextLeafPageID
	}
	return out, nil
}

// Drop frees every page reachable from the root and invalidates the tree.
func (t *Tree) Drop() error {
	if err := t.freeSubtree(t.root); err != nil {
		return err
	}
	t.root = page.InvalidID
	return nil
}

func (t *Tree) freeSubtree(id page.ID) error {
	if id == page.InvalidID {
		return nil
	}
	h, err := t.fetch(id)
	if err != nil {
		return err
	}
	isLeaf := h.Data[offIsLeaf] != 0
	var children []page.ID
	if !isLeaf {
		_, entries, trailing := parseInternal(h.Data)
		children = allChildren(entries, trailing)
	}
	if err := t.unpin(id, false); err != nil {
		return err
	}
	for _, c := range children {
		if err := t.freeSubtree(c); err != nil {
			return err
		}
	}
	return t.pool.DeletePage(id)
}
