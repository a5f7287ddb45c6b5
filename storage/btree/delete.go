package btree

import "github.com/yinglichina8848/sqlcc-sub002/storage/page"

// Delete removes key's entry, if present, and rebalances the tree so every
// non-root node stays at least half full: it attempts, in order, borrowing
// from the left sibling, borrowing from the right sibling, then merging
// with a sibling. A merge propagates a key removal to the parent, which
// may cascade; if the root ends up with a single child the tree shrinks by
// one level. Deleting a missing key is a no-op success.
func (t *Tree) Delete(key []byte) error {
	path, err := t.pathTo(key)
	if err != nil {
		return err
	}
	leafID := path[len(path)-1]

	h, err := t.fetch(leafID)
	if err != nil {
		return err
	}
	hdr, entries := parseLeaf(h.Data)
	if err := t.unpin(leafID, false); err != nil {
		return err
	}

	pos, found := searchLeafPos(entries, key)
	if !found {
		return nil
	}
	entries = append(entries[:pos], entries[pos+1:]...)

	h2, err := t.fetch(leafID)
	if err != nil {
		return err
	}
	if err := writeLeaf(h2.Data, t.pageSize, hdr, entries); err != nil {
		return err
	}
	page.SetChecksum(h2.Data)
	if err := t.unpin(leafID, true); err != nil {
		return err
	}

	if len(path) == 1 {
		return nil // leaf is the root; no minimum occupancy to enforce
	}
	if leafEntriesSize(entries) >= usableBody(t.pageSize)/2 {
		return nil
	}
	return t.rebalance(path, len(path)-1)
}

// pathTo returns the page ids from the root down to the leaf that would
// contain key, inclusive.
func (t *Tree) pathTo(key []byte) ([]page.ID, error) {
	path := []page.ID{t.root}
	id := t.root
	for {
		h, err := t.fetch(id)
		if err != nil {
			return nil, err
		}
		if h.Data[offIsLeaf] != 0 {
			if err := t.unpin(id, false); err != nil {
				return nil, err
			}
			return path, nil
		}
		_, entries, trailing := parseInternal(h.Data)
		if err := t.unpin(id, false); err != nil {
			return nil, err
		}
		id = childForKey(entries, trailing, key)
		path = append(path, id)
	}
}

func leafEntriesSize(entries []IndexEntry) int {
	n := 0
	for _, e := range entries {
		n += leafEntrySize(e)
	}
	return n
}

func internalEntriesSize(entries []internalEntry) int {
	n := 4 // trailing child
	for _, e := range entries {
		n += internalEntrySize(e)
	}
	return n
}

// positionOf returns the index of child within the children sequence
// described by entries/trailing (0..len(entries), where len(entries)
// denotes the trailing slot).
func positionOf(entries []internalEntry, trailing page.ID, child page.ID) int {
	for i, e := range entries {
		if e.Child == child {
			return i
		}
	}
	return len(entries)
}

func childAt(entries []internalEntry, trailing page.ID, pos int) page.ID {
	if pos == len(entries) {
		return trailing
	}
	return entries[pos].Child
}

// removeChildAt removes the child at index pos (0..len(entries)) from the
// children sequence, absorbing the boundary key into the preceding
// surviving child. Requires pos >= 1 (the leftmost child is never the one
// removed by a merge).
func removeChildAt(entries []internalEntry, trailing page.ID, pos int) ([]internalEntry, page.ID) {
	n := len(entries)
	if pos == n {
		newTrailing := entries[n-1].Child
		return entries[:n-1], newTrailing
	}
	out := make([]internalEntry, 0, n-1)
	out = append(out, entries[:pos-1]...)
	out = append(out, internalEntry{Key: entries[pos].Key, Child: entries[pos-1].Child})
	out = append(out, entries[pos+1:]...)
	return out, trailing
}

// rebalance restores minimum occupancy for the node at path[idx], which has
// just become underfull, cascading toward the root as merges propagate.
func (t *Tree) rebalance(path []page.ID, idx int) error {
	id := path[idx]
	parentID := path[idx-1]

	ph, err := t.fetch(parentID)
	if err != nil {
		return err
	}
	pHdr, pEntries, pTrailing := parseInternal(ph.Data)
	if err := t.unpin(parentID, false); err != nil {
		return err
	}

	pos := positionOf(pEntries, pTrailing, id)
	hasLeft := pos > 0
	hasRight := pos < len(pEntries)

	h, err := t.fetch(id)
	if err != nil {
		return err
	}
	isLeaf := h.Data[offIsLeaf] != 0
	if err := t.unpin(id, false); err != nil {
		return err
	}

	if isLeaf {
		return t.rebalanceLeaf(path, idx, parentID, pHdr, pEntries, pTrailing, pos, hasLeft, hasRight)
	}
	return t.rebalanceInternal(path, idx, parentID, pHdr, pEntries, pTrailing, pos, hasLeft, hasRight)
}

func (t *Tree) loadLeaf(id page.ID) (nodeHeader, []IndexEntry, error) {
	h, err := t.fetch(id)
	if err != nil {
		return nodeHeader{}, nil, err
	}
	hdr, entries := parseLeaf(h.Data)
	return hdr, entries, t.unpin(id, false)
}

func (t *Tree) storeLeaf(id page.ID, hdr nodeHeader, entries []IndexEntry) error {
	h, err := t.fetch(id)
	if err != nil {
		return err
	}
	if err := writeLeaf(h.Data, t.pageSize, hdr, entries); err != nil {
		return err
	}
	page.SetChecksum(h.Data)
	return t.unpin(id, true)
}

func (t *Tree) loadInternal(id page.ID) (nodeHeader, []internalEntry, page.ID, error) {
	h, err := t.fetch(id)
	if err != nil {
		return nodeHeader{}, nil, page.InvalidID, err
	}
	hdr, entries, trailing := parseInternal(h.Data)
	return hdr, entries, trailing, t.unpin(id, false)
}

func (t *Tree) storeInternal(id page.ID, hdr nodeHeader, entries []internalEntry, trailing page.ID) error {
	h, err := t.fetch(id)
	if err != nil {
		return err
	}
	if err := writeInternal(h.Data, t.pageSize, hdr, entries, trailing); err != nil {
		return err
	}
	page.SetChecksum(h.Data)
	return t.unpin(id, true)
}

func (t *Tree) storeParentAndMaybeShrink(parentID page.ID, pHdr nodeHeader, pEntries []internalEntry, pTrailing page.ID, path []page.ID, idx int) error {
	if parentID == t.root && len(pEntries) == 0 {
		// Root dropped to a single child: the tree shrinks by one level.
		only := pTrailing
		if err := t.setParent(only, page.InvalidID); err != nil {
			return err
		}
		if err := t.pool.DeletePage(parentID); err != nil {
			return err
		}
		t.root = only
		return nil
	}
	if err := t.storeInternal(parentID, pHdr, pEntries, pTrailing); err != nil {
		return err
	}
	if parentID == t.root {
		return nil
	}
	if internalEntriesSize(pEntries) >= usableBody(t.pageSize)/2 {
		return nil
	}
	return t.rebalance(path, idx-1)
}

func (t *Tree) rebalanceLeaf(path []page.ID, idx int, parentID page.ID, pHdr nodeHeader, pEntries []internalEntry, pTrailing page.ID, pos int, hasLeft, hasRight bool) error {
	id := path[idx]
	hdr, entries, err := t.loadLeaf(id)
	if err != nil {
		return err
	}

	if hasLeft {
		leftID := childAt(pEntries, pTrailing, pos-1)
		lHdr, lEntries, err := t.loadLeaf(leftID)
		if err != nil {
			return err
		}
		if len(lEntries) > 1 && leafEntriesSize(lEntries[:len(lEntries)-1]) >= usableBody(t.pageSize)/2 {
			borrowed := lEntries[len(lEntries)-1]
			lEntries = lEntries[:len(lEntries)-1]
			entries = append([]IndexEntry{borrowed}, entries...)
			if err := t.storeLeaf(leftID, lHdr, lEntries); err != nil {
				return err
			}
			if err := t.storeLeaf(id, hdr, entries); err != nil {
				return err
			}
			pEntries[pos-1].Key = append([]byte(nil), entries[0].Key...)
			return t.storeInternal(parentID, pHdr, pEntries, pTrailing)
		}
	}

	if hasRight {
		rightID := childAt(pEntries, pTrailing, pos+1)
		rHdr, rEntries, err := t.loadLeaf(rightID)
		if err != nil {
			return err
		}
		if len(rEntries) > 1 && leafEntriesSize(rEntries[1:]) >= usableBody(t.pageSize)/2 {
			borrowed := rEntries[0]
			rEntries = rEntries[1:]
			entries = append(entries, borrowed)
			if err := t.storeLeaf(id, hdr, entries); err != nil {
				return err
			}
			if err := t.storeLeaf(rightID, rHdr, rEntries); err != nil {
				return err
			}
			pEntries[pos].Key = append([]byte(nil), rEntries[0].Key...)
			return t.storeInternal(parentID, pHdr, pEntries, pTrailing)
		}
	}

	if hasLeft {
		leftID := childAt(pEntries, pTrailing, pos-1)
		lHdr, lEntries, err := t.loadLeaf(leftID)
		if err != nil {
			return err
		}
		merged := append(lEntries, entries...)
		lHdr.NextLeafPageID = hdr.NextLeafPageID
		if err := t.storeLeaf(leftID, lHdr, merged); err != nil {
			return err
		}
		if err := t.pool.DeletePage(id); err != nil {
			return err
		}
		newEntries, newTrailing := removeChildAt(pEntries, pTrailing, pos)
		return t.storeParentAndMaybeShrink(parentID, pHdr, newEntries, newTrailing, path, idx)
	}

	// hasRight must hold: a non-root leaf always has at least one sibling.
	rightID := childAt(pEntries, pTrailing, pos+1)
	rHdr, rEntries, err := t.loadLeaf(rightID)
	if err != nil {
		return err
	}
	merged := append(entries, rEntries...)
	hdr.NextLeafPageID = rHdr.NextLeafPageID
	if err := t.storeLeaf(id, hdr, merged); err != nil {
		return err
	}
	if err := t.pool.DeletePage(rightID); err != nil {
		return err
	}
	newEntries, newTrailing := removeChildAt(pEntries, pTrailing, pos+1)
	return t.storeParentAndMaybeShrink(parentID, pHdr, newEntries, newTrailing, path, idx)
}

func (t *Tree) rebalanceInternal(path []page.ID, idx int, parentID page.ID, pHdr nodeHeader, pEntries []internalEntry, pTrailing page.ID, pos int, hasLeft, hasRight bool) error {
	id := path[idx]
	hdr, entries, trailing, err := t.loadInternal(id)
	if err != nil {
		return err
	}

	if hasLeft {
		leftID := childAt(pEntries, pTrailing, pos-1)
		lHdr, lEntries, lTrailing, err := t.loadInternal(leftID)
		if err != nil {
			return err
		}
		if len(lEntries) > 0 && internalEntriesSize(lEntries[:len(lEntries)-1]) >= usableBody(t.pageSize)/2 {
			sepKey := pEntries[pos-1].Key
			movedChild := lTrailing
			newLTrailing := lEntries[len(lEntries)-1].Child
			promoted := append([]byte(nil), lEntries[len(lEntries)-1].Key...)
			lEntries = lEntries[:len(lEntries)-1]

			entries = append([]internalEntry{{Key: append([]byte(nil), sepKey...), Child: movedChild}}, entries...)
			if err := t.setParent(movedChild, id); err != nil {
				return err
			}
			if err := t.storeInternal(leftID, lHdr, lEntries, newLTrailing); err != nil {
				return err
			}
			if err := t.storeInternal(id, hdr, entries, trailing); err != nil {
				return err
			}
			pEntries[pos-1].Key = promoted
			return t.storeInternal(parentID, pHdr, pEntries, pTrailing)
		}
	}

	if hasRight {
		rightID := childAt(pEntries, pTrailing, pos+1)
		rHdr, rEntries, rTrailing, err := t.loadInternal(rightID)
		if err != nil {
			return err
		}
		if len(rEntries) > 0 && internalEntriesSize(rEntries[1:]) >= usableBody(t.pageSize)/2 {
			sepKey := pEntries[pos].Key
			movedChild := rEntries[0].Child
			promoted := append([]byte(nil), rEntries[0].Key...)
			rEntries = rEntries[1:]

			entries = append(entries, internalEntry{Key: append([]byte(nil), sepKey...), Child: trailing})
			trailing = movedChild
			if err := t.setParent(movedChild, id); err != nil {
				return err
			}
			if err := t.storeInternal(id, hdr, entries, trailing); err != nil {
				return err
			}
			if err := t.storeInternal(rightID, rHdr, rEntries, rTrailing); err != nil {
				return err
			}
			pEntries[pos].Key = promoted
			return t.storeInternal(parentID, pHdr, pEntries, pTrailing)
		}
	}

	if hasLeft {
		leftID := childAt(pEntries, pTrailing, pos-1)
		lHdr, lEntries, lTrailing, err := t.loadInternal(leftID)
		if err != nil {
			return err
		}
		bridgeKey := pEntries[pos-1].Key
		merged := append(lEntries, internalEntry{Key: append([]byte(nil), bridgeKey...), Child: lTrailing})
		merged = append(merged, entries...)
		for _, c := range allChildren(entries, trailing) {
			if err := t.setParent(c, leftID); err != nil {
				return err
			}
		}
		if err := t.storeInternal(leftID, lHdr, merged, trailing); err != nil {
			return err
		}
		if err := t.pool.DeletePage(id); err != nil {
			return err
		}
		newEntries, newTrailing := removeChildAt(pEntries, pTrailing, pos)
		return t.storeParentAndMaybeShrink(parentID, pHdr, newEntries, newTrailing, path, idx)
	}

	rightID := childAt(pEntries, pTrailing, pos+1)
	rHdr, rEntries, rTrailing, err := t.loadInternal(rightID)
	if err != nil {
		return err
	}
	_ = rHdr
	bridgeKey := pEntries[pos].Key
	merged := append(entries, internalEntry{Key: append([]byte(nil), bridgeKey...), Child: trailing})
	merged = append(merged, rEntries...)
	for _, c := range allChildren(rEntries, rTrailing) {
		if err := t.setParent(c, id); err != nil {
			return err
		}
	}
	if err := t.storeInternal(id, hdr, merged, rTrailing); err != nil {
		return err
	}
	if err := t.pool.DeletePage(rightID); err != nil {
		return err
	}
	newEntries, newTrailing := removeChildAt(pEntries, pTrailing, pos+1)
	return t.storeParentAndMaybeShrink(parentID, pHdr, newEntries, newTrailing, path, idx)
}
