package table

import (
	"bytes"
	"sync"

	"github.com/yinglichina8848/sqlcc-sub002/storage/btree"
	"github.com/yinglichina8848/sqlcc-sub002/storage/buffer"
	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
	"github.com/yinglichina8848/sqlcc-sub002/storage/page"
)

// Locator is the (page_id, offset) pair that uniquely identifies a live
// record. Stable across in-place updates; a relocating update changes it.
type Locator struct {
	PageID page.ID
	Offset int
}

// Storage is the Table Storage layer: a record-oriented interface over the
// buffer pool, owning table metadata and the Table Index Catalog.
type Storage struct {
	mu       sync.RWMutex
	pool     *buffer.Pool
	pageSize int

	catalogRoot page.ID
	tables      map[string]*TableMetadata
	indexes     map[string]map[string]*btree.Tree // table -> column -> tree

	// onRootChange, if set, is invoked with the new catalog root whenever
	// persistLocked rewrites the blob chain, so the owning DatabaseManager
	// can mirror it into the disk Manager's superblock.
	onRootChange func(page.ID) error
}

// OnRootChange registers fn to be called whenever the catalog's persisted
// root page changes.
func (s *Storage) OnRootChange(fn func(page.ID) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRootChange = fn
}

// Open wraps pool, loading catalog metadata from catalogRoot (page.InvalidID
// for a brand-new database).
func Open(pool *buffer.Pool, pageSize int, catalogRoot page.ID) (*Storage, error) {
	raw, err := loadCatalog(pool, pageSize, catalogRoot)
	if err != nil {
		return nil, err
	}
	s := &Storage{
		pool:        pool,
		pageSize:    pageSize,
		catalogRoot: catalogRoot,
		tables:      make(map[string]*TableMetadata),
		indexes:     make(map[string]map[string]*btree.Tree),
	}
	for name, md := range raw {
		m := md
		s.tables[name] = &m
		idxs := make(map[string]*btree.Tree)
		for col, root := range m.Indexes {
			idxs[col] = btree.Open(pool, root, pageSize)
		}
		s.indexes[name] = idxs
	}
	return s, nil
}

// CatalogRoot returns the page id of the catalog's persisted blob chain,
// for the owning DatabaseManager to record in the superblock.
func (s *Storage) CatalogRoot() page.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalogRoot
}

func (s *Storage) persistLocked() error {
	flat := make(map[string]TableMetadata, len(s.tables))
	for name, md := range s.tables {
		flat[name] = *md
	}
	root, err := saveCatalog(s.pool, s.pageSize, s.catalogRoot, flat)
	if err != nil {
		return err
	}
	s.catalogRoot = root
	if s.onRootChange != nil {
		return s.onRootChange(root)
	}
	return nil
}

// CreateTable registers a new table with the given columns. Fails if a
// table of that name already exists.
func (s *Storage) CreateTable(name string, columns []ColumnDef) error {
	const op = "table.CreateTable"
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tables[name]; exists {
		return errs.New(errs.TableExists, op, "table already exists: "+name)
	}
	h, err := s.pool.NewPage()
	if err != nil {
		return err
	}
	initSlotted(h.Data, h.PageIDv, page.InvalidID, page.InvalidID)
	page.SetChecksum(h.Data)
	if err := s.pool.UnpinPage(h.PageIDv, true); err != nil {
		return err
	}

	s.tables[name] = &TableMetadata{
		Name:     name,
		Schema:   NewSchema(columns),
		HeadPage: h.PageIDv,
		TailPage: h.PageIDv,
		Indexes:  map[string]page.ID{},
	}
	s.indexes[name] = map[string]*btree.Tree{}
	return s.persistLocked()
}

// DropTable frees every page chained from the table head, drops all
// indexes on it, and removes its metadata.
func (s *Storage) DropTable(name string) error {
	const op = "table.DropTable"
	s.mu.Lock()
	defer s.mu.Unlock()

	md, ok := s.tables[name]
	if !ok {
		return errs.New(errs.TableNotFound, op, "no such table: "+name)
	}
	for _, tree := range s.indexes[name] {
		if err := tree.Drop(); err != nil {
			return err
		}
	}
	delete(s.indexes, name)

	id := md.HeadPage
	for id != page.InvalidID {
		h, err := s.pool.FetchPage(id)
		if err != nil {
			return err
		}
		next := page.GetHeader(h.Data).NextPageID
		if err := s.pool.UnpinPage(id, false); err != nil {
			return err
		}
		if err := s.pool.DeletePage(id); err != nil {
			return err
		}
		id = next
	}
	delete(s.tables, name)
	return s.persistLocked()
}

func (s *Storage) mustTable(op, name string) (*TableMetadata, error) {
	md, ok := s.tables[name]
	if !ok {
		return nil, errs.New(errs.TableNotFound, op, "no such table: "+name)
	}
	return md, nil
}

// InsertRecord serializes values per the table's schema, finds room for it
// by walking the table's page chain from the head (allocating a new tail
// page if none has space), and updates every index on the table with the
// new locator.
func (s *Storage) InsertRecord(name string, values []any) (Locator, error) {
	const op = "table.InsertRecord"
	s.mu.Lock()
	defer s.mu.Unlock()

	md, err := s.mustTable(op, name)
	if err != nil {
		return Locator{}, err
	}
	data, err := EncodeRecord(md.Schema, values)
	if err != nil {
		return Locator{}, err
	}

	id := md.HeadPage
	var loc Locator
	for {
		h, err := s.pool.FetchPage(id)
		if err != nil {
			return Locator{}, err
		}
		sp := wrapSlotted(h.Data)
		idx, ierr := sp.insert(data)
		if ierr == nil {
			page.SetChecksum(h.Data)
			if err := s.pool.UnpinPage(id, true); err != nil {
				return Locator{}, err
			}
			off, _ := sp.getSlot(idx)
			loc = Locator{PageID: id, Offset: int(off)}
			break
		}
		if !errs.Is(ierr, errs.RecordTooLarge) {
			_ = s.pool.UnpinPage(id, false)
			return Locator{}, ierr
		}
		next := page.GetHeader(h.Data).NextPageID
		if err := s.pool.UnpinPage(id, false); err != nil {
			return Locator{}, err
		}
		if next == page.InvalidID {
			nh, err := s.pool.NewPage()
			if err != nil {
				return Locator{}, err
			}
			initSlotted(nh.Data, nh.PageIDv, id, page.InvalidID)
			page.SetChecksum(nh.Data)
			if err := s.pool.UnpinPage(nh.PageIDv, true); err != nil {
				return Locator{}, err
			}

			th, err := s.pool.FetchPage(id)
			if err != nil {
				return Locator{}, err
			}
			hdr := page.GetHeader(th.Data)
			hdr.NextPageID = nh.PageIDv
			page.PutHeader(th.Data, hdr)
			page.SetChecksum(th.Data)
			if err := s.pool.UnpinPage(id, true); err != nil {
				return Locator{}, err
			}

			md.TailPage = nh.PageIDv
			next = nh.PageIDv
		}
		id = next
	}

	for col, tree := range s.indexes[name] {
		ci := md.Schema.ColumnIndex(col)
		key, err := encodeValue(md.Schema.Columns[ci], values[ci])
		if err != nil {
			return Locator{}, err
		}
		if err := tree.Insert(btree.IndexEntry{Key: key, PageID: loc.PageID, Offset: uint16(loc.Offset)}); err != nil {
			return Locator{}, err
		}
		md.Indexes[col] = tree.Root()
	}
	if err := s.persistLocked(); err != nil {
		return Locator{}, err
	}
	return loc, nil
}

// GetRecord fetches and deserializes the record at loc, returning found =
// false if the slot is deleted.
func (s *Storage) GetRecord(name string, loc Locator) (values []any, found bool, err error) {
	const op = "table.GetRecord"
	s.mu.RLock()
	defer s.mu.RUnlock()

	md, err := s.mustTable(op, name)
	if err != nil {
		return nil, false, err
	}
	h, err := s.pool.FetchPage(loc.PageID)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = s.pool.UnpinPage(loc.PageID, false) }()

	sp := wrapSlotted(h.Data)
	idx, ok := slotIndexAtOffset(sp, loc.Offset)
	if !ok {
		return nil, false, nil
	}
	body, ok := sp.recordAt(idx)
	if !ok {
		return nil, false, nil
	}
	values, err = DecodeRecord(md.Schema, body)
	if err != nil {
		return nil, false, err
	}
	return values, true, nil
}

func slotIndexAtOffset(sp *slottedPage, offset int) (int, bool) {
	h := sp.header()
	for i := 0; i < int(h.SlotCount); i++ {
		off, _ := sp.getSlot(i)
		if int(off) == offset {
			return i, true
		}
	}
	return 0, false
}

// UpdateRecord overwrites the record at loc with newValues if it fits in
// place; otherwise the old slot is tombstoned and the record is
// re-inserted, returning a new Locator. Indexes are updated accordingly.
func (s *Storage) UpdateRecord(name string, loc Locator, newValues []any) (Locator, error) {
	const op = "table.UpdateRecord"
	s.mu.Lock()
	defer s.mu.Unlock()

	md, err := s.mustTable(op, name)
	if err != nil {
		return Locator{}, err
	}
	oldValues, found, err := s.getRecordLocked(md, loc)
	if err != nil {
		return Locator{}, err
	}
	if !found {
		return Locator{}, errs.New(errs.InvalidArgument, op, "no record at locator")
	}
	data, err := EncodeRecord(md.Schema, newValues)
	if err != nil {
		return Locator{}, err
	}

	h, err := s.pool.FetchPage(loc.PageID)
	if err != nil {
		return Locator{}, err
	}
	sp := wrapSlotted(h.Data)
	idx, _ := slotIndexAtOffset(sp, loc.Offset)

	newLoc := loc
	if sp.fitsInPlace(idx, data) {
		sp.updateInPlace(idx, data)
		page.SetChecksum(h.Data)
		if err := s.pool.UnpinPage(loc.PageID, true); err != nil {
			return Locator{}, err
		}
	} else {
		sp.delete(idx)
		page.SetChecksum(h.Data)
		if err := s.pool.UnpinPage(loc.PageID, true); err != nil {
			return Locator{}, err
		}
		s.mu.Unlock()
		nl, err := s.InsertRecord(name, newValues)
		s.mu.Lock()
		if err != nil {
			return Locator{}, err
		}
		newLoc = nl
	}

	for col, tree := range s.indexes[name] {
		ci := md.Schema.ColumnIndex(col)
		oldKey, err := encodeValue(md.Schema.Columns[ci], oldValues[ci])
		if err != nil {
			return Locator{}, err
		}
		newKey, err := encodeValue(md.Schema.Columns[ci], newValues[ci])
		if err != nil {
			return Locator{}, err
		}
		// A relocating update has already indexed newKey via InsertRecord.
		if newLoc == loc || !bytes.Equal(oldKey, newKey) {
			if err := tree.Delete(oldKey); err != nil {
				return Locator{}, err
			}
		}
		if newLoc == loc {
			if err := tree.Insert(btree.IndexEntry{Key: newKey, PageID: newLoc.PageID, Offset: uint16(newLoc.Offset)}); err != nil {
				return Locator{}, err
			}
		}
		md.Indexes[col] = tree.Root()
	}
	if err := s.persistLocked(); err != nil {
		return Locator{}, err
	}
	return newLoc, nil
}

func (s *Storage) getRecordLocked(md *TableMetadata, loc Locator) ([]any, bool, error) {
	h, err := s.pool.FetchPage(loc.PageID)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = s.pool.UnpinPage(loc.PageID, false) }()
	sp := wrapSlotted(h.Data)
	idx, ok := slotIndexAtOffset(sp, loc.Offset)
	if !ok {
		return nil, false, nil
	}
	body, ok := sp.recordAt(idx)
	if !ok {
		return nil, false, nil
	}
	values, err := DecodeRecord(md.Schema, body)
	if err != nil {
		return nil, false, err
	}
	return values, true, nil
}

// DeleteRecord tombstones the record at loc and removes matching entries
// from every index on the table.
func (s *Storage) DeleteRecord(name string, loc Locator) error {
	const op = "table.DeleteRecord"
	s.mu.Lock()
	defer s.mu.Unlock()

	md, err := s.mustTable(op, name)
	if err != nil {
		return err
	}
	values, found, err := s.getRecordLocked(md, loc)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	h, err := s.pool.FetchPage(loc.PageID)
	if err != nil {
		return err
	}
	sp := wrapSlotted(h.Data)
	idx, _ := slotIndexAtOffset(sp, loc.Offset)
	sp.delete(idx)
	page.SetChecksum(h.Data)
	if err := s.pool.UnpinPage(loc.PageID, true); err != nil {
		return err
	}

	for col, tree := range s.indexes[name] {
		ci := md.Schema.ColumnIndex(col)
		key, err := encodeValue(md.Schema.Columns[ci], values[ci])
		if err != nil {
			return err
		}
		if err := tree.Delete(key); err != nil {
			return err
		}
		md.Indexes[col] = tree.Root()
	}
	return s.persistLocked()
}

// ScanTable walks the table's page chain yielding every live locator.
func (s *Storage) ScanTable(name string) ([]Locator, error) {
	const op = "table.ScanTable"
	s.mu.RLock()
	defer s.mu.RUnlock()

	md, err := s.mustTable(op, name)
	if err != nil {
		return nil, err
	}
	var out []Locator
	id := md.HeadPage
	for id != page.InvalidID {
		h, err := s.pool.FetchPage(id)
		if err != nil {
			return nil, err
		}
		sp := wrapSlotted(h.Data)
		for _, i := range sp.liveSlots() {
			off, _ := sp.getSlot(i)
			out = append(out, Locator{PageID: id, Offset: int(off)})
		}
		next := page.GetHeader(h.Data).NextPageID
		if err := s.pool.UnpinPage(id, false); err != nil {
			return nil, err
		}
		id = next
	}
	return out, nil
}

// CreateIndex builds a B+ tree on column and populates it by scanning the
// table. Fails if the index already exists or the column is unknown.
func (s *Storage) CreateIndex(table, column string) error {
	const op = "table.CreateIndex"
	s.mu.Lock()
	defer s.mu.Unlock()

	md, err := s.mustTable(op, table)
	if err != nil {
		return err
	}
	if _, ok := s.indexes[table][column]; ok {
		return errs.New(errs.IndexExists, op, "index already exists on "+table+"."+column)
	}
	ci := md.Schema.ColumnIndex(column)
	if ci < 0 {
		return errs.New(errs.ColumnNotFound, op, "no such column: "+column)
	}

	tree, err := btree.Create(s.pool, s.pageSize)
	if err != nil {
		return err
	}

	id := md.HeadPage
	for id != page.InvalidID {
		h, err := s.pool.FetchPage(id)
		if err != nil {
			return err
		}
		sp := wrapSlotted(h.Data)
		for _, i := range sp.liveSlots() {
			body, _ := sp.recordAt(i)
			values, derr := DecodeRecord(md.Schema, body)
			if derr != nil {
				_ = s.pool.UnpinPage(id, false)
				return derr
			}
			off, _ := sp.getSlot(i)
			key, kerr := encodeValue(md.Schema.Columns[ci], values[ci])
			if kerr != nil {
				_ = s.pool.UnpinPage(id, false)
				return kerr
			}
			if err := tree.Insert(btree.IndexEntry{Key: key, PageID: id, Offset: off}); err != nil {
				_ = s.pool.UnpinPage(id, false)
				return err
			}
		}
		next := page.GetHeader(h.Data).NextPageID
		if err := s.pool.UnpinPage(id, false); err != nil {
			return err
		}
		id = next
	}

	if s.indexes[table] == nil {
		s.indexes[table] = map[string]*btree.Tree{}
	}
	s.indexes[table][column] = tree
	md.Indexes[column] = tree.Root()
	return s.persistLocked()
}

// DropIndex removes the index on (table, column), if any.
func (s *Storage) DropIndex(table, column string) error {
	const op = "table.DropIndex"
	s.mu.Lock()
	defer s.mu.Unlock()

	md, err := s.mustTable(op, table)
	if err != nil {
		return err
	}
	tree, ok := s.indexes[table][column]
	if !ok {
		return errs.New(errs.IndexNotFound, op, "no such index: "+table+"."+column)
	}
	if err := tree.Drop(); err != nil {
		return err
	}
	delete(s.indexes[table], column)
	delete(md.Indexes, column)
	return s.persistLocked()
}

// IndexExists reports whether (table, column) has an index.
func (s *Storage) IndexExists(table, column string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indexes[table][column]
	return ok
}

// GetIndex returns the B+ tree for (table, column), if any.
func (s *Storage) GetIndex(table, column string) (*btree.Tree, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.indexes[table][column]
	return t, ok
}
