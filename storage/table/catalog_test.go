package table

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/yinglichina8848/sqlcc-sub002/storage/buffer"
	"github.com/yinglichina8848/sqlcc-sub002/storage/disk"
	"github.com/yinglichina8848/sqlcc-sub002/storage/page"
)

const catalogTestPageSize = 128

func newCatalogPool(t *testing.T) *buffer.Pool {
	t.Helper()
	dm, err := disk.Open(filepath.Join(t.TempDir(), "cat.db"), catalogTestPageSize)
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { _ = dm.Close() })
	return buffer.New(dm, catalogTestPageSize, 32, 4)
}

func TestBlobChainRoundTripSinglePage(t *testing.T) {
	pool := newCatalogPool(t)
	data := []byte("small payload")
	root, err := writeBlobChain(pool, catalogTestPageSize, data)
	if err != nil {
		t.Fatalf("writeBlobChain: %v", err)
	}
	got, err := readBlobChain(pool, catalogTestPageSize, root)
	if err != nil {
		t.Fatalf("readBlobChain: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("readBlobChain = %q, want %q", got, data)
	}
}

func TestBlobChainRoundTripSpansMultiplePages(t *testing.T) {
	pool := newCatalogPool(t)
	data := bytes.Repeat([]byte("0123456789"), 50) // 500 bytes, several pages at 128B
	root, err := writeBlobChain(pool, catalogTestPageSize, data)
	if err != nil {
		t.Fatalf("writeBlobChain: %v", err)
	}
	got, err := readBlobChain(pool, catalogTestPageSize, root)
	if err != nil {
		t.Fatalf("readBlobChain: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("multi-page readBlobChain mismatch: got %d bytes, want %d", len(got), len(data))
	}
}

func TestFreeBlobChainReleasesPages(t *testing.T) {
	pool := newCatalogPool(t)
	data := bytes.Repeat([]byte("x"), 300)
	root, err := writeBlobChain(pool, catalogTestPageSize, data)
	if err != nil {
		t.Fatalf("writeBlobChain: %v", err)
	}
	if err := freeBlobChain(pool, root); err != nil {
		t.Fatalf("freeBlobChain: %v", err)
	}
	// The freed pages should be reusable by a fresh allocation.
	h, err := pool.NewPage()
	if err != nil {
		t.Fatalf("NewPage after free: %v", err)
	}
	_ = pool.UnpinPage(h.PageIDv, false)
}

func TestLoadCatalogEmptyRoot(t *testing.T) {
	pool := newCatalogPool(t)
	tables, err := loadCatalog(pool, catalogTestPageSize, page.InvalidID)
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	if len(tables) != 0 {
		t.Errorf("expected empty catalog, got %d tables", len(tables))
	}
}

func TestSaveLoadCatalogRoundTrip(t *testing.T) {
	pool := newCatalogPool(t)
	tables := map[string]TableMetadata{
		"accounts": {
			Name:     "accounts",
			Schema:   NewSchema(accountsSchema()),
			HeadPage: page.ID(3),
			TailPage: page.ID(3),
			Indexes:  map[string]page.ID{"id": page.ID(7)},
		},
	}
	root, err := saveCatalog(pool, catalogTestPageSize, page.InvalidID, tables)
	if err != nil {
		t.Fatalf("saveCatalog: %v", err)
	}
	loaded, err := loadCatalog(pool, catalogTestPageSize, root)
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	md, ok := loaded["accounts"]
	if !ok {
		t.Fatal("expected accounts table in loaded catalog")
	}
	if md.HeadPage != page.ID(3) || md.Indexes["id"] != page.ID(7) {
		t.Errorf("unexpected loaded metadata: %+v", md)
	}
}

func TestSaveCatalogFreesPreviousChain(t *testing.T) {
	pool := newCatalogPool(t)
	tables := map[string]TableMetadata{
		"a": {Name: "a", Schema: NewSchema(accountsSchema()), Indexes: map[string]page.ID{}},
	}
	root1, err := saveCatalog(pool, catalogTestPageSize, page.InvalidID, tables)
	if err != nil {
		t.Fatalf("saveCatalog #1: %v", err)
	}
	tables["b"] = TableMetadata{Name: "b", Schema: NewSchema(accountsSchema()), Indexes: map[string]page.ID{}}
	root2, err := saveCatalog(pool, catalogTestPageSize, root1, tables)
	if err != nil {
		t.Fatalf("saveCatalog #2: %v", err)
	}
	if root2 == root1 {
		t.Error("expected a new root page on re-save")
	}
	loaded, err := loadCatalog(pool, catalogTestPageSize, root2)
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("expected 2 tables after second save, got %d", len(loaded))
	}
}
