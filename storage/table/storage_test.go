package table

import (
	"path/filepath"
	"testing"

	"github.com/yinglichina8848/sqlcc-sub002/storage/buffer"
	"github.com/yinglichina8848/sqlcc-sub002/storage/disk"
	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
	"github.com/yinglichina8848/sqlcc-sub002/storage/page"
)

func newTestStorage(t *testing.T) (*Storage, *disk.Manager) {
	t.Helper()
	dm, err := disk.Open(filepath.Join(t.TempDir(), "t.db"), 256)
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	t.Cleanup(func() { _ = dm.Close() })
	pool := buffer.New(dm, 256, 32, 4)
	s, err := Open(pool, 256, page.InvalidID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, dm
}

func accountsSchema() []ColumnDef {
	return []ColumnDef{
		{Name: "id", Type: ColInteger},
		{Name: "balance", Type: ColDouble},
	}
}

func TestCreateTableAndInsertGet(t *testing.T) {
	s, _ := newTestStorage(t)
	if err := s.CreateTable("accounts", accountsSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	loc, err := s.InsertRecord("accounts", []any{int32(1), 99.5})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	values, found, err := s.GetRecord("accounts", loc)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if !found {
		t.Fatal("expected record found")
	}
	if values[0].(int32) != 1 || values[1].(float64) != 99.5 {
		t.Errorf("unexpected values: %v", values)
	}
}

func TestCreateTableTwiceFails(t *testing.T) {
	s, _ := newTestStorage(t)
	if err := s.CreateTable("accounts", accountsSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := s.CreateTable("accounts", accountsSchema()); !errs.Is(err, errs.TableExists) {
		t.Fatalf("expected TableExists, got %v", err)
	}
}

func TestUpdateRecordInPlace(t *testing.T) {
	s, _ := newTestStorage(t)
	_ = s.CreateTable("accounts", accountsSchema())
	loc, _ := s.InsertRecord("accounts", []any{int32(1), 10.0})
	newLoc, err := s.UpdateRecord("accounts", loc, []any{int32(1), 20.0})
	if err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if newLoc != loc {
		t.Errorf("expected in-place update to keep the locator, got %v vs %v", newLoc, loc)
	}
	values, found, err := s.GetRecord("accounts", newLoc)
	if err != nil || !found {
		t.Fatalf("GetRecord: found=%v err=%v", found, err)
	}
	if values[1].(float64) != 20.0 {
		t.Errorf("balance = %v, want 20.0", values[1])
	}
}

func TestDeleteRecord(t *testing.T) {
	s, _ := newTestStorage(t)
	_ = s.CreateTable("accounts", accountsSchema())
	loc, _ := s.InsertRecord("accounts", []any{int32(1), 10.0})
	if err := s.DeleteRecord("accounts", loc); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	_, found, err := s.GetRecord("accounts", loc)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if found {
		t.Error("expected record gone after delete")
	}
}

func TestScanTable(t *testing.T) {
	s, _ := newTestStorage(t)
	_ = s.CreateTable("accounts", accountsSchema())
	const n = 20
	for i := 0; i < n; i++ {
		if _, err := s.InsertRecord("accounts", []any{int32(i), float64(i)}); err != nil {
			t.Fatalf("InsertRecord(%d): %v", i, err)
		}
	}
	locs, err := s.ScanTable("accounts")
	if err != nil {
		t.Fatalf("ScanTable: %v", err)
	}
	if len(locs) != n {
		t.Fatalf("len(locs) = %d, want %d", len(locs), n)
	}
}

func TestCreateIndexAndLookup(t *testing.T) {
	s, _ := newTestStorage(t)
	_ = s.CreateTable("accounts", accountsSchema())
	for i := 0; i < 10; i++ {
		if _, err := s.InsertRecord("accounts", []any{int32(i), float64(i)}); err != nil {
			t.Fatalf("InsertRecord(%d): %v", i, err)
		}
	}
	if err := s.CreateIndex("accounts", "id"); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if !s.IndexExists("accounts", "id") {
		t.Fatal("expected index to exist")
	}
	tree, ok := s.GetIndex("accounts", "id")
	if !ok {
		t.Fatal("expected GetIndex to find the tree")
	}
	key, _ := encodeValue(ColumnDef{Type: ColInteger}, int32(5))
	_, found, err := tree.Search(key)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !found {
		t.Error("expected id=5 to be indexed")
	}

	if err := s.DropIndex("accounts", "id"); err != nil {
		t.Fatalf("DropIndex: %v", err)
	}
	if s.IndexExists("accounts", "id") {
		t.Error("expected index gone after DropIndex")
	}
}

func TestIndexStaysConsistentAcrossInsertUpdateDelete(t *testing.T) {
	s, _ := newTestStorage(t)
	_ = s.CreateTable("accounts", accountsSchema())
	if err := s.CreateIndex("accounts", "id"); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	loc, err := s.InsertRecord("accounts", []any{int32(42), 1.0})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	tree, _ := s.GetIndex("accounts", "id")
	key, _ := encodeValue(ColumnDef{Type: ColInteger}, int32(42))
	if _, found, _ := tree.Search(key); !found {
		t.Fatal("expected inserted key indexed")
	}

	newLoc, err := s.UpdateRecord("accounts", loc, []any{int32(43), 1.0})
	if err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	if _, found, _ := tree.Search(key); found {
		t.Error("expected old key removed from index after update")
	}
	newKey, _ := encodeValue(ColumnDef{Type: ColInteger}, int32(43))
	if _, found, _ := tree.Search(newKey); !found {
		t.Error("expected new key present in index after update")
	}

	if err := s.DeleteRecord("accounts", newLoc); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if _, found, _ := tree.Search(newKey); found {
		t.Error("expected key removed from index after delete")
	}
}

func TestDropTableFreesPages(t *testing.T) {
	s, _ := newTestStorage(t)
	_ = s.CreateTable("accounts", accountsSchema())
	_, _ = s.InsertRecord("accounts", []any{int32(1), 1.0})
	if err := s.DropTable("accounts"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if err := s.CreateTable("accounts", accountsSchema()); err != nil {
		t.Fatalf("recreate after drop: %v", err)
	}
	locs, err := s.ScanTable("accounts")
	if err != nil {
		t.Fatalf("ScanTable: %v", err)
	}
	if len(locs) != 0 {
		t.Errorf("expected empty table after recreate, got %d records", len(locs))
	}
}

func TestCatalogPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	dm, err := disk.Open(path, 256)
	if err != nil {
		t.Fatalf("disk.Open: %v", err)
	}
	pool := buffer.New(dm, 256, 32, 4)
	s, err := Open(pool, 256, page.InvalidID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.CreateTable("accounts", accountsSchema()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := s.InsertRecord("accounts", []any{int32(1), 5.0}); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	root := s.CatalogRoot()
	if err := pool.FlushAllPages(); err != nil {
		t.Fatalf("FlushAllPages: %v", err)
	}
	if err := dm.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dm2, err := disk.Open(path, 256)
	if err != nil {
		t.Fatalf("reopen disk.Open: %v", err)
	}
	t.Cleanup(func() { _ = dm2.Close() })
	pool2 := buffer.New(dm2, 256, 32, 4)
	s2, err := Open(pool2, 256, root)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	locs, err := s2.ScanTable("accounts")
	if err != nil {
		t.Fatalf("ScanTable after reopen: %v", err)
	}
	if len(locs) != 1 {
		t.Fatalf("len(locs) after reopen = %d, want 1", len(locs))
	}
	values, found, err := s2.GetRecord("accounts", locs[0])
	if err != nil || !found {
		t.Fatalf("GetRecord after reopen: found=%v err=%v", found, err)
	}
	if values[0].(int32) != 1 || values[1].(float64) != 5.0 {
		t.Errorf("unexpected values after reopen: %v", values)
	}
}
