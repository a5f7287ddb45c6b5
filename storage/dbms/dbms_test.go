package dbms

import (
	"path/filepath"
	"testing"

	"github.com/yinglichina8848/sqlcc-sub002/storage/config"
	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
	"github.com/yinglichina8848/sqlcc-sub002/storage/table"
)

func newTestManager(t *testing.T) *DatabaseManager {
	t.Helper()
	cfg := config.Default(filepath.Join(t.TempDir(), "dbs"))
	cfg.PageSize = 256
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestCreateDatabaseSelectsItAsCurrentWhenFirst(t *testing.T) {
	m := newTestManager(t)
	if err := m.CreateDatabase("alpha"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	if m.Current() != "alpha" {
		t.Errorf("Current() = %q, want alpha", m.Current())
	}
}

func TestCreateDatabaseTwiceFails(t *testing.T) {
	m := newTestManager(t)
	if err := m.CreateDatabase("alpha"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	if err := m.CreateDatabase("alpha"); err == nil {
		t.Fatal("expected error opening an already-open database twice")
	}
}

func TestUseDatabaseSelectsAlreadyOpenDatabase(t *testing.T) {
	m := newTestManager(t)
	if err := m.CreateDatabase("alpha"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	if err := m.CreateDatabase("beta"); err != nil {
		t.Fatalf("CreateDatabase beta: %v", err)
	}
	if err := m.UseDatabase("alpha"); err != nil {
		t.Fatalf("UseDatabase: %v", err)
	}
	if m.Current() != "alpha" {
		t.Errorf("Current() = %q, want alpha", m.Current())
	}
}

func TestUseDatabaseUnknownNameFails(t *testing.T) {
	m := newTestManager(t)
	if err := m.UseDatabase("ghost"); !errs.Is(err, errs.TableNotFound) {
		t.Fatalf("expected TableNotFound, got %v", err)
	}
}

func TestListDatabasesReflectsCreatedFiles(t *testing.T) {
	m := newTestManager(t)
	if err := m.CreateDatabase("alpha"); err != nil {
		t.Fatalf("CreateDatabase alpha: %v", err)
	}
	if err := m.CreateDatabase("beta"); err != nil {
		t.Fatalf("CreateDatabase beta: %v", err)
	}
	names, err := m.ListDatabases()
	if err != nil {
		t.Fatalf("ListDatabases: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("ListDatabases = %v, want 2 entries", names)
	}
}

func TestDropDatabaseRefusesCurrentDatabase(t *testing.T) {
	m := newTestManager(t)
	if err := m.CreateDatabase("alpha"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	if err := m.DropDatabase("alpha"); !errs.Is(err, errs.InvalidArgument) {
		t.Fatalf("expected InvalidArgument dropping the current database, got %v", err)
	}
}

func TestDropDatabaseRemovesFile(t *testing.T) {
	m := newTestManager(t)
	if err := m.CreateDatabase("alpha"); err != nil {
		t.Fatalf("CreateDatabase alpha: %v", err)
	}
	if err := m.CreateDatabase("beta"); err != nil {
		t.Fatalf("CreateDatabase beta: %v", err)
	}
	if err := m.DropDatabase("beta"); err != nil {
		t.Fatalf("DropDatabase: %v", err)
	}
	names, err := m.ListDatabases()
	if err != nil {
		t.Fatalf("ListDatabases: %v", err)
	}
	for _, n := range names {
		if n == "beta" {
			t.Fatal("expected beta removed from ListDatabases after drop")
		}
	}
}

func TestTablesAndTransactionsRequireCurrentDatabase(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Tables(); !errs.Is(err, errs.InvalidArgument) {
		t.Fatalf("expected InvalidArgument with no current database, got %v", err)
	}
	if _, err := m.Transactions(); !errs.Is(err, errs.InvalidArgument) {
		t.Fatalf("expected InvalidArgument with no current database, got %v", err)
	}
}

func TestCatalogRootPersistsAcrossManagerReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dbs")
	cfg := config.Default(dir)
	cfg.PageSize = 256

	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.CreateDatabase("alpha"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	if err := m.UseDatabase("alpha"); err != nil {
		t.Fatalf("UseDatabase: %v", err)
	}
	tables, err := m.Tables()
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if err := tables.CreateTable("accounts", []table.ColumnDef{{Name: "id", Type: table.ColInteger}}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := tables.InsertRecord("accounts", []any{int32(1)}); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2, err := New(cfg)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	t.Cleanup(func() { _ = m2.Close() })
	if err := m2.UseDatabase("alpha"); err != nil {
		t.Fatalf("UseDatabase (reopen): %v", err)
	}
	tables2, err := m2.Tables()
	if err != nil {
		t.Fatalf("Tables (reopen): %v", err)
	}
	locs, err := tables2.ScanTable("accounts")
	if err != nil {
		t.Fatalf("ScanTable (reopen): %v", err)
	}
	if len(locs) != 1 {
		t.Fatalf("len(locs) after reopen = %d, want 1", len(locs))
	}
}
