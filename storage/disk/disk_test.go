package disk

import (
	"path/filepath"
	"testing"

	"github.com/yinglichina8848/sqlcc-sub002/storage/page"
)

func TestOpenBootstrapsSuperblock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	m, err := Open(path, 256)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()
	if m.PageSize() != 256 {
		t.Errorf("PageSize = %d, want 256", m.PageSize())
	}
	if id := m.RegistryHead(); id != page.InvalidID {
		t.Errorf("fresh RegistryHead = %d, want InvalidID", id)
	}
}

func TestReadWritePageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	m, err := Open(path, 256)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	id, err := m.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	buf := page.New(256, page.TypeTable, id)
	copy(buf[page.HeaderSize:], []byte("hello"))
	page.SetChecksum(buf)
	if err := m.WritePage(id, buf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	out := make([]byte, 256)
	if err := m.ReadPage(id, out); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if string(out[page.HeaderSize:page.HeaderSize+5]) != "hello" {
		t.Fatalf("read back %q, want hello", out[page.HeaderSize:page.HeaderSize+5])
	}
}

func TestAllocateReusesDeallocatedPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	m, err := Open(path, 256)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	id1, _ := m.AllocatePage()
	m.DeallocatePage(id1)
	id2, err := m.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if id2 != id1 {
		t.Errorf("expected reclaimed id %d, got %d", id1, id2)
	}
}

func TestRegistryHeadPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	m, err := Open(path, 256)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, _ := m.AllocatePage()
	if err := m.SetRegistryHead(id); err != nil {
		t.Fatalf("SetRegistryHead: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2, err := Open(path, 256)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m2.Close()
	if got := m2.RegistryHead(); got != id {
		t.Errorf("RegistryHead after reopen = %d, want %d", got, id)
	}
}

func TestFreelistPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	m, err := Open(path, 256)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	a, _ := m.AllocatePage()
	b, _ := m.AllocatePage()
	m.DeallocatePage(a)
	m.DeallocatePage(b)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2, err := Open(path, 256)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m2.Close()
	seen := map[page.ID]bool{}
	for i := 0; i < 2; i++ {
		id, aerr := m2.AllocatePage()
		if aerr != nil {
			t.Fatalf("AllocatePage after reopen: %v", aerr)
		}
		seen[id] = true
	}
	if !seen[a] || !seen[b] {
		t.Errorf("expected reclaimed ids %d and %d after reopen, got %v", a, b, seen)
	}
}
