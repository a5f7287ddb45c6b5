// Package disk implements the Disk Manager: raw fixed-size page I/O
// against a single database file, page-id allocation, and freelist
// reclamation. It owns the file handle; the buffer pool is the only
// intended caller of ReadPage/WritePage in steady state.
package disk

import (
	"io"
	"os"
	"sync"

	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
	"github.com/yinglichina8848/sqlcc-sub002/storage/page"
)

// Manager owns the database file handle and the page-id allocator.
type Manager struct {
	mu       sync.Mutex
	file     *os.File
	pageSize int
	free     *freeSet
	sb       Superblock
}

// Open opens (creating if absent) the database file at path with the given
// page size, bootstrapping page 0 with a fresh superblock on first use and
// reloading the freelist chain on reopen.
func Open(path string, pageSize int) (*Manager, error) {
	const op = "disk.Open"
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.IoFailure, op, err)
	}

	m := &Manager{file: f, pageSize: pageSize, free: newFreeSet()}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IoFailure, op, err)
	}

	if fi.Size() == 0 {
		m.sb = NewSuperblock(pageSize)
		if err := m.writeSuperblock(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		buf := make([]byte, pageSize)
		if _, err := f.ReadAt(buf, 0); err != nil && err != io.EOF {
			f.Close()
			return nil, errs.Wrap(errs.IoFailure, op, err)
		}
		sb, err := Unmarshal(buf)
		if err != nil {
			f.Close()
			return nil, err
		}
		m.sb = sb
		if err := m.loadFreelist(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) writeSuperblock() error {
	buf := Marshal(m.sb, m.pageSize)
	if _, err := m.file.WriteAt(buf, 0); err != nil {
		return errs.Wrap(errs.IoFailure, "disk.writeSuperblock", err)
	}
	return nil
}

func (m *Manager) loadFreelist() error {
	pid := m.sb.FreelistHead
	for pid != page.InvalidID {
		buf := make([]byte, m.pageSize)
		if _, err := m.file.ReadAt(buf, int64(pid)*int64(m.pageSize)); err != nil {
			return errs.Wrap(errs.IoFailure, "disk.loadFreelist", err)
		}
		n := flCount(buf)
		for i := 0; i < n; i++ {
			m.free.push(flEntry(buf, i))
		}
		pid = flNext(buf)
	}
	return nil
}

// PageSize returns the fixed page size of this database file.
func (m *Manager) PageSize() int { return m.pageSize }

// InstanceID returns the database instance identifier stamped in the
// superblock at creation time.
func (m *Manager) InstanceID() [16]byte {
	b, _ := m.sb.InstanceID.MarshalBinary()
	var out [16]byte
	copy(out[:], b)
	return out
}

// RegistryHead returns the head page id of the table registry (catalog)
// chain, InvalidID if the database has no catalog yet.
func (m *Manager) RegistryHead() page.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sb.RegistryHead
}

// SetRegistryHead persists a new catalog chain head in the superblock.
func (m *Manager) SetRegistryHead(id page.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sb.RegistryHead = id
	return m.writeSuperblockLocked()
}

// ReadPage reads page id's bytes into buf, which must be exactly
// PageSize() long. Reading a page beyond EOF (never written) yields zeros.
func (m *Manager) ReadPage(id page.ID, buf []byte) error {
	const op = "disk.ReadPage"
	if id < 0 {
		return errs.New(errs.InvalidArgument, op, "negative page id")
	}
	if len(buf) != m.pageSize {
		return errs.New(errs.InvalidArgument, op, "buffer size mismatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	off := int64(id) * int64(m.pageSize)
	n, err := m.file.ReadAt(buf, off)
	if err != nil {
		if err == io.EOF {
			for i := n; i < len(buf); i++ {
				buf[i] = 0
			}
			return nil
		}
		return errs.Wrap(errs.IoFailure, op, err)
	}
	return nil
}

// WritePage writes exactly PageSize() bytes at page id's offset, extending
// the file with a zero-filled gap if necessary.
func (m *Manager) WritePage(id page.ID, buf []byte) error {
	const op = "disk.WritePage"
	if id < 0 {
		return errs.New(errs.InvalidArgument, op, "negative page id")
	}
	if len(buf) != m.pageSize {
		return errs.New(errs.InvalidArgument, op, "buffer size mismatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	off := int64(id) * int64(m.pageSize)
	if _, err := m.file.WriteAt(buf, off); err != nil {
		return errs.Wrap(errs.IoFailure, op, err)
	}
	return nil
}

// AllocatePage returns a reclaimed page id if the freelist has one,
// otherwise extends the allocator cursor and returns a fresh id. The
// returned id is always >= 0; the caller is responsible for writing zeroed
// content before first use.
func (m *Manager) AllocatePage() (page.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.free.pop(); ok {
		return id, nil
	}
	id := m.sb.NextPageID
	m.sb.NextPageID++
	if err := m.writeSuperblockLocked(); err != nil {
		return page.InvalidID, err
	}
	return id, nil
}

// DeallocatePage pushes id onto the in-memory freelist. The file is not
// shrunk; the slot is reused by a future AllocatePage.
func (m *Manager) DeallocatePage(id page.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free.push(id)
}

// Sync flushes OS-level buffers, persisting the freelist chain and
// superblock first.
func (m *Manager) Sync() error {
	const op = "disk.Sync"
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.flushFreelistLocked(); err != nil {
		return err
	}
	if err := m.writeSuperblockLocked(); err != nil {
		return err
	}
	if err := m.file.Sync(); err != nil {
		return errs.Wrap(errs.IoFailure, op, err)
	}
	return nil
}

// Close persists the freelist and superblock, then closes the file handle.
func (m *Manager) Close() error {
	if err := m.Sync(); err != nil {
		m.file.Close()
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.file.Close(); err != nil {
		return errs.Wrap(errs.IoFailure, "disk.Close", err)
	}
	return nil
}

// writeSuperblockLocked persists the superblock; caller must hold mu.
func (m *Manager) writeSuperblockLocked() error {
	buf := Marshal(m.sb, m.pageSize)
	if _, err := m.file.WriteAt(buf, 0); err != nil {
		return errs.Wrap(errs.IoFailure, "disk.writeSuperblockLocked", err)
	}
	return nil
}

// flushFreelistLocked writes the in-memory free set out as a fresh
// free-list page chain, allocating new chain pages directly past the
// current allocator cursor (bypassing AllocatePage to avoid re-entering the
// free set while it is being flushed). Caller must hold mu.
func (m *Manager) flushFreelistLocked() error {
	ids := append([]page.ID(nil), m.free.ids...)
	if len(ids) == 0 {
		m.sb.FreelistHead = page.InvalidID
		return nil
	}

	cap := freeListCapacity(m.pageSize)
	var head page.ID = page.InvalidID
	var prevBuf []byte
	var prevID page.ID

	for i := 0; i < len(ids); i += cap {
		end := i + cap
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[i:end]

		id := m.sb.NextPageID
		m.sb.NextPageID++
		buf := make([]byte, m.pageSize)
		initFreeListPage(buf, id)
		for _, pid := range chunk {
			flAppend(buf, pid, m.pageSize)
		}
		page.SetChecksum(buf)

		if head == page.InvalidID {
			head = id
		} else {
			flSetNext(prevBuf, id)
			page.SetChecksum(prevBuf)
			if _, err := m.file.WriteAt(prevBuf, int64(prevID)*int64(m.pageSize)); err != nil {
				return errs.Wrap(errs.IoFailure, "disk.flushFreelistLocked", err)
			}
		}
		prevBuf, prevID = buf, id
	}
	if _, err := m.file.WriteAt(prevBuf, int64(prevID)*int64(m.pageSize)); err != nil {
		return errs.Wrap(errs.IoFailure, "disk.flushFreelistLocked", err)
	}
	m.sb.FreelistHead = head
	return nil
}
