// Package dbms provides the DatabaseManager: the top-level API surface
// consumed by external collaborators (parser, executor), tying together
// the Disk Manager, Buffer Pool, Table Storage, and Transaction Manager
// for a directory of named database files.
package dbms

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yinglichina8848/sqlcc-sub002/storage/buffer"
	"github.com/yinglichina8848/sqlcc-sub002/storage/config"
	"github.com/yinglichina8848/sqlcc-sub002/storage/disk"
	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
	"github.com/yinglichina8848/sqlcc-sub002/storage/page"
	"github.com/yinglichina8848/sqlcc-sub002/storage/table"
	"github.com/yinglichina8848/sqlcc-sub002/storage/txn"
)

const dbFileExt = ".sqlccdb"

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// database bundles one open database file's full stack.
type database struct {
	name    string
	path    string
	disk    *disk.Manager
	pool    *buffer.Pool
	tables  *table.Storage
	txns    *txn.Manager
}

// DatabaseManager owns a directory of named database files, per spec §6's
// DatabaseManager API surface, plus the instance UUID tagging and
// background Scheduler of the supplemented design.
type DatabaseManager struct {
	mu       sync.RWMutex
	dir      string
	cfg      *config.Config
	dbs      map[string]*database
	current  string
}

// New opens a DatabaseManager rooted at cfg.Database.FilePath, treated as a
// directory holding one file per database. The directory is created if
// absent; any *.sqlccdb files already present are not opened until
// UseDatabase or CreateDatabase is called.
func New(cfg *config.Config) (*DatabaseManager, error) {
	const op = "dbms.New"
	if err := os.MkdirAll(cfg.Database.FilePath, 0o755); err != nil {
		return nil, errs.Wrap(errs.IoFailure, op, err)
	}
	return &DatabaseManager{
		dir: cfg.Database.FilePath,
		cfg: cfg,
		dbs: make(map[string]*database),
	}, nil
}

func (m *DatabaseManager) pathFor(name string) string {
	return filepath.Join(m.dir, name+dbFileExt)
}

// CreateDatabase opens (creating if absent) the database file for name and
// registers it. Opening an existing file is not an error: CreateDatabase
// is the manager's only entry point for bringing a database's stack up.
func (m *DatabaseManager) CreateDatabase(name string) error {
	const op = "dbms.CreateDatabase"
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dbs[name]; ok {
		return errs.New(errs.TableExists, op, "database already open: "+name)
	}

	dm, err := disk.Open(m.pathFor(name), m.cfg.PageSize)
	if err != nil {
		return err
	}
	pool := buffer.New(dm, m.cfg.PageSize, m.cfg.BufferPool.PoolSize, m.cfg.BufferPool.ShardCount)

	catalogRoot := dm.RegistryHead()
	ts, err := table.Open(pool, m.cfg.PageSize, catalogRoot)
	if err != nil {
		dm.Close()
		return err
	}
	ts.OnRootChange(func(root page.ID) error { return dm.SetRegistryHead(root) })

	db := &database{
		name:   name,
		path:   m.pathFor(name),
		disk:   dm,
		pool:   pool,
		tables: ts,
		txns:   txn.New(m.cfg.Lock.StripeCount, msDuration(m.cfg.Lock.DefaultTimeoutMs)),
	}
	m.dbs[name] = db
	if m.current == "" {
		m.current = name
	}
	return nil
}

// DropDatabase closes and deletes name's database file. The database must
// not be the currently selected one.
func (m *DatabaseManager) DropDatabase(name string) error {
	const op = "dbms.DropDatabase"
	m.mu.Lock()
	defer m.mu.Unlock()

	db, ok := m.dbs[name]
	if !ok {
		return errs.New(errs.TableNotFound, op, "no such database: "+name)
	}
	if m.current == name {
		return errs.New(errs.InvalidArgument, op, "cannot drop the currently selected database")
	}
	if err := db.disk.Close(); err != nil {
		return err
	}
	delete(m.dbs, name)
	if err := os.Remove(db.path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.IoFailure, op, err)
	}
	return nil
}

// UseDatabase selects name as the current database, opening it first via
// CreateDatabase if it is not already open but its file exists on disk.
func (m *DatabaseManager) UseDatabase(name string) error {
	const op = "dbms.UseDatabase"
	m.mu.RLock()
	_, ok := m.dbs[name]
	m.mu.RUnlock()
	if !ok {
		if _, statErr := os.Stat(m.pathFor(name)); statErr != nil {
			return errs.New(errs.TableNotFound, op, "no such database: "+name)
		}
		if err := m.CreateDatabase(name); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.current = name
	m.mu.Unlock()
	return nil
}

// ListDatabases returns every database file's name (without extension) in
// the manager's directory, open or not.
func (m *DatabaseManager) ListDatabases() ([]string, error) {
	const op = "dbms.ListDatabases"
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, errs.Wrap(errs.IoFailure, op, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), dbFileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), dbFileExt))
	}
	return names, nil
}

// Current returns the currently selected database's name, or "" if none
// has been selected yet.
func (m *DatabaseManager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *DatabaseManager) currentDB(op string) (*database, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == "" {
		return nil, errs.New(errs.InvalidArgument, op, "no database selected")
	}
	db, ok := m.dbs[m.current]
	if !ok {
		return nil, errs.New(errs.TableNotFound, op, "current database not open: "+m.current)
	}
	return db, nil
}

// Tables returns the table storage layer for the currently selected
// database.
func (m *DatabaseManager) Tables() (*table.Storage, error) {
	db, err := m.currentDB("dbms.Tables")
	if err != nil {
		return nil, err
	}
	return db.tables, nil
}

// Transactions returns the transaction manager for the currently selected
// database.
func (m *DatabaseManager) Transactions() (*txn.Manager, error) {
	db, err := m.currentDB("dbms.Transactions")
	if err != nil {
		return nil, err
	}
	return db.txns, nil
}

// FlushAll checkpoints every open database's buffer pool to disk.
func (m *DatabaseManager) FlushAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, db := range m.dbs {
		if err := db.pool.FlushAllPages(); err != nil {
			return errs.Wrap(errs.IoFailure, "dbms.FlushAll", err)
		}
		if err := db.disk.Sync(); err != nil {
			return errs.Wrap(errs.IoFailure, "dbms.FlushAll:"+name, err)
		}
	}
	return nil
}

// InstanceID returns the 16 bytes of the uuid.UUID stamped in name's superblock at
// creation, for external callers that need to tag a database instance
// (e.g. replication, audit logging).
func (m *DatabaseManager) InstanceID(name string) ([16]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	db, ok := m.dbs[name]
	if !ok {
		return [16]byte{}, errs.New(errs.TableNotFound, "dbms.InstanceID", "no such database: "+name)
	}
	return db.disk.InstanceID(), nil
}

// Close flushes and closes every open database.
func (m *DatabaseManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, db := range m.dbs {
		if err := db.pool.FlushAllPages(); err != nil {
			return err
		}
		if err := db.disk.Close(); err != nil {
			return err
		}
	}
	m.dbs = make(map[string]*database)
	m.current = ""
	return nil
}
