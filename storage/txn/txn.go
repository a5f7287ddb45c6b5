// Package txn implements the Transaction Manager: strict two-phase locking
// over a stripe-hashed lock table, wait-for-graph deadlock detection, and
// an in-memory undo log with named savepoints.
package txn

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
)

// Isolation is a transaction's isolation level tag. The manager itself
// only enforces strict two-phase locking; isolation is recorded for the
// caller's benefit.
type Isolation int

const (
	ReadCommitted Isolation = iota
	RepeatableRead
	Serializable
)

// State is a transaction's lifecycle state.
type State int

const (
	Active State = iota
	RollingBack
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case RollingBack:
		return "ROLLING_BACK"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// UndoEntry is one entry in a transaction's undo log. Undo reverses the
// effect of whatever operation appended it; the manager never calls into
// table storage directly; it only invokes the entries it is given.
type UndoEntry struct {
	Undo func() error
}

// Transaction is the manager's record of one transaction's lifecycle and
// held state.
type Transaction struct {
	ID        int64
	Isolation Isolation
	State     State
	StartTime time.Time
	EndTime   time.Time

	mu         sync.Mutex
	undoLog    []UndoEntry
	savepoints map[string]int
	locks      map[string]LockMode
}

func (t *Transaction) snapshotState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.State
}

// Manager is the Transaction Manager. Per spec §4.5, the transaction table
// and wait-for graph are protected by a coarse mutex taken before any
// per-stripe lock, so the manager itself never deadlocks.
type Manager struct {
	nextID atomic.Int64

	coarse   sync.Mutex
	txns     map[int64]*Transaction
	waitFor  map[int64]map[int64]bool
	lockTbl  *lockTable
	defaultTimeout time.Duration
}

// New builds a Manager with a stripe-hashed lock table of stripeCount
// stripes (rounded up to a power of two) and the given default lock
// timeout, used when AcquireLock is called with a zero timeout.
func New(stripeCount int, defaultTimeout time.Duration) *Manager {
	return &Manager{
		txns:           make(map[int64]*Transaction),
		waitFor:        make(map[int64]map[int64]bool),
		lockTbl:        newLockTable(stripeCount),
		defaultTimeout: defaultTimeout,
	}
}

// BeginTransaction allocates a new transaction id from a never-reused
// atomic counter and registers it ACTIVE.
func (m *Manager) BeginTransaction(isolation Isolation) *Transaction {
	id := m.nextID.Add(1)
	tx := &Transaction{
		ID:         id,
		Isolation:  isolation,
		State:      Active,
		StartTime:  time.Now(),
		savepoints: make(map[string]int),
		locks:      make(map[string]LockMode),
	}
	m.coarse.Lock()
	m.txns[id] = tx
	m.waitFor[id] = make(map[int64]bool)
	m.coarse.Unlock()
	return tx
}

// ActiveTransactionIDs returns the ids of every currently ACTIVE
// transaction, for a background deadlock-detection sweep.
func (m *Manager) ActiveTransactionIDs() []int64 {
	m.coarse.Lock()
	ids := make([]int64, 0, len(m.txns))
	for id, tx := range m.txns {
		if tx.snapshotState() == Active {
			ids = append(ids, id)
		}
	}
	m.coarse.Unlock()
	return ids
}

// Lookup returns the transaction for id, if it exists.
func (m *Manager) Lookup(id int64) (*Transaction, bool) {
	m.coarse.Lock()
	defer m.coarse.Unlock()
	tx, ok := m.txns[id]
	return tx, ok
}

// CommitTransaction releases every lock id holds, clears its wait-for
// edges, and transitions it to COMMITTED. Fails if the transaction is not
// ACTIVE or does not exist.
func (m *Manager) CommitTransaction(id int64) error {
	const op = "txn.CommitTransaction"
	tx, err := m.activeTxn(op, id)
	if err != nil {
		return err
	}

	tx.mu.Lock()
	held := make([]string, 0, len(tx.locks))
	for res := range tx.locks {
		held = append(held, res)
	}
	tx.State = Committed
	tx.EndTime = time.Now()
	tx.mu.Unlock()

	for _, res := range held {
		m.lockTbl.release(res, id)
	}
	tx.mu.Lock()
	tx.locks = make(map[string]LockMode)
	tx.mu.Unlock()

	m.coarse.Lock()
	delete(m.waitFor, id)
	for _, edges := range m.waitFor {
		delete(edges, id)
	}
	m.coarse.Unlock()
	return nil
}

// RollbackTransaction replays tx's undo log in reverse order, releases
// every lock it holds, and transitions it to ABORTED. Fails if the
// transaction is not ACTIVE or does not exist.
func (m *Manager) RollbackTransaction(id int64) error {
	const op = "txn.RollbackTransaction"
	tx, err := m.activeTxn(op, id)
	if err != nil {
		return err
	}

	tx.mu.Lock()
	tx.State = RollingBack
	entries := tx.undoLog
	tx.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Undo != nil {
			if uerr := entries[i].Undo(); uerr != nil {
				return errs.Wrap(errs.IoFailure, op, uerr)
			}
		}
	}

	tx.mu.Lock()
	held := make([]string, 0, len(tx.locks))
	for res := range tx.locks {
		held = append(held, res)
	}
	tx.locks = make(map[string]LockMode)
	tx.undoLog = nil
	tx.State = Aborted
	tx.EndTime = time.Now()
	tx.mu.Unlock()

	for _, res := range held {
		m.lockTbl.release(res, id)
	}

	m.coarse.Lock()
	delete(m.waitFor, id)
	for _, edges := range m.waitFor {
		delete(edges, id)
	}
	m.coarse.Unlock()
	return nil
}

func (m *Manager) activeTxn(op string, id int64) (*Transaction, error) {
	m.coarse.Lock()
	tx, ok := m.txns[id]
	m.coarse.Unlock()
	if !ok {
		return nil, errs.New(errs.TransactionNotFound, op, "no such transaction")
	}
	if tx.snapshotState() != Active {
		return nil, errs.New(errs.TransactionAlreadyEnded, op, "transaction already ended")
	}
	return tx, nil
}

// AppendUndo appends entry to tx's undo log. Callers push one entry per
// mutation so RollbackTransaction/RollbackToSavepoint can reverse it.
func (tx *Transaction) AppendUndo(entry UndoEntry) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.undoLog = append(tx.undoLog, entry)
}

// CreateSavepoint records a marker at the current undo-log position under
// name, overwriting any prior savepoint of the same name.
func (tx *Transaction) CreateSavepoint(name string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.savepoints[name] = len(tx.undoLog)
}

// RollbackToSavepoint undoes every entry appended after name's marker, in
// reverse order, then truncates the log to that point. The transaction
// remains ACTIVE. Fails if name has no recorded savepoint.
func (m *Manager) RollbackToSavepoint(id int64, name string) error {
	const op = "txn.RollbackToSavepoint"
	tx, err := m.activeTxn(op, id)
	if err != nil {
		return err
	}

	tx.mu.Lock()
	mark, ok := tx.savepoints[name]
	if !ok {
		tx.mu.Unlock()
		return errs.New(errs.InvalidArgument, op, "no such savepoint: "+name)
	}
	entries := append([]UndoEntry(nil), tx.undoLog[mark:]...)
	tx.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Undo != nil {
			if uerr := entries[i].Undo(); uerr != nil {
				return errs.Wrap(errs.IoFailure, op, uerr)
			}
		}
	}

	tx.mu.Lock()
	tx.undoLog = tx.undoLog[:mark]
	for n, pos := range tx.savepoints {
		if pos > mark {
			delete(tx.savepoints, n)
		}
	}
	tx.mu.Unlock()
	return nil
}
