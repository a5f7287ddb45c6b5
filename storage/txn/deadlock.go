package txn

import (
	"time"

	"github.com/yinglichina8848/sqlcc-sub002/storage/errs"
)

const pollBackoff = 2 * time.Millisecond

// AcquireLock acquires mode on resource for transaction id. With wait=true
// it blocks until granted or a deadlock involving id is detected,
// retrying against the given timeout (falling back to the manager's
// default when timeout is zero, per the original's per-call override).
// With wait=false it returns LockConflict immediately on conflict.
func (m *Manager) AcquireLock(id int64, resource string, mode LockMode, wait bool, timeout time.Duration) error {
	const op = "txn.AcquireLock"
	tx, err := m.activeTxn(op, id)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		if tx.snapshotState() != Active {
			return errs.New(errs.Deadlock, op, "transaction rolled back as deadlock victim while waiting")
		}
		granted, conflictHolders := m.lockTbl.tryAcquire(resource, id, mode)
		if granted {
			tx.mu.Lock()
			tx.locks[resource] = mode
			tx.mu.Unlock()
			m.coarse.Lock()
			delete(m.waitFor, id)
			m.waitFor[id] = make(map[int64]bool)
			m.coarse.Unlock()
			return nil
		}
		if !wait {
			return errs.New(errs.LockConflict, op, "resource held in incompatible mode")
		}

		m.coarse.Lock()
		edges := m.waitFor[id]
		if edges == nil {
			edges = make(map[int64]bool)
			m.waitFor[id] = edges
		}
		for _, h := range conflictHolders {
			edges[h] = true
		}
		victim, cyclic := m.detectDeadlockLocked(id)
		m.coarse.Unlock()

		if cyclic {
			if victim == id {
				_ = m.RollbackTransaction(id)
				return errs.New(errs.Deadlock, op, "transaction chosen as deadlock victim")
			}
			if rerr := m.RollbackTransaction(victim); rerr != nil && !errs.Is(rerr, errs.TransactionAlreadyEnded) {
				return rerr
			}
			continue
		}

		if time.Now().After(deadline) {
			return errs.New(errs.LockTimeout, op, "timed out waiting for lock")
		}
		time.Sleep(pollBackoff)
	}
}

// ReleaseLock releases id's lock on resource.
func (m *Manager) ReleaseLock(id int64, resource string) error {
	const op = "txn.ReleaseLock"
	tx, ok := m.Lookup(id)
	if !ok {
		return errs.New(errs.TransactionNotFound, op, "no such transaction")
	}
	m.lockTbl.release(resource, id)
	tx.mu.Lock()
	delete(tx.locks, resource)
	tx.mu.Unlock()
	return nil
}

// DetectDeadlock performs a DFS over the wait-for graph looking for a
// cycle involving id, returning the chosen victim (the youngest
// transaction, i.e. the highest id, among those in the cycle) and whether
// one was found.
func (m *Manager) DetectDeadlock(id int64) (victim int64, found bool) {
	m.coarse.Lock()
	defer m.coarse.Unlock()
	return m.detectDeadlockLocked(id)
}

// detectDeadlockLocked requires the caller to hold m.coarse.
func (m *Manager) detectDeadlockLocked(id int64) (victim int64, found bool) {
	visited := make(map[int64]bool)
	var stack []int64
	var dfs func(n int64) ([]int64, bool)

	dfs = func(n int64) ([]int64, bool) {
		if n == id && len(stack) > 0 {
			return append([]int64(nil), stack...), true
		}
		if visited[n] {
			return nil, false
		}
		visited[n] = true
		stack = append(stack, n)
		for next := range m.waitFor[n] {
			if cycle, ok := dfs(next); ok {
				return cycle, true
			}
		}
		stack = stack[:len(stack)-1]
		return nil, false
	}

	cycle, ok := dfs(id)
	if !ok {
		return 0, false
	}
	youngest := cycle[0]
	for _, n := range cycle {
		if n > youngest {
			youngest = n
		}
	}
	return youngest, true
}
