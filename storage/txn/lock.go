package txn

import (
	"hash/fnv"
	"sync"
	"time"
)

// LockMode is a lock's acquisition mode. SHARED/SHARED is the only
// compatible pairing; every other combination conflicts.
type LockMode int

const (
	Shared LockMode = iota
	Exclusive
)

type lockEntry struct {
	TxnID      int64
	Mode       LockMode
	AcquiredAt time.Time
}

// stripe is one partition of the Lock Table, independently mutexed.
type stripe struct {
	mu        sync.Mutex
	resources map[string][]lockEntry
}

// lockTable is the Lock Table: resource name -> lock entries, partitioned
// into a power-of-two number of stripes hashed by resource name.
type lockTable struct {
	stripes []*stripe
	mask    uint32
}

func newLockTable(count int) *lockTable {
	n := 1
	for n < count {
		n <<= 1
	}
	if n < 1 {
		n = 1
	}
	lt := &lockTable{stripes: make([]*stripe, n), mask: uint32(n - 1)}
	for i := range lt.stripes {
		lt.stripes[i] = &stripe{resources: make(map[string][]lockEntry)}
	}
	return lt
}

func (lt *lockTable) stripeFor(resource string) *stripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(resource))
	return lt.stripes[h.Sum32()&lt.mask]
}

// tryAcquire attempts to grant id a lock of mode on resource without
// blocking. On conflict it returns the ids of the transactions currently
// holding the resource in an incompatible mode.
func (lt *lockTable) tryAcquire(resource string, id int64, mode LockMode) (granted bool, conflictHolders []int64) {
	s := lt.stripeFor(resource)
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.resources[resource]

	for i, e := range entries {
		if e.TxnID != id {
			continue
		}
		if e.Mode == Exclusive || e.Mode == mode {
			return true, nil // already holds a sufficient or identical lock
		}
		// e.Mode == Shared, mode == Exclusive: upgrade iff sole holder.
		if len(entries) == 1 {
			entries[i].Mode = Exclusive
			s.resources[resource] = entries
			return true, nil
		}
		for _, other := range entries {
			if other.TxnID != id {
				conflictHolders = append(conflictHolders, other.TxnID)
			}
		}
		return false, conflictHolders
	}

	for _, e := range entries {
		if mode == Shared && e.Mode == Shared {
			continue
		}
		conflictHolders = append(conflictHolders, e.TxnID)
	}
	if len(conflictHolders) > 0 {
		return false, conflictHolders
	}
	entries = append(entries, lockEntry{TxnID: id, Mode: mode, AcquiredAt: time.Now()})
	s.resources[resource] = entries
	return true, nil
}

// release removes id's lock on resource, dropping the resource entry
// entirely once its list is empty.
func (lt *lockTable) release(resource string, id int64) {
	s := lt.stripeFor(resource)
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.resources[resource]
	out := entries[:0]
	for _, e := range entries {
		if e.TxnID != id {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		delete(s.resources, resource)
	} else {
		s.resources[resource] = out
	}
}
