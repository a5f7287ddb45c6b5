package dbms

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yinglichina8848/sqlcc-sub002/storage/config"
	"github.com/yinglichina8848/sqlcc-sub002/storage/txn"
)

func TestRunJobSkipsOverlappingInvocation(t *testing.T) {
	cfg := config.Default(filepath.Join(t.TempDir(), "dbs"))
	cfg.PageSize = 256
	mgr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })
	s := NewScheduler(mgr)

	started := make(chan struct{})
	release := make(chan struct{})
	var runs int32

	slow := func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		close(started)
		<-release
		return nil
	}

	go s.runJob("slow", slow)
	<-started
	s.runJob("slow", slow) // should be skipped: the first invocation is still running
	close(release)

	// Give the first goroutine a moment to finish and clean up bookkeeping.
	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		_, busy := s.running["slow"]
		s.mu.Unlock()
		if !busy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job bookkeeping never cleared")
		}
		time.Sleep(time.Millisecond)
	}

	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Errorf("runs = %d, want 1 (overlapping tick should be skipped)", got)
	}
}

func TestCheckpointFlushesOpenDatabases(t *testing.T) {
	cfg := config.Default(filepath.Join(t.TempDir(), "dbs"))
	cfg.PageSize = 256
	mgr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })
	if err := mgr.CreateDatabase("alpha"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	s := NewScheduler(mgr)
	if err := s.checkpoint(context.Background()); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
}

func TestDeadlockSweepIsNoopWithoutCycles(t *testing.T) {
	cfg := config.Default(filepath.Join(t.TempDir(), "dbs"))
	cfg.PageSize = 256
	mgr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })
	if err := mgr.CreateDatabase("alpha"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	txns, err := mgr.Transactions()
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	tx := txns.BeginTransaction(0)

	s := NewScheduler(mgr)
	if err := s.deadlockSweep(context.Background()); err != nil {
		t.Fatalf("deadlockSweep: %v", err)
	}
	if got, ok := txns.Lookup(tx.ID); !ok || got.State != txn.Active {
		t.Fatal("expected the non-deadlocked transaction untouched by the sweep")
	}
}
