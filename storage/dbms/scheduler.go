package dbms

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultCheckpointSpec = "*/30 * * * * *" // every 30s, cron.WithSeconds()
	defaultDeadlockSpec   = "*/2 * * * * *"  // every 2s
	defaultJobTimeout     = 5 * time.Minute
)

// jobExecution tracks one in-flight scheduled job, mirroring the no-overlap
// tracking of the teacher's job scheduler.
type jobExecution struct {
	startTime time.Time
	cancelFn  context.CancelFunc
}

// Scheduler runs the DatabaseManager's background maintenance jobs: a
// periodic buffer-pool checkpoint and a periodic deadlock-detection sweep
// over every open database's active transactions.
type Scheduler struct {
	mgr  *DatabaseManager
	cron *cron.Cron

	mu      sync.Mutex
	running map[string]*jobExecution
}

// NewScheduler builds a Scheduler over mgr using a seconds-resolution cron,
// per the teacher's job scheduler idiom.
func NewScheduler(mgr *DatabaseManager) *Scheduler {
	return &Scheduler{
		mgr:     mgr,
		cron:    cron.New(cron.WithSeconds()),
		running: make(map[string]*jobExecution),
	}
}

// Start registers and starts the checkpoint and deadlock-sweep jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(defaultCheckpointSpec, func() { s.runJob("checkpoint", s.checkpoint) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(defaultDeadlockSpec, func() { s.runJob("deadlock-sweep", s.deadlockSweep) }); err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("dbms: scheduler started (checkpoint=%q, deadlock-sweep=%q)", defaultCheckpointSpec, defaultDeadlockSpec)
	return nil
}

// Stop halts the cron loop and cancels any in-flight job.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()

	s.mu.Lock()
	for name, exec := range s.running {
		log.Printf("dbms: canceling running job %q", name)
		exec.cancelFn()
	}
	s.mu.Unlock()

	<-ctx.Done()
}

// runJob runs fn under a timeout context with no-overlap tracking: a job
// still running when its next tick fires is skipped rather than stacked.
func (s *Scheduler) runJob(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if _, busy := s.running[name]; busy {
		s.mu.Unlock()
		log.Printf("dbms: job %q still running, skipping this tick", name)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultJobTimeout)
	s.running[name] = &jobExecution{startTime: time.Now(), cancelFn: cancel}
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	if err := fn(ctx); err != nil {
		log.Printf("dbms: job %q failed: %v", name, err)
	}
}

func (s *Scheduler) checkpoint(ctx context.Context) error {
	return s.mgr.FlushAll()
}

// deadlockSweep runs DetectDeadlock over every active transaction of every
// open database, rolling back the chosen victim whenever a cycle is found.
func (s *Scheduler) deadlockSweep(ctx context.Context) error {
	s.mgr.mu.RLock()
	dbs := make([]*database, 0, len(s.mgr.dbs))
	for _, db := range s.mgr.dbs {
		dbs = append(dbs, db)
	}
	s.mgr.mu.RUnlock()

	for _, db := range dbs {
		ids := db.txns.ActiveTransactionIDs()
		for _, id := range ids {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if victim, found := db.txns.DetectDeadlock(id); found {
				log.Printf("dbms: deadlock detected involving txn %d, rolling back %d", id, victim)
				_ = db.txns.RollbackTransaction(victim)
			}
		}
	}
	return nil
}
