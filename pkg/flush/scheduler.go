// Package flush implements the Flush Trigger (C5): the queue that receives
// ScheduleFlush calls from pkg/replay and drives the actual flush against
// an external flush/compaction executor. That executor's SST writer and
// memtable internals are out of scope for this module; Executor is the
// narrow seam this package calls into.
package flush

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

// ErrSchedulerClosed is returned by ScheduleFlush once Stop has been called.
var ErrSchedulerClosed = errors.New("flush: scheduler closed")

// Executor performs the flush itself for one table. It is the external
// collaborator; this package only sequences and retries calls into it.
type Executor interface {
	Flush(ctx context.Context, tableID types.TableID) error
}

// request is one queued flush, carrying its own retry budget.
type request struct {
	tableID  types.TableID
	maxRetry int
}

// Scheduler is a bounded async queue draining into a single background
// worker. It uses one worker because flushes against
// the same executor are serialized by the executor itself in most
// deployments; callers needing parallel flushes across tables should run
// one Scheduler per table.
type Scheduler struct {
	exec       Executor
	queue      chan request
	stopCh     chan struct{}
	wg         sync.WaitGroup
	onComplete func(types.TableID, error)
	closed     atomic.Bool
}

// NewScheduler starts the background worker. onComplete, if non-nil, is
// invoked after each flush attempt sequence finishes (success or final
// failure) so a table can clear its in-flight flag via
// table.MarkFlushCompleted.
func NewScheduler(exec Executor, queueSize int, onComplete func(types.TableID, error)) *Scheduler {
	if queueSize <= 0 {
		queueSize = 64
	}
	s := &Scheduler{
		exec:       exec,
		queue:      make(chan request, queueSize),
		stopCh:     make(chan struct{}),
		onComplete: onComplete,
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// ScheduleFlush implements table.FlushScheduler. It returns once the
// request has been queued, not once the flush has completed.
func (s *Scheduler) ScheduleFlush(tableID types.TableID, maxRetry int) error {
	if s.closed.Load() {
		return ErrSchedulerClosed
	}
	select {
	case s.queue <- request{tableID: tableID, maxRetry: maxRetry}:
		return nil
	case <-s.stopCh:
		return ErrSchedulerClosed
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.queue:
			err := s.runWithRetry(req)
			if s.onComplete != nil {
				s.onComplete(req.tableID, err)
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) runWithRetry(req request) error {
	attempts := req.maxRetry
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		err := s.exec.Flush(context.Background(), req.tableID)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("flush table %d: failed after %d attempts: %w", req.tableID, attempts, lastErr)
}

// Stop signals the background worker to exit and waits for it to drain any
// in-progress flush before returning.
func (s *Scheduler) Stop() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}
