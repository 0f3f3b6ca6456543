package flush

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

type fakeExecutor struct {
	mu        sync.Mutex
	failUntil map[types.TableID]int
	calls     map[types.TableID]int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{failUntil: make(map[types.TableID]int), calls: make(map[types.TableID]int)}
}

func (f *fakeExecutor) Flush(ctx context.Context, tableID types.TableID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[tableID]++
	if f.calls[tableID] <= f.failUntil[tableID] {
		return errors.New("simulated flush failure")
	}
	return nil
}

func (f *fakeExecutor) callCount(tableID types.TableID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[tableID]
}

func TestScheduleFlushSucceedsOnFirstAttempt(t *testing.T) {
	exec := newFakeExecutor()
	done := make(chan error, 1)
	s := NewScheduler(exec, 4, func(tableID types.TableID, err error) { done <- err })
	defer s.Stop()

	require.NoError(t, s.ScheduleFlush(types.TableID(1), 3))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("flush did not complete")
	}
	require.Equal(t, 1, exec.callCount(types.TableID(1)))
}

func TestScheduleFlushRetriesUpToLimit(t *testing.T) {
	exec := newFakeExecutor()
	exec.failUntil[types.TableID(1)] = 2

	done := make(chan error, 1)
	s := NewScheduler(exec, 4, func(tableID types.TableID, err error) { done <- err })
	defer s.Stop()

	require.NoError(t, s.ScheduleFlush(types.TableID(1), 3))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("flush did not complete")
	}
	require.Equal(t, 3, exec.callCount(types.TableID(1)))
}

func TestScheduleFlushReportsFinalFailureAfterExhaustingRetries(t *testing.T) {
	exec := newFakeExecutor()
	exec.failUntil[types.TableID(1)] = 100

	done := make(chan error, 1)
	s := NewScheduler(exec, 4, func(tableID types.TableID, err error) { done <- err })
	defer s.Stop()

	require.NoError(t, s.ScheduleFlush(types.TableID(1), 2))

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("flush did not complete")
	}
	require.Equal(t, 2, exec.callCount(types.TableID(1)))
}

func TestScheduleFlushAfterStopReturnsError(t *testing.T) {
	exec := newFakeExecutor()
	s := NewScheduler(exec, 4, nil)
	s.Stop()

	err := s.ScheduleFlush(types.TableID(1), 1)
	require.ErrorIs(t, err, ErrSchedulerClosed)
}
