package table

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

type fakeMemtable struct {
	inserted [][]map[string]any
}

func (m *fakeMemtable) Insert(rows []map[string]any) error {
	m.inserted = append(m.inserted, rows)
	return nil
}

func TestAdvanceSequenceNeverMovesBackwards(t *testing.T) {
	tb := New(types.TableID(1), "events", 1, 0, &fakeMemtable{}, 0)

	tb.AdvanceSequence(types.Sequence(5))
	require.Equal(t, types.Sequence(5), tb.LastSequence())

	tb.AdvanceSequence(types.Sequence(2))
	require.Equal(t, types.Sequence(5), tb.LastSequence())
}

func TestMarkFlushedRejectsPastLastSequence(t *testing.T) {
	tb := New(types.TableID(1), "events", 1, 0, &fakeMemtable{}, 0)
	tb.AdvanceSequence(types.Sequence(3))

	require.NoError(t, tb.MarkFlushed(types.Sequence(3)))
	require.Equal(t, types.Sequence(3), tb.FlushedSequence())

	require.Error(t, tb.MarkFlushed(types.Sequence(10)))
}

func TestSetSchemaVersionRejectsRegression(t *testing.T) {
	tb := New(types.TableID(1), "events", 3, 0, &fakeMemtable{}, 0)
	require.NoError(t, tb.SetSchemaVersion(4))
	require.Error(t, tb.SetSchemaVersion(2))
}

func TestShouldFlushHonorsThresholdAndInFlight(t *testing.T) {
	tb := New(types.TableID(1), "events", 1, 0, &fakeMemtable{}, 3)

	require.False(t, tb.ShouldFlush(false))

	tb.RecordRowsInserted(3)
	require.True(t, tb.ShouldFlush(false))
	require.False(t, tb.ShouldFlush(true))

	tb.MarkFlushScheduled()
	require.False(t, tb.ShouldFlush(false))
}

func TestSerialExecutorExcludesConcurrentHolders(t *testing.T) {
	e := NewSerialExecutor()
	ctx := context.Background()

	require.NoError(t, e.Acquire(ctx))

	acquired := make(chan struct{})
	go func() {
		_ = e.Acquire(context.Background())
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should not succeed while the first holder has not released")
	case <-time.After(20 * time.Millisecond):
	}

	e.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should succeed once released")
	}
}

func TestSerialExecutorAcquireRespectsContextCancellation(t *testing.T) {
	e := NewSerialExecutor()
	require.NoError(t, e.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := e.Acquire(ctx)
	require.Error(t, err)
}

func TestSetInsertReturnsDisplacedTable(t *testing.T) {
	s := NewSet()
	first := New(types.TableID(1), "a", 1, 0, &fakeMemtable{}, 0)
	second := New(types.TableID(1), "b", 1, 0, &fakeMemtable{}, 0)

	require.Nil(t, s.Insert(first))
	displaced := s.Insert(second)
	require.Same(t, first, displaced)
	require.Equal(t, second, s.Get(types.TableID(1)))
}

func TestSetAllReturnsSnapshot(t *testing.T) {
	s := NewSet()
	s.Insert(New(types.TableID(1), "a", 1, 0, &fakeMemtable{}, 0))
	s.Insert(New(types.TableID(2), "b", 1, 0, &fakeMemtable{}, 0))

	all := s.All()
	require.Len(t, all, 2)
	require.Equal(t, 2, s.Len())
}
