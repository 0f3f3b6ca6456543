package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/ChuLiYu/shardkeeper/pkg/table"
	"github.com/ChuLiYu/shardkeeper/pkg/types"
	"github.com/ChuLiYu/shardkeeper/pkg/wal"
)

// TableBasedStrategy recovers each table independently: one cursor per
// table, up to maxFanOut running concurrently. Cheap per table, expensive
// when a shard owns many tables (N cursors).
type TableBasedStrategy struct {
	WAL                *wal.WAL
	Flusher            table.FlushScheduler
	BatchSize          int
	MaxRetryFlushLimit int
	Concurrency        int
}

// NewTableBasedStrategy wires a strategy against a shard's WAL and flusher.
// A non-positive batchSize falls back to 100; Concurrency is always set to
// maxFanOut.
func NewTableBasedStrategy(w *wal.WAL, flusher table.FlushScheduler, batchSize, maxRetryFlushLimit int) *TableBasedStrategy {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &TableBasedStrategy{
		WAL:                w,
		Flusher:            flusher,
		BatchSize:          batchSize,
		MaxRetryFlushLimit: maxRetryFlushLimit,
		Concurrency:        maxFanOut,
	}
}

// Run attempts to restore every table in tables, returning the set of
// per-table failures. It returns a hard error only for shard-wide failures.
func (s *TableBasedStrategy) Run(ctx context.Context, shardID types.ShardID, tables []*table.Table) (map[types.TableID]error, error) {
	failures := make(map[types.TableID]error)
	if len(tables) == 0 {
		return failures, nil
	}

	results := runBounded(ctx, len(tables), s.Concurrency, func(ctx context.Context, i int) error {
		return s.recoverTable(ctx, shardID, tables[i])
	})

	for i, err := range results {
		if err != nil {
			failures[tables[i].ID] = err
		}
	}
	return failures, nil
}

func (s *TableBasedStrategy) recoverTable(ctx context.Context, shardID types.ShardID, t *table.Table) error {
	return table.WithExecutor(ctx, t.Executor, func() error {
		loc := types.TableLocation{ShardID: shardID, TableID: t.ID}
		cursor, err := s.WAL.Read(loc, types.ExcludedBoundary(t.FlushedSequence()), types.MaxBoundary())
		if err != nil {
			return fmt.Errorf("table %s (shard %d): open read cursor: %w", t.Name, shardID, err)
		}
		defer cursor.Close()

		var buf []types.LogEntry
		for {
			pullStart := time.Now()
			entries, err := cursor.NextLogEntries(s.BatchSize, nil, buf)
			observe(pullLogsDuration, pullStart)
			if err != nil {
				return fmt.Errorf("table %s (shard %d): pull batch: %w", t.Name, shardID, err)
			}
			if len(entries) == 0 {
				return nil
			}
			buf = entries

			if err := apply(shardID, t, entries, s.Flusher, s.MaxRetryFlushLimit); err != nil {
				return err
			}
		}
	})
}
