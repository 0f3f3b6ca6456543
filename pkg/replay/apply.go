// Package replay implements the Replay Strategy (C4): the two
// interchangeable algorithms, Table-Based and Region-Based, that drive
// pkg/wal and pkg/table through the shared apply core to reconstruct
// in-memory table state at shard open.
package replay

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/shardkeeper/pkg/table"
	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

var log = slog.Default()

// apply is the core both strategies share: the per-entry skip/apply rules
// from the replay design, plus the flush predicate. Callers must already
// hold t.Executor for the duration of this call. Replay is not cancellable
// mid-apply: an in-progress batch always runs to completion so the
// memtable never ends up partially restored.
func apply(shardID types.ShardID, t *table.Table, entries []types.LogEntry, flusher table.FlushScheduler, maxRetryFlushLimit int) error {
	start := time.Now()
	defer observe(applyLogsDuration, start)

	for _, entry := range entries {
		if entry.Sequence <= t.FlushedSequence() {
			continue
		}

		switch {
		case entry.Payload.Kind != types.PayloadWrite:
			// DDL entries are recovered from the manifest, not replayed, but
			// they still advance last_sequence, as applied and key-too-large
			// entries do; only schema-mismatched entries leave it unchanged.

		case entry.Payload.RowGroup.SchemaVersion != t.SchemaVersion():
			log.Warn("skipping entry with mismatched schema version",
				"table", t.Name, "shard", shardID, "sequence", entry.Sequence,
				"entry_schema_version", entry.Payload.RowGroup.SchemaVersion, "table_schema_version", t.SchemaVersion())
			continue

		default:
			if err := t.Memtable.Insert(entry.Payload.RowGroup.Rows); err != nil {
				var tooLarge *types.KeyTooLargeError
				if !errors.As(err, &tooLarge) {
					return fmt.Errorf("table %s (shard %d): apply sequence %d: %w", t.Name, shardID, entry.Sequence, err)
				}
				log.Warn("dropping entry with oversized key", "table", t.Name, "shard", shardID, "sequence", entry.Sequence)
			} else {
				t.RecordRowsInserted(len(entry.Payload.RowGroup.Rows))
			}
		}

		t.AdvanceSequence(entry.Sequence)

		if t.ShouldFlush(t.FlushInFlight()) {
			if err := flusher.ScheduleFlush(t.ID, maxRetryFlushLimit); err != nil {
				return fmt.Errorf("table %s (shard %d): schedule flush: %w", t.Name, shardID, err)
			}
			t.MarkFlushScheduled()
		}
	}

	return nil
}
