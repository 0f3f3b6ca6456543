// Package table holds per-table state (C2) and the serial-executor
// discipline (C3) that every mutation to that state must go through. It has
// no notion of replay strategy or WAL format; those live in pkg/replay and
// pkg/wal respectively, and call into a Table only through its Executor.
package table

import (
	"fmt"
	"sync/atomic"

	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

// Memtable is the external collaborator this module writes into. Its
// storage engine, compaction, and SST format are out of scope here; this
// interface is only wide enough to route rows and surface KeyTooLarge.
type Memtable interface {
	Insert(rows []map[string]any) error
}

// FlushScheduler is the external collaborator invoked once a table's flush
// predicate trips. Scheduling is asynchronous: ScheduleFlush returns once
// queued, not once the flush has completed.
type FlushScheduler interface {
	ScheduleFlush(tableID types.TableID, maxRetry int) error
}

// Table is one table's durable bookkeeping plus the handle writers must
// hold the Executor to mutate through.
type Table struct {
	ID       types.TableID
	Name     string
	Schema   string
	Memtable Memtable
	Executor *SerialExecutor

	// schemaVersion and the two sequence counters are only ever mutated by
	// the executor holder; reads from outside the executor (e.g. metrics)
	// use the atomic accessors below instead of touching these directly.
	schemaVersion   atomic.Uint32
	lastSequence    atomic.Uint64
	flushedSequence atomic.Uint64

	// rowsSincePriorFlush feeds ShouldFlush. It is reset by the caller once
	// a flush has actually been scheduled (MarkFlushScheduled).
	rowsSincePriorFlush atomic.Uint64

	// flushInFlight is true from the moment a flush is scheduled until its
	// completion is reported back via MarkFlushCompleted.
	flushInFlight atomic.Bool

	// flushThreshold is the row count that trips ShouldFlush. Zero disables
	// the predicate (flush decisions are then entirely external).
	flushThreshold uint64
}

// New constructs a Table with the given starting schema version and
// flushed_sequence (the durable watermark recovered from the manifest).
func New(id types.TableID, name string, schemaVersion types.SchemaVersion, flushedSequence types.Sequence, mt Memtable, flushThreshold uint64) *Table {
	return NewWithSchema(id, name, "", schemaVersion, flushedSequence, mt, flushThreshold)
}

// NewWithSchema is New plus the table's schema name, used when the caller
// needs FindTable-by-(schema,name) lookups to work.
func NewWithSchema(id types.TableID, name, schema string, schemaVersion types.SchemaVersion, flushedSequence types.Sequence, mt Memtable, flushThreshold uint64) *Table {
	t := &Table{
		ID:             id,
		Name:           name,
		Schema:         schema,
		Memtable:       mt,
		Executor:       NewSerialExecutor(),
		flushThreshold: flushThreshold,
	}
	t.schemaVersion.Store(uint32(schemaVersion))
	t.flushedSequence.Store(uint64(flushedSequence))
	return t
}

func (t *Table) SchemaVersion() types.SchemaVersion {
	return types.SchemaVersion(t.schemaVersion.Load())
}

func (t *Table) LastSequence() types.Sequence {
	return types.Sequence(t.lastSequence.Load())
}

func (t *Table) FlushedSequence() types.Sequence {
	return types.Sequence(t.flushedSequence.Load())
}

// AdvanceSequence records seq as the new last_sequence. Callers must hold
// t.Executor. It never moves last_sequence backwards, matching the
// monotonicity invariant.
func (t *Table) AdvanceSequence(seq types.Sequence) {
	for {
		cur := t.lastSequence.Load()
		if uint64(seq) <= cur {
			return
		}
		if t.lastSequence.CompareAndSwap(cur, uint64(seq)) {
			return
		}
	}
}

// MarkFlushed records that flushedSequence has advanced to seq, e.g. once a
// scheduled flush has actually completed and the caller is told so out of
// band. flushed_sequence <= last_sequence is the invariant this preserves.
func (t *Table) MarkFlushed(seq types.Sequence) error {
	if seq > t.LastSequence() {
		return fmt.Errorf("table %d: cannot mark flushed_sequence %d past last_sequence %d", t.ID, seq, t.LastSequence())
	}
	t.flushedSequence.Store(uint64(seq))
	return nil
}

// SetSchemaVersion advances the schema version. It rejects a regression,
// matching the monotonic-non-decreasing invariant. Callers must hold
// t.Executor.
func (t *Table) SetSchemaVersion(v types.SchemaVersion) error {
	if uint32(v) < t.schemaVersion.Load() {
		return fmt.Errorf("table %d: schema version regression %d -> %d", t.ID, t.schemaVersion.Load(), v)
	}
	t.schemaVersion.Store(uint32(v))
	return nil
}

// RecordRowsInserted feeds the flush predicate's row counter.
func (t *Table) RecordRowsInserted(n int) {
	t.rowsSincePriorFlush.Add(uint64(n))
}

// MarkFlushScheduled resets the row counter and raises the in-flight flag
// once a flush has actually been submitted to the scheduler.
func (t *Table) MarkFlushScheduled() {
	t.rowsSincePriorFlush.Store(0)
	t.flushInFlight.Store(true)
}

// MarkFlushCompleted lowers the in-flight flag once the scheduler reports
// that a previously scheduled flush has finished.
func (t *Table) MarkFlushCompleted() {
	t.flushInFlight.Store(false)
}

// FlushInFlight reports whether a flush is currently scheduled or running
// for this table.
func (t *Table) FlushInFlight() bool {
	return t.flushInFlight.Load()
}

// ShouldFlush reports whether enough rows have accumulated since the last
// scheduled flush to warrant scheduling another one. inFlight is true when
// a flush is already queued or running for this table; the caller must
// never schedule a second flush while one is in flight.
func (t *Table) ShouldFlush(inFlight bool) bool {
	if inFlight {
		return false
	}
	if t.flushThreshold == 0 {
		return false
	}
	return t.rowsSincePriorFlush.Load() >= t.flushThreshold
}
