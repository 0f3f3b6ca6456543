package wal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

// Cursor is a forward-only iterator over a WAL file, shared by Read (one
// table, bounded by sequence) and Scan (the whole region, physical order).
// It is not safe for concurrent use by multiple goroutines.
type Cursor struct {
	file    *os.File
	decoder *json.Decoder

	hasTableFilter bool
	tableID        types.TableID
	start          types.ReadBoundary
	end            types.ReadBoundary

	done bool
}

func openCursor(path string) (*Cursor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wal: open for read: %w", err)
	}
	return &Cursor{file: f, decoder: json.NewDecoder(f)}, nil
}

// Close releases the underlying file handle. Safe to call multiple times.
func (c *Cursor) Close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// NextLogEntries appends up to batchSize decoded entries satisfying
// predicate(table_id) into buf[:0], reusing its backing array. A returned
// slice of length 0 (with nil error) signals end-of-stream.
func (c *Cursor) NextLogEntries(batchSize int, predicate func(types.TableID) bool, buf []types.LogEntry) ([]types.LogEntry, error) {
	buf = buf[:0]
	if c.done {
		return buf, nil
	}

	for len(buf) < batchSize {
		var rec record
		err := c.decoder.Decode(&rec)
		if err == io.EOF {
			c.done = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("wal: decode entry: %w", err)
		}
		if !verifyChecksum(rec) {
			return nil, ErrChecksumMismatch
		}

		if c.hasTableFilter && rec.TableID != c.tableID {
			continue
		}
		if !withinBounds(rec.Sequence, c.start, c.end) {
			continue
		}
		if predicate != nil && !predicate(rec.TableID) {
			continue
		}

		buf = append(buf, rec.toLogEntry())
	}

	return buf, nil
}

func withinBounds(seq types.Sequence, start, end types.ReadBoundary) bool {
	if !start.IsMin && seq <= start.Excluded {
		return false
	}
	if !end.IsMax && seq > end.Excluded {
		return false
	}
	return true
}
