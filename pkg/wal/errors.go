package wal

import "errors"

var (
	// ErrChecksumMismatch is returned by a cursor when a decoded record's
	// checksum does not match its recomputed value. The log is treated as
	// corrupted from that point forward; the caller decides whether to abort
	// or truncate.
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")

	// ErrClosed is returned by Append once the WAL has been closed.
	ErrClosed = errors.New("wal: closed")

	// ErrEmptyWAL is not returned by this package: recovering per-table
	// sequence counters treats a missing or zero-length log file as holding
	// no sequences.
	ErrEmptyWAL = errors.New("wal: empty")
)
