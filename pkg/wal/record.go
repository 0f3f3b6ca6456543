package wal

import (
	"fmt"
	"hash/crc32"

	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

// record is the on-disk JSON representation of one types.LogEntry. Rows are
// carried as a generic map slice: row encoding itself belongs to the
// memtable/SST layer, an external collaborator this package never imports.
type record struct {
	TableID       types.TableID       `json:"table_id"`
	Sequence      types.Sequence      `json:"sequence"`
	Kind          types.PayloadKind   `json:"kind"`
	Rows          []map[string]any    `json:"rows,omitempty"`
	SchemaVersion types.SchemaVersion `json:"schema_version,omitempty"`
	Checksum      uint32              `json:"checksum"`
}

func newRecord(tableID types.TableID, seq types.Sequence, payload types.Payload) record {
	r := record{
		TableID:       tableID,
		Sequence:      seq,
		Kind:          payload.Kind,
		Rows:          payload.RowGroup.Rows,
		SchemaVersion: payload.RowGroup.SchemaVersion,
	}
	r.Checksum = calculateChecksum(r)
	return r
}

// calculateChecksum hashes the identity and shape of a record, not its full
// row contents — mirroring the teacher WAL's event checksum, which covers
// type+id+seq rather than the full payload.
func calculateChecksum(r record) uint32 {
	s := fmt.Sprintf("%d|%d|%d|%d|%d", r.TableID, r.Sequence, r.Kind, r.SchemaVersion, len(r.Rows))
	return crc32.ChecksumIEEE([]byte(s))
}

func verifyChecksum(r record) bool {
	return r.Checksum == calculateChecksum(r)
}

func (r record) toLogEntry() types.LogEntry {
	return types.LogEntry{
		TableID:  r.TableID,
		Sequence: r.Sequence,
		Payload: types.Payload{
			Kind: r.Kind,
			RowGroup: types.RowGroup{
				Rows:          r.Rows,
				SchemaVersion: r.SchemaVersion,
			},
		},
	}
}
