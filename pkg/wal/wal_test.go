package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

func openTestWAL(t *testing.T) (*WAL, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "shard.wal")
	w, err := Open(path, types.ShardID(1), Options{BufferSize: 4, FlushInterval: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, path
}

func writePayload(rows int) types.Payload {
	rowGroup := types.RowGroup{SchemaVersion: 1}
	for i := 0; i < rows; i++ {
		rowGroup.Rows = append(rowGroup.Rows, map[string]any{"i": i})
	}
	return types.Payload{Kind: types.PayloadWrite, RowGroup: rowGroup}
}

func TestAppendAssignsPerTableMonotonicSequence(t *testing.T) {
	w, _ := openTestWAL(t)

	seq1, err := w.Append(types.TableID(1), writePayload(1))
	require.NoError(t, err)
	require.Equal(t, types.Sequence(1), seq1)

	seq2, err := w.Append(types.TableID(1), writePayload(1))
	require.NoError(t, err)
	require.Equal(t, types.Sequence(2), seq2)

	seqOtherTable, err := w.Append(types.TableID(2), writePayload(1))
	require.NoError(t, err)
	require.Equal(t, types.Sequence(1), seqOtherTable)
}

func TestReadReturnsOnlyRequestedTableWithinBounds(t *testing.T) {
	w, _ := openTestWAL(t)

	for i := 0; i < 3; i++ {
		_, err := w.Append(types.TableID(1), writePayload(1))
		require.NoError(t, err)
	}
	_, err := w.Append(types.TableID(2), writePayload(1))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	cursor, err := w.Read(types.TableLocation{ShardID: 1, TableID: 1}, types.ExcludedBoundary(1), types.MaxBoundary())
	require.NoError(t, err)
	defer cursor.Close()

	entries, err := cursor.NextLogEntries(10, nil, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, types.TableID(1), e.TableID)
		require.Greater(t, uint64(e.Sequence), uint64(1))
	}
}

func TestScanReturnsAllTablesInPhysicalOrder(t *testing.T) {
	w, _ := openTestWAL(t)

	order := []types.TableID{1, 1, 2, 3, 1}
	for _, tableID := range order {
		_, err := w.Append(tableID, writePayload(1))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	cursor, err := w.Scan(types.ShardID(1))
	require.NoError(t, err)
	defer cursor.Close()

	entries, err := cursor.NextLogEntries(100, nil, nil)
	require.NoError(t, err)
	require.Len(t, entries, len(order))
	for i, e := range entries {
		require.Equal(t, order[i], e.TableID)
	}
}

func TestScanRejectsMismatchedShardID(t *testing.T) {
	w, _ := openTestWAL(t)
	_, err := w.Scan(types.ShardID(99))
	require.Error(t, err)
}

func TestRecoversSequencesAcrossReopen(t *testing.T) {
	w, path := openTestWAL(t)
	_, err := w.Append(types.TableID(1), writePayload(1))
	require.NoError(t, err)
	_, err = w.Append(types.TableID(1), writePayload(1))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := Open(path, types.ShardID(1), Options{})
	require.NoError(t, err)
	defer w2.Close()

	require.Equal(t, types.Sequence(2), w2.LastSequence(types.TableID(1)))

	seq, err := w2.Append(types.TableID(1), writePayload(1))
	require.NoError(t, err)
	require.Equal(t, types.Sequence(3), seq)
}

func TestChecksumMismatchFailsReopen(t *testing.T) {
	w, path := openTestWAL(t)
	_, err := w.Append(types.TableID(1), writePayload(1))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	corrupt := []byte(`{"table_id":1,"sequence":1,"kind":0,"checksum":999999}` + "\n")
	require.NoError(t, os.WriteFile(path, corrupt, 0o644))

	w2, err := Open(path, types.ShardID(1), Options{})
	require.Error(t, err)
	require.Nil(t, w2)
}
