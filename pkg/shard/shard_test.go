package shard

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/shardkeeper/pkg/table"
	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

type fakeMemtable struct{}

func (fakeMemtable) Insert(rows []map[string]any) error { return nil }

func TestInsertReturnsDisplacedShard(t *testing.T) {
	s := NewSet()
	first := New(types.ShardID(1), 1)
	second := New(types.ShardID(1), 2)

	require.Nil(t, s.Insert(types.ShardID(1), first))
	displaced := s.Insert(types.ShardID(1), second)
	require.Same(t, first, displaced)
	require.Same(t, second, s.Get(types.ShardID(1)))
}

func TestRemoveAndAll(t *testing.T) {
	s := NewSet()
	s.Insert(types.ShardID(1), New(types.ShardID(1), 1))
	s.Insert(types.ShardID(2), New(types.ShardID(2), 1))

	require.Len(t, s.All(), 2)

	removed := s.Remove(types.ShardID(1))
	require.NotNil(t, removed)
	require.Len(t, s.All(), 1)
	require.Nil(t, s.Remove(types.ShardID(1)))
}

func TestFindTableSearchesAllOwnedShards(t *testing.T) {
	s := NewSet()
	sh := New(types.ShardID(1), 1)
	sh.Tables.Insert(table.NewWithSchema(types.TableID(1), "events", "public", 1, 0, fakeMemtable{}, 0))
	s.Insert(types.ShardID(1), sh)

	found := s.FindTable("public", "events")
	require.Same(t, sh, found)

	require.Nil(t, s.FindTable("public", "missing"))
}
