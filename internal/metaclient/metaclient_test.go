package metaclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

func TestMemoryClientGetNodesReturnsErrorWhenEmpty(t *testing.T) {
	c := NewMemoryClient()
	_, err := c.GetNodes(context.Background())
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestMemoryClientHeartbeatThenGetNodesRoundTrips(t *testing.T) {
	c := NewMemoryClient()
	shards := []types.ShardInfo{{ID: 1, Version: 1}}
	require.NoError(t, c.SendHeartbeat(context.Background(), types.NodeID("node-1"), shards))

	resp, err := c.GetNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Nodes, 1)
	require.Equal(t, types.NodeID("node-1"), resp.Nodes[0].NodeID)
	require.Equal(t, shards, resp.Nodes[0].Shards)
}

func TestMemoryClientGetTablesOfShardsOmitsUnknownShards(t *testing.T) {
	c := NewMemoryClient()
	c.PutShardTables(types.ShardInfo{ID: 1, Version: 1, Tables: []types.TableInfo{{ID: 10, Name: "events"}}})

	out, err := c.GetTablesOfShards(context.Background(), []types.ShardID{1, 2})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Contains(t, out, types.ShardID(1))
	require.NotContains(t, out, types.ShardID(2))
}

func TestMemoryClientRouteTablesOmitsUnknownTables(t *testing.T) {
	c := NewMemoryClient()
	c.PutRoute("public", types.RouteEntry{TableName: "events", ShardID: 1, NodeID: "node-1"})

	entries, err := c.RouteTables(context.Background(), "public", []string{"events", "missing"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "events", entries[0].TableName)
}

func TestEtcdConfigPrefixSitsAlongsideLockKeys(t *testing.T) {
	cfg := EtcdConfig{RootPath: "/horaedb", ClusterName: "defaultCluster"}
	prefix, err := cfg.prefix()
	require.NoError(t, err)
	require.Equal(t, "/horaedb/defaultCluster/meta", prefix)
}

func TestEtcdConfigPrefixRejectsBadRoot(t *testing.T) {
	cfg := EtcdConfig{RootPath: "vvv", ClusterName: "defaultCluster"}
	_, err := cfg.prefix()
	require.Error(t, err)
}
