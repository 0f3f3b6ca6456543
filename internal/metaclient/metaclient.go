// Package metaclient collapses the meta-RPC channel and the coordinator KV
// store into a single client interface. The original system talks to its
// coordinator over two channels (a gRPC meta service for heartbeat/routing,
// and etcd directly for shard locks); this codebase has no client-facing
// RPC surface of its own, so both are implemented against the same etcd
// keyspace, under a namespace separate from the lock package's shard-lock
// keys.
package metaclient

import (
	"context"
	"errors"

	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

// ErrNodeNotFound is returned when no node registration exists yet.
var ErrNodeNotFound = errors.New("metaclient: no node registrations found")

// ErrShardTablesNotFound names the case where the coordinator has no table
// assignment recorded for a requested shard. Neither Client implementation
// returns it: GetTablesOfShards leaves such a shard out of its result map.
var ErrShardTablesNotFound = errors.New("metaclient: no tables recorded for shard")

// NodesResponse is the coordinator's answer to GetNodes.
type NodesResponse struct {
	Version uint64
	Nodes   []types.NodeShardsInfo
}

// Client is the narrow seam the cluster controller (C8) calls through for
// every coordinator interaction: heartbeat, node discovery, shard-table
// lookup on open, and table routing.
type Client interface {
	// SendHeartbeat reports this node's current shard set to the
	// coordinator.
	SendHeartbeat(ctx context.Context, nodeID types.NodeID, shards []types.ShardInfo) error

	// GetNodes returns every node's last-reported shard set, plus a
	// version the caller can use for monotonic cache updates.
	GetNodes(ctx context.Context) (NodesResponse, error)

	// GetTablesOfShards returns the coordinator's table assignment for
	// each requested shard. A shard with no recorded assignment is
	// simply absent from the result map.
	GetTablesOfShards(ctx context.Context, shardIDs []types.ShardID) (map[types.ShardID]types.ShardInfo, error)

	// RouteTables resolves table names to their owning shard and node.
	RouteTables(ctx context.Context, schemaName string, tableNames []string) ([]types.RouteEntry, error)
}
