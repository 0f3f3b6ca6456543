package metaclient

import (
	"context"
	"sync"

	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

// MemoryClient is an in-memory Client, the same mutex-guarded-map shape this
// codebase already uses for in-memory stand-ins of normally-remote
// infrastructure. It backs unit tests for the cluster controller without
// requiring a real etcd cluster.
type MemoryClient struct {
	mu     sync.Mutex
	nodes  map[types.NodeID]types.NodeShardsInfo
	shards map[types.ShardID]types.ShardInfo
	routes map[string]types.RouteEntry
	rev    uint64
}

// NewMemoryClient returns an empty MemoryClient.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		nodes:  make(map[types.NodeID]types.NodeShardsInfo),
		shards: make(map[types.ShardID]types.ShardInfo),
		routes: make(map[string]types.RouteEntry),
	}
}

func (m *MemoryClient) SendHeartbeat(_ context.Context, nodeID types.NodeID, shards []types.ShardInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[nodeID] = types.NodeShardsInfo{NodeID: nodeID, Shards: shards}
	m.rev++
	return nil
}

func (m *MemoryClient) GetNodes(_ context.Context) (NodesResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.nodes) == 0 {
		return NodesResponse{}, ErrNodeNotFound
	}
	nodes := make([]types.NodeShardsInfo, 0, len(m.nodes))
	for _, info := range m.nodes {
		nodes = append(nodes, info)
	}
	return NodesResponse{Version: m.rev, Nodes: nodes}, nil
}

func (m *MemoryClient) GetTablesOfShards(_ context.Context, shardIDs []types.ShardID) (map[types.ShardID]types.ShardInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[types.ShardID]types.ShardInfo, len(shardIDs))
	for _, id := range shardIDs {
		if info, ok := m.shards[id]; ok {
			out[id] = info
		}
	}
	return out, nil
}

func (m *MemoryClient) RouteTables(_ context.Context, schemaName string, tableNames []string) ([]types.RouteEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]types.RouteEntry, 0, len(tableNames))
	for _, name := range tableNames {
		if entry, ok := m.routes[schemaName+"."+name]; ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// PutShardTables seeds a shard's table assignment, standing in for the
// coordinator side this module doesn't run.
func (m *MemoryClient) PutShardTables(info types.ShardInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shards[info.ID] = info
}

// PutRoute seeds a table route, standing in for the coordinator side.
func (m *MemoryClient) PutRoute(schemaName string, entry types.RouteEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[schemaName+"."+entry.TableName] = entry
}

var _ Client = (*MemoryClient)(nil)
