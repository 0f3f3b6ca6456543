package metaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ChuLiYu/shardkeeper/internal/lock"
	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

const (
	nodesSegment       = "nodes"
	shardTablesSegment = "shard-tables"
	routesSegment      = "routes"
	metaSegment        = "meta"

	defaultRPCTimeout = 5 * time.Second
)

// EtcdConfig configures an EtcdClient. RootPath/ClusterName namespace its
// keys the same way lock.Config namespaces shard-lock keys, one level up
// under a sibling "meta" segment so the two never collide.
type EtcdConfig struct {
	RootPath    string
	ClusterName string
	RPCTimeout  time.Duration
}

func (c EtcdConfig) prefix() (string, error) {
	lockPrefix, err := lock.FormatShardLockKeyPrefix(c.RootPath, c.ClusterName)
	if err != nil {
		return "", err
	}
	// lockPrefix is "<root>/<cluster>/shards"; swap the leaf for "meta".
	base := lockPrefix[:len(lockPrefix)-len("shards")]
	return base + metaSegment, nil
}

func (c EtcdConfig) rpcTimeout() time.Duration {
	if c.RPCTimeout <= 0 {
		return defaultRPCTimeout
	}
	return c.RPCTimeout
}

// EtcdClient implements Client against an etcd keyspace.
type EtcdClient struct {
	client *clientv3.Client
	cfg    EtcdConfig
	prefix string
}

// NewEtcdClient validates cfg and returns a Client bound to client.
func NewEtcdClient(client *clientv3.Client, cfg EtcdConfig) (*EtcdClient, error) {
	prefix, err := cfg.prefix()
	if err != nil {
		return nil, fmt.Errorf("metaclient: %w", err)
	}
	return &EtcdClient{client: client, cfg: cfg, prefix: prefix}, nil
}

func (c *EtcdClient) nodeKey(nodeID types.NodeID) string {
	return fmt.Sprintf("%s/%s/%s", c.prefix, nodesSegment, nodeID)
}

func (c *EtcdClient) shardTablesKey(shardID types.ShardID) string {
	return fmt.Sprintf("%s/%s/%d", c.prefix, shardTablesSegment, shardID)
}

func (c *EtcdClient) routeKey(schemaName, tableName string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.prefix, routesSegment, schemaName, tableName)
}

func (c *EtcdClient) SendHeartbeat(ctx context.Context, nodeID types.NodeID, shards []types.ShardInfo) error {
	rpcCtx, cancel := context.WithTimeout(ctx, c.cfg.rpcTimeout())
	defer cancel()

	info := types.NodeShardsInfo{NodeID: nodeID, Shards: shards}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("metaclient: marshal heartbeat for node %s: %w", nodeID, err)
	}

	if _, err := c.client.Put(rpcCtx, c.nodeKey(nodeID), string(data)); err != nil {
		return fmt.Errorf("metaclient: send heartbeat for node %s: %w", nodeID, err)
	}
	return nil
}

func (c *EtcdClient) GetNodes(ctx context.Context) (NodesResponse, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, c.cfg.rpcTimeout())
	defer cancel()

	resp, err := c.client.Get(rpcCtx, c.prefix+"/"+nodesSegment+"/", clientv3.WithPrefix())
	if err != nil {
		return NodesResponse{}, fmt.Errorf("metaclient: get nodes: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return NodesResponse{}, ErrNodeNotFound
	}

	nodes := make([]types.NodeShardsInfo, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var info types.NodeShardsInfo
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			return NodesResponse{}, fmt.Errorf("metaclient: decode node record %q: %w", kv.Key, err)
		}
		nodes = append(nodes, info)
	}

	return NodesResponse{Version: uint64(resp.Header.Revision), Nodes: nodes}, nil
}

func (c *EtcdClient) GetTablesOfShards(ctx context.Context, shardIDs []types.ShardID) (map[types.ShardID]types.ShardInfo, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, c.cfg.rpcTimeout())
	defer cancel()

	out := make(map[types.ShardID]types.ShardInfo, len(shardIDs))
	for _, shardID := range shardIDs {
		resp, err := c.client.Get(rpcCtx, c.shardTablesKey(shardID))
		if err != nil {
			return nil, fmt.Errorf("metaclient: get tables of shard %d: %w", shardID, err)
		}
		if len(resp.Kvs) == 0 {
			continue
		}
		var info types.ShardInfo
		if err := json.Unmarshal(resp.Kvs[0].Value, &info); err != nil {
			return nil, fmt.Errorf("metaclient: decode shard-tables record for shard %d: %w", shardID, err)
		}
		out[shardID] = info
	}
	return out, nil
}

func (c *EtcdClient) RouteTables(ctx context.Context, schemaName string, tableNames []string) ([]types.RouteEntry, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, c.cfg.rpcTimeout())
	defer cancel()

	entries := make([]types.RouteEntry, 0, len(tableNames))
	for _, tableName := range tableNames {
		resp, err := c.client.Get(rpcCtx, c.routeKey(schemaName, tableName))
		if err != nil {
			return nil, fmt.Errorf("metaclient: route table %s.%s: %w", schemaName, tableName, err)
		}
		if len(resp.Kvs) == 0 {
			continue
		}
		var entry types.RouteEntry
		if err := json.Unmarshal(resp.Kvs[0].Value, &entry); err != nil {
			return nil, fmt.Errorf("metaclient: decode route record for %s.%s: %w", schemaName, tableName, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// PutShardTables publishes a shard's table assignment, as the coordinator
// itself would. This module doesn't run the coordinator side, but tests and
// local single-node setups need a way to seed it.
func (c *EtcdClient) PutShardTables(ctx context.Context, info types.ShardInfo) error {
	rpcCtx, cancel := context.WithTimeout(ctx, c.cfg.rpcTimeout())
	defer cancel()

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("metaclient: marshal shard-tables for shard %d: %w", info.ID, err)
	}
	if _, err := c.client.Put(rpcCtx, c.shardTablesKey(info.ID), string(data)); err != nil {
		return fmt.Errorf("metaclient: put shard-tables for shard %d: %w", info.ID, err)
	}
	return nil
}

// PutRoute publishes a table's route, as the coordinator itself would.
func (c *EtcdClient) PutRoute(ctx context.Context, schemaName string, entry types.RouteEntry) error {
	rpcCtx, cancel := context.WithTimeout(ctx, c.cfg.rpcTimeout())
	defer cancel()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("metaclient: marshal route for %s.%s: %w", schemaName, entry.TableName, err)
	}
	if _, err := c.client.Put(rpcCtx, c.routeKey(schemaName, entry.TableName), string(data)); err != nil {
		return fmt.Errorf("metaclient: put route for %s.%s: %w", schemaName, entry.TableName, err)
	}
	return nil
}

var _ Client = (*EtcdClient)(nil)
