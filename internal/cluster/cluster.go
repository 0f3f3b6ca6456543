// Package cluster implements the Cluster Controller (C8): the node-local
// coordinator that opens/closes shards, drives the heartbeat loop, routes
// tables, and serves the cached topology. It owns no replay logic itself —
// OpenShard only materializes a Shard's tables; the caller is responsible
// for invoking pkg/replay against the shard it gets back.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/shardkeeper/internal/lock"
	"github.com/ChuLiYu/shardkeeper/internal/metaclient"
	"github.com/ChuLiYu/shardkeeper/internal/topology"
	"github.com/ChuLiYu/shardkeeper/pkg/shard"
	"github.com/ChuLiYu/shardkeeper/pkg/table"
	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

var log = slog.Default()

// ErrShardNotFound is returned by CloseShard when the requested shard is
// not owned by this node.
var ErrShardNotFound = errors.New("cluster: shard not found")

// ErrShardTablesMissing is returned by OpenShard when the coordinator has
// no table assignment recorded for the requested shard.
var ErrShardTablesMissing = errors.New("cluster: coordinator has no tables recorded for shard")

// ErrClusterNodesNotFound is returned by FetchNodes when the topology cache
// is empty and the coordinator fetch returned nothing usable.
type ErrClusterNodesNotFound struct {
	Version uint64
}

func (e *ErrClusterNodesNotFound) Error() string {
	return fmt.Sprintf("cluster: no node topology available (last known version %d)", e.Version)
}

// OpenShardError is returned by OpenShard when the requested version is
// smaller than (or otherwise incompatible with) the currently-open shard.
type OpenShardError struct {
	ShardID types.ShardID
	Msg     string
}

func (e *OpenShardError) Error() string {
	return fmt.Sprintf("cluster: open shard %d: %s", e.ShardID, e.Msg)
}

// MemtableFactory builds the memtable a newly-opened table should write
// into. Memtable internals (arena, SST format) are an external collaborator
// this module never needs to know about.
type MemtableFactory func(info types.TableInfo) table.Memtable

// Config configures a Controller.
type Config struct {
	NodeID         types.NodeID
	LeaseMillis    int64
	FlushThreshold uint64
	NewMemtable    MemtableFactory
}

// Controller is the node-local Cluster Controller.
type Controller struct {
	meta    metaclient.Client
	locks   *lock.Manager
	shards  *shard.Set
	topo    *topology.Cache
	cfg     Config

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewController wires a Controller against its coordinator client and lock
// manager. Both are shared, internally-synchronized handles; Controller
// does not wrap them in any further locking of its own.
func NewController(meta metaclient.Client, locks *lock.Manager, cfg Config) *Controller {
	if cfg.NewMemtable == nil {
		cfg.NewMemtable = func(types.TableInfo) table.Memtable { return noopMemtable{} }
	}
	return &Controller{
		meta:   meta,
		locks:  locks,
		shards: shard.NewSet(),
		topo:   topology.NewCache(),
		cfg:    cfg,
	}
}

// noopMemtable is the degenerate default for nodes that haven't wired a
// real memtable yet (e.g. the run command, whose Config sets no
// NewMemtable); it discards every row.
type noopMemtable struct{}

func (noopMemtable) Insert([]map[string]any) error { return nil }

// Start launches the heartbeat loop. Calling Start twice is a no-op.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.stopCh = make(chan struct{}, 1)
	c.doneCh = make(chan struct{})
	go c.heartbeatLoop()
	log.Info("cluster controller started", "node_id", c.cfg.NodeID)
}

// Stop signals the heartbeat loop to exit and waits for it to finish. It is
// idempotent and safe to call even if Start was never called.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	select {
	case stopCh <- struct{}{}:
	default:
	}
	<-doneCh
	log.Info("cluster controller stopped", "node_id", c.cfg.NodeID)
}

func (c *Controller) heartbeatInterval() time.Duration {
	return time.Duration(c.cfg.LeaseMillis*2/3) * time.Millisecond
}

func (c *Controller) errorWaitLease() time.Duration {
	return time.Duration(c.cfg.LeaseMillis/2) * time.Millisecond
}

func (c *Controller) heartbeatLoop() {
	defer close(c.doneCh)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-c.stopCh:
			log.Warn("heartbeat loop received stop signal")
			return
		case <-timer.C:
		}

		infos := c.ListShards()
		err := c.meta.SendHeartbeat(context.Background(), c.cfg.NodeID, infos)

		wait := c.heartbeatInterval()
		if err != nil {
			log.Error("send heartbeat failed", "error", err)
			wait = c.errorWaitLease()
		}
		timer.Reset(wait)
	}
}

// OpenShard materializes shardInfo's tables in the local shard/table
// registries. It is idempotent on an identical (id, version) pair, replaces
// an older version already present, and fails if a newer version is
// already present.
func (c *Controller) OpenShard(ctx context.Context, info types.ShardInfo) (*shard.Shard, error) {
	if existing := c.shards.Get(info.ID); existing != nil {
		if existing.Version == info.Version {
			log.Info("shard already open at this version, skipping", "shard_id", info.ID, "version", info.Version)
			return existing, nil
		}
		if existing.Version > info.Version {
			return nil, &OpenShardError{
				ShardID: info.ID,
				Msg:     fmt.Sprintf("open a shard with a smaller version, current=%d new=%d", existing.Version, info.Version),
			}
		}
	}

	resp, err := c.meta.GetTablesOfShards(ctx, []types.ShardID{info.ID})
	if err != nil {
		return nil, fmt.Errorf("cluster: open shard %d: %w", info.ID, err)
	}
	shardInfo, ok := resp[info.ID]
	if !ok {
		return nil, fmt.Errorf("cluster: open shard %d: %w", info.ID, ErrShardTablesMissing)
	}

	newShard := shard.New(info.ID, shardInfo.Version)
	for _, ti := range shardInfo.Tables {
		ti.ShardID = info.ID
		mt := c.cfg.NewMemtable(ti)
		newShard.Tables.Insert(table.NewWithSchema(ti.ID, ti.Name, ti.Schema, 0, 0, mt, c.cfg.FlushThreshold))
	}
	newShard.Status = types.ShardReady

	if old := c.shards.Insert(info.ID, newShard); old != nil {
		log.Info("replaced older shard version", "shard_id", info.ID, "old_version", old.Version, "new_version", newShard.Version)
	}
	return newShard, nil
}

// CloseShard removes shardID from the local registry.
func (c *Controller) CloseShard(shardID types.ShardID) (*shard.Shard, error) {
	sh := c.shards.Remove(shardID)
	if sh == nil {
		return nil, fmt.Errorf("cluster: close shard %d: %w", shardID, ErrShardNotFound)
	}
	return sh, nil
}

// RouteTables is a pass-through to the coordinator; there is no local cache
// of routes yet (a documented future optimization).
func (c *Controller) RouteTables(ctx context.Context, schemaName string, tableNames []string) ([]types.RouteEntry, error) {
	return c.meta.RouteTables(ctx, schemaName, tableNames)
}

// FetchNodes returns the cached topology if present; otherwise it fetches
// from the coordinator and installs the result under the cache's
// monotonic-version rule, returning whichever version ends up installed.
func (c *Controller) FetchNodes(ctx context.Context) (topology.NodeTopology, error) {
	if cached, ok := c.topo.Nodes(); ok {
		return cached, nil
	}

	resp, err := c.meta.GetNodes(ctx)
	if err != nil {
		if errors.Is(err, metaclient.ErrNodeNotFound) {
			return topology.NodeTopology{}, &ErrClusterNodesNotFound{}
		}
		return topology.NodeTopology{}, fmt.Errorf("cluster: fetch nodes: %w", err)
	}

	if c.topo.MaybeUpdate(resp.Nodes, resp.Version) {
		return topology.NodeTopology{Version: resp.Version, Nodes: resp.Nodes}, nil
	}

	cached, ok := c.topo.Nodes()
	if !ok {
		return topology.NodeTopology{}, &ErrClusterNodesNotFound{Version: resp.Version}
	}
	return cached, nil
}

// ListShards returns a ShardInfo snapshot of every shard this node owns.
func (c *Controller) ListShards() []types.ShardInfo {
	shards := c.shards.All()
	out := make([]types.ShardInfo, 0, len(shards))
	for _, sh := range shards {
		out = append(out, shardInfo(sh))
	}
	return out
}

func shardInfo(sh *shard.Shard) types.ShardInfo {
	tables := sh.Tables.All()
	infos := make([]types.TableInfo, 0, len(tables))
	for _, t := range tables {
		infos = append(infos, types.TableInfo{ID: t.ID, Schema: t.Schema, Name: t.Name, ShardID: sh.ID})
	}
	return types.ShardInfo{ID: sh.ID, Version: sh.Version, Tables: infos}
}

// Shard returns the shard for id, or nil if this node does not own it.
func (c *Controller) Shard(shardID types.ShardID) *shard.Shard {
	return c.shards.Get(shardID)
}

// ShardLockManager returns the lock manager backing this controller.
func (c *Controller) ShardLockManager() *lock.Manager {
	return c.locks
}
