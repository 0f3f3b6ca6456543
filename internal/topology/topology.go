// Package topology implements the Topology Cache (C9): a cached view of
// cluster node membership that only ever moves forward. Concurrent fetches
// race to install a new version; the highest version installed wins, and a
// reader never observes a version going backwards.
package topology

import (
	"sync"

	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

// NodeTopology is one versioned snapshot of cluster membership.
type NodeTopology struct {
	Version uint64
	Nodes   []types.NodeShardsInfo
}

// Cache holds the latest known NodeTopology.
type Cache struct {
	mu    sync.RWMutex
	nodes *NodeTopology
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{}
}

// Nodes returns the cached topology, or ok=false if nothing has been
// installed yet.
func (c *Cache) Nodes() (NodeTopology, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.nodes == nil {
		return NodeTopology{}, false
	}
	return *c.nodes, true
}

// MaybeUpdate installs (nodes, version) iff version is strictly greater than
// the cached version, and reports whether it did. Two concurrent callers
// racing to update never leave the cache holding the older of the two
// versions.
func (c *Cache) MaybeUpdate(nodes []types.NodeShardsInfo, version uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodes != nil && version <= c.nodes.Version {
		return false
	}
	c.nodes = &NodeTopology{Version: version, Nodes: nodes}
	return true
}
