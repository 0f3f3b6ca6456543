// Package shard holds the process-wide Shard Set (C6): the registry of
// shards this node currently owns, and the tables each of them contains.
// A Shard is mutated only by the holder of its distributed lock (see
// internal/lock); this package enforces that at the map level with a
// read-write lock but trusts the caller for the lock-ownership invariant
// itself, same division of responsibility the original design document
// draws between C6 and C7.
package shard

import (
	"sync"

	"github.com/ChuLiYu/shardkeeper/pkg/table"
	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

// Shard is one unit of ownership: an identity, a monotonic version, its
// member tables, and a lifecycle status.
type Shard struct {
	ID      types.ShardID
	Version uint64
	Tables  *table.Set
	Status  types.ShardStatus
}

// New returns a freshly Opening shard with an empty table set.
func New(id types.ShardID, version uint64) *Shard {
	return &Shard{ID: id, Version: version, Tables: table.NewSet(), Status: types.ShardOpening}
}

// Set is the thread-safe registry of shards owned by this node.
type Set struct {
	mu     sync.RWMutex
	shards map[types.ShardID]*Shard
}

// NewSet returns an empty shard registry.
func NewSet() *Set {
	return &Set{shards: make(map[types.ShardID]*Shard)}
}

// Insert adds or overwrites shardID's entry, returning any shard it
// displaced so the caller can log the replacement.
func (s *Set) Insert(id types.ShardID, sh *Shard) *Shard {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.shards[id]
	s.shards[id] = sh
	return prev
}

// Get returns the shard for id, or nil if this node does not own it.
func (s *Set) Get(id types.ShardID) *Shard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shards[id]
}

// Remove deletes id from the set, returning the removed shard or nil.
func (s *Set) Remove(id types.ShardID) *Shard {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh := s.shards[id]
	delete(s.shards, id)
	return sh
}

// All returns a consistent point-in-time copy, used by the heartbeat loop
// and by routing lookups.
func (s *Set) All() []*Shard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Shard, 0, len(s.shards))
	for _, sh := range s.shards {
		out = append(out, sh)
	}
	return out
}

// FindTable linearly searches every owned shard for a table matching schema
// and name, mirroring the coordinator's own table identity (schema, name)
// rather than this node's internal table id.
func (s *Set) FindTable(schema, tableName string) *Shard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sh := range s.shards {
		for _, t := range sh.Tables.All() {
			if t.Name == tableName && t.Schema == schema {
				return sh
			}
		}
	}
	return nil
}
