package table

import (
	"sync"

	"github.com/ChuLiYu/shardkeeper/pkg/types"
)

// Set is the thread-safe table registry owned by one shard. Single source
// of truth is the map; callers needing a stable point-in-time view should
// use All.
type Set struct {
	mu     sync.RWMutex
	tables map[types.TableID]*Table
}

// NewSet returns an empty table registry.
func NewSet() *Set {
	return &Set{tables: make(map[types.TableID]*Table)}
}

// Insert adds or replaces a table, returning any table it displaced so the
// caller can log the replacement.
func (s *Set) Insert(t *Table) *Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.tables[t.ID]
	s.tables[t.ID] = t
	return prev
}

// Get returns the table for id, or nil if absent.
func (s *Set) Get(id types.TableID) *Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables[id]
}

// Remove deletes id from the set, returning the removed table or nil.
func (s *Set) Remove(id types.TableID) *Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[id]
	delete(s.tables, id)
	return t
}

// All returns a consistent point-in-time snapshot of every table.
func (s *Set) All() []*Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Table, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t)
	}
	return out
}

// Len reports how many tables are currently registered.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables)
}
