package engine

import (
	"sync"

	"github.com/deenoize/crypto-p2p-ai/internal/adapter"
)

// SnapshotKey scopes differ state. Buy and sell sides, pairs and exchanges
// are always tracked independently.
type SnapshotKey struct {
	Exchange adapter.Exchange
	Pair     string
	Side     adapter.Side
}

// IDSet is a set of order ids.
type IDSet map[string]struct{}

// IDsOf collects the ids of orders.
func IDsOf(orders []Order) IDSet {
	ids := make(IDSet, len(orders))
	for _, o := range orders {
		ids[o.ID] = struct{}{}
	}
	return ids
}

// HasChanged reports whether the id set of orders differs from previous.
// Field changes on orders whose ids are unchanged do not count.
func HasChanged(orders []Order, previous IDSet) bool {
	current := IDsOf(orders)
	if len(current) != len(previous) {
		return true
	}
	for id := range current {
		if _, ok := previous[id]; !ok {
			return true
		}
	}
	return false
}

// IDStore holds the previous cycle's id set per key. Callers must commit
// each key at most once per cycle from a single goroutine.
type IDStore interface {
	Previous(key SnapshotKey) IDSet
	Commit(key SnapshotKey, ids IDSet)
}

// MemoryIDStore is an in-process IDStore. Only the latest set per key is
// retained.
type MemoryIDStore struct {
	mu   sync.RWMutex
	sets map[SnapshotKey]IDSet
}

// NewMemoryIDStore creates an empty store.
func NewMemoryIDStore() *MemoryIDStore {
	return &MemoryIDStore{sets: make(map[SnapshotKey]IDSet)}
}

// Previous returns the committed set for key, or nil if none.
func (s *MemoryIDStore) Previous(key SnapshotKey) IDSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sets[key]
}

// Commit replaces the set for key.
func (s *MemoryIDStore) Commit(key SnapshotKey, ids IDSet) {
	s.mu.Lock()
	s.sets[key] = ids
	s.mu.Unlock()
}
