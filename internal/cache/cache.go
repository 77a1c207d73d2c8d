package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Key is a stable fingerprint over (cluster, namespace, kind, name) used to
// index snapshots. The name component is optional (empty for list snapshots).
type Key string

// Fingerprint derives the cache key for a resource scope.
func Fingerprint(cluster, namespace, kind, name string) Key {
	return Key(strings.Join([]string{cluster, namespace, kind, name}, "/"))
}

// Cluster returns the cluster component of the key.
func (k Key) Cluster() string {
	parts := strings.SplitN(string(k), "/", 2)
	return parts[0]
}

// Snapshot is a last-known resource payload with its insertion time.
type Snapshot struct {
	Payload    string // JSON as produced by the cluster client
	InsertedAt time.Time
}

// Store is a bounded, least-recently-used cache of resource snapshots. It is
// mutated only through the cluster client's ingestion path and the
// dispatcher's write-through; eviction happens before insert and never fails.
type Store struct {
	mu  sync.Mutex
	lru *simplelru.LRU[Key, Snapshot]
}

// New creates a store holding at most capacity entries.
func New(capacity int) (*Store, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	l, err := simplelru.NewLRU[Key, Snapshot](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}
	return &Store{lru: l}, nil
}

// Get returns the snapshot for key, marking it as recently used. A miss is
// not an error; it signals the caller to do a live fetch.
func (s *Store) Get(key Key) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Get(key)
}

// Put inserts or replaces the snapshot for key, evicting the least recently
// used entry first when the store is full.
func (s *Store) Put(key Key, snap Snapshot) {
	if snap.InsertedAt.IsZero() {
		snap.InsertedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Add(key, snap)
}

// Invalidate removes every entry whose key matches pred and returns the
// number removed. The whole sweep runs in one critical section, so no reader
// observes a half-invalidated state.
func (s *Store) Invalidate(pred func(Key) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, key := range s.lru.Keys() {
		if pred(key) {
			s.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// InvalidateCluster removes every entry scoped to the given cluster.
func (s *Store) InvalidateCluster(cluster string) int {
	return s.Invalidate(func(k Key) bool { return k.Cluster() == cluster })
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Keys returns the cached keys, oldest first.
func (s *Store) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Keys()
}
