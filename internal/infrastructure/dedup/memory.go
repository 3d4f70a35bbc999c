package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-node duplicate suppressor: a mutex-guarded map
// of claim expiries. The key space is bounded by strategies x symbols x
// actions, and expired entries are dropped on access, so it never needs a
// sweeper goroutine.
type MemoryStore struct {
	mu     sync.Mutex
	claims map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{claims: make(map[string]time.Time)}
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.claims[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.claims[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.claims[key]
	if !ok {
		return false, nil
	}
	if !now.Before(expiry) {
		delete(s.claims, key)
		return false, nil
	}
	return true, nil
}
