package metadata

import (
	"context"
	"sync"
	"time"
)

// cacheEntry represents a cached catalogue
type cacheEntry struct {
	Value     *Catalogue
	ExpiresAt time.Time
}

// MemoryStore keeps catalogues in process with a TTL.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a store and starts its cleanup goroutine.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	store := &MemoryStore{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go store.cleanup()

	return store
}

// Get returns the cached catalogue or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, bucket string) (*Catalogue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[bucket]
	if !exists || time.Now().After(entry.ExpiresAt) {
		return nil, ErrNotFound
	}
	return entry.Value, nil
}

// Put stores cat under its bucket.
func (s *MemoryStore) Put(_ context.Context, cat *Catalogue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[cat.Bucket] = &cacheEntry{
		Value:     cat,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	return nil
}

// Invalidate drops one bucket; an empty bucket drops everything.
func (s *MemoryStore) Invalidate(_ context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bucket == "" {
		s.entries = make(map[string]*cacheEntry)
		return nil
	}
	delete(s.entries, bucket)
	return nil
}

// cleanup periodically removes expired entries
func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for key, entry := range s.entries {
				if now.After(entry.ExpiresAt) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stopCh) })
	return nil
}

// Stats returns cache statistics
func (s *MemoryStore) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expired := 0
	now := time.Now()
	for _, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			expired++
		}
	}

	return map[string]interface{}{
		"total_entries":   len(s.entries),
		"expired_entries": expired,
		"active_entries":  len(s.entries) - expired,
		"ttl_seconds":     s.ttl.Seconds(),
	}
}
