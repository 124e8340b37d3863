package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryRefreshStore implements RefreshTokenStore using ttlcache. Suitable
// for tests and single-node development; production uses the redis adapter.
type MemoryRefreshStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, string]
}

// NewMemoryRefreshStore creates an in-memory store with automatic cleanup.
func NewMemoryRefreshStore() *MemoryRefreshStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()

	return &MemoryRefreshStore{cache: cache}
}

// Get implements RefreshTokenStore.Get.
func (s *MemoryRefreshStore) Get(_ context.Context, provider, subjectID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(Key(provider, subjectID))
	if item == nil || item.IsExpired() {
		return "", ErrNotFound
	}
	return item.Value(), nil
}

// Set implements RefreshTokenStore.Set.
func (s *MemoryRefreshStore) Set(_ context.Context, provider, subjectID, tokenValue string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Set(Key(provider, subjectID), tokenValue, ttl)
	return nil
}

// Replace implements RefreshTokenStore.Replace. The mutex makes the
// read-compare-write atomic with respect to concurrent rotations.
func (s *MemoryRefreshStore) Replace(_ context.Context, provider, subjectID, prev, next string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(provider, subjectID)
	item := s.cache.Get(key)
	if item == nil || item.IsExpired() || item.Value() != prev {
		return false, nil
	}
	s.cache.Set(key, next, ttl)
	return true, nil
}

// Delete implements RefreshTokenStore.Delete.
func (s *MemoryRefreshStore) Delete(_ context.Context, provider, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Delete(Key(provider, subjectID))
	return nil
}

// Close stops the cleanup goroutine.
func (s *MemoryRefreshStore) Close() error {
	s.cache.Stop()
	return nil
}

var _ RefreshTokenStore = (*MemoryRefreshStore)(nil)
