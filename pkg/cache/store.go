package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is a byte-level key/value backend.
type Store interface {
	// Get returns ErrCacheMiss when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value; a non-positive ttl stores without expiry where the
	// backend allows it.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// Layer names the backend in metrics and logs.
	Layer() string
}

// NoOpStore caches nothing.
type NoOpStore struct{}

// NewNoOpStore creates a store that caches nothing.
func NewNoOpStore() *NoOpStore {
	return &NoOpStore{}
}

// Get always misses.
func (NoOpStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set does nothing.
func (NoOpStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

// Delete does nothing.
func (NoOpStore) Delete(ctx context.Context, key string) error {
	return nil
}

// Layer implements Store.
func (NoOpStore) Layer() string { return "none" }

type memoryItem struct {
	value   []byte
	expires time.Time
}

// MemoryStore is a process-local store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem)}
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()

	if !ok || (!item.expires.IsZero() && time.Now().After(item.expires)) {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), item.value...), nil
}

// Set implements Store.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expires = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Layer implements Store.
func (m *MemoryStore) Layer() string { return "memory" }

// Chain layers stores, fastest first. A hit in a later store is copied into
// the earlier ones.
type Chain struct {
	stores []Store
}

// NewChain creates a new store chain.
func NewChain(stores ...Store) *Chain {
	return &Chain{stores: stores}
}

// Get implements Store. The first non-miss error aborts the lookup.
func (c *Chain) Get(ctx context.Context, key string) ([]byte, error) {
	for i, store := range c.stores {
		value, err := store.Get(ctx, key)
		if errors.Is(err, ErrCacheMiss) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for j := 0; j < i; j++ {
			_ = c.stores[j].Set(ctx, key, value, 0)
		}
		return value, nil
	}
	return nil, ErrCacheMiss
}

// Set implements Store. Every store is written; the last error is returned.
func (c *Chain) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var lastErr error
	for _, store := range c.stores {
		if err := store.Set(ctx, key, value, ttl); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Delete implements Store.
func (c *Chain) Delete(ctx context.Context, key string) error {
	var lastErr error
	for _, store := range c.stores {
		if err := store.Delete(ctx, key); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Layer implements Store.
func (c *Chain) Layer() string { return "chain" }
