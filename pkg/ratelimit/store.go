package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore persists the last observed rate limit state. A shared store (redis)
// lets several processes using the same API key see each other's headers.
type StateStore interface {
	// Load returns the stored state, or DefaultState when nothing was stored yet.
	Load(ctx context.Context) (*RateLimitState, error)
	Save(ctx context.Context, state *RateLimitState) error
}

// MemoryStore keeps the state in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	state *RateLimitState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements StateStore.
func (m *MemoryStore) Load(ctx context.Context) (*RateLimitState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state == nil {
		return DefaultState(), nil
	}
	cp := *m.state
	return &cp, nil
}

// Save implements StateStore.
func (m *MemoryStore) Save(ctx context.Context, state *RateLimitState) error {
	if state == nil {
		return errors.New("rate limit state cannot be nil")
	}
	cp := *state

	m.mu.Lock()
	m.state = &cp
	m.mu.Unlock()
	return nil
}

// RedisStore keeps the state in redis under the RedisKey* keys, or under
// scoped keys for NewScopedRedisStore.
type RedisStore struct {
	redis *redis.Client
	keys  redisKeys
}

type redisKeys struct {
	limit, remaining, resetTimestamp, lastUpdate string
}

// redisKeysFor returns the keys of one scope. The empty scope maps to the
// RedisKey* constants.
func redisKeysFor(scope string) redisKeys {
	if scope == "" {
		return redisKeys{
			limit:          RedisKeyLimit,
			remaining:      RedisKeyRemaining,
			resetTimestamp: RedisKeyResetTimestamp,
			lastUpdate:     RedisKeyLastUpdate,
		}
	}
	prefix := "close:rate_limit:" + scope + ":"
	return redisKeys{
		limit:          prefix + "limit",
		remaining:      prefix + "remaining",
		resetTimestamp: prefix + "reset_timestamp",
		lastUpdate:     prefix + "last_update",
	}
}

// NewRedisStore creates a redis-backed store on the unscoped keys.
func NewRedisStore(client *redis.Client) *RedisStore {
	return NewScopedRedisStore(client, "")
}

// NewScopedRedisStore creates a redis-backed store whose keys carry scope.
// Processes share a window only when they use the same scope.
func NewScopedRedisStore(client *redis.Client, scope string) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: client, keys: redisKeysFor(scope)}
}

// Load implements StateStore.
func (r *RedisStore) Load(ctx context.Context) (*RateLimitState, error) {
	remaining, err := r.redis.Get(ctx, r.keys.remaining).Int()
	if errors.Is(err, redis.Nil) {
		return DefaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	limit, err := r.redis.Get(ctx, r.keys.limit).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get limit: %w", err)
	}

	resetTimestamp, err := r.redis.Get(ctx, r.keys.resetTimestamp).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdateStr, err := r.redis.Get(ctx, r.keys.lastUpdate).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &RateLimitState{
		Limit:      limit,
		Remaining:  remaining,
		ResetAt:    time.UnixMilli(resetTimestamp),
		LastUpdate: lastUpdate,
	}
	state.UpdateHealth()
	return state, nil
}

// Save implements StateStore. The keys expire shortly after the window resets.
func (r *RedisStore) Save(ctx context.Context, state *RateLimitState) error {
	if state == nil {
		return errors.New("rate limit state cannot be nil")
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	ttl := state.TimeUntilReset() + time.Minute

	pipe := r.redis.Pipeline()
	pipe.Set(ctx, r.keys.limit, state.Limit, ttl)
	pipe.Set(ctx, r.keys.remaining, state.Remaining, ttl)
	pipe.Set(ctx, r.keys.resetTimestamp, state.ResetAt.UnixMilli(), ttl)
	pipe.Set(ctx, r.keys.lastUpdate, lastUpdateJSON, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}
