// Package cache stores catalog snapshots so that schema lookups survive
// process restarts and can be shared between processes using the same
// Close organization.
//
// Backends implement the byte-level Store interface:
//
//   - MemoryStore - process local
//   - RedisStore - shared through redis
//   - NATSStore - shared through a JetStream key/value bucket
//   - NoOpStore - caching disabled
//   - Chain - layered stores, e.g. memory in front of redis
//
// Manager wraps a Store with expiring JSON entries.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(
//		cache.NewChain(cache.NewMemoryStore(), cache.NewRedisStore(redisClient)),
//		logger,
//	)
//
//	key := cache.Key{Scope: "prod", Kind: "custom_field", ObjectType: "lead"}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch the catalog from the API, then:
//		entry, _ = cache.NewEntry(catalog, 10*time.Minute)
//		_ = manager.Set(ctx, key, entry)
//	}
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - close_catalog_cache_hits_total{layer} - Cache hits
//   - close_catalog_cache_misses_total - Cache misses
//   - close_catalog_cache_size_bytes{layer} - Size of the last snapshot written
//   - close_catalog_cache_errors_total{operation} - Cache operation errors
package cache
