package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (memory, redis, nats)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "close_catalog_cache_hits_total",
			Help: "Total number of catalog cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "close_catalog_cache_misses_total",
			Help: "Total number of catalog cache misses",
		},
	)

	// CacheSize tracks bytes written by layer
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "close_catalog_cache_size_bytes",
			Help: "Size of the last catalog snapshot written, by layer",
		},
		[]string{"layer"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "close_catalog_cache_errors_total",
			Help: "Total number of catalog cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
