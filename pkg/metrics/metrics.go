// Package metrics exposes the Prometheus metrics of the Close access layer.
// All metrics are defined in their respective packages (client, ratelimit,
// cache, pagination, schema, batch) and registered via promauto.
//
// This package provides the HTTP handler and documentation for all
// available metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the Close client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves /metrics from the default gatherer and a /health probe.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// Serve runs Handler on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - close_requests_total{method, status} (Counter): Requests by HTTP method and status
//   - close_request_duration_seconds{method} (Histogram): Request duration, retries included
//   - close_errors_total{class} (Counter): Errors by class (client, validation, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - close_retries_total{error_class} (Counter): Retry attempts by error class
//   - close_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - close_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - close_rate_limit_remaining (Gauge): Requests left in the current window
//   - close_rate_limit_waits_total (Counter): Requests held until the window reset
//   - close_rate_limit_throttles_total (Counter): Requests delayed by throttling
//
// Catalog Cache Metrics (pkg/cache):
//   - close_catalog_cache_hits_total{layer} (Counter): Snapshot hits by layer
//   - close_catalog_cache_misses_total (Counter): Snapshot misses
//   - close_catalog_cache_size_bytes{layer} (Gauge): Size of the last snapshot written
//   - close_catalog_cache_errors_total{operation} (Counter): Cache operation errors
//
// Schema Metrics (pkg/schema):
//   - close_schema_lookups_total{kind, result} (Counter): Lookups answered from memory (hit) or not (miss)
//   - close_schema_catalog_fetches_total{kind, status} (Counter): Catalog fetches
//   - close_schema_catalog_fetch_duration_seconds{kind} (Histogram): Catalog fetch duration
//
// Pagination Metrics (pkg/pagination):
//   - close_pagination_pages_total{protocol} (Counter): Pages fetched (cursor, skip)
//   - close_pagination_records_total{protocol} (Counter): Records collected
//   - close_pagination_protocol_violations_total{protocol} (Counter): Aborted fetches
//
// Batch Metrics (pkg/batch):
//   - close_batch_requests_total{op, outcome} (Counter): Writes by operation and outcome
//   - close_batch_slice_duration_seconds{op} (Histogram): Time for one slice to settle
//
// Example Prometheus Queries:
//
//	# Batch failure ratio
//	sum(rate(close_batch_requests_total{outcome!="success"}[5m])) /
//	sum(rate(close_batch_requests_total[5m]))
//
//	# Rate limit headroom
//	close_rate_limit_remaining < 10
//
//	# P95 Request Latency
//	histogram_quantile(0.95, rate(close_request_duration_seconds_bucket[5m]))
