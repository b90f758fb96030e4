package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/close-api-client/pkg/ratelimit"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	closeRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "close_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	closeRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "close_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	closeRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "close_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the backoff shape for one error class.
type RetryConfig struct {
	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigForErrorClass returns the appropriate retry configuration for an error class.
func RetryConfigForErrorClass(errorClass ErrorClass) RetryConfig {
	switch errorClass {
	case ErrorClassServer:
		return RetryConfig{
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassRateLimit:
		// Used only when the 429 carries no reset information.
		return RetryConfig{
			InitialBackoff:    5 * time.Second,
			MaxBackoff:        60 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassNetwork:
		return RetryConfig{
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		}
	default:
		return DefaultRetryConfig()
	}
}

// backoffFor computes the exponential wait for the given attempt (0-based)
// with ±20% jitter.
func (rc RetryConfig) backoffFor(attempt int) time.Duration {
	backoff := float64(rc.InitialBackoff) * math.Pow(rc.BackoffMultiplier, float64(attempt))
	if backoff > float64(rc.MaxBackoff) {
		backoff = float64(rc.MaxBackoff)
	}
	return time.Duration(backoff * (0.8 + rand.Float64()*0.4))
}

// checkRetry is the retryablehttp.CheckRetry policy: network errors, 429 and
// 5xx are retried, everything else is returned to the caller as is.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		// Defers to retryablehttp for unrecoverable errors (bad scheme, TLS).
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return shouldRetry(classifyStatus(resp.StatusCode)), nil
}

// responseClass returns the error class of one attempt's outcome.
func responseClass(resp *http.Response) ErrorClass {
	if resp == nil {
		return ErrorClassNetwork
	}
	return classifyStatus(resp.StatusCode)
}

// newBackoff returns the retryablehttp.Backoff policy. A 429 waits for the
// rate limit window announced in the response; other classes back off
// exponentially per RetryConfigForErrorClass. Every wait is capped at the
// client's RetryWaitMax.
func newBackoff(logger zerolog.Logger) retryablehttp.Backoff {
	return func(_, maxWait time.Duration, attempt int, resp *http.Response) time.Duration {
		class := responseClass(resp)

		wait := RetryConfigForErrorClass(class).backoffFor(attempt)
		if class == ErrorClassRateLimit {
			if reset, ok := rateLimitReset(resp); ok {
				wait = reset
			}
		}
		if maxWait > 0 && wait > maxWait {
			wait = maxWait
		}

		closeRetriesTotal.WithLabelValues(string(class)).Inc()
		closeRetryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

		logger.Debug().
			Str("error_class", string(class)).
			Int("attempt", attempt+1).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		return wait
	}
}

// rateLimitReset reads the wait announced by a 429 response, preferring the
// RateLimit headers over Retry-After.
func rateLimitReset(resp *http.Response) (time.Duration, bool) {
	if _, _, reset, ok, err := ratelimit.ParseHeaders(resp.Header); err == nil && ok {
		return reset, true
	}
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.ParseFloat(s, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second)), true
		}
	}
	return 0, false
}

// newErrorHandler returns the retryablehttp.ErrorHandler invoked when the
// last attempt still failed. Responses are passed through so the caller can
// build an APIError from the final status and body.
func newErrorHandler(logger zerolog.Logger) retryablehttp.ErrorHandler {
	return func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if resp != nil {
				resp.Body.Close()
			}
			return nil, err
		}

		class := responseClass(resp)
		closeRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
		logger.Warn().
			Str("error_class", string(class)).
			Int("attempts", numTries).
			Msg("Retry attempts exhausted")

		if resp != nil && err == nil {
			return resp, nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, numTries, err)
	}
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}
