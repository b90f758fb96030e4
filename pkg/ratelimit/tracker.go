package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	closeRateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "close_rate_limit_remaining",
		Help: "Requests remaining in the current Close API rate limit window",
	})

	closeRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "close_rate_limit_waits_total",
		Help: "Total number of requests held until the rate limit window reset",
	})

	closeRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "close_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to low remaining budget",
	})
)

// Header names sent by the Close API.
const (
	HeaderRateLimit       = "RateLimit"
	HeaderLegacyLimit     = "X-Rate-Limit-Limit"
	HeaderLegacyRemaining = "X-Rate-Limit-Remaining"
	HeaderLegacyReset     = "X-Rate-Limit-Reset"
)

const (
	// DefaultThrottleDelay is the pause applied in the warning range.
	DefaultThrottleDelay = 250 * time.Millisecond

	// maxResetWait caps a single wait; a bogus reset value must not stall a run.
	maxResetWait = 2 * time.Minute
)

// Tracker monitors the API rate limit window and gates requests.
type Tracker struct {
	store         StateStore
	logger        zerolog.Logger
	throttleDelay time.Duration
}

// NewTracker creates a new rate limit tracker. A nil store keeps state in memory.
func NewTracker(store StateStore, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:         store,
		logger:        logger,
		throttleDelay: DefaultThrottleDelay,
	}
}

// SetThrottleDelay changes the pause applied in the warning range.
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttleDelay = d
}

// GetState retrieves the current rate limit state.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rate limit state: %w", err)
	}
	return state, nil
}

// UpdateFromHeaders parses rate limit headers and stores the new state.
// Responses without rate limit headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	limit, remaining, reset, ok, err := ParseHeaders(headers)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	now := time.Now()
	state := &RateLimitState{
		Limit:      limit,
		Remaining:  remaining,
		ResetAt:    now.Add(reset),
		LastUpdate: now,
	}
	state.UpdateHealth()

	if err := t.store.Save(ctx, state); err != nil {
		return err
	}

	closeRateLimitRemaining.Set(float64(remaining))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Warn().
			Int("remaining", remaining).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit exhausted - requests will wait for window reset")
	case state.NeedsThrottling():
		t.logger.Debug().
			Int("remaining", remaining).
			Msg("Rate limit low - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", remaining).
			Int("limit", limit).
			Msg("Rate limit state updated")
	}

	return nil
}

// Wait blocks until a request may be sent under the observed rate limit state.
// It returns early with the context error if ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		return err
	}

	var delay time.Duration
	switch {
	case state.NeedsCriticalBlock():
		delay = state.TimeUntilReset()
		if delay > maxResetWait {
			delay = maxResetWait
		}
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", delay).
			Msg("Rate limit exhausted - waiting for window reset")
		closeRateLimitWaitsTotal.Inc()
	case state.NeedsThrottling():
		delay = t.throttleDelay
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Dur("wait_duration", delay).
			Msg("Rate limit low - throttling request")
		closeRateLimitThrottlesTotal.Inc()
	default:
		return nil
	}

	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ParseHeaders extracts limit, remaining and time-until-reset from a response.
// ok is false when the response carries no rate limit headers.
func ParseHeaders(headers http.Header) (limit, remaining int, reset time.Duration, ok bool, err error) {
	if value := headers.Get(HeaderRateLimit); value != "" {
		return parseRateLimitHeader(value)
	}

	remainStr := headers.Get(HeaderLegacyRemaining)
	if remainStr == "" {
		return 0, 0, 0, false, nil
	}

	remaining, err = strconv.Atoi(strings.TrimSpace(remainStr))
	if err != nil {
		return 0, 0, 0, false, fmt.Errorf("parse %s header: %w", HeaderLegacyRemaining, err)
	}

	if limitStr := headers.Get(HeaderLegacyLimit); limitStr != "" {
		limit, err = strconv.Atoi(strings.TrimSpace(limitStr))
		if err != nil {
			return 0, 0, 0, false, fmt.Errorf("parse %s header: %w", HeaderLegacyLimit, err)
		}
	}

	resetStr := headers.Get(HeaderLegacyReset)
	if resetStr == "" {
		return 0, 0, 0, false, fmt.Errorf("%s header missing", HeaderLegacyReset)
	}
	reset, err = parseSeconds(resetStr)
	if err != nil {
		return 0, 0, 0, false, fmt.Errorf("parse %s header: %w", HeaderLegacyReset, err)
	}

	return limit, remaining, reset, true, nil
}

// parseRateLimitHeader parses "limit=240, remaining=239, reset=1".
func parseRateLimitHeader(value string) (limit, remaining int, reset time.Duration, ok bool, err error) {
	var haveRemaining, haveReset bool

	for _, part := range strings.Split(value, ",") {
		key, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		val = strings.TrimSpace(val)

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "limit":
			if limit, err = strconv.Atoi(val); err != nil {
				return 0, 0, 0, false, fmt.Errorf("parse %s limit: %w", HeaderRateLimit, err)
			}
		case "remaining":
			if remaining, err = strconv.Atoi(val); err != nil {
				return 0, 0, 0, false, fmt.Errorf("parse %s remaining: %w", HeaderRateLimit, err)
			}
			haveRemaining = true
		case "reset":
			if reset, err = parseSeconds(val); err != nil {
				return 0, 0, 0, false, fmt.Errorf("parse %s reset: %w", HeaderRateLimit, err)
			}
			haveReset = true
		}
	}

	if !haveRemaining || !haveReset {
		return 0, 0, 0, false, fmt.Errorf("%s header incomplete: %q", HeaderRateLimit, value)
	}
	return limit, remaining, reset, true, nil
}

func parseSeconds(s string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if secs < 0 {
		secs = 0
	}
	return time.Duration(secs * float64(time.Second)), nil
}
