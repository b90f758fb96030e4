// Package ratelimit implements Close API rate limit tracking and request gating.
// It reads the RateLimit (and legacy X-Rate-Limit-*) response headers so that
// concurrent writers back off before the API starts answering 429.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyLimit          = "close:rate_limit:limit"
	RedisKeyRemaining      = "close:rate_limit:remaining"
	RedisKeyResetTimestamp = "close:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "close:rate_limit:last_update"
)

// Thresholds for rate limit decisions, expressed in requests remaining in the window.
const (
	// RemainingThresholdCritical makes callers wait for the window reset when fewer
	// requests than this remain.
	RemainingThresholdCritical = 1

	// RemainingThresholdWarning applies throttling below this value.
	RemainingThresholdWarning = 5

	// RemainingThresholdHealthy indicates normal operation.
	RemainingThresholdHealthy = 10
)

// RateLimitState represents the last observed rate limit window.
type RateLimitState struct {
	// Limit is the number of requests allowed in the window.
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the current window ends.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last observed.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= RemainingThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// DefaultState is assumed until the first response headers arrive.
func DefaultState() *RateLimitState {
	now := time.Now()
	return &RateLimitState{
		Limit:      100,
		Remaining:  100,
		ResetAt:    now,
		LastUpdate: now,
		IsHealthy:  true,
	}
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if callers must wait for the window to reset.
// A window that has already reset never blocks.
func (s *RateLimitState) NeedsCriticalBlock() bool {
	return s.Remaining < RemainingThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *RateLimitState) NeedsThrottling() bool {
	return s.Remaining < RemainingThresholdWarning && !s.NeedsCriticalBlock() && s.TimeUntilReset() > 0
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current Remaining.
func (s *RateLimitState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= RemainingThresholdHealthy
}
