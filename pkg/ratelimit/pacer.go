package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Pacer spaces requests out on the client side, ahead of the server-side window.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows requestsPerSecond with the given burst.
// A non-positive rate disables pacing.
func NewPacer(requestsPerSecond float64, burst int) *Pacer {
	if requestsPerSecond <= 0 {
		return &Pacer{}
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Wait blocks until the next request may start.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}
	return nil
}

// Enabled reports whether pacing is active.
func (p *Pacer) Enabled() bool {
	return p != nil && p.limiter != nil
}
