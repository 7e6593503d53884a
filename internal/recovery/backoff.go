package recovery

import (
	"context"
	"math"
	"time"
)

// Backoff bounds for retry delays.
const (
	defaultBackoffSeconds    = 5
	defaultBackoffMultiplier = 2.0
	defaultMaxBackoffSeconds = 300
)

// calculateBackoff returns the wait duration before a given attempt number.
// Uses exponential backoff: base * multiplier^(attempt-1), capped.
func (o *Orchestrator) calculateBackoff(attempt int) time.Duration {
	base := float64(o.config.BackoffSeconds)
	if attempt > 1 {
		base *= math.Pow(o.config.BackoffMultiplier, float64(attempt-1))
	}
	if max := float64(o.config.MaxBackoffSeconds); base > max {
		base = max
	}
	return time.Duration(base * float64(time.Second))
}

// sleep waits for d or until the context is cancelled. The delay is a timer
// select, never a hard sleep, so a session can be aborted mid-backoff.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
