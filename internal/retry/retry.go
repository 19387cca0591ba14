// Package retry polls a probe until it succeeds, waiting longer after each
// failure.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"logpipe/internal/utils"
)

// Probe checks a condition once. Returning an error wrapped with
// backoff.Permanent stops the retry immediately.
type Probe func(ctx context.Context) error

// Interval returns the wait after the given number of failed probes:
// round(exp(attempt/10) * 1000) milliseconds, clamped to [min, max].
func Interval(attempt int, min, max time.Duration) time.Duration {
	if max < min {
		max = min
	}
	ms := math.Round(math.Exp(float64(attempt)/10) * 1000)
	if ms >= float64(max/time.Millisecond) {
		return max
	}
	wait := time.Duration(ms) * time.Millisecond
	if wait < min {
		return min
	}
	return wait
}

// BackOff implements backoff.BackOff with the Interval curve.
type BackOff struct {
	Min, Max time.Duration

	attempt int
}

// NewBackOff creates a BackOff bounded by min and max.
func NewBackOff(min, max time.Duration) *BackOff {
	return &BackOff{Min: min, Max: max}
}

// NextBackOff counts one more failure and returns the wait before the next probe.
func (b *BackOff) NextBackOff() time.Duration {
	b.attempt++
	return Interval(b.attempt, b.Min, b.Max)
}

// Reset starts the curve over.
func (b *BackOff) Reset() {
	b.attempt = 0
}

// Attempts returns the number of failures counted so far.
func (b *BackOff) Attempts() int {
	return b.attempt
}

// Execute runs probe until it succeeds, returns a permanent error, or ctx is
// done. There is no attempt or elapsed-time limit.
func Execute(ctx context.Context, name string, probe Probe, minInterval, maxInterval time.Duration) error {
	logger := utils.NewLogger("retry")
	b := NewBackOff(minInterval, maxInterval)

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, probe(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Warn("Probe failed, retrying", "probe", name, "attempt", b.Attempts(), "wait", wait, "error", err)
		}),
	)
	if err != nil {
		return err
	}
	if b.Attempts() > 0 {
		logger.Info("Probe succeeded", "probe", name, "attempts", b.Attempts()+1)
	}
	return nil
}
