// Package retry runs boundary calls with bounded exponential backoff. Only
// errors classified as transient are retried; everything else returns at once.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// Backoff describes the wait between attempts.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64 // fraction of the wait, 0..1
}

// Policy bounds how many times an operation runs.
type Policy struct {
	Attempts int
	Backoff  Backoff
	// Retryable overrides the default transient classification.
	Retryable func(error) bool
}

// DefaultPolicy retries four times between 100ms and 5s.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 4,
		Backoff: Backoff{
			Min:    100 * time.Millisecond,
			Max:    5 * time.Second,
			Factor: 2.0,
			Jitter: 0.2,
		},
	}
}

// Next returns the wait before the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	lo := b.Min
	if lo <= 0 {
		lo = 100 * time.Millisecond
	}
	hi := b.Max
	if hi <= 0 {
		hi = 5 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := lo
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > hi {
			wait = hi
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := min(b.Jitter, 1)
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done. The last error is returned wrapped with the
// attempt count.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = domain.IsTransient
	}
	attempts := max(p.Attempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts {
			break
		}
		timer := time.NewTimer(p.Backoff.Next(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry: cancelled after %d attempts: %w", attempt, err)
		case <-timer.C:
		}
	}
	return err
}

// Value is Do for calls that return a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
