// Package backoff provides exponential backoff with jitter for upstream
// retries and the async poll loop.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines exponential backoff parameters.
// Delay for attempt n (1-indexed) is min(Max, Initial * Factor^(n-1) * jitter)
// where jitter is drawn uniformly from [JitterLow, JitterHigh].
type Policy struct {
	Initial   time.Duration
	Max       time.Duration
	Factor    float64
	JitterLow float64
	JitterHigh float64
}

// RetryPolicy is the upstream retry schedule: 150ms base, doubling,
// jitter 0.85-1.15, capped at 2s.
func RetryPolicy() Policy {
	return Policy{
		Initial:    150 * time.Millisecond,
		Max:        2 * time.Second,
		Factor:     2,
		JitterLow:  0.85,
		JitterHigh: 1.15,
	}
}

// Delay computes the backoff duration for an attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not need crypto randomness
}

// DelayWithRand computes the delay using a caller-supplied random value in
// [0,1). Used by tests for deterministic results.
func (p Policy) DelayWithRand(attempt int, randomValue float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(p.Initial) * math.Pow(p.Factor, float64(attempt-1))

	jitter := 1.0
	if p.JitterHigh > p.JitterLow {
		jitter = p.JitterLow + (p.JitterHigh-p.JitterLow)*randomValue
	}

	d := time.Duration(base * jitter)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Sleep blocks for the attempt's backoff delay or until ctx is done.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NextPollDelay grows a poll interval by factor with a cap. Used by the
// async poller: 1s initial, x1.5 growth, 5s cap.
func NextPollDelay(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		next = max
	}
	return next
}
