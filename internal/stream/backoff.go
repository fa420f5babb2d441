package stream

import (
	"context"
	"math"
	"time"
)

// Default reconnection parameters.
const (
	DefaultBackoffFloor  = 500 * time.Millisecond
	DefaultBackoffFactor = 1.7
	DefaultBackoffCap    = 10 * time.Second
)

// Backoff produces reconnect delays growing geometrically from Floor by
// Factor up to Cap. Zero fields take the defaults. A Backoff is owned by one
// retry loop and is not safe for concurrent use.
type Backoff struct {
	Floor  time.Duration
	Factor float64
	Cap    time.Duration

	failures int
}

// Delay returns the delay after k earlier consecutive failures:
// min(Cap, Floor·Factor^k).
func (b *Backoff) Delay(k int) time.Duration {
	floor, factor, ceil := b.Floor, b.Factor, b.Cap
	if floor <= 0 {
		floor = DefaultBackoffFloor
	}
	if factor < 1 {
		factor = DefaultBackoffFactor
	}
	if ceil <= 0 {
		ceil = DefaultBackoffCap
	}
	d := float64(floor) * math.Pow(factor, float64(max(k, 0)))
	if d >= float64(ceil) {
		return ceil
	}
	return time.Duration(math.Round(d))
}

// Next returns the delay for the current failure and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.Delay(b.failures)
	if d < b.Delay(b.failures+1) {
		// Stop counting once the cap is reached so the exponent cannot overflow.
		b.failures++
	}
	return d
}

// Reset returns the sequence to Floor. Called after a completed handshake.
func (b *Backoff) Reset() { b.failures = 0 }

// sleep waits for d or until ctx is done, reporting whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
