// Package resilience guards optional collaborators (currently the event
// journal) so that a failing dependency is skipped quickly instead of
// stalling the real-time audio path.
//
// [Breaker] is a three-state circuit breaker: closed, open, half-open.
// It is safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cooldown
	// elapses.
	StateOpen

	// StateHalfOpen lets up to Probes calls through. All succeeding closes
	// the breaker; any failure opens it again.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config tunes a [Breaker]. Zero fields take the defaults.
type Config struct {
	// Name labels log lines.
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 5.
	Threshold int

	// Cooldown is how long the breaker stays open. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close.
	// Default: 1.
	Probes int

	// OnTransition, if set, is called after every state change, outside the
	// breaker's lock.
	OnTransition func(from, to State)

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Now replaces the clock in tests.
	Now func() time.Time
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int // half-open calls started
	successes int // half-open calls succeeded
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{cfg: cfg, log: log.With("breaker", cfg.Name)}
}

// Do runs fn if the breaker admits the call and records its outcome. A
// rejected call returns [ErrCircuitOpen] without running fn. Context errors
// from fn are passed through without counting as failures.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		b.release(probe)
		return err
	}
	b.record(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	var from State
	changed := false
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		from, changed = b.transition(StateHalfOpen)
	}
	switch b.state {
	case StateOpen:
		b.mu.Unlock()
		return false, ErrCircuitOpen
	case StateHalfOpen:
		if b.inFlight >= b.cfg.Probes {
			b.mu.Unlock()
			b.notify(from, StateHalfOpen, changed)
			return false, ErrCircuitOpen
		}
		b.inFlight++
		probe = true
	}
	b.mu.Unlock()
	b.notify(from, StateHalfOpen, changed)
	return probe, nil
}

// release returns an unused probe slot.
func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	if b.state == StateHalfOpen && b.inFlight > 0 {
		b.inFlight--
	}
	b.mu.Unlock()
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	var (
		from    State
		to      State
		changed bool
		count   = b.failures + 1
	)
	switch {
	case err != nil && (probe || b.state == StateHalfOpen):
		b.openedAt = b.cfg.Now()
		to = StateOpen
		from, changed = b.transition(StateOpen)
	case err != nil:
		b.failures++
		if b.state == StateClosed && b.failures >= b.cfg.Threshold {
			b.openedAt = b.cfg.Now()
			to = StateOpen
			from, changed = b.transition(StateOpen)
		}
	case probe && b.state == StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.Probes {
			to = StateClosed
			from, changed = b.transition(StateClosed)
		}
	default:
		b.failures = 0
	}
	b.mu.Unlock()

	if changed && to == StateOpen {
		b.log.Warn("circuit opened", "from", from.String(), "consecutive_failures", count, "err", err)
	} else if changed {
		b.log.Info("circuit closed after successful probes")
	}
	b.notify(from, to, changed)
}

// transition moves to s and clears the counters. Must hold b.mu.
func (b *Breaker) transition(s State) (from State, changed bool) {
	from = b.state
	if from == s {
		return from, false
	}
	b.state = s
	b.failures = 0
	b.inFlight = 0
	b.successes = 0
	return from, true
}

func (b *Breaker) notify(from, to State, changed bool) {
	if changed && b.cfg.OnTransition != nil {
		b.cfg.OnTransition(from, to)
	}
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from, changed := b.transition(StateClosed)
	b.mu.Unlock()
	b.notify(from, StateClosed, changed)
}
