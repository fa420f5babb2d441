// Package mute coordinates echo suppression between playback and capture.
//
// The playback client mutes capture while server audio is being rendered and
// unmutes it once the server signals the end of that audio. Senders consult
// the flag per frame and may block on [Coordinator.WaitUnmuted].
package mute

import (
	"context"
	"sync"
	"sync/atomic"
)

// Coordinator is a shared mute flag with change notification. The zero value
// is unmuted and ready to use. All methods are safe for concurrent use.
type Coordinator struct {
	muted atomic.Bool

	mu      sync.Mutex
	changed chan struct{}
}

// New returns an unmuted coordinator.
func New() *Coordinator { return &Coordinator{} }

// Muted reports the current state.
func (c *Coordinator) Muted() bool { return c.muted.Load() }

// SetMuted sets the flag. It reports whether the state changed; waiters are
// woken only on an actual transition.
func (c *Coordinator) SetMuted(v bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.muted.Load() == v {
		return false
	}
	c.muted.Store(v)
	if c.changed != nil {
		close(c.changed)
		c.changed = nil
	}
	return true
}

// Changes returns a channel that is closed on the next transition.
func (c *Coordinator) Changes() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.changed == nil {
		c.changed = make(chan struct{})
	}
	return c.changed
}

// WaitUnmuted blocks until the flag is clear or ctx is done.
func (c *Coordinator) WaitUnmuted(ctx context.Context) error {
	for {
		ch := c.Changes()
		if !c.Muted() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
