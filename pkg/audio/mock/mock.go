// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on what was read or rendered, and they expose exported fields the
// test can set to control behaviour.
//
// Typical usage:
//
//	src := &mock.Source{Frames: [][]byte{loud, loud, quiet}}
//	sink := &mock.Sink{}
//	...
//	if got := sink.Written(); len(got) != 3 { ... }
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a scripted [audio.Source]. It returns Frames in order, then
// either [io.EOF] or, when BlockWhenDone is set, blocks until the context is
// cancelled (modelling an idle microphone).
type Source struct {
	mu sync.Mutex

	// Frames are returned one per ReadFrame call.
	Frames [][]byte

	// Err, if non-nil, is returned instead of io.EOF once Frames run out.
	Err error

	// BlockWhenDone makes ReadFrame block on ctx after the last frame.
	BlockWhenDone bool

	// Interval, if positive, is slept before each frame is returned.
	Interval time.Duration

	// ReadCalls counts ReadFrame invocations.
	ReadCalls int

	next int
}

// ReadFrame implements [audio.Source].
func (s *Source) ReadFrame(ctx context.Context) (audio.AudioFrame, error) {
	s.mu.Lock()
	s.ReadCalls++
	interval := s.Interval
	if s.next < len(s.Frames) {
		data := s.Frames[s.next]
		ts := time.Duration(s.next) * audio.FrameDuration
		s.next++
		s.mu.Unlock()
		if interval > 0 {
			select {
			case <-ctx.Done():
				return audio.AudioFrame{}, ctx.Err()
			case <-time.After(interval):
			}
		}
		return audio.NewFrame(data, ts), nil
	}
	block, err := s.BlockWhenDone, s.Err
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return audio.AudioFrame{}, ctx.Err()
	}
	if err != nil {
		return audio.AudioFrame{}, err
	}
	return audio.AudioFrame{}, io.EOF
}

// Remaining reports how many scripted frames have not been read yet.
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames) - s.next
}

var _ audio.Source = (*Source)(nil)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a recording [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// WriteErr, if non-nil, is returned by every WriteFrame call. The frame
	// is still recorded.
	WriteErr error

	// Delay, if positive, is slept inside WriteFrame to simulate a slow
	// render device.
	Delay time.Duration

	frames [][]byte
	times  []time.Time
}

// WriteFrame implements [audio.Sink].
func (s *Sink) WriteFrame(_ context.Context, frame audio.AudioFrame) error {
	s.mu.Lock()
	cp := make([]byte, len(frame.Data))
	copy(cp, frame.Data)
	s.frames = append(s.frames, cp)
	s.times = append(s.times, time.Now())
	delay, err := s.Delay, s.WriteErr
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

// Written returns a copy of every frame written so far, in order.
func (s *Sink) Written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

// Times returns the wall-clock instant each frame was written.
func (s *Sink) Times() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.times))
	copy(out, s.times)
	return out
}

// Count returns the number of frames written.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

var _ audio.Sink = (*Sink)(nil)
