package audio

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCaptureQueue is the default number of frames a [CallbackSource]
// holds before it starts dropping.
const DefaultCaptureQueue = 50

// CallbackSource bridges a hardware capture callback, which runs on a thread
// owned by the audio driver, into the pull-based [Source] contract.
//
// Push never blocks: when the queue is full the incoming frame is dropped and
// counted. A capture thread that stalls on a slow consumer produces glitches
// on the device itself, so losing the newest frame is the lesser evil.
type CallbackSource struct {
	frames chan AudioFrame
	onDrop func()

	mu   sync.Mutex
	norm Normalizer
	seq  int

	dropped   atomic.Int64
	closed    chan struct{}
	closeOnce sync.Once
}

// CallbackOption configures a [CallbackSource].
type CallbackOption func(*CallbackSource)

// WithDropHook registers fn to be called (from the capture thread) every time
// a frame is dropped because the queue is full. fn must not block.
func WithDropHook(fn func()) CallbackOption {
	return func(s *CallbackSource) { s.onDrop = fn }
}

// NewCallbackSource creates a source that accepts PCM in format from and
// queues at most capacity frames. A non-positive capacity selects
// [DefaultCaptureQueue].
func NewCallbackSource(from Format, capacity int, opts ...CallbackOption) *CallbackSource {
	if capacity <= 0 {
		capacity = DefaultCaptureQueue
	}
	s := &CallbackSource{
		frames: make(chan AudioFrame, capacity),
		norm:   Normalizer{From: from},
		closed: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Push hands captured PCM to the source. It is safe to call from any
// goroutine or foreign thread and returns immediately.
func (s *CallbackSource) Push(pcm []byte) {
	select {
	case <-s.closed:
		return
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.norm.Push(pcm) {
		frame := NewFrame(f, time.Duration(s.seq)*FrameDuration)
		s.seq++
		select {
		case s.frames <- frame:
		default:
			s.dropped.Add(1)
			if s.onDrop != nil {
				s.onDrop()
			}
		}
	}
}

// ReadFrame implements [Source]. After [CallbackSource.Close] the queued
// frames are still delivered; io.EOF is returned once the queue is empty.
func (s *CallbackSource) ReadFrame(ctx context.Context) (AudioFrame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	default:
	}
	select {
	case f := <-s.frames:
		return f, nil
	case <-ctx.Done():
		return AudioFrame{}, ctx.Err()
	case <-s.closed:
		select {
		case f := <-s.frames:
			return f, nil
		default:
			return AudioFrame{}, io.EOF
		}
	}
}

// Dropped reports how many frames were discarded because the queue was full.
func (s *CallbackSource) Dropped() int64 {
	return s.dropped.Load()
}

// Len reports the number of frames currently queued.
func (s *CallbackSource) Len() int {
	return len(s.frames)
}

// Close stops accepting frames. It is safe to call more than once.
func (s *CallbackSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
