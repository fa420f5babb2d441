package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxlink/internal/protocol"
	"github.com/MrWong99/voxlink/internal/resilience"
	"github.com/MrWong99/voxlink/internal/stream"
)

// DefaultQueueSize is the number of events buffered ahead of the writer.
const DefaultQueueSize = 256

const (
	writeTimeout = 2 * time.Second
	flushTimeout = 3 * time.Second
)

// Recorder queues events and writes them to a [Store] in the background.
type Recorder struct {
	store   Store
	breaker *resilience.Breaker
	session uuid.UUID
	queue   chan Event
	log     *slog.Logger
	now     func() time.Time

	dropped atomic.Int64
}

// Option configures a [Recorder].
type Option func(*recorderOptions)

type recorderOptions struct {
	queueSize int
	breaker   resilience.Config
	logger    *slog.Logger
	now       func() time.Time
}

// WithQueueSize sets the event buffer size.
func WithQueueSize(n int) Option {
	return func(o *recorderOptions) { o.queueSize = n }
}

// WithBreaker tunes the circuit breaker guarding the store.
func WithBreaker(cfg resilience.Config) Option {
	return func(o *recorderOptions) { o.breaker = cfg }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *recorderOptions) { o.logger = l }
}

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *recorderOptions) { o.now = now }
}

// NewRecorder returns a recorder for a fresh session. Call [Recorder.Run] to
// start writing.
func NewRecorder(store Store, opts ...Option) *Recorder {
	o := recorderOptions{
		queueSize: DefaultQueueSize,
		breaker:   resilience.Config{Name: "journal", Threshold: 3, Cooldown: 30 * time.Second},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.queueSize <= 0 {
		o.queueSize = DefaultQueueSize
	}
	if o.breaker.Logger == nil {
		o.breaker.Logger = o.logger
	}
	id := uuid.New()
	return &Recorder{
		store:   store,
		breaker: resilience.NewBreaker(o.breaker),
		session: id,
		queue:   make(chan Event, o.queueSize),
		log:     o.logger.With("journal_session", id.String()),
		now:     o.now,
	}
}

// SessionID identifies this run in the journal.
func (r *Recorder) SessionID() uuid.UUID { return r.session }

// Dropped returns the number of events discarded because the queue was full.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Record enqueues e without blocking, stamping the session and time. It
// reports false when the queue is full and the event was dropped.
func (r *Recorder) Record(e Event) bool {
	e.SessionID = r.session
	if e.At.IsZero() {
		e.At = r.now()
	}
	select {
	case r.queue <- e:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// journaled lists the message types worth keeping.
var journaled = map[protocol.Type]bool{
	protocol.TypeStop:     true,
	protocol.TypeTTSDone:  true,
	protocol.TypeFinalASR: true,
	protocol.TypeAIText:   true,
	protocol.TypeEmotion:  true,
}

// Hook returns a [stream.MessageHook] that journals control messages.
// Handshakes are skipped.
func (r *Recorder) Hook() stream.MessageHook {
	return func(_ context.Context, dir stream.Direction, streamID string, m protocol.Message) {
		if !journaled[m.Type] {
			return
		}
		if !r.Record(Event{
			StreamID:  streamID,
			Direction: string(dir),
			Type:      string(m.Type),
			Text:      m.Text,
			Emotion:   m.Emotion,
			UtterID:   m.UtterID,
		}) {
			r.log.Debug("journal queue full, event dropped", "type", string(m.Type))
		}
	}
}

// Run writes queued events until ctx is cancelled, then flushes what is left
// for a short grace period. It always returns nil.
func (r *Recorder) Run(ctx context.Context) error {
	r.log.Info("journal started")
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		case <-ctx.Done():
			r.flush()
			return nil
		}
	}
}

func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		default:
			return
		}
		if ctx.Err() != nil {
			r.log.Warn("journal flush timed out", "pending", len(r.queue))
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e Event) {
	err := r.breaker.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return r.store.Append(ctx, e)
	})
	switch {
	case err == nil:
	case errors.Is(err, resilience.ErrCircuitOpen):
		r.dropped.Add(1)
	default:
		r.log.Warn("journal write failed", "type", e.Type, "err", err)
	}
}

// Check reports whether the journal can currently write. It is used as a
// readiness check.
func (r *Recorder) Check(ctx context.Context) error {
	if r.breaker.State() == resilience.StateOpen {
		return resilience.ErrCircuitOpen
	}
	return r.store.Ping(ctx)
}

// Close releases the store.
func (r *Recorder) Close() { r.store.Close() }
