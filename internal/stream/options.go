package stream

import (
	"context"
	"log/slog"

	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/protocol"
)

// Direction of a control message relative to this client.
type Direction string

// Message directions.
const (
	Outbound Direction = "out"
	Inbound  Direction = "in"
)

// MessageHook observes every control message a connection sends or receives.
// It runs on the connection's goroutine and must return quickly.
type MessageHook func(ctx context.Context, dir Direction, streamID string, m protocol.Message)

// options is shared by [Sender] and [Playback].
type options struct {
	backoff *Backoff
	dial    DialOptions
	metrics *observe.Metrics
	logger  *slog.Logger
	hooks   []MessageHook
}

// Option configures a [Sender] or [Playback].
type Option func(*options)

// WithBackoff sets the reconnect schedule. Default: 0.5 s floor, ×1.7, 10 s cap.
func WithBackoff(b Backoff) Option {
	return func(o *options) {
		cp := b
		o.backoff = &cp
	}
}

// WithDialOptions sets keepalive, read limit and handshake parameters.
func WithDialOptions(d DialOptions) Option {
	return func(o *options) { o.dial = d }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the base logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMessageHook adds a control message observer. May be given several times.
func WithMessageHook(h MessageHook) Option {
	return func(o *options) { o.hooks = append(o.hooks, h) }
}

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.backoff == nil {
		o.backoff = &Backoff{}
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func (o *options) notify(ctx context.Context, dir Direction, streamID string, m protocol.Message) {
	for _, h := range o.hooks {
		h(ctx, dir, streamID, m)
	}
}
