package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/voxlink/internal/display"
	"github.com/MrWong99/voxlink/internal/jitter"
	"github.com/MrWong99/voxlink/internal/mute"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/protocol"
)

// Playback receives synthesised audio and control messages from the server.
// Audio goes into the jitter buffer; the first audio chunk of a response
// mutes capture and tts_done unmutes it.
type Playback struct {
	target  Target
	buf     *jitter.Buffer
	mute    *mute.Coordinator
	display display.Display
	opts    options
	log     *slog.Logger

	connected atomic.Bool
}

// NewPlayback returns a playback client for target. A nil display discards
// text and emotion events.
func NewPlayback(target Target, buf *jitter.Buffer, m *mute.Coordinator, d display.Display, opts ...Option) *Playback {
	if m == nil {
		m = mute.New()
	}
	if d == nil {
		d = display.Nop{}
	}
	o := buildOptions(opts)
	return &Playback{
		target:  target,
		buf:     buf,
		mute:    m,
		display: d,
		opts:    o,
		log:     o.logger.With("role", protocol.RolePlayback, "stream_id", target.StreamID),
	}
}

// Connected reports whether a playback connection is currently open.
func (p *Playback) Connected() bool { return p.connected.Load() }

// Run receives until ctx is cancelled, then returns nil. Connection failures
// are retried with backoff.
func (p *Playback) Run(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		err := p.session(ctx, attempt)
		if ctx.Err() != nil {
			return nil
		}

		delay := p.opts.backoff.Next()
		p.log.Warn("playback disconnected", "err", err, "attempt", attempt, "backoff", delay)
		p.opts.metrics.RecordReconnect(ctx, protocol.RolePlayback)
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

func (p *Playback) session(ctx context.Context, attempt int) (err error) {
	ctx, span := observe.StartConnSpan(ctx, protocol.RolePlayback, p.target.StreamID, attempt)
	defer func() {
		if err != nil && ctx.Err() == nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	conn, err := Dial(ctx, p.target, p.opts.dial)
	if err != nil {
		return err
	}
	defer conn.Close()

	hello := protocol.Hello(protocol.RolePlayback, p.target.StreamID)
	if err := conn.WriteMessage(ctx, hello); err != nil {
		return err
	}
	p.opts.notify(ctx, Outbound, p.target.StreamID, hello)
	p.opts.backoff.Reset()

	p.connected.Store(true)
	p.opts.metrics.ConnectionOpened(ctx, protocol.RolePlayback)
	defer func() {
		p.connected.Store(false)
		p.opts.metrics.ConnectionClosed(context.WithoutCancel(ctx), protocol.RolePlayback)
		// A tts_done lost with the connection must not leave capture muted
		// or a short tail stuck below the prebuffer.
		p.buf.SetEndOfChunk(true)
		if p.mute.SetMuted(false) {
			p.log.Info("clearing mute after disconnect")
		}
	}()
	p.log.Info("playback connected", "url", p.target.URL, "trace_id", observe.CorrelationID(ctx))

	for {
		data, binary, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("stream: read: %w", err)
		}
		if binary {
			p.onAudio(ctx, data)
			continue
		}
		p.onControl(ctx, data)
	}
}

func (p *Playback) onAudio(ctx context.Context, data []byte) {
	if p.mute.SetMuted(true) {
		p.buf.SetEndOfChunk(false)
		p.log.Debug("response audio started, capture muted")
	}
	dropped := p.buf.PushChunk(data)
	p.opts.metrics.RecordJitterPush(ctx, p.buf.Len(), dropped)
	if dropped > 0 {
		p.log.Debug("jitter buffer overflow", "dropped_frames", dropped)
	}
}

func (p *Playback) onControl(ctx context.Context, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		p.log.Debug("ignoring malformed control message", "err", err)
		return
	}
	p.opts.notify(ctx, Inbound, p.target.StreamID, msg)

	switch msg.Type {
	case protocol.TypeTTSDone:
		p.mute.SetMuted(false)
		p.buf.SetEndOfChunk(true)
		p.log.Debug("response audio finished, capture unmuted", "utter_id", msg.UtterID)
	case protocol.TypeFinalASR, protocol.TypeAIText:
		p.display.ShowText(ctx, msg.Type, msg.Text)
	case protocol.TypeEmotion:
		p.display.ShowEmotion(ctx, msg.Emotion)
	case protocol.TypeHello:
		p.log.Debug("hello acknowledged", "accepted", msg.Accepted)
	default:
		p.log.Debug("ignoring control message", "type", string(msg.Type))
	}
}

// Probe dials t as a playback client, sends the hello and waits for the
// first server message. It returns (nil, nil) if the server stays silent
// until ctx is done, which most servers do.
func Probe(ctx context.Context, t Target, opts DialOptions) (*protocol.Message, error) {
	opts.PingInterval = -1
	conn, err := Dial(ctx, t, opts)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.WriteMessage(ctx, protocol.Hello(protocol.RolePlayback, t.StreamID)); err != nil {
		return nil, err
	}
	for {
		data, binary, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			return nil, fmt.Errorf("stream: probe read: %w", err)
		}
		if binary {
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			return nil, err
		}
		return &msg, nil
	}
}
