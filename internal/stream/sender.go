package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/voxlink/internal/mute"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/protocol"
	"github.com/MrWong99/voxlink/internal/segment"
	"github.com/MrWong99/voxlink/pkg/audio"
)

// ErrSourceExhausted ends a sender session when a finite source runs out.
var ErrSourceExhausted = errors.New("stream: audio source exhausted")

// Sender streams one capture source to the server, gated by a segmenter and
// silenced while the shared mute flag is set.
type Sender struct {
	target Target
	src    audio.Source
	seg    *segment.Segmenter
	mute   *mute.Coordinator
	opts   options
	log    *slog.Logger

	pauseMuted bool
}

// SenderOption configures sender-only behaviour.
type SenderOption func(*Sender)

// PauseWhileMuted stops reading the source while muted instead of reading
// and discarding frames. Suited to file sources, where discarded frames would
// be lost audio rather than echo.
func PauseWhileMuted() SenderOption {
	return func(s *Sender) { s.pauseMuted = true }
}

// Configure applies sender-only options.
func (s *Sender) Configure(opts ...SenderOption) *Sender {
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewSender returns a sender for target. mute may be nil when no playback
// client shares this process.
func NewSender(target Target, src audio.Source, seg *segment.Segmenter, m *mute.Coordinator, opts ...Option) *Sender {
	if m == nil {
		m = mute.New()
	}
	o := buildOptions(opts)
	return &Sender{
		target: target,
		src:    src,
		seg:    seg,
		mute:   m,
		opts:   o,
		log:    o.logger.With("role", protocol.RoleSender, "stream_id", target.StreamID),
	}
}

// StreamID returns the target's stream id.
func (s *Sender) StreamID() string { return s.target.StreamID }

// Run connects and streams until ctx is cancelled or the source ends,
// returning nil in every case. Connection failures are retried with backoff.
// A source that fails with an error other than [io.EOF] is logged and treated
// as exhausted: the open utterance is closed and only this sender stops.
func (s *Sender) Run(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		err := s.session(ctx, attempt)
		switch {
		case errors.Is(err, ErrSourceExhausted):
			s.log.Info("audio source exhausted, sender finished")
			return nil
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, errSource):
			s.log.Error("audio source failed, sender stopped", "err", err)
			return nil
		}

		delay := s.opts.backoff.Next()
		s.log.Warn("sender disconnected", "err", err, "attempt", attempt, "backoff", delay)
		s.opts.metrics.RecordReconnect(ctx, protocol.RoleSender)
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

// errSource marks failures of the local audio source.
var errSource = errors.New("stream: read audio source")

// session runs one connection: dial, hello, stream frames.
func (s *Sender) session(ctx context.Context, attempt int) (err error) {
	ctx, span := observe.StartConnSpan(ctx, protocol.RoleSender, s.target.StreamID, attempt)
	defer func() {
		if err != nil && !errors.Is(err, ErrSourceExhausted) {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// sctx also ends when the read side fails. It is cancelled only after the
	// deferred Close below has run the close handshake.
	sctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	conn, err := Dial(ctx, s.target, s.opts.dial)
	if err != nil {
		return err
	}
	defer conn.Close()

	hello := protocol.Hello(protocol.RoleSender, s.target.StreamID)
	if err := conn.WriteMessage(ctx, hello); err != nil {
		return err
	}
	s.opts.notify(ctx, Outbound, s.target.StreamID, hello)
	s.opts.backoff.Reset()
	s.opts.metrics.ConnectionOpened(ctx, protocol.RoleSender)
	defer s.opts.metrics.ConnectionClosed(context.WithoutCancel(ctx), protocol.RoleSender)
	s.log.Info("sender connected", "url", s.target.URL, "trace_id", observe.CorrelationID(ctx))

	// The server may talk back (hello acks). Draining the read side also keeps
	// keepalive pongs flowing and notices a dead peer.
	go s.drain(sctx, conn, cancel)

	for {
		if s.pauseMuted && s.mute.Muted() {
			s.seg.Reset()
			s.log.Debug("capture paused while muted")
			if err := s.mute.WaitUnmuted(sctx); err != nil {
				if cause := context.Cause(sctx); cause != nil && ctx.Err() == nil {
					return cause
				}
				return err
			}
		}
		frame, err := s.src.ReadFrame(sctx)
		switch {
		case errors.Is(err, io.EOF):
			return s.finish(ctx, conn)
		case err != nil && sctx.Err() != nil:
			if cause := context.Cause(sctx); cause != nil && ctx.Err() == nil {
				return cause
			}
			return ctx.Err()
		case err != nil:
			if stopErr := s.sendStop(ctx, conn); stopErr != nil {
				s.log.Debug("final stop after source failure not sent", "err", stopErr)
			}
			return fmt.Errorf("%w: %w", errSource, err)
		}
		if err := s.handle(sctx, conn, frame.Data); err != nil {
			return err
		}
	}
}

// handle applies mute, segmentation and the wire writes to one frame.
func (s *Sender) handle(ctx context.Context, conn *Conn, frame []byte) error {
	if s.mute.Muted() {
		s.seg.Reset()
		s.opts.metrics.RecordFrameDropped(ctx, s.target.StreamID, observe.DropMuted)
		return nil
	}
	if len(frame) != audio.FrameBytes {
		s.log.Debug("dropping malformed frame", "bytes", len(frame), "want", audio.FrameBytes)
		s.opts.metrics.RecordFrameDropped(ctx, s.target.StreamID, observe.DropMalformed)
		return nil
	}

	d, err := s.seg.Update(frame)
	if err != nil {
		s.log.Debug("segmenter rejected frame", "err", err)
		s.opts.metrics.RecordFrameDropped(ctx, s.target.StreamID, observe.DropMalformed)
		return nil
	}
	if d.Forward {
		if err := conn.WriteBinary(ctx, frame); err != nil {
			return err
		}
		s.opts.metrics.RecordFrameSent(ctx, s.target.StreamID)
	}
	if d.Stop {
		return s.sendStop(ctx, conn)
	}
	return nil
}

func (s *Sender) sendStop(ctx context.Context, conn *Conn) error {
	stop := protocol.Stop()
	if err := conn.WriteMessage(ctx, stop); err != nil {
		return err
	}
	s.opts.metrics.RecordStopSent(ctx, s.target.StreamID)
	s.opts.notify(ctx, Outbound, s.target.StreamID, stop)
	s.log.Debug("utterance boundary sent")
	return nil
}

// finish closes the last utterance when the source runs dry.
func (s *Sender) finish(ctx context.Context, conn *Conn) error {
	if err := s.sendStop(ctx, conn); err != nil {
		return err
	}
	return ErrSourceExhausted
}

// drain reads and discards server messages, logging hello acks. It cancels
// the session when the connection fails.
func (s *Sender) drain(ctx context.Context, conn *Conn, cancel context.CancelCauseFunc) {
	for {
		data, binary, err := conn.Read(ctx)
		if err != nil {
			cancel(fmt.Errorf("stream: read: %w", err))
			return
		}
		if binary {
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			s.log.Debug("ignoring malformed server message", "err", err)
			continue
		}
		s.opts.notify(ctx, Inbound, s.target.StreamID, msg)
		if msg.Type == protocol.TypeHello {
			s.log.Debug("hello acknowledged", "accepted", msg.Accepted)
		}
	}
}
