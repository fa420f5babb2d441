// Package app wires all voxlink subsystems into a running client.
//
// The App struct owns the full lifecycle: New opens the audio backends,
// journal and admin listener and builds the senders, playback client and
// scheduler; Run supervises them under one errgroup; Shutdown releases what
// New opened.
//
// For testing, inject doubles via functional options (WithRegistry,
// WithJournalStore, WithDisplay, ...). When an option is not provided, New
// builds the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxlink/internal/config"
	"github.com/MrWong99/voxlink/internal/display"
	"github.com/MrWong99/voxlink/internal/health"
	"github.com/MrWong99/voxlink/internal/jitter"
	"github.com/MrWong99/voxlink/internal/journal"
	"github.com/MrWong99/voxlink/internal/mute"
	"github.com/MrWong99/voxlink/internal/observe"
	"github.com/MrWong99/voxlink/internal/segment"
	"github.com/MrWong99/voxlink/internal/stream"
	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/provider/vad"
	"github.com/MrWong99/voxlink/pkg/provider/vad/rms"
)

// adminShutdownTimeout bounds the graceful stop of the admin server.
const adminShutdownTimeout = 5 * time.Second

// thresholdSetter is implemented by VAD sessions that can be retuned live.
type thresholdSetter interface {
	SetThreshold(t float64)
}

// App owns all subsystem lifetimes of one voxlink client.
type App struct {
	cfg     *config.Config
	reg     *config.Registry
	metrics *observe.Metrics
	log     *slog.Logger
	level   *slog.LevelVar

	mute      *mute.Coordinator
	buffer    *jitter.Buffer
	senders   []*stream.Sender
	vads      []thresholdSetter
	playback  *stream.Playback
	scheduler *jitter.Scheduler
	recorder  *journal.Recorder
	display   display.Display
	extra     []display.Display
	indicator display.Indicator
	store     journal.Store

	watcherPath string
	watcherOpts []config.WatcherOption
	watcher     *config.Watcher

	admin   *http.Server
	adminLn net.Listener

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithRegistry supplies the backend registry. Default: a registry with
// [RegisterBuiltins] applied.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.reg = r }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets config reloads adjust the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithJournalStore injects a journal store instead of connecting to
// journal.postgres_dsn.
func WithJournalStore(s journal.Store) Option {
	return func(a *App) { a.store = s }
}

// WithDisplay adds d to the displays receiving texts and emotions.
func WithDisplay(d display.Display) Option {
	return func(a *App) { a.extra = append(a.extra, d) }
}

// WithIndicator sets the emotion indicator driver. Default: a
// [display.LogIndicator].
func WithIndicator(ind display.Indicator) Option {
	return func(a *App) { a.indicator = ind }
}

// WithConfigFile watches path and applies hot-reloadable changes while Run
// is active.
func WithConfigFile(path string, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.watcherPath = path
		a.watcherOpts = opts
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg, mute: mute.New()}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.reg == nil {
		a.reg = config.NewRegistry()
		RegisterBuiltins(a.reg)
	}
	defer func() {
		if err != nil {
			_ = a.Shutdown(context.Background())
		}
	}()

	// ── 1. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	// ── 2. Display ───────────────────────────────────────────────────────
	if err := a.initDisplay(); err != nil {
		return nil, fmt.Errorf("app: init display: %w", err)
	}

	// ── 3. Playback path ─────────────────────────────────────────────────
	if err := a.initPlayback(); err != nil {
		return nil, fmt.Errorf("app: init playback: %w", err)
	}

	// ── 4. Senders ───────────────────────────────────────────────────────
	if err := a.initSenders(); err != nil {
		return nil, fmt.Errorf("app: init senders: %w", err)
	}

	// ── 5. Config watcher ────────────────────────────────────────────────
	if a.watcherPath != "" {
		w, err := config.NewWatcher(a.watcherPath, a.Reload, a.watcherOpts...)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}

	// ── 6. Admin server ──────────────────────────────────────────────────
	if err := a.initAdmin(); err != nil {
		return nil, fmt.Errorf("app: init admin: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) streamOptions() []stream.Option {
	rc := a.cfg.Reconnect
	return []stream.Option{
		stream.WithBackoff(stream.Backoff{Floor: rc.Floor, Factor: rc.Factor, Cap: rc.Cap}),
		stream.WithDialOptions(stream.DialOptions{PingInterval: rc.PingInterval}),
		stream.WithMetrics(a.metrics),
		stream.WithLogger(a.log),
		stream.WithMessageHook(a.recorder.Hook()),
	}
}

// initJournal connects the event journal, or uses a no-op store when no DSN
// is configured.
func (a *App) initJournal(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Journal.PostgresDSN; dsn != "" {
			store, err := journal.Connect(ctx, dsn)
			if err != nil {
				return err
			}
			a.store = store
		} else {
			a.store = journal.NopStore{}
		}
	}
	a.recorder = journal.NewRecorder(a.store, journal.WithLogger(a.log))
	a.log.Info("journal configured", "session_id", a.recorder.SessionID())
	return nil
}

func (a *App) initDisplay() error {
	displays := display.Multi{display.LogDisplay{Logger: a.log}}
	if a.cfg.Display.LED {
		ind := a.indicator
		if ind == nil {
			ind = display.LogIndicator{Logger: a.log}
		}
		pins, err := display.NewEmotionPins(ind, a.cfg.Display.Pins)
		if err != nil {
			return err
		}
		displays = append(displays, pins)
		a.closers = append(a.closers, pins.Close)
	}
	a.display = append(displays, a.extra...)
	return nil
}

// initPlayback builds the jitter buffer, render sink, scheduler and playback
// client. A render backend that cannot be opened is replaced by a null sink
// so the rest of the client keeps working.
func (a *App) initPlayback() error {
	buf, err := jitter.NewBuffer(jitter.BufferConfig{
		PrebufferMs: a.cfg.Jitter.PrebufferMs,
		MaxBufferMs: a.cfg.Jitter.MaxBufferMs,
	})
	if err != nil {
		return err
	}
	a.buffer = buf

	out, err := a.reg.CreateOutput(a.cfg.Audio.Output, config.OutputSpec{
		Device: a.cfg.Audio.OutputDevice,
		File:   a.cfg.Audio.WAVOutput,
	})
	if err != nil {
		a.log.Warn("render backend unavailable, discarding playback audio",
			"output", a.cfg.Audio.Output, "err", err)
		out = nullOutput{&audio.NullSink{}}
	}
	a.closers = append(a.closers, out.Close)

	a.scheduler = jitter.NewScheduler(buf, out, jitter.SchedulerConfig{
		FrameMs: audio.FrameMs,
		Speed:   a.cfg.Jitter.Speed,
	}, jitter.WithMetrics(a.metrics), jitter.WithLogger(a.log))

	target := stream.Target{
		URL:      stream.URLFor(a.cfg.Server.URL, a.cfg.Server.PlaybackStream),
		Token:    a.cfg.Server.Token,
		StreamID: a.cfg.Server.PlaybackStream,
	}
	a.playback = stream.NewPlayback(target, buf, a.mute, a.display, a.streamOptions()...)
	return nil
}

// initSenders opens one capture backend, VAD session and sender per stream.
func (a *App) initSenders() error {
	mode, err := segment.ParseMode(a.cfg.VAD.Mode)
	if err != nil {
		return err
	}
	engine := rms.New()

	for _, sc := range a.cfg.Streams {
		input := a.cfg.InputFor(sc)
		in, err := a.reg.CreateInput(input, config.InputSpec{
			StreamID:     sc.ID,
			Device:       a.cfg.DeviceFor(sc),
			File:         sc.File,
			ToneHz:       sc.ToneHz,
			CaptureQueue: a.cfg.Audio.CaptureQueue,
			Pace:         true,
			OnDrop: func() {
				a.metrics.RecordFrameDropped(context.Background(), sc.ID, observe.DropCaptureOverflow)
			},
		})
		if err != nil {
			return fmt.Errorf("stream %q: open %s input: %w", sc.ID, input, err)
		}
		a.closers = append(a.closers, in.Close)

		sess, err := engine.NewSession(vad.Config{
			SpeechThreshold: a.cfg.VAD.Threshold,
			MinSilenceMs:    int(a.cfg.VAD.MinSilence / time.Millisecond),
		})
		if err != nil {
			return fmt.Errorf("stream %q: vad session: %w", sc.ID, err)
		}
		if ts, ok := sess.(thresholdSetter); ok {
			a.vads = append(a.vads, ts)
		}
		seg := segment.New(sess, segment.WithMode(mode))
		a.closers = append(a.closers, seg.Close)

		target := stream.Target{
			URL:      stream.URLFor(a.cfg.Server.URL, sc.ID),
			Token:    a.cfg.Server.Token,
			StreamID: sc.ID,
		}
		s := stream.NewSender(target, in, seg, a.mute, a.streamOptions()...)
		if input == config.InputWAV {
			// A file has no real-time producer to fall behind.
			s.Configure(stream.PauseWhileMuted())
		}
		a.senders = append(a.senders, s)
		a.log.Info("sender configured", "stream_id", sc.ID, "input", input, "mode", mode.String())
	}
	return nil
}

// initAdmin binds the admin listener serving /metrics, /healthz and /readyz.
func (a *App) initAdmin() error {
	addr := a.cfg.Admin.ListenAddr
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	a.adminLn = ln
	a.admin = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.closers = append(a.closers, func() error {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})
	return nil
}

// Handler returns the admin HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.Flag("playback", a.playback.Connected),
		health.Checker{Name: "journal", Check: a.recorder.Check},
	).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// AdminAddr returns the bound admin address, or "" when disabled.
func (a *App) AdminAddr() string {
	if a.adminLn == nil {
		return ""
	}
	return a.adminLn.Addr().String()
}

// Recorder returns the event journal recorder.
func (a *App) Recorder() *journal.Recorder { return a.recorder }

// Mute returns the shared mute coordinator.
func (a *App) Mute() *mute.Coordinator { return a.mute }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts every task and blocks until ctx is cancelled or a task fails.
// On the way out the scheduler is stopped before the network sessions, so
// no frame is rendered from a buffer that is being torn down. Run returns
// nil after a clean cancellation.
func (a *App) Run(ctx context.Context) error {
	sessCtx, stopSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSessions()
	g, gctx := errgroup.WithContext(sessCtx)

	schedCtx, stopScheduler := context.WithCancel(gctx)
	defer stopScheduler()
	schedDone := make(chan struct{})

	g.Go(func() error {
		defer close(schedDone)
		return a.scheduler.Run(schedCtx)
	})
	g.Go(func() error { return a.playback.Run(gctx) })
	for _, s := range a.senders {
		g.Go(func() error {
			if err := s.Run(gctx); err != nil {
				return fmt.Errorf("app: sender %s: %w", s.StreamID(), err)
			}
			return nil
		})
	}
	g.Go(func() error { return a.recorder.Run(gctx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	if a.admin != nil {
		g.Go(func() error { return a.serveAdmin(gctx) })
	}

	// Ordered teardown.
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-gctx.Done():
		}
		stopScheduler()
		<-schedDone
		stopSessions()
		return nil
	})

	a.log.Info("voxlink running",
		"server", a.cfg.Server.URL,
		"streams", len(a.senders),
		"playback_stream", a.cfg.Server.PlaybackStream,
		"admin", a.AdminAddr(),
	)
	return g.Wait()
}

func (a *App) serveAdmin(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.admin.Serve(a.adminLn) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
		defer cancel()
		if err := a.admin.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("admin server shutdown", "err", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: admin server: %w", err)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable differences between old and new: the log
// level and the VAD threshold. Anything else is logged as needing a restart.
// It is the watcher callback.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", string(d.NewLogLevel))
	}
	if d.ThresholdChanged {
		for _, v := range a.vads {
			v.SetThreshold(d.NewThreshold)
		}
		a.log.Info("vad threshold changed", "threshold", d.NewThreshold)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes take effect after a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases everything New opened, in the order it was opened, and
// closes the journal store last so that events from the other closers can
// still be written. Call it after Run has returned. It respects the context
// deadline: if ctx expires before all closers finish, the remaining closers
// are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		closers := a.closers
		if a.recorder != nil {
			closers = append(closers, func() error {
				a.recorder.Close()
				return nil
			})
		}
		a.log.Debug("shutting down", "closers", len(closers))
		for i, closer := range closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
