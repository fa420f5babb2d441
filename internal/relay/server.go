// Package relay is a stand-in for the speech server. It accepts sender and
// playback connections on /ws/:mic_id, acknowledges hellos, and answers every
// utterance boundary with a canned transcript and a short synthesised tone
// broadcast to all playback clients.
//
// It exists for local development and integration tests; it performs no
// recognition or synthesis.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/MrWong99/voxlink/internal/protocol"
	"github.com/MrWong99/voxlink/pkg/audio"
)

// Response defaults.
const (
	DefaultResponseText  = "(mock) 了解しました。"
	DefaultToneFreq      = 440.0
	DefaultToneAmplitude = 0.8
	DefaultToneDuration  = time.Second
	DefaultChunkBytes    = 6400
	DefaultChunkInterval = 200 * time.Millisecond
)

// Config tunes the relay.
type Config struct {
	// Token is the expected bearer token. Empty accepts any bearer token,
	// but the header must still be present.
	Token string

	ResponseText  string
	ToneFreq      float64
	ToneAmplitude float64
	ToneDuration  time.Duration
	ChunkBytes    int
	ChunkInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ResponseText == "" {
		c.ResponseText = DefaultResponseText
	}
	if c.ToneFreq <= 0 {
		c.ToneFreq = DefaultToneFreq
	}
	if c.ToneAmplitude <= 0 {
		c.ToneAmplitude = DefaultToneAmplitude
	}
	if c.ToneDuration <= 0 {
		c.ToneDuration = DefaultToneDuration
	}
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = DefaultChunkBytes
	}
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = DefaultChunkInterval
	}
	return c
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the server logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server is the relay. Create it with [New] and mount [Server.Handler].
type Server struct {
	cfg      Config
	log      *slog.Logger
	playback *Registry
	upgrader websocket.Upgrader
	echo     *echo.Echo

	// responses run on ctx, detached from the request that triggered them.
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	respondMu sync.Mutex
}

// New builds a relay with its routes.
func New(cfg Config, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg.withDefaults(),
		log:      slog.Default(),
		playback: NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, o := range opts {
		o(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug("relay request", "method", v.Method, "uri", v.URI, "status", v.Status, "err", v.Error)
			return nil
		},
	}))
	e.GET("/", s.index)
	e.GET("/ws", s.serveWS)
	e.GET("/ws/:mic_id", s.serveWS)
	s.echo = e
	return s
}

// Handler returns the HTTP handler serving all relay routes.
func (s *Server) Handler() http.Handler { return s.echo }

// Playback returns the registry of connected playback peers.
func (s *Server) Playback() *Registry { return s.playback }

// Close stops in-flight responses and waits for them to finish. It does not
// close accepted connections; the HTTP server owns those.
func (s *Server) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Server) index(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"ws":       "/ws/{mic_id}",
		"playback": s.playback.Len(),
	})
}

// authorized reports whether r carries an acceptable bearer token.
func (s *Server) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if len(auth) < len("bearer ") || !strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		return false
	}
	return s.cfg.Token == "" || auth[len("bearer "):] == s.cfg.Token
}

func (s *Server) serveWS(c echo.Context) error {
	if !s.authorized(c.Request()) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing or invalid bearer token"})
	}
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.log.Warn("relay: upgrade failed", "err", err)
		return nil
	}
	peer := newPeer(conn, c.Param("mic_id"))
	defer func() {
		s.playback.Remove(peer)
		_ = conn.Close()
	}()

	log := s.log.With("stream_id", peer.streamID, "remote", c.RealIP())
	log.Info("relay: client connected")
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("relay: client read ended", "err", err)
			}
			log.Info("relay: client disconnected")
			return nil
		}
		if kind != websocket.TextMessage {
			// Sender audio. Nothing recognises it here.
			continue
		}
		s.onControl(peer, log, data)
	}
}

func (s *Server) onControl(peer *Peer, log *slog.Logger, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Debug("relay: ignoring malformed message", "err", err)
		return
	}
	switch msg.Type {
	case protocol.TypeHello:
		if msg.Role == protocol.RolePlayback {
			s.playback.Add(peer)
		}
		ack, err := protocol.Encode(protocol.HelloAck(msg.Role))
		if err == nil {
			err = peer.Write(websocket.TextMessage, ack)
		}
		if err != nil {
			log.Warn("relay: hello ack failed", "err", err)
			return
		}
		log.Info("relay: hello accepted", "role", msg.Role)
	case protocol.TypeStop:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.Respond(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("relay: response failed", "err", err)
			}
		}()
	}
}

// Respond broadcasts one mock response to every playback peer: a final_asr
// transcript, the tone in ChunkBytes chunks every ChunkInterval, then
// tts_done. Responses are serialised. It returns the utterance id, or ""
// when no playback peer is connected.
func (s *Server) Respond(ctx context.Context) (string, error) {
	s.respondMu.Lock()
	defer s.respondMu.Unlock()

	if s.playback.Len() == 0 {
		return "", nil
	}
	utterID := uuid.NewString()
	log := s.log.With("utter_id", utterID)

	pcm, err := s.tone(ctx)
	if err != nil {
		return utterID, err
	}
	if err := s.broadcastMessage(ctx, protocol.ASRText(s.cfg.ResponseText, utterID)); err != nil {
		log.Debug("relay: transcript broadcast incomplete", "err", err)
	}

	ticker := time.NewTicker(s.cfg.ChunkInterval)
	defer ticker.Stop()
	for off := 0; off < len(pcm); off += s.cfg.ChunkBytes {
		chunk := pcm[off:min(off+s.cfg.ChunkBytes, len(pcm))]
		if _, err := s.playback.Broadcast(ctx, websocket.BinaryMessage, chunk); err != nil {
			log.Debug("relay: audio broadcast incomplete", "err", err)
		}
		select {
		case <-ctx.Done():
			return utterID, ctx.Err()
		case <-ticker.C:
		}
	}

	if err := s.broadcastMessage(ctx, protocol.TTSDone(utterID)); err != nil {
		log.Debug("relay: tts_done broadcast incomplete", "err", err)
	}
	log.Info("relay: response sent", "audio_bytes", len(pcm))
	return utterID, nil
}

func (s *Server) broadcastMessage(ctx context.Context, m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	_, err = s.playback.Broadcast(ctx, websocket.TextMessage, data)
	return err
}

// tone renders the response audio as one contiguous PCM buffer.
func (s *Server) tone(ctx context.Context) ([]byte, error) {
	src := audio.NewToneSource(s.cfg.ToneFreq,
		audio.WithAmplitude(s.cfg.ToneAmplitude),
		audio.WithToneDurations(s.cfg.ToneDuration, 0),
		audio.WithRepeat(false),
		audio.WithPacing(false),
	)
	frames, err := audio.ReadAll(ctx, src)
	if err != nil {
		return nil, err
	}
	pcm := make([]byte, 0, len(frames)*audio.FrameBytes)
	for _, f := range frames {
		pcm = append(pcm, f.Data...)
	}
	return pcm, nil
}
