// Package stream implements the reconnecting WebSocket client: a [Sender]
// per capture stream and a single [Playback] connection.
//
// Both roles run the same outer loop: dial, send a hello, stream until the
// connection fails, then back off and dial again. Network failures never end
// the loop; only context cancellation does (and, for a sender, the end of a
// finite audio source).
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxlink/internal/protocol"
)

// Dial defaults.
const (
	DefaultPingInterval     = 30 * time.Second
	DefaultReadLimit        = 16 << 20
	DefaultHandshakeTimeout = 10 * time.Second
)

// Target identifies the server endpoint of one connection.
type Target struct {
	// URL is the full ws:// or wss:// endpoint, e.g. ws://host:8000/ws/self.
	URL string

	// Token is sent as "Authorization: Bearer <Token>".
	Token string

	// StreamID names the capture stream ("self", "other"). Playback targets
	// use it only for logging.
	StreamID string
}

// URLFor joins a base URL such as ws://127.0.0.1:8000 and a stream id into
// the per-stream endpoint ws://127.0.0.1:8000/ws/<streamID>.
func URLFor(base, streamID string) string {
	return strings.TrimRight(base, "/") + "/ws/" + streamID
}

// DialOptions tunes a connection. Zero fields take defaults.
type DialOptions struct {
	// PingInterval is the keepalive period. Negative disables pings.
	PingInterval time.Duration

	// ReadLimit caps the size of a single inbound message in bytes. Playback
	// payloads can be arbitrarily large chunks of audio.
	ReadLimit int64

	// HandshakeTimeout bounds the opening HTTP upgrade.
	HandshakeTimeout time.Duration

	// HTTPClient is used for the upgrade request. Default: http.DefaultClient.
	HTTPClient *http.Client
}

func (o DialOptions) withDefaults() DialOptions {
	if o.PingInterval == 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.ReadLimit == 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return o
}

// Conn is an open streaming connection. Writes are serialised; Read must be
// called from a single goroutine.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	stopPing  context.CancelFunc
}

// Dial opens a WebSocket connection to t and starts the keepalive pinger.
// The pinger needs a concurrent reader for pongs, so callers must keep
// reading from the returned Conn for as long as it is open.
func Dial(ctx context.Context, t Target, opts DialOptions) (*Conn, error) {
	opts = opts.withDefaults()

	hctx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	header := http.Header{}
	if t.Token != "" {
		header.Set("Authorization", "Bearer "+t.Token)
	}
	ws, resp, err := websocket.Dial(hctx, t.URL, &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stream: dial %s: %w (status %d)", t.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("stream: dial %s: %w", t.URL, err)
	}
	ws.SetReadLimit(opts.ReadLimit)

	pingCtx, stopPing := context.WithCancel(context.Background())
	c := &Conn{ws: ws, stopPing: stopPing}
	if opts.PingInterval > 0 {
		go c.keepalive(pingCtx, opts.PingInterval)
	}
	return c, nil
}

func (c *Conn) keepalive(ctx context.Context, every time.Duration) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		pctx, cancel := context.WithTimeout(ctx, every)
		err := c.ws.Ping(pctx)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("stream: keepalive failed", "err", err)
				c.ws.Close(websocket.StatusGoingAway, "keepalive timeout")
			}
			return
		}
	}
}

// WriteMessage encodes m and sends it as a text message.
func (c *Conn) WriteMessage(ctx context.Context, m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("stream: write %s: %w", m.Type, err)
	}
	return nil
}

// WriteBinary sends an audio payload.
func (c *Conn) WriteBinary(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("stream: write audio: %w", err)
	}
	return nil
}

// Read returns the next message. binary reports whether it is audio.
func (c *Conn) Read(ctx context.Context) (data []byte, binary bool, err error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, false, err
	}
	return data, typ == websocket.MessageBinary, nil
}

// Close stops the pinger and closes the connection with a normal status.
// Calling Close more than once is safe; only the first call reports an error.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stopPing()
		err = c.ws.Close(websocket.StatusNormalClosure, "")
	})
	return err
}
