package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// writeTimeout bounds a single write to a peer so one stalled client cannot
// hold up a broadcast.
const writeTimeout = 5 * time.Second

// broadcastLimit caps concurrent writes during a broadcast.
const broadcastLimit = 16

// Peer is one accepted WebSocket connection. Writes are serialised; gorilla
// connections allow one concurrent writer.
type Peer struct {
	conn     *websocket.Conn
	streamID string

	mu sync.Mutex
}

func newPeer(conn *websocket.Conn, streamID string) *Peer {
	return &Peer{conn: conn, streamID: streamID}
}

// StreamID returns the id from the connection path.
func (p *Peer) StreamID() string { return p.streamID }

// Write sends one message of the given gorilla message type.
func (p *Peer) Write(kind int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteMessage(kind, data)
}

// Registry tracks the playback peers that receive synthesised responses.
type Registry struct {
	mu    sync.RWMutex
	peers map[*Peer]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[*Peer]struct{})}
}

// Add registers p. Adding a peer twice is a no-op.
func (r *Registry) Add(p *Peer) {
	r.mu.Lock()
	r.peers[p] = struct{}{}
	r.mu.Unlock()
}

// Remove unregisters p, reporting whether it was present.
func (r *Registry) Remove(p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p]; !ok {
		return false
	}
	delete(r.peers, p)
	return true
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Registry) snapshot() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Broadcast writes data to every registered peer concurrently and returns how
// many received it. A peer whose write fails is removed; the first such
// failure is returned.
func (r *Registry) Broadcast(ctx context.Context, kind int, data []byte) (int, error) {
	peers := r.snapshot()
	if len(peers) == 0 {
		return 0, nil
	}

	var delivered atomic.Int64
	var g errgroup.Group
	g.SetLimit(broadcastLimit)
	for _, p := range peers {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := p.Write(kind, data); err != nil {
				r.Remove(p)
				return fmt.Errorf("relay: write to %s: %w", p.streamID, err)
			}
			delivered.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return int(delivered.Load()), err
}
