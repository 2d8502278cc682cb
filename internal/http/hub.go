package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"video-insight-client/internal/observability/logging"
	"video-insight-client/internal/observability/metrics"
	"video-insight-client/internal/service/pipeline"
	"video-insight-client/internal/service/session"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

// Hub pushes session snapshots to connected WebSocket viewers.
// All socket writes happen on the Run goroutine.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan session.Snapshot
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}

	mu      sync.RWMutex
	last    *session.Snapshot
	active  string // session being followed, empty before the first one
	dispose func()

	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan session.Snapshot, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // viewer is served from another local origin
			},
		},
		metrics: m,
		logger:  logging.WithComponent("hub"),
	}
}

// Publish queues snap for every client. The newest snapshot is also kept for late joiners.
// When the queue is full the update is dropped; the next one carries the full state.
// Snapshots of a session other than the followed one are ignored.
func (h *Hub) Publish(snap session.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != "" && snap.ID != h.active {
		h.logger.Debug().Str("sessionId", snap.ID).Str("active", h.active).Msg("Ignoring superseded session update")
		return
	}
	h.last = &snap

	select {
	case h.broadcast <- snap:
	case <-h.done:
	default:
		h.logger.Warn().Str("sessionId", snap.ID).Msg("Broadcast queue full, dropping update")
	}
}

// Follow publishes every snapshot of the session the runner started last.
// A new session replaces the previous subscription.
func (h *Hub) Follow(r *pipeline.Runner) {
	r.OnSession(h.follow)
}

func (h *Hub) follow(s *session.Session) {
	h.mu.Lock()
	h.active = s.ID()
	prev := h.dispose
	h.dispose = nil
	h.mu.Unlock()

	if prev != nil {
		prev()
	}
	dispose := s.Subscribe(h.Publish)

	h.mu.Lock()
	if h.active == s.ID() {
		h.dispose = dispose
		dispose = nil
	}
	h.mu.Unlock()
	if dispose != nil {
		dispose()
	}
}

// Last returns the most recent snapshot, if any.
func (h *Hub) Last() (session.Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return session.Snapshot{}, false
	}
	return *h.last, true
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run serves registrations and broadcasts until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				h.drop(conn)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			last := h.last
			total := len(h.clients)
			h.mu.Unlock()
			h.metrics.RecordClientConnected(true)
			h.logger.Info().Int("total", total).Msg("Viewer connected")
			if last != nil {
				h.send(conn, *last)
			}

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				h.drop(conn)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().Int("total", total).Msg("Viewer disconnected")

		case snap := <-h.broadcast:
			h.mu.RLock()
			if h.active != "" && snap.ID != h.active {
				h.mu.RUnlock()
				continue
			}
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.mu.RUnlock()
			for _, conn := range conns {
				h.send(conn, snap)
			}
		}
	}
}

// send writes snap to conn, dropping the client on failure. Run goroutine only.
func (h *Hub) send(conn *websocket.Conn, snap session.Snapshot) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(snap); err != nil {
		h.logger.Debug().Err(err).Msg("Write error")
		h.mu.Lock()
		if _, ok := h.clients[conn]; ok {
			h.drop(conn)
		}
		h.mu.Unlock()
	}
}

// drop removes conn. Callers hold h.mu.
func (h *Hub) drop(conn *websocket.Conn) {
	delete(h.clients, conn)
	conn.Close()
	h.metrics.RecordClientConnected(false)
}

// ServeWS upgrades the request and registers the connection with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// Reads only detect disconnects; viewers never send anything we act on.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
