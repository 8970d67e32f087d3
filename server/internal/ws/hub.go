package ws

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomcast/roomcast/server/internal/metrics"
	"github.com/roomcast/roomcast/server/internal/protocol"
)

// Options tunes per-connection limits.
type Options struct {
	SendBuffer      int
	MaxMessageBytes int64
	InitTimeout     time.Duration
	// WriteTimeout bounds a single write; a peer that stops reading is cut
	// off when it expires. Defaults to 10s.
	WriteTimeout time.Duration
	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string
}

// Hub accepts WebSocket connections and tracks them for shutdown.
type Hub struct {
	router  *protocol.Router
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	conns   map[*Conn]struct{}
	closing bool

	// writers counts running write pumps so Shutdown can wait for the
	// close frames to go out.
	writers sync.WaitGroup
}

// New creates a Hub that routes frames through router.
func New(router *protocol.Router, opts Options, log *slog.Logger, m *metrics.Metrics) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 4096
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		router:  router,
		opts:    opts,
		log:     log,
		metrics: m,
		conns:   make(map[*Conn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Shutdown refuses new connections, closes every open one with 1001 and waits
// until their writers have sent the close frame or ctx ends.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	for c := range h.conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	n := len(h.conns)
	h.mu.Unlock()
	h.log.Info("ws: shutting down", "connections", n)

	done := make(chan struct{})
	go func() {
		h.writers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades the request and serves the connection for the room named
// by the {id} path value. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		http.Error(w, "room id required", http.StatusBadRequest)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := newConn(wsConn, roomID, h.opts, h.log)
	if !h.register(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.writePump()
		return
	}
	defer h.unregister(c)
	c.log.Debug("ws: state change", "to", StateConnecting.String(), "remote", r.RemoteAddr)

	go func() {
		defer h.writers.Done()
		c.writePump()
	}()
	c.readPump(h.router, h.opts.MaxMessageBytes, h.opts.InitTimeout)
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// --- internal ---------------------------------------------------------------

// register tracks c unless the hub is shutting down.
func (h *Hub) register(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.conns[c] = struct{}{}
	h.writers.Add(1)
	h.metrics.ConnOpened()
	return true
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if ok {
		h.metrics.ConnClosed()
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients do not send Origin.
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}
