package notifier

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/italolelis/print_agent/internal/logctx"
)

const writeTimeout = 5 * time.Second

// Hub pushes notifications to connected UI clients over websockets.
type Hub struct {
	mu             sync.RWMutex
	clients        map[*websocket.Conn]struct{}
	originPatterns []string
}

// NewHub creates a hub accepting connections from the given origin patterns.
// A "*" pattern accepts any origin.
func NewHub(originPatterns []string) *Hub {
	return &Hub{
		clients:        make(map[*websocket.Conn]struct{}),
		originPatterns: originPatterns,
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// ServeHTTP upgrades the request and keeps the client registered until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: slices.Contains(h.originPatterns, "*"),
		OriginPatterns:     h.originPatterns,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to accept event client", "err", err)

		return
	}

	h.add(conn)
	logger.InfoContext(ctx, "event client connected", "clients", h.Count(), "remote_addr", r.RemoteAddr)

	// Clients only listen; CloseRead discards their frames and reports disconnection.
	ctx = conn.CloseRead(ctx)
	<-ctx.Done()

	h.remove(conn)
	_ = conn.Close(websocket.StatusNormalClosure, "disconnected")

	logger.InfoContext(ctx, "event client disconnected", "clients", h.Count())
}

// Notify broadcasts n to every client. Clients that cannot be written to are dropped.
func (h *Hub) Notify(ctx context.Context, n Notification) error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))

	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(wctx, c, n)
		cancel()

		if err != nil {
			logctx.LoggerFromContext(ctx).DebugContext(ctx, "dropping event client", "err", err)

			h.remove(c)
			_ = c.Close(websocket.StatusGoingAway, "write failed")
		}
	}

	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.clients
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "shutting down")
	}
}

func (h *Hub) add(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c)
}
