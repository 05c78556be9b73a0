package chat

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Hub owns the set of connected clients. Registration, removal and
// broadcast all happen on the Run goroutine, so the set is never iterated
// while another goroutine mutates it.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	clients   map[*Client]struct{}
	count     atomic.Int64
	delivered atomic.Int64

	upgrader websocket.Upgrader
	logger   *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
	wg      sync.WaitGroup
}

// NewHub builds a hub. allowedOrigins restricts browser origins for the
// websocket handshake; an empty list accepts every origin.
func NewHub(logger *slog.Logger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		clients:    make(map[*Client]struct{}),
		logger:     logger.With(slog.String("component", "chat")),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// Run processes registrations and broadcasts until ctx is cancelled or
// Shutdown is called. It must be called exactly once.
func (h *Hub) Run(ctx context.Context) {
	h.started.Store(true)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-h.ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.logger.Info("chat client connected", "remote_addr", client.addr, "clients", len(h.clients))
		case client := <-h.unregister:
			if h.remove(client) {
				h.logger.Info("chat client disconnected", "remote_addr", client.addr, "clients", len(h.clients))
			}
		case frame := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- frame:
					h.delivered.Add(1)
				default:
					h.remove(client)
					h.logger.Warn("dropping slow chat client", "remote_addr", client.addr)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) bool {
	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	close(client.send)
	h.count.Store(int64(len(h.clients)))
	return true
}

func (h *Hub) closeAll() {
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
		_ = client.conn.Close()
	}
	h.count.Store(0)
	h.logger.Info("chat hub stopped", "frames_delivered", h.delivered.Load())
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	return int(h.count.Load())
}

// Broadcast queues text for delivery to every connected client, the sender
// included. Client read pumps relay through it. It returns false once the
// hub has stopped.
func (h *Hub) Broadcast(text string) bool {
	frame, err := NewMessage(text).Encode()
	if err != nil {
		return false
	}
	return h.publish(frame)
}

func (h *Hub) publish(frame []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.broadcast <- frame:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(h, conn, r.RemoteAddr)
	h.wg.Add(2)
	if !h.join(client) {
		h.wg.Add(-2)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// Shutdown stops the hub, closes every connection and waits up to timeout
// for the client goroutines to exit.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	if h.started.Load() {
		<-h.done
	}

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		h.logger.Warn("chat shutdown timed out waiting for clients")
		return context.DeadlineExceeded
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	normalized := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin = normalizeOrigin(origin); origin != "" {
			normalized[origin] = struct{}{}
		}
	}
	_, allowAll := normalized["*"]
	if len(normalized) == 0 {
		allowAll = true
	}

	return func(r *http.Request) bool {
		header := r.Header.Get("Origin")
		if allowAll || header == "" {
			return true
		}
		origin := normalizeOrigin(header)
		if origin == "" {
			return false
		}
		if _, ok := normalized[origin]; ok {
			return true
		}
		u, err := url.Parse(header)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

func normalizeOrigin(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "*" {
		return origin
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
}
