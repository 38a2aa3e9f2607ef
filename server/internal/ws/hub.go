package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartbiofloc/biofloc/server/internal/api"
	"github.com/smartbiofloc/biofloc/server/internal/registry"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16

	// EventFleet tags every pushed message.
	EventFleet = "fleet"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Dashboards are served from other origins; restrict at the proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string            `json:"event"`
	Data  api.FleetResponse `json:"data"`
}

// FleetSource is the read side of the device registry.
type FleetSource interface {
	Query() registry.Fleet
}

// Hub pushes the fleet view to every connected dashboard. It broadcasts on
// a fixed interval, so is_active flips are visible without new readings,
// and also shortly after each accepted reading via OnIngest.
type Hub struct {
	src      FleetSource
	interval time.Duration
	notify   chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) stop() { c.once.Do(func() { close(c.done) }) }

// New creates a Hub that reads from src and broadcasts every interval.
func New(src FleetSource, interval time.Duration) *Hub {
	return &Hub{
		src:      src,
		interval: interval,
		notify:   make(chan struct{}, 1),
		clients:  make(map[*client]struct{}),
	}
}

// OnIngest schedules a broadcast. It implements registry.Listener and never
// blocks; bursts of readings collapse into one push.
func (h *Hub) OnIngest(registry.Ingested) {
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Run broadcasts until ctx is cancelled, then closes all connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			h.broadcast()
		case <-h.notify:
			h.broadcast()
		}
	}
}

// ServeHTTP upgrades the connection, sends the current fleet immediately
// and then streams broadcasts. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
		done: make(chan struct{}),
	}
	if data, err := h.buildMessage(); err == nil {
		c.send <- data
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Debug("ws: client connected", "remote", c.conn.RemoteAddr().String())
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
}

func (h *Hub) broadcast() {
	data, err := h.buildMessage()
	if err != nil {
		slog.Error("ws: encode fleet", "err", err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			// Slow consumer: its buffer is full, drop it.
			slog.Warn("ws: dropping slow client", "remote", c.conn.RemoteAddr().String())
			h.unregister(c)
		}
	}
}

func (h *Hub) buildMessage() ([]byte, error) {
	return json.Marshal(Message{
		Event: EventFleet,
		Data:  api.BuildFleet(h.src.Query()),
	})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.stop()
		delete(h.clients, c)
	}
}

// writePump forwards queued messages and periodic pings to the connection.
// It exits when the client is stopped or a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return

		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames and detects disconnects. Dashboards
// never send data frames.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
