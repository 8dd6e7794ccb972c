package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nightbuddy/internal/eventbus"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	clientSendBuf = 32
	broadcastBuf  = 128
)

// streamedTypes are forwarded to websocket clients.
var streamedTypes = []eventbus.EventType{
	eventbus.EventTypeStatus,
	eventbus.EventTypeOverlay,
	eventbus.EventTypeNotification,
}

// envelope is the wire format of websocket messages.
type envelope struct {
	Type string    `json:"type"`
	Ts   time.Time `json:"ts"`
	Data any       `json:"data,omitempty"`
}

// Hub fans bus events out to websocket clients. Each client has its own
// send queue; a client that falls behind is disconnected.
type Hub struct {
	bus       *eventbus.Bus
	broadcast chan []byte

	mu      sync.Mutex
	clients map[*client]struct{}

	unsubscribe []func()
}

// NewHub creates a hub streaming events from bus. Call Run to start it.
func NewHub(bus *eventbus.Bus) *Hub {
	return &Hub{
		bus:       bus,
		broadcast: make(chan []byte, broadcastBuf),
		clients:   make(map[*client]struct{}),
	}
}

// Run forwards bus events until ctx is cancelled, then disconnects all
// clients.
func (h *Hub) Run(ctx context.Context) {
	for _, t := range streamedTypes {
		h.unsubscribe = append(h.unsubscribe, h.bus.Subscribe(t, h.forward))
	}
	log.Info().Msg("Websocket hub started")

	defer func() {
		for _, unsub := range h.unsubscribe {
			unsub()
		}
		h.closeAll()
		log.Info().Msg("Websocket hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.broadcast:
			var slow []*client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.remove(c, "slow_client")
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) forward(e eventbus.Event) {
	msg, err := encodeEnvelope(e)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(e.Type)).Msg("Failed to encode websocket message")
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Warn().Int("bytes", len(msg)).Msg("Websocket broadcast queue full, dropping message")
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and streams events to the client, starting
// with the latest status.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, clientSendBuf), remoteAddr: r.RemoteAddr}
	h.add(c)

	// Pumps are not tied to the request context, which ends when this
	// handler returns.
	go c.writePump()
	go c.readPump()
}

// add registers c and queues the latest status as its first message.
func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if last, ok := h.bus.Latest(eventbus.EventTypeStatus); ok {
		if msg, err := encodeEnvelope(last); err == nil {
			c.send <- msg
		}
	}
	h.clients[c] = struct{}{}
	log.Info().Str("remote_addr", c.remoteAddr).Int("clients", len(h.clients)).Msg("Websocket client connected")
}

func (h *Hub) remove(c *client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		_ = c.conn.Close()
		log.Info().Str("remote_addr", c.remoteAddr).Str("reason", reason).Int("clients", n).Msg("Websocket client disconnected")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c, "shutdown")
	}
}

func encodeEnvelope(e eventbus.Event) ([]byte, error) {
	return json.Marshal(envelope{Type: string(e.Type), Ts: e.At.UTC(), Data: e.Data})
}

type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logPumpExit("write", c.remoteAddr, err)
				c.hub.remove(c, "write_error")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logPumpExit("ping", c.remoteAddr, err)
				c.hub.remove(c, "ping_error")
				return
			}
		}
	}
}

// readPump discards client messages and detects disconnects.
func (c *client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			logPumpExit("read", c.remoteAddr, err)
			c.hub.remove(c, "read_error")
			return
		}
	}
}

func logPumpExit(pump, remoteAddr string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		log.Debug().Str("pump", pump).Str("remote_addr", remoteAddr).Int("code", ce.Code).Str("reason", ce.Text).Msg("Websocket closed")
		return
	}
	log.Debug().Err(err).Str("pump", pump).Str("remote_addr", remoteAddr).Msg("Websocket pump exiting")
}
