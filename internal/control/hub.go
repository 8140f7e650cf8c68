package control

import (
	"encoding/json"
	"errors"
	"sync"

	"argenie/companion/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const sendBuffer = 32

var (
	ErrBackpressure = errors.New("backpressure")
	errClientClosed = errors.New("client closed")
)

var (
	_ domain.Observer           = (*Hub)(nil)
	_ domain.DisconnectObserver = (*Hub)(nil)
)

// Notice is a message pushed to websocket clients.
type Notice struct {
	Event    string  `json:"event"`
	Action   string  `json:"action,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	Error    string  `json:"error,omitempty"`
	Accepted *bool   `json:"accepted,omitempty"`
	Status   *Status `json:"status,omitempty"`
}

// client is one websocket connection. Only its write pump writes to conn.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func newClient(id string, conn *websocket.Conn) *client {
	return &client{id: id, conn: conn, send: make(chan []byte, sendBuffer)}
}

func (c *client) trySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Hub fans session outcomes out to every connected websocket client. It is
// the controller's observer, so its callbacks run on the callback executor.
type Hub struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[string]*client
}

func NewHub() *Hub {
	return &Hub{
		log:     log.With().Str("module", "control").Logger(),
		clients: make(map[string]*client),
	}
}

func (h *Hub) OnConnected() {
	h.broadcast(Notice{Event: "connected"})
}

func (h *Hub) OnFailure(reason string) {
	h.broadcast(Notice{Event: "failure", Reason: reason})
}

func (h *Hub) OnDisconnected(reason string) {
	h.broadcast(Notice{Event: "disconnected", Reason: reason})
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info().Str("client", c.id).Int("clients", n).Msg("client connected")
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// send queues v for one client.
func (h *Hub) send(c *client, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal notice")
		return
	}
	if err := c.trySend(b); err != nil {
		h.log.Warn().Err(err).Str("client", c.id).Msg("dropping client")
		h.remove(c)
	}
}

func (h *Hub) broadcast(v any) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.send(c, v)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
