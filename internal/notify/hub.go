package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

const clientBuffer = 32

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub broadcasts events to websocket subscribers. A subscriber that falls
// behind by more than clientBuffer messages is disconnected.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[*client]struct{}), logger: logger.Named("ws")}
}

func (h *Hub) Name() string { return "websocket" }

func (h *Hub) Deliver(_ context.Context, ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			c.close()
		}
	}
	return nil
}

// Clients reports the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Handler upgrades the request and streams events until the peer goes away.
// A text frame "ping" is answered with "pong".
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(h.serve)
}

func (h *Hub) serve(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	if !h.add(c) {
		conn.Close()
		return
	}
	h.logger.Debug("subscriber connected", zap.String("remote", conn.Request().RemoteAddr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range c.send {
			if err := websocket.Message.Send(conn, string(msg)); err != nil {
				return
			}
		}
	}()

	for {
		var in string
		if err := websocket.Message.Receive(conn, &in); err != nil {
			break
		}
		if strings.TrimSpace(in) == "ping" {
			h.mu.Lock()
			_, live := h.clients[c]
			if live {
				select {
				case c.send <- []byte("pong"):
				default:
				}
			}
			h.mu.Unlock()
		}
	}

	h.remove(c)
	conn.Close()
	<-done
	h.logger.Debug("subscriber disconnected")
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
		c.conn.Close()
	}
}
