package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/hexapod/rangemapper/logging"
)

const (
	defaultWriteTimeout = 100 * time.Millisecond
	maxMessageSize      = 4096
)

type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) write(msg []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub is a websocket endpoint. Every text message a client sends lands in the inbox, and
// broadcasts go to every connected client.
type Hub struct {
	mu       sync.Mutex
	clients  map[*wsClient]struct{}
	closed   bool
	upgrader websocket.Upgrader
	inbox    *inbox
	timeout  time.Duration
	logger   logging.Logger
}

var _ = Channel(&Hub{})

// NewHub returns a hub with no clients.
func NewHub(inboxSize int, logger logging.Logger) *Hub {
	return &Hub{
		clients: map[*wsClient]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// dashboards are served from anywhere on the robot's network
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		inbox:   newInbox(inboxSize, logger),
		timeout: defaultWriteTimeout,
		logger:  logger,
	}
}

// ServeHTTP upgrades the request and reads from the client until it goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("error upgrading websocket", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)
	c := &wsClient{conn: conn}
	if !h.add(c) {
		closeConn(conn, h.logger)
		return
	}
	h.logger.Infow("client connected", "remote", r.RemoteAddr, "clients", h.Clients())
	defer func() {
		h.remove(c)
		h.logger.Infow("client disconnected", "remote", r.RemoteAddr, "clients", h.Clients())
	}()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("error reading from client", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.inbox.deliver(msg)
	}
}

func (h *Hub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		closeConn(c.conn, h.logger)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast writes msg to every client. Clients that fail the write are dropped.
func (h *Hub) Broadcast(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	var errs error
	for _, c := range clients {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		if err := c.write(msg, h.timeout); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "writing to %s", c.conn.RemoteAddr()))
			h.remove(c)
		}
	}
	return errs
}

// Messages returns the inbound messages.
func (h *Hub) Messages() <-chan []byte {
	return h.inbox.ch
}

// Type returns TypeWebSocket.
func (h *Hub) Type() Type {
	return TypeWebSocket
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = map[*wsClient]struct{}{}
	h.mu.Unlock()

	var errs error
	for c := range clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(h.timeout))
		errs = multierr.Append(errs, c.conn.Close())
		c.mu.Unlock()
	}
	return errs
}

func closeConn(conn *websocket.Conn, logger logging.Logger) {
	if err := conn.Close(); err != nil {
		logger.Debugw("error closing websocket", "error", err)
	}
}
