package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/parley/internal/logging"
)

// writeWait bounds a single frame write to a slow client.
const writeWait = 10 * time.Second

var (
	ErrClientClosed   = errors.New("client connection closed")
	errMalformedFrame = errors.New("malformed frame")
)

// Client is one authenticated WebSocket connection. Writes are serialized
// so chat goroutines, broadcasts and the read loop can all send.
type Client struct {
	ConnID      string
	Info        ClientInfo
	AuthResult  AuthResult
	ConnectedAt time.Time

	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	closed  bool
}

// NewClient wraps an authenticated connection. The client's context, which
// bounds its running chats, ends on Close.
func NewClient(ctx context.Context, conn *websocket.Conn, info ClientInfo, authResult AuthResult) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		ConnID:      uuid.NewString(),
		Info:        info,
		AuthResult:  authResult,
		ConnectedAt: time.Now(),
		conn:        conn,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Context is cancelled when the client disconnects.
func (c *Client) Context() context.Context { return c.ctx }

// UserID names the client in conversation keys.
func (c *Client) UserID() string {
	if c.Info.ID != "" {
		return c.Info.ID
	}
	return c.ConnID
}

// Send writes a frame to the client.
func (c *Client) Send(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame)
}

// Ping sends a keepalive ping.
func (c *Client) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// SendEvent sends a named event with payload.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond sends a success response for the given request ID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError sends an error response for the given request ID.
func (c *Client) RespondError(reqID string, shape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, shape))
}

// ReadFrame blocks for the next frame. Each frame, like each pong, pushes
// the read deadline out by idle.
func (c *Client) ReadFrame(idle time.Duration) (Frame, error) {
	c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	var f Frame
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(msg, &f); err != nil {
		return f, fmt.Errorf("%w: %v", errMalformedFrame, err)
	}
	return f, nil
}

// Close cancels the client's context and closes the connection. It is
// safe to call more than once.
func (c *Client) Close() error {
	c.cancel()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// ClientRegistry tracks connected clients by connection ID.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ConnID] = c
	n := len(r.clients)
	r.mu.Unlock()
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Int("clients", n).Msg("client connected")
}

func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	delete(r.clients, connID)
	n := len(r.clients)
	r.mu.Unlock()
	r.log.Info().Str("connId", connID).Int("clients", n).Msg("client disconnected")
}

func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// snapshot copies the client set so sends happen outside the lock.
func (r *ClientRegistry) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Collect(maps.Values(r.clients))
}

// Broadcast sends an event to every client except the one whose connection
// ID is skip. A failed send is logged and does not stop the others.
func (r *ClientRegistry) Broadcast(event string, payload any, seq int64, skip string) {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("encoding broadcast")
		return
	}
	for _, c := range r.snapshot() {
		if c.ConnID == skip {
			continue
		}
		if err := c.Send(f); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("broadcast send failed")
		}
	}
}

// CloseAll closes and forgets every client.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
