// Package ws pushes change signals to connected browsers
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alferparedes26yanez-art/espuelabrava/pkg/logger"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/metrics"
)

type CloseReason string

const (
	ReasonWriteError CloseReason = "write_error"
	ReasonPingError  CloseReason = "ping_error"
	ReasonReadError  CloseReason = "read_error"
	ReasonReplaced   CloseReason = "replaced_by_new_connection"
	ReasonShutdown   CloseReason = "server_shutdown"
	ReasonBufferFull CloseReason = "buffer_full"
)

// Options controls connection timings
type Options struct {
	PingInterval   time.Duration
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultOptions returns the timings used when none are configured
func DefaultOptions() Options {
	return Options{
		PingInterval:   54 * time.Second,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 512,
		SendBuffer:     64,
	}
}

// Message is the only frame the server sends: a hint to re-fetch state
type Message struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Connection represents a WebSocket connection
type Connection struct {
	Username  string
	Conn      *websocket.Conn
	Send      chan []byte
	manager   *Manager
	closed    chan struct{}
	closeOnce sync.Once
}

// Manager manages all WebSocket connections, one per username
type Manager struct {
	opts       Options
	metrics    *metrics.Metrics
	clients    map[string]*Connection
	register   chan *Connection
	unregister chan *Connection
	done       chan struct{}
	mu         sync.RWMutex
}

// NewManager creates a new connection manager. m may be nil.
func NewManager(opts Options, m *metrics.Metrics) *Manager {
	def := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	return &Manager{
		opts:       opts,
		metrics:    m,
		clients:    make(map[string]*Connection),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		done:       make(chan struct{}),
	}
}

// Register hands a connection to the manager loop
func (m *Manager) Register(conn *websocket.Conn, username string) *Connection {
	c := &Connection{
		Username: username,
		Conn:     conn,
		Send:     make(chan []byte, m.opts.SendBuffer),
		manager:  m,
		closed:   make(chan struct{}),
	}
	select {
	case m.register <- c:
	case <-m.done:
		c.CloseWithReason(ReasonShutdown, nil)
	}
	return c
}

// Run starts the manager loop; it returns when ctx is done
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return

		case client := <-m.register:
			m.mu.Lock()
			// If user already connected, close old connection
			if old, ok := m.clients[client.Username]; ok {
				old.CloseWithReason(ReasonReplaced, nil)
			} else {
				m.metrics.ConnectionOpened()
			}
			m.clients[client.Username] = client
			m.mu.Unlock()

		case client := <-m.unregister:
			m.mu.Lock()
			// A replaced connection must not evict its successor
			if cur, ok := m.clients[client.Username]; ok && cur == client {
				delete(m.clients, client.Username)
				m.metrics.ConnectionClosed()
			}
			m.mu.Unlock()
		}
	}
}

// Count returns the number of connected users
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Observe is registered with the change notifier
func (m *Manager) Observe(ctx context.Context) {
	msg, err := json.Marshal(Message{Type: "changed", Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	m.Broadcast(msg)
}

// Broadcast sends a message to all connected local clients
func (m *Manager) Broadcast(message []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, client := range m.clients {
		select {
		case client.Send <- message:
		default:
			// Buffer full, drop client; ReadPump unregisters it
			client.CloseWithReason(ReasonBufferFull, nil)
		}
	}
}

// Shutdown closes all connections
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, client := range m.clients {
		client.CloseWithReason(ReasonShutdown, nil)
		delete(m.clients, name)
		m.metrics.ConnectionClosed()
	}
}

// CloseWithReason closes the connection with a reason
func (c *Connection) CloseWithReason(r CloseReason, err error) {
	c.closeOnce.Do(func() {
		ev := logger.Info(context.Background())
		if err != nil {
			ev = logger.Warn(context.Background()).Err(err)
		}
		ev.Str("username", c.Username).
			Str("reason", string(r)).
			Msg("ws connection closed")
		close(c.closed)
		c.Conn.Close()
	})
}

// WritePump pumps messages from the manager to the websocket connection
func (c *Connection) WritePump() {
	opts := c.manager.opts
	ticker := time.NewTicker(opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.CloseWithReason(ReasonWriteError, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.CloseWithReason(ReasonPingError, err)
				return
			}
		}
	}
}

// ReadPump drains the websocket connection until it fails. Clients have
// nothing to say; inbound frames only keep the read deadline alive.
func (c *Connection) ReadPump() {
	opts := c.manager.opts
	var readErr error
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.done:
		}
		c.CloseWithReason(ReasonReadError, readErr)
	}()

	c.Conn.SetReadLimit(opts.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				readErr = err
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	}
}
