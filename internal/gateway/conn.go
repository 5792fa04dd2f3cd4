package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jes11sy/realtime-service/internal/token"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// compressionThreshold is the payload size above which per-message compression is enabled.
	compressionThreshold = 1024

	// sendBuffer is the per-connection outbound queue depth. A client that falls this far behind is disconnected.
	sendBuffer = 256
)

// State is the explicit connection lifecycle state. Pending sockets are never indexed by user and never receive
// broadcasts.
type State int

const (
	StatePending State = iota
	StateAuthenticated
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAuthenticated:
		return "authenticated"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Conn represents a single client socket. Each connection runs two goroutines (readPump and writePump); message
// handlers for the same socket execute in receive order on the readPump goroutine.
type Conn struct {
	id        string
	sock      *websocket.Conn
	hub       *Hub
	handshake token.Handshake
	log       zerolog.Logger

	// Session state. Room membership lives here; the registry only holds the indexes.
	mu       sync.RWMutex
	state    State
	identity token.Identity
	rooms    map[string]struct{}

	authTimer *time.Timer
	lastSeen  time.Time // guarded by mu; refreshed on every read and pong

	sendMu sync.Mutex
	send   chan []byte
	closed bool
}

func newConn(hub *Hub, sock *websocket.Conn, hs token.Handshake, logger zerolog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:        id,
		sock:      sock,
		hub:       hub,
		handshake: hs,
		log:       logger.With().Str("socket_id", id).Logger(),
		rooms:     make(map[string]struct{}),
		lastSeen:  time.Now(),
		send:      make(chan []byte, sendBuffer),
	}
}

// ID returns the opaque socket identifier assigned at accept.
func (c *Conn) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Identity returns the verified identity. Only meaningful once the state is StateAuthenticated.
func (c *Conn) Identity() token.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// InRoom reports membership in a room.
func (c *Conn) InRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// Rooms returns a copy of the connection's room set.
func (c *Conn) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	return out
}

func (c *Conn) joinRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = struct{}{}
}

func (c *Conn) leaveRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Conn) idleSince() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

func (c *Conn) stopAuthTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
}

// enqueue queues a message for delivery. Messages enqueued in program order are written in program order. If the
// buffer is full the client is too slow and the connection is torn down so it cannot stall the hub.
func (c *Conn) enqueue(msg []byte) {
	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return
	}
	select {
	case c.send <- msg:
		c.sendMu.Unlock()
		return
	default:
	}
	c.closed = true
	close(c.send)
	c.sendMu.Unlock()

	c.log.Warn().Msg("Send buffer full, closing connection")
	if c.sock != nil {
		_ = c.sock.Close()
	}
}

// closeSend closes the outbound queue exactly once. writePump drains what is already queued, then writes the
// transport-level close frame.
func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// fail reports an error to the client and starts teardown. The error frame is queued ahead of the close so the
// client sees it.
func (c *Conn) fail(message string) {
	c.enqueue(NewErrorFrame(message))
	c.closeSend()
}

// sendError reports a recoverable error without closing the connection.
func (c *Conn) sendError(message string) {
	c.enqueue(NewErrorFrame(message))
}

// readPump reads frames from the socket and routes them by event name. It owns connection teardown: when the read
// loop exits for any reason the connection is dropped from the hub.
func (c *Conn) readPump() {
	defer c.hub.dropConn(c)

	cfg := c.hub.cfg
	c.sock.SetReadLimit(cfg.MaxFrameBytes)
	_ = c.sock.SetReadDeadline(time.Now().Add(cfg.PingTimeout))
	c.sock.SetPongHandler(func(string) error {
		c.touch()
		return c.sock.SetReadDeadline(time.Now().Add(cfg.PingTimeout))
	})

	for {
		_, message, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
		c.touch()
		_ = c.sock.SetReadDeadline(time.Now().Add(cfg.PingTimeout))

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.sendError("invalid JSON")
			continue
		}
		c.handleFrame(frame)
	}
}

// handleFrame dispatches one inbound frame. Split from readPump so tests can drive the state machine without a
// network socket.
func (c *Conn) handleFrame(frame Frame) {
	switch frame.Event {
	case eventAuthenticate:
		var p authenticatePayload
		_ = json.Unmarshal(frame.Data, &p)
		c.hub.handleAuthenticate(c, p.Token)
	case eventJoinRoom:
		var p roomPayload
		_ = json.Unmarshal(frame.Data, &p)
		c.hub.handleJoinRoom(c, p.Room)
	case eventLeaveRoom:
		var p roomPayload
		_ = json.Unmarshal(frame.Data, &p)
		c.hub.handleLeaveRoom(c, p.Room)
	case eventPing:
		if pong, err := NewFrame(EventPong, pongData{Time: time.Now().UnixMilli()}); err == nil {
			c.enqueue(pong)
		}
	default:
		c.sendError("unknown event")
	}
}

// writePump writes queued messages to the socket and emits transport pings on the configured interval. It exits when
// the send queue is closed or a write fails.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.sock.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait),
				)
				return
			}
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			c.sock.EnableWriteCompression(len(msg) >= compressionThreshold)
			if err := c.sock.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
