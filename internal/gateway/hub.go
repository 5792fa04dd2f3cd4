// Package gateway implements the real-time fan-out engine: the socket connection lifecycle and authentication state
// machine, the room membership and access model, and local plus cross-instance broadcast delivery.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/jes11sy/realtime-service/internal/bridge"
	"github.com/jes11sy/realtime-service/internal/config"
	"github.com/jes11sy/realtime-service/internal/token"
)

// publishTimeout bounds the bridge publish performed after local delivery.
const publishTimeout = 5 * time.Second

// Hub owns the connection registry and performs event fan-out: local emit to the sockets this instance holds, then
// propagation to peer instances through the bridge.
type Hub struct {
	cfg      *config.Config
	registry *Registry
	verifier *token.Verifier
	bridge   *bridge.Bridge
	log      zerolog.Logger
}

// NewHub creates a hub.
func NewHub(cfg *config.Config, verifier *token.Verifier, br *bridge.Bridge, logger zerolog.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		registry: NewRegistry(),
		verifier: verifier,
		bridge:   br,
		log:      logger.With().Str("component", "gateway").Logger(),
	}
}

// Registry exposes the connection registry for the stats endpoints.
func (h *Hub) Registry() *Registry { return h.registry }

// ServeSocket runs a newly upgraded socket: registers it as pending, sends the connected greeting, arms the
// authentication grace timer, and blocks on the read pump until the connection ends.
func (h *Hub) ServeSocket(sock *websocket.Conn, hs token.Handshake) {
	c := newConn(h, sock, hs, h.log)
	h.registry.Add(c)

	greeting, err := NewFrame(EventConnected, connectedData{
		SocketID:    c.id,
		AuthTimeout: h.cfg.AuthGrace.Milliseconds(),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build connected frame")
		h.dropConn(c)
		return
	}
	c.enqueue(greeting)

	c.mu.Lock()
	c.authTimer = time.AfterFunc(h.cfg.AuthGrace, func() { h.expireAuth(c) })
	c.mu.Unlock()

	go c.writePump()
	c.readPump()
}

// expireAuth fires when the grace period ends. The expiry claims the connection under its lock, so an authenticate
// racing the deadline either promotes the socket first or finds it terminated; a promoted socket can never be torn
// down by the same timer. A socket that is still pending receives a single error frame and is closed; no presence
// event is ever emitted for it.
func (h *Hub) expireAuth(c *Conn) {
	c.mu.Lock()
	if c.state != StatePending {
		c.mu.Unlock()
		return
	}
	c.state = StateTerminated
	c.mu.Unlock()

	c.log.Debug().Msg("Authentication grace period exceeded")
	c.fail(ErrAuthTimeout.Error())
	if c.sock == nil {
		// No transport to unblock a read pump; tests drive teardown directly.
		h.dropConn(c)
	}
}

// handleAuthenticate runs the authentication guard for an inbound authenticate message: resolve the token from the
// payload or the handshake, verify it, promote the connection, auto-join role rooms, and announce presence.
func (h *Hub) handleAuthenticate(c *Conn, payloadToken string) {
	switch c.State() {
	case StatePending:
	case StateAuthenticated:
		c.sendError(ErrAlreadyAuthenticated.Error())
		return
	default:
		// Terminated: the grace timer or a disconnect already claimed the socket.
		return
	}

	raw, err := h.verifier.Extract(payloadToken, c.handshake)
	if err != nil {
		c.log.Debug().Err(err).Msg("No token presented")
		c.fail(ErrAuthenticationFailed.Error())
		return
	}

	identity, err := h.verifier.Verify(raw)
	if err != nil {
		c.log.Debug().Err(err).Msg("Token verification failed")
		c.fail(ErrAuthenticationFailed.Error())
		return
	}

	if err := h.registry.Authenticate(c, identity); err != nil {
		c.sendError(err.Error())
		return
	}
	c.stopAuthTimer()

	role := NormalizeRole(identity.Role)
	rooms := role.AutoJoinRooms()
	for _, room := range rooms {
		c.joinRoom(room)
	}

	ack, err := NewFrame(EventAuthenticated, authenticatedData{
		UserID: identity.UserID,
		Role:   identity.Role,
		Rooms:  rooms,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build authenticated frame")
		return
	}
	c.enqueue(ack)

	h.emitPresence(EventUserOnline, identity)
	c.log.Info().Int64("user_id", identity.UserID).Str("role", identity.Role).Msg("Socket authenticated")
}

// handleJoinRoom validates the room name, enforces the access policy, and adds membership. Failures are reported
// with an error frame and do not close the socket.
func (h *Hub) handleJoinRoom(c *Conn, room string) {
	if c.State() != StateAuthenticated {
		c.sendError(ErrNotAuthenticated.Error())
		return
	}
	if err := CanJoin(c.Identity(), room); err != nil {
		c.sendError(err.Error())
		return
	}
	c.joinRoom(room)
}

// handleLeaveRoom validates the room name and removes membership.
func (h *Hub) handleLeaveRoom(c *Conn, room string) {
	if c.State() != StateAuthenticated {
		c.sendError(ErrNotAuthenticated.Error())
		return
	}
	if err := ValidateRoomName(room); err != nil {
		c.sendError(err.Error())
		return
	}
	c.leaveRoom(room)
}

// dropConn removes a connection from the registry and finishes teardown. Disconnect side effects (presence, logging)
// run exactly once even though teardown can be triggered from several paths.
func (h *Hub) dropConn(c *Conn) {
	identity, wasAuthenticated := h.registry.Remove(c)
	c.stopAuthTimer()
	c.closeSend()
	if c.sock != nil {
		_ = c.sock.Close()
	}
	if wasAuthenticated {
		h.emitPresence(EventUserOffline, identity)
		c.log.Debug().Int64("user_id", identity.UserID).Msg("Socket disconnected")
	}
}

// emitPresence announces a presence transition. Presence is scoped to the directors room, plus the operators room
// when the subject is an operator; it is never broadcast to all, to keep presence traffic linear during flash crowds.
func (h *Hub) emitPresence(event string, identity token.Identity) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	data := presenceData{UserID: identity.UserID, Role: identity.Role}
	h.BroadcastToRoom(ctx, RoomDirectors, event, data)
	if NormalizeRole(identity.Role).IsOperator() {
		h.BroadcastToRoom(ctx, RoomOperators, event, data)
	}
}

// BroadcastToRoom emits to every locally-held socket that has the room in its set, then publishes the envelope for
// peer instances. Returns the local delivery count.
func (h *Hub) BroadcastToRoom(ctx context.Context, room, event string, data any) int {
	raw, frame, err := encode(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("Failed to encode broadcast")
		return 0
	}

	members := h.registry.RoomMembers(room)
	for _, c := range members {
		c.enqueue(frame)
	}

	h.publish(ctx, bridge.Envelope{Event: event, Data: raw, Room: room})
	return len(members)
}

// BroadcastToAll emits to every authenticated local socket, then publishes a room-less envelope for peer instances.
// Receivers suppress the echo by origin instance id, so each socket sees the event exactly once.
func (h *Hub) BroadcastToAll(ctx context.Context, event string, data any) int {
	raw, frame, err := encode(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("Failed to encode broadcast")
		return 0
	}

	conns := h.registry.AuthenticatedConns()
	for _, c := range conns {
		c.enqueue(frame)
	}

	h.publish(ctx, bridge.Envelope{Event: event, Data: raw})
	return len(conns)
}

// BroadcastToUser emits to every socket the user holds on this instance. Per-user routing is local-only; the durable
// inbox is the cross-instance recovery path.
func (h *Hub) BroadcastToUser(ctx context.Context, userID int64, event string, data any) int {
	_ = ctx
	_, frame, err := encode(event, data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("Failed to encode broadcast")
		return 0
	}

	conns := h.registry.ConnsForUser(userID)
	for _, c := range conns {
		c.enqueue(frame)
	}
	return len(conns)
}

// HandleEnvelope re-emits an envelope received from a peer instance to local sockets. Self-echoes were already
// dropped by the bridge, so this never republishes.
func (h *Hub) HandleEnvelope(env bridge.Envelope) {
	frame, err := NewRawFrame(env.Event, env.Data)
	if err != nil {
		h.log.Warn().Err(err).Str("event", env.Event).Msg("Failed to frame peer envelope")
		return
	}

	var targets []*Conn
	if env.Room != "" {
		targets = h.registry.RoomMembers(env.Room)
	} else {
		targets = h.registry.AuthenticatedConns()
	}
	for _, c := range targets {
		c.enqueue(frame)
	}
}

// publish propagates an envelope to peer instances. Bus unavailability is non-fatal: the bridge degrades to a no-op
// and local delivery has already happened.
func (h *Hub) publish(ctx context.Context, env bridge.Envelope) {
	if h.bridge == nil {
		return
	}
	if err := h.bridge.Publish(ctx, env); err != nil && !errors.Is(err, context.Canceled) {
		h.log.Warn().Err(err).Str("event", env.Event).Msg("Bridge publish failed")
	}
}

// encode marshals a broadcast payload once and wraps it in a client frame.
func encode(event string, data any) (json.RawMessage, []byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, nil, err
	}
	frame, err := NewRawFrame(event, raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, frame, nil
}

// Run executes the periodic sweep until the context is cancelled. Some socket stacks do not guarantee a disconnect
// callback on every disconnect path; the sweep reaps those orphans.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep probes connections that have been silent past the ping timeout and reaps the ones whose transport is gone.
func (h *Hub) sweep() {
	reaped := 0
	for _, c := range h.registry.All() {
		if time.Since(c.idleSince()) < h.cfg.PingTimeout {
			continue
		}
		if c.sock == nil {
			continue
		}
		if err := c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			h.dropConn(c)
			reaped++
		}
	}
	if reaped > 0 {
		h.log.Info().Int("reaped", reaped).Msg("Sweep reaped dead sockets")
	}
}

// Shutdown closes every live socket. Clients receive a transport-level close with no further frames.
func (h *Hub) Shutdown() {
	for _, c := range h.registry.All() {
		h.registry.Remove(c)
		c.stopAuthTimer()
		c.closeSend()
		if c.sock != nil {
			_ = c.sock.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait),
			)
			_ = c.sock.Close()
		}
	}
	h.log.Info().Msg("Gateway hub shut down")
}
