package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/jes11sy/realtime-service/internal/gateway"
	"github.com/jes11sy/realtime-service/internal/token"
)

// GatewayHandler serves the WebSocket upgrade endpoint for the real-time gateway.
type GatewayHandler struct {
	hub *gateway.Hub
}

// NewGatewayHandler creates a new gateway handler.
func NewGatewayHandler(hub *gateway.Hub) *GatewayHandler {
	return &GatewayHandler{hub: hub}
}

// Upgrade handles GET /api/v1/gateway. Token material from the handshake is captured before the upgrade so the
// authenticate message can fall back to it.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	hs := token.Handshake{
		AuthToken:    c.Query("auth_token"),
		QueryToken:   c.Query("token"),
		AuthHeader:   c.Get("Authorization"),
		CookieHeader: c.Get("Cookie"),
	}
	return websocket.New(func(conn *websocket.Conn) {
		h.hub.ServeSocket(conn.Conn, hs)
	})(c)
}
