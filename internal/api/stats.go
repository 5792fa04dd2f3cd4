package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"

	"github.com/jes11sy/realtime-service/internal/gateway"
	"github.com/jes11sy/realtime-service/internal/httputil"
)

// StatsHandler serves the operational read-only endpoints.
type StatsHandler struct {
	hub        *gateway.Hub
	redis      redis.UniversalClient
	instanceID string
	startedAt  time.Time
}

// NewStatsHandler creates a stats handler.
func NewStatsHandler(hub *gateway.Hub, client redis.UniversalClient, instanceID string) *StatsHandler {
	return &StatsHandler{
		hub:        hub,
		redis:      client,
		instanceID: instanceID,
		startedAt:  time.Now(),
	}
}

// Connections handles GET /api/v1/stats/connections.
func (h *StatsHandler) Connections(c fiber.Ctx) error {
	total, pending, authenticated, users := h.hub.Registry().Counts()
	return httputil.Success(c, fiber.Map{
		"total":         total,
		"pending":       pending,
		"authenticated": authenticated,
		"users":         users,
		"instanceId":    h.instanceID,
	})
}

// Rooms handles GET /api/v1/stats/rooms.
func (h *StatsHandler) Rooms(c fiber.Ctx) error {
	counts := h.hub.Registry().RoomCounts()
	return httputil.Success(c, fiber.Map{
		"rooms": counts,
		"count": len(counts),
	})
}

// Health handles GET /api/v1/stats/health. The service stays reachable while degraded; a down store reports 503.
func (h *StatsHandler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()

	redisStatus := "ok"
	if h.redis == nil {
		redisStatus = "unavailable"
	} else if err := h.redis.Ping(ctx).Err(); err != nil {
		redisStatus = "unavailable"
	}

	overall := "ok"
	status := fiber.StatusOK
	if redisStatus != "ok" {
		overall = "degraded"
		status = fiber.StatusServiceUnavailable
	}

	return httputil.SuccessStatus(c, status, fiber.Map{
		"status":     overall,
		"redis":      redisStatus,
		"instanceId": h.instanceID,
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
	})
}
