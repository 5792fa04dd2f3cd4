package api

import (
	"encoding/json"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/jes11sy/realtime-service/internal/gateway"
	"github.com/jes11sy/realtime-service/internal/httputil"
	"github.com/jes11sy/realtime-service/internal/telegram"
)

// BroadcastHandler serves the webhook ingress: backend services publish events here with a shared secret and the
// handler translates each event into room broadcasts.
type BroadcastHandler struct {
	hub    *gateway.Hub
	relay  *telegram.Relay
	secret string
	log    zerolog.Logger
}

// NewBroadcastHandler creates a broadcast handler.
func NewBroadcastHandler(hub *gateway.Hub, relay *telegram.Relay, secret string, logger zerolog.Logger) *BroadcastHandler {
	return &BroadcastHandler{
		hub:    hub,
		relay:  relay,
		secret: secret,
		log:    logger.With().Str("component", "broadcast").Logger(),
	}
}

type callEventRequest struct {
	Token      string          `json:"token"`
	Call       json.RawMessage `json:"call"`
	OperatorID int64           `json:"operatorId"`
	Data       json.RawMessage `json:"data"`
}

// payload returns the broadcast body: the nested call object when present, otherwise the flat data field.
func (r *callEventRequest) payload() json.RawMessage {
	if len(r.Call) > 0 && string(r.Call) != "null" {
		return r.Call
	}
	return r.Data
}

// operatorID resolves the assigned operator from the nested call object, falling back to the flat field.
func (r *callEventRequest) operatorID() int64 {
	if len(r.Call) > 0 {
		var call struct {
			OperatorID int64 `json:"operatorId"`
		}
		if json.Unmarshal(r.Call, &call) == nil && call.OperatorID > 0 {
			return call.OperatorID
		}
	}
	return r.OperatorID
}

// CallNew handles POST /api/v1/broadcast/call-new.
func (h *BroadcastHandler) CallNew(c fiber.Ctx) error {
	return h.handleCall(c, gateway.EventCallNew)
}

// CallUpdated handles POST /api/v1/broadcast/call-updated.
func (h *BroadcastHandler) CallUpdated(c fiber.Ctx) error {
	return h.handleCall(c, gateway.EventCallUpdated)
}

// CallEnded handles POST /api/v1/broadcast/call-ended.
func (h *BroadcastHandler) CallEnded(c fiber.Ctx) error {
	return h.handleCall(c, gateway.EventCallEnded)
}

// handleCall routes call events to the operators room and, when the call is assigned, to that operator's own room.
// Call events never broadcast to all sockets.
func (h *BroadcastHandler) handleCall(c fiber.Ctx, event string) error {
	var req callEventRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid body")
	}
	if !secretMatches(req.Token, h.secret) {
		return failUnauthorized(c)
	}

	payload := req.payload()
	delivered := h.hub.BroadcastToRoom(c, gateway.RoomOperators, event, payload)
	if id := req.operatorID(); id > 0 {
		delivered += h.hub.BroadcastToRoom(c, gateway.OperatorRoom(id), event, payload)
	}
	return httputil.Success(c, fiber.Map{"event": event, "delivered": delivered})
}

type orderEventRequest struct {
	Token    string          `json:"token"`
	OrderID  int64           `json:"orderId"`
	City     string          `json:"city"`
	MasterID int64           `json:"masterId"`
	Data     json.RawMessage `json:"data"`
}

// OrderNew handles POST /api/v1/broadcast/order-new.
func (h *BroadcastHandler) OrderNew(c fiber.Ctx) error {
	return h.handleOrder(c, gateway.EventOrderNew, false)
}

// OrderUpdated handles POST /api/v1/broadcast/order-updated. Updates additionally reach the order's own room so
// clients watching a single order see the change.
func (h *BroadcastHandler) OrderUpdated(c fiber.Ctx) error {
	return h.handleOrder(c, gateway.EventOrderUpdated, true)
}

func (h *BroadcastHandler) handleOrder(c fiber.Ctx, event string, includeOrderRoom bool) error {
	var req orderEventRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid body")
	}
	if !secretMatches(req.Token, h.secret) {
		return failUnauthorized(c)
	}

	rooms := []string{gateway.RoomOperators, gateway.RoomDirectors}
	if req.City != "" {
		city := gateway.CityRoom(req.City)
		if err := gateway.ValidateRoomName(city); err == nil {
			rooms = append(rooms, city)
		} else {
			h.log.Debug().Str("city", req.City).Msg("Skipping unroutable city room")
		}
	}
	if req.MasterID > 0 {
		rooms = append(rooms, gateway.MasterRoom(req.MasterID))
	}
	if includeOrderRoom && req.OrderID > 0 {
		rooms = append(rooms, gateway.OrderRoom(req.OrderID))
	}

	delivered := 0
	for _, room := range rooms {
		delivered += h.hub.BroadcastToRoom(c, room, event, req.Data)
	}
	return httputil.Success(c, fiber.Map{"event": event, "rooms": rooms, "delivered": delivered})
}

type notificationEventRequest struct {
	Token  string          `json:"token"`
	UserID int64           `json:"userId"`
	Rooms  []string        `json:"rooms"`
	Data   json.RawMessage `json:"data"`
}

// Notification handles POST /api/v1/broadcast/notification. Routing precedence: a target user, then an explicit room
// list, then everyone.
func (h *BroadcastHandler) Notification(c fiber.Ctx) error {
	var req notificationEventRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid body")
	}
	if !secretMatches(req.Token, h.secret) {
		return failUnauthorized(c)
	}

	var delivered int
	switch {
	case req.UserID > 0:
		delivered = h.hub.BroadcastToUser(c, req.UserID, gateway.EventNotification, req.Data)
	case len(req.Rooms) > 0:
		for _, room := range req.Rooms {
			if err := gateway.ValidateRoomName(room); err != nil {
				continue
			}
			delivered += h.hub.BroadcastToRoom(c, room, gateway.EventNotification, req.Data)
		}
	default:
		delivered = h.hub.BroadcastToAll(c, gateway.EventNotification, req.Data)
	}
	return httputil.Success(c, fiber.Map{"delivered": delivered})
}

type avitoEventRequest struct {
	Token   string          `json:"token"`
	Type    string          `json:"type"`
	Author  string          `json:"author"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// AvitoEvent handles POST /api/v1/broadcast/avito-event. New marketplace messages additionally go to the Telegram
// relay in the background.
func (h *BroadcastHandler) AvitoEvent(c fiber.Ctx) error {
	var req avitoEventRequest
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid body")
	}
	if !secretMatches(req.Token, h.secret) {
		return failUnauthorized(c)
	}

	event := avitoEventName(req.Type)
	delivered := h.hub.BroadcastToAll(c, event, req.Data)

	if event == gateway.EventAvitoNewMessage && h.relay != nil {
		h.relay.RelayAvitoMessage(req.Author, req.Message)
	}
	return httputil.Success(c, fiber.Map{"event": event, "delivered": delivered})
}

func avitoEventName(kind string) string {
	switch kind {
	case "new-message", "avito-new-message":
		return gateway.EventAvitoNewMessage
	case "chat-updated", "avito-chat-updated":
		return gateway.EventAvitoChatUpdated
	default:
		return gateway.EventAvitoNotification
	}
}
