package api

import (
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/jes11sy/realtime-service/internal/gateway"
	"github.com/jes11sy/realtime-service/internal/httputil"
	"github.com/jes11sy/realtime-service/internal/inbox"
)

// NotificationsHandler serves the user-facing inbox endpoints and the webhook-secret internal publishers.
type NotificationsHandler struct {
	svc    *inbox.Service
	secret string
	log    zerolog.Logger
}

// NewNotificationsHandler creates a notifications handler.
func NewNotificationsHandler(svc *inbox.Service, secret string, logger zerolog.Logger) *NotificationsHandler {
	return &NotificationsHandler{
		svc:    svc,
		secret: secret,
		log:    logger.With().Str("component", "notifications").Logger(),
	}
}

// List handles GET /api/v1/notifications.
func (h *NotificationsHandler) List(c fiber.Ctx) error {
	identity, ok := identityFromCtx(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Missing token")
	}

	limit, _ := strconv.ParseInt(c.Query("limit", "50"), 10, 64)
	offset, _ := strconv.ParseInt(c.Query("offset", "0"), 10, 64)

	notifications, unread, err := h.svc.List(c, identity.UserID, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("Inbox list failed")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Inbox unavailable")
	}
	if notifications == nil {
		notifications = []inbox.Notification{}
	}
	return httputil.Success(c, fiber.Map{
		"notifications": notifications,
		"unreadCount":   unread,
	})
}

// UnreadCount handles GET /api/v1/notifications/unread-count.
func (h *NotificationsHandler) UnreadCount(c fiber.Ctx) error {
	identity, ok := identityFromCtx(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Missing token")
	}
	return httputil.Success(c, fiber.Map{"unreadCount": h.svc.UnreadCount(c, identity.UserID)})
}

// MarkRead handles POST /api/v1/notifications/read.
func (h *NotificationsHandler) MarkRead(c fiber.Ctx) error {
	identity, ok := identityFromCtx(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Missing token")
	}

	var body struct {
		NotificationID string `json:"notificationId"`
	}
	if err := c.Bind().Body(&body); err != nil || body.NotificationID == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "notificationId is required")
	}

	found, err := h.svc.MarkRead(c, identity.UserID, body.NotificationID)
	if err != nil {
		h.log.Error().Err(err).Msg("Mark read failed")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Inbox unavailable")
	}
	if !found {
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Notification not found")
	}
	return httputil.Success(c, fiber.Map{"read": true})
}

// MarkAllRead handles POST /api/v1/notifications/read-all.
func (h *NotificationsHandler) MarkAllRead(c fiber.Ctx) error {
	identity, ok := identityFromCtx(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Missing token")
	}
	if err := h.svc.MarkAllRead(c, identity.UserID); err != nil {
		h.log.Error().Err(err).Msg("Mark all read failed")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Inbox unavailable")
	}
	return httputil.Success(c, fiber.Map{"read": true})
}

// Delete handles DELETE /api/v1/notifications/:id.
func (h *NotificationsHandler) Delete(c fiber.Ctx) error {
	identity, ok := identityFromCtx(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Missing token")
	}

	id := c.Params("id")
	if id == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Notification id is required")
	}
	found, err := h.svc.Delete(c, identity.UserID, id)
	if err != nil {
		h.log.Error().Err(err).Msg("Delete failed")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Inbox unavailable")
	}
	if !found {
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, "Notification not found")
	}
	return httputil.Success(c, fiber.Map{"deleted": true})
}

// ClearAll handles DELETE /api/v1/notifications.
func (h *NotificationsHandler) ClearAll(c fiber.Ctx) error {
	identity, ok := identityFromCtx(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Missing token")
	}
	if err := h.svc.ClearAll(c, identity.UserID); err != nil {
		h.log.Error().Err(err).Msg("Clear failed")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Inbox unavailable")
	}
	return httputil.Success(c, fiber.Map{"cleared": true})
}

// notificationBody is the shared payload of the internal publisher endpoints.
type notificationBody struct {
	Type    string          `json:"type"`
	Title   string          `json:"title"`
	Message string          `json:"message"`
	OrderID int64           `json:"orderId"`
	Data    json.RawMessage `json:"data"`
}

func (b notificationBody) toInput() inbox.CreateInput {
	return inbox.CreateInput{
		Type:    b.Type,
		Title:   b.Title,
		Message: b.Message,
		OrderID: b.OrderID,
		Data:    b.Data,
	}
}

// InternalCreate handles POST /api/v1/notifications/internal/create.
func (h *NotificationsHandler) InternalCreate(c fiber.Ctx) error {
	var req struct {
		Token  string `json:"token"`
		UserID int64  `json:"userId"`
		notificationBody
	}
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid body")
	}
	if !secretMatches(req.Token, h.secret) {
		return failUnauthorized(c)
	}
	if req.UserID < 1 {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "userId is required")
	}

	n, err := h.svc.Notify(c, req.UserID, req.toInput())
	if err != nil {
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Inbox unavailable")
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, n)
}

// InternalNotifyUsers handles POST /api/v1/notifications/internal/notify-users.
func (h *NotificationsHandler) InternalNotifyUsers(c fiber.Ctx) error {
	var req struct {
		Token   string  `json:"token"`
		UserIDs []int64 `json:"userIds"`
		notificationBody
	}
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid body")
	}
	if !secretMatches(req.Token, h.secret) {
		return failUnauthorized(c)
	}
	if len(req.UserIDs) == 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "userIds is required")
	}

	h.svc.NotifyUsers(c, req.UserIDs, req.toInput())
	return httputil.Success(c, fiber.Map{"notified": len(req.UserIDs)})
}

// InternalNotifyRoom handles POST /api/v1/notifications/internal/notify-room.
func (h *NotificationsHandler) InternalNotifyRoom(c fiber.Ctx) error {
	var req struct {
		Token string `json:"token"`
		Room  string `json:"room"`
		notificationBody
	}
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid body")
	}
	if !secretMatches(req.Token, h.secret) {
		return failUnauthorized(c)
	}
	if err := gateway.ValidateRoomName(req.Room); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid room name")
	}

	h.svc.NotifyRoom(c, req.Room, req.toInput())
	return httputil.Success(c, fiber.Map{"room": req.Room})
}

// InternalOperatorCall handles POST /api/v1/notifications/internal/operator/call.
func (h *NotificationsHandler) InternalOperatorCall(c fiber.Ctx) error {
	return h.internalOperator(c, true)
}

// InternalOperatorOrder handles POST /api/v1/notifications/internal/operator/order.
func (h *NotificationsHandler) InternalOperatorOrder(c fiber.Ctx) error {
	return h.internalOperator(c, false)
}

func (h *NotificationsHandler) internalOperator(c fiber.Ctx, call bool) error {
	var req struct {
		Token      string `json:"token"`
		OperatorID int64  `json:"operatorId"`
		notificationBody
	}
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid body")
	}
	if !secretMatches(req.Token, h.secret) {
		return failUnauthorized(c)
	}
	if req.OperatorID < 1 {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "operatorId is required")
	}

	var (
		n   inbox.Notification
		err error
	)
	if call {
		n, err = h.svc.NotifyOperatorCall(c, req.OperatorID, req.toInput())
	} else {
		n, err = h.svc.NotifyOperatorOrder(c, req.OperatorID, req.toInput())
	}
	if err != nil {
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Inbox unavailable")
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, n)
}

// InternalDirectorsCity handles POST /api/v1/notifications/internal/directors/city.
func (h *NotificationsHandler) InternalDirectorsCity(c fiber.Ctx) error {
	var req struct {
		Token string `json:"token"`
		City  string `json:"city"`
		notificationBody
	}
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid body")
	}
	if !secretMatches(req.Token, h.secret) {
		return failUnauthorized(c)
	}

	h.svc.NotifyDirectorsByCity(c, req.City, req.toInput())
	return httputil.Success(c, fiber.Map{"city": req.City})
}

// InternalMaster handles POST /api/v1/notifications/internal/master. The master id is an external identifier and is
// always taken from the body, never inferred from a bearer token.
func (h *NotificationsHandler) InternalMaster(c fiber.Ctx) error {
	var req struct {
		Token    string `json:"token"`
		MasterID int64  `json:"masterId"`
		notificationBody
	}
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid body")
	}
	if !secretMatches(req.Token, h.secret) {
		return failUnauthorized(c)
	}
	if req.MasterID < 1 {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "masterId is required")
	}

	n, err := h.svc.NotifyMaster(c, req.MasterID, req.toInput())
	if err != nil {
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Inbox unavailable")
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, n)
}

// InternalSystem handles POST /api/v1/notifications/internal/system.
func (h *NotificationsHandler) InternalSystem(c fiber.Ctx) error {
	var req struct {
		Token string `json:"token"`
		notificationBody
	}
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid body")
	}
	if !secretMatches(req.Token, h.secret) {
		return failUnauthorized(c)
	}

	h.svc.NotifySystem(c, req.toInput())
	return httputil.Success(c, fiber.Map{"sent": true})
}
