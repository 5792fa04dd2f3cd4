package api

import (
	"github.com/daaku/webpush"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/jes11sy/realtime-service/internal/httputil"
	"github.com/jes11sy/realtime-service/internal/push"
)

// PushHandler serves the push subscription lifecycle: subscribe, unsubscribe, preferences, and test sends, for both
// end users and the external master identity space.
type PushHandler struct {
	store      *push.Store
	dispatcher *push.Dispatcher
	secret     string
	log        zerolog.Logger
}

// NewPushHandler creates a push handler.
func NewPushHandler(store *push.Store, dispatcher *push.Dispatcher, secret string, logger zerolog.Logger) *PushHandler {
	return &PushHandler{
		store:      store,
		dispatcher: dispatcher,
		secret:     secret,
		log:        logger.With().Str("component", "push").Logger(),
	}
}

// Subscribe handles POST /api/v1/push/subscribe.
func (h *PushHandler) Subscribe(c fiber.Ctx) error {
	identity, ok := identityFromCtx(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Missing token")
	}

	var body struct {
		Subscription webpush.Subscription `json:"subscription"`
	}
	if err := c.Bind().Body(&body); err != nil || body.Subscription.Endpoint == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Subscription endpoint is required")
	}

	if err := h.store.Subscribe(c, identity.UserID, body.Subscription); err != nil {
		h.log.Error().Err(err).Msg("Subscribe failed")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Push store unavailable")
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{"subscribed": true})
}

// Unsubscribe handles POST /api/v1/push/unsubscribe.
func (h *PushHandler) Unsubscribe(c fiber.Ctx) error {
	identity, ok := identityFromCtx(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Missing token")
	}

	var body struct {
		Endpoint string `json:"endpoint"`
	}
	if err := c.Bind().Body(&body); err != nil || body.Endpoint == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Endpoint is required")
	}

	removed, err := h.store.Unsubscribe(c, identity.UserID, body.Endpoint)
	if err != nil {
		h.log.Error().Err(err).Msg("Unsubscribe failed")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Push store unavailable")
	}
	return httputil.Success(c, fiber.Map{"removed": removed})
}

// GetSettings handles GET /api/v1/push/settings.
func (h *PushHandler) GetSettings(c fiber.Ctx) error {
	identity, ok := identityFromCtx(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Missing token")
	}

	settings, err := h.store.GetSettings(c, identity.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("Read settings failed")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Push store unavailable")
	}
	return httputil.Success(c, settings)
}

// UpdateSettings handles PATCH /api/v1/push/settings.
func (h *PushHandler) UpdateSettings(c fiber.Ctx) error {
	identity, ok := identityFromCtx(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Missing token")
	}

	var prefs push.Preferences
	if err := c.Bind().Body(&prefs); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid body")
	}
	if err := h.store.UpdateSettings(c, identity.UserID, prefs); err != nil {
		h.log.Error().Err(err).Msg("Update settings failed")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Push store unavailable")
	}

	settings, err := h.store.GetSettings(c, identity.UserID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Push store unavailable")
	}
	return httputil.Success(c, settings)
}

// SendTest handles POST /api/v1/push/test. Test pushes bypass preference gating.
func (h *PushHandler) SendTest(c fiber.Ctx) error {
	identity, ok := identityFromCtx(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Missing token")
	}
	if !h.dispatcher.Enabled() {
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Push is not configured")
	}

	delivered, err := h.dispatcher.SendToUser(c, identity.UserID, push.Payload{
		Title: "Проверка уведомлений",
		Body:  "Push-уведомления работают",
		Type:  push.TypeTest,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Test push failed")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Push store unavailable")
	}
	return httputil.Success(c, fiber.Map{"delivered": delivered})
}

// MasterSubscribe handles POST /api/v1/push/master/subscribe. Master endpoints are called by backend services with
// the webhook secret; the master id always comes from the body because masters are an external identity space.
func (h *PushHandler) MasterSubscribe(c fiber.Ctx) error {
	var req struct {
		Token        string               `json:"token"`
		MasterID     int64                `json:"masterId"`
		Subscription webpush.Subscription `json:"subscription"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid body")
	}
	if !secretMatches(req.Token, h.secret) {
		return failUnauthorized(c)
	}
	if req.MasterID < 1 || req.Subscription.Endpoint == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "masterId and subscription are required")
	}

	if err := h.store.SubscribeMaster(c, req.MasterID, req.Subscription); err != nil {
		h.log.Error().Err(err).Msg("Master subscribe failed")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Push store unavailable")
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{"subscribed": true})
}

// MasterUnsubscribe handles POST /api/v1/push/master/unsubscribe.
func (h *PushHandler) MasterUnsubscribe(c fiber.Ctx) error {
	var req struct {
		Token    string `json:"token"`
		MasterID int64  `json:"masterId"`
		Endpoint string `json:"endpoint"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid body")
	}
	if !secretMatches(req.Token, h.secret) {
		return failUnauthorized(c)
	}
	if req.MasterID < 1 || req.Endpoint == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "masterId and endpoint are required")
	}

	removed, err := h.store.UnsubscribeMaster(c, req.MasterID, req.Endpoint)
	if err != nil {
		h.log.Error().Err(err).Msg("Master unsubscribe failed")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Push store unavailable")
	}
	return httputil.Success(c, fiber.Map{"removed": removed})
}

// MasterSendTest handles POST /api/v1/push/master/test.
func (h *PushHandler) MasterSendTest(c fiber.Ctx) error {
	var req struct {
		Token    string `json:"token"`
		MasterID int64  `json:"masterId"`
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
	if !h.dispatcher.Enabled() {
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Push is not configured")
	}

	delivered, err := h.dispatcher.SendToMaster(c, req.MasterID, push.Payload{
		Title: "Проверка уведомлений",
		Body:  "Push-уведомления работают",
		Type:  push.TypeTest,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Master test push failed")
		return httputil.Fail(c, fiber.StatusServiceUnavailable, httputil.CodeUnavailable, "Push store unavailable")
	}
	return httputil.Success(c, fiber.Map{"delivered": delivered})
}
