package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jes11sy/realtime-service/internal/api"
	"github.com/jes11sy/realtime-service/internal/bridge"
	"github.com/jes11sy/realtime-service/internal/config"
	"github.com/jes11sy/realtime-service/internal/gateway"
	"github.com/jes11sy/realtime-service/internal/httputil"
	"github.com/jes11sy/realtime-service/internal/inbox"
	"github.com/jes11sy/realtime-service/internal/push"
	"github.com/jes11sy/realtime-service/internal/redisconn"
	"github.com/jes11sy/realtime-service/internal/telegram"
	"github.com/jes11sy/realtime-service/internal/token"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !cfg.IsProduction() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	instanceID := bridge.NewInstanceID()
	log.Info().Str("env", cfg.Env).Str("instance_id", instanceID).Msg("Starting realtime service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A missing store is tolerated: the gateway keeps running single-instance with the inbox and push degraded.
	rdb, err := redisconn.Connect(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, running degraded")
		rdb = nil
	} else {
		defer func() { _ = rdb.Close() }()
		log.Info().Msg("Redis connected")
	}

	// The bridge holds a dedicated subscriber connection; pub/sub blocks it for anything else.
	var br *bridge.Bridge
	if rdb != nil {
		br = bridge.New(rdb, redisconn.NewClient(cfg), instanceID, log.Logger)
	} else {
		br = bridge.New(nil, nil, instanceID, log.Logger)
	}
	defer br.Close()

	verifier := token.NewVerifier(cfg.JWTSecret, cfg.CookieSecret)
	hub := gateway.NewHub(cfg, verifier, br, log.Logger)

	go hub.Run(ctx)
	go func() {
		if err := br.Run(ctx, hub.HandleEnvelope); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Bridge stopped")
		}
	}()

	inboxStore := inbox.NewStore(rdb, cfg.InboxMax, cfg.InboxTTL, log.Logger)
	inboxSvc := inbox.NewService(inboxStore, hub, log.Logger)

	pushStore := push.NewStore(rdb, cfg.MaxDevices, log.Logger)
	dispatcher, err := push.NewDispatcher(pushStore, cfg.VAPIDPrivateKey, cfg.VAPIDSubject, nil, log.Logger)
	if err != nil {
		return fmt.Errorf("push dispatcher: %w", err)
	}
	if !cfg.PushConfigured() {
		log.Warn().Msg("Web Push disabled: no VAPID key pair configured")
	}

	relay := telegram.NewRelay(cfg.TelegramBotToken, cfg.TelegramChatID, nil, log.Logger)
	if !cfg.TelegramConfigured() {
		log.Info().Msg("Telegram relay disabled: no credentials configured")
	}

	app := fiber.New(fiber.Config{
		AppName: "realtime-service",
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			code := httputil.CodeInternal
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
				code = statusToCode(e.Code)
			} else {
				event := log.Error().Str("method", c.Method()).Str("path", c.Path())
				if !cfg.IsProduction() {
					event = event.Err(err)
				}
				event.Msg("Unhandled error")
			}
			return c.Status(status).JSON(httputil.ErrorResponse{
				Error: httputil.ErrorBody{Code: code, Message: message},
			})
		},
	})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))
	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
	}
	if len(cfg.CORSOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.CORSOrigins
		// Credentialed requests require explicit origins; the cors middleware rejects the wildcard combination.
		if cfg.CORSOrigins[0] != "*" {
			corsCfg.AllowCredentials = true
		}
	}
	app.Use(cors.New(corsCfg))

	registerRoutes(app, cfg, verifier, hub, inboxSvc, pushStore, dispatcher, relay, rdb, instanceID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		cancel()
		_ = app.Shutdown()
		hub.Shutdown()
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info().Str("addr", addr).Msg("Server listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func registerRoutes(
	app *fiber.App,
	cfg *config.Config,
	verifier *token.Verifier,
	hub *gateway.Hub,
	inboxSvc *inbox.Service,
	pushStore *push.Store,
	dispatcher *push.Dispatcher,
	relay *telegram.Relay,
	rdb redis.UniversalClient,
	instanceID string,
) {
	requireUser := api.RequireUser(verifier)

	gw := api.NewGatewayHandler(hub)
	app.Get("/api/v1/gateway", gw.Upgrade)

	broadcast := api.NewBroadcastHandler(hub, relay, cfg.WebhookToken, log.Logger)
	b := app.Group("/api/v1/broadcast")
	b.Post("/call-new", broadcast.CallNew)
	b.Post("/call-updated", broadcast.CallUpdated)
	b.Post("/call-ended", broadcast.CallEnded)
	b.Post("/order-new", broadcast.OrderNew)
	b.Post("/order-updated", broadcast.OrderUpdated)
	b.Post("/notification", broadcast.Notification)
	b.Post("/avito-event", broadcast.AvitoEvent)

	notifications := api.NewNotificationsHandler(inboxSvc, cfg.WebhookToken, log.Logger)
	// Route handlers run in registration order, so the auth guard must precede the terminal handler. A group-level
	// Use would also cover the webhook-secret /internal prefix below.
	n := app.Group("/api/v1/notifications")
	n.Get("/", requireUser, notifications.List)
	n.Get("/unread-count", requireUser, notifications.UnreadCount)
	n.Post("/read", requireUser, notifications.MarkRead)
	n.Post("/read-all", requireUser, notifications.MarkAllRead)
	n.Delete("/:id", requireUser, notifications.Delete)
	n.Delete("/", requireUser, notifications.ClearAll)

	internal := app.Group("/api/v1/notifications/internal")
	internal.Post("/create", notifications.InternalCreate)
	internal.Post("/notify-users", notifications.InternalNotifyUsers)
	internal.Post("/notify-room", notifications.InternalNotifyRoom)
	internal.Post("/operator/call", notifications.InternalOperatorCall)
	internal.Post("/operator/order", notifications.InternalOperatorOrder)
	internal.Post("/directors/city", notifications.InternalDirectorsCity)
	internal.Post("/master", notifications.InternalMaster)
	internal.Post("/system", notifications.InternalSystem)

	pushHandler := api.NewPushHandler(pushStore, dispatcher, cfg.WebhookToken, log.Logger)
	p := app.Group("/api/v1/push")
	p.Post("/subscribe", requireUser, pushHandler.Subscribe)
	p.Post("/unsubscribe", requireUser, pushHandler.Unsubscribe)
	p.Get("/settings", requireUser, pushHandler.GetSettings)
	p.Patch("/settings", requireUser, pushHandler.UpdateSettings)
	p.Post("/test", requireUser, pushHandler.SendTest)
	p.Post("/master/subscribe", pushHandler.MasterSubscribe)
	p.Post("/master/unsubscribe", pushHandler.MasterUnsubscribe)
	p.Post("/master/test", pushHandler.MasterSendTest)

	stats := api.NewStatsHandler(hub, rdb, instanceID)
	s := app.Group("/api/v1/stats")
	s.Get("/connections", requireUser, stats.Connections)
	s.Get("/rooms", requireUser, stats.Rooms)
	s.Get("/health", stats.Health)
}

// statusToCode maps Fiber's built-in error statuses (404, 405, etc.) to the closest response code.
func statusToCode(status int) httputil.Code {
	switch {
	case status == fiber.StatusNotFound:
		return httputil.CodeNotFound
	case status == fiber.StatusUnauthorized:
		return httputil.CodeUnauthorized
	case status == fiber.StatusForbidden:
		return httputil.CodeForbidden
	case status == fiber.StatusServiceUnavailable:
		return httputil.CodeUnavailable
	case status >= 400 && status < 500:
		return httputil.CodeBadRequest
	default:
		return httputil.CodeInternal
	}
}
