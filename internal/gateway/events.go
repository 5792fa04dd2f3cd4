package gateway

// Server-to-client event names. Webhook-originated business events (call:*, order:*, avito-*) pass through the hub
// with the event name chosen by the ingress; the constants here are the ones the gateway itself emits or that other
// packages reference.
const (
	EventConnected     = "connected"
	EventAuthenticated = "authenticated"
	EventError         = "error"
	EventPong          = "pong"

	EventUserOnline  = "user:online"
	EventUserOffline = "user:offline"

	EventCallNew     = "call:new"
	EventCallUpdated = "call:updated"
	EventCallEnded   = "call:ended"

	EventOrderNew     = "order:new"
	EventOrderUpdated = "order:updated"

	EventNotification        = "notification"
	EventNotificationNew     = "notification:new"
	EventNotificationRead    = "notification:read"
	EventNotificationAllRead = "notification:all_read"
	EventNotificationCleared = "notification:cleared"

	EventAvitoNewMessage   = "avito-new-message"
	EventAvitoChatUpdated  = "avito-chat-updated"
	EventAvitoNotification = "avito-notification"
)

// Client-to-server event names.
const (
	eventAuthenticate = "authenticate"
	eventJoinRoom     = "join-room"
	eventLeaveRoom    = "leave-room"
	eventPing         = "ping"
)
