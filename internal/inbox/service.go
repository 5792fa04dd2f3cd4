package inbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/jes11sy/realtime-service/internal/gateway"
)

// Broadcaster is the socket delivery surface the inbox pushes through. Satisfied by the gateway hub.
type Broadcaster interface {
	BroadcastToUser(ctx context.Context, userID int64, event string, data any) int
	BroadcastToRoom(ctx context.Context, room, event string, data any) int
	BroadcastToAll(ctx context.Context, event string, data any) int
}

// CreateInput is the caller-supplied part of a notification.
type CreateInput struct {
	Type    string          `json:"type"`
	Title   string          `json:"title"`
	Message string          `json:"message"`
	OrderID int64           `json:"orderId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type readData struct {
	NotificationID string `json:"notificationId"`
}

// Service layers socket dispatch over the store: every inbox mutation is pushed to the owner's live sockets so
// connected clients stay in sync without polling.
type Service struct {
	store *Store
	hub   Broadcaster
	log   zerolog.Logger
}

// NewService creates a service.
func NewService(store *Store, hub Broadcaster, logger zerolog.Logger) *Service {
	return &Service{
		store: store,
		hub:   hub,
		log:   logger.With().Str("component", "inbox").Logger(),
	}
}

// build materializes a notification from caller input.
func build(input CreateInput) Notification {
	return Notification{
		ID:        NewNotificationID(),
		Type:      input.Type,
		Title:     input.Title,
		Message:   input.Message,
		OrderID:   input.OrderID,
		Data:      input.Data,
		CreatedAt: time.Now(),
	}
}

// Notify writes a notification to one user's inbox and pushes it to their sockets. The store write happens first;
// a store failure still results in a socket push so connected clients are not starved by a degraded store.
func (s *Service) Notify(ctx context.Context, userID int64, input CreateInput) (Notification, error) {
	n := build(input)
	err := s.store.Create(ctx, userID, n)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("Inbox write failed")
	}
	s.hub.BroadcastToUser(ctx, userID, gateway.EventNotificationNew, n)
	return n, err
}

// NotifyUsers fans one notification out to several inboxes. Each user gets their own entry id.
func (s *Service) NotifyUsers(ctx context.Context, userIDs []int64, input CreateInput) {
	for _, userID := range userIDs {
		if _, err := s.Notify(ctx, userID, input); err != nil {
			s.log.Error().Err(err).Int64("user_id", userID).Msg("Fan-out inbox write failed")
		}
	}
}

// NotifyRoom pushes a transient notification to a room. No inbox write: the inbox is per-user and room membership is
// not enumerable across instances.
func (s *Service) NotifyRoom(ctx context.Context, room string, input CreateInput) {
	s.hub.BroadcastToRoom(ctx, room, gateway.EventNotification, build(input))
}

// NotifyOperatorCall records a call notification for an operator and alerts the shared operators room.
func (s *Service) NotifyOperatorCall(ctx context.Context, operatorID int64, input CreateInput) (Notification, error) {
	n, err := s.Notify(ctx, operatorID, input)
	s.hub.BroadcastToRoom(ctx, gateway.RoomOperators, gateway.EventNotification, n)
	return n, err
}

// NotifyOperatorOrder records an order notification for an operator.
func (s *Service) NotifyOperatorOrder(ctx context.Context, operatorID int64, input CreateInput) (Notification, error) {
	return s.Notify(ctx, operatorID, input)
}

// NotifyDirectorsByCity pushes a transient notification to the directors room and the city room.
func (s *Service) NotifyDirectorsByCity(ctx context.Context, city string, input CreateInput) {
	n := build(input)
	s.hub.BroadcastToRoom(ctx, gateway.RoomDirectors, gateway.EventNotification, n)
	if city != "" {
		if err := gateway.ValidateRoomName(gateway.CityRoom(city)); err == nil {
			s.hub.BroadcastToRoom(ctx, gateway.CityRoom(city), gateway.EventNotification, n)
		}
	}
}

// NotifyMaster records a notification under the external master id and alerts the master's room. The master id is an
// external identity space; the key is kept isolated here so an identity adapter can be slotted in without a storage
// migration.
func (s *Service) NotifyMaster(ctx context.Context, masterID int64, input CreateInput) (Notification, error) {
	n := build(input)
	err := s.store.Create(ctx, masterID, n)
	if err != nil {
		s.log.Error().Err(err).Int64("master_id", masterID).Msg("Master inbox write failed")
	}
	s.hub.BroadcastToRoom(ctx, gateway.MasterRoom(masterID), gateway.EventNotificationNew, n)
	return n, err
}

// NotifySystem pushes a transient system notification to every authenticated socket.
func (s *Service) NotifySystem(ctx context.Context, input CreateInput) {
	s.hub.BroadcastToAll(ctx, gateway.EventNotification, build(input))
}

// List returns a page of the inbox together with the current unread count.
func (s *Service) List(ctx context.Context, userID, limit, offset int64) ([]Notification, int64, error) {
	notifications, err := s.store.List(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return notifications, s.store.UnreadCount(ctx, userID), nil
}

// UnreadCount returns the user's unread counter.
func (s *Service) UnreadCount(ctx context.Context, userID int64) int64 {
	return s.store.UnreadCount(ctx, userID)
}

// MarkRead flips one notification to read and tells the user's sockets.
func (s *Service) MarkRead(ctx context.Context, userID int64, notificationID string) (bool, error) {
	found, err := s.store.MarkRead(ctx, userID, notificationID)
	if err != nil || !found {
		return found, err
	}
	s.hub.BroadcastToUser(ctx, userID, gateway.EventNotificationRead, readData{NotificationID: notificationID})
	return true, nil
}

// MarkAllRead marks the whole inbox read and tells the user's sockets.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) error {
	if err := s.store.MarkAllRead(ctx, userID); err != nil {
		return err
	}
	s.hub.BroadcastToUser(ctx, userID, gateway.EventNotificationAllRead, struct{}{})
	return nil
}

// Delete removes one notification. Deletion carries no socket event.
func (s *Service) Delete(ctx context.Context, userID int64, notificationID string) (bool, error) {
	return s.store.Delete(ctx, userID, notificationID)
}

// ClearAll drops the inbox and tells the user's sockets.
func (s *Service) ClearAll(ctx context.Context, userID int64) error {
	if err := s.store.ClearAll(ctx, userID); err != nil {
		return err
	}
	s.hub.BroadcastToUser(ctx, userID, gateway.EventNotificationCleared, struct{}{})
	return nil
}
