// Package push implements Web Push delivery: per-user multi-device subscription sets with preference gating, and the
// dispatcher that signs and sends payloads to vendor endpoints, pruning subscriptions the vendor reports gone.
package push

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/daaku/webpush"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	subscriptionsPrefix       = "push:subscriptions:"
	masterSubscriptionsPrefix = "push:master:subscriptions:"
	settingsPrefix            = "push:settings:"
)

// Record is a stored subscription. AddedAt orders eviction when a user exceeds the device cap.
type Record struct {
	Subscription webpush.Subscription `json:"subscription"`
	AddedAt      time.Time            `json:"addedAt"`
}

// Preferences are the user-tunable delivery switches. Enabled is derived from subscription presence and never stored.
type Preferences struct {
	CallIncoming bool `json:"callIncoming"`
	CallMissed   bool `json:"callMissed"`
}

// Settings is the read shape returned to clients.
type Settings struct {
	Enabled      bool `json:"enabled"`
	CallIncoming bool `json:"callIncoming"`
	CallMissed   bool `json:"callMissed"`
}

// EndpointHash derives the stable field key for a vendor endpoint URL.
func EndpointHash(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(sum[:])[:16]
}

// Store persists subscription sets and preferences. User and master subscriptions live in separate namespaces
// because they key on different identity spaces.
type Store struct {
	client     redis.UniversalClient
	maxDevices int64
	log        zerolog.Logger
}

// NewStore creates a store with the given per-user device cap.
func NewStore(client redis.UniversalClient, maxDevices int, logger zerolog.Logger) *Store {
	return &Store{
		client:     client,
		maxDevices: int64(maxDevices),
		log:        logger.With().Str("component", "push").Logger(),
	}
}

func userKey(userID int64) string     { return fmt.Sprintf("%s%d", subscriptionsPrefix, userID) }
func masterKey(masterID int64) string { return fmt.Sprintf("%s%d", masterSubscriptionsPrefix, masterID) }
func settingsKey(userID int64) string { return fmt.Sprintf("%s%d", settingsPrefix, userID) }

// Subscribe stores a device subscription for a user. Re-subscribing an existing endpoint replaces the record but
// keeps its eviction rank.
func (s *Store) Subscribe(ctx context.Context, userID int64, sub webpush.Subscription) error {
	return s.subscribe(ctx, userKey(userID), sub)
}

// SubscribeMaster stores a device subscription under an external master id.
func (s *Store) SubscribeMaster(ctx context.Context, masterID int64, sub webpush.Subscription) error {
	return s.subscribe(ctx, masterKey(masterID), sub)
}

func (s *Store) subscribe(ctx context.Context, key string, sub webpush.Subscription) error {
	if s.client == nil {
		return nil
	}

	field := EndpointHash(sub.Endpoint)
	record := Record{Subscription: sub, AddedAt: time.Now()}

	existing, err := s.client.HGet(ctx, key, field).Result()
	if err == nil {
		var prev Record
		if json.Unmarshal([]byte(existing), &prev) == nil && !prev.AddedAt.IsZero() {
			record.AddedAt = prev.AddedAt
		}
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode subscription: %w", err)
	}
	if err := s.client.HSet(ctx, key, field, string(encoded)).Err(); err != nil {
		return fmt.Errorf("store subscription: %w", err)
	}
	return s.evictOverflow(ctx, key)
}

// evictOverflow removes the oldest-entered records past the device cap.
func (s *Store) evictOverflow(ctx context.Context, key string) error {
	entries, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("read subscriptions: %w", err)
	}
	if int64(len(entries)) <= s.maxDevices {
		return nil
	}

	type aged struct {
		field   string
		addedAt time.Time
	}
	records := make([]aged, 0, len(entries))
	for field, raw := range entries {
		var r Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			records = append(records, aged{field: field})
			continue
		}
		records = append(records, aged{field: field, addedAt: r.AddedAt})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].addedAt.Before(records[j].addedAt) })

	for _, r := range records[:int64(len(records))-s.maxDevices] {
		if err := s.client.HDel(ctx, key, r.field).Err(); err != nil {
			return fmt.Errorf("evict subscription: %w", err)
		}
	}
	return nil
}

// Unsubscribe removes a user's device by endpoint. Returns whether the subscription existed.
func (s *Store) Unsubscribe(ctx context.Context, userID int64, endpoint string) (bool, error) {
	return s.unsubscribe(ctx, userKey(userID), endpoint)
}

// UnsubscribeMaster removes a master's device by endpoint.
func (s *Store) UnsubscribeMaster(ctx context.Context, masterID int64, endpoint string) (bool, error) {
	return s.unsubscribe(ctx, masterKey(masterID), endpoint)
}

func (s *Store) unsubscribe(ctx context.Context, key, endpoint string) (bool, error) {
	if s.client == nil {
		return false, nil
	}
	removed, err := s.client.HDel(ctx, key, EndpointHash(endpoint)).Result()
	if err != nil {
		return false, fmt.Errorf("remove subscription: %w", err)
	}
	return removed > 0, nil
}

// Subscriptions returns every stored device for a user. Undecodable records are skipped.
func (s *Store) Subscriptions(ctx context.Context, userID int64) ([]Record, error) {
	return s.subscriptions(ctx, userKey(userID))
}

// MasterSubscriptions returns every stored device for a master.
func (s *Store) MasterSubscriptions(ctx context.Context, masterID int64) ([]Record, error) {
	return s.subscriptions(ctx, masterKey(masterID))
}

func (s *Store) subscriptions(ctx context.Context, key string) ([]Record, error) {
	if s.client == nil {
		return nil, nil
	}
	entries, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read subscriptions: %w", err)
	}

	out := make([]Record, 0, len(entries))
	for field, raw := range entries {
		var r Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			s.log.Warn().Str("field", field).Msg("Skipping undecodable subscription record")
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out, nil
}

// prune drops a subscription the vendor reported permanently gone.
func (s *Store) prune(ctx context.Context, key, endpoint string) {
	if s.client == nil {
		return
	}
	if err := s.client.HDel(ctx, key, EndpointHash(endpoint)).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to prune dead subscription")
	}
}

// GetSettings reads a user's preferences. Missing preferences default to everything on; enabled reflects whether any
// device is subscribed.
func (s *Store) GetSettings(ctx context.Context, userID int64) (Settings, error) {
	settings := Settings{CallIncoming: true, CallMissed: true}
	if s.client == nil {
		return settings, nil
	}

	raw, err := s.client.Get(ctx, settingsKey(userID)).Result()
	if err == nil {
		var prefs Preferences
		if err := json.Unmarshal([]byte(raw), &prefs); err == nil {
			settings.CallIncoming = prefs.CallIncoming
			settings.CallMissed = prefs.CallMissed
		}
	} else if err != redis.Nil {
		return settings, fmt.Errorf("read push settings: %w", err)
	}

	devices, err := s.client.HLen(ctx, userKey(userID)).Result()
	if err != nil {
		return settings, fmt.Errorf("read subscriptions: %w", err)
	}
	settings.Enabled = devices > 0
	return settings, nil
}

// UpdateSettings stores a user's preferences.
func (s *Store) UpdateSettings(ctx context.Context, userID int64, prefs Preferences) error {
	if s.client == nil {
		return nil
	}
	encoded, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode push settings: %w", err)
	}
	if err := s.client.Set(ctx, settingsKey(userID), string(encoded), 0).Err(); err != nil {
		return fmt.Errorf("store push settings: %w", err)
	}
	return nil
}
