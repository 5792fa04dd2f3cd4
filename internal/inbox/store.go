// Package inbox implements the durable per-user notification inbox: a bounded, TTL-scoped ordered set per user with a
// separate unread counter, plus the service layer that pushes inbox changes to the owner's live sockets.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	notificationsPrefix = "ui:notifications:"
	unreadPrefix        = "ui:notifications:unread:"
)

// decrFloorScript decrements the unread counter without letting it go below zero. Mark-read can race with create and
// with itself across instances; the floor keeps an interrupted sequence from driving the counter negative.
var decrFloorScript = redis.NewScript(`
local v = redis.call('DECR', KEYS[1])
if v < 0 then
	redis.call('SET', KEYS[1], '0')
	return 0
end
return v
`)

// Notification is a single inbox entry. Entries are stored JSON-encoded as ordered-set members with the ms epoch of
// CreatedAt as the rank.
type Notification struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	OrderID   int64           `json:"orderId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewNotificationID mints an inbox entry id: ms timestamp prefix for rough ordering plus a random suffix for
// uniqueness within the same millisecond.
func NewNotificationID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Store persists inboxes in the shared store. A nil client is tolerated: every operation degrades to an empty result
// so the socket path keeps working when the store is down.
type Store struct {
	client redis.UniversalClient
	max    int64
	ttl    time.Duration
	log    zerolog.Logger
}

// NewStore creates a store with the given capacity and retention window.
func NewStore(client redis.UniversalClient, max int, ttl time.Duration, logger zerolog.Logger) *Store {
	return &Store{
		client: client,
		max:    int64(max),
		ttl:    ttl,
		log:    logger.With().Str("component", "inbox").Logger(),
	}
}

func notificationsKey(userID int64) string { return fmt.Sprintf("%s%d", notificationsPrefix, userID) }
func unreadKey(userID int64) string        { return fmt.Sprintf("%s%d", unreadPrefix, userID) }

// Create appends a notification to the user's inbox: add at its creation rank, refresh the TTL, trim overflow by
// lowest rank, and increment the unread counter. The counter is deliberately not trimmed with the set.
func (s *Store) Create(ctx context.Context, userID int64, n Notification) error {
	if s.client == nil {
		return nil
	}

	member, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	key := notificationsKey(userID)
	score := float64(n.CreatedAt.UnixMilli())
	if err := s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: string(member)}).Err(); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	s.client.Expire(ctx, key, s.ttl)

	card, err := s.client.ZCard(ctx, key).Result()
	if err == nil && card > s.max {
		s.client.ZRemRangeByRank(ctx, key, 0, card-s.max-1)
	}

	counter := unreadKey(userID)
	if err := s.client.Incr(ctx, counter).Err(); err != nil {
		return fmt.Errorf("increment unread counter: %w", err)
	}
	s.client.Expire(ctx, counter, s.ttl)
	return nil
}

// List returns a page of the inbox in newest-first order. Undecodable members are skipped, not fatal.
func (s *Store) List(ctx context.Context, userID int64, limit, offset int64) ([]Notification, error) {
	if s.client == nil {
		return nil, nil
	}
	if limit < 1 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	members, err := s.client.ZRevRange(ctx, notificationsKey(userID), offset, offset+limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}

	out := make([]Notification, 0, len(members))
	for _, m := range members {
		var n Notification
		if err := json.Unmarshal([]byte(m), &n); err != nil {
			s.log.Warn().Err(err).Int64("user_id", userID).Msg("Skipping undecodable inbox entry")
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// UnreadCount reads the unread counter. A missing or non-numeric counter reads as zero.
func (s *Store) UnreadCount(ctx context.Context, userID int64) int64 {
	if s.client == nil {
		return 0
	}
	count, err := s.client.Get(ctx, unreadKey(userID)).Int64()
	if err != nil {
		return 0
	}
	if count < 0 {
		return 0
	}
	return count
}

// MarkRead flips one notification to read, keeping its rank, and decrements the counter when the entry was unread.
// Returns whether the notification exists; marking an already-read entry again is a no-op.
func (s *Store) MarkRead(ctx context.Context, userID int64, notificationID string) (bool, error) {
	if s.client == nil {
		return false, nil
	}

	key := notificationsKey(userID)
	entries, err := s.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("read inbox: %w", err)
	}

	for _, entry := range entries {
		raw, ok := entry.Member.(string)
		if !ok {
			continue
		}
		var n Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil || n.ID != notificationID {
			continue
		}
		if n.Read {
			return true, nil
		}

		n.Read = true
		updated, err := json.Marshal(n)
		if err != nil {
			return false, fmt.Errorf("encode notification: %w", err)
		}
		if err := s.client.ZRem(ctx, key, raw).Err(); err != nil {
			return false, fmt.Errorf("rewrite notification: %w", err)
		}
		if err := s.client.ZAdd(ctx, key, redis.Z{Score: entry.Score, Member: string(updated)}).Err(); err != nil {
			return false, fmt.Errorf("rewrite notification: %w", err)
		}
		if err := decrFloorScript.Run(ctx, s.client, []string{unreadKey(userID)}).Err(); err != nil {
			return false, fmt.Errorf("decrement unread counter: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// MarkAllRead rewrites every entry with read=true at its original rank and zeroes the counter.
func (s *Store) MarkAllRead(ctx context.Context, userID int64) error {
	if s.client == nil {
		return nil
	}

	key := notificationsKey(userID)
	entries, err := s.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("read inbox: %w", err)
	}

	if len(entries) > 0 {
		rewritten := make([]redis.Z, 0, len(entries))
		for _, entry := range entries {
			raw, ok := entry.Member.(string)
			if !ok {
				continue
			}
			var n Notification
			if err := json.Unmarshal([]byte(raw), &n); err != nil {
				continue
			}
			n.Read = true
			updated, err := json.Marshal(n)
			if err != nil {
				continue
			}
			rewritten = append(rewritten, redis.Z{Score: entry.Score, Member: string(updated)})
		}

		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("rewrite inbox: %w", err)
		}
		if len(rewritten) > 0 {
			if err := s.client.ZAdd(ctx, key, rewritten...).Err(); err != nil {
				return fmt.Errorf("rewrite inbox: %w", err)
			}
			s.client.Expire(ctx, key, s.ttl)
		}
	}

	counter := unreadKey(userID)
	if err := s.client.Set(ctx, counter, 0, s.ttl).Err(); err != nil {
		return fmt.Errorf("reset unread counter: %w", err)
	}
	return nil
}

// Delete removes one notification by id. The counter is decremented only when the removed entry was unread.
func (s *Store) Delete(ctx context.Context, userID int64, notificationID string) (bool, error) {
	if s.client == nil {
		return false, nil
	}

	key := notificationsKey(userID)
	members, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("read inbox: %w", err)
	}

	for _, raw := range members {
		var n Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil || n.ID != notificationID {
			continue
		}
		if err := s.client.ZRem(ctx, key, raw).Err(); err != nil {
			return false, fmt.Errorf("delete notification: %w", err)
		}
		if !n.Read {
			if err := decrFloorScript.Run(ctx, s.client, []string{unreadKey(userID)}).Err(); err != nil {
				return false, fmt.Errorf("decrement unread counter: %w", err)
			}
		}
		return true, nil
	}
	return false, nil
}

// ClearAll drops the user's inbox and counter.
func (s *Store) ClearAll(ctx context.Context, userID int64) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Del(ctx, notificationsKey(userID), unreadKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear inbox: %w", err)
	}
	return nil
}
