// Package bridge connects service instances through a shared Redis pub/sub channel so that a broadcast performed on
// one instance reaches the sockets held by every other instance. Envelopes are stamped with the publishing instance's
// identity; receivers drop their own echoes.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Channel is the single pub/sub channel all instances share.
const Channel = "socket-broadcast"

const (
	backoffStep    = 100 * time.Millisecond
	backoffCap     = 3 * time.Second
	maxConsecutive = 10
)

// Envelope is the wire format exchanged on the channel. Room is empty for broadcast-to-all. OriginInstanceID is
// required; always build envelopes through Bridge.Publish so the tag is never forgotten.
type Envelope struct {
	Event            string          `json:"event"`
	Data             json.RawMessage `json:"data"`
	Room             string          `json:"room,omitempty"`
	OriginInstanceID string          `json:"originInstanceId,omitempty"`
}

// Handler receives envelopes published by peer instances. Self-originated envelopes are filtered before the handler
// runs.
type Handler func(Envelope)

// Bridge wraps two Redis connections: one for publishing and one dedicated to the subscription, because a subscribed
// connection disallows other commands. Both clients may be nil, in which case the bridge runs in degraded
// single-instance mode and every operation is a no-op.
type Bridge struct {
	pub        redis.UniversalClient
	sub        redis.UniversalClient
	instanceID string
	log        zerolog.Logger
}

// New creates a bridge. Pass nil clients to run in degraded single-instance mode.
func New(pub, sub redis.UniversalClient, instanceID string, logger zerolog.Logger) *Bridge {
	return &Bridge{
		pub:        pub,
		sub:        sub,
		instanceID: instanceID,
		log:        logger.With().Str("component", "bridge").Logger(),
	}
}

// InstanceID returns the identity stamped on published envelopes.
func (b *Bridge) InstanceID() string { return b.instanceID }

// Degraded returns true when the bridge has no bus connection and operates as a no-op.
func (b *Bridge) Degraded() bool { return b.pub == nil || b.sub == nil }

// Publish stamps the envelope with the local instance identity and publishes it. In degraded mode it silently does
// nothing: same-instance delivery has already happened locally.
func (b *Bridge) Publish(ctx context.Context, env Envelope) error {
	if b.Degraded() {
		return nil
	}

	env.OriginInstanceID = b.instanceID
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.pub.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

// Run subscribes to the broadcast channel and delivers peer envelopes to the handler until the context is cancelled.
// Subscription failures are retried with capped exponential backoff; after ten consecutive failures the bridge gives
// up and the service continues in single-instance mode.
func (b *Bridge) Run(ctx context.Context, handler Handler) error {
	if b.Degraded() {
		b.log.Warn().Msg("No bus connection, running in degraded single-instance mode")
		return nil
	}

	failures := 0
	for {
		subscribed, err := b.consume(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if subscribed {
			failures = 0
		}

		failures++
		if failures >= maxConsecutive {
			b.log.Error().Err(err).Int("failures", failures).
				Msg("Bus subscription abandoned, continuing in degraded single-instance mode")
			return fmt.Errorf("bus subscription abandoned after %d failures: %w", failures, err)
		}

		delay := min(backoffStep*time.Duration(failures), backoffCap)
		b.log.Warn().Err(err).Int("attempt", failures).Dur("retry_in", delay).Msg("Bus subscription lost, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// consume holds one subscription until it fails or the context ends. The subscribed return value reports whether the
// subscription was confirmed, which resets the caller's consecutive-failure counter.
func (b *Bridge) consume(ctx context.Context, handler Handler) (subscribed bool, err error) {
	sub := b.sub.Subscribe(ctx, Channel)
	defer func() { _ = sub.Close() }()

	// Wait for the subscription to be confirmed before reading the message stream.
	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	b.log.Info().Str("channel", Channel).Msg("Subscribed to broadcast channel")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return true, fmt.Errorf("subscription channel closed")
			}
			b.dispatch(msg.Payload, handler)
		}
	}
}

// dispatch decodes one payload and hands it to the handler unless it originated here.
func (b *Bridge) dispatch(payload string, handler Handler) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.log.Warn().Err(err).Msg("Invalid broadcast envelope")
		return
	}
	if env.OriginInstanceID == b.instanceID {
		return
	}
	handler(env)
}

// Close releases the bridge's Redis connections.
func (b *Bridge) Close() {
	if b.pub != nil {
		_ = b.pub.Close()
	}
	if b.sub != nil {
		_ = b.sub.Close()
	}
}

// NewInstanceID generates the per-process identity used for self-echo suppression: random plus a host hint for
// debuggability.
func NewInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return host + "-" + uuid.NewString()[:8]
}
