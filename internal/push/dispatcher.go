package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/daaku/webpush"
	"github.com/rs/zerolog"
)

const (
	TypeCallIncoming = "call_incoming"
	TypeCallMissed   = "call_missed"
	TypeTest         = "test"
)

// defaultTTL keeps a pending push alive at the vendor long enough to survive a phone being offline overnight.
const defaultTTL = 24 * time.Hour

// Payload is the notification body shown by the client service worker.
type Payload struct {
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	Icon    string          `json:"icon,omitempty"`
	Badge   string          `json:"badge,omitempty"`
	Tag     string          `json:"tag,omitempty"`
	Type    string          `json:"type,omitempty"`
	URL     string          `json:"url,omitempty"`
	OrderID int64           `json:"orderId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Dispatcher sends signed push requests to vendor endpoints. A dispatcher without a VAPID key is disabled: every send
// is a logged no-op so the rest of the service runs without push credentials.
type Dispatcher struct {
	store *Store
	conf  *webpush.Config
	log   zerolog.Logger
}

// NewDispatcher creates a dispatcher. An empty private key yields a disabled dispatcher and no error; a present but
// unparseable key is a configuration fault.
func NewDispatcher(store *Store, vapidPrivateKey, subject string, client *http.Client, logger zerolog.Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		store: store,
		log:   logger.With().Str("component", "push").Logger(),
	}
	if vapidPrivateKey == "" {
		return d, nil
	}

	key, err := webpush.ParseVAPIDKey(vapidPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse VAPID private key: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	d.conf = &webpush.Config{
		Client:     client,
		VAPIDKey:   key,
		Subscriber: subject,
		TTL:        defaultTTL,
	}
	return d, nil
}

// Enabled reports whether the dispatcher holds push credentials.
func (d *Dispatcher) Enabled() bool { return d != nil && d.conf != nil }

// SendToUser delivers a payload to every device the user has subscribed, honoring call preferences. Returns the
// number of successful deliveries.
func (d *Dispatcher) SendToUser(ctx context.Context, userID int64, p Payload) (int, error) {
	if !d.Enabled() {
		return 0, nil
	}

	if p.Type != TypeTest {
		settings, err := d.store.GetSettings(ctx, userID)
		if err != nil {
			return 0, err
		}
		if p.Type == TypeCallIncoming && !settings.CallIncoming {
			return 0, nil
		}
		if p.Type == TypeCallMissed && !settings.CallMissed {
			return 0, nil
		}
	}

	records, err := d.store.Subscriptions(ctx, userID)
	if err != nil {
		return 0, err
	}
	return d.send(ctx, userKey(userID), records, p), nil
}

// SendToMaster delivers a payload to every device subscribed under an external master id. Masters have no stored
// preferences; only the subscription set gates delivery.
func (d *Dispatcher) SendToMaster(ctx context.Context, masterID int64, p Payload) (int, error) {
	if !d.Enabled() {
		return 0, nil
	}
	records, err := d.store.MasterSubscriptions(ctx, masterID)
	if err != nil {
		return 0, err
	}
	return d.send(ctx, masterKey(masterID), records, p), nil
}

// send pushes to each record in turn. 404 and 410 mean the subscription is permanently gone at the vendor and trigger
// a prune; other failures are logged and delivery continues.
func (d *Dispatcher) send(ctx context.Context, storeKey string, records []Record, p Payload) int {
	message, err := json.Marshal(p)
	if err != nil {
		d.log.Error().Err(err).Msg("Failed to encode push payload")
		return 0
	}

	delivered := 0
	for _, record := range records {
		sub := record.Subscription
		resp, err := webpush.Send(ctx, message, &sub, d.conf)
		if err != nil {
			d.log.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("Push send failed")
			continue
		}
		status := resp.StatusCode
		_ = resp.Body.Close()

		switch {
		case status == http.StatusNotFound || status == http.StatusGone:
			d.log.Info().Str("endpoint", sub.Endpoint).Int("status", status).Msg("Pruning dead push subscription")
			d.store.prune(ctx, storeKey, sub.Endpoint)
		case status >= 300:
			d.log.Warn().Str("endpoint", sub.Endpoint).Int("status", status).Msg("Push rejected by vendor")
		default:
			delivered++
		}
	}
	return delivered
}
