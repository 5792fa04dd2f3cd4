package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/daaku/webpush"
	"github.com/rs/zerolog"
)

// clientSubscription builds a subscription with a real client key pair so payload encryption succeeds end to end.
func clientSubscription(t *testing.T, endpoint string) webpush.Subscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatalf("generate auth secret: %v", err)
	}
	return webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		},
	}
}

// vendorServer fakes a push vendor: each path answers with a fixed status and hits are counted.
type vendorServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newVendorServer(t *testing.T, statuses map[string]int) *vendorServer {
	t.Helper()
	v := &vendorServer{hits: make(map[string]int)}
	v.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v.mu.Lock()
		v.hits[r.URL.Path]++
		v.mu.Unlock()
		status, ok := statuses[r.URL.Path]
		if !ok {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(v.Server.Close)
	return v
}

func (v *vendorServer) hitCount(path string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hits[path]
}

func newTestDispatcher(t *testing.T, client *http.Client) (*Dispatcher, *Store) {
	t.Helper()
	store, _ := newTestStore(t)
	key, err := webpush.GenerateVAPIDKey()
	if err != nil {
		t.Fatalf("generate VAPID key: %v", err)
	}
	d, err := NewDispatcher(store, key, "mailto:ops@example.com", client, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return d, store
}

func TestDispatcher_PrunesGoneSubscriptions(t *testing.T) {
	t.Parallel()
	vendor := newVendorServer(t, map[string]int{
		"/e1": http.StatusCreated,
		"/e2": http.StatusGone,
	})
	d, store := newTestDispatcher(t, vendor.Client())
	ctx := context.Background()

	_ = store.Subscribe(ctx, 3, clientSubscription(t, vendor.URL+"/e1"))
	_ = store.Subscribe(ctx, 3, clientSubscription(t, vendor.URL+"/e2"))

	delivered, err := d.SendToUser(ctx, 3, Payload{Title: "hello", Body: "world"})
	if err != nil {
		t.Fatalf("SendToUser() error = %v", err)
	}
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}

	records, _ := store.Subscriptions(ctx, 3)
	if len(records) != 1 || records[0].Subscription.Endpoint != vendor.URL+"/e1" {
		t.Errorf("surviving subscriptions = %v, want only /e1", records)
	}
}

func TestDispatcher_NotFoundAlsoPrunes(t *testing.T) {
	t.Parallel()
	vendor := newVendorServer(t, map[string]int{"/dead": http.StatusNotFound})
	d, store := newTestDispatcher(t, vendor.Client())
	ctx := context.Background()

	_ = store.Subscribe(ctx, 3, clientSubscription(t, vendor.URL+"/dead"))
	if _, err := d.SendToUser(ctx, 3, Payload{Title: "hello"}); err != nil {
		t.Fatalf("SendToUser() error = %v", err)
	}
	records, _ := store.Subscriptions(ctx, 3)
	if len(records) != 0 {
		t.Errorf("subscriptions = %v, want pruned empty set", records)
	}
}

func TestDispatcher_OtherErrorsKeepSubscription(t *testing.T) {
	t.Parallel()
	vendor := newVendorServer(t, map[string]int{"/flaky": http.StatusTooManyRequests})
	d, store := newTestDispatcher(t, vendor.Client())
	ctx := context.Background()

	_ = store.Subscribe(ctx, 3, clientSubscription(t, vendor.URL+"/flaky"))
	delivered, err := d.SendToUser(ctx, 3, Payload{Title: "hello"})
	if err != nil {
		t.Fatalf("SendToUser() error = %v", err)
	}
	if delivered != 0 {
		t.Errorf("delivered = %d, want 0", delivered)
	}
	records, _ := store.Subscriptions(ctx, 3)
	if len(records) != 1 {
		t.Errorf("subscriptions = %d, want the flaky endpoint kept", len(records))
	}
}

func TestDispatcher_PreferenceGating(t *testing.T) {
	t.Parallel()
	vendor := newVendorServer(t, nil)
	d, store := newTestDispatcher(t, vendor.Client())
	ctx := context.Background()

	_ = store.Subscribe(ctx, 3, clientSubscription(t, vendor.URL+"/e1"))
	_ = store.UpdateSettings(ctx, 3, Preferences{CallIncoming: false, CallMissed: true})

	// Disabled preference suppresses the matching type.
	if delivered, _ := d.SendToUser(ctx, 3, Payload{Title: "ring", Type: TypeCallIncoming}); delivered != 0 {
		t.Errorf("call_incoming delivered = %d, want 0", delivered)
	}
	if vendor.hitCount("/e1") != 0 {
		t.Errorf("vendor hit %d times for suppressed type, want 0", vendor.hitCount("/e1"))
	}

	// Enabled preference and unknown types go through.
	if delivered, _ := d.SendToUser(ctx, 3, Payload{Title: "missed", Type: TypeCallMissed}); delivered != 1 {
		t.Errorf("call_missed delivered = %d, want 1", delivered)
	}
	if delivered, _ := d.SendToUser(ctx, 3, Payload{Title: "misc", Type: "something_else"}); delivered != 1 {
		t.Errorf("unknown type delivered = %d, want 1", delivered)
	}
}

func TestDispatcher_TestTypeBypassesPreferences(t *testing.T) {
	t.Parallel()
	vendor := newVendorServer(t, nil)
	d, store := newTestDispatcher(t, vendor.Client())
	ctx := context.Background()

	_ = store.Subscribe(ctx, 3, clientSubscription(t, vendor.URL+"/e1"))
	_ = store.UpdateSettings(ctx, 3, Preferences{CallIncoming: false, CallMissed: false})

	if delivered, _ := d.SendToUser(ctx, 3, Payload{Title: "test", Type: TypeTest}); delivered != 1 {
		t.Errorf("test type delivered = %d, want 1", delivered)
	}
}

func TestDispatcher_SendToMaster(t *testing.T) {
	t.Parallel()
	vendor := newVendorServer(t, map[string]int{"/m2": http.StatusGone})
	d, store := newTestDispatcher(t, vendor.Client())
	ctx := context.Background()

	_ = store.SubscribeMaster(ctx, 11, clientSubscription(t, vendor.URL+"/m1"))
	_ = store.SubscribeMaster(ctx, 11, clientSubscription(t, vendor.URL+"/m2"))

	delivered, err := d.SendToMaster(ctx, 11, Payload{Title: "order", Body: "assigned"})
	if err != nil {
		t.Fatalf("SendToMaster() error = %v", err)
	}
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
	records, _ := store.MasterSubscriptions(ctx, 11)
	if len(records) != 1 {
		t.Errorf("master subscriptions = %d, want dead endpoint pruned", len(records))
	}
}

func TestDispatcher_DisabledWithoutKey(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	d, err := NewDispatcher(store, "", "", nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	if d.Enabled() {
		t.Error("Enabled() = true without a key")
	}
	if delivered, err := d.SendToUser(context.Background(), 3, Payload{Title: "x"}); err != nil || delivered != 0 {
		t.Errorf("SendToUser() = (%d, %v), want no-op", delivered, err)
	}
}

func TestNewDispatcher_BadKey(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	if _, err := NewDispatcher(store, "not-a-key", "mailto:ops@example.com", nil, zerolog.Nop()); err == nil {
		t.Error("NewDispatcher() with garbage key expected error")
	}
}
