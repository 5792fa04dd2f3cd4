package inbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type dispatch struct {
	userID int64
	room   string
	event  string
}

type fakeHub struct {
	mu    sync.Mutex
	calls []dispatch
}

func (f *fakeHub) BroadcastToUser(_ context.Context, userID int64, event string, _ any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatch{userID: userID, event: event})
	return 1
}

func (f *fakeHub) BroadcastToRoom(_ context.Context, room, event string, _ any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatch{room: room, event: event})
	return 1
}

func (f *fakeHub) BroadcastToAll(_ context.Context, event string, _ any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatch{event: event})
	return 1
}

func (f *fakeHub) snapshot() []dispatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch(nil), f.calls...)
}

func newTestService(t *testing.T) (*Service, *fakeHub) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hub := &fakeHub{}
	store := NewStore(client, 50, 24*time.Hour, zerolog.Nop())
	return NewService(store, hub, zerolog.Nop()), hub
}

func TestService_NotifyWritesAndDispatches(t *testing.T) {
	t.Parallel()
	svc, hub := newTestService(t)
	ctx := context.Background()

	n, err := svc.Notify(ctx, 9, CreateInput{Type: "order", Title: "New order", Message: "Order 42"})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if n.ID == "" || n.Read || n.CreatedAt.IsZero() {
		t.Errorf("Notify() notification = %+v, want minted id, unread, timestamped", n)
	}

	stored, count, err := svc.List(ctx, 9, 10, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(stored) != 1 || stored[0].ID != n.ID {
		t.Fatalf("List() = %v, want the created entry", stored)
	}
	if count != 1 {
		t.Errorf("unread count = %d, want 1", count)
	}

	calls := hub.snapshot()
	if len(calls) != 1 || calls[0].userID != 9 || calls[0].event != "notification:new" {
		t.Errorf("dispatches = %v, want one notification:new to user 9", calls)
	}
}

func TestService_NotifyUsers(t *testing.T) {
	t.Parallel()
	svc, hub := newTestService(t)
	ctx := context.Background()

	svc.NotifyUsers(ctx, []int64{1, 2, 3}, CreateInput{Type: "system", Title: "Maintenance"})

	for _, userID := range []int64{1, 2, 3} {
		entries, _, err := svc.List(ctx, userID, 10, 0)
		if err != nil || len(entries) != 1 {
			t.Errorf("user %d inbox = (%v, %v), want one entry", userID, entries, err)
		}
	}
	if calls := hub.snapshot(); len(calls) != 3 {
		t.Errorf("dispatches = %d, want 3", len(calls))
	}
}

func TestService_NotifyRoomIsTransient(t *testing.T) {
	t.Parallel()
	svc, hub := newTestService(t)
	ctx := context.Background()

	svc.NotifyRoom(ctx, "operators", CreateInput{Type: "call", Title: "Incoming"})

	calls := hub.snapshot()
	if len(calls) != 1 || calls[0].room != "operators" || calls[0].event != "notification" {
		t.Fatalf("dispatches = %v, want one notification to operators", calls)
	}
	// No inbox write for room notifications.
	if entries, _, _ := svc.List(ctx, 0, 10, 0); len(entries) != 0 {
		t.Errorf("unexpected inbox entries %v", entries)
	}
}

func TestService_NotifyOperatorCall(t *testing.T) {
	t.Parallel()
	svc, hub := newTestService(t)
	ctx := context.Background()

	if _, err := svc.NotifyOperatorCall(ctx, 7, CreateInput{Type: "call", Title: "Incoming call"}); err != nil {
		t.Fatalf("NotifyOperatorCall() error = %v", err)
	}

	entries, _, _ := svc.List(ctx, 7, 10, 0)
	if len(entries) != 1 {
		t.Fatalf("operator inbox = %d entries, want 1", len(entries))
	}

	calls := hub.snapshot()
	if len(calls) != 2 {
		t.Fatalf("dispatches = %v, want user push plus operators room", calls)
	}
	if calls[0].userID != 7 || calls[0].event != "notification:new" {
		t.Errorf("first dispatch = %+v, want notification:new to user 7", calls[0])
	}
	if calls[1].room != "operators" || calls[1].event != "notification" {
		t.Errorf("second dispatch = %+v, want notification to operators", calls[1])
	}
}

func TestService_NotifyDirectorsByCity(t *testing.T) {
	t.Parallel()
	svc, hub := newTestService(t)
	ctx := context.Background()

	svc.NotifyDirectorsByCity(ctx, "Saratov", CreateInput{Type: "order", Title: "Escalation"})

	calls := hub.snapshot()
	if len(calls) != 2 || calls[0].room != "directors" || calls[1].room != "city:Saratov" {
		t.Fatalf("dispatches = %v, want directors plus city room", calls)
	}

	// A city that cannot form a valid room name only reaches directors.
	hub.mu.Lock()
	hub.calls = nil
	hub.mu.Unlock()
	svc.NotifyDirectorsByCity(ctx, "Саратов", CreateInput{Type: "order", Title: "Escalation"})
	calls = hub.snapshot()
	if len(calls) != 1 || calls[0].room != "directors" {
		t.Errorf("dispatches = %v, want directors only", calls)
	}
}

func TestService_NotifyMaster(t *testing.T) {
	t.Parallel()
	svc, hub := newTestService(t)
	ctx := context.Background()

	if _, err := svc.NotifyMaster(ctx, 11, CreateInput{Type: "order", Title: "Assigned"}); err != nil {
		t.Fatalf("NotifyMaster() error = %v", err)
	}

	entries, _, _ := svc.List(ctx, 11, 10, 0)
	if len(entries) != 1 {
		t.Fatalf("master inbox = %d entries, want 1", len(entries))
	}
	calls := hub.snapshot()
	if len(calls) != 1 || calls[0].room != "master:11" || calls[0].event != "notification:new" {
		t.Errorf("dispatches = %v, want notification:new to master:11", calls)
	}
}

func TestService_NotifySystem(t *testing.T) {
	t.Parallel()
	svc, hub := newTestService(t)

	svc.NotifySystem(context.Background(), CreateInput{Type: "system", Title: "Maintenance window"})

	calls := hub.snapshot()
	if len(calls) != 1 || calls[0].event != "notification" || calls[0].room != "" || calls[0].userID != 0 {
		t.Errorf("dispatches = %v, want one broadcast to all", calls)
	}
}

func TestService_ReadLifecycleEvents(t *testing.T) {
	t.Parallel()
	svc, hub := newTestService(t)
	ctx := context.Background()

	n, _ := svc.Notify(ctx, 9, CreateInput{Type: "order", Title: "New order"})

	if found, err := svc.MarkRead(ctx, 9, n.ID); err != nil || !found {
		t.Fatalf("MarkRead() = (%v, %v), want (true, nil)", found, err)
	}
	if err := svc.MarkAllRead(ctx, 9); err != nil {
		t.Fatalf("MarkAllRead() error = %v", err)
	}
	if err := svc.ClearAll(ctx, 9); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}

	var events []string
	for _, c := range hub.snapshot() {
		if c.userID == 9 {
			events = append(events, c.event)
		}
	}
	want := []string{"notification:new", "notification:read", "notification:all_read", "notification:cleared"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestService_MarkReadMissingNoDispatch(t *testing.T) {
	t.Parallel()
	svc, hub := newTestService(t)

	found, err := svc.MarkRead(context.Background(), 9, "missing")
	if err != nil || found {
		t.Fatalf("MarkRead(missing) = (%v, %v), want (false, nil)", found, err)
	}
	if calls := hub.snapshot(); len(calls) != 0 {
		t.Errorf("dispatches = %v, want none", calls)
	}
}

func TestNewNotificationID(t *testing.T) {
	t.Parallel()
	a, b := NewNotificationID(), NewNotificationID()
	if a == b {
		t.Error("ids collide")
	}
	if len(a) < 15 {
		t.Errorf("id %q unexpectedly short", a)
	}
}
