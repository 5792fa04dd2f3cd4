package gateway

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jes11sy/realtime-service/internal/config"
	"github.com/jes11sy/realtime-service/internal/token"
)

func testHubConfig() *config.Config {
	return &config.Config{
		AuthGrace:     10 * time.Second,
		SweepInterval: time.Minute,
		PingInterval:  25 * time.Second,
		PingTimeout:   60 * time.Second,
		MaxFrameBytes: 1 << 20,
	}
}

// newTestConn builds a connection without a transport; tests drive the state machine directly and read frames from
// the send queue.
func newTestConn(h *Hub) *Conn {
	c := newConn(h, nil, token.Handshake{}, zerolog.Nop())
	h.registry.Add(c)
	return c
}

func newTestHub() *Hub {
	v := token.NewVerifier(testSecret, testSecret)
	return NewHub(testHubConfig(), v, nil, zerolog.Nop())
}

func TestRegistry_PendingNeverIndexed(t *testing.T) {
	t.Parallel()
	h := newTestHub()
	c := newTestConn(h)

	if got := h.registry.ConnsForUser(7); len(got) != 0 {
		t.Fatalf("ConnsForUser(7) = %d conns, want 0 for pending socket", len(got))
	}
	if got := h.registry.AuthenticatedConns(); len(got) != 0 {
		t.Fatalf("AuthenticatedConns() = %d, want 0", len(got))
	}

	total, pending, authenticated, users := h.registry.Counts()
	if total != 1 || pending != 1 || authenticated != 0 || users != 0 {
		t.Errorf("Counts() = (%d,%d,%d,%d), want (1,1,0,0)", total, pending, authenticated, users)
	}
	_ = c
}

func TestRegistry_AuthenticateIndexesByUser(t *testing.T) {
	t.Parallel()
	h := newTestHub()
	c := newTestConn(h)

	if err := h.registry.Authenticate(c, token.Identity{UserID: 7, Role: "operator"}); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	conns := h.registry.ConnsForUser(7)
	if len(conns) != 1 || conns[0].ID() != c.ID() {
		t.Fatalf("ConnsForUser(7) = %v, want the authenticated socket", conns)
	}
	if c.State() != StateAuthenticated {
		t.Errorf("State() = %v, want StateAuthenticated", c.State())
	}

	// Re-authentication of the same socket is rejected.
	if err := h.registry.Authenticate(c, token.Identity{UserID: 8, Role: "operator"}); err == nil {
		t.Error("Authenticate() on authenticated socket expected error")
	}
}

func TestRegistry_MultipleSocketsPerUser(t *testing.T) {
	t.Parallel()
	h := newTestHub()
	a, b := newTestConn(h), newTestConn(h)

	id := token.Identity{UserID: 7, Role: "operator"}
	_ = h.registry.Authenticate(a, id)
	_ = h.registry.Authenticate(b, id)

	if got := h.registry.ConnsForUser(7); len(got) != 2 {
		t.Fatalf("ConnsForUser(7) = %d conns, want 2", len(got))
	}

	// Removing one socket keeps the other indexed; removing the last deletes the key.
	if _, was := h.registry.Remove(a); !was {
		t.Error("Remove(a) wasAuthenticated = false, want true")
	}
	if got := h.registry.ConnsForUser(7); len(got) != 1 {
		t.Fatalf("ConnsForUser(7) after one removal = %d, want 1", len(got))
	}
	_, _ = h.registry.Remove(b)
	if got := h.registry.ConnsForUser(7); len(got) != 0 {
		t.Fatalf("ConnsForUser(7) after both removals = %d, want 0", len(got))
	}
	_, _, _, users := h.registry.Counts()
	if users != 0 {
		t.Errorf("users = %d, want 0 after empty set deletion", users)
	}
}

func TestRegistry_RemoveIdempotent(t *testing.T) {
	t.Parallel()
	h := newTestHub()
	c := newTestConn(h)
	_ = h.registry.Authenticate(c, token.Identity{UserID: 7, Role: "operator"})

	if _, was := h.registry.Remove(c); !was {
		t.Error("first Remove() wasAuthenticated = false, want true")
	}
	if _, was := h.registry.Remove(c); was {
		t.Error("second Remove() wasAuthenticated = true, want false")
	}
	if c.State() != StateTerminated {
		t.Errorf("State() = %v, want StateTerminated", c.State())
	}
}

func TestRegistry_RoomMembersExcludesPending(t *testing.T) {
	t.Parallel()
	h := newTestHub()

	member := newTestConn(h)
	_ = h.registry.Authenticate(member, token.Identity{UserID: 7, Role: "operator"})
	member.joinRoom("operators")

	lurker := newTestConn(h) // pending; never a room member
	lurker.joinRoom("operators")

	got := h.registry.RoomMembers("operators")
	if len(got) != 1 || got[0].ID() != member.ID() {
		t.Fatalf("RoomMembers(operators) = %d conns, want only the authenticated member", len(got))
	}
}

func TestRegistry_RoomCounts(t *testing.T) {
	t.Parallel()
	h := newTestHub()

	a := newTestConn(h)
	_ = h.registry.Authenticate(a, token.Identity{UserID: 1, Role: "operator"})
	a.joinRoom("operators")
	a.joinRoom("city:Moscow")

	b := newTestConn(h)
	_ = h.registry.Authenticate(b, token.Identity{UserID: 2, Role: "operator"})
	b.joinRoom("operators")

	counts := h.registry.RoomCounts()
	if counts["operators"] != 2 {
		t.Errorf("operators count = %d, want 2", counts["operators"])
	}
	if counts["city:Moscow"] != 1 {
		t.Errorf("city:Moscow count = %d, want 1", counts["city:Moscow"])
	}
}
