package room

import (
	"testing"
	"time"

	"github.com/carelink/telecall/internal/metrics"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry(t *testing.T) (*Registry, *fakeClock, *metrics.Metrics) {
	t.Helper()
	clk := &fakeClock{now: time.Unix(1000, 0)}
	m := metrics.New()
	return NewRegistry(time.Minute, m, clk), clk, m
}

func TestRegistry_FirstJoinCreatesRoom(t *testing.T) {
	r, _, m := newTestRegistry(t)

	res := r.Join("consult-1", Participant{SocketID: "s1", UserID: "u1", UserName: "Dr. Adams", UserType: "doctor"})
	if res.Reconnected {
		t.Fatal("Reconnected=true on first join")
	}
	if len(res.Existing) != 0 {
		t.Fatalf("Existing=%d, want 0", len(res.Existing))
	}
	if res.SessionID == "" {
		t.Fatal("SessionID is empty")
	}
	if res.Participant.JoinedAt.IsZero() {
		t.Fatal("JoinedAt not stamped")
	}
	if got := m.Get(metrics.RoomCreated); got != 1 {
		t.Fatalf("room_created=%d, want 1", got)
	}

	room, ok := r.Get("consult-1")
	if !ok {
		t.Fatal("Get: room absent after join")
	}
	if len(room.Participants) != 1 {
		t.Fatalf("participants=%d, want 1", len(room.Participants))
	}
}

func TestRegistry_SecondJoinSeesExisting(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	r.Join("consult-1", Participant{SocketID: "s1", UserID: "u1"})
	res := r.Join("consult-1", Participant{SocketID: "s2", UserID: "u2"})

	if len(res.Existing) != 1 || res.Existing[0].SocketID != "s1" {
		t.Fatalf("Existing=%+v, want [s1]", res.Existing)
	}
}

func TestRegistry_SessionIDStableAcrossJoins(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	first := r.Join("consult-1", Participant{SocketID: "s1", UserID: "u1"})
	second := r.Join("consult-1", Participant{SocketID: "s2", UserID: "u2"})
	if first.SessionID != second.SessionID {
		t.Fatalf("SessionID changed across joins: %q vs %q", first.SessionID, second.SessionID)
	}
}

func TestRegistry_RejoinReplacesNotDuplicates(t *testing.T) {
	r, clk, m := newTestRegistry(t)

	first := r.Join("consult-1", Participant{SocketID: "s1", UserID: "u1", UserName: "Dr. Adams"})
	r.Join("consult-1", Participant{SocketID: "s2", UserID: "u2"})

	clk.Advance(10 * time.Second)
	res := r.Join("consult-1", Participant{SocketID: "s1b", UserID: "u1", UserName: "Dr. Adams"})

	if !res.Reconnected {
		t.Fatal("Reconnected=false on rejoin with same userId")
	}
	if res.OldSocketID != "s1" {
		t.Fatalf("OldSocketID=%q, want s1", res.OldSocketID)
	}
	if !res.Participant.JoinedAt.Equal(first.Participant.JoinedAt) {
		t.Fatalf("JoinedAt=%v, want original %v", res.Participant.JoinedAt, first.Participant.JoinedAt)
	}
	if res.Participant.ReconnectedAt.IsZero() {
		t.Fatal("ReconnectedAt not stamped")
	}
	if len(res.Existing) != 1 || res.Existing[0].SocketID != "s2" {
		t.Fatalf("Existing=%+v, want [s2]", res.Existing)
	}

	room, _ := r.Get("consult-1")
	if len(room.Participants) != 2 {
		t.Fatalf("participants=%d, want 2 (rejoin must not duplicate)", len(room.Participants))
	}
	seen := make(map[string]int)
	for _, p := range room.Participants {
		seen[p.UserID]++
	}
	if seen["u1"] != 1 {
		t.Fatalf("u1 appears %d times, want 1", seen["u1"])
	}
	if got := m.Get(metrics.ParticipantRejoin); got != 1 {
		t.Fatalf("participant_rejoin=%d, want 1", got)
	}
}

func TestRegistry_LeaveDeletesEmptyRoomImmediately(t *testing.T) {
	r, _, m := newTestRegistry(t)

	r.Join("consult-1", Participant{SocketID: "s1", UserID: "u1"})
	p, ok, empty := r.Leave("consult-1", "s1")
	if !ok {
		t.Fatal("Leave: not found")
	}
	if p.UserID != "u1" {
		t.Fatalf("left participant=%q, want u1", p.UserID)
	}
	if !empty {
		t.Fatal("empty=false, want true")
	}
	if _, ok := r.Get("consult-1"); ok {
		t.Fatal("room still present after last leave")
	}
	if got := m.Get(metrics.RoomDeleted); got != 1 {
		t.Fatalf("room_deleted=%d, want 1", got)
	}
}

func TestRegistry_LeaveUnknownIsNoOp(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	if _, ok, _ := r.Leave("nope", "s1"); ok {
		t.Fatal("Leave of unknown room reported ok")
	}

	r.Join("consult-1", Participant{SocketID: "s1", UserID: "u1"})
	if _, ok, _ := r.Leave("consult-1", "ghost"); ok {
		t.Fatal("Leave of unknown socket reported ok")
	}
	room, _ := r.Get("consult-1")
	if len(room.Participants) != 1 {
		t.Fatalf("participants=%d, want 1", len(room.Participants))
	}
}

func TestRegistry_SweepRemovesIdleEmptyRooms(t *testing.T) {
	r, clk, m := newTestRegistry(t)

	r.injectEmptyRoom("stale-1")
	r.Join("busy", Participant{SocketID: "s1", UserID: "u1"})

	clk.Advance(2 * time.Minute)
	if removed := r.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed=%d, want 1", removed)
	}
	if _, ok := r.Get("stale-1"); ok {
		t.Fatal("stale room survived sweep")
	}
	if _, ok := r.Get("busy"); !ok {
		t.Fatal("occupied room was swept")
	}
	if got := m.Get(metrics.RoomSwept); got != 1 {
		t.Fatalf("room_swept=%d, want 1", got)
	}
}

func TestRegistry_SweepSparesRecentlyActive(t *testing.T) {
	r, clk, _ := newTestRegistry(t)

	r.injectEmptyRoom("stale-1")
	clk.Advance(30 * time.Second) // under the 1m idle window
	if removed := r.Sweep(); removed != 0 {
		t.Fatalf("Sweep removed=%d, want 0", removed)
	}
}

func TestRegistry_TouchResetsIdleWindow(t *testing.T) {
	r, clk, _ := newTestRegistry(t)

	r.injectEmptyRoom("stale-1")
	clk.Advance(50 * time.Second)
	r.Touch("stale-1")
	clk.Advance(30 * time.Second)
	if removed := r.Sweep(); removed != 0 {
		t.Fatalf("Sweep removed=%d, want 0 after touch", removed)
	}
}
