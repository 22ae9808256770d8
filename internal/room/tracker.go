package room

import (
	"sync"
	"time"

	"github.com/carelink/telecall/internal/ratelimit"
)

// Tracker maintains the socket-keyed maps every event handler consults for
// room and identity context, plus the last-heartbeat stamp used for failure
// detection.
//
// All three maps are populated together on join and purged together on any
// disconnect path, so no stale entry can outlive a connection.
type Tracker struct {
	clock ratelimit.Clock

	mu            sync.Mutex
	roomBySocket  map[string]string
	idBySocket    map[string]Identity
	lastHeartbeat map[string]time.Time
}

func NewTracker(clock ratelimit.Clock) *Tracker {
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	return &Tracker{
		clock:         clock,
		roomBySocket:  make(map[string]string),
		idBySocket:    make(map[string]Identity),
		lastHeartbeat: make(map[string]time.Time),
	}
}

// Register binds a socket to its room and identity and stamps an initial
// heartbeat so a freshly joined connection is never immediately expired.
func (t *Tracker) Register(socketID, roomID string, id Identity) {
	now := t.clock.Now()
	t.mu.Lock()
	t.roomBySocket[socketID] = roomID
	t.idBySocket[socketID] = id
	t.lastHeartbeat[socketID] = now
	t.mu.Unlock()
}

func (t *Tracker) RoomOf(socketID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	roomID, ok := t.roomBySocket[socketID]
	return roomID, ok
}

func (t *Tracker) IdentityOf(socketID string) (Identity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.idBySocket[socketID]
	return id, ok
}

// Heartbeat stamps the socket's liveness time. It reports false for sockets
// that are not tracked (already purged), which callers treat as a no-op.
func (t *Tracker) Heartbeat(socketID string) bool {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.lastHeartbeat[socketID]; !ok {
		return false
	}
	t.lastHeartbeat[socketID] = now
	return true
}

// Purge removes the socket from all maps, returning its room and identity for
// the caller's room-notification path. The second purge of a socket reports
// ok=false, making disconnect cleanup idempotent.
func (t *Tracker) Purge(socketID string) (string, Identity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	roomID, ok := t.roomBySocket[socketID]
	if !ok {
		return "", Identity{}, false
	}
	id := t.idBySocket[socketID]
	delete(t.roomBySocket, socketID)
	delete(t.idBySocket, socketID)
	delete(t.lastHeartbeat, socketID)
	return roomID, id, true
}

// Expired returns the sockets whose last heartbeat is older than timeout.
// Entries are left in place; the caller runs its disconnect cleanup (which
// purges) per socket.
func (t *Tracker) Expired(timeout time.Duration) []string {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	for socketID, last := range t.lastHeartbeat {
		if now.Sub(last) > timeout {
			expired = append(expired, socketID)
		}
	}
	return expired
}

// Tracked returns the number of live tracked sockets.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.roomBySocket)
}
