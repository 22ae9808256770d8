package room

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/telecall/internal/metrics"
	"github.com/carelink/telecall/internal/ratelimit"
)

// JoinResult is returned synchronously to the joiner.
type JoinResult struct {
	// SessionID correlates the room with the persistence sink. It is assigned
	// once when the room is created and stable across membership changes.
	SessionID string

	// Existing lists the participants that were already in the room, excluding
	// the joiner. The joiner initiates one peer connection to each of them.
	Existing []Participant

	// Reconnected is true when a participant with the same UserID was already
	// present: the stale entry's socket was replaced in place rather than a new
	// entry appended.
	Reconnected bool

	// OldSocketID is the replaced socket when Reconnected is true.
	OldSocketID string

	// Participant is the entry as stored, with JoinedAt preserved on rejoin.
	Participant Participant
}

// Registry is the authoritative map of rooms and their participants.
type Registry struct {
	idleTimeout time.Duration
	metrics     *metrics.Metrics
	clock       ratelimit.Clock

	mu    sync.Mutex
	rooms map[string]*roomState
}

type roomState struct {
	sessionID    string
	participants []Participant
	lastActivity time.Time
}

func NewRegistry(idleTimeout time.Duration, m *metrics.Metrics, clock ratelimit.Clock) *Registry {
	if m == nil {
		m = metrics.New()
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	return &Registry{
		idleTimeout: idleTimeout,
		metrics:     m,
		clock:       clock,
		rooms:       make(map[string]*roomState),
	}
}

// Join admits p to roomID, creating the room on first join.
//
// A join carrying a UserID already present in the room is a reconnection: the
// stale entry's socket is replaced in place, JoinedAt is preserved, and the
// result carries the old socket so the caller can notify the rest of the room
// with a reconnection notice instead of a plain join event.
func (r *Registry) Join(roomID string, p Participant) JoinResult {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.rooms[roomID]
	if !ok {
		rs = &roomState{sessionID: uuid.NewString()}
		r.rooms[roomID] = rs
		r.metrics.Inc(metrics.RoomCreated)
	}
	rs.lastActivity = now

	existing := make([]Participant, 0, len(rs.participants))
	for i := range rs.participants {
		if rs.participants[i].UserID == p.UserID {
			old := rs.participants[i]
			p.JoinedAt = old.JoinedAt
			p.Reconnected = true
			p.ReconnectedAt = now
			rs.participants[i] = p
			for _, other := range rs.participants {
				if other.SocketID != p.SocketID {
					existing = append(existing, other)
				}
			}
			r.metrics.Inc(metrics.ParticipantRejoin)
			return JoinResult{
				SessionID:   rs.sessionID,
				Existing:    existing,
				Reconnected: true,
				OldSocketID: old.SocketID,
				Participant: p,
			}
		}
	}

	existing = append(existing, rs.participants...)
	p.JoinedAt = now
	rs.participants = append(rs.participants, p)
	r.metrics.Inc(metrics.ParticipantJoin)
	return JoinResult{
		SessionID:   rs.sessionID,
		Existing:    existing,
		Participant: p,
	}
}

// Leave removes the participant with socketID from roomID. It reports the
// removed entry and whether the room became empty (and was deleted).
//
// Unknown rooms and sockets are treated as already cleaned up.
func (r *Registry) Leave(roomID, socketID string) (Participant, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.rooms[roomID]
	if !ok {
		return Participant{}, false, false
	}

	for i := range rs.participants {
		if rs.participants[i].SocketID != socketID {
			continue
		}
		p := rs.participants[i]
		rs.participants = append(rs.participants[:i], rs.participants[i+1:]...)
		rs.lastActivity = r.clock.Now()
		r.metrics.Inc(metrics.ParticipantLeave)

		if len(rs.participants) == 0 {
			delete(r.rooms, roomID)
			r.metrics.Inc(metrics.RoomDeleted)
			return p, true, true
		}
		return p, true, false
	}
	return Participant{}, false, false
}

// Get returns a snapshot of the room.
func (r *Registry) Get(roomID string) (Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return Room{
		ID:           roomID,
		SessionID:    rs.sessionID,
		Participants: append([]Participant(nil), rs.participants...),
		LastActivity: rs.lastActivity,
	}, true
}

// Touch stamps the room's activity time. Relay and chat traffic call this so
// active rooms are never swept.
func (r *Registry) Touch(roomID string) {
	r.mu.Lock()
	if rs, ok := r.rooms[roomID]; ok {
		rs.lastActivity = r.clock.Now()
	}
	r.mu.Unlock()
}

// Sweep deletes rooms that have had zero participants for longer than the
// idle window. Empty rooms are normally deleted on the last leave; the sweep
// defends against missed cleanup. It returns the number of rooms removed.
func (r *Registry) Sweep() int {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, rs := range r.rooms {
		if len(rs.participants) == 0 && now.Sub(rs.lastActivity) > r.idleTimeout {
			delete(r.rooms, id)
			removed++
			r.metrics.Inc(metrics.RoomSwept)
		}
	}
	return removed
}

// RunSweeper runs Sweep on the given interval until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Rooms returns the number of live rooms.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
