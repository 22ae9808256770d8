package metrics

import "sync"

// Event counter names. Each corresponds to one observable lifecycle or relay
// event in the signaling core.
const (
	RoomCreated       = "room_created"
	RoomDeleted       = "room_deleted"
	RoomSwept         = "room_swept"
	ParticipantJoin   = "participant_join"
	ParticipantRejoin = "participant_rejoin"
	ParticipantLeave  = "participant_leave"

	SignalRelayed     = "signal_relayed"
	PeerNotFound      = "peer_not_found"
	ChatBroadcast     = "chat_broadcast"
	HeartbeatReceived = "heartbeat_received"
	HeartbeatTimeout  = "heartbeat_timeout"

	DropReasonRateLimited = "rate_limited"
	DropReasonBadMessage  = "bad_message"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A deployment is expected to scrape these through PrometheusHandler; the
// registry itself stays dependency-free so protocol logic remains testable.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
