package peer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/carelink/telecall/internal/ratelimit"
	"github.com/carelink/telecall/internal/room"
	"github.com/carelink/telecall/internal/signaling"
)

// TrackKind distinguishes media toggles.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// ChatMessage is one room-broadcast chat entry. Ephemeral, never persisted.
type ChatMessage struct {
	ID        string
	Message   string
	UserName  string
	UserType  string
	Timestamp time.Time
	SocketID  string
}

// Callbacks is how the Manager hands state back to the embedding UI layer.
// Every field is optional. Callbacks run off the Manager's lock; they may call
// back into the Manager but must not block indefinitely.
type Callbacks struct {
	// OnRemoteTrack fires for each inbound media track of a remote peer.
	OnRemoteTrack func(socketID string, track *webrtc.TrackRemote)
	// OnPeerConnected fires when a peer connection first goes live.
	OnPeerConnected func(socketID string)
	// OnPeerGone fires when a peer and its media are removed for good: the
	// renderer should drop that tile.
	OnPeerGone func(socketID string)
	// OnParticipants fires with the full room roster after every change.
	OnParticipants func([]room.Participant)
	OnChatMessage  func(ChatMessage)
	OnPeerToggle   func(socketID string, kind TrackKind, enabled bool)
	// OnPeerScreenShare reports a remote participant starting or stopping a
	// screen share.
	OnPeerScreenShare func(socketID string, active bool)
	// OnSessionError reports a terminal session-wide failure, such as the
	// signaling transport staying unreachable past the retry budget.
	OnSessionError func(err error)
}

// Config configures a call session.
type Config struct {
	RoomID   string
	Identity room.Identity

	// Dial connects to the signaling server, typically WebSocketTransport.
	Dial TransportFactory
	// Media supplies the local outbound tracks. Required.
	Media MediaSource
	// CaptureScreen acquires a screen-capture track on demand. Optional;
	// without it StartScreenShare fails.
	CaptureScreen CaptureFunc

	ICEServers []webrtc.ICEServer

	Retry     RetryPolicy
	Scheduler Scheduler
	Clock     ratelimit.Clock

	HeartbeatInterval time.Duration
	// LivenessTimeout fails a peer stuck negotiating with no progress.
	LivenessTimeout time.Duration
	// SignalAckTimeout fails an initiated connection whose offer draws no
	// answer.
	SignalAckTimeout time.Duration

	Logger        *slog.Logger
	LoggerFactory logging.LoggerFactory
	// SettingEngine overrides transport internals, used by virtual-network
	// tests.
	SettingEngine *webrtc.SettingEngine

	Callbacks Callbacks
}

func (c *Config) scheduler() Scheduler {
	if c.Scheduler == nil {
		return TimerScheduler{}
	}
	return c.Scheduler
}

func (c *Config) clock() ratelimit.Clock {
	if c.Clock == nil {
		return ratelimit.RealClock{}
	}
	return c.Clock
}

func (c *Config) heartbeatInterval() time.Duration {
	if c.HeartbeatInterval <= 0 {
		return 30 * time.Second
	}
	return c.HeartbeatInterval
}

func (c *Config) livenessTimeout() time.Duration {
	if c.LivenessTimeout <= 0 {
		return time.Minute
	}
	return c.LivenessTimeout
}

func (c *Config) signalAckTimeout() time.Duration {
	if c.SignalAckTimeout <= 0 {
		return 10 * time.Second
	}
	return c.SignalAckTimeout
}

// Manager owns every peer connection of one call participant.
type Manager struct {
	cfg   Config
	log   *slog.Logger
	sched Scheduler
	clock ratelimit.Clock
	api   *webrtc.API

	mu           sync.Mutex
	closed       bool
	transport    Transport
	socketID     string
	sessionID    string
	peers        map[string]*remotePeer
	participants []room.Participant
	chat         []ChatMessage
	screenTrack  webrtc.TrackLocal
	hbCancel     CancelFunc
}

func New(cfg Config) (*Manager, error) {
	if cfg.RoomID == "" {
		return nil, fmt.Errorf("room id is required")
	}
	if cfg.Identity.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if cfg.Dial == nil {
		return nil, fmt.Errorf("transport factory is required")
	}
	if cfg.Media == nil {
		return nil, fmt.Errorf("media source is required")
	}

	api, err := newAPI(cfg.LoggerFactory, cfg.SettingEngine)
	if err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Manager{
		cfg:   cfg,
		log:   log,
		sched: cfg.scheduler(),
		clock: cfg.clock(),
		api:   api,
		peers: make(map[string]*remotePeer),
	}, nil
}

// Join connects to the signaling server and enters the room. Peer connections
// to participants already present are initiated as soon as the server replies
// with the roster.
func (m *Manager) Join(ctx context.Context) error {
	t, err := m.cfg.Dial(ctx, m.handleMessage, m.transportLost)
	if err != nil {
		return fmt.Errorf("dial signaling: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = t.Close()
		return fmt.Errorf("session is closed")
	}
	m.transport = t
	m.startHeartbeatLocked()
	m.mu.Unlock()

	return t.Send(m.joinMessage())
}

func (m *Manager) joinMessage() signaling.Message {
	return signaling.Message{
		Type:     signaling.MessageTypeJoinRoom,
		RoomID:   m.cfg.RoomID,
		UserID:   m.cfg.Identity.UserID,
		UserName: m.cfg.Identity.UserName,
		UserType: m.cfg.Identity.UserType,
	}
}

// Leave departs gracefully. The server broadcasts a non-reconnectable
// user-left; all local peer state is torn down.
func (m *Manager) Leave() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	t := m.transport
	m.transport = nil
	if m.hbCancel != nil {
		m.hbCancel()
		m.hbCancel = nil
	}
	_, toClose := m.teardownPeersLocked()
	m.mu.Unlock()

	if t != nil {
		_ = t.Send(signaling.Message{Type: signaling.MessageTypeLeaveRoom})
		_ = t.Close()
	}
	for _, pc := range toClose {
		_ = pc.Close()
	}
}

// teardownPeersLocked cancels every peer's timers and empties the peer map,
// returning the removed ids and the connections for the caller to close
// outside the lock.
func (m *Manager) teardownPeersLocked() ([]string, []*webrtc.PeerConnection) {
	var ids []string
	var pcs []*webrtc.PeerConnection
	for id, p := range m.peers {
		p.cancelTimers()
		p.epoch++
		if p.pc != nil {
			pcs = append(pcs, p.pc)
		}
		ids = append(ids, id)
		delete(m.peers, id)
	}
	return ids, pcs
}

// SendChat broadcasts a chat message to the room, sender included.
func (m *Manager) SendChat(text string) error {
	return m.send(signaling.Message{
		Type:     signaling.MessageTypeChatMessage,
		RoomID:   m.cfg.RoomID,
		Message:  text,
		UserName: m.cfg.Identity.UserName,
		UserType: m.cfg.Identity.UserType,
	})
}

// SetVideoEnabled announces the local camera being muted or unmuted.
func (m *Manager) SetVideoEnabled(enabled bool) error {
	return m.sendToggle(signaling.MessageTypeToggleVideo, enabled)
}

// SetAudioEnabled announces the local microphone being muted or unmuted.
func (m *Manager) SetAudioEnabled(enabled bool) error {
	return m.sendToggle(signaling.MessageTypeToggleAudio, enabled)
}

func (m *Manager) sendToggle(t signaling.MessageType, enabled bool) error {
	e := enabled
	return m.send(signaling.Message{Type: t, RoomID: m.cfg.RoomID, Enabled: &e})
}

// StartScreenShare acquires a capture track and swaps it onto the outbound
// video sender of every live peer connection without renegotiating. Audio and
// established peers are unaffected. Capture failure is returned to the caller
// and never retried silently.
func (m *Manager) StartScreenShare(ctx context.Context) error {
	if m.cfg.CaptureScreen == nil {
		return fmt.Errorf("screen capture is not configured")
	}

	m.mu.Lock()
	already := m.screenTrack != nil
	m.mu.Unlock()
	if already {
		return nil
	}

	track, err := m.cfg.CaptureScreen(ctx)
	if err != nil {
		return fmt.Errorf("acquire screen capture: %w", err)
	}

	m.mu.Lock()
	if m.closed || m.screenTrack != nil {
		m.mu.Unlock()
		return nil
	}
	m.screenTrack = track
	err = m.replaceVideoLocked(track)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	return m.send(signaling.Message{Type: signaling.MessageTypeStartScreenShare, RoomID: m.cfg.RoomID})
}

// StopScreenShare reverts every outbound video sender to the camera track.
// The embedding application also calls this when the platform reports the
// capture was ended natively.
func (m *Manager) StopScreenShare() error {
	m.mu.Lock()
	if m.screenTrack == nil {
		m.mu.Unlock()
		return nil
	}
	m.screenTrack = nil
	err := m.replaceVideoLocked(m.cfg.Media.VideoTrack())
	m.mu.Unlock()
	if err != nil {
		return err
	}

	return m.send(signaling.Message{Type: signaling.MessageTypeStopScreenShare, RoomID: m.cfg.RoomID})
}

func (m *Manager) replaceVideoLocked(track webrtc.TrackLocal) error {
	for id, p := range m.peers {
		if p.videoSender == nil {
			continue
		}
		if err := p.videoSender.ReplaceTrack(track); err != nil {
			return fmt.Errorf("replace video track for %s: %w", id, err)
		}
	}
	return nil
}

// ScreenSharing reports whether a capture track is currently outbound.
func (m *Manager) ScreenSharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screenTrack != nil
}

// SocketID returns the transport identity assigned by the server, empty until
// the join handshake completes.
func (m *Manager) SocketID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socketID
}

func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Participants returns a snapshot of the room roster, self included.
func (m *Manager) Participants() []room.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]room.Participant, len(m.participants))
	copy(out, m.participants)
	return out
}

// ChatLog returns a snapshot of the chat history for this session.
func (m *Manager) ChatLog() []ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatMessage, len(m.chat))
	copy(out, m.chat)
	return out
}

// PeerState reports the connection state for a remote socket, StateAbsent if
// untracked.
func (m *Manager) PeerState(socketID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[socketID]; ok {
		return p.state
	}
	return StateAbsent
}

// send snapshots the current transport and writes outside the lock.
func (m *Manager) send(msg signaling.Message) error {
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	if t == nil {
		return fmt.Errorf("signaling transport is down")
	}
	return t.Send(msg)
}

func (m *Manager) startHeartbeatLocked() {
	var tick func()
	tick = func() {
		m.mu.Lock()
		if m.closed || m.transport == nil {
			m.mu.Unlock()
			return
		}
		t := m.transport
		now := m.clock.Now()
		var stalled []string
		for id, p := range m.peers {
			if p.state == StateConnecting && now.Sub(p.lastActivity) > m.cfg.livenessTimeout() {
				stalled = append(stalled, id)
			}
		}
		m.hbCancel = m.sched.Schedule(m.cfg.heartbeatInterval(), tick)
		m.mu.Unlock()

		_ = t.Send(signaling.Message{
			Type:      signaling.MessageTypeHeartbeat,
			RoomID:    m.cfg.RoomID,
			Timestamp: now.UnixMilli(),
		})
		for _, id := range stalled {
			m.failPeer(id, fmt.Errorf("no negotiation progress within %s", m.cfg.livenessTimeout()))
		}
	}
	m.hbCancel = m.sched.Schedule(m.cfg.heartbeatInterval(), tick)
}

func (m *Manager) emitParticipants() {
	if m.cfg.Callbacks.OnParticipants == nil {
		return
	}
	m.cfg.Callbacks.OnParticipants(m.Participants())
}

func (m *Manager) emitPeerGone(socketID string) {
	if m.cfg.Callbacks.OnPeerGone != nil {
		m.cfg.Callbacks.OnPeerGone(socketID)
	}
}

func (m *Manager) emitSessionError(err error) {
	m.log.Error("session failed", "err", err)
	if m.cfg.Callbacks.OnSessionError != nil {
		m.cfg.Callbacks.OnSessionError(err)
	}
}
