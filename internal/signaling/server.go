package signaling

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/carelink/telecall/internal/metrics"
	"github.com/carelink/telecall/internal/ratelimit"
	"github.com/carelink/telecall/internal/room"
	"github.com/carelink/telecall/internal/store"
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Registry *room.Registry
	Tracker  *room.Tracker
	Metrics  *metrics.Metrics
	Store    store.Sink
	Logger   *slog.Logger
	Clock    ratelimit.Clock

	// HeartbeatTimeout is how long a socket may stay silent before the sweep
	// treats it as dead. HeartbeatSweepInterval is how often the sweep runs.
	HeartbeatTimeout       time.Duration
	HeartbeatSweepInterval time.Duration

	// Inbound hardening.
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// CheckOrigin guards the WebSocket upgrade. Nil allows every origin;
	// deployments wire an origin.Policy here.
	CheckOrigin func(r *http.Request) bool
}

// Server relays signaling events between room participants.
//
// It owns no media and never interprets relayed payloads. Room membership
// lives in the Registry; per-socket context lives in the Tracker. Every
// handler that touches those fails closed: a missing entry means the socket
// was already cleaned up, not an error.
type Server struct {
	registry *room.Registry
	tracker  *room.Tracker
	metrics  *metrics.Metrics
	sink     store.Sink
	log      *slog.Logger
	clock    ratelimit.Clock

	heartbeatTimeout       time.Duration
	heartbeatSweepInterval time.Duration

	maxMsgBytes int64
	maxMsgRate  int

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*wsConn
}

func NewServer(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	sink := cfg.Store
	if sink == nil {
		sink = store.NopSink{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = room.NewRegistry(5*time.Minute, m, clock)
	}
	tr := cfg.Tracker
	if tr == nil {
		tr = room.NewTracker(clock)
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Server{
		registry: reg,
		tracker:  tr,
		metrics:  m,
		sink:     sink,
		log:      log,
		clock:    clock,

		heartbeatTimeout:       cfg.HeartbeatTimeout,
		heartbeatSweepInterval: cfg.HeartbeatSweepInterval,

		maxMsgBytes: cfg.MaxMessageBytes,
		maxMsgRate:  cfg.MaxMessagesPerSecond,

		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin,
		},

		conns: make(map[string]*wsConn),
	}
}

func (s *Server) Registry() *room.Registry { return s.registry }
func (s *Server) Tracker() *room.Tracker { return s.tracker }
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

func (s *Server) maxMessageBytes() int64 {
	if s.maxMsgBytes <= 0 {
		return 64 * 1024
	}
	return s.maxMsgBytes
}

func (s *Server) maxMessagesPerSecond() int {
	if s.maxMsgRate <= 0 {
		return 50
	}
	return s.maxMsgRate
}

func (s *Server) sweepInterval() time.Duration {
	if s.heartbeatSweepInterval <= 0 {
		return 30 * time.Second
	}
	return s.heartbeatSweepInterval
}

func (s *Server) timeout() time.Duration {
	if s.heartbeatTimeout <= 0 {
		return time.Minute
	}
	return s.heartbeatTimeout
}

// ServeHTTP upgrades the request to a WebSocket signaling connection and
// assigns it a fresh socket id.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newWSConn(s, conn, uuid.NewString())

	s.mu.Lock()
	if s.conns == nil {
		// Server already closed.
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[c.socketID] = c
	s.mu.Unlock()

	go c.writePump()
	c.readPump()
}

// RunHeartbeatSweeper periodically expires silent sockets, running the same
// disconnect-cleanup path as a transport close with canReconnect=true.
func (s *Server) RunHeartbeatSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepHeartbeats()
		}
	}
}

func (s *Server) sweepHeartbeats() {
	for _, socketID := range s.tracker.Expired(s.timeout()) {
		s.metrics.Inc(metrics.HeartbeatTimeout)
		s.log.Info("heartbeat timeout", "socket_id", socketID)
		s.disconnect(socketID, true)
		if c := s.connFor(socketID); c != nil {
			s.dropConn(c)
			c.close()
		}
	}
}

// Close tears down every live signaling connection.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (s *Server) connFor(socketID string) *wsConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[socketID]
}

func (s *Server) dropConn(c *wsConn) {
	s.mu.Lock()
	if s.conns != nil && s.conns[c.socketID] == c {
		delete(s.conns, c.socketID)
	}
	s.mu.Unlock()
}

func (s *Server) dispatch(c *wsConn, msg Message) {
	switch msg.Type {
	case MessageTypeJoinRoom:
		s.handleJoin(c, msg)
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeICECandidate:
		s.handleRelay(c, msg)
	case MessageTypeHeartbeat:
		s.handleHeartbeat(c, msg)
	case MessageTypeChatMessage:
		s.handleChat(c, msg)
	case MessageTypeToggleVideo, MessageTypeToggleAudio:
		s.handleToggle(c, msg)
	case MessageTypeStartScreenShare, MessageTypeStopScreenShare:
		s.handleScreenShare(c, msg)
	case MessageTypeLeaveRoom:
		// Explicit departure is not recoverable.
		s.disconnect(c.socketID, false)
	}
}

func (s *Server) handleJoin(c *wsConn, msg Message) {
	if _, joined := s.tracker.RoomOf(c.socketID); joined {
		c.enqueue(Message{
			Type:    MessageTypeError,
			Code:    "already_joined",
			Message: "socket is already in a room",
		})
		return
	}

	res := s.registry.Join(msg.RoomID, room.Participant{
		SocketID: c.socketID,
		UserID:   msg.UserID,
		UserName: msg.UserName,
		UserType: msg.UserType,
	})
	s.tracker.Register(c.socketID, msg.RoomID, room.Identity{
		UserID:   msg.UserID,
		UserName: msg.UserName,
		UserType: msg.UserType,
	})

	if res.Reconnected && res.OldSocketID != c.socketID {
		// The previous transport connection is stale. Drop it quietly; its
		// registry entry was already replaced, so its eventual close runs into
		// an already-purged tracker and broadcasts nothing.
		s.tracker.Purge(res.OldSocketID)
		if old := s.connFor(res.OldSocketID); old != nil {
			s.dropConn(old)
			old.close()
		}
	}

	c.enqueue(Message{
		Type:         MessageTypeExistingParticipants,
		SocketID:     c.socketID,
		SessionID:    res.SessionID,
		Participants: res.Existing,
	})

	p := res.Participant
	if res.Reconnected {
		s.log.Info("participant reconnected",
			"room_id", msg.RoomID,
			"user_id", msg.UserID,
			"old_socket_id", res.OldSocketID,
			"socket_id", c.socketID,
		)
		s.broadcast(msg.RoomID, c.socketID, Message{
			Type:        MessageTypeUserReconnected,
			Participant: &p,
			OldSocketID: res.OldSocketID,
			SocketID:    c.socketID,
		})
	} else {
		s.log.Info("participant joined",
			"room_id", msg.RoomID,
			"user_id", msg.UserID,
			"socket_id", c.socketID,
		)
		s.broadcast(msg.RoomID, c.socketID, Message{
			Type:        MessageTypeUserJoined,
			Participant: &p,
			SocketID:    c.socketID,
		})
	}

	event := store.EventJoined
	if res.Reconnected {
		event = store.EventReconnected
	}
	s.record(store.SessionRecord{
		SessionID: res.SessionID,
		RoomID:    msg.RoomID,
		StartedAt: p.JoinedAt,
	}, store.ConnectionRecord{
		SessionID: res.SessionID,
		RoomID:    msg.RoomID,
		SocketID:  c.socketID,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		UserType:  msg.UserType,
		Event:     event,
		At:        s.clock.Now(),
	})
}

// handleRelay forwards an offer/answer/candidate payload to the target
// socket unmodified, rewriting the envelope from {to} to {from}.
func (s *Server) handleRelay(c *wsConn, msg Message) {
	roomID, ok := s.tracker.RoomOf(c.socketID)
	if !ok {
		c.enqueue(Message{
			Type:    MessageTypeError,
			Code:    "not_joined",
			Message: "join a room before signaling",
		})
		return
	}
	s.registry.Touch(roomID)

	target := s.connFor(msg.To)
	if target == nil {
		s.metrics.Inc(metrics.PeerNotFound)
		c.enqueue(Message{
			Type:     MessageTypePeerNotFound,
			TargetID: msg.To,
		})
		return
	}

	s.metrics.Inc(metrics.SignalRelayed)
	target.enqueue(Message{
		Type:    msg.Type,
		Payload: msg.Payload,
		From:    c.socketID,
	})
}

func (s *Server) handleHeartbeat(c *wsConn, msg Message) {
	s.metrics.Inc(metrics.HeartbeatReceived)
	// An untracked socket's heartbeat is a no-op; it was already cleaned up.
	s.tracker.Heartbeat(c.socketID)
	c.enqueue(Message{
		Type:      MessageTypeHeartbeatResponse,
		Timestamp: s.clock.Now().UnixMilli(),
	})
}

func (s *Server) handleChat(c *wsConn, msg Message) {
	roomID, ok := s.tracker.RoomOf(c.socketID)
	if !ok {
		return
	}
	id, _ := s.tracker.IdentityOf(c.socketID)
	s.registry.Touch(roomID)
	s.metrics.Inc(metrics.ChatBroadcast)

	// Chat is broadcast to the whole room, sender included, so every
	// participant renders the same ordered log.
	s.broadcast(roomID, "", Message{
		Type:      MessageTypeNewChatMessage,
		MessageID: uuid.NewString(),
		Message:   msg.Message,
		UserName:  id.UserName,
		UserType:  id.UserType,
		SocketID:  c.socketID,
		Timestamp: s.clock.Now().UnixMilli(),
	})
}

func (s *Server) handleToggle(c *wsConn, msg Message) {
	roomID, ok := s.tracker.RoomOf(c.socketID)
	if !ok {
		return
	}

	out := MessageTypePeerToggleVideo
	if msg.Type == MessageTypeToggleAudio {
		out = MessageTypePeerToggleAudio
	}
	s.broadcast(roomID, c.socketID, Message{
		Type:    out,
		From:    c.socketID,
		Enabled: msg.Enabled,
	})
}

func (s *Server) handleScreenShare(c *wsConn, msg Message) {
	roomID, ok := s.tracker.RoomOf(c.socketID)
	if !ok {
		return
	}

	out := MessageTypePeerStartedScreenShare
	if msg.Type == MessageTypeStopScreenShare {
		out = MessageTypePeerStoppedScreenShare
	}
	s.broadcast(roomID, c.socketID, Message{
		Type: out,
		From: c.socketID,
	})
}

// disconnect runs the single cleanup path shared by explicit leave, transport
// close, and heartbeat timeout. It is idempotent: the tracker purge succeeds
// at most once per socket.
func (s *Server) disconnect(socketID string, canReconnect bool) {
	roomID, id, ok := s.tracker.Purge(socketID)
	if !ok {
		return
	}

	sessionID := ""
	if snap, found := s.registry.Get(roomID); found {
		sessionID = snap.SessionID
	}

	p, found, empty := s.registry.Leave(roomID, socketID)
	if !found {
		// The registry entry was already replaced by a rejoin; nothing to
		// announce.
		return
	}

	evType := MessageTypeUserDisconnected
	event := store.EventDisconnected
	if !canReconnect {
		evType = MessageTypeUserLeft
		event = store.EventLeft
	}

	s.log.Info("participant disconnected",
		"room_id", roomID,
		"user_id", p.UserID,
		"socket_id", socketID,
		"can_reconnect", canReconnect,
		"room_empty", empty,
	)

	if !empty {
		s.broadcast(roomID, socketID, Message{
			Type:         evType,
			Participant:  &p,
			SocketID:     socketID,
			CanReconnect: ptr(canReconnect),
		})
	}

	s.record(store.SessionRecord{}, store.ConnectionRecord{
		SessionID: sessionID,
		RoomID:    roomID,
		SocketID:  socketID,
		UserID:    id.UserID,
		UserName:  id.UserName,
		UserType:  id.UserType,
		Event:     event,
		At:        s.clock.Now(),
	})
}

// broadcast sends msg to every participant of roomID except exceptSocketID
// (empty means no exclusion).
func (s *Server) broadcast(roomID, exceptSocketID string, msg Message) {
	snap, ok := s.registry.Get(roomID)
	if !ok {
		return
	}
	for _, p := range snap.Participants {
		if p.SocketID == exceptSocketID {
			continue
		}
		if c := s.connFor(p.SocketID); c != nil {
			c.enqueue(msg)
		}
	}
}

// record persists session/connection events without blocking the caller.
// Persistence is best-effort: failures are logged and never affect relaying.
func (s *Server) record(sess store.SessionRecord, conn store.ConnectionRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if sess.SessionID != "" {
			if err := s.sink.RecordSession(ctx, sess); err != nil {
				s.log.Warn("record session failed", "session_id", sess.SessionID, "err", err)
			}
		}
		if conn.Event != "" {
			if err := s.sink.RecordConnection(ctx, conn); err != nil {
				s.log.Warn("record connection failed", "socket_id", conn.SocketID, "err", err)
			}
		}
	}()
}
