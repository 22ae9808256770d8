package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/carelink/telecall/internal/room"
	"github.com/carelink/telecall/internal/signaling"
)

func (m *Manager) handleMessage(msg signaling.Message) {
	switch msg.Type {
	case signaling.MessageTypeExistingParticipants:
		m.handleRoster(msg)
	case signaling.MessageTypeUserJoined:
		m.handleUserJoined(msg)
	case signaling.MessageTypeUserReconnected:
		m.handleUserReconnected(msg)
	case signaling.MessageTypeUserLeft, signaling.MessageTypeUserDisconnected:
		m.handleUserGone(msg)
	case signaling.MessageTypeOffer:
		m.handleOffer(msg)
	case signaling.MessageTypeAnswer:
		m.handleAnswer(msg)
	case signaling.MessageTypeICECandidate:
		m.handleCandidate(msg)
	case signaling.MessageTypePeerNotFound:
		m.failPeer(msg.TargetID, fmt.Errorf("peer %s not reachable at relay", msg.TargetID))
	case signaling.MessageTypeHeartbeatResponse:
		// Liveness of the signaling link itself is the transport's read loop.
	case signaling.MessageTypeNewChatMessage:
		m.handleChat(msg)
	case signaling.MessageTypePeerToggleVideo:
		m.handleToggle(msg, TrackKindVideo)
	case signaling.MessageTypePeerToggleAudio:
		m.handleToggle(msg, TrackKindAudio)
	case signaling.MessageTypePeerStartedScreenShare:
		m.handlePeerScreenShare(msg, true)
	case signaling.MessageTypePeerStoppedScreenShare:
		m.handlePeerScreenShare(msg, false)
	case signaling.MessageTypeError:
		m.log.Warn("signaling error", "code", msg.Code, "detail", msg.Message)
	}
}

// handleRoster processes the join acknowledgement. The joiner initiates a
// connection to every participant already present; later joiners will
// initiate towards us instead.
func (m *Manager) handleRoster(msg signaling.Message) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.socketID = msg.SocketID
	m.sessionID = msg.SessionID
	self := room.Participant{
		SocketID: msg.SocketID,
		UserID:   m.cfg.Identity.UserID,
		UserName: m.cfg.Identity.UserName,
		UserType: m.cfg.Identity.UserType,
		JoinedAt: m.clock.Now(),
	}
	m.participants = append(append([]room.Participant{}, msg.Participants...), self)
	m.mu.Unlock()

	m.log.Info("joined room",
		"room_id", m.cfg.RoomID,
		"socket_id", msg.SocketID,
		"existing", len(msg.Participants),
	)
	m.emitParticipants()

	for _, p := range msg.Participants {
		m.createPeer(p.SocketID, room.Identity{
			UserID:   p.UserID,
			UserName: p.UserName,
			UserType: p.UserType,
		}, true)
	}
}

func (m *Manager) handleUserJoined(msg signaling.Message) {
	if msg.Participant == nil {
		return
	}
	m.mu.Lock()
	m.participants = append(m.participants, *msg.Participant)
	m.mu.Unlock()
	m.emitParticipants()
}

// handleUserReconnected swaps the roster entry to the fresh socket and drops
// the dead connection. The reconnecting side received the roster and will
// initiate towards us.
func (m *Manager) handleUserReconnected(msg signaling.Message) {
	if msg.Participant == nil {
		return
	}
	m.mu.Lock()
	for i := range m.participants {
		if m.participants[i].UserID == msg.Participant.UserID {
			m.participants[i] = *msg.Participant
			break
		}
	}
	m.mu.Unlock()
	m.emitParticipants()
	m.removePeer(msg.OldSocketID)
}

func (m *Manager) handleUserGone(msg signaling.Message) {
	m.mu.Lock()
	kept := m.participants[:0]
	for _, p := range m.participants {
		if p.SocketID != msg.SocketID {
			kept = append(kept, p)
		}
	}
	m.participants = kept
	m.mu.Unlock()
	m.emitParticipants()
	m.removePeer(msg.SocketID)
}

func (m *Manager) handleChat(msg signaling.Message) {
	chat := ChatMessage{
		ID:        msg.MessageID,
		Message:   msg.Message,
		UserName:  msg.UserName,
		UserType:  msg.UserType,
		Timestamp: time.UnixMilli(msg.Timestamp),
		SocketID:  msg.SocketID,
	}
	m.mu.Lock()
	m.chat = append(m.chat, chat)
	m.mu.Unlock()
	if m.cfg.Callbacks.OnChatMessage != nil {
		m.cfg.Callbacks.OnChatMessage(chat)
	}
}

func (m *Manager) handleToggle(msg signaling.Message, kind TrackKind) {
	if msg.Enabled == nil || m.cfg.Callbacks.OnPeerToggle == nil {
		return
	}
	m.cfg.Callbacks.OnPeerToggle(msg.From, kind, *msg.Enabled)
}

func (m *Manager) handlePeerScreenShare(msg signaling.Message, active bool) {
	if m.cfg.Callbacks.OnPeerScreenShare != nil {
		m.cfg.Callbacks.OnPeerScreenShare(msg.From, active)
	}
}

// createPeer enters a remote socket into the peer map and builds its
// connection. Calling it again while the peer is connecting or connected is a
// no-op; failure bookkeeping (attempt counter) survives across rebuilds.
func (m *Manager) createPeer(socketID string, id room.Identity, initiator bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if p, ok := m.peers[socketID]; ok && (p.state == StateConnecting || p.state == StateConnected) {
		m.mu.Unlock()
		return
	}

	p, ok := m.peers[socketID]
	if !ok {
		p = &remotePeer{socketID: socketID, identity: id}
		m.peers[socketID] = p
	}
	p.epoch++
	epoch := p.epoch
	p.state = StateConnecting
	p.lastActivity = m.clock.Now()
	p.pendingCandidates = nil
	p.cancelAckTimer()

	pc, videoSender, err := m.newPeerConnection(socketID, epoch)
	if err != nil {
		delete(m.peers, socketID)
		m.mu.Unlock()
		m.log.Error("create peer connection", "socket_id", socketID, "err", err)
		return
	}
	p.pc = pc
	p.videoSender = videoSender
	attempt := p.attempts
	m.mu.Unlock()

	m.log.Info("peer connecting",
		"socket_id", socketID,
		"user_id", id.UserID,
		"initiator", initiator,
		"attempt", attempt,
	)
	if initiator {
		m.negotiate(socketID, epoch)
	}
}

func (m *Manager) newPeerConnection(socketID string, epoch int) (*webrtc.PeerConnection, *webrtc.RTPSender, error) {
	pc, err := m.api.NewPeerConnection(webrtc.Configuration{ICEServers: m.cfg.ICEServers})
	if err != nil {
		return nil, nil, err
	}

	audioSender, err := pc.AddTrack(m.cfg.Media.AudioTrack())
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	videoTrack := m.cfg.Media.VideoTrack()
	if m.screenTrack != nil {
		videoTrack = m.screenTrack
	}
	videoSender, err := pc.AddTrack(videoTrack)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	go drainRTCP(audioSender)
	go drainRTCP(videoSender)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		_ = m.send(signaling.Message{
			Type:    signaling.MessageTypeICECandidate,
			To:      socketID,
			Payload: payload,
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.markConnected(socketID, epoch)
		if m.cfg.Callbacks.OnRemoteTrack != nil {
			m.cfg.Callbacks.OnRemoteTrack(socketID, track)
		}
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		switch st {
		case webrtc.PeerConnectionStateConnected:
			m.markConnected(socketID, epoch)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			m.failPeerEpoch(socketID, epoch, fmt.Errorf("connection state %s", st))
		case webrtc.PeerConnectionStateDisconnected:
			// Often transient; ICE either recovers or moves to failed.
			m.log.Warn("peer disconnected", "socket_id", socketID)
		}
	})

	return pc, videoSender, nil
}

// drainRTCP keeps interceptor feedback flowing for an outbound sender.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// negotiate sends the initial offer and arms the acknowledgement timeout.
func (m *Manager) negotiate(socketID string, epoch int) {
	m.mu.Lock()
	p, ok := m.peers[socketID]
	if !ok || p.epoch != epoch || p.pc == nil {
		m.mu.Unlock()
		return
	}
	pc := p.pc

	offer, err := pc.CreateOffer(nil)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err != nil {
		m.mu.Unlock()
		m.failPeerEpoch(socketID, epoch, fmt.Errorf("create offer: %w", err))
		return
	}
	p.cancelAck = m.sched.Schedule(m.cfg.signalAckTimeout(), func() {
		m.failPeerEpoch(socketID, epoch, fmt.Errorf("offer unanswered after %s", m.cfg.signalAckTimeout()))
	})
	m.mu.Unlock()

	payload, err := json.Marshal(offer)
	if err != nil {
		m.failPeerEpoch(socketID, epoch, err)
		return
	}
	if err := m.send(signaling.Message{
		Type:    signaling.MessageTypeOffer,
		To:      socketID,
		Payload: payload,
	}); err != nil {
		m.failPeerEpoch(socketID, epoch, err)
	}
}

func (m *Manager) handleOffer(msg signaling.Message) {
	m.createPeer(msg.From, m.identityFor(msg.From), false)

	m.mu.Lock()
	p, ok := m.peers[msg.From]
	if !ok || p.pc == nil {
		m.mu.Unlock()
		return
	}
	epoch := p.epoch
	pc := p.pc

	var remote webrtc.SessionDescription
	err := json.Unmarshal(msg.Payload, &remote)
	if err == nil {
		err = pc.SetRemoteDescription(remote)
	}
	var answer webrtc.SessionDescription
	if err == nil {
		answer, err = pc.CreateAnswer(nil)
	}
	if err == nil {
		err = pc.SetLocalDescription(answer)
	}
	pending := p.pendingCandidates
	p.pendingCandidates = nil
	m.mu.Unlock()

	if err != nil {
		m.failPeerEpoch(msg.From, epoch, fmt.Errorf("answer offer: %w", err))
		return
	}
	for _, c := range pending {
		_ = pc.AddICECandidate(c)
	}

	payload, err := json.Marshal(answer)
	if err != nil {
		m.failPeerEpoch(msg.From, epoch, err)
		return
	}
	if err := m.send(signaling.Message{
		Type:    signaling.MessageTypeAnswer,
		To:      msg.From,
		Payload: payload,
	}); err != nil {
		m.failPeerEpoch(msg.From, epoch, err)
	}
}

func (m *Manager) handleAnswer(msg signaling.Message) {
	m.mu.Lock()
	p, ok := m.peers[msg.From]
	if !ok || p.pc == nil {
		m.mu.Unlock()
		return
	}
	epoch := p.epoch
	pc := p.pc
	p.cancelAckTimer()

	var remote webrtc.SessionDescription
	err := json.Unmarshal(msg.Payload, &remote)
	if err == nil {
		err = pc.SetRemoteDescription(remote)
	}
	pending := p.pendingCandidates
	p.pendingCandidates = nil
	m.mu.Unlock()

	if err != nil {
		m.failPeerEpoch(msg.From, epoch, fmt.Errorf("apply answer: %w", err))
		return
	}
	for _, c := range pending {
		_ = pc.AddICECandidate(c)
	}
}

func (m *Manager) handleCandidate(msg signaling.Message) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Payload, &init); err != nil {
		return
	}

	m.mu.Lock()
	p, ok := m.peers[msg.From]
	if !ok {
		m.mu.Unlock()
		return
	}
	if p.pc == nil || p.pc.RemoteDescription() == nil {
		// Trickled ahead of the offer/answer; applied once the description
		// lands.
		p.pendingCandidates = append(p.pendingCandidates, init)
		m.mu.Unlock()
		return
	}
	pc := p.pc
	m.mu.Unlock()

	_ = pc.AddICECandidate(init)
}

func (m *Manager) markConnected(socketID string, epoch int) {
	m.mu.Lock()
	p, ok := m.peers[socketID]
	if !ok || p.epoch != epoch {
		m.mu.Unlock()
		return
	}
	already := p.state == StateConnected
	p.state = StateConnected
	p.attempts = 0
	p.lastActivity = m.clock.Now()
	p.cancelAckTimer()
	m.mu.Unlock()

	if already {
		return
	}
	m.log.Info("peer connected", "socket_id", socketID)
	if m.cfg.Callbacks.OnPeerConnected != nil {
		m.cfg.Callbacks.OnPeerConnected(socketID)
	}
}

// failPeer fails a peer at its current connection generation.
func (m *Manager) failPeer(socketID string, cause error) {
	m.mu.Lock()
	p, ok := m.peers[socketID]
	if !ok {
		m.mu.Unlock()
		return
	}
	epoch := p.epoch
	m.mu.Unlock()
	m.failPeerEpoch(socketID, epoch, cause)
}

// failPeerEpoch tears down one connection generation and either schedules a
// rebuild or, once the retry budget is spent, removes the peer entirely.
func (m *Manager) failPeerEpoch(socketID string, epoch int, cause error) {
	m.mu.Lock()
	p, ok := m.peers[socketID]
	if !ok || p.epoch != epoch || p.state == StateFailed {
		m.mu.Unlock()
		return
	}
	p.state = StateFailed
	p.cancelAckTimer()
	p.epoch++
	pc := p.pc
	p.pc = nil
	p.videoSender = nil
	p.pendingCandidates = nil

	if !m.cfg.Retry.Allows(p.attempts) {
		attempts := p.attempts
		delete(m.peers, socketID)
		p.cancelTimers()
		m.mu.Unlock()
		if pc != nil {
			_ = pc.Close()
		}
		m.log.Warn("peer abandoned",
			"socket_id", socketID,
			"attempts", attempts,
			"err", cause,
		)
		m.emitPeerGone(socketID)
		return
	}

	p.attempts++
	attempt := p.attempts
	delay := m.cfg.Retry.Delay(attempt)
	p.cancelRetry = m.sched.Schedule(delay, func() { m.retryPeer(socketID) })
	m.mu.Unlock()

	if pc != nil {
		_ = pc.Close()
	}
	m.log.Warn("peer failed, rebuilding",
		"socket_id", socketID,
		"attempt", attempt,
		"delay", delay,
		"err", cause,
	)
}

func (m *Manager) retryPeer(socketID string) {
	m.mu.Lock()
	p, ok := m.peers[socketID]
	if !ok || p.state != StateFailed {
		m.mu.Unlock()
		return
	}
	p.cancelRetry = nil
	id := p.identity
	m.mu.Unlock()

	m.createPeer(socketID, id, true)
}

// removePeer drops a peer without retry, as on departure or replacement.
func (m *Manager) removePeer(socketID string) {
	m.mu.Lock()
	p, ok := m.peers[socketID]
	if !ok {
		m.mu.Unlock()
		return
	}
	p.cancelTimers()
	p.epoch++
	pc := p.pc
	delete(m.peers, socketID)
	m.mu.Unlock()

	if pc != nil {
		_ = pc.Close()
	}
	m.emitPeerGone(socketID)
}

// transportLost handles the signaling link itself dropping. The server has no
// memory of our peer-level state across the gap, so every peer connection is
// torn down and the room is rejoined from scratch.
func (m *Manager) transportLost(cause error) {
	m.mu.Lock()
	if m.closed || m.transport == nil {
		m.mu.Unlock()
		return
	}
	m.transport = nil
	m.socketID = ""
	if m.hbCancel != nil {
		m.hbCancel()
		m.hbCancel = nil
	}
	gone, toClose := m.teardownPeersLocked()
	m.participants = nil
	m.mu.Unlock()

	m.log.Warn("signaling transport lost, rejoining", "err", cause)
	for _, pc := range toClose {
		_ = pc.Close()
	}
	for _, id := range gone {
		m.emitPeerGone(id)
	}
	m.emitParticipants()
	m.scheduleRedial(1)
}

func (m *Manager) scheduleRedial(attempt int) {
	m.sched.Schedule(m.cfg.Retry.Delay(attempt), func() {
		m.mu.Lock()
		if m.closed || m.transport != nil {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		t, err := m.cfg.Dial(ctx, m.handleMessage, m.transportLost)
		if err != nil {
			if m.cfg.Retry.Allows(attempt) {
				m.scheduleRedial(attempt + 1)
				return
			}
			m.emitSessionError(fmt.Errorf("signaling reconnect gave up after %d attempts: %w", attempt, err))
			return
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			_ = t.Close()
			return
		}
		m.transport = t
		m.startHeartbeatLocked()
		m.mu.Unlock()

		_ = t.Send(m.joinMessage())
	})
}

func (m *Manager) identityFor(socketID string) room.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.SocketID == socketID {
			return room.Identity{UserID: p.UserID, UserName: p.UserName, UserType: p.UserType}
		}
	}
	return room.Identity{}
}
