package peer

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/carelink/telecall/internal/room"
)

// State is the lifecycle of one remote peer connection.
type State int

const (
	StateAbsent State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// remotePeer is the Manager's bookkeeping for one remote participant.
//
// epoch distinguishes connection generations: callbacks registered on a torn
// down *webrtc.PeerConnection may still fire, and must not affect the fresh
// connection that replaced it.
type remotePeer struct {
	socketID string
	identity room.Identity

	pc          *webrtc.PeerConnection
	videoSender *webrtc.RTPSender

	state        State
	epoch        int
	attempts     int
	lastActivity time.Time

	// Candidates that arrived before the remote description was set.
	pendingCandidates []webrtc.ICECandidateInit

	cancelRetry CancelFunc
	cancelAck   CancelFunc
}

func (p *remotePeer) cancelTimers() {
	if p.cancelRetry != nil {
		p.cancelRetry()
		p.cancelRetry = nil
	}
	p.cancelAckTimer()
}

func (p *remotePeer) cancelAckTimer() {
	if p.cancelAck != nil {
		p.cancelAck()
		p.cancelAck = nil
	}
}
