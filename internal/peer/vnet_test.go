package peer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/carelink/telecall/internal/room"
	"github.com/carelink/telecall/internal/signaling"
)

// switchboard is a tiny in-memory stand-in for the signaling server. It
// assigns socket ids, answers join-room with the current roster, and forwards
// offer, answer and ice-candidate envelopes between seats with From rewritten,
// which is exactly the relay contract two Managers need to negotiate.
type switchboard struct {
	mu    sync.Mutex
	seats map[string]*seat
	next  int
}

func newSwitchboard() *switchboard {
	return &switchboard{seats: make(map[string]*seat)}
}

type seat struct {
	board     *switchboard
	socketID  string
	identity  room.Participant
	joined    bool
	inbox     chan signaling.Message
	done      chan struct{}
	closeOnce sync.Once
}

func (b *switchboard) dial() TransportFactory {
	return func(_ context.Context, onMessage func(signaling.Message), _ func(error)) (Transport, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.next++
		s := &seat{
			board:    b,
			socketID: fmt.Sprintf("vsock-%d", b.next),
			inbox:    make(chan signaling.Message, 256),
			done:     make(chan struct{}),
		}
		b.seats[s.socketID] = s
		go s.pump(onMessage)
		return s, nil
	}
}

// pump delivers inbound messages in order on a dedicated goroutine so the
// switchboard never runs Manager handlers while holding its own lock.
func (s *seat) pump(onMessage func(signaling.Message)) {
	for {
		select {
		case msg := <-s.inbox:
			onMessage(msg)
		case <-s.done:
			return
		}
	}
}

func (s *seat) enqueue(msg signaling.Message) {
	select {
	case s.inbox <- msg:
	case <-s.done:
	}
}

func (s *seat) Send(msg signaling.Message) error {
	b := s.board
	b.mu.Lock()
	defer b.mu.Unlock()

	switch msg.Type {
	case signaling.MessageTypeJoinRoom:
		s.identity = room.Participant{
			SocketID: s.socketID,
			UserID:   msg.UserID,
			UserName: msg.UserName,
			UserType: msg.UserType,
		}
		s.joined = true
		var existing []room.Participant
		for _, other := range b.seats {
			if other != s && other.joined {
				existing = append(existing, other.identity)
			}
		}
		s.enqueue(signaling.Message{
			Type:         signaling.MessageTypeExistingParticipants,
			SocketID:     s.socketID,
			SessionID:    "vsess-" + s.socketID,
			Participants: existing,
		})
		joined := s.identity
		for _, other := range b.seats {
			if other != s && other.joined {
				other.enqueue(signaling.Message{
					Type:        signaling.MessageTypeUserJoined,
					Participant: &joined,
				})
			}
		}
	case signaling.MessageTypeOffer, signaling.MessageTypeAnswer, signaling.MessageTypeICECandidate:
		dst := b.seats[msg.To]
		if dst == nil || !dst.joined {
			s.enqueue(signaling.Message{Type: signaling.MessageTypePeerNotFound, TargetID: msg.To})
			return nil
		}
		fwd := msg
		fwd.To = ""
		fwd.From = s.socketID
		dst.enqueue(fwd)
	}
	return nil
}

func (s *seat) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.board.mu.Lock()
	delete(s.board.seats, s.socketID)
	s.board.mu.Unlock()
	return nil
}

func newVNetManager(t *testing.T, board *switchboard, n *vnet.Net, userID string, cb Callbacks) (*Manager, *StaticMedia) {
	t.Helper()
	media, err := NewStaticMedia(userID)
	if err != nil {
		t.Fatalf("NewStaticMedia error: %v", err)
	}
	se := webrtc.SettingEngine{}
	se.SetNet(n)
	m, err := New(Config{
		RoomID:   "vnet-room",
		Identity: room.Identity{UserID: userID, UserName: userID, UserType: "provider"},
		Dial:     board.dial(),
		Media:    media,
		// The handshake runs on real DTLS timing; keep the ack timer out of
		// the way so a slow machine cannot trip a spurious rebuild.
		SignalAckTimeout: 30 * time.Second,
		SettingEngine:    &se,
		Callbacks:        cb,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(m.Leave)
	return m, media
}

// feedVideo pushes VP8 samples until the test ends so remote OnTrack fires.
func feedVideo(t *testing.T, m *StaticMedia) {
	t.Helper()
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		payload := []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}
		for {
			select {
			case <-ticker.C:
				_ = m.WriteVideoSample(media.Sample{Data: payload, Duration: 20 * time.Millisecond})
			case <-done:
				return
			}
		}
	}()
}

func TestManager_ConnectsOverVirtualNetwork(t *testing.T) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	board := newSwitchboard()

	connectedA := make(chan string, 1)
	trackA := make(chan string, 1)
	mgrA, mediaA := newVNetManager(t, board, netA, "u-alice", Callbacks{
		OnPeerConnected: func(id string) {
			select {
			case connectedA <- id:
			default:
			}
		},
		OnRemoteTrack: func(id string, _ *webrtc.TrackRemote) {
			select {
			case trackA <- id:
			default:
			}
		},
	})

	connectedB := make(chan string, 1)
	trackB := make(chan string, 1)
	mgrB, mediaB := newVNetManager(t, board, netB, "u-bob", Callbacks{
		OnPeerConnected: func(id string) {
			select {
			case connectedB <- id:
			default:
			}
		},
		OnRemoteTrack: func(id string, _ *webrtc.TrackRemote) {
			select {
			case trackB <- id:
			default:
			}
		},
	})

	if err := mgrA.Join(context.Background()); err != nil {
		t.Fatalf("join A: %v", err)
	}
	if err := mgrB.Join(context.Background()); err != nil {
		t.Fatalf("join B: %v", err)
	}

	feedVideo(t, mediaA)
	feedVideo(t, mediaB)

	var peerOfA, peerOfB string
	select {
	case peerOfA = <-connectedA:
	case <-time.After(15 * time.Second):
		t.Fatalf("timed out waiting for A's peer connection")
	}
	select {
	case peerOfB = <-connectedB:
	case <-time.After(15 * time.Second):
		t.Fatalf("timed out waiting for B's peer connection")
	}

	if got := mgrA.PeerState(peerOfA); got != StateConnected {
		t.Fatalf("A's peer state = %v, want %v", got, StateConnected)
	}
	if got := mgrB.PeerState(peerOfB); got != StateConnected {
		t.Fatalf("B's peer state = %v, want %v", got, StateConnected)
	}

	select {
	case <-trackA:
	case <-time.After(15 * time.Second):
		t.Fatalf("A never received remote media")
	}
	select {
	case <-trackB:
	case <-time.After(15 * time.Second):
		t.Fatalf("B never received remote media")
	}

	if mgrA.SocketID() == "" || mgrB.SocketID() == "" {
		t.Fatalf("managers have no socket id after join")
	}
}
