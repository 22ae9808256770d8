// telecall-probe is a headless call participant for diagnosing deployments.
// It fetches ICE configuration from the signaling server, joins a room with
// static media tracks, and logs roster, peer and chat events until
// interrupted. Run two probes against the same room to verify that signaling
// relay, TURN credentials and media connectivity all work end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/carelink/telecall/internal/config"
	"github.com/carelink/telecall/internal/peer"
	"github.com/carelink/telecall/internal/room"
)

func main() {
	var (
		server   = flag.String("server", "ws://127.0.0.1:8080/ws", "signaling server websocket URL")
		roomID   = flag.String("room", "probe-room", "room to join")
		userID   = flag.String("user-id", "", "stable user id (defaults to a random one)")
		userName = flag.String("user-name", "probe", "display name")
		userType = flag.String("user-type", "provider", "participant role, provider or patient")
		chat     = flag.String("chat", "", "chat message to send once joined")
		duration = flag.Duration("duration", 0, "leave after this long (0 runs until interrupted)")
	)
	flag.Parse()

	// Tunables (reconnect budget, backoff, ack timeout, heartbeat cadence)
	// come from the same environment surface the server reads.
	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(log)

	if *userID == "" {
		*userID = "probe-" + uuid.NewString()
	}

	iceServers, err := fetchICEServers(*server)
	if err != nil {
		log.Warn("could not fetch ICE config, continuing without", "err", err)
	}

	media, err := peer.NewStaticMedia(*userID)
	if err != nil {
		log.Error("create media tracks", "err", err)
		os.Exit(1)
	}

	m, err := peer.New(peer.Config{
		RoomID:     *roomID,
		Identity:   room.Identity{UserID: *userID, UserName: *userName, UserType: *userType},
		Dial:       peer.WebSocketTransport(*server),
		Media:      media,
		ICEServers: iceServers,
		Retry: peer.RetryPolicy{
			MaxAttempts: cfg.MaxReconnectAttempts,
			BaseDelay:   cfg.ReconnectBaseDelay,
		},
		HeartbeatInterval: cfg.HeartbeatInterval,
		SignalAckTimeout:  cfg.SignalAckTimeout,
		Logger:            log,
		Callbacks: peer.Callbacks{
			OnParticipants: func(ps []room.Participant) {
				names := make([]string, 0, len(ps))
				for _, p := range ps {
					names = append(names, p.UserName)
				}
				log.Info("roster", "count", len(ps), "participants", strings.Join(names, ","))
			},
			OnPeerConnected: func(socketID string) {
				log.Info("peer connected", "socket_id", socketID)
			},
			OnPeerGone: func(socketID string) {
				log.Info("peer gone", "socket_id", socketID)
			},
			OnRemoteTrack: func(socketID string, track *webrtc.TrackRemote) {
				log.Info("remote track", "socket_id", socketID, "kind", track.Kind().String())
			},
			OnChatMessage: func(msg peer.ChatMessage) {
				log.Info("chat", "from", msg.UserName, "message", msg.Message)
			},
			OnSessionError: func(err error) {
				log.Error("session failed", "err", err)
				os.Exit(1)
			},
		},
	})
	if err != nil {
		log.Error("configure session", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	joinCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = m.Join(joinCtx)
	cancel()
	if err != nil {
		log.Error("join room", "err", err)
		os.Exit(1)
	}
	log.Info("joined", "room", *roomID, "user_id", *userID)

	if *chat != "" {
		if err := m.SendChat(*chat); err != nil {
			log.Warn("send chat", "err", err)
		}
	}

	if *duration > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(*duration):
		}
	} else {
		<-ctx.Done()
	}

	m.Leave()
	log.Info("left room")
}

// fetchICEServers asks the signaling server's /webrtc/ice endpoint for the
// ICE configuration, deriving the HTTP base URL from the websocket URL.
func fetchICEServers(wsURL string) ([]webrtc.ICEServer, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/webrtc/ice"
	u.RawQuery = ""

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(u.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ice config request returned %d", resp.StatusCode)
	}

	var body struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode ice config: %w", err)
	}
	return body.ICEServers, nil
}
