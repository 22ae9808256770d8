package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/carelink/telecall/internal/config"
	"github.com/carelink/telecall/internal/metrics"
	"github.com/carelink/telecall/internal/signaling"
	"github.com/carelink/telecall/internal/turnrest"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func startServer(t *testing.T, cfg config.Config, turn *turnrest.Generator) (*Server, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	sig := signaling.NewServer(signaling.Config{Metrics: m, Logger: logger})
	t.Cleanup(sig.Close)

	s := New(cfg, logger, BuildInfo{Commit: "abc123", BuildTime: "2026-08-29T00:00:00Z"}, sig, m, turn)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	go func() { _ = s.Serve(l) }()
	t.Cleanup(func() { _ = s.Close() })

	waitReachable(t, l.Addr().String())
	return s, "http://" + l.Addr().String()
}

func waitReachable(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s never became reachable", addr)
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", url, err)
		}
	}
	return resp
}

func TestServer_HealthAndVersion(t *testing.T) {
	_, base := startServer(t, config.Config{}, nil)

	var health map[string]any
	if resp := getJSON(t, base+"/healthz", &health); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
	if health["ok"] != true {
		t.Fatalf("healthz body: %v", health)
	}

	var ready map[string]any
	if resp := getJSON(t, base+"/readyz", &ready); resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status %d", resp.StatusCode)
	}

	var build BuildInfo
	getJSON(t, base+"/version", &build)
	if build.Commit != "abc123" {
		t.Fatalf("version commit %q", build.Commit)
	}
}

func TestServer_MetricsExposition(t *testing.T) {
	resp, err := http.Get(mustBase(t) + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "telecall_signaling_events_total") {
		t.Fatalf("metrics body missing counter family:\n%s", body)
	}
}

func mustBase(t *testing.T) string {
	t.Helper()
	_, base := startServer(t, config.Config{}, nil)
	return base
}

func TestServer_ICEConfigStatic(t *testing.T) {
	cfg := config.Config{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}},
	}
	_, base := startServer(t, cfg, nil)

	var body struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	getJSON(t, base+"/webrtc/ice", &body)
	if len(body.ICEServers) != 1 || body.ICEServers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("iceServers: %+v", body.ICEServers)
	}
}

func TestServer_ICEConfigMintsTURNCredentials(t *testing.T) {
	turn, err := turnrest.NewGenerator("shared", time.Hour, "telecall", fixedClock{now: time.Unix(1700000000, 0)})
	if err != nil {
		t.Fatalf("NewGenerator error: %v", err)
	}
	cfg := config.Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.example.com:3478"}},
			{URLs: []string{"turn:turn.example.com:3478"}},
		},
	}
	_, base := startServer(t, cfg, turn)

	var body struct {
		ICEServers []struct {
			URLs       []string `json:"urls"`
			Username   string   `json:"username"`
			Credential string   `json:"credential"`
		} `json:"iceServers"`
	}
	getJSON(t, base+"/webrtc/ice?sessionId=sess-7", &body)

	if len(body.ICEServers) != 2 {
		t.Fatalf("iceServers count %d", len(body.ICEServers))
	}
	if body.ICEServers[0].Username != "" {
		t.Fatal("STUN entry received TURN credentials")
	}
	if want := "1700003600:telecall:sess-7"; body.ICEServers[1].Username != want {
		t.Fatalf("TURN username %q, want %q", body.ICEServers[1].Username, want)
	}
	if body.ICEServers[1].Credential == "" {
		t.Fatal("TURN entry missing minted credential")
	}
}

func TestServer_ICEConfigRejectsDisallowedOrigin(t *testing.T) {
	cfg := config.Config{AllowedOrigins: []string{"https://call.example.com"}}
	_, base := startServer(t, cfg, nil)

	req, _ := http.NewRequest(http.MethodGet, base+"/webrtc/ice", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d, want 403", resp.StatusCode)
	}
}

func TestServer_WSEndpointUpgrades(t *testing.T) {
	_, base := startServer(t, config.Config{}, nil)

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial error: %v", err)
	}
	defer conn.Close()

	join := `{"type":"join-room","roomId":"r1","userId":"u1","userName":"A","userType":"provider"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(join)); err != nil {
		t.Fatalf("write error: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if reply["type"] != "existing-participants" {
		t.Fatalf("reply type %v", reply["type"])
	}
}

func TestServer_RequestIDEchoed(t *testing.T) {
	_, base := startServer(t, config.Config{}, nil)

	req, _ := http.NewRequest(http.MethodGet, base+"/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("X-Request-ID=%q, want req-123", got)
	}
}
