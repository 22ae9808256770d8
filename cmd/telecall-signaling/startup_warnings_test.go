package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/carelink/telecall/internal/config"
)

func captureWarnings(t *testing.T, cfg config.Config) string {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logStartupWarnings(logger, cfg)
	return buf.String()
}

func TestStartupWarnings_WildcardOrigins(t *testing.T) {
	out := captureWarnings(t, config.Config{AllowedOrigins: []string{"*"}})
	if !strings.Contains(out, "allowed_origins_wildcard") {
		t.Fatalf("missing wildcard warning:\n%s", out)
	}
}

func TestStartupWarnings_NoTURNInProd(t *testing.T) {
	cfg := config.Config{
		Mode:       config.ModeProd,
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com"}}},
	}
	out := captureWarnings(t, cfg)
	if !strings.Contains(out, "no_turn_in_prod") {
		t.Fatalf("missing TURN warning:\n%s", out)
	}
}

func TestStartupWarnings_StaticTURNCredentialInProd(t *testing.T) {
	cfg := config.Config{
		Mode: config.ModeProd,
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"turn:turn.example.com"}, Username: "u", Credential: "c"},
		},
	}
	out := captureWarnings(t, cfg)
	if !strings.Contains(out, "static_turn_credential_in_prod") {
		t.Fatalf("missing static credential warning:\n%s", out)
	}

	cfg.TURNRESTSecret = "secret"
	out = captureWarnings(t, cfg)
	if strings.Contains(out, "static_turn_credential_in_prod") {
		t.Fatalf("warning with REST secret configured:\n%s", out)
	}
}

func TestStartupWarnings_TightHeartbeatTimeout(t *testing.T) {
	cfg := config.Config{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  45 * time.Second,
	}
	out := captureWarnings(t, cfg)
	if !strings.Contains(out, "heartbeat_timeout_tight") {
		t.Fatalf("missing tight timeout warning:\n%s", out)
	}

	cfg.HeartbeatTimeout = time.Minute
	if out := captureWarnings(t, cfg); strings.Contains(out, "heartbeat_timeout_tight") {
		t.Fatalf("warning at exactly two intervals:\n%s", out)
	}
}
