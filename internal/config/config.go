// Package config loads the signaling service configuration from environment
// variables and command-line flags.
//
// Every timing knob that governs failure detection and reconnection policy
// (heartbeat interval/timeout, retry caps, backoff base, signal-ack timeout)
// is configurable here; nothing in the core hardcodes them.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "TELECALL_LISTEN_ADDR"
	envVarMode            = "TELECALL_MODE"
	envVarLogFormat       = "TELECALL_LOG_FORMAT"
	envVarLogLevel        = "TELECALL_LOG_LEVEL"
	envVarShutdownTimeout = "TELECALL_SHUTDOWN_TIMEOUT"

	// Liveness detection knobs, shared by server and client halves.
	envVarHeartbeatInterval      = "HEARTBEAT_INTERVAL"
	envVarHeartbeatTimeout       = "HEARTBEAT_TIMEOUT"
	envVarHeartbeatSweepInterval = "HEARTBEAT_SWEEP_INTERVAL"

	// Room registry housekeeping.
	envVarRoomIdleTimeout   = "ROOM_IDLE_TIMEOUT"
	envVarRoomSweepInterval = "ROOM_SWEEP_INTERVAL"

	// Client reconnection policy.
	envVarMaxReconnectAttempts = "MAX_RECONNECT_ATTEMPTS"
	envVarReconnectBaseDelay   = "RECONNECT_BASE_DELAY"
	envVarSignalAckTimeout     = "SIGNAL_ACK_TIMEOUT"

	// Inbound signaling hardening.
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	// ICE servers handed to client-side PeerConnections.
	envVarSTUNURLs       = "STUN_URLS"
	envVarTURNURLs       = "TURN_URLS"
	envVarTURNUsername   = "TURN_USERNAME"
	envVarTURNCredential = "TURN_CREDENTIAL"

	// Ephemeral TURN credentials (coturn REST). When a shared secret is set,
	// /webrtc/ice mints per-session credentials instead of handing out the
	// static TURN_USERNAME/TURN_CREDENTIAL pair.
	envVarTURNRESTSecret         = "TURN_REST_SECRET"
	envVarTURNRESTTTL            = "TURN_REST_TTL"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"

	// Browser origins allowed to open signaling connections. Empty means
	// same-host only; "*" disables the check.
	envVarAllowedOrigins = "ALLOWED_ORIGINS"

	// Optional session persistence. Empty disables it; live signaling never
	// depends on the store being configured or reachable.
	envVarSessionStoreDSN = "SESSION_STORE_DSN"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	// DefaultHeartbeatTimeout is two missed heartbeat intervals.
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 2 * DefaultHeartbeatInterval

	DefaultRoomIdleTimeout   = 5 * time.Minute
	DefaultRoomSweepInterval = time.Minute

	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBaseDelay   = time.Second
	DefaultSignalAckTimeout     = 10 * time.Second

	DefaultMaxSignalingMessageBytes      = 64 * 1024
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultSTUNURL = "stun:stun.l.google.com:19302"

	DefaultTURNRESTTTL            = time.Hour
	DefaultTURNRESTUsernamePrefix = "telecall"

	DefaultMode Mode = ModeDev
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	HeartbeatInterval      time.Duration
	HeartbeatTimeout       time.Duration
	HeartbeatSweepInterval time.Duration

	RoomIdleTimeout   time.Duration
	RoomSweepInterval time.Duration

	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	SignalAckTimeout     time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	ICEServers []webrtc.ICEServer

	TURNRESTSecret         string
	TURNRESTTTL            time.Duration
	TURNRESTUsernamePrefix string

	AllowedOrigins []string

	SessionStoreDSN string
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))

	fs := flag.NewFlagSet("telecall-signaling", flag.ContinueOnError)
	listenAddr := fs.String("listen-addr", envOrDefault(lookup, envVarListenAddr, DefaultListenAddr), "TCP listen address for the HTTP/WebSocket server")
	modeStr := fs.String("mode", modeDefault, "runtime mode (dev or prod)")
	logFormatStr := fs.String("log-format", logFormatDefault, "log format (text or json)")
	logLevelStr := fs.String("log-level", logLevelDefault, "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(*modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(*logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(*logLevelStr)
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	heartbeatInterval, err := envDurationOrDefault(lookup, envVarHeartbeatInterval, DefaultHeartbeatInterval)
	if err != nil {
		return Config{}, err
	}
	// The timeout default tracks the configured interval so shrinking the
	// interval still means "two missed heartbeats" unless overridden.
	heartbeatTimeout, err := envDurationOrDefault(lookup, envVarHeartbeatTimeout, 2*heartbeatInterval)
	if err != nil {
		return Config{}, err
	}
	heartbeatSweepInterval, err := envDurationOrDefault(lookup, envVarHeartbeatSweepInterval, heartbeatInterval)
	if err != nil {
		return Config{}, err
	}

	roomIdleTimeout, err := envDurationOrDefault(lookup, envVarRoomIdleTimeout, DefaultRoomIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	roomSweepInterval, err := envDurationOrDefault(lookup, envVarRoomSweepInterval, DefaultRoomSweepInterval)
	if err != nil {
		return Config{}, err
	}

	maxReconnectAttempts, err := envIntOrDefault(lookup, envVarMaxReconnectAttempts, DefaultMaxReconnectAttempts)
	if err != nil {
		return Config{}, err
	}
	// The client retry policy treats a non-positive attempt budget as unset
	// and falls back to its own default, so 0 here would not mean "never
	// retry". Reject it rather than surprise the operator.
	if maxReconnectAttempts < 1 {
		return Config{}, fmt.Errorf("invalid %s %d: must be >= 1", envVarMaxReconnectAttempts, maxReconnectAttempts)
	}
	reconnectBaseDelay, err := envDurationOrDefault(lookup, envVarReconnectBaseDelay, DefaultReconnectBaseDelay)
	if err != nil {
		return Config{}, err
	}
	signalAckTimeout, err := envDurationOrDefault(lookup, envVarSignalAckTimeout, DefaultSignalAckTimeout)
	if err != nil {
		return Config{}, err
	}

	maxSignalingMessageBytes, err := envIntOrDefault(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	iceServers, err := parseICEServers(lookup)
	if err != nil {
		return Config{}, err
	}

	turnRESTTTL, err := envDurationOrDefault(lookup, envVarTURNRESTTTL, DefaultTURNRESTTTL)
	if err != nil {
		return Config{}, err
	}

	return Config{
		ListenAddr:      *listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,

		HeartbeatInterval:      heartbeatInterval,
		HeartbeatTimeout:       heartbeatTimeout,
		HeartbeatSweepInterval: heartbeatSweepInterval,

		RoomIdleTimeout:   roomIdleTimeout,
		RoomSweepInterval: roomSweepInterval,

		MaxReconnectAttempts: maxReconnectAttempts,
		ReconnectBaseDelay:   reconnectBaseDelay,
		SignalAckTimeout:     signalAckTimeout,

		MaxSignalingMessageBytes:      int64(maxSignalingMessageBytes),
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,

		ICEServers: iceServers,

		TURNRESTSecret:         envOrDefault(lookup, envVarTURNRESTSecret, ""),
		TURNRESTTTL:            turnRESTTTL,
		TURNRESTUsernamePrefix: envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix),

		AllowedOrigins: splitCommaList(envOrDefault(lookup, envVarAllowedOrigins, "")),

		SessionStoreDSN: envOrDefault(lookup, envVarSessionStoreDSN, ""),
	}, nil
}

// parseICEServers builds the ICE server list from STUN_URLS plus the optional
// TURN triple. With neither set a public STUN fallback is used so dev setups
// work out of the box.
func parseICEServers(lookup func(string) (string, bool)) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	stunURLs := splitCommaList(envOrDefault(lookup, envVarSTUNURLs, ""))
	if len(stunURLs) == 0 {
		stunURLs = []string{DefaultSTUNURL}
	}
	servers = append(servers, webrtc.ICEServer{URLs: stunURLs})

	turnURLs := splitCommaList(envOrDefault(lookup, envVarTURNURLs, ""))
	if len(turnURLs) > 0 {
		username := envOrDefault(lookup, envVarTURNUsername, "")
		credential := envOrDefault(lookup, envVarTURNCredential, "")
		if username == "" || credential == "" {
			return nil, fmt.Errorf("%s requires both %s and %s", envVarTURNURLs, envVarTURNUsername, envVarTURNCredential)
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       turnURLs,
			Username:   username,
			Credential: credential,
		})
	}

	return servers, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
}

func splitCommaList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}
