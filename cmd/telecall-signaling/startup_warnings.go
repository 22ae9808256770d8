package main

import (
	"log/slog"
	"time"

	"github.com/carelink/telecall/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && !hasTURN(cfg) {
		logger.Warn("startup warning: no TURN server configured; calls will fail for participants behind symmetric NAT",
			"warning_code", "no_turn_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && hasTURN(cfg) && cfg.TURNRESTSecret == "" {
		logger.Warn("startup security warning: TURN configured with a static credential; set TURN_REST_SECRET to mint short-lived credentials instead",
			"warning_code", "static_turn_credential_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.HeartbeatTimeout < 2*cfg.HeartbeatInterval {
		logger.Warn("startup warning: HEARTBEAT_TIMEOUT below two intervals; a single delayed heartbeat will disconnect participants",
			"warning_code", "heartbeat_timeout_tight",
			"heartbeat_interval", cfg.HeartbeatInterval,
			"heartbeat_timeout", cfg.HeartbeatTimeout,
		)
	}

	if cfg.HeartbeatTimeout > 5*time.Minute {
		logger.Warn("startup warning: HEARTBEAT_TIMEOUT is very large; dead connections will linger and hold room slots",
			"warning_code", "heartbeat_timeout_large",
			"heartbeat_timeout", cfg.HeartbeatTimeout,
		)
	}
}

func hasTURN(cfg config.Config) bool {
	for _, server := range cfg.ICEServers {
		for _, url := range server.URLs {
			if len(url) >= 5 && (url[:5] == "turn:" || url[:5] == "turns") {
				return true
			}
		}
	}
	return false
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
