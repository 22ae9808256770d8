package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/carelink/telecall/internal/config"
	"github.com/carelink/telecall/internal/httpserver"
	"github.com/carelink/telecall/internal/metrics"
	"github.com/carelink/telecall/internal/origin"
	"github.com/carelink/telecall/internal/ratelimit"
	"github.com/carelink/telecall/internal/room"
	"github.com/carelink/telecall/internal/signaling"
	"github.com/carelink/telecall/internal/store"
	"github.com/carelink/telecall/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting telecall-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"heartbeat_timeout", cfg.HeartbeatTimeout,
		"room_idle_timeout", cfg.RoomIdleTimeout,
		"max_reconnect_attempts", cfg.MaxReconnectAttempts,
		"session_store_enabled", cfg.SessionStoreDSN != "",
		"turn_rest_enabled", cfg.TURNRESTSecret != "",
	)

	logStartupWarnings(logger, cfg)

	sink, err := openSink(cfg)
	if err != nil {
		logger.Error("failed to open session store", "err", err)
		os.Exit(2)
	}

	var turn *turnrest.Generator
	if cfg.TURNRESTSecret != "" {
		turn, err = turnrest.NewGenerator(cfg.TURNRESTSecret, cfg.TURNRESTTTL, cfg.TURNRESTUsernamePrefix, nil)
		if err != nil {
			logger.Error("failed to configure TURN REST credentials", "err", err)
			os.Exit(2)
		}
	}

	m := metrics.New()
	clock := ratelimit.RealClock{}
	registry := room.NewRegistry(cfg.RoomIdleTimeout, m, clock)
	tracker := room.NewTracker(clock)
	origins := origin.NewPolicy(cfg.AllowedOrigins)

	sig := signaling.NewServer(signaling.Config{
		Registry: registry,
		Tracker:  tracker,
		Metrics:  m,
		Store:    sink,
		Logger:   logger,
		Clock:    clock,

		HeartbeatTimeout:       cfg.HeartbeatTimeout,
		HeartbeatSweepInterval: cfg.HeartbeatSweepInterval,

		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,

		CheckOrigin: func(r *http.Request) bool {
			return origins.Permits(r.Header.Get("Origin"), r.Host)
		},
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, sig, m, turn)

	sweepCtx, stopSweepers := context.WithCancel(context.Background())
	defer stopSweepers()
	go registry.RunSweeper(sweepCtx, cfg.RoomSweepInterval)
	go sig.RunHeartbeatSweeper(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		sig.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	stopSweepers()
	sig.Close()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// openSink is the pluggable persistence seam: no DSN means the no-op sink,
// and live signaling works identically either way.
func openSink(cfg config.Config) (store.Sink, error) {
	if cfg.SessionStoreDSN == "" {
		return store.NopSink{}, nil
	}
	return store.OpenGormSink(cfg.SessionStoreDSN)
}

func resolveBuildInfo(commit, built string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}

	return commit, built
}
