// Package store is the optional session-persistence sink.
//
// The signaling core calls it fire-and-forget: in-memory room state is the
// source of truth for live signaling, and a missing or failing sink must
// never block or corrupt relay behavior.
package store

import (
	"context"
	"time"
)

// Connection lifecycle events recorded by the sink.
const (
	EventJoined       = "joined"
	EventReconnected  = "reconnected"
	EventLeft         = "left"
	EventDisconnected = "disconnected"
)

// SessionRecord correlates a room with its stable session identifier.
type SessionRecord struct {
	SessionID string
	RoomID    string
	StartedAt time.Time
}

// ConnectionRecord is one participant lifecycle event within a session.
type ConnectionRecord struct {
	SessionID string
	RoomID    string
	SocketID  string
	UserID    string
	UserName  string
	UserType  string
	Event     string
	At        time.Time
}

// Sink persists session and connection records.
//
// Implementations must be safe for concurrent use. Callers never await a sink
// for correctness; errors are logged and otherwise ignored.
type Sink interface {
	RecordSession(ctx context.Context, rec SessionRecord) error
	RecordConnection(ctx context.Context, rec ConnectionRecord) error
}

// NopSink is the valid no-op configuration used when persistence is disabled.
type NopSink struct{}

func (NopSink) RecordSession(context.Context, SessionRecord) error       { return nil }
func (NopSink) RecordConnection(context.Context, ConnectionRecord) error { return nil }
