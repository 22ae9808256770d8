// Package room owns call-room membership and per-connection liveness
// bookkeeping for the signaling server.
//
// The Registry and Tracker are plain mutex-guarded service objects; they hold
// the authoritative in-memory state and never perform blocking work while a
// lock is held.
package room
