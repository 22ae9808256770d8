// Package signaling implements the WebSocket signaling surface for telecall
// rooms: join/leave lifecycle, opaque offer/answer/ICE relay between socket
// pairs, room-scoped chat and media-state broadcasts, and heartbeat-based
// failure detection.
//
// The relay never interprets offer/answer/candidate payloads; they are opaque
// blobs addressed by target socket id.
package signaling
