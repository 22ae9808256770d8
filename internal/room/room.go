package room

import "time"

// Participant is one live endpoint in a room.
//
// UserID is the stable identity across reconnects; SocketID is the transient
// transport-connection identity and changes on every reconnect.
type Participant struct {
	SocketID string `json:"socketId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	UserType string `json:"userType"`

	JoinedAt      time.Time `json:"joinedAt"`
	Reconnected   bool      `json:"reconnected,omitempty"`
	ReconnectedAt time.Time `json:"reconnectedAt,omitempty"`
}

// Room is a snapshot of one call session's membership.
type Room struct {
	ID           string
	SessionID    string
	Participants []Participant
	LastActivity time.Time
}

// Identity is the user-facing identity bound to a socket at join time.
type Identity struct {
	UserID   string
	UserName string
	UserType string
}
