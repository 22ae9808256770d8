package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/carelink/telecall/internal/room"
)

type MessageType string

// Client-to-server message types.
const (
	MessageTypeJoinRoom         MessageType = "join-room"
	MessageTypeOffer            MessageType = "offer"
	MessageTypeAnswer           MessageType = "answer"
	MessageTypeICECandidate     MessageType = "ice-candidate"
	MessageTypeHeartbeat        MessageType = "heartbeat"
	MessageTypeChatMessage      MessageType = "chat-message"
	MessageTypeToggleVideo      MessageType = "toggle-video"
	MessageTypeToggleAudio      MessageType = "toggle-audio"
	MessageTypeStartScreenShare MessageType = "start-screen-share"
	MessageTypeStopScreenShare  MessageType = "stop-screen-share"
	MessageTypeLeaveRoom        MessageType = "leave-room"
)

// Server-to-client message types. Offer/answer/candidate reuse the inbound
// type with the envelope rewritten from {to} to {from}.
const (
	MessageTypeExistingParticipants MessageType = "existing-participants"
	MessageTypeUserJoined           MessageType = "user-joined"
	MessageTypeUserReconnected      MessageType = "user-reconnected"
	MessageTypeUserLeft             MessageType = "user-left"
	MessageTypeUserDisconnected     MessageType = "user-disconnected"
	MessageTypePeerNotFound         MessageType = "peer-not-found"
	MessageTypeHeartbeatResponse    MessageType = "heartbeat-response"
	MessageTypeNewChatMessage       MessageType = "new-chat-message"
	MessageTypePeerToggleVideo      MessageType = "peer-toggle-video"
	MessageTypePeerToggleAudio      MessageType = "peer-toggle-audio"
	MessageTypePeerStartedScreenShare MessageType = "peer-started-screen-share"
	MessageTypePeerStoppedScreenShare MessageType = "peer-stopped-screen-share"
	MessageTypeError                MessageType = "error"
)

// Message is the wire envelope for every signaling event in both directions.
// Which fields are meaningful depends on Type; Validate enforces the
// per-type shape for client-to-server messages.
type Message struct {
	Type MessageType `json:"type"`

	// Join and identity fields.
	RoomID   string `json:"roomId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
	UserType string `json:"userType,omitempty"`

	// Relay envelope. Payload is opaque to the server.
	To      string          `json:"to,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Heartbeat timestamp (unix milliseconds, echoed back).
	Timestamp int64 `json:"timestamp,omitempty"`

	// Chat text, or human-readable detail on error messages.
	MessageID string `json:"id,omitempty"`
	Message   string `json:"message,omitempty"`

	// Media toggle state.
	Enabled *bool `json:"enabled,omitempty"`

	// Membership payloads (server to client).
	SocketID     string             `json:"socketId,omitempty"`
	SessionID    string             `json:"sessionId,omitempty"`
	Participants []room.Participant `json:"participants,omitempty"`
	Participant  *room.Participant  `json:"participant,omitempty"`
	OldSocketID  string             `json:"oldSocketId,omitempty"`
	CanReconnect *bool              `json:"canReconnect,omitempty"`
	TargetID     string             `json:"targetId,omitempty"`

	// Machine-readable error code.
	Code string `json:"code,omitempty"`
}

// ParseMessage decodes and validates a single client-to-server message.
func ParseMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

// Validate checks the per-type shape of a client-to-server message.
func (m Message) Validate() error {
	switch m.Type {
	case MessageTypeJoinRoom:
		if m.RoomID == "" {
			return fmt.Errorf("join-room message missing roomId")
		}
		if m.UserID == "" {
			return fmt.Errorf("join-room message missing userId")
		}
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeICECandidate:
		if m.To == "" {
			return fmt.Errorf("%s message missing to", m.Type)
		}
		if len(m.Payload) == 0 {
			return fmt.Errorf("%s message missing payload", m.Type)
		}
	case MessageTypeHeartbeat:
		if m.RoomID == "" {
			return fmt.Errorf("heartbeat message missing roomId")
		}
	case MessageTypeChatMessage:
		if m.RoomID == "" {
			return fmt.Errorf("chat-message missing roomId")
		}
		if m.Message == "" {
			return fmt.Errorf("chat-message missing message")
		}
	case MessageTypeToggleVideo, MessageTypeToggleAudio:
		if m.RoomID == "" {
			return fmt.Errorf("%s message missing roomId", m.Type)
		}
		if m.Enabled == nil {
			return fmt.Errorf("%s message missing enabled", m.Type)
		}
	case MessageTypeStartScreenShare, MessageTypeStopScreenShare:
		if m.RoomID == "" {
			return fmt.Errorf("%s message missing roomId", m.Type)
		}
	case MessageTypeLeaveRoom:
		// No payload.
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
