package signaling

import (
	"strings"
	"testing"
)

func TestParseMessage_JoinRoom(t *testing.T) {
	raw := `{"type":"join-room","roomId":"r1","userId":"u1","userName":"Dr. Chen","userType":"provider"}`
	msg, err := ParseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("ParseMessage error: %v", err)
	}
	if msg.Type != MessageTypeJoinRoom {
		t.Fatalf("Type=%q, want %q", msg.Type, MessageTypeJoinRoom)
	}
	if msg.RoomID != "r1" || msg.UserID != "u1" || msg.UserName != "Dr. Chen" || msg.UserType != "provider" {
		t.Fatalf("unexpected fields: %+v", msg)
	}
}

func TestParseMessage_RelayKeepsPayloadOpaque(t *testing.T) {
	raw := `{"type":"offer","to":"sock-b","payload":{"sdp":"v=0...","type":"offer"}}`
	msg, err := ParseMessage([]byte(raw))
	if err != nil {
		t.Fatalf("ParseMessage error: %v", err)
	}
	if string(msg.Payload) != `{"sdp":"v=0...","type":"offer"}` {
		t.Fatalf("Payload=%s, want raw SDP object", msg.Payload)
	}
}

func TestParseMessage_RejectsUnknownFields(t *testing.T) {
	raw := `{"type":"heartbeat","roomId":"r1","bogus":true}`
	if _, err := ParseMessage([]byte(raw)); err == nil {
		t.Fatal("ParseMessage accepted unknown field")
	}
}

func TestParseMessage_RejectsTrailingData(t *testing.T) {
	raw := `{"type":"leave-room"}{"type":"leave-room"}`
	if _, err := ParseMessage([]byte(raw)); err == nil {
		t.Fatal("ParseMessage accepted trailing data")
	}
}

func TestValidate_PerType(t *testing.T) {
	enabled := true
	tests := []struct {
		name    string
		msg     Message
		wantErr string
	}{
		{"join missing room", Message{Type: MessageTypeJoinRoom, UserID: "u1"}, "missing roomId"},
		{"join missing user", Message{Type: MessageTypeJoinRoom, RoomID: "r1"}, "missing userId"},
		{"offer missing to", Message{Type: MessageTypeOffer, Payload: []byte(`{}`)}, "missing to"},
		{"answer missing payload", Message{Type: MessageTypeAnswer, To: "s"}, "missing payload"},
		{"candidate ok", Message{Type: MessageTypeICECandidate, To: "s", Payload: []byte(`{}`)}, ""},
		{"chat missing text", Message{Type: MessageTypeChatMessage, RoomID: "r1"}, "missing message"},
		{"toggle missing enabled", Message{Type: MessageTypeToggleVideo, RoomID: "r1"}, "missing enabled"},
		{"toggle ok", Message{Type: MessageTypeToggleAudio, RoomID: "r1", Enabled: &enabled}, ""},
		{"screen share ok", Message{Type: MessageTypeStartScreenShare, RoomID: "r1"}, ""},
		{"leave ok", Message{Type: MessageTypeLeaveRoom}, ""},
		{"server type rejected", Message{Type: MessageTypeUserJoined}, "unsupported"},
		{"unknown type", Message{Type: "mystery"}, "unsupported"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate err=%v, want containing %q", err, tc.wantErr)
			}
		})
	}
}
