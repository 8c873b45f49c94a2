package signaling

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecode_Valid(t *testing.T) {
	env, err := Decode([]byte(`{"type":"offer","data":{"sdp":"v=0"},"roomId":"r1","userId":"u1","targetUserId":"u2"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != TypeOffer {
		t.Fatalf("expected offer, got %s", env.Type)
	}
	if env.TargetUserID != "u2" {
		t.Fatalf("expected targetUserId u2, got %q", env.TargetUserID)
	}
	if string(env.Data) != `{"sdp":"v=0"}` {
		t.Fatalf("expected data to be preserved verbatim, got %s", env.Data)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"missing type", `{"roomId":"r1","userId":"u1"}`, ErrMissingType},
		{"join without room", `{"type":"join-room","userId":"u1"}`, ErrMissingRoomID},
		{"join without user", `{"type":"join-room","roomId":"r1"}`, ErrMissingUserID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecode_InvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "decode envelope") {
		t.Fatalf("expected wrapped decode error, got %v", err)
	}
}

func TestDecode_UnknownTypeAccepted(t *testing.T) {
	env, err := Decode([]byte(`{"type":"heartbeat"}`))
	if err != nil {
		t.Fatalf("unknown types should decode, got %v", err)
	}
	if env.Type != "heartbeat" {
		t.Fatalf("expected heartbeat, got %s", env.Type)
	}
}

func TestEncode_OmitsEmptyTarget(t *testing.T) {
	frame, err := Encode(Envelope{Type: TypeAnswer, RoomID: "r1", UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(frame), "targetUserId") {
		t.Fatalf("expected targetUserId to be omitted, got %s", frame)
	}
}

func chatString(t *testing.T, chat ChatPayload, key string) string {
	t.Helper()
	raw, ok := chat[key]
	if !ok {
		t.Fatalf("chat payload has no %q key: %v", key, chat)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("chat %q is not a string: %s", key, raw)
	}
	return s
}

func TestDecodeChat_KeepsClientKeys(t *testing.T) {
	chat, err := decodeChat(json.RawMessage(`{"message":"  hello  ","userName":"Dr. Ana","messageType":"file","fileUrl":"https://files.example/report.pdf","size":1024}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := chatString(t, chat, "message"); got != "  hello  " {
		t.Fatalf("message must be relayed as sent, got %q", got)
	}
	if got := chatString(t, chat, "fileUrl"); got != "https://files.example/report.pdf" {
		t.Fatalf("unexpected fileUrl %q", got)
	}
	if string(chat["size"]) != "1024" {
		t.Fatalf("expected numeric size to survive, got %s", chat["size"])
	}
}

func TestDecodeChat_Stamp(t *testing.T) {
	chat, err := decodeChat(json.RawMessage(`{"message":"hi","userId":"spoofed","timestamp":"yesterday","id":"x"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chat.stamp("chat-9", "doctor", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	if got := chatString(t, chat, "id"); got != "chat-9" {
		t.Fatalf("expected relay id, got %q", got)
	}
	if got := chatString(t, chat, "userId"); got != "doctor" {
		t.Fatalf("expected relay userId, got %q", got)
	}
	if got := chatString(t, chat, "timestamp"); got != "2024-01-02T03:04:05.000Z" {
		t.Fatalf("expected relay timestamp, got %q", got)
	}
}

func TestDecodeChat_BareString(t *testing.T) {
	chat, err := decodeChat(json.RawMessage(`"hi there"`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := chatString(t, chat, "message"); got != "hi there" {
		t.Fatalf("expected message from bare string, got %q", got)
	}
}

func TestDecodeChat_WithoutMessage(t *testing.T) {
	for _, raw := range []string{``, `null`, `{}`, `{"text":"hi"}`, `{"message":42}`, `{"message":null}`} {
		chat, err := decodeChat(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", raw, err)
		}
		if chat == nil {
			t.Fatalf("%q: expected a payload", raw)
		}
	}
}

func TestDecodeChat_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", `{"message":""}`, ErrEmptyChat},
		{"blank", `{"message":"   "}`, ErrEmptyChat},
		{"blank bare string", `"  "`, ErrEmptyChat},
		{"too long", `{"message":"` + strings.Repeat("a", maxChatMessageLength+1) + `"}`, ErrChatTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeChat(json.RawMessage(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecodeChat_NotAnObject(t *testing.T) {
	if _, err := decodeChat(json.RawMessage(`[1,2]`)); err == nil {
		t.Fatal("expected error for array payload")
	}
}

func TestDecodeChat_MaxLengthCountsRunes(t *testing.T) {
	msg := strings.Repeat("é", maxChatMessageLength)
	chat, err := decodeChat(json.RawMessage(`{"message":"` + msg + `"}`))
	if err != nil {
		t.Fatalf("message at the limit should pass, got %v", err)
	}
	if chatString(t, chat, "message") != msg {
		t.Fatal("message was altered")
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 7, 9, 123456789, time.FixedZone("BRT", -3*3600))
	got := formatTimestamp(ts)
	if got != "2024-03-05T17:07:09.123Z" {
		t.Fatalf("unexpected timestamp %q", got)
	}
}
