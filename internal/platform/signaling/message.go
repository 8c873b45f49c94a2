// Package signaling implements the telemedicine WebRTC signaling relay.
// Participants of a consultation room exchange SDP offers/answers, ICE
// candidates and chat text through it. The relay never stores or inspects
// session content: offer/answer/ice-candidate payloads are forwarded as
// opaque bytes.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MessageType is the discriminator of the wire envelope.
type MessageType string

// Client-originated message types.
const (
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypeJoinRoom     MessageType = "join-room"
	TypeLeaveRoom    MessageType = "leave-room"
	TypeChatMessage  MessageType = "chat-message"
)

// Server-originated message types.
const (
	TypeRoomMembers MessageType = "room-members"
	TypeUserJoined  MessageType = "user-joined"
	TypeUserLeft    MessageType = "user-left"
)

const (
	maxChatMessageLength = 4000

	// timestampLayout matches JavaScript's Date.prototype.toISOString.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

var (
	ErrMissingType   = errors.New("message type is required")
	ErrMissingRoomID = errors.New("roomId is required")
	ErrMissingUserID = errors.New("userId is required")
	ErrEmptyChat     = errors.New("chat message cannot be empty")
	ErrChatTooLong   = errors.New("chat message is too long")
)

// Envelope is the JSON object exchanged over the signaling socket.
type Envelope struct {
	Type         MessageType     `json:"type"`
	Data         json.RawMessage `json:"data,omitempty"`
	RoomID       string          `json:"roomId"`
	UserID       string          `json:"userId"`
	TargetUserID string          `json:"targetUserId,omitempty"`
}

// MembersPayload is the data of a room-members message.
type MembersPayload struct {
	Members []string `json:"members"`
}

// UserPayload is the data of user-joined and user-left messages.
type UserPayload struct {
	UserID string `json:"userId"`
}

// ChatPayload is the data of a chat-message. Keys sent by the client are
// relayed untouched; id, userId and timestamp are always set by the relay.
type ChatPayload map[string]json.RawMessage

// stamp overwrites the relay-owned keys.
func (p ChatPayload) stamp(id, userID string, at time.Time) {
	for k, v := range map[string]string{
		"id":        id,
		"userId":    userID,
		"timestamp": formatTimestamp(at),
	} {
		b, _ := json.Marshal(v)
		p[k] = b
	}
}

// Decode parses one inbound frame. Payloads are not inspected here, except
// that join-room must name both the room and the user.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	if env.Type == TypeJoinRoom {
		if env.RoomID == "" {
			return Envelope{}, ErrMissingRoomID
		}
		if env.UserID == "" {
			return Envelope{}, ErrMissingUserID
		}
	}
	return env, nil
}

// Encode serialises an envelope for the wire.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Type, err)
	}
	return data, nil
}

// serverEnvelope builds a relay-originated envelope with a structured payload.
func serverEnvelope(typ MessageType, roomID, userID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Data: data, RoomID: roomID, UserID: userID}, nil
}

// decodeChat reads a client chat payload. A missing or null payload is an
// empty object and a bare JSON string is taken as the message text. A string
// message, when present, must not be blank or longer than
// maxChatMessageLength runes; it is never rewritten.
func decodeChat(raw json.RawMessage) (ChatPayload, error) {
	chat := ChatPayload{}
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case trimmed == "" || trimmed == "null":
		return chat, nil
	case strings.HasPrefix(trimmed, `"`):
		chat["message"] = json.RawMessage(trimmed)
	default:
		if err := json.Unmarshal(raw, &chat); err != nil {
			return nil, fmt.Errorf("decode chat payload: %w", err)
		}
	}

	msg, ok := chat["message"]
	if !ok || !strings.HasPrefix(strings.TrimSpace(string(msg)), `"`) {
		return chat, nil
	}
	var text string
	if err := json.Unmarshal(msg, &text); err != nil {
		return nil, fmt.Errorf("decode chat message: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyChat
	}
	if utf8.RuneCountInString(text) > maxChatMessageLength {
		return nil, ErrChatTooLong
	}
	return chat, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
