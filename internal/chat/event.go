package chat

import (
	"encoding/json"
	"fmt"
)

// Outbound event type discriminators.
const (
	EventNewMessage         = "new_message"
	EventTypingChanged      = "typing_changed"
	EventUserStatusChanged  = "user_status_changed"
	EventReadReceiptChanged = "read_receipt_changed"
	EventAuthAck            = "auth_ack"
	EventAuthError          = "auth_error"
	EventHeartbeatAck       = "heartbeat_ack"
	EventError              = "error"
	EventSystemAnnounce     = "system_announcement"
)

// Presence status values carried by UserStatusChanged.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Event is one outbound unit, immutable once constructed. An event is
// serialized exactly once per broadcast call and the same bytes are enqueued
// for every recipient connection.
type Event interface {
	Kind() string
}

// NewMessage notifies recipients of a persisted chat message. The surrounding
// REST layer constructs it from the stored message record.
type NewMessage struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	SenderID  string `json:"senderId"`
	Body      string `json:"body"`
	SentAt    int64  `json:"sentAt"`
}

func (e *NewMessage) Kind() string { return EventNewMessage }

// TypingChanged notifies a user's contacts that the user started or stopped
// typing in a chat.
type TypingChanged struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

func (e *TypingChanged) Kind() string { return EventTypingChanged }

// UserStatusChanged announces a presence transition.
type UserStatusChanged struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
	At     int64  `json:"at"`
}

func (e *UserStatusChanged) Kind() string { return EventUserStatusChanged }

// ReadReceiptChanged announces that a user read a message.
type ReadReceiptChanged struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

func (e *ReadReceiptChanged) Kind() string { return EventReadReceiptChanged }

// AuthAck confirms a successful authentication.
type AuthAck struct {
	UserID string `json:"userId"`
}

func (e *AuthAck) Kind() string { return EventAuthAck }

// AuthError reports a failed or missing authentication to the originating
// client. The connection stays open so the client may retry.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *AuthError) Kind() string { return EventAuthError }

// HeartbeatAck answers a heartbeat frame with the server clock, letting
// clients detect skew.
type HeartbeatAck struct {
	ServerTime int64 `json:"serverTime"`
}

func (e *HeartbeatAck) Kind() string { return EventHeartbeatAck }

// ErrorEvent reports a locally recovered error (malformed frame, rate limit)
// to the originating client only.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEvent) Kind() string { return EventError }

// SystemAnnouncement carries an operator broadcast to every connection.
type SystemAnnouncement struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *SystemAnnouncement) Kind() string { return EventSystemAnnounce }

// EncodeEvent serializes an event to its wire form: the event's JSON fields
// with the "type" discriminator spliced in front. Called once per broadcast,
// not once per recipient.
func EncodeEvent(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Kind(), err)
	}
	header := `{"type":"` + ev.Kind() + `"`
	if len(body) <= 2 {
		// Event has no fields of its own.
		return []byte(header + "}"), nil
	}
	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

// DecodeEvent parses wire bytes back into a typed event. Used by tests and
// reciprocal client harnesses; the server itself only encodes.
func DecodeEvent(raw []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	var ev Event
	switch head.Type {
	case EventNewMessage:
		ev = &NewMessage{}
	case EventTypingChanged:
		ev = &TypingChanged{}
	case EventUserStatusChanged:
		ev = &UserStatusChanged{}
	case EventReadReceiptChanged:
		ev = &ReadReceiptChanged{}
	case EventAuthAck:
		ev = &AuthAck{}
	case EventAuthError:
		ev = &AuthError{}
	case EventHeartbeatAck:
		ev = &HeartbeatAck{}
	case EventError:
		ev = &ErrorEvent{}
	case EventSystemAnnounce:
		ev = &SystemAnnouncement{}
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", head.Type)
	}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", head.Type, err)
	}
	return ev, nil
}
