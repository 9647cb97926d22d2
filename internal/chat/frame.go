package chat

import (
	"encoding/json"
	"fmt"
)

// Inbound frame type discriminators. Each WebSocket text frame carries a JSON
// object with a "type" field plus type-specific fields.
const (
	FrameAuth        = "auth"
	FrameTyping      = "typing"
	FrameReadReceipt = "read_receipt"
	FrameHeartbeat   = "heartbeat"
)

// Frame is one parsed inbound unit. The set of implementations is closed;
// dispatch switches over it exhaustively.
type Frame interface {
	Kind() string
}

// AuthFrame binds a connection to a user identity.
type AuthFrame struct {
	Token string `json:"token"`
}

func (f *AuthFrame) Kind() string { return FrameAuth }

// TypingFrame signals that the sender started or stopped typing in a chat.
type TypingFrame struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

func (f *TypingFrame) Kind() string { return FrameTyping }

// ReadReceiptFrame marks a message as read by the sender.
type ReadReceiptFrame struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

func (f *ReadReceiptFrame) Kind() string { return FrameReadReceipt }

// HeartbeatFrame is an application-level keep-alive. Always answered,
// authenticated or not.
type HeartbeatFrame struct{}

func (f *HeartbeatFrame) Kind() string { return FrameHeartbeat }

// UnknownFrame carries an unrecognized type tag. Dispatch logs and drops it;
// an unknown tag is never fatal to the connection.
type UnknownFrame struct {
	Type string
}

func (f *UnknownFrame) Kind() string { return f.Type }

// ParseError reports a malformed inbound frame. The frame is dropped; the
// connection stays open.
type ParseError struct {
	Reason string
	cause  error
}

func (e *ParseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("parse frame: %s: %v", e.Reason, e.cause)
	}
	return "parse frame: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.cause }

// ParseFrame decodes raw frame bytes into a typed Frame. Parsing is pure and
// side-effect free. Malformed bytes or missing required fields yield a
// *ParseError, never a partial command. An unrecognized type tag yields an
// UnknownFrame so the caller can log and drop it.
func ParseFrame(raw []byte) (Frame, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", cause: err}
	}
	if head.Type == "" {
		return nil, &ParseError{Reason: "missing type field"}
	}

	switch head.Type {
	case FrameAuth:
		var f AuthFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, &ParseError{Reason: "invalid auth frame", cause: err}
		}
		if f.Token == "" {
			return nil, &ParseError{Reason: "auth frame missing token"}
		}
		return &f, nil

	case FrameTyping:
		var f TypingFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, &ParseError{Reason: "invalid typing frame", cause: err}
		}
		if f.ChatID == "" {
			return nil, &ParseError{Reason: "typing frame missing chatId"}
		}
		return &f, nil

	case FrameReadReceipt:
		var f ReadReceiptFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, &ParseError{Reason: "invalid read receipt frame", cause: err}
		}
		if f.ChatID == "" || f.MessageID == "" {
			return nil, &ParseError{Reason: "read receipt frame missing chatId or messageId"}
		}
		return &f, nil

	case FrameHeartbeat:
		return &HeartbeatFrame{}, nil

	default:
		return &UnknownFrame{Type: head.Type}, nil
	}
}
