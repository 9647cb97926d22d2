package chat

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/chatd/internal/monitoring"
)

// AuthValidator checks a client-supplied credential and returns the user id
// it authenticates.
type AuthValidator interface {
	Validate(token string) (string, error)
}

// Router dispatches parsed inbound frames against per-connection state.
// Frames that require authentication are rejected with an auth_error while
// the connection is still anonymous; the connection itself stays open.
type Router struct {
	validator   AuthValidator
	contacts    ContactsProvider
	broadcaster *Broadcaster
	logger      zerolog.Logger
}

// NewRouter creates a router.
func NewRouter(validator AuthValidator, contacts ContactsProvider, broadcaster *Broadcaster, logger zerolog.Logger) *Router {
	return &Router{
		validator:   validator,
		contacts:    contacts,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "router").Logger(),
	}
}

// Dispatch routes one parsed frame for the given supervisor's connection.
func (r *Router) Dispatch(s *Supervisor, f Frame) {
	monitoring.FrameReceived(f.Kind())

	switch frame := f.(type) {
	case *AuthFrame:
		r.handleAuth(s, frame)
	case *TypingFrame:
		r.handleTyping(s, frame)
	case *ReadReceiptFrame:
		r.handleReadReceipt(s, frame)
	case *HeartbeatFrame:
		r.broadcaster.SendToConn(s.Conn(), &HeartbeatAck{ServerTime: time.Now().UnixMilli()})
	case *UnknownFrame:
		r.logger.Warn().
			Str("conn_id", s.Conn().ID()).
			Str("type", frame.Type).
			Msg("Dropping frame with unknown type")
	}
}

func (r *Router) handleAuth(s *Supervisor, frame *AuthFrame) {
	c := s.Conn()
	if c.UserID() != "" {
		r.broadcaster.SendToConn(c, &AuthError{
			Code:    "already_authenticated",
			Message: "connection is already bound to a user",
		})
		return
	}

	userID, err := r.validator.Validate(frame.Token)
	if err != nil {
		monitoring.AuthFailure()
		r.logger.Warn().Err(err).
			Str("conn_id", c.ID()).
			Msg("Authentication failed")
		r.broadcaster.SendToConn(c, &AuthError{
			Code:    "invalid_token",
			Message: "token rejected",
		})
		return
	}

	if !s.bindAndRegister(userID) {
		// Connection is already shutting down; nothing to acknowledge.
		return
	}

	r.logger.Info().
		Str("conn_id", c.ID()).
		Str("user_id", userID).
		Msg("Connection authenticated")
	r.broadcaster.SendToConn(c, &AuthAck{UserID: userID})
}

func (r *Router) handleTyping(s *Supervisor, frame *TypingFrame) {
	c := s.Conn()
	userID := c.UserID()
	if userID == "" {
		r.rejectUnauthenticated(c, FrameTyping)
		return
	}

	contacts, err := r.contacts.ContactsOf(userID)
	if err != nil {
		r.logger.Error().Err(err).
			Str("user_id", userID).
			Msg("Failed to resolve contacts for typing fan-out")
		return
	}

	r.broadcaster.SendToUsers(contacts, &TypingChanged{
		ChatID:   frame.ChatID,
		UserID:   userID,
		IsTyping: frame.IsTyping,
	}, userID)
}

func (r *Router) handleReadReceipt(s *Supervisor, frame *ReadReceiptFrame) {
	c := s.Conn()
	userID := c.UserID()
	if userID == "" {
		r.rejectUnauthenticated(c, FrameReadReceipt)
		return
	}

	contacts, err := r.contacts.ContactsOf(userID)
	if err != nil {
		r.logger.Error().Err(err).
			Str("user_id", userID).
			Msg("Failed to resolve contacts for read receipt fan-out")
		return
	}

	r.broadcaster.SendToUsers(contacts, &ReadReceiptChanged{
		ChatID:    frame.ChatID,
		MessageID: frame.MessageID,
		UserID:    userID,
	}, userID)
}

func (r *Router) rejectUnauthenticated(c *Conn, kind string) {
	monitoring.AuthFailure()
	r.logger.Warn().
		Str("conn_id", c.ID()).
		Str("type", kind).
		Msg("Dropping frame from unauthenticated connection")
	r.broadcaster.SendToConn(c, &AuthError{
		Code:    "not_authenticated",
		Message: "authenticate before sending " + kind + " frames",
	})
}
