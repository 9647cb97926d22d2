// Package gateway bridges the message bus into WebSocket fan-out. The REST
// API publishes events after persisting them; this service subscribes and
// pushes them to connected recipients.
package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/adred-codev/chatd/internal/chat"
	"github.com/adred-codev/chatd/internal/monitoring"
)

// Bus subjects.
const (
	// SubjectMessagePersisted carries messages the REST API has stored.
	SubjectMessagePersisted = "chat.message.persisted"

	// SubjectSystemAnnounce carries operator announcements for every
	// connected client.
	SubjectSystemAnnounce = "chat.system.announce"
)

// Dial connects to NATS with reconnect handling wired into logs and the
// connectivity gauge.
func Dial(url string, logger zerolog.Logger) (*nats.Conn, error) {
	log := logger.With().Str("component", "nats").Logger()

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectJitter(500*time.Millisecond, 2*time.Second),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
			monitoring.SetNATSConnected(true)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
			monitoring.SetNATSConnected(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
			monitoring.SetNATSConnected(true)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	monitoring.SetNATSConnected(true)
	return conn, nil
}

// persistedMessage is the bus payload published by the REST API after a
// message is stored.
type persistedMessage struct {
	MessageID  string   `json:"messageId"`
	ChatID     string   `json:"chatId"`
	SenderID   string   `json:"senderId"`
	Body       string   `json:"body"`
	SentAt     int64    `json:"sentAt"`
	Recipients []string `json:"recipients"`
}

// systemAnnouncement is the bus payload for operator broadcasts.
type systemAnnouncement struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Consumer subscribes to bus subjects and fans events out to connections.
type Consumer struct {
	conn        *nats.Conn
	broadcaster *chat.Broadcaster
	logger      zerolog.Logger
	subs        []*nats.Subscription
}

// NewConsumer creates a consumer over the given connection.
func NewConsumer(conn *nats.Conn, broadcaster *chat.Broadcaster, logger zerolog.Logger) *Consumer {
	return &Consumer{
		conn:        conn,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "bus_consumer").Logger(),
	}
}

// Start subscribes to all bus subjects.
func (c *Consumer) Start() error {
	sub, err := c.conn.Subscribe(SubjectMessagePersisted, func(msg *nats.Msg) {
		monitoring.BusMessage(SubjectMessagePersisted)
		c.handlePersisted(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", SubjectMessagePersisted, err)
	}
	c.subs = append(c.subs, sub)

	sub, err = c.conn.Subscribe(SubjectSystemAnnounce, func(msg *nats.Msg) {
		monitoring.BusMessage(SubjectSystemAnnounce)
		c.handleAnnounce(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", SubjectSystemAnnounce, err)
	}
	c.subs = append(c.subs, sub)

	c.logger.Info().
		Strs("subjects", []string{SubjectMessagePersisted, SubjectSystemAnnounce}).
		Msg("Bus consumer started")
	return nil
}

// Stop drains all subscriptions.
func (c *Consumer) Stop() {
	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn().Err(err).Str("subject", sub.Subject).Msg("Failed to drain subscription")
		}
	}
	c.subs = nil
}

// handlePersisted fans one stored message out to its recipients. The sender
// is included when listed; their other devices need the message too.
func (c *Consumer) handlePersisted(data []byte) {
	var msg persistedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		monitoring.BusError()
		c.logger.Error().Err(err).Msg("Dropping malformed persisted message")
		return
	}
	if msg.MessageID == "" || msg.ChatID == "" || len(msg.Recipients) == 0 {
		monitoring.BusError()
		c.logger.Error().
			Str("message_id", msg.MessageID).
			Str("chat_id", msg.ChatID).
			Int("recipients", len(msg.Recipients)).
			Msg("Dropping persisted message with missing fields")
		return
	}

	c.broadcaster.SendToUsers(msg.Recipients, &chat.NewMessage{
		MessageID: msg.MessageID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Body:      msg.Body,
		SentAt:    msg.SentAt,
	}, "")
}

// handleAnnounce pushes an operator announcement to every connection.
func (c *Consumer) handleAnnounce(data []byte) {
	var ann systemAnnouncement
	if err := json.Unmarshal(data, &ann); err != nil {
		monitoring.BusError()
		c.logger.Error().Err(err).Msg("Dropping malformed announcement")
		return
	}

	c.broadcaster.SendToAll(&chat.SystemAnnouncement{
		Code:    ann.Code,
		Message: ann.Message,
	}, "")
}
