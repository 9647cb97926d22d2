package chat

import (
	"github.com/rs/zerolog"

	"github.com/adred-codev/chatd/internal/monitoring"
)

// Broadcaster fans encoded events out to registry connections. Every call
// serializes the event exactly once and enqueues the same byte slice for each
// recipient connection; slow consumers lose the event without delaying anyone
// else.
type Broadcaster struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewBroadcaster creates a broadcaster over the given registry.
func NewBroadcaster(registry *Registry, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		logger:   logger.With().Str("component", "broadcaster").Logger(),
	}
}

// SendToUser delivers the event to every connection of one user.
func (b *Broadcaster) SendToUser(userID string, ev Event) {
	b.SendToUsers([]string{userID}, ev, "")
}

// SendToUsers delivers the event to every connection of every listed user,
// except connections owned by excludeUserID. Duplicate user ids in the list
// are delivered once. Offline users are skipped silently.
func (b *Broadcaster) SendToUsers(userIDs []string, ev Event, excludeUserID string) {
	data, err := EncodeEvent(ev)
	if err != nil {
		b.logger.Error().Err(err).Str("event", ev.Kind()).Msg("Failed to encode event")
		return
	}

	seen := make(map[string]struct{}, len(userIDs))
	for _, userID := range userIDs {
		if userID == "" || userID == excludeUserID {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		b.deliver(userID, ev.Kind(), data)
	}
}

// SendToAll delivers the event to every registered connection, except those
// owned by excludeUserID.
func (b *Broadcaster) SendToAll(ev Event, excludeUserID string) {
	data, err := EncodeEvent(ev)
	if err != nil {
		b.logger.Error().Err(err).Str("event", ev.Kind()).Msg("Failed to encode event")
		return
	}
	for _, userID := range b.registry.OnlineUsers() {
		if userID == excludeUserID {
			continue
		}
		b.deliver(userID, ev.Kind(), data)
	}
}

// SendToConn delivers the event to one specific connection, bypassing the
// registry. Used for per-connection replies such as auth acks and heartbeats.
func (b *Broadcaster) SendToConn(c *Conn, ev Event) {
	data, err := EncodeEvent(ev)
	if err != nil {
		b.logger.Error().Err(err).Str("event", ev.Kind()).Msg("Failed to encode event")
		return
	}
	b.enqueue(c, ev.Kind(), data)
}

func (b *Broadcaster) deliver(userID, kind string, data []byte) {
	for _, c := range b.registry.ConnectionsFor(userID) {
		b.enqueue(c, kind, data)
	}
}

func (b *Broadcaster) enqueue(c *Conn, kind string, data []byte) {
	if c.Enqueue(data) {
		monitoring.EventSent(kind)
		return
	}
	monitoring.EventDropped(kind)
	// Sample the warning so a persistently slow consumer can't flood logs.
	if dropped := c.Dropped(); dropped == 1 || dropped%100 == 0 {
		b.logger.Warn().
			Str("conn_id", c.ID()).
			Str("user_id", c.UserID()).
			Str("event", kind).
			Int64("dropped", dropped).
			Msg("Send queue full, dropping event")
	}
}
