package chat

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/chatd/internal/monitoring"
)

// ContactsProvider resolves which users should hear about another user's
// activity. Implementations may call out over the wire; the presence tracker
// is always invoked outside registry locks so a slow provider cannot stall
// registration.
type ContactsProvider interface {
	ContactsOf(userID string) ([]string, error)
}

// PresenceTracker turns registry connection-count transitions into
// user_status_changed broadcasts to the user's contacts. Presence is derived
// entirely from the registry; the tracker holds no state of its own.
type PresenceTracker struct {
	broadcaster *Broadcaster
	contacts    ContactsProvider
	logger      zerolog.Logger
}

// NewPresenceTracker creates a tracker. Wire it into the registry with
// SetPresenceListener before accepting connections.
func NewPresenceTracker(broadcaster *Broadcaster, contacts ContactsProvider, logger zerolog.Logger) *PresenceTracker {
	return &PresenceTracker{
		broadcaster: broadcaster,
		contacts:    contacts,
		logger:      logger.With().Str("component", "presence").Logger(),
	}
}

// UserOnline broadcasts an online transition to the user's contacts.
func (p *PresenceTracker) UserOnline(userID string) {
	monitoring.PresenceTransition(StatusOnline)
	p.notify(userID, StatusOnline)
}

// UserOffline broadcasts an offline transition to the user's contacts.
func (p *PresenceTracker) UserOffline(userID string) {
	monitoring.PresenceTransition(StatusOffline)
	p.notify(userID, StatusOffline)
}

func (p *PresenceTracker) notify(userID, status string) {
	contacts, err := p.contacts.ContactsOf(userID)
	if err != nil {
		p.logger.Error().Err(err).
			Str("user_id", userID).
			Str("status", status).
			Msg("Failed to resolve contacts, skipping presence broadcast")
		return
	}
	if len(contacts) == 0 {
		return
	}

	p.broadcaster.SendToUsers(contacts, &UserStatusChanged{
		UserID: userID,
		Status: status,
		At:     time.Now().UnixMilli(),
	}, userID)
}
