package contacts

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// SubjectContactsOf is the request-reply subject answered by the REST API.
const SubjectContactsOf = "chat.contacts.of"

type contactsRequest struct {
	UserID string `json:"userId"`
}

type contactsReply struct {
	Contacts []string `json:"contacts"`
}

// NATSProvider resolves contacts over NATS request-reply, with a short
// in-memory cache so presence churn does not hammer the REST API.
type NATSProvider struct {
	conn    *nats.Conn
	timeout time.Duration
	logger  zerolog.Logger

	cacheTTL time.Duration
	cacheMu  sync.Mutex
	cache    map[string]cacheEntry
}

type cacheEntry struct {
	contacts []string
	expires  time.Time
}

// NewNATSProvider creates a provider using the given connection. Requests
// time out after timeout; replies are cached for cacheTTL (zero disables the
// cache).
func NewNATSProvider(conn *nats.Conn, timeout, cacheTTL time.Duration, logger zerolog.Logger) *NATSProvider {
	return &NATSProvider{
		conn:     conn,
		timeout:  timeout,
		logger:   logger.With().Str("component", "contacts_provider").Logger(),
		cacheTTL: cacheTTL,
		cache:    make(map[string]cacheEntry),
	}
}

// ContactsOf resolves the user's contacts via request-reply.
func (p *NATSProvider) ContactsOf(userID string) ([]string, error) {
	if p.cacheTTL > 0 {
		p.cacheMu.Lock()
		entry, ok := p.cache[userID]
		p.cacheMu.Unlock()
		if ok && time.Now().Before(entry.expires) {
			return entry.contacts, nil
		}
	}

	req, err := json.Marshal(contactsRequest{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("encode contacts request: %w", err)
	}

	msg, err := p.conn.Request(SubjectContactsOf, req, p.timeout)
	if err != nil {
		return nil, fmt.Errorf("contacts request for %s: %w", userID, err)
	}

	var reply contactsReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decode contacts reply for %s: %w", userID, err)
	}

	if p.cacheTTL > 0 {
		p.cacheMu.Lock()
		p.cache[userID] = cacheEntry{
			contacts: reply.Contacts,
			expires:  time.Now().Add(p.cacheTTL),
		}
		p.cacheMu.Unlock()
	}
	return reply.Contacts, nil
}
