// Package contacts resolves which users should hear about another user's
// activity. The canonical contact graph lives in the REST API's database;
// this service only queries it.
package contacts

import "sync"

// StaticProvider serves a fixed in-memory contact graph. Used in tests and
// single-binary development setups.
type StaticProvider struct {
	mu       sync.RWMutex
	contacts map[string][]string
}

// NewStaticProvider creates a provider over the given graph. The map is
// copied; later mutation of the argument does not affect the provider.
func NewStaticProvider(graph map[string][]string) *StaticProvider {
	contacts := make(map[string][]string, len(graph))
	for userID, list := range graph {
		contacts[userID] = append([]string(nil), list...)
	}
	return &StaticProvider{contacts: contacts}
}

// ContactsOf returns the user's contacts. Unknown users have no contacts.
func (p *StaticProvider) ContactsOf(userID string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.contacts[userID]...), nil
}

// Set replaces the user's contact list.
func (p *StaticProvider) Set(userID string, list []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contacts[userID] = append([]string(nil), list...)
}
