package chat

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const registryShards = 32

// PresenceListener is notified of a user's 0→1 and 1→0 connection-count
// transitions. The transition is detected under the shard lock but the
// listener is always invoked after the lock is released, so listeners may
// broadcast without stalling registry mutation.
type PresenceListener interface {
	UserOnline(userID string)
	UserOffline(userID string)
}

type registryShard struct {
	mu    sync.Mutex
	users map[string][]*Conn
}

// Registry maps user ids to their live connections. It is the only shared
// mutable structure in the core; all mutation happens inside short per-shard
// critical sections with no I/O. A user is online iff their connection set is
// non-empty.
type Registry struct {
	shards   [registryShards]registryShard
	listener PresenceListener
	total    int64 // atomic
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].users = make(map[string][]*Conn)
	}
	return r
}

// SetPresenceListener wires the presence tracker. Must be called before any
// connection is registered.
func (r *Registry) SetPresenceListener(l PresenceListener) {
	r.listener = l
}

func (r *Registry) shardFor(userID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &r.shards[h.Sum32()%registryShards]
}

// Register adds a connection to the user's set in registration order. The
// first connection for a user triggers a presence-online notification.
func (r *Registry) Register(userID string, c *Conn) {
	s := r.shardFor(userID)

	s.mu.Lock()
	s.users[userID] = append(s.users[userID], c)
	first := len(s.users[userID]) == 1
	s.mu.Unlock()

	atomic.AddInt64(&r.total, 1)
	if first && r.listener != nil {
		r.listener.UserOnline(userID)
	}
}

// Unregister removes the connection with the given id from the user's set.
// Idempotent: removing an absent connection is a no-op returning false.
// Returns true only when the user's set becomes empty, which also triggers a
// presence-offline notification.
func (r *Registry) Unregister(userID, connID string) bool {
	s := r.shardFor(userID)

	s.mu.Lock()
	conns := s.users[userID]
	idx := -1
	for i, c := range conns {
		if c.id == connID {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return false
	}
	conns = append(conns[:idx], conns[idx+1:]...)
	last := len(conns) == 0
	if last {
		delete(s.users, userID)
	} else {
		s.users[userID] = conns
	}
	s.mu.Unlock()

	atomic.AddInt64(&r.total, -1)
	if last && r.listener != nil {
		r.listener.UserOffline(userID)
	}
	return last
}

// ConnectionsFor returns a snapshot of the user's connections in registration
// order. The snapshot does not reflect later mutations; sends happen against
// it outside the registry's critical section.
func (r *Registry) ConnectionsFor(userID string) []*Conn {
	s := r.shardFor(userID)

	s.mu.Lock()
	conns := s.users[userID]
	if len(conns) == 0 {
		s.mu.Unlock()
		return nil
	}
	out := make([]*Conn, len(conns))
	copy(out, conns)
	s.mu.Unlock()
	return out
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	s := r.shardFor(userID)

	s.mu.Lock()
	online := len(s.users[userID]) > 0
	s.mu.Unlock()
	return online
}

// OnlineUsers returns a snapshot of all user ids with at least one live
// connection. Shards are locked one at a time, so the snapshot is consistent
// per shard, not globally.
func (r *Registry) OnlineUsers() []string {
	var out []string
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for userID := range s.users {
			out = append(out, userID)
		}
		s.mu.Unlock()
	}
	return out
}

// ConnectionCount returns the total number of registered connections.
func (r *Registry) ConnectionCount() int64 {
	return atomic.LoadInt64(&r.total)
}
