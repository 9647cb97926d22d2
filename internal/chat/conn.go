package chat

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Conn is the in-process handle for one live client connection: identity,
// send queue, and activity bookkeeping. The underlying socket is owned by the
// connection's Supervisor; the registry and broadcaster only ever see this
// handle and must not close anything through it.
type Conn struct {
	id        string
	createdAt time.Time

	// Owning user id. Empty until the first successful auth frame; written
	// once by the supervisor's read loop, read concurrently by tests and
	// cleanup paths.
	user atomic.Pointer[string]

	// Buffered channel of encoded outbound events, drained by the
	// supervisor's write loop in FIFO order.
	send chan []byte

	lastActive int64 // unix nanos, atomic
	dropped    int64 // events dropped due to a full send queue, atomic
}

// NewConn creates a connection handle with the given send queue capacity.
func NewConn(queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = 256
	}
	now := time.Now()
	return &Conn{
		id:         uuid.NewString(),
		createdAt:  now,
		send:       make(chan []byte, queueSize),
		lastActive: now.UnixNano(),
	}
}

// ID returns the unique connection id.
func (c *Conn) ID() string { return c.id }

// CreatedAt returns the accept time.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// UserID returns the bound user id, or "" before authentication.
func (c *Conn) UserID() string {
	if p := c.user.Load(); p != nil {
		return *p
	}
	return ""
}

func (c *Conn) bindUser(userID string) {
	c.user.Store(&userID)
}

// Enqueue places already-encoded event bytes on the send queue without
// blocking. A full queue drops the event for this connection only and bumps
// the drop counter; the connection stays open.
func (c *Conn) Enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		atomic.AddInt64(&c.dropped, 1)
		return false
	}
}

// TryRecv pops the next queued event without blocking. Used by tests and
// harnesses that inspect a connection's queue without a write loop attached.
func (c *Conn) TryRecv() ([]byte, bool) {
	select {
	case data := <-c.send:
		return data, true
	default:
		return nil, false
	}
}

// Dropped returns how many events were dropped on a full send queue.
func (c *Conn) Dropped() int64 {
	return atomic.LoadInt64(&c.dropped)
}

// QueueLen returns the current send queue depth.
func (c *Conn) QueueLen() int { return len(c.send) }

// QueueCap returns the send queue capacity.
func (c *Conn) QueueCap() int { return cap(c.send) }

func (c *Conn) touch() {
	atomic.StoreInt64(&c.lastActive, time.Now().UnixNano())
}

// LastActive returns the time of the last inbound frame.
func (c *Conn) LastActive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActive))
}
