package chat

import (
	"testing"

	"github.com/rs/zerolog"
)

func testBroadcaster(t *testing.T) (*Broadcaster, *Registry) {
	t.Helper()
	r := NewRegistry()
	return NewBroadcaster(r, zerolog.Nop()), r
}

func drain(t *testing.T, c *Conn) [][]byte {
	t.Helper()
	var out [][]byte
	for {
		select {
		case data := <-c.send:
			out = append(out, data)
		default:
			return out
		}
	}
}

func TestSendToUserAllConnections(t *testing.T) {
	b, r := testBroadcaster(t)
	c1 := NewConn(8)
	c2 := NewConn(8)
	r.Register("alice", c1)
	r.Register("alice", c2)

	b.SendToUser("alice", &HeartbeatAck{ServerTime: 1})

	if got := len(drain(t, c1)); got != 1 {
		t.Fatalf("expected 1 event on first connection, got %d", got)
	}
	if got := len(drain(t, c2)); got != 1 {
		t.Fatalf("expected 1 event on second connection, got %d", got)
	}
}

func TestSendToUsersSerializesOnce(t *testing.T) {
	b, r := testBroadcaster(t)
	c1 := NewConn(8)
	c2 := NewConn(8)
	r.Register("alice", c1)
	r.Register("bob", c2)

	b.SendToUsers([]string{"alice", "bob"}, &NewMessage{MessageID: "m1", ChatID: "c1"}, "")

	d1 := drain(t, c1)
	d2 := drain(t, c2)
	if len(d1) != 1 || len(d2) != 1 {
		t.Fatalf("expected 1 event each, got %d and %d", len(d1), len(d2))
	}
	// Both recipients must share the same encoded bytes.
	if &d1[0][0] != &d2[0][0] {
		t.Fatal("recipients must receive the same backing array, not a re-encoded copy")
	}
}

func TestSendToUsersDedupesAndExcludes(t *testing.T) {
	b, r := testBroadcaster(t)
	alice := NewConn(8)
	bob := NewConn(8)
	r.Register("alice", alice)
	r.Register("bob", bob)

	b.SendToUsers([]string{"alice", "alice", "bob", "bob"}, &TypingChanged{ChatID: "c1", UserID: "bob"}, "bob")

	if got := len(drain(t, alice)); got != 1 {
		t.Fatalf("duplicate user ids must deliver once, got %d", got)
	}
	if got := len(drain(t, bob)); got != 0 {
		t.Fatalf("excluded user must receive nothing, got %d", got)
	}
}

func TestSendToUsersSkipsOffline(t *testing.T) {
	b, r := testBroadcaster(t)
	alice := NewConn(8)
	r.Register("alice", alice)

	b.SendToUsers([]string{"alice", "nobody"}, &HeartbeatAck{}, "")

	if got := len(drain(t, alice)); got != 1 {
		t.Fatalf("expected 1 event, got %d", got)
	}
}

func TestBroadcastDropsOnFullQueue(t *testing.T) {
	b, r := testBroadcaster(t)
	slow := NewConn(2)
	fast := NewConn(8)
	r.Register("alice", slow)
	r.Register("bob", fast)

	for i := 0; i < 3; i++ {
		b.SendToUsers([]string{"alice", "bob"}, &HeartbeatAck{ServerTime: int64(i)}, "")
	}

	if got := len(drain(t, slow)); got != 2 {
		t.Fatalf("slow consumer must keep only its queue capacity, got %d", got)
	}
	if got := slow.Dropped(); got != 1 {
		t.Fatalf("expected 1 dropped event, got %d", got)
	}
	if got := len(drain(t, fast)); got != 3 {
		t.Fatalf("fast consumer must receive all events, got %d", got)
	}
	if got := fast.Dropped(); got != 0 {
		t.Fatalf("fast consumer must drop nothing, got %d", got)
	}
}

func TestSendToAll(t *testing.T) {
	b, r := testBroadcaster(t)
	conns := make([]*Conn, 3)
	users := []string{"alice", "bob", "carol"}
	for i, u := range users {
		conns[i] = NewConn(8)
		r.Register(u, conns[i])
	}

	b.SendToAll(&SystemAnnouncement{Code: "maintenance", Message: "soon"}, "")

	for i, c := range conns {
		if got := len(drain(t, c)); got != 1 {
			t.Fatalf("user %s expected 1 event, got %d", users[i], got)
		}
	}
}

func TestSendToAllWithExclusion(t *testing.T) {
	b, r := testBroadcaster(t)
	alice := NewConn(8)
	bob := NewConn(8)
	r.Register("alice", alice)
	r.Register("bob", bob)

	b.SendToAll(&SystemAnnouncement{Code: "maintenance"}, "alice")

	if got := len(drain(t, alice)); got != 0 {
		t.Fatalf("excluded user must receive nothing, got %d", got)
	}
	if got := len(drain(t, bob)); got != 1 {
		t.Fatalf("bob expected 1 event, got %d", got)
	}
}

func TestSendToConn(t *testing.T) {
	b, _ := testBroadcaster(t)
	c := NewConn(8)

	b.SendToConn(c, &AuthAck{UserID: "alice"})

	msgs := drain(t, c)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(msgs))
	}
	ev, err := DecodeEvent(msgs[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ack, ok := ev.(*AuthAck); !ok || ack.UserID != "alice" {
		t.Fatalf("unexpected event: %#v", ev)
	}
}
