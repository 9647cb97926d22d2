package chat

import (
	"sync"
	"sync/atomic"
	"testing"
)

type recordingListener struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (l *recordingListener) UserOnline(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.online = append(l.online, userID)
}

func (l *recordingListener) UserOffline(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offline = append(l.offline, userID)
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.online), len(l.offline)
}

func TestRegistryRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	listener := &recordingListener{}
	r.SetPresenceListener(listener)

	c := NewConn(8)
	r.Register("alice", c)

	if !r.IsOnline("alice") {
		t.Fatal("alice should be online after register")
	}
	if got := r.ConnectionCount(); got != 1 {
		t.Fatalf("expected 1 connection, got %d", got)
	}

	last := r.Unregister("alice", c.ID())
	if !last {
		t.Fatal("removing the only connection must report last=true")
	}
	if r.IsOnline("alice") {
		t.Fatal("alice should be offline after unregister")
	}

	online, offline := listener.counts()
	if online != 1 || offline != 1 {
		t.Fatalf("expected exactly one online and one offline notification, got %d/%d", online, offline)
	}
}

func TestRegistryUnregisterIdempotent(t *testing.T) {
	r := NewRegistry()
	c := NewConn(8)
	r.Register("alice", c)

	if !r.Unregister("alice", c.ID()) {
		t.Fatal("first unregister must succeed")
	}
	if r.Unregister("alice", c.ID()) {
		t.Fatal("second unregister must be a no-op")
	}
	if r.Unregister("alice", "no-such-conn") {
		t.Fatal("unregistering an unknown connection must be a no-op")
	}
	if got := r.ConnectionCount(); got != 0 {
		t.Fatalf("expected 0 connections, got %d", got)
	}
}

func TestRegistryMultipleConnectionsPerUser(t *testing.T) {
	r := NewRegistry()
	listener := &recordingListener{}
	r.SetPresenceListener(listener)

	c1 := NewConn(8)
	c2 := NewConn(8)
	r.Register("alice", c1)
	r.Register("alice", c2)

	conns := r.ConnectionsFor("alice")
	if len(conns) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(conns))
	}
	if conns[0].ID() != c1.ID() || conns[1].ID() != c2.ID() {
		t.Fatal("connections must be returned in registration order")
	}

	// Closing one device keeps the user online.
	if last := r.Unregister("alice", c1.ID()); last {
		t.Fatal("user with a remaining connection must not go offline")
	}
	if !r.IsOnline("alice") {
		t.Fatal("alice should still be online")
	}

	if last := r.Unregister("alice", c2.ID()); !last {
		t.Fatal("removing the final connection must report last=true")
	}

	online, offline := listener.counts()
	if online != 1 || offline != 1 {
		t.Fatalf("expected one online and one offline notification, got %d/%d", online, offline)
	}
}

func TestRegistrySnapshotUnaffectedByLaterMutation(t *testing.T) {
	r := NewRegistry()
	c1 := NewConn(8)
	c2 := NewConn(8)
	r.Register("alice", c1)
	r.Register("alice", c2)

	snapshot := r.ConnectionsFor("alice")
	r.Unregister("alice", c1.ID())

	if len(snapshot) != 2 {
		t.Fatalf("snapshot must not shrink after unregister, got %d", len(snapshot))
	}
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r := NewRegistry()

	var online, offline int64
	r.SetPresenceListener(&funcListener{
		onOnline:  func(string) { atomic.AddInt64(&online, 1) },
		onOffline: func(string) { atomic.AddInt64(&offline, 1) },
	})

	const workers = 16
	const rounds = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				c := NewConn(8)
				r.Register("alice", c)
				r.Unregister("alice", c.ID())
			}
		}()
	}
	wg.Wait()

	if r.IsOnline("alice") {
		t.Fatal("alice must be offline after all connections closed")
	}
	if got := r.ConnectionCount(); got != 0 {
		t.Fatalf("expected 0 connections, got %d", got)
	}
	if atomic.LoadInt64(&online) != atomic.LoadInt64(&offline) {
		t.Fatalf("online and offline notifications must pair up, got %d/%d", online, offline)
	}
}

type funcListener struct {
	onOnline  func(string)
	onOffline func(string)
}

func (l *funcListener) UserOnline(userID string)  { l.onOnline(userID) }
func (l *funcListener) UserOffline(userID string) { l.onOffline(userID) }

func TestRegistryOnlineUsers(t *testing.T) {
	r := NewRegistry()
	users := []string{"alice", "bob", "carol"}
	for _, u := range users {
		r.Register(u, NewConn(8))
	}

	got := r.OnlineUsers()
	if len(got) != len(users) {
		t.Fatalf("expected %d online users, got %d", len(users), len(got))
	}
	seen := make(map[string]bool, len(got))
	for _, u := range got {
		seen[u] = true
	}
	for _, u := range users {
		if !seen[u] {
			t.Fatalf("missing user %s in online snapshot", u)
		}
	}
}
