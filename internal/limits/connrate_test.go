package limits

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestAllowWithinBurst(t *testing.T) {
	l := NewConnRateLimiter(ConnRateLimiterConfig{
		IPRate:     1,
		IPBurst:    3,
		GlobalRate: 1000,
		Logger:     zerolog.Nop(),
	})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("attempt %d within burst must be allowed", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("attempt beyond burst must be rejected")
	}
}

func TestPerIPIsolation(t *testing.T) {
	l := NewConnRateLimiter(ConnRateLimiterConfig{
		IPRate:     1,
		IPBurst:    1,
		GlobalRate: 1000,
		Logger:     zerolog.Nop(),
	})
	defer l.Stop()

	if !l.Allow("10.0.0.1") {
		t.Fatal("first IP must be allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("first IP must be exhausted")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatal("second IP must have its own bucket")
	}
}

func TestGlobalLimit(t *testing.T) {
	l := NewConnRateLimiter(ConnRateLimiterConfig{
		IPRate:      1000,
		IPBurst:     1000,
		GlobalRate:  1,
		GlobalBurst: 2,
		Logger:      zerolog.Nop(),
	})
	defer l.Stop()

	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.2") {
		t.Fatal("attempts within global burst must be allowed")
	}
	if l.Allow("10.0.0.3") {
		t.Fatal("attempt beyond global burst must be rejected")
	}
}

func TestCleanupDropsIdleIPs(t *testing.T) {
	l := NewConnRateLimiter(ConnRateLimiterConfig{
		IPRate:     1000,
		IPBurst:    1000,
		IPTTL:      10 * time.Millisecond,
		GlobalRate: 1000,
		Logger:     zerolog.Nop(),
	})
	defer l.Stop()

	l.Allow("10.0.0.1")
	l.Allow("10.0.0.2")
	if got := l.TrackedIPs(); got != 2 {
		t.Fatalf("expected 2 tracked IPs, got %d", got)
	}

	time.Sleep(20 * time.Millisecond)
	l.cleanup()

	if got := l.TrackedIPs(); got != 0 {
		t.Fatalf("expected idle IPs to be dropped, got %d", got)
	}
}
