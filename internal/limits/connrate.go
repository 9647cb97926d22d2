package limits

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ConnRateLimiter throttles connection attempts before the WebSocket upgrade.
//
// Two levels:
//   - Per-IP: a single client cannot flood the accept path.
//   - Global: distributed reconnect storms cannot overload the server.
//
// Both use token buckets from golang.org/x/time/rate. Per-IP limiters are
// dropped after a TTL of inactivity so the map stays bounded.
type ConnRateLimiter struct {
	ipMu       sync.Mutex
	ipLimiters map[string]*ipLimiterEntry
	ipRate     rate.Limit
	ipBurst    int
	ipTTL      time.Duration

	globalLimiter *rate.Limiter

	logger zerolog.Logger

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ConnRateLimiterConfig configures connection-attempt throttling. Zero values
// take the defaults noted per field.
type ConnRateLimiterConfig struct {
	IPRate  float64       // sustained attempts/sec per IP (default 10)
	IPBurst int           // burst attempts per IP (default 20)
	IPTTL   time.Duration // drop idle per-IP limiters after this (default 10m)

	GlobalRate  float64 // sustained attempts/sec system-wide (default 500)
	GlobalBurst int     // burst attempts system-wide (default 1000)

	Logger zerolog.Logger
}

// NewConnRateLimiter creates the limiter and starts its cleanup goroutine.
func NewConnRateLimiter(config ConnRateLimiterConfig) *ConnRateLimiter {
	if config.IPRate == 0 {
		config.IPRate = 10
	}
	if config.IPBurst == 0 {
		config.IPBurst = 20
	}
	if config.IPTTL == 0 {
		config.IPTTL = 10 * time.Minute
	}
	if config.GlobalRate == 0 {
		config.GlobalRate = 500
	}
	if config.GlobalBurst == 0 {
		config.GlobalBurst = 2 * int(config.GlobalRate)
	}

	l := &ConnRateLimiter{
		ipLimiters:    make(map[string]*ipLimiterEntry),
		ipRate:        rate.Limit(config.IPRate),
		ipBurst:       config.IPBurst,
		ipTTL:         config.IPTTL,
		globalLimiter: rate.NewLimiter(rate.Limit(config.GlobalRate), config.GlobalBurst),
		logger:        config.Logger.With().Str("component", "conn_rate_limiter").Logger(),
		stopCleanup:   make(chan struct{}),
	}

	l.cleanupTicker = time.NewTicker(time.Minute)
	go l.cleanupLoop()

	return l
}

// Allow reports whether a connection attempt from the given IP may proceed.
// The global bucket is checked first so a distributed flood is rejected
// without touching the per-IP map.
func (l *ConnRateLimiter) Allow(ip string) bool {
	if !l.globalLimiter.Allow() {
		l.logger.Debug().Str("ip", ip).Msg("Connection rejected by global rate limit")
		return false
	}

	l.ipMu.Lock()
	entry, ok := l.ipLimiters[ip]
	if !ok {
		entry = &ipLimiterEntry{
			limiter: rate.NewLimiter(l.ipRate, l.ipBurst),
		}
		l.ipLimiters[ip] = entry
	}
	entry.lastAccess = time.Now()
	l.ipMu.Unlock()

	if !entry.limiter.Allow() {
		l.logger.Debug().Str("ip", ip).Msg("Connection rejected by per-IP rate limit")
		return false
	}
	return true
}

// Stop halts the cleanup goroutine. Idempotent.
func (l *ConnRateLimiter) Stop() {
	l.stopOnce.Do(func() {
		l.cleanupTicker.Stop()
		close(l.stopCleanup)
	})
}

func (l *ConnRateLimiter) cleanupLoop() {
	for {
		select {
		case <-l.cleanupTicker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *ConnRateLimiter) cleanup() {
	cutoff := time.Now().Add(-l.ipTTL)

	l.ipMu.Lock()
	removed := 0
	for ip, entry := range l.ipLimiters {
		if entry.lastAccess.Before(cutoff) {
			delete(l.ipLimiters, ip)
			removed++
		}
	}
	remaining := len(l.ipLimiters)
	l.ipMu.Unlock()

	if removed > 0 {
		l.logger.Debug().
			Int("removed", removed).
			Int("remaining", remaining).
			Msg("Cleaned up idle per-IP limiters")
	}
}

// TrackedIPs returns how many per-IP limiters are currently held.
func (l *ConnRateLimiter) TrackedIPs() int {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()
	return len(l.ipLimiters)
}
