// Package server ties the HTTP surface together: the WebSocket endpoint,
// health and metrics endpoints, and graceful shutdown.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adred-codev/chatd/internal/chat"
	"github.com/adred-codev/chatd/internal/config"
	"github.com/adred-codev/chatd/internal/limits"
	"github.com/adred-codev/chatd/internal/monitoring"
)

// Server accepts WebSocket connections and runs one supervisor per
// connection.
type Server struct {
	cfg      *config.Config
	registry *chat.Registry
	router   *chat.Router
	logger   zerolog.Logger

	connLimiter *limits.ConnRateLimiter

	// connectionsSem bounds concurrent connections; a slot is held from
	// upgrade to teardown.
	connectionsSem chan struct{}

	shuttingDown int32 // atomic

	supMu       sync.Mutex
	supervisors map[string]*chat.Supervisor

	httpServer *http.Server
	startedAt  time.Time
}

// New creates a server. The registry and router are built by the caller so
// tests can wire their own validators and contact providers.
func New(cfg *config.Config, registry *chat.Registry, router *chat.Router, connLimiter *limits.ConnRateLimiter, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:            cfg,
		registry:       registry,
		router:         router,
		logger:         logger.With().Str("component", "server").Logger(),
		connLimiter:    connLimiter,
		connectionsSem: make(chan struct{}, cfg.MaxConnections),
		supervisors:    make(map[string]*chat.Supervisor),
		startedAt:      time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/metrics", monitoring.HandleMetrics)

	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return s
}

// ListenAndServe runs the HTTP server until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("Server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// handleWebSocket upgrades the connection and hands it to a supervisor.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIP(r)

	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		monitoring.ConnectionRejected(monitoring.RejectReasonShuttingDown)
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if s.connLimiter != nil && !s.connLimiter.Allow(clientIP) {
		monitoring.ConnectionRejected(monitoring.RejectReasonRateLimited)
		s.logger.Warn().Str("client_ip", clientIP).Msg("Connection rejected, rate limit exceeded")
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	select {
	case s.connectionsSem <- struct{}{}:
	default:
		monitoring.ConnectionRejected(monitoring.RejectReasonAtCapacity)
		s.logger.Warn().
			Str("client_ip", clientIP).
			Int("max_connections", s.cfg.MaxConnections).
			Msg("Connection rejected, at capacity")
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	sock, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		<-s.connectionsSem
		monitoring.ConnectionRejected(monitoring.RejectReasonUpgrade)
		s.logger.Error().Err(err).Str("client_ip", clientIP).Msg("WebSocket upgrade failed")
		return
	}

	conn := chat.NewConn(s.cfg.SendQueueSize)
	sup := chat.NewSupervisor(sock, conn, s.registry, s.router, chat.SupervisorConfig{
		IdleTimeout:   s.cfg.IdleTimeout,
		WriteTimeout:  s.cfg.WriteTimeout,
		PingInterval:  s.cfg.PingInterval,
		MaxFrameBytes: s.cfg.MaxFrameBytes,
		FrameRate:     rate.Limit(s.cfg.FrameRate),
		FrameBurst:    s.cfg.FrameBurst,
	}, s.logger, func() {
		s.supMu.Lock()
		delete(s.supervisors, conn.ID())
		s.supMu.Unlock()
		<-s.connectionsSem
	})

	s.supMu.Lock()
	s.supervisors[conn.ID()] = sup
	s.supMu.Unlock()

	s.logger.Info().
		Str("client_ip", clientIP).
		Str("conn_id", conn.ID()).
		Msg("Client connected")

	go sup.Run()
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int64  `json:"connections"`
	UptimeSec   int64  `json:"uptimeSec"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		status = "shutting_down"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:      status,
		Connections: s.registry.ConnectionCount(),
		UptimeSec:   int64(time.Since(s.startedAt).Seconds()),
	})
}

// Shutdown stops accepting connections, tells every client the server is
// going away, and waits up to the grace period for connections to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	atomic.StoreInt32(&s.shuttingDown, 1)
	s.logger.Info().Msg("Shutdown started, draining connections")

	s.supMu.Lock()
	sups := make([]*chat.Supervisor, 0, len(s.supervisors))
	for _, sup := range s.supervisors {
		sups = append(sups, sup)
	}
	s.supMu.Unlock()

	for _, sup := range sups {
		sup.Shutdown()
	}

	deadline := time.NewTimer(s.cfg.ShutdownGrace)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

drain:
	for s.liveSupervisors() > 0 {
		select {
		case <-ticker.C:
		case <-deadline.C:
			s.logger.Warn().
				Int("remaining", s.liveSupervisors()).
				Msg("Drain grace expired with connections still open")
			break drain
		case <-ctx.Done():
			break drain
		}
	}

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) liveSupervisors() int {
	s.supMu.Lock()
	defer s.supMu.Unlock()
	return len(s.supervisors)
}

// clientIP extracts the client IP, preferring X-Forwarded-For when a load
// balancer fronts the server.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
