package chat

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adred-codev/chatd/internal/monitoring"
)

// SupervisorConfig tunes one connection's lifecycle.
type SupervisorConfig struct {
	// IdleTimeout closes the connection when no inbound frame arrives
	// within this window. Heartbeat frames count as activity.
	IdleTimeout time.Duration

	// WriteTimeout bounds each socket write.
	WriteTimeout time.Duration

	// PingInterval is how often the write loop sends a protocol-level ping.
	PingInterval time.Duration

	// MaxFrameBytes closes the connection with status 1009 when exceeded.
	MaxFrameBytes int

	// FrameRate and FrameBurst bound inbound frames per connection.
	FrameRate  rate.Limit
	FrameBurst int
}

// Supervisor owns one WebSocket connection end to end: the socket, the read
// and write loops, and the exactly-once teardown. It moves the connection
// through anonymous, authenticated, and closed phases; the registry only ever
// holds connections that reached the authenticated phase.
type Supervisor struct {
	sock     net.Conn
	conn     *Conn
	registry *Registry
	router   *Router
	cfg      SupervisorConfig
	limiter  *rate.Limiter
	logger   zerolog.Logger

	// done is closed exactly once during shutdown to stop the write loop.
	done chan struct{}

	// regMu orders registration against shutdown so a connection torn down
	// mid-auth can never leak a registry entry.
	regMu      sync.Mutex
	closed     bool
	registered bool

	// onClose runs once after teardown, outside all locks. The server uses
	// it to release its capacity slot.
	onClose func()
}

// NewSupervisor wraps an upgraded socket. Run must be called to start the
// loops; onClose may be nil.
func NewSupervisor(sock net.Conn, conn *Conn, registry *Registry, router *Router, cfg SupervisorConfig, logger zerolog.Logger, onClose func()) *Supervisor {
	return &Supervisor{
		sock:     sock,
		conn:     conn,
		registry: registry,
		router:   router,
		cfg:      cfg,
		limiter:  rate.NewLimiter(cfg.FrameRate, cfg.FrameBurst),
		logger: logger.With().
			Str("component", "supervisor").
			Str("conn_id", conn.ID()).
			Logger(),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Conn returns the connection handle.
func (s *Supervisor) Conn() *Conn { return s.conn }

// Run drives the connection until it closes. It blocks for the lifetime of
// the connection; the caller runs it on its own goroutine.
func (s *Supervisor) Run() {
	monitoring.ConnectionOpened()
	go s.writeLoop()
	s.readLoop()
}

// Shutdown tears the connection down from outside the read loop, for server
// drain. Safe to call concurrently with everything else.
func (s *Supervisor) Shutdown() {
	wsutil.WriteServerMessage(s.sock, ws.OpClose,
		ws.NewCloseFrameBody(ws.StatusGoingAway, "server shutting down"))
	s.teardown(monitoring.DisconnectReasonServerShutdown, monitoring.DisconnectInitiatedByServer)
}

// bindAndRegister binds the user id and registers the connection, unless
// teardown already started. Returns false when the connection is closing, in
// which case no registry entry is created.
func (s *Supervisor) bindAndRegister(userID string) bool {
	s.regMu.Lock()
	if s.closed {
		s.regMu.Unlock()
		return false
	}
	s.conn.bindUser(userID)
	s.registry.Register(userID, s.conn)
	s.registered = true
	s.regMu.Unlock()
	return true
}

func (s *Supervisor) readLoop() {
	reason := monitoring.DisconnectReasonReadError
	initiatedBy := monitoring.DisconnectInitiatedByClient
	defer func() {
		s.teardown(reason, initiatedBy)
	}()

	s.sock.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

	for {
		msg, op, err := wsutil.ReadClientData(s.sock)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				reason = monitoring.DisconnectReasonIdleTimeout
				initiatedBy = monitoring.DisconnectInitiatedByServer
			}
			return
		}

		s.sock.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		s.conn.touch()

		switch op {
		case ws.OpText:
			// fall through to frame handling below
		case ws.OpClose:
			reason = monitoring.DisconnectReasonClientClosed
			return
		default:
			// Pongs and pings are handled by the transport.
			continue
		}

		if s.cfg.MaxFrameBytes > 0 && len(msg) > s.cfg.MaxFrameBytes {
			s.logger.Warn().
				Int("size", len(msg)).
				Int("limit", s.cfg.MaxFrameBytes).
				Msg("Closing connection, frame too large")
			wsutil.WriteServerMessage(s.sock, ws.OpClose,
				ws.NewCloseFrameBody(ws.StatusMessageTooBig, "frame too large"))
			reason = monitoring.DisconnectReasonFrameTooLarge
			initiatedBy = monitoring.DisconnectInitiatedByServer
			return
		}

		if !s.limiter.Allow() {
			monitoring.FrameRateLimited()
			s.logger.Warn().Msg("Frame rate limited")
			s.reply(&ErrorEvent{
				Code:    "rate_limited",
				Message: "too many frames, slow down",
			})
			continue
		}

		frame, err := ParseFrame(msg)
		if err != nil {
			monitoring.FrameParseError()
			s.logger.Warn().Err(err).Msg("Dropping malformed frame")
			s.reply(&ErrorEvent{
				Code:    "malformed_frame",
				Message: "frame could not be parsed",
			})
			continue
		}

		s.router.Dispatch(s, frame)
	}
}

func (s *Supervisor) reply(ev Event) {
	data, err := EncodeEvent(ev)
	if err != nil {
		return
	}
	s.conn.Enqueue(data)
}

// writeLoop drains the send queue onto the socket. Writes are batched through
// a buffered writer to amortize syscalls under fan-out load.
func (s *Supervisor) writeLoop() {
	writer := bufio.NewWriter(s.sock)
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case message := <-s.conn.send:
			s.sock.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := wsutil.WriteServerMessage(writer, ws.OpText, message); err != nil {
				s.writeFailed(err)
				return
			}

			// Batch whatever else is already queued before flushing.
			n := len(s.conn.send)
			for i := 0; i < n; i++ {
				message = <-s.conn.send
				if err := wsutil.WriteServerMessage(writer, ws.OpText, message); err != nil {
					s.writeFailed(err)
					return
				}
			}
			if err := writer.Flush(); err != nil {
				s.writeFailed(err)
				return
			}

		case <-ticker.C:
			s.sock.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := wsutil.WriteServerMessage(s.sock, ws.OpPing, nil); err != nil {
				s.writeFailed(err)
				return
			}
		}
	}
}

func (s *Supervisor) writeFailed(err error) {
	s.logger.Debug().Err(err).Msg("Write failed")
	go s.teardown(monitoring.DisconnectReasonWriteError, monitoring.DisconnectInitiatedByServer)
}

// teardown runs the four-step cleanup exactly once: mark closed, unregister,
// stop the write loop, close the socket. All later calls are no-ops, so every
// failure path may call it without coordination.
func (s *Supervisor) teardown(reason, initiatedBy string) {
	s.regMu.Lock()
	if s.closed {
		s.regMu.Unlock()
		return
	}
	s.closed = true
	registered := s.registered
	userID := s.conn.UserID()
	s.regMu.Unlock()

	if registered {
		s.registry.Unregister(userID, s.conn.ID())
	}
	close(s.done)
	s.sock.Close()

	duration := time.Since(s.conn.CreatedAt())
	monitoring.ConnectionClosed(reason, initiatedBy, duration)
	s.logger.Info().
		Str("user_id", userID).
		Str("reason", reason).
		Str("initiated_by", initiatedBy).
		Dur("duration", duration).
		Int64("dropped_events", s.conn.Dropped()).
		Msg("Connection closed")

	if s.onClose != nil {
		s.onClose()
	}
}
