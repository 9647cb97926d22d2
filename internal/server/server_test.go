package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/chatd/internal/chat"
	"github.com/adred-codev/chatd/internal/config"
	"github.com/adred-codev/chatd/internal/contacts"
)

type allowAll struct{}

func (allowAll) Validate(token string) (string, error) { return token, nil }

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Addr:           ":0",
		MaxConnections: 4,
		SendQueueSize:  8,
		IdleTimeout:    time.Minute,
		WriteTimeout:   time.Second,
		PingInterval:   30 * time.Second,
		MaxFrameBytes:  4096,
		FrameRate:      100,
		FrameBurst:     100,
		ShutdownGrace:  time.Second,
	}

	registry := chat.NewRegistry()
	broadcaster := chat.NewBroadcaster(registry, zerolog.Nop())
	provider := contacts.NewStaticProvider(nil)
	router := chat.NewRouter(allowAll{}, provider, broadcaster, zerolog.Nop())

	return New(cfg, registry, router, nil, zerolog.Nop())
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
	if resp.Connections != 0 {
		t.Fatalf("expected 0 connections, got %d", resp.Connections)
	}
}

func TestHealthEndpointDuringShutdown(t *testing.T) {
	s := testServer(t)
	atomic.StoreInt32(&s.shuttingDown, 1)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestWebSocketRejectedDuringShutdown(t *testing.T) {
	s := testServer(t)
	atomic.StoreInt32(&s.shuttingDown, 1)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	s.handleWebSocket(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestWebSocketRejectedAtCapacity(t *testing.T) {
	s := testServer(t)

	// Fill every slot.
	for i := 0; i < s.cfg.MaxConnections; i++ {
		s.connectionsSem <- struct{}{}
	}

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	s.handleWebSocket(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestClientIPPrefersForwardedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := clientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected forwarded IP, got %q", got)
	}

	req.Header.Del("X-Forwarded-For")
	if got := clientIP(req); got != "127.0.0.1" {
		t.Fatalf("expected remote addr host, got %q", got)
	}
}
