package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/chatd/internal/auth"
	"github.com/adred-codev/chatd/internal/chat"
	"github.com/adred-codev/chatd/internal/config"
	"github.com/adred-codev/chatd/internal/contacts"
	"github.com/adred-codev/chatd/internal/gateway"
	"github.com/adred-codev/chatd/internal/limits"
	"github.com/adred-codev/chatd/internal/monitoring"
	"github.com/adred-codev/chatd/internal/server"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		bootstrap := monitoring.NewLogger(monitoring.LoggerConfig{Level: "info", Format: "json"})
		bootstrap.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := monitoring.InitGlobalLogger(monitoring.LoggerConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	// automaxprocs already set GOMAXPROCS from container CPU limits.
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("Starting chatd")
	cfg.LogConfig(logger)

	natsConn, err := gateway.Dial(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer natsConn.Close()

	validator := auth.NewJWTValidator(cfg.JWTSecret, cfg.TokenDuration)
	provider := contacts.NewNATSProvider(natsConn, cfg.ContactsTimeout, 30*time.Second, logger)

	registry := chat.NewRegistry()
	broadcaster := chat.NewBroadcaster(registry, logger)
	presence := chat.NewPresenceTracker(broadcaster, provider, logger)
	registry.SetPresenceListener(presence)
	router := chat.NewRouter(validator, provider, broadcaster, logger)

	consumer := gateway.NewConsumer(natsConn, broadcaster, logger)
	if err := consumer.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start bus consumer")
	}

	connLimiter := limits.NewConnRateLimiter(limits.ConnRateLimiterConfig{
		IPRate:     float64(cfg.ConnRatePerIP),
		IPBurst:    cfg.ConnBurstPerIP,
		IPTTL:      cfg.ConnLimiterTTL,
		GlobalRate: float64(cfg.ConnRateGlobal),
		Logger:     logger,
	})

	collector, err := monitoring.NewSystemCollector(cfg.MetricsInterval, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create system collector")
	}
	collector.Start()

	srv := server.New(cfg, registry, router, connLimiter, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("Server failed")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+5*time.Second)
	defer cancel()

	consumer.Stop()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Shutdown did not complete cleanly")
	}
	collector.Stop()
	connLimiter.Stop()

	logger.Info().Msg("Shutdown complete")
}
