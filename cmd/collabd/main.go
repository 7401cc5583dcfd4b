package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/collab-sync/internal/api"
	"github.com/p-blackswan/collab-sync/internal/channel"
	"github.com/p-blackswan/collab-sync/internal/collab"
	"github.com/p-blackswan/collab-sync/internal/config"
	"github.com/p-blackswan/collab-sync/internal/health"
	"github.com/p-blackswan/collab-sync/internal/lock"
	"github.com/p-blackswan/collab-sync/internal/metrics"
	"github.com/p-blackswan/collab-sync/internal/session"
	"github.com/p-blackswan/collab-sync/internal/store"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.Development() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		log.Logger = logger
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("db_path", cfg.DBPath).
		Dur("heartbeat", cfg.HeartbeatInterval).
		Dur("lock_ttl", cfg.LockTTL).
		Msg("starting collaboration daemon")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Record store
	st, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("failed to open store")
	}
	defer st.Close()

	// Metrics
	m := metrics.New()

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("store", func(ctx context.Context) health.Status {
		if err := st.Ping(); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	// Collaboration core
	sessions := session.NewManager(st, m, cfg.HeartbeatInterval, cfg.ActiveUserWindow, logger)
	locks := lock.NewManager(st, m, cfg.LockTTL, logger)
	channels := channel.NewRegistry(st, channel.Options{
		PollInterval:   cfg.PollInterval,
		Lookback:       cfg.LookbackWindow,
		PresenceWindow: cfg.PresenceWindow,
		EventLimit:     cfg.EventBatchSize,
	}, m, logger)

	client := collab.NewClient(st, sessions, locks, channels, m, logger)

	// Expired lock sweeper
	locks.StartSweeper(ctx, cfg.LockSweepInterval)

	// WaitGroup for in-flight work
	var wg sync.WaitGroup

	// Retention loop for stale cursors, old events and dead sessions.
	// Individual ages of 0 disable their rule; a sweep interval of 0
	// disables the loop entirely.
	policy := store.RetentionPolicy{
		CursorAge:  cfg.CursorRetention,
		EventAge:   cfg.EventRetention,
		SessionAge: 24 * time.Hour,
	}
	if cfg.RetentionSweepInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(cfg.RetentionSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := st.RunRetention(ctx, policy); err != nil {
						logger.Error().Err(err).Msg("retention run failed")
					}
				}
			}
		}()
	}

	// API server
	server := api.NewServer(cfg.ListenAddr, client, checker, m, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	// Cancel context to signal all goroutines
	cancel()

	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}

	// Stop heartbeats and pollers
	client.Close()

	// Wait for in-flight work to complete
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("collaboration daemon stopped")
}
