package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/telemetryd/internal/config"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/notify"
	"codeberg.org/mutker/telemetryd/internal/observe"
	"codeberg.org/mutker/telemetryd/internal/persist"
	"codeberg.org/mutker/telemetryd/internal/server"
	"codeberg.org/mutker/telemetryd/internal/stats"
	"codeberg.org/mutker/telemetryd/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 10 * time.Second

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	registry := prometheus.NewRegistry()
	obs := observe.New(registry)

	var channel notify.Channel = notify.LogChannel{}
	if cfg.WebhookURL != "" {
		channel = notify.NewWebhookChannel(cfg.WebhookURL)
	}
	notifier := notify.New(notify.CompileRules(cfg.Rules), channel, notify.Config{
		QueueSize:   cfg.QueueSize,
		MaxAttempts: cfg.MaxAttempts,
	}, obs)

	repo, err := persist.NewRepository(persist.Config{
		DBPath:  cfg.Database,
		Enabled: cfg.Persistence,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize snapshot repository")
	}

	mgr, err := stats.New(stats.Config{
		StaleTTL:      time.Duration(cfg.StaleTTL) * time.Second,
		EvictInterval: time.Duration(cfg.EvictInterval) * time.Second,
		FlushInterval: time.Duration(cfg.FlushInterval) * time.Second,
	}, store.New(), notifier, repo, obs)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize stats manager")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := mgr.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start stats manager")
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.New(cfg, mgr, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Listen).Msg("Listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shut down server")
	}

	if err := mgr.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close stats manager")
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
