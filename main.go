package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"atmos/config"
	"atmos/log"
	"atmos/services"
)

func main() {
	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Session statistics and storage timestamps use local time
	loc := time.Local
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Fatal("Failed to load timezone",
				zap.String("timezone", cfg.Timezone), zap.Error(err))
		}
		time.Local = loc
	}

	// Open storage. A failed ping is degraded, not fatal: readings buffer
	// in memory and the store recovers when Postgres comes back.
	db, err := services.OpenPostgres(cfg)
	if db == nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	if err != nil {
		logger.Warn("Database unreachable, starting degraded", zap.Error(err))
	}
	defer db.Close()

	store := services.NewSensorStore(db, loc, logger)

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 10*time.Second)
	if err := store.EnsureSchema(schemaCtx); err != nil {
		logger.Warn("Failed to ensure schema, will rely on existing tables", zap.Error(err))
	}
	cancelSchema()

	// Context driving all long-running goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go store.Run(ctx)

	// Optional Redis cache for the latest reading
	var cache *services.ReadingCache
	if cfg.RedisAddr != "" {
		cache = services.NewReadingCache(cfg.RedisAddr, cfg.RedisPassword, logger)
		defer cache.Close()
	}

	// Live websocket fanout
	hub := services.NewHub(logger)
	go hub.Run(ctx)

	// Session statistics, warmed from today's stored readings
	now := time.Now()
	stats := services.NewStatsAccumulator(store.SessionStart(now))
	warmCtx, cancelWarm := context.WithTimeout(ctx, 10*time.Second)
	if history, err := store.Since(warmCtx, store.SessionStart(now)); err != nil {
		logger.Warn("Failed to warm session statistics", zap.Error(err))
	} else {
		stats.RecomputeFromHistory(history)
		logger.Info("Session statistics warmed", zap.Int("readings", len(history)))
	}
	cancelWarm()

	// Alert evaluation and notification fanout
	evaluator := services.NewAlertEvaluator(cfg, logger)

	var notifiers []services.Notifier
	var telegram *services.TelegramNotifier

	if cfg.EmailConfigured() {
		notifiers = append(notifiers, services.NewEmailNotifier(cfg, logger))
		logger.Info("Email notifier enabled", zap.String("to", cfg.AlertEmailTo))
	}
	if cfg.TelegramConfigured() {
		telegram, err = services.NewTelegramNotifier(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram notifier", zap.Error(err))
		}
		notifiers = append(notifiers, telegram)
	}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, services.NewWebhookNotifier(cfg.AlertWebhookURL, logger))
		logger.Info("Webhook notifier enabled", zap.String("url", cfg.AlertWebhookURL))
	}
	if len(notifiers) == 0 {
		logger.Warn("No notifiers configured, alerts reach live subscribers only")
	}

	dispatcher := services.NewDispatcher(hub, evaluator, notifiers, logger)
	dispatcher.Start(ctx)

	// Telemetry watchdog, notices go to live subscribers and to Telegram
	// when configured
	notice := func(message string) {
		hub.BroadcastNotice(message)
		if telegram != nil {
			if err := telegram.SendServiceMessage(message); err != nil {
				logger.Error("Failed to send watchdog notice", zap.Error(err))
			}
		}
	}
	watchdog := services.NewWatchdog(cfg.WatchdogTimeout, notice, logger)
	go watchdog.Run(ctx)

	// Ingestion pipeline
	pipeline := services.NewPipeline(
		services.NewDecoder(),
		store,
		stats,
		evaluator,
		dispatcher,
		hub,
		logger,
	).WithWatchdog(watchdog)
	if cache != nil {
		pipeline = pipeline.WithCache(cache)
	}

	// Inbound transport
	var broker services.BrokerStatus
	var closeTransport func()
	switch cfg.Transport {
	case "amqp":
		consumer, err := services.NewAMQPConsumer(cfg, logger, pipeline.Process)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ consumer", zap.Error(err))
		}
		go func() {
			if err := consumer.Consume(ctx); err != nil {
				logger.Error("RabbitMQ consumer stopped", zap.Error(err))
			}
		}()
		broker = consumer
		closeTransport = func() { consumer.Close() }
	default:
		consumer, err := services.NewMQTTConsumer(cfg, logger, pipeline.Process)
		if err != nil {
			logger.Fatal("Failed to initialize MQTT consumer", zap.Error(err))
		}
		broker = consumer
		closeTransport = consumer.Close
	}

	// HTTP API
	api := services.NewAPIServer(cfg, store, stats, hub, logger).
		WithWatchdog(watchdog).
		WithBroker(broker)
	if cache != nil {
		api = api.WithCache(cache)
	}

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Send startup notification
	if telegram != nil {
		if err := telegram.SendStartupMessage(); err != nil {
			logger.Warn("Failed to send startup message", zap.Error(err))
		}
	}

	logger.Info("Atmos telemetry service started",
		zap.String("transport", cfg.Transport),
		zap.Float64("temp_threshold", cfg.TempThreshold),
		zap.Float64("humidity_threshold", cfg.HumidityThreshold),
		zap.Duration("cooldown", cfg.Cooldown),
	)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping services")

	// Stop the transport first so no new readings enter the pipeline, then
	// cancel everything and drain with a deadline.
	closeTransport()
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown timed out", zap.Error(err))
	}

	logger.Info("Atmos telemetry service stopped")
}
