package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/asin-availability/internal/api"
	"github.com/maltedev/asin-availability/internal/app"
	"github.com/maltedev/asin-availability/internal/config"
	"github.com/maltedev/asin-availability/internal/database"
	"github.com/maltedev/asin-availability/internal/progress"
	"github.com/maltedev/asin-availability/internal/runner"
	"github.com/maltedev/asin-availability/internal/runs"
	"github.com/maltedev/asin-availability/internal/schedule"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := app.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	metrics := runner.NewMetrics()
	hub := progress.NewHub(cfg.Run.EventBuffer, logger)
	hub.OnDrop(metrics.IncDroppedEvent)

	var outboxStats api.OutboxStats

	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}

		relay := database.NewRelay(db, redisClient, logger, database.RelayConfig{
			PollInterval: cfg.Redis.RelayInterval,
			BatchSize:    cfg.Redis.RelayBatchSize,
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()
		outboxStats = relay

		sub := hub.Subscribe()
		go progress.Forward(ctx, sub, progress.NewRedisBroadcaster(redisClient, cfg.Redis.ProgressChan), logger)
		logger.Info("redis progress bridge enabled", "channel", cfg.Redis.ProgressChan)
	}

	if cfg.NATS.URL != "" {
		nb, err := progress.NewNATSBroadcaster(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			logger.Warn("nats progress bridge disabled", "error", err)
		} else {
			defer nb.Close()
			sub := hub.Subscribe()
			go progress.Forward(ctx, sub, nb, logger)
			logger.Info("nats progress bridge enabled", "subject", cfg.NATS.Subject)
		}
	}

	checkRunner := app.NewRunner(cfg, db, hub, metrics, logger)
	manager := runs.NewManager(db, db, checkRunner, hub, logger)

	var scheduler *schedule.Scheduler
	if cfg.Schedule.Cron != "" {
		scheduler, err = schedule.New(cfg.Schedule.Cron, manager, logger)
		if err != nil {
			logger.Error("invalid schedule", "error", err)
			os.Exit(1)
		}
		scheduler.Start()
	}

	handlers := api.NewHandlers(manager, db, hub, logger)
	router := api.NewRouter(handlers, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Outbox:         outboxStats,
		Database:       db,
		Metrics:        promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if scheduler != nil {
			scheduler.Stop()
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Error("run did not stop in time", "error", err)
		}

		// Open event streams end with the base context.
		cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
