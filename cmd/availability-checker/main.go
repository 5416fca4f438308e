package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/asin-availability/internal/app"
	"github.com/maltedev/asin-availability/internal/config"
	"github.com/maltedev/asin-availability/internal/progress"
	"github.com/maltedev/asin-availability/internal/runs"
	"github.com/redis/go-redis/v9"
)

func main() {
	asinList := flag.String("asins", "", "Comma-separated ASINs to check instead of the catalog")
	headless := flag.Bool("headless", true, "Run the browser headless")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "headless" {
			cfg.Browser.Headless = *headless
		}
	})

	logger := cfg.Logging.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The database must be reachable before any browser work starts.
	db, err := app.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	hub := progress.NewHub(cfg.Run.EventBuffer, logger)

	logSub := hub.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range logSub.Events() {
			if p, ok := evt.Data.(progress.Progress); ok {
				logger.Info("progress", "current", p.Current, "total", p.Total, "asin", p.ASIN, "status", p.Status)
			}
		}
	}()

	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		sub := hub.Subscribe()
		defer sub.Close()
		go progress.Forward(ctx, sub, progress.NewRedisBroadcaster(redisClient, cfg.Redis.ProgressChan), logger)
	}

	checkRunner := app.NewRunner(cfg, db, hub, nil, logger)
	manager := runs.NewManager(db, db, checkRunner, hub, logger)

	run, summary, err := manager.Execute(ctx, runs.TriggerCLI, parseASINs(*asinList))

	logSub.Close()
	<-done

	if run != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]interface{}{
			"run_id":  run.ID,
			"status":  run.Status,
			"summary": summary,
		}); err != nil {
			logger.Error("failed to write run summary", "error", err)
		}
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("run interrupted")
		} else {
			logger.Error("run failed", "error", err)
		}
		os.Exit(1)
	}
}

func parseASINs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
