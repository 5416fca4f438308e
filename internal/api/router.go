package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// OutboxStats reports the relay backlog for the health check.
type OutboxStats interface {
	GetPendingCount(ctx context.Context) (int64, error)
	GetDeadLetterCount(ctx context.Context) (int64, error)
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

// RouterOptions configures the router
type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	Outbox         OutboxStats
	Database       Pinger
	Metrics        http.Handler
}

// NewRouter wires the handlers. The SSE route sits outside the request
// timeout.
func NewRouter(h *Handlers, opts RouterOptions) chi.Router {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/api/v1/availability/events", h.Events)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))

		r.Get("/health", healthHandler(opts.Database, opts.Outbox, h))
		if opts.Metrics != nil {
			r.Handle("/metrics", opts.Metrics)
		}

		r.Route("/api/v1/availability", func(r chi.Router) {
			r.Post("/runs", h.CreateRun)
			r.Get("/runs", h.ListRuns)
			r.Get("/runs/{runID}", h.GetRun)
			r.Delete("/runs/{runID}", h.CancelRun)
			r.Get("/latest", h.LatestAvailability)
		})
	})

	return r
}

func healthHandler(db Pinger, stats OutboxStats, h *Handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{"status": "ok"}
		status := http.StatusOK

		if db != nil {
			health["database"] = "ok"
			if err := db.Ping(r.Context()); err != nil {
				h.logger.Error("database ping failed", "error", err)
				health["database"] = "unreachable"
				health["status"] = "error"
				status = http.StatusServiceUnavailable
			}
		}

		if stats != nil {
			pendingCount, err := stats.GetPendingCount(r.Context())
			if err != nil {
				h.logger.Warn("failed to count pending outbox events", "error", err)
			}
			deadLetterCount, err := stats.GetDeadLetterCount(r.Context())
			if err != nil {
				h.logger.Warn("failed to count dead letter events", "error", err)
			}

			health["outbox"] = map[string]interface{}{
				"pending":     pendingCount,
				"dead_letter": deadLetterCount,
			}

			if pendingCount > pendingWarnThreshold && status == http.StatusOK {
				health["status"] = "warning"
				health["message"] = "High number of pending outbox events"
			}
			if deadLetterCount > deadLetterFailThreshold && status == http.StatusOK {
				health["status"] = "error"
				health["message"] = "High number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(health); err != nil {
			h.logger.Error("failed to encode health", "error", err)
		}
	}
}
