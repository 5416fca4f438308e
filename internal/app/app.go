// Package app assembles the components shared by the server and the
// one-shot checker.
package app

import (
	"context"
	"log/slog"

	"github.com/maltedev/asin-availability/internal/browser"
	"github.com/maltedev/asin-availability/internal/checker"
	"github.com/maltedev/asin-availability/internal/config"
	"github.com/maltedev/asin-availability/internal/database"
	"github.com/maltedev/asin-availability/internal/ingest"
	"github.com/maltedev/asin-availability/internal/ratelimit"
	"github.com/maltedev/asin-availability/internal/runner"
)

// OpenDatabase connects the shared pool
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	return database.New(ctx, database.Config{
		DSN:         cfg.DSN(),
		MaxConns:    cfg.MaxConns,
		MinConns:    cfg.MinConns,
		MaxConnLife: cfg.MaxConnLife,
		MaxConnIdle: cfg.MaxConnIdle,
	})
}

// BrowserOpener launches a fresh persistent-profile session for every run.
func BrowserOpener(cfg config.BrowserConfig, logger *slog.Logger) runner.OpenerFunc {
	opts := &browser.Options{
		ProfileDir:     cfg.ProfileDir,
		Headless:       cfg.Headless,
		ViewportWidth:  cfg.ViewportWidth,
		ViewportHeight: cfg.ViewportHeight,
		Locale:         cfg.Locale,
		TimezoneID:     cfg.TimezoneID,
		UserAgent:      cfg.UserAgent,
	}

	return func(ctx context.Context) (runner.Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		session, err := browser.Open(opts, logger)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

// NewRunner wires checker, sink and pacer from cfg.
func NewRunner(cfg *config.Config, store ingest.Store, publisher runner.Publisher, metrics *runner.Metrics, logger *slog.Logger) *runner.Runner {
	chk := checker.New(checker.Options{
		MarketplaceDomain: cfg.Checker.MarketplaceDomain,
		QueryParams:       cfg.Checker.QueryParams,
		NavigationTimeout: cfg.Checker.NavigationTimeout,
		TitleTimeout:      cfg.Checker.TitleTimeout,
	}, logger)

	return runner.New(runner.Deps{
		Opener:    BrowserOpener(cfg.Browser, logger),
		Checker:   chk,
		Sink:      ingest.NewSink(store, logger),
		Publisher: publisher,
		Pacer:     ratelimit.NewJitterPacer(cfg.Run.PauseMin, cfg.Run.PauseMax),
		Metrics:   metrics,
	}, runner.Options{PauseAfterLast: cfg.Run.PauseAfterLast}, logger)
}
