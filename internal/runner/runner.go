package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/asin-availability/internal/checker"
	"github.com/maltedev/asin-availability/internal/ingest"
	"github.com/maltedev/asin-availability/internal/models"
	"github.com/maltedev/asin-availability/internal/progress"
	"github.com/maltedev/asin-availability/internal/ratelimit"
)

// Session is a browser session that can be navigated and released.
type Session interface {
	checker.Navigator
	Close() error
}

// SessionOpener starts a browser session for one run
type SessionOpener interface {
	Open(ctx context.Context) (Session, error)
}

// OpenerFunc adapts a function to SessionOpener.
type OpenerFunc func(ctx context.Context) (Session, error)

// Open calls f
func (f OpenerFunc) Open(ctx context.Context) (Session, error) {
	return f(ctx)
}

// Checker checks a single ASIN
type Checker interface {
	Check(ctx context.Context, nav checker.Navigator, asin string) models.CheckOutcome
}

// Sink stores outcomes
type Sink interface {
	Persist(ctx context.Context, outcome models.CheckOutcome) ingest.Result
}

// Publisher receives progress events
type Publisher interface {
	Publish(evt progress.Event)
}

// Deps are the collaborators of a Runner. Metrics may be nil.
type Deps struct {
	Opener    SessionOpener
	Checker   Checker
	Sink      Sink
	Publisher Publisher
	Pacer     ratelimit.Pacer
	Metrics   *Metrics
}

// Options tunes the run loop
type Options struct {
	// PauseAfterLast keeps the pause after the final item.
	PauseAfterLast bool
}

// Runner walks an ASIN list with a single browser session, one item at a
// time and in input order.
type Runner struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// New creates a runner
func New(deps Deps, opts Options, logger *slog.Logger) *Runner {
	return &Runner{
		deps:   deps,
		opts:   opts,
		logger: logger.With("component", "runner"),
	}
}

// Run checks every ASIN, persists and reports each outcome, and publishes
// exactly one terminal event. Per-item failures are counted, not returned.
// The returned error is non-nil only when the session could not be opened
// or ctx was cancelled before the last item was reported; the summary then
// covers the items done so far.
func (r *Runner) Run(ctx context.Context, asins []string) (models.RunSummary, error) {
	summary := models.RunSummary{Total: len(asins)}
	started := time.Now()

	if len(asins) == 0 {
		r.logger.Info("no asins to check")
		r.deps.Publisher.Publish(progress.NewCompleteEvent(summary))
		r.deps.Metrics.IncRun("completed")
		return summary, nil
	}

	if err := ctx.Err(); err != nil {
		return summary, r.abort(err)
	}

	session, err := r.deps.Opener.Open(ctx)
	if err != nil {
		return summary, r.abort(fmt.Errorf("failed to open browser session: %w", err))
	}

	release := sync.OnceFunc(func() {
		if err := session.Close(); err != nil {
			r.logger.Warn("failed to close browser session", "error", err)
		}
	})
	defer release()

	r.logger.Info("run started", "total", len(asins))

	for i, asin := range asins {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("run cancelled", "checked", i, "total", len(asins))
			release()
			return summary, r.abort(err)
		}

		outcome := r.checkOne(ctx, session, asin)
		summary.Add(outcome)

		r.deps.Publisher.Publish(progress.NewProgressEvent(i+1, len(asins), outcome))

		last := i == len(asins)-1
		if last && !r.opts.PauseAfterLast {
			continue
		}
		if err := r.deps.Pacer.Pause(ctx); err != nil {
			// Every item is done; an interrupted trailing pause still completes.
			if last && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				r.logger.Debug("trailing pause interrupted", "error", err)
				break
			}
			r.logger.Warn("run cancelled during pause", "checked", i+1, "total", len(asins))
			release()
			return summary, r.abort(err)
		}
	}

	release()

	r.logger.Info("run completed",
		"total", summary.Total,
		"available", summary.Available,
		"unavailable", summary.Unavailable,
		"errors", summary.Errors,
		"duration", time.Since(started),
	)

	r.deps.Publisher.Publish(progress.NewCompleteEvent(summary))
	r.deps.Metrics.IncRun("completed")
	return summary, nil
}

func (r *Runner) checkOne(ctx context.Context, nav checker.Navigator, asin string) models.CheckOutcome {
	start := time.Now()
	outcome := r.deps.Checker.Check(ctx, nav, asin)
	r.deps.Metrics.ObserveCheck(outcome.Status, time.Since(start))

	// An outcome that was already produced is stored even if the run is
	// being cancelled.
	res := r.deps.Sink.Persist(context.WithoutCancel(ctx), outcome)
	if !res.Saved {
		r.deps.Metrics.IncPersistFailure()
		r.logger.Error("outcome not persisted", "asin", asin, "reason", res.Reason)
	}

	r.logger.Info("asin checked",
		"asin", asin,
		"status", outcome.Status.String(),
		"header", outcome.Header,
		"saved", res.Saved,
	)

	return outcome
}

func (r *Runner) abort(err error) error {
	r.logger.Error("run aborted", "error", err)
	r.deps.Publisher.Publish(progress.NewErrorEvent())

	result := "failed"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		result = "cancelled"
	}
	r.deps.Metrics.IncRun(result)
	return err
}
