package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/asin-availability/internal/database"
	"github.com/maltedev/asin-availability/internal/runs"
	"github.com/robfig/cron/v3"
)

// Trigger starts a background run.
type Trigger interface {
	Start(ctx context.Context, trigger string, asins []string) (*database.Run, error)
}

// Scheduler starts a catalog run whenever the cron expression fires. A tick
// that finds a run in flight is skipped.
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	trigger Trigger
	logger  *slog.Logger
}

// New accepts standard five-field expressions and descriptors such as
// "@daily".
func New(expr string, trigger Trigger, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		trigger: trigger,
		logger:  logger.With("component", "scheduler"),
	}

	entry, err := s.cron.AddFunc(expr, s.fire)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule %q: %w", expr, err)
	}
	s.entry = entry

	return s, nil
}

// Start begins firing on schedule
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "next_run", s.Next())
}

// Stop prevents further ticks and waits for a tick in progress to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Next is the zero time until the scheduler has been started.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) fire() {
	run, err := s.trigger.Start(context.Background(), runs.TriggerSchedule, nil)
	if errors.Is(err, runs.ErrRunInProgress) {
		s.logger.Info("skipping scheduled run, previous run still in progress")
		return
	}
	if errors.Is(err, runs.ErrShuttingDown) {
		s.logger.Info("skipping scheduled run, shutting down")
		return
	}
	if err != nil {
		s.logger.Error("failed to start scheduled run", "error", err)
		return
	}

	s.logger.Info("scheduled run started", "run_id", run.ID)
}
