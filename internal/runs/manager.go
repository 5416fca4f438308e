package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/maltedev/asin-availability/internal/database"
	"github.com/maltedev/asin-availability/internal/events"
	"github.com/maltedev/asin-availability/internal/models"
	"github.com/maltedev/asin-availability/internal/progress"
)

// ErrRunInProgress is returned when a run is requested while another one is
// still executing.
var ErrRunInProgress = errors.New("an availability run is already in progress")

// ErrShuttingDown is returned for runs requested after Shutdown.
var ErrShuttingDown = errors.New("run manager is shutting down")

const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

// Store persists run rows
type Store interface {
	CreateRun(ctx context.Context, trigger string) (*database.Run, error)
	MarkRunStarted(ctx context.Context, id uuid.UUID) error
	FinishRun(ctx context.Context, id uuid.UUID, status database.RunStatus, summary models.RunSummary, runErr error, event *database.OutboxEvent) error
	GetRun(ctx context.Context, id uuid.UUID) (*database.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*database.Run, error)
}

// Catalog lists the ASINs to check
type Catalog interface {
	ListASINs(ctx context.Context) ([]string, error)
}

// Runner executes one run
type Runner interface {
	Run(ctx context.Context, asins []string) (models.RunSummary, error)
}

// Publisher receives progress events
type Publisher interface {
	Publish(evt progress.Event)
}

// Manager records runs and makes sure at most one executes at a time.
type Manager struct {
	store     Store
	catalog   Catalog
	runner    Runner
	publisher Publisher
	logger    *slog.Logger

	mu     sync.Mutex
	active *activeRun
	closed bool
	wg     sync.WaitGroup
}

type activeRun struct {
	id     uuid.UUID
	cancel context.CancelFunc
}

// NewManager creates a new run manager
func NewManager(store Store, catalog Catalog, runner Runner, publisher Publisher, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		catalog:   catalog,
		runner:    runner,
		publisher: publisher,
		logger:    logger.With("component", "run_manager"),
	}
}

// Start registers a run and executes it in the background. A non-empty asins
// list replaces the catalog for this run. The run outlives ctx; use Cancel or
// Shutdown to stop it.
func (m *Manager) Start(ctx context.Context, trigger string, asins []string) (*database.Run, error) {
	run, runCtx, err := m.begin(ctx, trigger)
	if err != nil {
		return nil, err
	}

	created := *run

	go func() {
		defer m.wg.Done()
		m.execute(runCtx, run, asins)
	}()

	return &created, nil
}

// Execute runs synchronously and returns the final state of the run. The run
// is cancelled together with ctx.
func (m *Manager) Execute(ctx context.Context, trigger string, asins []string) (*database.Run, models.RunSummary, error) {
	run, runCtx, err := m.begin(ctx, trigger)
	if err != nil {
		return nil, models.RunSummary{}, err
	}
	defer m.wg.Done()

	stop := context.AfterFunc(ctx, m.cancelActive)
	defer stop()

	summary, runErr := m.execute(runCtx, run, asins)
	return run, summary, runErr
}

// begin claims the single run slot. On success the caller owns one wg count
// and must call wg.Done when the run returns.
func (m *Manager) begin(ctx context.Context, trigger string) (*database.Run, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, ErrShuttingDown
	}
	if m.active != nil {
		return nil, nil, ErrRunInProgress
	}

	run, err := m.store.CreateRun(ctx, trigger)
	if err != nil {
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.active = &activeRun{id: run.ID, cancel: cancel}
	m.wg.Add(1)

	m.logger.Info("run created", "run_id", run.ID, "trigger", trigger)
	return run, runCtx, nil
}

func (m *Manager) execute(ctx context.Context, run *database.Run, asins []string) (models.RunSummary, error) {
	defer m.release(run.ID)

	if err := m.store.MarkRunStarted(ctx, run.ID); err != nil {
		m.logger.Warn("failed to mark run started", "run_id", run.ID, "error", err)
	}

	var summary models.RunSummary
	var err error

	if len(asins) == 0 {
		asins, err = m.catalog.ListASINs(ctx)
		if err != nil {
			err = fmt.Errorf("failed to load catalog: %w", err)
			m.publisher.Publish(progress.NewErrorEvent())
		}
	}

	if err == nil {
		summary, err = m.runner.Run(ctx, asins)
	}

	status := database.RunStatusCompleted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = database.RunStatusCancelled
	default:
		status = database.RunStatusFailed
	}

	m.finish(run, status, summary, err)

	m.logger.Info("run finished",
		"run_id", run.ID,
		"status", status,
		"total", summary.Total,
		"available", summary.Available,
		"unavailable", summary.Unavailable,
		"errors", summary.Errors,
	)

	return summary, err
}

func (m *Manager) finish(run *database.Run, status database.RunStatus, summary models.RunSummary, runErr error) {
	ctx := context.Background()

	event, err := events.RunCompleted(run.ID, status, summary)
	if err != nil {
		m.logger.Error("failed to build run completed event", "run_id", run.ID, "error", err)
	}

	if err := m.store.FinishRun(ctx, run.ID, status, summary, runErr, event); err != nil {
		m.logger.Error("failed to finish run", "run_id", run.ID, "error", err)
		return
	}

	run.Status = status
	run.Total = summary.Total
	run.Available = summary.Available
	run.Unavailable = summary.Unavailable
	run.Errors = summary.Errors
}

func (m *Manager) release(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active.id == id {
		m.active.cancel()
		m.active = nil
	}
}

func (m *Manager) cancelActive() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.active.cancel()
	}
}

// Active returns the id of the executing run, if any.
func (m *Manager) Active() (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return uuid.Nil, false
	}
	return m.active.id, true
}

// Cancel stops the run with the given id. It is a no-op for runs that are
// not executing.
func (m *Manager) Cancel(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.id != id {
		return false
	}
	m.active.cancel()
	return true
}

// Shutdown refuses new runs, cancels the active one and waits for it to
// return.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	if m.active != nil {
		m.active.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetRun retrieves a run by ID
func (m *Manager) GetRun(ctx context.Context, id uuid.UUID) (*database.Run, error) {
	return m.store.GetRun(ctx, id)
}

// ListRuns returns the most recent runs
func (m *Manager) ListRuns(ctx context.Context, limit int) ([]*database.Run, error) {
	return m.store.ListRuns(ctx, limit)
}
