package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/asin-availability/internal/models"
)

// RunStatus is the lifecycle state of an availability run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// ErrRunNotFound is returned by GetRun for unknown ids.
var ErrRunNotFound = errors.New("run not found")

// Run is one row of availability_runs.
type Run struct {
	ID          uuid.UUID  `json:"id"`
	Trigger     string     `json:"trigger"`
	Status      RunStatus  `json:"status"`
	Total       int        `json:"total"`
	Available   int        `json:"available"`
	Unavailable int        `json:"unavailable"`
	Errors      int        `json:"errors"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CreateRun inserts a pending run.
func (db *DB) CreateRun(ctx context.Context, trigger string) (*Run, error) {
	run := &Run{
		ID:        uuid.New(),
		Trigger:   trigger,
		Status:    RunStatusPending,
		CreatedAt: time.Now(),
	}

	query := `
		INSERT INTO availability_runs (id, trigger, status, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := db.pool.Exec(ctx, query, run.ID, run.Trigger, run.Status, run.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// MarkRunStarted moves a run to running.
func (db *DB) MarkRunStarted(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE availability_runs SET status = $1, started_at = $2 WHERE id = $3`

	if _, err := db.pool.Exec(ctx, query, RunStatusRunning, time.Now(), id); err != nil {
		return fmt.Errorf("failed to mark run started: %w", err)
	}
	return nil
}

// FinishRun stores the final counters of a run and, when event is non-nil,
// writes it to the outbox in the same transaction.
func (db *DB) FinishRun(ctx context.Context, id uuid.UUID, status RunStatus, summary models.RunSummary, runErr error, event *OutboxEvent) error {
	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}

	query := `
		UPDATE availability_runs
		SET status = $1, total = $2, available = $3, unavailable = $4,
		    errors = $5, error = $6, completed_at = $7
		WHERE id = $8`

	return db.Transaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query,
			status, summary.Total, summary.Available, summary.Unavailable,
			summary.Errors, errMsg, time.Now(), id,
		); err != nil {
			return fmt.Errorf("failed to finish run: %w", err)
		}

		if event == nil {
			return nil
		}
		return NewOutboxRepository(db).InsertWithTx(ctx, tx, event)
	})
}

// GetRun retrieves a run by id.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `
		SELECT id, trigger, status, total, available, unavailable, errors,
		       error, created_at, started_at, completed_at
		FROM availability_runs
		WHERE id = $1`

	run := &Run{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.Trigger, &run.Status, &run.Total, &run.Available,
		&run.Unavailable, &run.Errors, &run.Error, &run.CreatedAt,
		&run.StartedAt, &run.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, trigger, status, total, available, unavailable, errors,
		       error, created_at, started_at, completed_at
		FROM availability_runs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(
			&run.ID, &run.Trigger, &run.Status, &run.Total, &run.Available,
			&run.Unavailable, &run.Errors, &run.Error, &run.CreatedAt,
			&run.StartedAt, &run.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}
