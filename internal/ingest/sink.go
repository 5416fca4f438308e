package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/asin-availability/internal/database"
	"github.com/maltedev/asin-availability/internal/events"
	"github.com/maltedev/asin-availability/internal/models"
)

// Store is the write side of the availability history.
type Store interface {
	InsertIngestion(ctx context.Context, rec *models.IngestionRecord, event *database.OutboxEvent) error
}

// Result reports what happened to one outcome. A failed write is reported,
// never raised.
type Result struct {
	Saved    bool
	RecordID string
	Reason   string
}

// Sink persists check outcomes one row at a time
type Sink struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewSink creates a sink
func NewSink(store Store, logger *slog.Logger) *Sink {
	return &Sink{
		store:  store,
		now:    time.Now,
		logger: logger.With("component", "ingest_sink"),
	}
}

// Persist writes one row for outcome, dated today, together with its
// AVAILABILITY_CHECKED outbox event.
func (s *Sink) Persist(ctx context.Context, outcome models.CheckOutcome) Result {
	rec := models.NewIngestionRecord(outcome, s.now())
	rec.ID = uuid.New().String()

	event, err := events.AvailabilityChecked(rec)
	if err != nil {
		return s.failed(rec, err)
	}

	if err := s.store.InsertIngestion(ctx, rec, event); err != nil {
		return s.failed(rec, err)
	}

	s.logger.Debug("availability saved",
		"asin", rec.ASIN,
		"record_id", rec.ID,
		"availability", rec.Availability,
		"is_doggy", rec.IsBlockedPage,
	)

	return Result{Saved: true, RecordID: rec.ID}
}

func (s *Sink) failed(rec *models.IngestionRecord, err error) Result {
	s.logger.Error("failed to persist availability", "asin", rec.ASIN, "error", err)
	return Result{Reason: err.Error()}
}
