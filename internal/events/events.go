package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/asin-availability/internal/database"
	"github.com/maltedev/asin-availability/internal/models"
)

// EventType names the outbox events written by the checker.
type EventType string

const (
	// EventTypeAvailabilityChecked is written with every ingestion row.
	EventTypeAvailabilityChecked EventType = "AVAILABILITY_CHECKED"
	// EventTypeRunCompleted is written when a run finishes, whatever its status.
	EventTypeRunCompleted EventType = "AVAILABILITY_RUN_COMPLETED"

	source = "asin-availability"
)

// AvailabilityCheckedPayload is the stream payload of a single check.
type AvailabilityCheckedPayload struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	RecordID      string    `json:"record_id"`
	ASIN          string    `json:"asin"`
	Header        string    `json:"header"`
	Availability  string    `json:"availability,omitempty"`
	IsBlockedPage bool      `json:"is_doggy"`
	CheckDate     string    `json:"check_date"`
	Source        string    `json:"source"`
}

// RunCompletedPayload tells downstream consumers to refresh availability views.
type RunCompletedPayload struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	RunID     string            `json:"run_id"`
	Status    string            `json:"status"`
	Summary   models.RunSummary `json:"summary"`
	Source    string            `json:"source"`
}

// AvailabilityChecked builds the outbox event for rec. rec.ID must be set.
func AvailabilityChecked(rec *models.IngestionRecord) (*database.OutboxEvent, error) {
	payload := AvailabilityCheckedPayload{
		EventID:       uuid.New().String(),
		EventType:     string(EventTypeAvailabilityChecked),
		Timestamp:     time.Now(),
		RecordID:      rec.ID,
		ASIN:          rec.ASIN,
		Header:        rec.Header,
		Availability:  string(rec.Availability),
		IsBlockedPage: rec.IsBlockedPage,
		CheckDate:     rec.CheckDate.Format(time.DateOnly),
		Source:        source,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		AggregateType: "asin",
		AggregateID:   rec.ASIN,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  database.DefaultTargetStream,
	}, nil
}

// RunCompleted builds the outbox event closing a run.
func RunCompleted(runID uuid.UUID, status database.RunStatus, summary models.RunSummary) (*database.OutboxEvent, error) {
	payload := RunCompletedPayload{
		EventID:   uuid.New().String(),
		EventType: string(EventTypeRunCompleted),
		Timestamp: time.Now(),
		RunID:     runID.String(),
		Status:    string(status),
		Summary:   summary,
		Source:    source,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		AggregateType: "availability_run",
		AggregateID:   payload.RunID,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  database.DefaultTargetStream,
	}, nil
}
