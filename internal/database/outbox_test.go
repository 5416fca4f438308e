package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		retry    int
		expected time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{8, 256 * time.Second},
		{9, 5 * time.Minute},
		{40, 5 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, retryBackoff(tt.retry), "retry %d", tt.retry)
	}
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	event := &OutboxEvent{
		AggregateType: "asin",
		AggregateID:   "B001TEST",
		EventType:     "AVAILABILITY_CHECKED",
		Payload:       json.RawMessage(`{"asin":"B001TEST"}`),
	}

	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, OutboxStatusPending, event.Status)
	assert.Equal(t, DefaultTargetStream, event.TargetStream)

	pending, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, event.ID, pending[0].ID)

	require.NoError(t, repo.MarkFailed(ctx, event.ID, errors.New("redis down")))

	// The retry is scheduled in the future, so it is not pending right now.
	pending, err = repo.GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, repo.MarkProcessed(ctx, event.ID))
	assert.Error(t, repo.MarkProcessed(ctx, uuid.New()))
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	boom := errors.New("boom")
	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := repo.InsertWithTx(ctx, tx, &OutboxEvent{
			AggregateType: "asin",
			AggregateID:   "B002TEST",
			EventType:     "AVAILABILITY_CHECKED",
			Payload:       json.RawMessage(`{}`),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_event`).Scan(&count))
	assert.Zero(t, count)
}
