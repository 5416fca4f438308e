package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/maltedev/asin-availability/internal/database"
	"github.com/maltedev/asin-availability/internal/events"
	"github.com/maltedev/asin-availability/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) InsertIngestion(ctx context.Context, rec *models.IngestionRecord, event *database.OutboxEvent) error {
	args := m.Called(ctx, rec, event)
	return args.Error(0)
}

func newTestSink(store Store, now time.Time) *Sink {
	s := NewSink(store, slog.Default())
	s.now = func() time.Time { return now }
	return s
}

func TestSink_PersistSavesRecordAndEvent(t *testing.T) {
	store := new(MockStore)
	now := time.Date(2024, 5, 17, 22, 45, 0, 0, time.UTC)
	sink := newTestSink(store, now)

	outcome := models.CheckOutcome{
		ASIN:         "B08N5WRWNW",
		Header:       "Wireless Bluetooth Headphones with",
		Availability: models.AvailabilityInStock,
		Status:       models.StatusSuccess,
	}

	var saved *models.IngestionRecord
	var savedEvent *database.OutboxEvent
	store.On("InsertIngestion", mock.Anything, mock.AnythingOfType("*models.IngestionRecord"), mock.AnythingOfType("*database.OutboxEvent")).
		Run(func(args mock.Arguments) {
			saved = args.Get(1).(*models.IngestionRecord)
			savedEvent = args.Get(2).(*database.OutboxEvent)
		}).
		Return(nil).Once()

	res := sink.Persist(context.Background(), outcome)

	require.True(t, res.Saved)
	assert.Empty(t, res.Reason)
	assert.Equal(t, saved.ID, res.RecordID)

	assert.Equal(t, "B08N5WRWNW", saved.ASIN)
	assert.Equal(t, "Wireless Bluetooth Headphones with", saved.Header)
	assert.Equal(t, models.AvailabilityInStock, saved.Availability)
	assert.False(t, saved.IsBlockedPage)
	assert.Equal(t, time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC), saved.CheckDate)

	assert.Equal(t, string(events.EventTypeAvailabilityChecked), savedEvent.EventType)
	assert.Equal(t, "B08N5WRWNW", savedEvent.AggregateID)

	var payload events.AvailabilityCheckedPayload
	require.NoError(t, json.Unmarshal(savedEvent.Payload, &payload))
	assert.Equal(t, saved.ID, payload.RecordID)
	assert.Equal(t, "2024-05-17", payload.CheckDate)

	store.AssertExpectations(t)
}

func TestSink_PersistBlockedAndFailedOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		outcome   models.CheckOutcome
		wantAvail models.Availability
		wantDoggy bool
	}{
		{
			name:      "blocked page",
			outcome:   models.CheckOutcome{ASIN: "B001", Header: models.HeaderUnknown, Availability: models.AvailabilityNotFound, IsBlockedPage: true, Status: models.StatusNotFound},
			wantAvail: models.AvailabilityNotFound,
			wantDoggy: true,
		},
		{
			name:      "failed check keeps availability unset",
			outcome:   models.CheckOutcome{ASIN: "B002", Header: models.HeaderError, Status: models.StatusTimeout},
			wantAvail: models.AvailabilityUnset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockStore)
			store.On("InsertIngestion", mock.Anything, mock.MatchedBy(func(rec *models.IngestionRecord) bool {
				return rec.ASIN == tt.outcome.ASIN &&
					rec.Header == tt.outcome.Header &&
					rec.Availability == tt.wantAvail &&
					rec.IsBlockedPage == tt.wantDoggy
			}), mock.Anything).Return(nil).Once()

			res := newTestSink(store, time.Now()).Persist(context.Background(), tt.outcome)
			assert.True(t, res.Saved)
			store.AssertExpectations(t)
		})
	}
}

func TestSink_PersistReportsFailure(t *testing.T) {
	store := new(MockStore)
	store.On("InsertIngestion", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("connection refused")).Once()

	res := newTestSink(store, time.Now()).Persist(context.Background(), models.CheckOutcome{ASIN: "B001", Status: models.StatusSuccess})

	assert.False(t, res.Saved)
	assert.Contains(t, res.Reason, "connection refused")
	store.AssertExpectations(t)
}

func TestSink_SameDayChecksProduceDistinctRecords(t *testing.T) {
	store := new(MockStore)
	store.On("InsertIngestion", mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()

	sink := newTestSink(store, time.Now())
	outcome := models.CheckOutcome{ASIN: "B001", Header: "A", Availability: models.AvailabilityInStock}

	first := sink.Persist(context.Background(), outcome)
	second := sink.Persist(context.Background(), outcome)

	assert.True(t, first.Saved)
	assert.True(t, second.Saved)
	assert.NotEqual(t, first.RecordID, second.RecordID)
	store.AssertExpectations(t)
}
