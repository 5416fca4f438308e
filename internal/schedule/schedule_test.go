package schedule

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/maltedev/asin-availability/internal/database"
	"github.com/maltedev/asin-availability/internal/runs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTrigger struct {
	mock.Mock
}

func (m *MockTrigger) Start(ctx context.Context, trigger string, asins []string) (*database.Run, error) {
	args := m.Called(ctx, trigger, asins)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*database.Run), args.Error(1)
}

func TestNew_RejectsInvalidExpression(t *testing.T) {
	_, err := New("every day at noon", new(MockTrigger), slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse schedule")
}

func TestNew_AcceptsDescriptors(t *testing.T) {
	for _, expr := range []string{"@daily", "0 6 * * *", "*/15 * * * *"} {
		_, err := New(expr, new(MockTrigger), slog.Default())
		assert.NoError(t, err, expr)
	}
}

func TestScheduler_NextAfterStart(t *testing.T) {
	s, err := New("@hourly", new(MockTrigger), slog.Default())
	require.NoError(t, err)
	assert.True(t, s.Next().IsZero())

	s.Start()
	defer s.Stop()
	assert.False(t, s.Next().IsZero())
}

func TestScheduler_FireStartsCatalogRun(t *testing.T) {
	trigger := new(MockTrigger)
	trigger.On("Start", mock.Anything, runs.TriggerSchedule, []string(nil)).
		Return(&database.Run{ID: uuid.New()}, nil).Once()

	s, err := New("@daily", trigger, slog.Default())
	require.NoError(t, err)

	s.fire()
	trigger.AssertExpectations(t)
}

func TestScheduler_FireSkipsWhenBusy(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"run in progress", runs.ErrRunInProgress},
		{"shutting down", runs.ErrShuttingDown},
		{"store failure", errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := new(MockTrigger)
			trigger.On("Start", mock.Anything, runs.TriggerSchedule, []string(nil)).Return(nil, tt.err).Once()

			s, err := New("@daily", trigger, slog.Default())
			require.NoError(t, err)

			assert.NotPanics(t, s.fire)
			trigger.AssertExpectations(t)
		})
	}
}
