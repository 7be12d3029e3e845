package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dangoth/posttrade-poc-sub001/config"
	"github.com/dangoth/posttrade-poc-sub001/internal/metrics"
	"github.com/dangoth/posttrade-poc-sub001/internal/models"
)

// Mock dead-letter store for testing
type MockDeadLetterStore struct {
	mock.Mock
}

func (m *MockDeadLetterStore) ListDeadLettered(ctx context.Context, limit int) ([]models.OutboxRecord, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.OutboxRecord), args.Error(1)
}

func (m *MockDeadLetterStore) ListDeadLetteredOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.OutboxRecord, error) {
	args := m.Called(ctx, cutoff, limit)
	return args.Get(0).([]models.OutboxRecord), args.Error(1)
}

func (m *MockDeadLetterStore) CountDeadLettered(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDeadLetterStore) Reprocess(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

func deadLetterConfig() config.OutboxConfig {
	return config.OutboxConfig{
		SweepMaxAge:    24 * time.Hour,
		SweepBatchSize: 10,
	}
}

func TestListCapsLimit(t *testing.T) {
	store := new(MockDeadLetterStore)
	store.On("ListDeadLettered", mock.Anything, maxReprocessBatch).Return([]models.OutboxRecord{}, nil)

	service := NewDeadLetterService(store, metrics.NewMetrics(), deadLetterConfig())

	_, err := service.List(context.Background(), 5000)
	require.NoError(t, err)
	_, err = service.List(context.Background(), 0)
	require.NoError(t, err)

	store.AssertNumberOfCalls(t, "ListDeadLettered", 2)
}

func TestReprocessIncrementsCounter(t *testing.T) {
	store := new(MockDeadLetterStore)
	store.On("Reprocess", mock.Anything, "evt-1").Return(nil)

	collector := metrics.NewMetrics()
	service := NewDeadLetterService(store, collector, deadLetterConfig())

	require.NoError(t, service.Reprocess(context.Background(), "evt-1"))
	require.Equal(t, int64(1), collector.GetCounter(metrics.CounterOutboxReprocessed))
}

func TestReprocessAllCollectsPerRowFailures(t *testing.T) {
	store := new(MockDeadLetterStore)
	records := []models.OutboxRecord{
		{EventID: "evt-1"},
		{EventID: "evt-2"},
		{EventID: "evt-3"},
	}
	store.On("ListDeadLettered", mock.Anything, 100).Return(records, nil)
	store.On("Reprocess", mock.Anything, "evt-1").Return(nil)
	store.On("Reprocess", mock.Anything, "evt-2").Return(errors.New("row is gone"))
	store.On("Reprocess", mock.Anything, "evt-3").Return(nil)

	service := NewDeadLetterService(store, metrics.NewMetrics(), deadLetterConfig())

	result, err := service.ReprocessAll(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, 2, result.Reprocessed)
	require.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	require.Contains(t, result.Failures[0], "evt-2")
}

func TestSweepStalePromotesAgedRows(t *testing.T) {
	store := new(MockDeadLetterStore)
	records := []models.OutboxRecord{{EventID: "evt-1"}, {EventID: "evt-2"}}

	store.On("ListDeadLetteredOlderThan", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		// Cutoff sits a full sweep age in the past.
		return time.Since(cutoff) > 23*time.Hour
	}), 10).Return(records, nil)
	store.On("Reprocess", mock.Anything, "evt-1").Return(nil)
	store.On("Reprocess", mock.Anything, "evt-2").Return(nil)

	service := NewDeadLetterService(store, metrics.NewMetrics(), deadLetterConfig())
	require.NoError(t, service.SweepStale(context.Background()))

	store.AssertExpectations(t)
}

func TestSweepStaleNothingToDo(t *testing.T) {
	store := new(MockDeadLetterStore)
	store.On("ListDeadLetteredOlderThan", mock.Anything, mock.Anything, 10).Return([]models.OutboxRecord{}, nil)

	service := NewDeadLetterService(store, metrics.NewMetrics(), deadLetterConfig())
	require.NoError(t, service.SweepStale(context.Background()))

	store.AssertNotCalled(t, "Reprocess", mock.Anything, mock.Anything)
}

func TestStatisticsRefreshesGauge(t *testing.T) {
	store := new(MockDeadLetterStore)
	store.On("CountDeadLettered", mock.Anything).Return(int64(7), nil)

	collector := metrics.NewMetrics()
	service := NewDeadLetterService(store, collector, deadLetterConfig())

	stats, err := service.Statistics(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(7), stats.DeadLetteredCount)
	require.Equal(t, int64(7), collector.GetGauge(metrics.GaugeDeadLettered))
	require.False(t, stats.Timestamp.IsZero())
}
