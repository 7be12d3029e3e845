package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dangoth/posttrade-poc-sub001/internal/models"
)

func seedOutboxRecord(t *testing.T, db *gorm.DB, repo *OutboxRepository, eventID string) {
	t.Helper()

	record := &models.OutboxRecord{
		ID:            uuid.New(),
		EventID:       eventID,
		AggregateID:   "T1",
		AggregateType: "Trade",
		EventType:     "TradeCreated",
		EventData:     []byte(`{}`),
		Topic:         "trade-events",
		PartitionKey:  1,
	}
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.CreateInTx(context.Background(), tx, []*models.OutboxRecord{record})
	}))
}

func TestFetchUnprocessedExcludesRetriedRows(t *testing.T) {
	db := newTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	seedOutboxRecord(t, db, repo, "evt-1")
	seedOutboxRecord(t, db, repo, "evt-2")
	require.NoError(t, repo.RecordFailure(ctx, "evt-2", "broker down"))

	fresh, err := repo.FetchUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	require.Equal(t, "evt-1", fresh[0].EventID)

	retryable, err := repo.FetchRetryable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	require.Equal(t, "evt-2", retryable[0].EventID)
	require.Equal(t, 1, retryable[0].RetryCount)
	require.NotNil(t, retryable[0].ErrorMessage)
}

func TestMarkProcessedClaimsOnce(t *testing.T) {
	db := newTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	seedOutboxRecord(t, db, repo, "evt-1")

	claimed, err := repo.MarkProcessed(ctx, "evt-1", 0)
	require.NoError(t, err)
	require.True(t, claimed)

	// Second instance publishing the same row loses the claim.
	claimed, err = repo.MarkProcessed(ctx, "evt-1", 0)
	require.NoError(t, err)
	require.False(t, claimed)

	fresh, err := repo.FetchUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, fresh)
}

func TestMarkProcessedStaleRetryCountLosesClaim(t *testing.T) {
	db := newTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	seedOutboxRecord(t, db, repo, "evt-1")
	require.NoError(t, repo.RecordFailure(ctx, "evt-1", "broker down"))

	// The claim carries the retry count observed at fetch time; a row that
	// moved on since then is not ours to mark.
	claimed, err := repo.MarkProcessed(ctx, "evt-1", 0)
	require.NoError(t, err)
	require.False(t, claimed)

	claimed, err = repo.MarkProcessed(ctx, "evt-1", 1)
	require.NoError(t, err)
	require.True(t, claimed)
}

func TestDeadLetterLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	seedOutboxRecord(t, db, repo, "evt-1")
	require.NoError(t, repo.RecordFailure(ctx, "evt-1", "broker down"))
	require.NoError(t, repo.MarkDeadLettered(ctx, "evt-1", "retry budget exceeded"))

	// Parked rows leave both loops' candidate sets.
	fresh, err := repo.FetchUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, fresh)
	retryable, err := repo.FetchRetryable(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, retryable)

	count, err := repo.CountDeadLettered(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	parked, err := repo.ListDeadLettered(ctx, 10)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	require.Equal(t, "retry budget exceeded", *parked[0].DeadLetterReason)

	// Reprocessing resets the row into the publish loop's candidate set.
	require.NoError(t, repo.Reprocess(ctx, "evt-1"))

	fresh, err = repo.FetchUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	require.Equal(t, 0, fresh[0].RetryCount)
	require.Nil(t, fresh[0].ErrorMessage)
	require.False(t, fresh[0].IsDeadLettered)
}

func TestReprocessUnknownEventFails(t *testing.T) {
	db := newTestDB(t)
	repo := NewOutboxRepository(db)

	err := repo.Reprocess(context.Background(), "missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no dead-lettered outbox record")
}

func TestListDeadLetteredOlderThan(t *testing.T) {
	db := newTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	seedOutboxRecord(t, db, repo, "evt-1")
	require.NoError(t, repo.MarkDeadLettered(ctx, "evt-1", "stuck"))

	// A cutoff in the past excludes the freshly parked row.
	stale, err := repo.ListDeadLetteredOlderThan(ctx, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, stale)

	stale, err = repo.ListDeadLetteredOlderThan(ctx, time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
}

func TestGetByEventID(t *testing.T) {
	db := newTestDB(t)
	repo := NewOutboxRepository(db)

	seedOutboxRecord(t, db, repo, "evt-1")

	record, err := repo.GetByEventID(context.Background(), "evt-1")
	require.NoError(t, err)
	require.Equal(t, "evt-1", record.EventID)

	_, err = repo.GetByEventID(context.Background(), "missing")
	require.Error(t, err)
}
