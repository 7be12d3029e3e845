package repositories

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dangoth/posttrade-poc-sub001/config"
	"github.com/dangoth/posttrade-poc-sub001/internal/domain"
	"github.com/dangoth/posttrade-poc-sub001/internal/messaging"
	"github.com/dangoth/posttrade-poc-sub001/internal/models"
)

func newTestTradeRepository(t *testing.T, db *gorm.DB, snapshotFrequency int64) *TradeRepository {
	t.Helper()

	router := messaging.NewTopicRouter(config.ServiceBusConfig{
		TradeTopic:      "trade-events",
		EnrichmentTopic: "trade-enrichment",
	})
	return NewTradeRepository(db, NewEventStoreRepository(db), router, nil, snapshotFrequency, 10)
}

func TestSaveWritesEventsAndOutboxAtomically(t *testing.T) {
	db := newTestDB(t)
	repo := newTestTradeRepository(t, db, 0)
	ctx := context.Background()

	trade := newStoredTrade(t, "T1")
	require.NoError(t, trade.ChangeStatus(domain.StatusExecuted, "filled", "", ""))
	require.NoError(t, repo.Save(ctx, trade))
	require.Empty(t, trade.GetUncommittedEvents())

	var eventCount, outboxCount int64
	require.NoError(t, db.Model(&models.EventStoreRecord{}).Count(&eventCount).Error)
	require.NoError(t, db.Model(&models.OutboxRecord{}).Count(&outboxCount).Error)
	require.Equal(t, int64(2), eventCount)
	require.Equal(t, int64(2), outboxCount)

	var outboxRow models.OutboxRecord
	require.NoError(t, db.Where("event_type = ?", domain.EventTypeTradeCreated).First(&outboxRow).Error)
	require.Equal(t, "trade-events", outboxRow.Topic)
	require.Equal(t, messaging.Partition("T1", 10), outboxRow.PartitionKey)
	require.False(t, outboxRow.IsProcessed)
}

func TestSaveRoutesEnrichmentEvents(t *testing.T) {
	db := newTestDB(t)
	repo := newTestTradeRepository(t, db, 0)

	trade := newStoredTrade(t, "T1")
	require.NoError(t, trade.EnrichTrade("RiskData", map[string]domain.AttributeValue{
		"Score": domain.NumberAttr(0.5),
	}, "", ""))
	require.NoError(t, repo.Save(context.Background(), trade))

	var outboxRow models.OutboxRecord
	require.NoError(t, db.Where("event_type = ?", domain.EventTypeTradeEnriched).First(&outboxRow).Error)
	require.Equal(t, "trade-enrichment", outboxRow.Topic)
}

func TestSaveConflictRollsBackOutbox(t *testing.T) {
	db := newTestDB(t)
	repo := newTestTradeRepository(t, db, 0)
	ctx := context.Background()

	winner := newStoredTrade(t, "T1")
	require.NoError(t, repo.Save(ctx, winner))

	loser := newStoredTrade(t, "T1")
	err := repo.Save(ctx, loser)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	// The losing transaction must leave no orphaned outbox rows behind.
	var outboxCount int64
	require.NoError(t, db.Model(&models.OutboxRecord{}).Count(&outboxCount).Error)
	require.Equal(t, int64(1), outboxCount)
	require.NotEmpty(t, loser.GetUncommittedEvents())
}

func TestSaveNoUncommittedEventsIsNoOp(t *testing.T) {
	db := newTestDB(t)
	repo := newTestTradeRepository(t, db, 0)
	ctx := context.Background()

	trade := newStoredTrade(t, "T1")
	require.NoError(t, repo.Save(ctx, trade))
	require.NoError(t, repo.Save(ctx, trade))

	var eventCount int64
	require.NoError(t, db.Model(&models.EventStoreRecord{}).Count(&eventCount).Error)
	require.Equal(t, int64(1), eventCount)
}

func TestGetByIDReplaysHistory(t *testing.T) {
	db := newTestDB(t)
	repo := newTestTradeRepository(t, db, 0)
	ctx := context.Background()

	trade := newStoredTrade(t, "T1")
	require.NoError(t, trade.ChangeStatus(domain.StatusExecuted, "", "", ""))
	require.NoError(t, trade.UpdateTradeDetails(
		decimal.NewFromInt(250), decimal.RequireFromString("171.00"), "CPTY-2", trade.TradeDate(), "", ""))
	require.NoError(t, repo.Save(ctx, trade))

	loaded, err := repo.GetByID(ctx, "T1")
	require.NoError(t, err)
	require.Equal(t, int64(3), loaded.Version())
	require.Equal(t, domain.StatusExecuted, loaded.Status())
	require.True(t, loaded.Quantity().Equal(decimal.NewFromInt(250)))
	require.Equal(t, "CPTY-2", loaded.Counterparty())
	require.Empty(t, loaded.GetUncommittedEvents())
}

func TestGetByIDNotFound(t *testing.T) {
	db := newTestDB(t)
	repo := newTestTradeRepository(t, db, 0)

	_, err := repo.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrTradeNotFound)
}

func TestSaveWritesSnapshotAtCadence(t *testing.T) {
	db := newTestDB(t)
	repo := newTestTradeRepository(t, db, 2)
	ctx := context.Background()

	trade := newStoredTrade(t, "T1")
	require.NoError(t, trade.ChangeStatus(domain.StatusExecuted, "", "", ""))
	require.NoError(t, repo.Save(ctx, trade))

	var snapshotCount int64
	require.NoError(t, db.Model(&models.SnapshotRecord{}).Count(&snapshotCount).Error)
	require.Equal(t, int64(1), snapshotCount)

	var snapshot models.SnapshotRecord
	require.NoError(t, db.First(&snapshot).Error)
	require.Equal(t, int64(2), snapshot.AggregateVersion)
}

func TestGetByIDUsesSnapshotPlusTail(t *testing.T) {
	db := newTestDB(t)
	repo := newTestTradeRepository(t, db, 2)
	ctx := context.Background()

	trade := newStoredTrade(t, "T1")
	require.NoError(t, trade.ChangeStatus(domain.StatusExecuted, "", "", ""))
	require.NoError(t, repo.Save(ctx, trade))

	// Version 3 lands after the snapshot at version 2.
	require.NoError(t, trade.ChangeStatus(domain.StatusSettled, "", "", ""))
	require.NoError(t, repo.Save(ctx, trade))

	loaded, err := repo.GetByID(ctx, "T1")
	require.NoError(t, err)
	require.Equal(t, int64(3), loaded.Version())
	require.Equal(t, domain.StatusSettled, loaded.Status())
	require.Equal(t, "TR9:AAPL", loaded.PartitionKey())
}

func TestExists(t *testing.T) {
	db := newTestDB(t)
	repo := newTestTradeRepository(t, db, 0)
	ctx := context.Background()

	exists, err := repo.Exists(ctx, "T1")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, repo.Save(ctx, newStoredTrade(t, "T1")))

	exists, err = repo.Exists(ctx, "T1")
	require.NoError(t, err)
	require.True(t, exists)
}
