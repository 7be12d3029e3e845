package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dangoth/posttrade-poc-sub001/internal/domain"
	"github.com/dangoth/posttrade-poc-sub001/internal/models"
)

// newTestDB opens an isolated in-memory database with the same error
// translation the production postgres connection uses.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.SetupModels(db))
	return db
}

func newStoredTrade(t *testing.T, tradeID string) *domain.Trade {
	t.Helper()

	trade, err := domain.NewTrade(domain.NewTradeParams{
		TradeID:      tradeID,
		TraderID:     "TR9",
		InstrumentID: "AAPL",
		Quantity:     decimal.NewFromInt(100),
		Price:        decimal.RequireFromString("172.50"),
		Direction:    domain.DirectionBuy,
		Currency:     "USD",
		Counterparty: "CPTY-1",
		TradeDate:    time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		TradeType:    "EQUITY",
	})
	require.NoError(t, err)
	return trade
}

func appendAll(t *testing.T, db *gorm.DB, repo *EventStoreRepository, events []domain.DomainEvent) error {
	t.Helper()
	return db.Transaction(func(tx *gorm.DB) error {
		return repo.AppendEventsInTx(context.Background(), tx, events)
	})
}

func TestAppendAndLoadEvents(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventStoreRepository(db)
	ctx := context.Background()

	trade := newStoredTrade(t, "T1")
	require.NoError(t, trade.ChangeStatus(domain.StatusExecuted, "filled", "corr-1", "user-7"))

	require.NoError(t, appendAll(t, db, repo, trade.GetUncommittedEvents()))

	events, err := repo.LoadEvents(ctx, "T1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int64(1), events[0].AggregateVersion)
	require.Equal(t, int64(2), events[1].AggregateVersion)
	require.Equal(t, domain.EventTypeTradeCreated, events[0].EventType)
	require.Equal(t, "corr-1", events[1].CorrelationID)

	created, ok := events[0].Payload.(domain.TradeCreated)
	require.True(t, ok)
	require.True(t, created.Quantity.Equal(decimal.NewFromInt(100)))
}

func TestLoadEventsAfterVersion(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventStoreRepository(db)

	trade := newStoredTrade(t, "T1")
	require.NoError(t, trade.ChangeStatus(domain.StatusExecuted, "", "", ""))
	require.NoError(t, trade.ChangeStatus(domain.StatusSettled, "", "", ""))
	require.NoError(t, appendAll(t, db, repo, trade.GetUncommittedEvents()))

	events, err := repo.LoadEvents(context.Background(), "T1", 2)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(3), events[0].AggregateVersion)
}

func TestAppendDuplicateVersionIsConcurrencyConflict(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventStoreRepository(db)

	first := newStoredTrade(t, "T1")
	require.NoError(t, appendAll(t, db, repo, first.GetUncommittedEvents()))

	// A second writer raced on the same stream and lost.
	second := newStoredTrade(t, "T1")
	err := appendAll(t, db, repo, second.GetUncommittedEvents())
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
}

func TestSnapshotSaveAndLatest(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventStoreRepository(db)
	ctx := context.Background()

	trade := newStoredTrade(t, "T1")
	require.NoError(t, trade.ChangeStatus(domain.StatusExecuted, "", "", ""))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.SaveSnapshotInTx(ctx, tx, trade)
	}))

	state, version, err := repo.LatestSnapshot(ctx, "T1")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, int64(2), version)
	require.Equal(t, "Executed", state.Status)
	require.Equal(t, "T1", state.TradeID)
}

func TestLatestSnapshotPicksNewest(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventStoreRepository(db)
	ctx := context.Background()

	trade := newStoredTrade(t, "T1")
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.SaveSnapshotInTx(ctx, tx, trade)
	}))

	require.NoError(t, trade.ChangeStatus(domain.StatusExecuted, "", "", ""))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.SaveSnapshotInTx(ctx, tx, trade)
	}))

	_, version, err := repo.LatestSnapshot(ctx, "T1")
	require.NoError(t, err)
	require.Equal(t, int64(2), version)
}

func TestLatestSnapshotAbsent(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventStoreRepository(db)

	state, version, err := repo.LatestSnapshot(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, state)
	require.Equal(t, int64(0), version)
}

func TestHasEvents(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventStoreRepository(db)
	ctx := context.Background()

	exists, err := repo.HasEvents(ctx, "T1")
	require.NoError(t, err)
	require.False(t, exists)

	trade := newStoredTrade(t, "T1")
	require.NoError(t, appendAll(t, db, repo, trade.GetUncommittedEvents()))

	exists, err = repo.HasEvents(ctx, "T1")
	require.NoError(t, err)
	require.True(t, exists)
}
