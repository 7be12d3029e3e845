package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/dangoth/posttrade-poc-sub001/internal/domain"
	"github.com/dangoth/posttrade-poc-sub001/internal/messaging"
	"github.com/dangoth/posttrade-poc-sub001/internal/models"
	"github.com/dangoth/posttrade-poc-sub001/internal/serialization"
)

// Projection receives the committed aggregate for read-model write-back.
// Projection failures never fail a save.
type Projection interface {
	Apply(ctx context.Context, trade *domain.Trade) error
}

// TradeRepository composes the snapshot store, event store and outbox into a
// single atomic save/load unit for trade aggregates.
type TradeRepository struct {
	db                *gorm.DB
	eventStore        *EventStoreRepository
	router            *messaging.TopicRouter
	projection        Projection
	snapshotFrequency int64
	partitionCount    int32
}

// NewTradeRepository creates a new trade repository. projection may be nil.
func NewTradeRepository(
	db *gorm.DB,
	eventStore *EventStoreRepository,
	router *messaging.TopicRouter,
	projection Projection,
	snapshotFrequency int64,
	partitionCount int32,
) *TradeRepository {
	return &TradeRepository{
		db:                db,
		eventStore:        eventStore,
		router:            router,
		projection:        projection,
		snapshotFrequency: snapshotFrequency,
		partitionCount:    partitionCount,
	}
}

// GetByID hydrates a trade from its latest snapshot plus the events recorded
// after it. Returns domain.ErrTradeNotFound when no history exists,
// distinctly from infrastructure errors.
func (r *TradeRepository) GetByID(ctx context.Context, tradeID string) (*domain.Trade, error) {
	state, snapshotVersion, err := r.eventStore.LatestSnapshot(ctx, tradeID)
	if err != nil {
		return nil, err
	}

	var trade *domain.Trade
	if state != nil {
		trade, err = domain.RehydrateTrade(*state, snapshotVersion)
		if err != nil {
			return nil, err
		}
	} else {
		trade = domain.NewEmptyTrade(tradeID)
	}

	events, err := r.eventStore.LoadEvents(ctx, tradeID, snapshotVersion)
	if err != nil {
		return nil, err
	}
	if state == nil && len(events) == 0 {
		return nil, errors.Wrapf(domain.ErrTradeNotFound, "trade %s", tradeID)
	}

	if err := trade.LoadFromHistory(trade, events); err != nil {
		return nil, err
	}
	return trade, nil
}

// Exists reports whether the trade has committed history.
func (r *TradeRepository) Exists(ctx context.Context, tradeID string) (bool, error) {
	return r.eventStore.HasEvents(ctx, tradeID)
}

// Save commits every uncommitted event and its matching outbox row in one
// transaction, writing a snapshot when the version crosses the cadence. A
// unique-constraint collision aborts the whole transaction and surfaces
// domain.ErrConcurrencyConflict; the caller owns the reload-and-retry.
func (r *TradeRepository) Save(ctx context.Context, trade *domain.Trade) error {
	events := trade.GetUncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.eventStore.AppendEventsInTx(ctx, tx, events); err != nil {
			return err
		}

		outboxRecords, err := r.buildOutboxRecords(events)
		if err != nil {
			return err
		}
		for _, record := range outboxRecords {
			if err := tx.WithContext(ctx).Create(record).Error; err != nil {
				return errors.Wrap(err, "failed to create outbox record")
			}
		}

		if r.snapshotFrequency > 0 && trade.Version()%r.snapshotFrequency == 0 {
			if err := r.eventStore.SaveSnapshotInTx(ctx, tx, trade); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	trade.MarkEventsAsCommitted()

	// Read-model write-back is best effort; the committed events are the
	// source of truth and the outbox pipeline carries them downstream.
	if r.projection != nil {
		if err := r.projection.Apply(ctx, trade); err != nil {
			log.Warn().Err(err).
				Str("trade_id", trade.AggregateID()).
				Msg("Failed to update trade read model")
		}
	}
	return nil
}

func (r *TradeRepository) buildOutboxRecords(events []domain.DomainEvent) ([]*models.OutboxRecord, error) {
	records := make([]*models.OutboxRecord, 0, len(events))
	for _, event := range events {
		payloadData, err := serialization.SerializePayload(event.Payload)
		if err != nil {
			return nil, err
		}
		metaData, err := serialization.SerializeMetadata(serialization.Metadata{
			CorrelationID: event.CorrelationID,
			CausedBy:      event.CausedBy,
			SchemaVersion: 1,
		})
		if err != nil {
			return nil, err
		}

		records = append(records, &models.OutboxRecord{
			ID:            uuid.New(),
			EventID:       event.EventID,
			AggregateID:   event.AggregateID,
			AggregateType: event.AggregateType,
			EventType:     event.EventType,
			EventData:     payloadData,
			Metadata:      metaData,
			Topic:         r.router.Route(event.EventType),
			PartitionKey:  messaging.Partition(event.AggregateID, r.partitionCount),
		})
	}
	return records, nil
}
