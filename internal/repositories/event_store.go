package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/dangoth/posttrade-poc-sub001/internal/domain"
	"github.com/dangoth/posttrade-poc-sub001/internal/models"
	"github.com/dangoth/posttrade-poc-sub001/internal/serialization"
)

// EventStoreRepository provides append-only access to the event log and the
// snapshot table.
type EventStoreRepository struct {
	db *gorm.DB
}

// NewEventStoreRepository creates a new event store repository
func NewEventStoreRepository(db *gorm.DB) *EventStoreRepository {
	return &EventStoreRepository{db: db}
}

// AppendEventsInTx inserts the events inside the caller's transaction. The
// unique (aggregate_id, aggregate_version) index is the concurrency gate: a
// duplicate key means another writer committed that version first, and the
// whole transaction must roll back.
func (r *EventStoreRepository) AppendEventsInTx(ctx context.Context, tx *gorm.DB, events []domain.DomainEvent) error {
	for _, event := range events {
		record, err := eventToRecord(event)
		if err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Create(record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errors.Wrapf(domain.ErrConcurrencyConflict,
					"aggregate %s version %d", event.AggregateID, event.AggregateVersion)
			}
			return errors.Wrap(err, "failed to append event")
		}
	}
	return nil
}

// LoadEvents reads all events for the aggregate with version greater than
// afterVersion, in ascending version order.
func (r *EventStoreRepository) LoadEvents(ctx context.Context, aggregateID string, afterVersion int64) ([]domain.DomainEvent, error) {
	var records []models.EventStoreRecord
	err := r.db.WithContext(ctx).
		Where("aggregate_id = ? AND aggregate_version > ?", aggregateID, afterVersion).
		Order("aggregate_version ASC").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load events")
	}

	events := make([]domain.DomainEvent, 0, len(records))
	for _, record := range records {
		event, err := recordToEvent(record)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// SaveSnapshotInTx writes a snapshot row inside the caller's transaction.
// Snapshots at an already-snapshotted version are skipped, not rewritten.
func (r *EventStoreRepository) SaveSnapshotInTx(ctx context.Context, tx *gorm.DB, trade *domain.Trade) error {
	stateData, err := serialization.SerializeState(trade.Snapshot())
	if err != nil {
		return err
	}

	record := &models.SnapshotRecord{
		ID:               uuid.New(),
		AggregateID:      trade.AggregateID(),
		AggregateType:    trade.AggregateType(),
		PartitionKey:     trade.PartitionKey(),
		AggregateVersion: trade.Version(),
		SnapshotData:     stateData,
	}
	if err := tx.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return errors.Wrap(err, "failed to save snapshot")
	}
	return nil
}

// LatestSnapshot returns the newest snapshot for the aggregate, or
// (nil, 0, nil) when none exists.
func (r *EventStoreRepository) LatestSnapshot(ctx context.Context, aggregateID string) (*domain.TradeState, int64, error) {
	var record models.SnapshotRecord
	err := r.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("aggregate_version DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, nil
		}
		return nil, 0, errors.Wrap(err, "failed to load snapshot")
	}

	state, err := serialization.DeserializeState(record.SnapshotData)
	if err != nil {
		return nil, 0, err
	}
	return &state, record.AggregateVersion, nil
}

// HasEvents reports whether any committed history exists for the aggregate.
func (r *EventStoreRepository) HasEvents(ctx context.Context, aggregateID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EventStoreRecord{}).
		Where("aggregate_id = ?", aggregateID).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to count events")
	}
	return count > 0, nil
}

func eventToRecord(event domain.DomainEvent) (*models.EventStoreRecord, error) {
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

	return &models.EventStoreRecord{
		ID:               uuid.New(),
		EventID:          event.EventID,
		AggregateID:      event.AggregateID,
		AggregateType:    event.AggregateType,
		PartitionKey:     partitionKeyOf(event),
		AggregateVersion: event.AggregateVersion,
		EventType:        event.EventType,
		EventData:        payloadData,
		Metadata:         metaData,
		OccurredAt:       event.OccurredAt,
		CorrelationID:    event.CorrelationID,
		CausedBy:         event.CausedBy,
	}, nil
}

func recordToEvent(record models.EventStoreRecord) (domain.DomainEvent, error) {
	payload, err := serialization.DeserializePayload(record.EventType, record.EventData)
	if err != nil {
		return domain.DomainEvent{}, err
	}
	return domain.DomainEvent{
		EventID:          record.EventID,
		AggregateID:      record.AggregateID,
		AggregateType:    record.AggregateType,
		AggregateVersion: record.AggregateVersion,
		EventType:        record.EventType,
		OccurredAt:       record.OccurredAt,
		CorrelationID:    record.CorrelationID,
		CausedBy:         record.CausedBy,
		Payload:          payload,
	}, nil
}

func partitionKeyOf(event domain.DomainEvent) string {
	if created, ok := event.Payload.(domain.TradeCreated); ok {
		return domain.TradePartitionKey(created.TraderID, created.InstrumentID)
	}
	return event.AggregateID
}
