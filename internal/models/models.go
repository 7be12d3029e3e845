package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// EventStoreRecord is one committed domain event. The unique index on
// (aggregate_id, aggregate_version) is the sole optimistic-concurrency gate:
// two writers racing on the same aggregate means exactly one insert commits.
type EventStoreRecord struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	EventID          string     `gorm:"not null;uniqueIndex" json:"event_id"`
	AggregateID      string     `gorm:"not null;uniqueIndex:ux_aggregate_version,priority:1" json:"aggregate_id"`
	AggregateType    string     `gorm:"not null" json:"aggregate_type"`
	PartitionKey     string     `gorm:"not null;index" json:"partition_key"`
	AggregateVersion int64      `gorm:"not null;uniqueIndex:ux_aggregate_version,priority:2" json:"aggregate_version"`
	EventType        string     `gorm:"not null" json:"event_type"`
	EventData        []byte     `gorm:"type:jsonb;not null" json:"event_data"`
	Metadata         []byte     `gorm:"type:jsonb" json:"metadata"`
	OccurredAt       time.Time  `gorm:"not null" json:"occurred_at"`
	CorrelationID    string     `json:"correlation_id"`
	CausedBy         string     `json:"caused_by"`
	IsProcessed      bool       `gorm:"not null;default:false" json:"is_processed"`
	ProcessedAt      *time.Time `json:"processed_at"`
}

// TableName implements the GORM tabler interface.
func (EventStoreRecord) TableName() string { return "event_store" }

// SnapshotRecord caches aggregate state at a version to bound replay cost.
// Snapshots are an optimization only; correctness never depends on them.
type SnapshotRecord struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	AggregateID      string    `gorm:"not null;uniqueIndex:ux_snapshot_version,priority:1" json:"aggregate_id"`
	AggregateType    string    `gorm:"not null" json:"aggregate_type"`
	PartitionKey     string    `gorm:"not null" json:"partition_key"`
	AggregateVersion int64     `gorm:"not null;uniqueIndex:ux_snapshot_version,priority:2" json:"aggregate_version"`
	SnapshotData     []byte    `gorm:"type:jsonb;not null" json:"snapshot_data"`
	Metadata         []byte    `gorm:"type:jsonb" json:"metadata"`
}

// TableName implements the GORM tabler interface.
func (SnapshotRecord) TableName() string { return "snapshots" }

// OutboxRecord is the transactional outbox row created in the same transaction
// as its EventStoreRecord. Lifecycle: created -> published -> processed, or
// created -> retried* -> dead-lettered -> reprocessed.
type OutboxRecord struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	EventID          string     `gorm:"not null;uniqueIndex" json:"event_id"`
	AggregateID      string     `gorm:"not null;index" json:"aggregate_id"`
	AggregateType    string     `gorm:"not null" json:"aggregate_type"`
	EventType        string     `gorm:"not null" json:"event_type"`
	EventData        []byte     `gorm:"type:jsonb;not null" json:"event_data"`
	Metadata         []byte     `gorm:"type:jsonb" json:"metadata"`
	Topic            string     `gorm:"not null" json:"topic"`
	PartitionKey     int32      `gorm:"not null" json:"partition_key"`
	ProcessedAt      *time.Time `json:"processed_at"`
	IsProcessed      bool       `gorm:"not null;default:false;index" json:"is_processed"`
	RetryCount       int        `gorm:"not null;default:0" json:"retry_count"`
	LastRetryAt      *time.Time `json:"last_retry_at"`
	ErrorMessage     *string    `json:"error_message"`
	IsDeadLettered   bool       `gorm:"not null;default:false;index" json:"is_dead_lettered"`
	DeadLetteredAt   *time.Time `json:"dead_lettered_at"`
	DeadLetterReason *string    `json:"dead_letter_reason"`
}

// TableName implements the GORM tabler interface.
func (OutboxRecord) TableName() string { return "outbox_events" }

// IdempotencyRecord stores the result of a previously handled command so
// retried requests return the original response without re-executing side
// effects. Expired rows are purged by the daily sweep.
type IdempotencyRecord struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	IdempotencyKey string    `gorm:"not null;uniqueIndex" json:"idempotency_key"`
	AggregateID    string    `gorm:"not null;index" json:"aggregate_id"`
	RequestHash    string    `gorm:"not null" json:"request_hash"`
	ResponseData   []byte    `gorm:"type:jsonb" json:"response_data"`
	ExpiresAt      time.Time `gorm:"not null;index" json:"expires_at"`
}

// TableName implements the GORM tabler interface.
func (IdempotencyRecord) TableName() string { return "idempotency_keys" }

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	// Apply all migrations
	err := db.AutoMigrate(
		&EventStoreRecord{},
		&SnapshotRecord{},
		&OutboxRecord{},
		&IdempotencyRecord{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
