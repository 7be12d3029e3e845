package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/dangoth/posttrade-poc-sub001/internal/models"
)

// OutboxRepository provides access to the transactional outbox rows. The
// publish and retry loops coordinate purely through the row predicates here;
// no in-memory state is shared between them.
type OutboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// CreateInTx inserts outbox rows inside the caller's transaction, so the rows
// are atomic with their event store records.
func (r *OutboxRepository) CreateInTx(ctx context.Context, tx *gorm.DB, records []*models.OutboxRecord) error {
	for _, record := range records {
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
		if err := tx.WithContext(ctx).Create(record).Error; err != nil {
			return errors.Wrap(err, "failed to create outbox record")
		}
	}
	return nil
}

// FetchUnprocessed returns fresh candidate rows for the publish loop, oldest
// first. Rows already carrying retries belong to the retry loop.
func (r *OutboxRepository) FetchUnprocessed(ctx context.Context, limit int) ([]models.OutboxRecord, error) {
	var records []models.OutboxRecord
	err := r.db.WithContext(ctx).
		Where("is_processed = ? AND is_dead_lettered = ? AND retry_count = 0", false, false).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch unprocessed outbox records")
	}
	return records, nil
}

// FetchRetryable returns failed rows awaiting another attempt, oldest first.
func (r *OutboxRepository) FetchRetryable(ctx context.Context, limit int) ([]models.OutboxRecord, error) {
	var records []models.OutboxRecord
	err := r.db.WithContext(ctx).
		Where("is_processed = ? AND is_dead_lettered = ? AND retry_count > 0", false, false).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch retryable outbox records")
	}
	return records, nil
}

// MarkProcessed flips the row to processed. The conditional WHERE doubles as
// the claim step for multi-instance deployments: a row another instance
// already processed (or that moved on to a different retry count) affects
// zero rows, and the caller treats that as "someone else owns it".
func (r *OutboxRepository) MarkProcessed(ctx context.Context, eventID string, claimedRetryCount int) (bool, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.OutboxRecord{}).
		Where("event_id = ? AND is_processed = ? AND retry_count = ?", eventID, false, claimedRetryCount).
		Updates(map[string]interface{}{
			"is_processed": true,
			"processed_at": now,
		})
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "failed to mark outbox record processed")
	}
	return result.RowsAffected > 0, nil
}

// RecordFailure increments the retry count and stores the error for the row.
func (r *OutboxRepository) RecordFailure(ctx context.Context, eventID string, publishErr string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.OutboxRecord{}).
		Where("event_id = ? AND is_processed = ?", eventID, false).
		Updates(map[string]interface{}{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_retry_at": now,
			"error_message": publishErr,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to record outbox failure")
	}
	return nil
}

// MarkDeadLettered parks a row that exceeded its retry budget. The row is
// excluded from both loops until explicitly reprocessed.
func (r *OutboxRepository) MarkDeadLettered(ctx context.Context, eventID string, reason string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.OutboxRecord{}).
		Where("event_id = ? AND is_processed = ? AND is_dead_lettered = ?", eventID, false, false).
		Updates(map[string]interface{}{
			"is_dead_lettered":   true,
			"dead_lettered_at":   now,
			"dead_letter_reason": reason,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to dead-letter outbox record")
	}
	if result.RowsAffected == 0 {
		return errors.Errorf("no outbox record dead-lettered for event %s", eventID)
	}
	return nil
}

// Reprocess resets a dead-lettered row so it re-enters the publish loop's
// candidate set on the next pass.
func (r *OutboxRepository) Reprocess(ctx context.Context, eventID string) error {
	result := r.db.WithContext(ctx).
		Model(&models.OutboxRecord{}).
		Where("event_id = ? AND is_dead_lettered = ?", eventID, true).
		Updates(map[string]interface{}{
			"is_dead_lettered":   false,
			"dead_lettered_at":   nil,
			"dead_letter_reason": nil,
			"retry_count":        0,
			"processed_at":       nil,
			"error_message":      nil,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to reprocess outbox record")
	}
	if result.RowsAffected == 0 {
		return errors.Errorf("no dead-lettered outbox record found for event %s", eventID)
	}
	return nil
}

// ListDeadLettered returns dead-lettered rows, oldest parked first.
func (r *OutboxRepository) ListDeadLettered(ctx context.Context, limit int) ([]models.OutboxRecord, error) {
	var records []models.OutboxRecord
	err := r.db.WithContext(ctx).
		Where("is_dead_lettered = ?", true).
		Order("dead_lettered_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list dead-lettered records")
	}
	return records, nil
}

// ListDeadLetteredOlderThan returns dead-lettered rows parked before the
// cutoff, for the scheduled sweep.
func (r *OutboxRepository) ListDeadLetteredOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.OutboxRecord, error) {
	var records []models.OutboxRecord
	err := r.db.WithContext(ctx).
		Where("is_dead_lettered = ? AND dead_lettered_at < ?", true, cutoff).
		Order("dead_lettered_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stale dead-lettered records")
	}
	return records, nil
}

// CountDeadLettered returns the number of parked rows.
func (r *OutboxRepository) CountDeadLettered(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OutboxRecord{}).
		Where("is_dead_lettered = ?", true).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count dead-lettered records")
	}
	return count, nil
}

// GetByEventID returns a single outbox row.
func (r *OutboxRepository) GetByEventID(ctx context.Context, eventID string) (*models.OutboxRecord, error) {
	var record models.OutboxRecord
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&record).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get outbox record")
	}
	return &record, nil
}
