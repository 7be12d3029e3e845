package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/dangoth/posttrade-poc-sub001/internal/models"
)

// IdempotencyRepository stores command results keyed by client-supplied
// idempotency keys so retried requests return the original response.
type IdempotencyRepository struct {
	db *gorm.DB
}

// NewIdempotencyRepository creates a new idempotency repository
func NewIdempotencyRepository(db *gorm.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Get returns the record for the key, or nil when absent or expired.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var record models.IdempotencyRecord
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ? AND expires_at > ?", key, time.Now().UTC()).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get idempotency record")
	}
	return &record, nil
}

// Save stores the handled command's response. A concurrent save for the same
// key wins-first; the duplicate is ignored because both carry the same
// response by construction.
func (r *IdempotencyRepository) Save(ctx context.Context, key, aggregateID, requestHash string, responseData []byte, ttl time.Duration) error {
	record := &models.IdempotencyRecord{
		ID:             uuid.New(),
		IdempotencyKey: key,
		AggregateID:    aggregateID,
		RequestHash:    requestHash,
		ResponseData:   responseData,
		ExpiresAt:      time.Now().UTC().Add(ttl),
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return errors.Wrap(err, "failed to save idempotency record")
	}
	return nil
}

// DeleteExpired purges records past their expiry; run by the daily sweep.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now().UTC()).
		Delete(&models.IdempotencyRecord{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to delete expired idempotency records")
	}
	return result.RowsAffected, nil
}
