package outbox

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dangoth/posttrade-poc-sub001/config"
	"github.com/dangoth/posttrade-poc-sub001/internal/metrics"
	"github.com/dangoth/posttrade-poc-sub001/internal/models"
)

// maxReprocessBatch caps manual bulk reprocessing per call.
const maxReprocessBatch = 1000

// DeadLetterStore is the slice of the outbox repository the dead-letter
// service needs.
type DeadLetterStore interface {
	ListDeadLettered(ctx context.Context, limit int) ([]models.OutboxRecord, error)
	ListDeadLetteredOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.OutboxRecord, error)
	CountDeadLettered(ctx context.Context) (int64, error)
	Reprocess(ctx context.Context, eventID string) error
}

// ReprocessResult summarises a bulk reprocess call.
type ReprocessResult struct {
	Reprocessed int      `json:"reprocessed"`
	Failed      int      `json:"failed"`
	Failures    []string `json:"failures,omitempty"`
}

// Statistics is the dead-letter admin snapshot.
type Statistics struct {
	DeadLetteredCount int64     `json:"dead_lettered_count"`
	Timestamp         time.Time `json:"timestamp"`
}

// DeadLetterService manages parked outbox rows: listing, manual promotion and
// the scheduled sweep.
type DeadLetterService struct {
	store   DeadLetterStore
	metrics *metrics.Metrics
	cfg     config.OutboxConfig
}

// NewDeadLetterService creates a new dead-letter service
func NewDeadLetterService(store DeadLetterStore, collector *metrics.Metrics, cfg config.OutboxConfig) *DeadLetterService {
	return &DeadLetterService{
		store:   store,
		metrics: collector,
		cfg:     cfg,
	}
}

// List returns dead-lettered rows, capped at 1000 per call.
func (s *DeadLetterService) List(ctx context.Context, limit int) ([]models.OutboxRecord, error) {
	if limit <= 0 || limit > maxReprocessBatch {
		limit = maxReprocessBatch
	}
	return s.store.ListDeadLettered(ctx, limit)
}

// Count returns the number of parked rows.
func (s *DeadLetterService) Count(ctx context.Context) (int64, error) {
	return s.store.CountDeadLettered(ctx)
}

// Reprocess promotes a single row back into the publish loop's candidate set.
func (s *DeadLetterService) Reprocess(ctx context.Context, eventID string) error {
	if err := s.store.Reprocess(ctx, eventID); err != nil {
		return err
	}
	s.metrics.IncrementCounter(metrics.CounterOutboxReprocessed)
	log.Info().Str("event_id", eventID).Msg("Dead-lettered record reprocessed")
	return nil
}

// ReprocessAll promotes up to limit parked rows, reporting per-row failures
// instead of stopping at the first one.
func (s *DeadLetterService) ReprocessAll(ctx context.Context, limit int) (ReprocessResult, error) {
	if limit <= 0 || limit > maxReprocessBatch {
		limit = maxReprocessBatch
	}

	records, err := s.store.ListDeadLettered(ctx, limit)
	if err != nil {
		return ReprocessResult{}, err
	}

	var result ReprocessResult
	for _, record := range records {
		if ctx.Err() != nil {
			break
		}
		if err := s.Reprocess(ctx, record.EventID); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, record.EventID+": "+err.Error())
			continue
		}
		result.Reprocessed++
	}
	return result, nil
}

// SweepStale is the scheduled promotion of rows parked longer than the
// configured age. The batch is kept small so a systemic failure cannot flood
// the publish loop with poison messages.
func (s *DeadLetterService) SweepStale(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.cfg.SweepMaxAge)
	records, err := s.store.ListDeadLetteredOlderThan(ctx, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	log.Info().Int("count", len(records)).Msg("Sweeping stale dead-lettered records")
	for _, record := range records {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.Reprocess(ctx, record.EventID); err != nil {
			log.Error().Err(err).Str("event_id", record.EventID).Msg("Failed to sweep dead-lettered record")
		}
	}
	return nil
}

// Statistics returns the admin snapshot and refreshes the gauge.
func (s *DeadLetterService) Statistics(ctx context.Context) (Statistics, error) {
	count, err := s.store.CountDeadLettered(ctx)
	if err != nil {
		return Statistics{}, err
	}
	s.metrics.SetGauge(metrics.GaugeDeadLettered, count)
	return Statistics{
		DeadLetteredCount: count,
		Timestamp:         time.Now().UTC(),
	}, nil
}
