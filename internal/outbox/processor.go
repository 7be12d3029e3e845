package outbox

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dangoth/posttrade-poc-sub001/config"
	"github.com/dangoth/posttrade-poc-sub001/internal/messaging"
	"github.com/dangoth/posttrade-poc-sub001/internal/metrics"
	"github.com/dangoth/posttrade-poc-sub001/internal/models"
)

// Store is the slice of the outbox repository the pipeline reads and writes.
// The loops coordinate exclusively through these row predicates.
type Store interface {
	FetchUnprocessed(ctx context.Context, limit int) ([]models.OutboxRecord, error)
	FetchRetryable(ctx context.Context, limit int) ([]models.OutboxRecord, error)
	MarkProcessed(ctx context.Context, eventID string, claimedRetryCount int) (bool, error)
	RecordFailure(ctx context.Context, eventID string, publishErr string) error
	MarkDeadLettered(ctx context.Context, eventID string, reason string) error
}

// Processor drains outbox rows to the external publisher. The publish loop
// handles fresh rows; the retry loop re-attempts rows that already failed,
// on a longer cadence.
type Processor struct {
	store     Store
	publisher messaging.Publisher
	metrics   *metrics.Metrics
	cfg       config.OutboxConfig
}

// NewProcessor creates a new outbox processor
func NewProcessor(store Store, publisher messaging.Publisher, collector *metrics.Metrics, cfg config.OutboxConfig) *Processor {
	return &Processor{
		store:     store,
		publisher: publisher,
		metrics:   collector,
		cfg:       cfg,
	}
}

// RunPublishLoop runs the fresh-row publish pass until the context is
// cancelled. A run-level failure is logged and followed by a short cooldown;
// the loop never terminates on a transient error.
func (p *Processor) RunPublishLoop(ctx context.Context) error {
	return p.runLoop(ctx, "publish", p.cfg.PublishInterval, p.PublishPass)
}

// RunRetryLoop runs the retry pass for rows already carrying failures.
func (p *Processor) RunRetryLoop(ctx context.Context) error {
	return p.runLoop(ctx, "retry", p.cfg.RetryInterval, p.RetryPass)
}

func (p *Processor) runLoop(ctx context.Context, name string, interval time.Duration, pass func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := pass(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Str("loop", name).Msg("Outbox pass failed, cooling down")
			select {
			case <-time.After(p.cfg.ErrorCooldown):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Info().Str("loop", name).Msg("Outbox loop stopping")
			return nil
		}
	}
}

// PublishPass publishes one batch of fresh rows, oldest first.
func (p *Processor) PublishPass(ctx context.Context) error {
	records, err := p.store.FetchUnprocessed(ctx, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	return p.publishRecords(ctx, records)
}

// RetryPass re-attempts one batch of previously failed rows.
func (p *Processor) RetryPass(ctx context.Context) error {
	records, err := p.store.FetchRetryable(ctx, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	return p.publishRecords(ctx, records)
}

func (p *Processor) publishRecords(ctx context.Context, records []models.OutboxRecord) error {
	for _, record := range records {
		// Cancellation is observed between units of work; an in-flight
		// publish completes or fails on its own terms.
		if ctx.Err() != nil {
			return nil
		}
		if err := p.publishOne(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// publishOne attempts a single row. A publish failure is recorded on the row
// and left for the retry loop; only store failures propagate as pass errors.
func (p *Processor) publishOne(ctx context.Context, record models.OutboxRecord) error {
	headers := map[string]string{
		"event_id":       record.EventID,
		"event_type":     record.EventType,
		"aggregate_type": record.AggregateType,
	}

	publishErr := p.publisher.Publish(ctx, record.Topic, record.PartitionKey, record.AggregateID, record.EventData, headers)
	if publishErr != nil {
		p.metrics.IncrementCounter(metrics.CounterOutboxFailures)
		log.Warn().Err(publishErr).
			Str("event_id", record.EventID).
			Str("topic", record.Topic).
			Int("retry_count", record.RetryCount).
			Msg("Failed to publish outbox record")

		if err := p.store.RecordFailure(ctx, record.EventID, publishErr.Error()); err != nil {
			return err
		}
		if record.RetryCount+1 >= p.cfg.DeadLetterThreshold {
			if err := p.store.MarkDeadLettered(ctx, record.EventID, publishErr.Error()); err != nil {
				return err
			}
			p.metrics.IncrementCounter(metrics.CounterOutboxDeadLetters)
			log.Error().
				Str("event_id", record.EventID).
				Int("retry_count", record.RetryCount+1).
				Msg("Outbox record dead-lettered")
		}
		return nil
	}

	// The conditional update is the claim: if another instance already
	// processed this row the update affects zero rows, and broker duplicate
	// detection keyed on the event id absorbs the extra publish.
	claimed, err := p.store.MarkProcessed(ctx, record.EventID, record.RetryCount)
	if err != nil {
		return errors.Wrapf(err, "published event %s but could not mark it processed", record.EventID)
	}
	if !claimed {
		log.Debug().Str("event_id", record.EventID).Msg("Outbox record already claimed by another instance")
		return nil
	}

	p.metrics.IncrementCounter(metrics.CounterOutboxPublished)
	log.Info().
		Str("event_id", record.EventID).
		Str("topic", record.Topic).
		Int32("partition", record.PartitionKey).
		Msg("Outbox record published")
	return nil
}
