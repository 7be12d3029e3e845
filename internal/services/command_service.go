package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dangoth/posttrade-poc-sub001/internal/domain"
	"github.com/dangoth/posttrade-poc-sub001/internal/metrics"
	"github.com/dangoth/posttrade-poc-sub001/internal/models"
	"github.com/dangoth/posttrade-poc-sub001/internal/tracing"
)

// idempotencyTTL is how long a handled command's response stays replayable.
const idempotencyTTL = 24 * time.Hour

// TradeStore is the aggregate repository seam the handlers depend on.
type TradeStore interface {
	GetByID(ctx context.Context, tradeID string) (*domain.Trade, error)
	Save(ctx context.Context, trade *domain.Trade) error
	Exists(ctx context.Context, tradeID string) (bool, error)
}

// IdempotencyStore is the idempotency repository seam.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	Save(ctx context.Context, key, aggregateID, requestHash string, responseData []byte, ttl time.Duration) error
}

// CommandResult is the success value returned by every handler. Expected
// failures travel as typed errors, never panics.
type CommandResult struct {
	TradeID string `json:"trade_id"`
	Version int64  `json:"version"`
	Status  string `json:"status"`
}

// CreateTradeCommand opens a new trade stream.
type CreateTradeCommand struct {
	TradeID        string          `json:"trade_id"`
	TraderID       string          `json:"trader_id"`
	InstrumentID   string          `json:"instrument_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Direction      string          `json:"direction"`
	Currency       string          `json:"currency"`
	Counterparty   string          `json:"counterparty"`
	TradeDate      time.Time       `json:"trade_date"`
	TradeType      string          `json:"trade_type"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	CausedBy       string          `json:"caused_by,omitempty"`
}

// UpdateTradeDetailsCommand replaces the trade economics.
type UpdateTradeDetailsCommand struct {
	TradeID        string          `json:"trade_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Counterparty   string          `json:"counterparty"`
	TradeDate      time.Time       `json:"trade_date"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	CausedBy       string          `json:"caused_by,omitempty"`
}

// ChangeTradeStatusCommand moves the trade through its lifecycle.
type ChangeTradeStatusCommand struct {
	TradeID        string `json:"trade_id"`
	NewStatus      string `json:"new_status"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`
	CausedBy       string `json:"caused_by,omitempty"`
}

// EnrichTradeCommand merges reference data into the trade.
type EnrichTradeCommand struct {
	TradeID        string                           `json:"trade_id"`
	EnrichmentType string                           `json:"enrichment_type"`
	Data           map[string]domain.AttributeValue `json:"data"`
	CorrelationID  string                           `json:"correlation_id,omitempty"`
	CausedBy       string                           `json:"caused_by,omitempty"`
}

// ValidateTradeCommand runs the business validation pass.
type ValidateTradeCommand struct {
	TradeID       string `json:"trade_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CausedBy      string `json:"caused_by,omitempty"`
}

// TradeCommandService orchestrates: validate, idempotency check, load,
// mutate, persist. It never retries concurrency conflicts; callers resubmit.
type TradeCommandService struct {
	trades      TradeStore
	idempotency IdempotencyStore
	metrics     *metrics.Metrics
	tracer      tracing.Tracer
}

// NewTradeCommandService creates a new trade command service
func NewTradeCommandService(trades TradeStore, idempotency IdempotencyStore, collector *metrics.Metrics, tracer tracing.Tracer) *TradeCommandService {
	return &TradeCommandService{
		trades:      trades,
		idempotency: idempotency,
		metrics:     collector,
		tracer:      tracer,
	}
}

// CreateTrade handles the creation command.
func (s *TradeCommandService) CreateTrade(ctx context.Context, cmd CreateTradeCommand) (*CommandResult, error) {
	txn := s.tracer.StartTransaction("create-trade")
	defer s.tracer.EndTransaction(txn)

	if err := validateCreateTrade(cmd); err != nil {
		s.metrics.IncrementCounter(metrics.CounterCommandsRejected)
		return nil, err
	}

	if result, handled, err := s.replayIdempotent(ctx, cmd.IdempotencyKey, cmd); err != nil || handled {
		return result, err
	}

	exists, err := s.trades.Exists(ctx, cmd.TradeID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	if exists {
		s.metrics.IncrementCounter(metrics.CounterCommandsRejected)
		return nil, errors.Wrapf(domain.ErrTradeAlreadyExists, "trade %s", cmd.TradeID)
	}

	direction, err := domain.ParseTradeDirection(cmd.Direction)
	if err != nil {
		return nil, domain.NewValidationError([]string{err.Error()})
	}

	trade, err := domain.NewTrade(domain.NewTradeParams{
		TradeID:       cmd.TradeID,
		TraderID:      cmd.TraderID,
		InstrumentID:  cmd.InstrumentID,
		Quantity:      cmd.Quantity,
		Price:         cmd.Price,
		Direction:     direction,
		Currency:      cmd.Currency,
		Counterparty:  cmd.Counterparty,
		TradeDate:     cmd.TradeDate,
		TradeType:     cmd.TradeType,
		CorrelationID: cmd.CorrelationID,
		CausedBy:      cmd.CausedBy,
	})
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	return s.persist(ctx, txn, trade, cmd.IdempotencyKey, cmd)
}

// UpdateTradeDetails handles the details-update command.
func (s *TradeCommandService) UpdateTradeDetails(ctx context.Context, cmd UpdateTradeDetailsCommand) (*CommandResult, error) {
	txn := s.tracer.StartTransaction("update-trade-details")
	defer s.tracer.EndTransaction(txn)

	if err := validateUpdateDetails(cmd); err != nil {
		s.metrics.IncrementCounter(metrics.CounterCommandsRejected)
		return nil, err
	}

	if result, handled, err := s.replayIdempotent(ctx, cmd.IdempotencyKey, cmd); err != nil || handled {
		return result, err
	}

	trade, err := s.trades.GetByID(ctx, cmd.TradeID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	if err := trade.UpdateTradeDetails(cmd.Quantity, cmd.Price, cmd.Counterparty, cmd.TradeDate, cmd.CorrelationID, cmd.CausedBy); err != nil {
		s.metrics.IncrementCounter(metrics.CounterCommandsRejected)
		return nil, err
	}

	return s.persist(ctx, txn, trade, cmd.IdempotencyKey, cmd)
}

// ChangeTradeStatus handles lifecycle transitions.
func (s *TradeCommandService) ChangeTradeStatus(ctx context.Context, cmd ChangeTradeStatusCommand) (*CommandResult, error) {
	txn := s.tracer.StartTransaction("change-trade-status")
	defer s.tracer.EndTransaction(txn)

	newStatus, err := domain.ParseTradeStatus(cmd.NewStatus)
	if err != nil {
		s.metrics.IncrementCounter(metrics.CounterCommandsRejected)
		return nil, domain.NewValidationError([]string{err.Error()})
	}

	if result, handled, err := s.replayIdempotent(ctx, cmd.IdempotencyKey, cmd); err != nil || handled {
		return result, err
	}

	trade, err := s.trades.GetByID(ctx, cmd.TradeID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	if err := trade.ChangeStatus(newStatus, cmd.Reason, cmd.CorrelationID, cmd.CausedBy); err != nil {
		s.metrics.IncrementCounter(metrics.CounterCommandsRejected)
		return nil, err
	}

	return s.persist(ctx, txn, trade, cmd.IdempotencyKey, cmd)
}

// EnrichTrade handles enrichment merges; these never fail business rules.
func (s *TradeCommandService) EnrichTrade(ctx context.Context, cmd EnrichTradeCommand) (*CommandResult, error) {
	txn := s.tracer.StartTransaction("enrich-trade")
	defer s.tracer.EndTransaction(txn)

	if cmd.EnrichmentType == "" {
		s.metrics.IncrementCounter(metrics.CounterCommandsRejected)
		return nil, domain.NewValidationError([]string{"enrichment type is required"})
	}

	trade, err := s.trades.GetByID(ctx, cmd.TradeID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	if err := trade.EnrichTrade(cmd.EnrichmentType, cmd.Data, cmd.CorrelationID, cmd.CausedBy); err != nil {
		return nil, err
	}

	return s.persist(ctx, txn, trade, "", nil)
}

// ValidateTrade runs the validation pass; violations are recorded on the
// aggregate (forcing Failed) and returned as a ValidationError.
func (s *TradeCommandService) ValidateTrade(ctx context.Context, cmd ValidateTradeCommand) (*CommandResult, error) {
	txn := s.tracer.StartTransaction("validate-trade")
	defer s.tracer.EndTransaction(txn)

	trade, err := s.trades.GetByID(ctx, cmd.TradeID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	violations := trade.Validate(time.Now().UTC())
	if len(violations) == 0 {
		s.metrics.IncrementCounter(metrics.CounterCommandsHandled)
		return &CommandResult{
			TradeID: trade.AggregateID(),
			Version: trade.Version(),
			Status:  trade.Status().String(),
		}, nil
	}

	if err := trade.RecordValidationFailure(violations, cmd.CorrelationID, cmd.CausedBy); err != nil {
		return nil, err
	}
	if err := s.trades.Save(ctx, trade); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter(metrics.CounterCommandsRejected)
	return nil, domain.NewValidationError(violations)
}

// persist saves the aggregate, records idempotency and builds the result.
func (s *TradeCommandService) persist(ctx context.Context, txn *newrelic.Transaction, trade *domain.Trade, idempotencyKey string, cmd interface{}) (*CommandResult, error) {
	if err := s.trades.Save(ctx, trade); err != nil {
		s.tracer.RecordError(txn, err)
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			log.Warn().
				Str("trade_id", trade.AggregateID()).
				Int64("version", trade.Version()).
				Msg("Concurrency conflict, caller must reload and resubmit")
		}
		return nil, err
	}

	result := &CommandResult{
		TradeID: trade.AggregateID(),
		Version: trade.Version(),
		Status:  trade.Status().String(),
	}

	if idempotencyKey != "" && cmd != nil {
		responseData, err := json.Marshal(result)
		if err == nil {
			if err := s.idempotency.Save(ctx, idempotencyKey, trade.AggregateID(), hashCommand(cmd), responseData, idempotencyTTL); err != nil {
				log.Warn().Err(err).Str("idempotency_key", idempotencyKey).Msg("Failed to store idempotency record")
			}
		}
	}

	s.metrics.IncrementCounter(metrics.CounterCommandsHandled)
	log.Info().
		Str("trade_id", result.TradeID).
		Int64("version", result.Version).
		Str("status", result.Status).
		Msg("Command handled")
	return result, nil
}

// replayIdempotent short-circuits a command whose key was already handled
// with an identical request hash. A reused key with a different payload is
// rejected rather than silently replayed.
func (s *TradeCommandService) replayIdempotent(ctx context.Context, key string, cmd interface{}) (*CommandResult, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	record, err := s.idempotency.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if record == nil {
		return nil, false, nil
	}

	if record.RequestHash != hashCommand(cmd) {
		return nil, true, domain.NewValidationError([]string{
			fmt.Sprintf("idempotency key %q was already used with a different request", key)})
	}

	var result CommandResult
	if err := json.Unmarshal(record.ResponseData, &result); err != nil {
		return nil, false, errors.Wrap(err, "failed to decode stored idempotent response")
	}

	log.Info().Str("idempotency_key", key).Str("trade_id", result.TradeID).Msg("Replaying idempotent command result")
	return &result, true, nil
}

func hashCommand(cmd interface{}) string {
	data, err := json.Marshal(cmd)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func validateCreateTrade(cmd CreateTradeCommand) error {
	var violations []string
	if cmd.TradeID == "" {
		violations = append(violations, "trade id is required")
	}
	if cmd.TraderID == "" {
		violations = append(violations, "trader id is required")
	}
	if cmd.InstrumentID == "" {
		violations = append(violations, "instrument id is required")
	}
	if !cmd.Quantity.IsPositive() {
		violations = append(violations, "quantity must be positive")
	}
	if !cmd.Price.IsPositive() {
		violations = append(violations, "price must be positive")
	}
	if len(cmd.Currency) != 3 {
		violations = append(violations, "currency must be a three-letter code")
	}
	if cmd.Direction == "" {
		violations = append(violations, "direction is required")
	}
	if len(violations) > 0 {
		return domain.NewValidationError(violations)
	}
	return nil
}

func validateUpdateDetails(cmd UpdateTradeDetailsCommand) error {
	var violations []string
	if cmd.TradeID == "" {
		violations = append(violations, "trade id is required")
	}
	if !cmd.Quantity.IsPositive() {
		violations = append(violations, "quantity must be positive")
	}
	if !cmd.Price.IsPositive() {
		violations = append(violations, "price must be positive")
	}
	if len(violations) > 0 {
		return domain.NewValidationError(violations)
	}
	return nil
}
