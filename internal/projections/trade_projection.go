package projections

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dangoth/posttrade-poc-sub001/internal/cache"
	"github.com/dangoth/posttrade-poc-sub001/internal/domain"
	"github.com/dangoth/posttrade-poc-sub001/internal/search"
)

// tradeReadModelTTL bounds staleness of the cached read model; the event log
// remains the source of truth.
const tradeReadModelTTL = 24 * time.Hour

// TradeReadModel is the denormalised view written back after each save.
type TradeReadModel struct {
	TradeID          string                           `json:"trade_id"`
	TraderID         string                           `json:"trader_id"`
	InstrumentID     string                           `json:"instrument_id"`
	Quantity         string                           `json:"quantity"`
	Price            string                           `json:"price"`
	Notional         string                           `json:"notional"`
	Direction        string                           `json:"direction"`
	Currency         string                           `json:"currency"`
	Counterparty     string                           `json:"counterparty"`
	TradeDate        time.Time                        `json:"trade_date"`
	TradeType        string                           `json:"trade_type"`
	Status           string                           `json:"status"`
	Version          int64                            `json:"version"`
	Enrichments      map[string]domain.AttributeValue `json:"enrichments,omitempty"`
	ValidationErrors []string                         `json:"validation_errors,omitempty"`
	UpdatedAt        time.Time                        `json:"updated_at"`
}

// TradeProjection writes the current trade state to the redis cache and the
// elasticsearch index. Both targets are optional and best effort.
type TradeProjection struct {
	cache   *cache.RedisCache
	elastic *search.ElasticClient
}

// NewTradeProjection creates a new trade projection. Either target may be nil.
func NewTradeProjection(redisCache *cache.RedisCache, elastic *search.ElasticClient) *TradeProjection {
	return &TradeProjection{
		cache:   redisCache,
		elastic: elastic,
	}
}

// Apply writes the read model for the committed trade.
func (p *TradeProjection) Apply(ctx context.Context, trade *domain.Trade) error {
	model := buildReadModel(trade)

	var firstErr error
	if p.cache != nil {
		if err := p.cache.Set(ctx, cache.GetTradeCacheKey(trade.AggregateID()), model, tradeReadModelTTL); err != nil {
			firstErr = errors.Wrap(err, "failed to cache trade read model")
			log.Warn().Err(err).Str("trade_id", trade.AggregateID()).Msg("Trade cache write failed")
		}
	}

	if p.elastic != nil {
		doc := map[string]interface{}{
			"trade_id":      model.TradeID,
			"trader_id":     model.TraderID,
			"instrument_id": model.InstrumentID,
			"quantity":      model.Quantity,
			"price":         model.Price,
			"notional":      model.Notional,
			"direction":     model.Direction,
			"currency":      model.Currency,
			"counterparty":  model.Counterparty,
			"trade_date":    model.TradeDate,
			"trade_type":    model.TradeType,
			"status":        model.Status,
			"version":       model.Version,
			"updated_at":    model.UpdatedAt,
		}
		if err := p.elastic.IndexTrade(ctx, trade.AggregateID(), doc); err != nil {
			if firstErr == nil {
				firstErr = errors.Wrap(err, "failed to index trade read model")
			}
			log.Warn().Err(err).Str("trade_id", trade.AggregateID()).Msg("Trade index write failed")
		}
	}

	return firstErr
}

// GetCached returns the cached read model, if present.
func (p *TradeProjection) GetCached(ctx context.Context, tradeID string) (*TradeReadModel, error) {
	if p.cache == nil {
		return nil, errors.New("cache is not configured")
	}
	var model TradeReadModel
	if err := p.cache.Get(ctx, cache.GetTradeCacheKey(tradeID), &model); err != nil {
		return nil, err
	}
	return &model, nil
}

func buildReadModel(trade *domain.Trade) TradeReadModel {
	return TradeReadModel{
		TradeID:          trade.AggregateID(),
		TraderID:         trade.TraderID(),
		InstrumentID:     trade.InstrumentID(),
		Quantity:         trade.Quantity().String(),
		Price:            trade.Price().String(),
		Notional:         trade.Notional().String(),
		Direction:        trade.Direction().String(),
		Currency:         trade.Currency(),
		Counterparty:     trade.Counterparty(),
		TradeDate:        trade.TradeDate(),
		TradeType:        trade.TradeType(),
		Status:           trade.Status().String(),
		Version:          trade.Version(),
		Enrichments:      trade.Enrichments(),
		ValidationErrors: trade.ValidationErrors(),
		UpdatedAt:        time.Now().UTC(),
	}
}
