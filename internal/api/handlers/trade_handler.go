package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dangoth/posttrade-poc-sub001/internal/contracts"
	"github.com/dangoth/posttrade-poc-sub001/internal/domain"
	"github.com/dangoth/posttrade-poc-sub001/internal/serialization"
	"github.com/dangoth/posttrade-poc-sub001/internal/services"
	"github.com/dangoth/posttrade-poc-sub001/internal/tracing"
)

// EventReader loads the committed history of an aggregate.
type EventReader interface {
	LoadEvents(ctx context.Context, aggregateID string, afterVersion int64) ([]domain.DomainEvent, error)
}

// TradeHandler handles trade command and query HTTP requests
type TradeHandler struct {
	commands  *services.TradeCommandService
	trades    services.TradeStore
	events    EventReader
	contracts *contracts.Registry
	tracer    tracing.Tracer
}

// NewTradeHandler creates a new trade handler
func NewTradeHandler(commands *services.TradeCommandService, trades services.TradeStore, events EventReader, registry *contracts.Registry, tracer tracing.Tracer) *TradeHandler {
	return &TradeHandler{
		commands:  commands,
		trades:    trades,
		events:    events,
		contracts: registry,
		tracer:    tracer,
	}
}

// CreateTradeRequest represents an incoming trade creation request
type CreateTradeRequest struct {
	TradeID      string          `json:"trade_id" binding:"required"`
	TraderID     string          `json:"trader_id" binding:"required"`
	InstrumentID string          `json:"instrument_id" binding:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Direction    string          `json:"direction" binding:"required"`
	Currency     string          `json:"currency" binding:"required"`
	Counterparty string          `json:"counterparty"`
	TradeDate    time.Time       `json:"trade_date" binding:"required"`
	TradeType    string          `json:"trade_type"`
}

// UpdateTradeDetailsRequest represents a trade details update request
type UpdateTradeDetailsRequest struct {
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Counterparty string          `json:"counterparty"`
	TradeDate    time.Time       `json:"trade_date" binding:"required"`
}

// ChangeTradeStatusRequest represents a lifecycle transition request
type ChangeTradeStatusRequest struct {
	NewStatus string `json:"new_status" binding:"required"`
	Reason    string `json:"reason"`
}

// EnrichTradeRequest represents an enrichment request
type EnrichTradeRequest struct {
	EnrichmentType string                           `json:"enrichment_type" binding:"required"`
	Data           map[string]domain.AttributeValue `json:"data" binding:"required"`
}

// TradeResponse is the query view of a trade aggregate
type TradeResponse struct {
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
}

// HandleCreateTrade handles POST /api/v1/trades
func (h *TradeHandler) HandleCreateTrade(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-create-trade")
	defer h.tracer.EndTransaction(txn)

	var req CreateTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	h.tracer.AddAttribute(txn, "trade_id", req.TradeID)
	h.tracer.AddAttribute(txn, "trader_id", req.TraderID)

	result, err := h.commands.CreateTrade(c.Request.Context(), services.CreateTradeCommand{
		TradeID:        req.TradeID,
		TraderID:       req.TraderID,
		InstrumentID:   req.InstrumentID,
		Quantity:       req.Quantity,
		Price:          req.Price,
		Direction:      req.Direction,
		Currency:       req.Currency,
		Counterparty:   req.Counterparty,
		TradeDate:      req.TradeDate,
		TradeType:      req.TradeType,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		CorrelationID:  correlationID(c),
		CausedBy:       c.GetHeader("X-Caused-By"),
	})
	if err != nil {
		h.writeError(c, txn, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// HandleUpdateTradeDetails handles PUT /api/v1/trades/:tradeId/details
func (h *TradeHandler) HandleUpdateTradeDetails(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-update-trade-details")
	defer h.tracer.EndTransaction(txn)

	var req UpdateTradeDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	result, err := h.commands.UpdateTradeDetails(c.Request.Context(), services.UpdateTradeDetailsCommand{
		TradeID:        c.Param("tradeId"),
		Quantity:       req.Quantity,
		Price:          req.Price,
		Counterparty:   req.Counterparty,
		TradeDate:      req.TradeDate,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		CorrelationID:  correlationID(c),
		CausedBy:       c.GetHeader("X-Caused-By"),
	})
	if err != nil {
		h.writeError(c, txn, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleChangeTradeStatus handles POST /api/v1/trades/:tradeId/status
func (h *TradeHandler) HandleChangeTradeStatus(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-change-trade-status")
	defer h.tracer.EndTransaction(txn)

	var req ChangeTradeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	result, err := h.commands.ChangeTradeStatus(c.Request.Context(), services.ChangeTradeStatusCommand{
		TradeID:        c.Param("tradeId"),
		NewStatus:      req.NewStatus,
		Reason:         req.Reason,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		CorrelationID:  correlationID(c),
		CausedBy:       c.GetHeader("X-Caused-By"),
	})
	if err != nil {
		h.writeError(c, txn, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleEnrichTrade handles POST /api/v1/trades/:tradeId/enrich
func (h *TradeHandler) HandleEnrichTrade(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-enrich-trade")
	defer h.tracer.EndTransaction(txn)

	var req EnrichTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Error().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		h.tracer.RecordError(txn, err)
		return
	}

	result, err := h.commands.EnrichTrade(c.Request.Context(), services.EnrichTradeCommand{
		TradeID:        c.Param("tradeId"),
		EnrichmentType: req.EnrichmentType,
		Data:           req.Data,
		CorrelationID:  correlationID(c),
		CausedBy:       c.GetHeader("X-Caused-By"),
	})
	if err != nil {
		h.writeError(c, txn, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleValidateTrade handles POST /api/v1/trades/:tradeId/validate
func (h *TradeHandler) HandleValidateTrade(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-validate-trade")
	defer h.tracer.EndTransaction(txn)

	result, err := h.commands.ValidateTrade(c.Request.Context(), services.ValidateTradeCommand{
		TradeID:       c.Param("tradeId"),
		CorrelationID: correlationID(c),
		CausedBy:      c.GetHeader("X-Caused-By"),
	})
	if err != nil {
		h.writeError(c, txn, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleGetTrade handles GET /api/v1/trades/:tradeId by replaying the
// aggregate from the event store.
func (h *TradeHandler) HandleGetTrade(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-get-trade")
	defer h.tracer.EndTransaction(txn)

	trade, err := h.trades.GetByID(c.Request.Context(), c.Param("tradeId"))
	if err != nil {
		h.writeError(c, txn, err)
		return
	}

	c.JSON(http.StatusOK, TradeResponse{
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
	})
}

// TradeEventResponse is one event in a trade's committed history.
type TradeEventResponse struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	AggregateVersion int64           `json:"aggregate_version"`
	SchemaVersion    int             `json:"schema_version"`
	OccurredAt       time.Time       `json:"occurred_at"`
	Payload          json.RawMessage `json:"payload"`
}

// HandleListTradeEvents handles GET /api/v1/trades/:tradeId/events. The
// optional schemaVersion query rewrites payloads in flight through the
// contract registry; stored rows are never touched.
func (h *TradeHandler) HandleListTradeEvents(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-list-trade-events")
	defer h.tracer.EndTransaction(txn)

	tradeID := c.Param("tradeId")
	requested := contracts.TradeCreatedV1
	if raw := c.Query("schemaVersion"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "schemaVersion must be a positive integer"})
			return
		}
		requested = parsed
	}

	events, err := h.events.LoadEvents(c.Request.Context(), tradeID, 0)
	if err != nil {
		h.writeError(c, txn, err)
		return
	}
	if len(events) == 0 {
		h.writeError(c, txn, errors.Wrapf(domain.ErrTradeNotFound, "trade %s", tradeID))
		return
	}

	responses := make([]TradeEventResponse, 0, len(events))
	for _, event := range events {
		payload, version, err := h.renderPayload(event, requested)
		if err != nil {
			h.writeError(c, txn, err)
			return
		}
		responses = append(responses, TradeEventResponse{
			EventID:          event.EventID,
			EventType:        event.EventType,
			AggregateVersion: event.AggregateVersion,
			SchemaVersion:    version,
			OccurredAt:       event.OccurredAt,
			Payload:          payload,
		})
	}

	c.JSON(http.StatusOK, gin.H{"trade_id": tradeID, "events": responses})
}

// renderPayload serves the stored shape unless a converter exists for the
// requested version.
func (h *TradeHandler) renderPayload(event domain.DomainEvent, requested int) (json.RawMessage, int, error) {
	created, ok := event.Payload.(domain.TradeCreated)
	if !ok {
		// Only TradeCreated carries a versioned wire contract today.
		data, err := serialization.SerializePayload(event.Payload)
		return data, 1, err
	}

	data, err := json.Marshal(contracts.TradeCreatedToV1(event, created))
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to marshal trade created contract")
	}
	if !h.contracts.CanConvert(event.EventType, contracts.TradeCreatedV1, requested) {
		return data, contracts.TradeCreatedV1, nil
	}

	converted, err := h.contracts.Convert(event.EventType, contracts.TradeCreatedV1, requested, data)
	if err != nil {
		return nil, 0, err
	}
	return converted, requested, nil
}

// writeError maps domain failures to HTTP statuses.
func (h *TradeHandler) writeError(c *gin.Context, txn *newrelic.Transaction, err error) {
	if ve, ok := domain.IsValidationError(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "violations": ve.Violations})
		return
	}

	switch {
	case errors.Is(err, domain.ErrTradeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrTradeAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Msg("Command failed")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func correlationID(c *gin.Context) string {
	return c.GetHeader("X-Correlation-Id")
}

// RegisterRoutes registers the handler's routes
func (h *TradeHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.POST("/trades", h.HandleCreateTrade)
	api.GET("/trades/:tradeId", h.HandleGetTrade)
	api.GET("/trades/:tradeId/events", h.HandleListTradeEvents)
	api.PUT("/trades/:tradeId/details", h.HandleUpdateTradeDetails)
	api.POST("/trades/:tradeId/status", h.HandleChangeTradeStatus)
	api.POST("/trades/:tradeId/enrich", h.HandleEnrichTrade)
	api.POST("/trades/:tradeId/validate", h.HandleValidateTrade)
}
