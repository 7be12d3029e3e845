package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wire names for the closed trade event set.
const (
	EventTypeTradeCreated          = "TradeCreated"
	EventTypeTradeDetailsUpdated   = "TradeDetailsUpdated"
	EventTypeTradeStatusChanged    = "TradeStatusChanged"
	EventTypeTradeEnriched         = "TradeEnriched"
	EventTypeTradeValidationFailed = "TradeValidationFailed"
)

// TradeCreated is raised once, as version 1 of every trade stream.
type TradeCreated struct {
	TradeID      string          `json:"trade_id"`
	TraderID     string          `json:"trader_id"`
	InstrumentID string          `json:"instrument_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Direction    string          `json:"direction"`
	Currency     string          `json:"currency"`
	Counterparty string          `json:"counterparty"`
	TradeDate    time.Time       `json:"trade_date"`
	TradeType    string          `json:"trade_type"`
}

func (TradeCreated) EventType() string { return EventTypeTradeCreated }

// TradeDetailsUpdated carries replacement economics for a not-yet-settled trade.
type TradeDetailsUpdated struct {
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Counterparty string          `json:"counterparty"`
	TradeDate    time.Time       `json:"trade_date"`
}

func (TradeDetailsUpdated) EventType() string { return EventTypeTradeDetailsUpdated }

// TradeStatusChanged records a lifecycle transition.
type TradeStatusChanged struct {
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
	Reason         string `json:"reason,omitempty"`
}

func (TradeStatusChanged) EventType() string { return EventTypeTradeStatusChanged }

// TradeEnriched merges reference data into the trade's enrichment bag.
type TradeEnriched struct {
	EnrichmentType string                    `json:"enrichment_type"`
	Data           map[string]AttributeValue `json:"data"`
}

func (TradeEnriched) EventType() string { return EventTypeTradeEnriched }

// TradeValidationFailed records every violation found in one validation pass
// and forces the trade into the Failed status.
type TradeValidationFailed struct {
	Violations []string `json:"violations"`
}

func (TradeValidationFailed) EventType() string { return EventTypeTradeValidationFailed }
