package contracts

import (
	"time"

	"github.com/dangoth/posttrade-poc-sub001/internal/domain"
)

// Contract schema versions for the TradeCreated wire contract.
const (
	TradeCreatedV1 = 1
	TradeCreatedV2 = 2
)

// TradeCreatedContractV1 is the original wire shape for TradeCreated.
// Quantities and prices travel as decimal strings.
type TradeCreatedContractV1 struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	TradeID       string    `json:"trade_id"`
	TraderID      string    `json:"trader_id"`
	InstrumentID  string    `json:"instrument_id"`
	Quantity      string    `json:"quantity"`
	Price         string    `json:"price"`
	Direction     string    `json:"direction"`
	Currency      string    `json:"currency"`
	Counterparty  string    `json:"counterparty"`
	TradeDate     time.Time `json:"trade_date"`
	TradeType     string    `json:"trade_type"`
}

// TradeCreatedToV1 renders a stored TradeCreated payload as its V1 wire
// contract. Stored events always carry the V1 shape; newer versions are
// derived in flight by the registry's converters.
func TradeCreatedToV1(event domain.DomainEvent, payload domain.TradeCreated) TradeCreatedContractV1 {
	return TradeCreatedContractV1{
		SchemaVersion: TradeCreatedV1,
		EventType:     event.EventType,
		TradeID:       payload.TradeID,
		TraderID:      payload.TraderID,
		InstrumentID:  payload.InstrumentID,
		Quantity:      payload.Quantity.String(),
		Price:         payload.Price.String(),
		Direction:     payload.Direction,
		Currency:      payload.Currency,
		Counterparty:  payload.Counterparty,
		TradeDate:     payload.TradeDate,
		TradeType:     payload.TradeType,
	}
}

// TradeCreatedContractV2 extends V1 with the derived notional and the
// regulatory reporting category.
type TradeCreatedContractV2 struct {
	SchemaVersion      int       `json:"schema_version"`
	EventType          string    `json:"event_type"`
	TradeID            string    `json:"trade_id"`
	TraderID           string    `json:"trader_id"`
	InstrumentID       string    `json:"instrument_id"`
	Quantity           string    `json:"quantity"`
	Price              string    `json:"price"`
	Direction          string    `json:"direction"`
	Currency           string    `json:"currency"`
	Counterparty       string    `json:"counterparty"`
	TradeDate          time.Time `json:"trade_date"`
	TradeType          string    `json:"trade_type"`
	Notional           string    `json:"notional"`
	RegulatoryCategory string    `json:"regulatory_category"`
}
