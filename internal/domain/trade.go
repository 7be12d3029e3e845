package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// AggregateTypeTrade is the aggregate type tag stored with every trade event.
const AggregateTypeTrade = "Trade"

// TradeStatus is the trade lifecycle state machine:
// Pending -> Executed -> Settled, with Failed reachable from any state.
type TradeStatus int

const (
	StatusPending TradeStatus = iota + 1
	StatusExecuted
	StatusSettled
	StatusFailed
)

var statusNames = map[TradeStatus]string{
	StatusPending:  "Pending",
	StatusExecuted: "Executed",
	StatusSettled:  "Settled",
	StatusFailed:   "Failed",
}

func (s TradeStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TradeStatus(%d)", int(s))
}

// ParseTradeStatus maps a status tag to its enum value, rejecting unknown tags.
func ParseTradeStatus(tag string) (TradeStatus, error) {
	for status, name := range statusNames {
		if name == tag {
			return status, nil
		}
	}
	return 0, errors.Errorf("unrecognised trade status %q", tag)
}

// TradeDirection is the side of the trade.
type TradeDirection int

const (
	DirectionBuy TradeDirection = iota + 1
	DirectionSell
)

func (d TradeDirection) String() string {
	switch d {
	case DirectionBuy:
		return "Buy"
	case DirectionSell:
		return "Sell"
	}
	return fmt.Sprintf("TradeDirection(%d)", int(d))
}

// ParseTradeDirection maps a direction tag to its enum value, rejecting
// unknown tags.
func ParseTradeDirection(tag string) (TradeDirection, error) {
	switch tag {
	case "Buy":
		return DirectionBuy, nil
	case "Sell":
		return DirectionSell, nil
	}
	return 0, errors.Errorf("unrecognised trade direction %q", tag)
}

var recognisedCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true,
	"AUD": true, "CAD": true, "SEK": true, "NOK": true, "KES": true,
}

// Trade is the event-sourced trade aggregate. All state is derived from its
// own ordered event history via Apply.
type Trade struct {
	AggregateRoot

	traderID         string
	instrumentID     string
	quantity         decimal.Decimal
	price            decimal.Decimal
	direction        TradeDirection
	currency         string
	counterparty     string
	tradeDate        time.Time
	tradeType        string
	status           TradeStatus
	enrichments      map[string]AttributeValue
	validationErrors []string
}

// NewTradeParams carries everything needed to open a new trade stream.
type NewTradeParams struct {
	TradeID       string
	TraderID      string
	InstrumentID  string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Direction     TradeDirection
	Currency      string
	Counterparty  string
	TradeDate     time.Time
	TradeType     string
	CorrelationID string
	CausedBy      string
}

// NewTrade creates a trade aggregate with its TradeCreated event pending.
func NewTrade(params NewTradeParams) (*Trade, error) {
	trade := NewEmptyTrade(params.TradeID)

	payload := TradeCreated{
		TradeID:      params.TradeID,
		TraderID:     params.TraderID,
		InstrumentID: params.InstrumentID,
		Quantity:     params.Quantity,
		Price:        params.Price,
		Direction:    params.Direction.String(),
		Currency:     params.Currency,
		Counterparty: params.Counterparty,
		TradeDate:    params.TradeDate,
		TradeType:    params.TradeType,
	}
	if err := trade.raise(payload, params.CorrelationID, params.CausedBy); err != nil {
		return nil, err
	}
	return trade, nil
}

// NewEmptyTrade creates the zero-state aggregate used as the replay target.
func NewEmptyTrade(id string) *Trade {
	trade := &Trade{enrichments: make(map[string]AttributeValue)}
	trade.InitRoot(id, AggregateTypeTrade, "")
	return trade
}

func (t *Trade) TraderID() string                       { return t.traderID }
func (t *Trade) InstrumentID() string                   { return t.instrumentID }
func (t *Trade) Quantity() decimal.Decimal              { return t.quantity }
func (t *Trade) Price() decimal.Decimal                 { return t.price }
func (t *Trade) Direction() TradeDirection              { return t.direction }
func (t *Trade) Currency() string                       { return t.currency }
func (t *Trade) Counterparty() string                   { return t.counterparty }
func (t *Trade) TradeDate() time.Time                   { return t.tradeDate }
func (t *Trade) TradeType() string                      { return t.tradeType }
func (t *Trade) Status() TradeStatus                    { return t.status }
func (t *Trade) ValidationErrors() []string             { return t.validationErrors }
func (t *Trade) Enrichments() map[string]AttributeValue { return t.enrichments }

// Notional is quantity * price.
func (t *Trade) Notional() decimal.Decimal {
	return t.quantity.Mul(t.price)
}

// ChangeStatus moves the trade through its lifecycle. Equal status is a no-op
// success and raises no event. Failed is reachable from every state; any
// other transition must not move backwards.
func (t *Trade) ChangeStatus(newStatus TradeStatus, reason, correlationID, causedBy string) error {
	if newStatus == t.status {
		return nil
	}
	if newStatus != StatusFailed && newStatus < t.status {
		return errors.Errorf("cannot change trade %s status from %s to %s: transitions cannot move backwards",
			t.AggregateID(), t.status, newStatus)
	}

	payload := TradeStatusChanged{
		PreviousStatus: t.status.String(),
		NewStatus:      newStatus.String(),
		Reason:         reason,
	}
	return t.raise(payload, correlationID, causedBy)
}

// UpdateTradeDetails replaces the trade economics. Settled trades are final.
func (t *Trade) UpdateTradeDetails(quantity, price decimal.Decimal, counterparty string, tradeDate time.Time, correlationID, causedBy string) error {
	if t.status == StatusSettled {
		return errors.Errorf("cannot update details of trade %s: trade is settled", t.AggregateID())
	}

	payload := TradeDetailsUpdated{
		Quantity:     quantity,
		Price:        price,
		Counterparty: counterparty,
		TradeDate:    tradeDate,
	}
	return t.raise(payload, correlationID, causedBy)
}

// EnrichTrade merges data into the enrichment bag under keys namespaced as
// "{type}_{key}". Enrichment never fails a trade.
func (t *Trade) EnrichTrade(enrichmentType string, data map[string]AttributeValue, correlationID, causedBy string) error {
	payload := TradeEnriched{
		EnrichmentType: enrichmentType,
		Data:           data,
	}
	return t.raise(payload, correlationID, causedBy)
}

// RecordValidationFailure appends the violations and forces the trade to
// Failed.
func (t *Trade) RecordValidationFailure(violations []string, correlationID, causedBy string) error {
	payload := TradeValidationFailed{Violations: violations}
	return t.raise(payload, correlationID, causedBy)
}

// Validate collects every violation in one pass against the given reference
// time. It does not mutate the trade; callers record failures explicitly.
func (t *Trade) Validate(asOf time.Time) []string {
	var violations []string

	if t.tradeDate.After(asOf) {
		violations = append(violations, fmt.Sprintf(
			"trade date %s is in the future", t.tradeDate.Format(time.RFC3339)))
	}
	if !recognisedCurrencies[t.currency] {
		violations = append(violations, fmt.Sprintf("currency %q is not recognised", t.currency))
	}
	if !t.quantity.IsPositive() {
		violations = append(violations, "quantity must be positive")
	}
	if !t.price.IsPositive() {
		violations = append(violations, "price must be positive")
	}

	return violations
}

// Apply is the exhaustive dispatch over the closed trade event set.
func (t *Trade) Apply(event DomainEvent) error {
	switch payload := event.Payload.(type) {
	case TradeCreated:
		direction, err := ParseTradeDirection(payload.Direction)
		if err != nil {
			return errors.Wrapf(err, "event %s", event.EventID)
		}
		t.InitRoot(payload.TradeID, AggregateTypeTrade, TradePartitionKey(payload.TraderID, payload.InstrumentID))
		t.traderID = payload.TraderID
		t.instrumentID = payload.InstrumentID
		t.quantity = payload.Quantity
		t.price = payload.Price
		t.direction = direction
		t.currency = payload.Currency
		t.counterparty = payload.Counterparty
		t.tradeDate = payload.TradeDate
		t.tradeType = payload.TradeType
		t.status = StatusPending

	case TradeDetailsUpdated:
		t.quantity = payload.Quantity
		t.price = payload.Price
		t.counterparty = payload.Counterparty
		t.tradeDate = payload.TradeDate

	case TradeStatusChanged:
		status, err := ParseTradeStatus(payload.NewStatus)
		if err != nil {
			return errors.Wrapf(err, "event %s", event.EventID)
		}
		t.status = status

	case TradeEnriched:
		for key, value := range payload.Data {
			t.enrichments[fmt.Sprintf("%s_%s", payload.EnrichmentType, key)] = value
		}

	case TradeValidationFailed:
		t.validationErrors = append(t.validationErrors, payload.Violations...)
		t.status = StatusFailed

	default:
		return errors.Errorf("unknown event type %q for trade %s", event.EventType, t.AggregateID())
	}
	return nil
}

// raise constructs the next event with version assigned at construction time,
// so multiple events from one command carry consecutive versions before any
// are durable.
func (t *Trade) raise(payload EventPayload, correlationID, causedBy string) error {
	event := DomainEvent{
		EventID:          uuid.NewString(),
		AggregateID:      t.AggregateID(),
		AggregateType:    AggregateTypeTrade,
		AggregateVersion: t.Version() + 1,
		EventType:        payload.EventType(),
		OccurredAt:       time.Now().UTC(),
		CorrelationID:    correlationID,
		CausedBy:         causedBy,
		Payload:          payload,
	}
	return t.ApplyEvent(t, event, true)
}

// TradePartitionKey derives the stable routing key for a trade stream.
func TradePartitionKey(traderID, instrumentID string) string {
	return fmt.Sprintf("%s:%s", traderID, instrumentID)
}

// TradeState is the serialized snapshot shape.
type TradeState struct {
	TradeID          string                    `json:"trade_id"`
	TraderID         string                    `json:"trader_id"`
	InstrumentID     string                    `json:"instrument_id"`
	Quantity         decimal.Decimal           `json:"quantity"`
	Price            decimal.Decimal           `json:"price"`
	Direction        string                    `json:"direction"`
	Currency         string                    `json:"currency"`
	Counterparty     string                    `json:"counterparty"`
	TradeDate        time.Time                 `json:"trade_date"`
	TradeType        string                    `json:"trade_type"`
	Status           string                    `json:"status"`
	Enrichments      map[string]AttributeValue `json:"enrichments"`
	ValidationErrors []string                  `json:"validation_errors"`
}

// Snapshot captures the current state for the snapshot store.
func (t *Trade) Snapshot() TradeState {
	enrichments := make(map[string]AttributeValue, len(t.enrichments))
	for key, value := range t.enrichments {
		enrichments[key] = value
	}
	return TradeState{
		TradeID:          t.AggregateID(),
		TraderID:         t.traderID,
		InstrumentID:     t.instrumentID,
		Quantity:         t.quantity,
		Price:            t.price,
		Direction:        t.direction.String(),
		Currency:         t.currency,
		Counterparty:     t.counterparty,
		TradeDate:        t.tradeDate,
		TradeType:        t.tradeType,
		Status:           t.status.String(),
		Enrichments:      enrichments,
		ValidationErrors: t.validationErrors,
	}
}

// RehydrateTrade restores an aggregate from a snapshot taken at version.
// Events recorded after the snapshot are replayed on top via LoadFromHistory.
func RehydrateTrade(state TradeState, version int64) (*Trade, error) {
	direction, err := ParseTradeDirection(state.Direction)
	if err != nil {
		return nil, errors.Wrap(err, "invalid snapshot")
	}
	status, err := ParseTradeStatus(state.Status)
	if err != nil {
		return nil, errors.Wrap(err, "invalid snapshot")
	}

	trade := NewEmptyTrade(state.TradeID)
	trade.InitRoot(state.TradeID, AggregateTypeTrade, TradePartitionKey(state.TraderID, state.InstrumentID))
	trade.traderID = state.TraderID
	trade.instrumentID = state.InstrumentID
	trade.quantity = state.Quantity
	trade.price = state.Price
	trade.direction = direction
	trade.currency = state.Currency
	trade.counterparty = state.Counterparty
	trade.tradeDate = state.TradeDate
	trade.tradeType = state.TradeType
	trade.status = status
	if state.Enrichments != nil {
		trade.enrichments = state.Enrichments
	}
	trade.validationErrors = state.ValidationErrors
	trade.setVersion(version)
	return trade, nil
}
