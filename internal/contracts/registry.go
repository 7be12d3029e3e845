package contracts

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/dangoth/posttrade-poc-sub001/internal/domain"
)

// Converter rewrites an in-flight payload from one schema version to another.
// Converters are pure: they never touch stored data, only the representation
// handed to a consumer asking for a different version.
type Converter func(payload json.RawMessage) (json.RawMessage, error)

type conversionKey struct {
	eventType string
	from      int
	to        int
}

// Registry holds the converters registered per ordered (from, to) pair.
type Registry struct {
	converters map[conversionKey]Converter
}

// NewRegistry creates a registry populated with the trade contract converters.
func NewRegistry() *Registry {
	r := &Registry{converters: make(map[conversionKey]Converter)}
	r.Register(domain.EventTypeTradeCreated, TradeCreatedV1, TradeCreatedV2, upgradeTradeCreatedV1ToV2)
	r.Register(domain.EventTypeTradeCreated, TradeCreatedV2, TradeCreatedV1, downgradeTradeCreatedV2ToV1)
	return r
}

// Register adds a converter for the ordered version pair.
func (r *Registry) Register(eventType string, from, to int, converter Converter) {
	r.converters[conversionKey{eventType: eventType, from: from, to: to}] = converter
}

// CanConvert reports whether a converter exists for the pair. Identity
// conversions are always possible.
func (r *Registry) CanConvert(eventType string, from, to int) bool {
	if from == to {
		return true
	}
	_, ok := r.converters[conversionKey{eventType: eventType, from: from, to: to}]
	return ok
}

// Convert rewrites the payload to the requested version.
func (r *Registry) Convert(eventType string, from, to int, payload json.RawMessage) (json.RawMessage, error) {
	if from == to {
		return payload, nil
	}
	converter, ok := r.converters[conversionKey{eventType: eventType, from: from, to: to}]
	if !ok {
		return nil, errors.Errorf("no converter registered for %s v%d -> v%d", eventType, from, to)
	}
	return converter(payload)
}

// upgradeTradeCreatedV1ToV2 fills the V2 fields with derived values:
// notional is recomputed from quantity and price, and the regulatory
// category is classified from the trade type.
func upgradeTradeCreatedV1ToV2(payload json.RawMessage) (json.RawMessage, error) {
	var v1 TradeCreatedContractV1
	if err := json.Unmarshal(payload, &v1); err != nil {
		return nil, &domain.DeserializationError{EventType: domain.EventTypeTradeCreated, Cause: err}
	}

	quantity, err := decimal.NewFromString(v1.Quantity)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid quantity %q", v1.Quantity)
	}
	price, err := decimal.NewFromString(v1.Price)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid price %q", v1.Price)
	}

	v2 := TradeCreatedContractV2{
		SchemaVersion:      TradeCreatedV2,
		EventType:          v1.EventType,
		TradeID:            v1.TradeID,
		TraderID:           v1.TraderID,
		InstrumentID:       v1.InstrumentID,
		Quantity:           v1.Quantity,
		Price:              v1.Price,
		Direction:          v1.Direction,
		Currency:           v1.Currency,
		Counterparty:       v1.Counterparty,
		TradeDate:          v1.TradeDate,
		TradeType:          v1.TradeType,
		Notional:           quantity.Mul(price).String(),
		RegulatoryCategory: ClassifyRegulatoryCategory(v1.TradeType),
	}

	data, err := json.Marshal(v2)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal upgraded contract")
	}
	return data, nil
}

// downgradeTradeCreatedV2ToV1 drops the fields the older contract lacks.
func downgradeTradeCreatedV2ToV1(payload json.RawMessage) (json.RawMessage, error) {
	var v2 TradeCreatedContractV2
	if err := json.Unmarshal(payload, &v2); err != nil {
		return nil, &domain.DeserializationError{EventType: domain.EventTypeTradeCreated, Cause: err}
	}

	v1 := TradeCreatedContractV1{
		SchemaVersion: TradeCreatedV1,
		EventType:     v2.EventType,
		TradeID:       v2.TradeID,
		TraderID:      v2.TraderID,
		InstrumentID:  v2.InstrumentID,
		Quantity:      v2.Quantity,
		Price:         v2.Price,
		Direction:     v2.Direction,
		Currency:      v2.Currency,
		Counterparty:  v2.Counterparty,
		TradeDate:     v2.TradeDate,
		TradeType:     v2.TradeType,
	}

	data, err := json.Marshal(v1)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal downgraded contract")
	}
	return data, nil
}

// ClassifyRegulatoryCategory maps a trade type onto its reporting regime.
func ClassifyRegulatoryCategory(tradeType string) string {
	switch tradeType {
	case "DERIVATIVE", "SWAP", "OPTION", "FUTURE":
		return "EMIR"
	case "EQUITY", "BOND", "ETF":
		return "MIFID_II"
	default:
		return "UNCLASSIFIED"
	}
}
