package contracts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dangoth/posttrade-poc-sub001/internal/domain"
)

func v1Contract() TradeCreatedContractV1 {
	return TradeCreatedContractV1{
		SchemaVersion: TradeCreatedV1,
		EventType:     domain.EventTypeTradeCreated,
		TradeID:       "T1",
		TraderID:      "TR9",
		InstrumentID:  "AAPL",
		Quantity:      "100",
		Price:         "172.50",
		Direction:     "Buy",
		Currency:      "USD",
		Counterparty:  "CPTY-1",
		TradeDate:     time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		TradeType:     "EQUITY",
	}
}

func TestUpgradeV1ToV2DerivesFields(t *testing.T) {
	registry := NewRegistry()

	payload, err := json.Marshal(v1Contract())
	require.NoError(t, err)

	upgraded, err := registry.Convert(domain.EventTypeTradeCreated, TradeCreatedV1, TradeCreatedV2, payload)
	require.NoError(t, err)

	var v2 TradeCreatedContractV2
	require.NoError(t, json.Unmarshal(upgraded, &v2))
	require.Equal(t, TradeCreatedV2, v2.SchemaVersion)
	require.Equal(t, "17250", v2.Notional)
	require.Equal(t, "MIFID_II", v2.RegulatoryCategory)
	require.Equal(t, "T1", v2.TradeID)
	require.Equal(t, "100", v2.Quantity)
}

func TestDowngradeV2ToV1DropsFields(t *testing.T) {
	registry := NewRegistry()

	v2 := TradeCreatedContractV2{
		SchemaVersion:      TradeCreatedV2,
		EventType:          domain.EventTypeTradeCreated,
		TradeID:            "T1",
		Quantity:           "100",
		Price:              "172.50",
		Notional:           "17250",
		RegulatoryCategory: "MIFID_II",
	}
	payload, err := json.Marshal(v2)
	require.NoError(t, err)

	downgraded, err := registry.Convert(domain.EventTypeTradeCreated, TradeCreatedV2, TradeCreatedV1, payload)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(downgraded, &raw))
	require.NotContains(t, raw, "notional")
	require.NotContains(t, raw, "regulatory_category")
	require.Equal(t, float64(TradeCreatedV1), raw["schema_version"])
}

func TestIdentityConversion(t *testing.T) {
	registry := NewRegistry()

	payload := json.RawMessage(`{"trade_id":"T1"}`)
	converted, err := registry.Convert(domain.EventTypeTradeCreated, TradeCreatedV1, TradeCreatedV1, payload)
	require.NoError(t, err)
	require.Equal(t, payload, converted)

	require.True(t, registry.CanConvert("AnyEvent", 3, 3))
}

func TestUnregisteredConversionFails(t *testing.T) {
	registry := NewRegistry()

	require.False(t, registry.CanConvert(domain.EventTypeTradeEnriched, 1, 2))
	_, err := registry.Convert(domain.EventTypeTradeEnriched, 1, 2, json.RawMessage(`{}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no converter registered")
}

func TestUpgradeRejectsInvalidDecimal(t *testing.T) {
	registry := NewRegistry()

	contract := v1Contract()
	contract.Quantity = "lots"
	payload, err := json.Marshal(contract)
	require.NoError(t, err)

	_, err = registry.Convert(domain.EventTypeTradeCreated, TradeCreatedV1, TradeCreatedV2, payload)
	require.Error(t, err)
}

func TestTradeCreatedToV1MatchesStoredShape(t *testing.T) {
	event := domain.DomainEvent{EventType: domain.EventTypeTradeCreated}
	payload := domain.TradeCreated{
		TradeID:      "T1",
		TraderID:     "TR9",
		InstrumentID: "AAPL",
		Quantity:     decimal.RequireFromString("100"),
		Price:        decimal.RequireFromString("172.50"),
		Direction:    "Buy",
		Currency:     "USD",
		Counterparty: "CPTY-1",
		TradeDate:    time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		TradeType:    "EQUITY",
	}

	contract := TradeCreatedToV1(event, payload)

	// decimal String trims the trailing zero.
	expected := v1Contract()
	expected.Price = "172.5"
	require.Equal(t, expected, contract)
}

func TestClassifyRegulatoryCategory(t *testing.T) {
	require.Equal(t, "EMIR", ClassifyRegulatoryCategory("SWAP"))
	require.Equal(t, "EMIR", ClassifyRegulatoryCategory("OPTION"))
	require.Equal(t, "MIFID_II", ClassifyRegulatoryCategory("BOND"))
	require.Equal(t, "UNCLASSIFIED", ClassifyRegulatoryCategory("CRYPTO"))
}
