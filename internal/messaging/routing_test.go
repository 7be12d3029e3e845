package messaging

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dangoth/posttrade-poc-sub001/config"
	"github.com/dangoth/posttrade-poc-sub001/internal/domain"
)

func testRouter() *TopicRouter {
	return NewTopicRouter(config.ServiceBusConfig{
		TradeTopic:      "trade-events",
		EnrichmentTopic: "trade-enrichment",
	})
}

func TestRouteEnrichmentTopic(t *testing.T) {
	router := testRouter()
	require.Equal(t, "trade-enrichment", router.Route(domain.EventTypeTradeEnriched))
}

func TestRouteLifecycleEventsShareTradeTopic(t *testing.T) {
	router := testRouter()

	for _, eventType := range []string{
		domain.EventTypeTradeCreated,
		domain.EventTypeTradeDetailsUpdated,
		domain.EventTypeTradeStatusChanged,
		domain.EventTypeTradeValidationFailed,
	} {
		require.Equal(t, "trade-events", router.Route(eventType), eventType)
	}
}

func TestPartitionIsDeterministic(t *testing.T) {
	first := Partition("T1", 10)
	second := Partition("T1", 10)

	require.Equal(t, first, second)
	require.GreaterOrEqual(t, first, int32(0))
	require.Less(t, first, int32(10))
}

func TestPartitionSpreadsAggregates(t *testing.T) {
	seen := make(map[int32]bool)
	for _, id := range []string{"T1", "T2", "T3", "T4", "T5", "T6", "T7", "T8"} {
		seen[Partition(id, 10)] = true
	}
	// FNV-32a over distinct short ids should not collapse onto one partition.
	require.Greater(t, len(seen), 1)
}

func TestPartitionZeroCount(t *testing.T) {
	require.Equal(t, int32(0), Partition("T1", 0))
}
