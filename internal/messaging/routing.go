package messaging

import (
	"hash/fnv"

	"github.com/dangoth/posttrade-poc-sub001/config"
	"github.com/dangoth/posttrade-poc-sub001/internal/domain"
)

// TopicRouter maps event types to broker topics. Routing is a pure function
// of the event type: enrichment events go to their own topic, everything else
// in the trade lifecycle shares one.
type TopicRouter struct {
	tradeTopic      string
	enrichmentTopic string
}

// NewTopicRouter creates a router from the configured topic names.
func NewTopicRouter(cfg config.ServiceBusConfig) *TopicRouter {
	return &TopicRouter{
		tradeTopic:      cfg.TradeTopic,
		enrichmentTopic: cfg.EnrichmentTopic,
	}
}

// Route returns the topic for the event type.
func (r *TopicRouter) Route(eventType string) string {
	switch eventType {
	case domain.EventTypeTradeEnriched:
		return r.enrichmentTopic
	default:
		return r.tradeTopic
	}
}

// Partition maps an aggregate id onto a fixed partition. All events for one
// aggregate land on the same partition, preserving their order downstream.
func Partition(aggregateID string, partitionCount int32) int32 {
	if partitionCount <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(aggregateID))
	return int32(h.Sum32() % uint32(partitionCount))
}
