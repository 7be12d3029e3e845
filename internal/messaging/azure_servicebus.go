package messaging

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"github.com/dangoth/posttrade-poc-sub001/config"
)

// Publisher is the outbound side of the outbox pipeline. Implementations are
// responsible only for transport; retry and dead-letter policy live with the
// pipeline.
type Publisher interface {
	Publish(ctx context.Context, topic string, partition int32, key string, value []byte, headers map[string]string) error
	Close() error
}

// serviceBusPublisher implements Publisher over Azure Service Bus with one
// cached sender per topic.
type serviceBusPublisher struct {
	client  *azservicebus.Client
	mu      sync.Mutex
	senders map[string]*azservicebus.Sender
}

// NewServiceBusPublisher creates a new Azure Service Bus publisher
func NewServiceBusPublisher(cfg config.ServiceBusConfig) (Publisher, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	return &serviceBusPublisher{
		client:  client,
		senders: make(map[string]*azservicebus.Sender),
	}, nil
}

// Publish sends one event to the topic. The partition key pins all events of
// an aggregate to the same partition; the aggregate id travels as a message
// property so consumers can key on it without decoding the body.
func (p *serviceBusPublisher) Publish(ctx context.Context, topic string, partition int32, key string, value []byte, headers map[string]string) error {
	sender, err := p.senderFor(topic)
	if err != nil {
		return err
	}

	partitionKey := strconv.Itoa(int(partition))
	properties := map[string]interface{}{
		"aggregate_id": key,
		"published_at": time.Now().UTC().Format(time.RFC3339),
	}
	for name, header := range headers {
		properties[name] = header
	}

	msg := &azservicebus.Message{
		Body:                  value,
		PartitionKey:          &partitionKey,
		ApplicationProperties: properties,
	}
	// Duplicate detection on the broker keys off the message id, so it must
	// be the event id, not the aggregate id.
	if eventID, ok := headers["event_id"]; ok {
		msg.MessageID = &eventID
	}

	return sender.SendMessage(ctx, msg, nil)
}

func (p *serviceBusPublisher) senderFor(topic string) (*azservicebus.Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sender, ok := p.senders[topic]; ok {
		return sender, nil
	}

	sender, err := p.client.NewSender(topic, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus sender for topic %s: %w", topic, err)
	}
	p.senders[topic] = sender
	return sender, nil
}

// Close closes all senders and the underlying client.
func (p *serviceBusPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sender := range p.senders {
		if err := sender.Close(context.Background()); err != nil {
			return err
		}
	}

	if p.client != nil {
		return p.client.Close(context.Background())
	}
	return nil
}
