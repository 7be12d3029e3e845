package domain

import (
	"sort"

	"github.com/pkg/errors"
)

// EventApplier is implemented by each aggregate; Apply mutates in-memory state
// only and must be a pure function of (state, event).
type EventApplier interface {
	Apply(event DomainEvent) error
}

// AggregateRoot is the shared replay/mutate/version machinery embedded by
// every aggregate. It owns the uncommitted-event buffer; all persistence is
// external.
type AggregateRoot struct {
	id            string
	aggregateType string
	partitionKey  string
	version       int64
	uncommitted   []DomainEvent
}

// InitRoot sets the identity fields. The partition key derives from business
// keys at creation time and never changes afterwards.
func (r *AggregateRoot) InitRoot(id, aggregateType, partitionKey string) {
	r.id = id
	r.aggregateType = aggregateType
	r.partitionKey = partitionKey
}

func (r *AggregateRoot) AggregateID() string   { return r.id }
func (r *AggregateRoot) AggregateType() string { return r.aggregateType }
func (r *AggregateRoot) PartitionKey() string  { return r.partitionKey }
func (r *AggregateRoot) Version() int64        { return r.version }

// ApplyEvent dispatches the event to the aggregate's Apply function. When the
// event is new it is buffered for the next store commit; replayed events only
// move the version forward.
func (r *AggregateRoot) ApplyEvent(applier EventApplier, event DomainEvent, isNew bool) error {
	if err := applier.Apply(event); err != nil {
		return err
	}

	r.version = event.AggregateVersion
	if isNew {
		r.uncommitted = append(r.uncommitted, event)
	}
	return nil
}

// LoadFromHistory replays committed events in ascending version order. A gap,
// duplicate or out-of-order version fails the load: history that does not
// line up means the store is corrupt, and silently tolerating it would let a
// partial state masquerade as current.
func (r *AggregateRoot) LoadFromHistory(applier EventApplier, events []DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	ordered := make([]DomainEvent, len(events))
	copy(ordered, events)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].AggregateVersion < ordered[j].AggregateVersion
	})

	for _, event := range ordered {
		expected := r.version + 1
		if event.AggregateVersion != expected {
			return errors.Wrapf(ErrCorruptHistory,
				"aggregate %s: expected version %d, got %d", r.id, expected, event.AggregateVersion)
		}
		if err := r.ApplyEvent(applier, event, false); err != nil {
			return errors.Wrapf(err, "failed to replay event %s", event.EventID)
		}
	}
	return nil
}

// GetUncommittedEvents exposes the pending-write buffer. Callers must not
// mutate the returned slice.
func (r *AggregateRoot) GetUncommittedEvents() []DomainEvent {
	return r.uncommitted
}

// MarkEventsAsCommitted clears the pending-write buffer after a successful
// store commit. Committed history is never touched.
func (r *AggregateRoot) MarkEventsAsCommitted() {
	r.uncommitted = nil
}

// setVersion is used when hydrating from a snapshot, before replaying the
// events recorded after it.
func (r *AggregateRoot) setVersion(version int64) {
	r.version = version
}
