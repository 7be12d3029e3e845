package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// EventPayload is the closed set of domain event bodies. Every payload knows
// its own wire name so dispatch never needs reflection.
type EventPayload interface {
	EventType() string
}

// DomainEvent is a single immutable state change raised by an aggregate.
// Once committed to the event store it is never modified.
type DomainEvent struct {
	EventID          string       `json:"event_id"`
	AggregateID      string       `json:"aggregate_id"`
	AggregateType    string       `json:"aggregate_type"`
	AggregateVersion int64        `json:"aggregate_version"`
	EventType        string       `json:"event_type"`
	OccurredAt       time.Time    `json:"occurred_at"`
	CorrelationID    string       `json:"correlation_id"`
	CausedBy         string       `json:"caused_by"`
	Payload          EventPayload `json:"-"`
}

// AttributeKind tags the closed set of enrichment value shapes.
type AttributeKind int

const (
	AttributeString AttributeKind = iota
	AttributeNumber
	AttributeBool
	AttributeMap
)

// AttributeValue is a tagged union over the values an enrichment bag may
// carry: string, number, bool or a nested map. Keeping the set closed keeps
// serialization deterministic across producers.
type AttributeValue struct {
	Kind   AttributeKind
	Str    string
	Num    float64
	Bool   bool
	Nested map[string]AttributeValue
}

// StringAttr wraps a string value.
func StringAttr(s string) AttributeValue {
	return AttributeValue{Kind: AttributeString, Str: s}
}

// NumberAttr wraps a numeric value.
func NumberAttr(n float64) AttributeValue {
	return AttributeValue{Kind: AttributeNumber, Num: n}
}

// BoolAttr wraps a boolean value.
func BoolAttr(b bool) AttributeValue {
	return AttributeValue{Kind: AttributeBool, Bool: b}
}

// MapAttr wraps a nested attribute map.
func MapAttr(m map[string]AttributeValue) AttributeValue {
	return AttributeValue{Kind: AttributeMap, Nested: m}
}

// MarshalJSON writes the bare value for scalars and the nested object for
// maps, so serialized enrichment data reads naturally downstream.
func (v AttributeValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case AttributeString:
		return json.Marshal(v.Str)
	case AttributeNumber:
		return json.Marshal(v.Num)
	case AttributeBool:
		return json.Marshal(v.Bool)
	case AttributeMap:
		return json.Marshal(v.Nested)
	default:
		return nil, errors.Errorf("unknown attribute kind %d", v.Kind)
	}
}

// UnmarshalJSON restores the tagged form from the bare JSON value.
func (v *AttributeValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "failed to unmarshal attribute value")
	}

	switch val := raw.(type) {
	case string:
		*v = StringAttr(val)
	case float64:
		*v = NumberAttr(val)
	case bool:
		*v = BoolAttr(val)
	case map[string]interface{}:
		nested := make(map[string]AttributeValue, len(val))
		for key, inner := range val {
			innerJSON, err := json.Marshal(inner)
			if err != nil {
				return errors.Wrapf(err, "failed to re-marshal nested attribute %q", key)
			}
			var innerValue AttributeValue
			if err := innerValue.UnmarshalJSON(innerJSON); err != nil {
				return err
			}
			nested[key] = innerValue
		}
		*v = MapAttr(nested)
	default:
		return errors.Errorf("unsupported attribute value type %T", raw)
	}
	return nil
}

// Equal compares two attribute values structurally.
func (v AttributeValue) Equal(other AttributeValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case AttributeString:
		return v.Str == other.Str
	case AttributeNumber:
		return v.Num == other.Num
	case AttributeBool:
		return v.Bool == other.Bool
	case AttributeMap:
		if len(v.Nested) != len(other.Nested) {
			return false
		}
		for key, inner := range v.Nested {
			otherInner, ok := other.Nested[key]
			if !ok || !inner.Equal(otherInner) {
				return false
			}
		}
		return true
	}
	return false
}

func (v AttributeValue) String() string {
	switch v.Kind {
	case AttributeString:
		return v.Str
	case AttributeNumber:
		return fmt.Sprintf("%g", v.Num)
	case AttributeBool:
		return fmt.Sprintf("%t", v.Bool)
	case AttributeMap:
		return fmt.Sprintf("%v", v.Nested)
	}
	return ""
}
