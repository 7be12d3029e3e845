package serialization

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/dangoth/posttrade-poc-sub001/internal/domain"
)

// Metadata is the sidecar stored next to every serialized payload.
type Metadata struct {
	CorrelationID string `json:"correlation_id"`
	CausedBy      string `json:"caused_by"`
	SchemaVersion int    `json:"schema_version"`
}

// SerializePayload encodes a domain event payload for storage and transport.
func SerializePayload(payload domain.EventPayload) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to serialize %s payload", payload.EventType())
	}
	return data, nil
}

// DeserializePayload decodes a stored payload back into its typed form. The
// switch is exhaustive over the closed trade event set; an unknown type is a
// DeserializationError, which consuming loops skip rather than crash on.
func DeserializePayload(eventType string, data []byte) (domain.EventPayload, error) {
	switch eventType {
	case domain.EventTypeTradeCreated:
		var payload domain.TradeCreated
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, &domain.DeserializationError{EventType: eventType, Cause: err}
		}
		return payload, nil
	case domain.EventTypeTradeDetailsUpdated:
		var payload domain.TradeDetailsUpdated
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, &domain.DeserializationError{EventType: eventType, Cause: err}
		}
		return payload, nil
	case domain.EventTypeTradeStatusChanged:
		var payload domain.TradeStatusChanged
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, &domain.DeserializationError{EventType: eventType, Cause: err}
		}
		return payload, nil
	case domain.EventTypeTradeEnriched:
		var payload domain.TradeEnriched
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, &domain.DeserializationError{EventType: eventType, Cause: err}
		}
		return payload, nil
	case domain.EventTypeTradeValidationFailed:
		var payload domain.TradeValidationFailed
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, &domain.DeserializationError{EventType: eventType, Cause: err}
		}
		return payload, nil
	default:
		return nil, &domain.DeserializationError{
			EventType: eventType,
			Cause:     errors.Errorf("no decoder registered for event type %q", eventType),
		}
	}
}

// SerializeMetadata encodes the event metadata sidecar.
func SerializeMetadata(meta Metadata) ([]byte, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize event metadata")
	}
	return data, nil
}

// DeserializeMetadata decodes the metadata sidecar. Empty input yields zero
// metadata rather than an error; old rows may predate the column.
func DeserializeMetadata(data []byte) (Metadata, error) {
	if len(data) == 0 {
		return Metadata{}, nil
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, errors.Wrap(err, "failed to deserialize event metadata")
	}
	return meta, nil
}

// SerializeState encodes a snapshot state.
func SerializeState(state domain.TradeState) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize trade state")
	}
	return data, nil
}

// DeserializeState decodes a snapshot state.
func DeserializeState(data []byte) (domain.TradeState, error) {
	var state domain.TradeState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.TradeState{}, errors.Wrap(err, "failed to deserialize trade state")
	}
	return state, nil
}
