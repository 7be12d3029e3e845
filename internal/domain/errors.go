package domain

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Sentinel errors for the failure modes callers are expected to branch on.
var (
	// ErrConcurrencyConflict is returned when an append collides with a version
	// another writer already committed. The caller owns the reload-and-retry
	// decision; nothing in this module retries automatically.
	ErrConcurrencyConflict = errors.New("concurrency conflict: aggregate version already committed")

	// ErrTradeNotFound is returned when no events exist for the requested trade.
	ErrTradeNotFound = errors.New("trade not found")

	// ErrTradeAlreadyExists is returned when creating a trade whose id already
	// has committed history.
	ErrTradeAlreadyExists = errors.New("trade already exists")

	// ErrCorruptHistory is returned when a replayed event stream is out of
	// order, gapped or duplicated.
	ErrCorruptHistory = errors.New("corrupt event history")
)

// ValidationError carries every violation found in a single validation pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Violations, "; "))
}

// NewValidationError builds a ValidationError from the collected violations.
func NewValidationError(violations []string) *ValidationError {
	return &ValidationError{Violations: violations}
}

// IsValidationError reports whether err is (or wraps) a ValidationError and
// returns it when so.
func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// DeserializationError marks a stored or in-flight payload that could not be
// decoded. Consuming loops skip and log these instead of crashing.
type DeserializationError struct {
	EventType string
	Cause     error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("cannot deserialize event %q: %v", e.EventType, e.Cause)
}

func (e *DeserializationError) Unwrap() error {
	return e.Cause
}
