package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaViolation: a value does not conform to its shape (mandatory
	// field missing, wrong value type). The stream stays usable.
	ErrSchemaViolation = errors.New("protocol: schema violation")
	// ErrMalformedFrame: corrupt or truncated wire bytes. Reset the
	// connection; never retry the same bytes.
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	// ErrUnknownMessage: tag or kind absent from the registry.
	ErrUnknownMessage = errors.New("protocol: unknown message")
	// ErrNoHandler: request kind without a registered handler.
	ErrNoHandler = errors.New("protocol: no handler")
	// ErrTransportClosed: the peer disconnected.
	ErrTransportClosed = errors.New("protocol: transport closed")
	// ErrUnexpectedResponse: a response frame for another kind arrived.
	ErrUnexpectedResponse = errors.New("protocol: unexpected response")
)

// ViolationError locates a schema violation.
type ViolationError struct {
	Shape   string
	Field   string
	Ordinal Ordinal
	Reason  string
}

func (e *ViolationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("protocol: schema violation: %s: %s", e.Shape, e.Reason)
	}
	return fmt.Sprintf("protocol: schema violation: %s.%s (ordinal %d): %s", e.Shape, e.Field, e.Ordinal, e.Reason)
}

func (e *ViolationError) Unwrap() error { return ErrSchemaViolation }

// Malformed wraps a decoding problem as ErrMalformedFrame.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}
