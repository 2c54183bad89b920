package signaling

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected       = errors.New("not connected")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrClosed             = errors.New("connection closed")
	ErrMalformed          = errors.New("malformed envelope")
	ErrMissingType        = errors.New("envelope has no type")
	ErrUnknownType        = errors.New("unknown envelope type")
)

// TransportError reports a connect or send failure. Attempt is the reconnect
// attempt it belongs to, or zero for the initial connection.
type TransportError struct {
	Op      string
	Attempt int
	Err     error
}

func (e *TransportError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("%s (attempt %d): %v", e.Op, e.Attempt, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports an envelope that could not be decoded or encoded.
type ProtocolError struct {
	Op   string
	Type Type
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Type, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
