package peer

import "fmt"

// NegotiationError reports an offer or answer that could not be created or
// applied. The peer relationship it belongs to has been abandoned.
type NegotiationError struct {
	Op     string
	PeerID string
	Err    error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("%s with %s: %v", e.Op, e.PeerID, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// StaleReferenceError reports an answer or candidate for a peer that has no
// session, usually because it already left. It is expected under churn.
type StaleReferenceError struct {
	Op     string
	PeerID string
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("%s for unknown peer %s", e.Op, e.PeerID)
}
