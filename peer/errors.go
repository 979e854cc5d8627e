package peer

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation wraps every connection-fatal violation: a message
	// in the wrong state, an unknown even message type, a ping flood or an
	// undecodable frame.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrHandshakeTimeout indicates the handshake did not reach Done in time.
	ErrHandshakeTimeout = errors.New("handshake timeout")
	// ErrIncompatiblePeer indicates an init exchange with nothing in common.
	ErrIncompatiblePeer = errors.New("incompatible peer")
	// ErrPeerClosed indicates a send on a peer that has stopped.
	ErrPeerClosed = errors.New("peer closed")
	// ErrBanned indicates a node id refused after repeated violations.
	ErrBanned = errors.New("peer banned")
)

// violation builds an ErrProtocolViolation with a reason.
func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}

// ViolationReason returns a short label for metrics.
func ViolationReason(err error) string {
	switch {
	case errors.Is(err, ErrHandshakeTimeout):
		return "handshake_timeout"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol"
	case errors.Is(err, ErrIncompatiblePeer):
		return "incompatible"
	default:
		return "other"
	}
}
