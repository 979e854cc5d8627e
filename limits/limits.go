package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxMessageSize is the largest serialized Lightning message, including
	// its two byte type prefix.
	MaxMessageSize = 65535

	// MACSize is the Poly1305 tag appended by every ChaCha20-Poly1305 seal.
	MACSize = 16

	// LengthHeaderSize is the size of the plaintext length prefix of a frame.
	LengthHeaderSize = 2

	// EncryptedHeaderSize is the length prefix after encryption.
	EncryptedHeaderSize = LengthHeaderSize + MACSize

	// MaxEncryptedFrame bounds one encrypted header plus body.
	MaxEncryptedFrame = EncryptedHeaderSize + MaxMessageSize + MACSize

	// MaxRecordSize is the largest TLV record payload accepted or produced.
	MaxRecordSize = 65535

	// MaxPongBytes is the largest num_pong_bytes value that still elicits a
	// pong reply.
	MaxPongBytes = 65531
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize checks a serialized message against MaxMessageSize.
// The type prefix alone already makes a message two bytes long, so an empty
// slice is rejected as well.
func ValidateMessageSize(message []byte) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > MaxMessageSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), MaxMessageSize)
	}
	return nil
}

// ValidateRecordSize checks a TLV payload length against MaxRecordSize.
func ValidateRecordSize(length uint64) error {
	if length > MaxRecordSize {
		return fmt.Errorf("%w: record length %d exceeds limit %d", ErrMessageTooLarge, length, MaxRecordSize)
	}
	return nil
}
