// Package limits provides centralized wire size limits for the Lightning peer
// protocol. Codecs, the transport framing and the ping processor all consult
// these values so that a single constant governs each bound.
//
// # Size Hierarchy
//
//   - MaxMessageSize (65535 bytes): the largest Lightning message, type prefix
//     included. The BOLT 8 length header is a u16, so nothing larger can be
//     framed.
//
//   - MaxEncryptedFrame (65569 bytes): a full transport frame, that is the
//     encrypted length header plus the encrypted body, each with its MAC.
//
//   - MaxRecordSize (65535 bytes): the largest single TLV record payload.
//
//   - MaxPongBytes (65531 bytes): a ping that asks for more pong bytes than
//     this is a keep-alive that must not be answered.
//
// # Validation Functions
//
//	if err := limits.ValidateMessageSize(payload); err != nil {
//	    return err
//	}
package limits
