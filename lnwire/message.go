package lnwire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/lnpeer/limits"
)

// MessageType is the two byte command prefix of every message.
type MessageType uint16

const (
	MsgWarning                MessageType = 1
	MsgInit                   MessageType = 16
	MsgError                  MessageType = 17
	MsgPing                   MessageType = 18
	MsgPong                   MessageType = 19
	MsgChannelAnnouncement    MessageType = 256
	MsgNodeAnnouncement       MessageType = 257
	MsgChannelUpdate          MessageType = 258
	MsgAnnouncementSignatures MessageType = 259
	MsgQueryShortChanIDs      MessageType = 261
	MsgReplyShortChanIDsEnd   MessageType = 262
	MsgQueryChannelRange      MessageType = 263
	MsgReplyChannelRange      MessageType = 264
	MsgGossipTimestampFilter  MessageType = 265

	// MsgHandshakeAct tags raw BOLT 8 act bytes read before the transport is
	// keyed. It is never produced by DecodeMessage.
	MsgHandshakeAct MessageType = 0xffff
)

var messageNames = map[MessageType]string{
	MsgWarning:                "warning",
	MsgInit:                   "init",
	MsgError:                  "error",
	MsgPing:                   "ping",
	MsgPong:                   "pong",
	MsgChannelAnnouncement:    "channel_announcement",
	MsgNodeAnnouncement:       "node_announcement",
	MsgChannelUpdate:          "channel_update",
	MsgAnnouncementSignatures: "announcement_signatures",
	MsgQueryShortChanIDs:      "query_short_channel_ids",
	MsgReplyShortChanIDsEnd:   "reply_short_channel_ids_end",
	MsgQueryChannelRange:      "query_channel_range",
	MsgReplyChannelRange:      "reply_channel_range",
	MsgGossipTimestampFilter:  "gossip_timestamp_filter",
	MsgHandshakeAct:           "handshake_act",
}

// String returns the BOLT name of the type.
func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown_%d", uint16(t))
}

// IsOdd reports whether a receiver may ignore the type when unknown.
func (t MessageType) IsOdd() bool {
	return t%2 == 1
}

// Message is a typed Lightning message. Encode and Decode handle the body
// only; the type prefix is written by EncodeMessage.
type Message interface {
	MsgType() MessageType
	Encode(w *bytes.Buffer) error
	Decode(r *bytes.Reader) error
}

var (
	// ErrShortMessage indicates a frame without a complete type prefix.
	ErrShortMessage = errors.New("message shorter than type prefix")
	// ErrNotWireMessage indicates an attempt to encode an internal message.
	ErrNotWireMessage = errors.New("message has no wire form")
)

// registry maps each known command to a constructor.
var registry = map[MessageType]func() Message{
	MsgWarning:                func() Message { return &Warning{} },
	MsgInit:                   func() Message { return &Init{} },
	MsgError:                  func() Message { return &Error{} },
	MsgPing:                   func() Message { return &Ping{} },
	MsgPong:                   func() Message { return &Pong{} },
	MsgChannelAnnouncement:    func() Message { return &ChannelAnnouncement{} },
	MsgNodeAnnouncement:       func() Message { return &NodeAnnouncement{} },
	MsgChannelUpdate:          func() Message { return &ChannelUpdate{} },
	MsgAnnouncementSignatures: func() Message { return &AnnouncementSignatures{} },
	MsgQueryShortChanIDs:      func() Message { return &QueryShortChanIDs{} },
	MsgReplyShortChanIDsEnd:   func() Message { return &ReplyShortChanIDsEnd{} },
	MsgQueryChannelRange:      func() Message { return &QueryChannelRange{} },
	MsgReplyChannelRange:      func() Message { return &ReplyChannelRange{} },
	MsgGossipTimestampFilter:  func() Message { return &GossipTimestampFilter{} },
}

// NewMessage returns an empty message for a known command.
func NewMessage(t MessageType) (Message, bool) {
	ctor, ok := registry[t]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// EncodeMessage serializes msg with its type prefix.
func EncodeMessage(msg Message) ([]byte, error) {
	if msg.MsgType() == MsgHandshakeAct {
		return nil, ErrNotWireMessage
	}

	var buf bytes.Buffer
	writeUint16(&buf, uint16(msg.MsgType()))
	if err := msg.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MsgType(), err)
	}
	if err := limits.ValidateMessageSize(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MsgType(), err)
	}
	return buf.Bytes(), nil
}

// DecodeMessage parses a frame. Unknown commands yield *Unknown.
func DecodeMessage(b []byte) (Message, error) {
	if len(b) < 2 {
		return nil, ErrShortMessage
	}
	if err := limits.ValidateMessageSize(b); err != nil {
		return nil, err
	}

	t := MessageType(binary.BigEndian.Uint16(b[:2]))
	msg, ok := NewMessage(t)
	if !ok {
		msg = &Unknown{Type: t}
	}

	if err := msg.Decode(bytes.NewReader(b[2:])); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return msg, nil
}

// Unknown carries a message whose command is not in the registry.
type Unknown struct {
	Type    MessageType
	Payload []byte
}

// MsgType returns the unrecognized command.
func (m *Unknown) MsgType() MessageType { return m.Type }

// Encode writes the opaque payload.
func (m *Unknown) Encode(w *bytes.Buffer) error {
	w.Write(m.Payload)
	return nil
}

// Decode keeps the body opaque.
func (m *Unknown) Decode(r *bytes.Reader) error {
	m.Payload = make([]byte, r.Len())
	_, err := io.ReadFull(r, m.Payload)
	return err
}

// HandshakeAct wraps the raw bytes of one BOLT 8 act so the handshake can
// flow through the same dispatch path as typed messages.
type HandshakeAct struct {
	Data []byte
}

// MsgType returns MsgHandshakeAct.
func (m *HandshakeAct) MsgType() MessageType { return MsgHandshakeAct }

// Encode writes the act bytes unchanged.
func (m *HandshakeAct) Encode(w *bytes.Buffer) error {
	w.Write(m.Data)
	return nil
}

// Decode reads the whole body as act bytes.
func (m *HandshakeAct) Decode(r *bytes.Reader) error {
	m.Data = make([]byte, r.Len())
	_, err := io.ReadFull(r, m.Data)
	return err
}
