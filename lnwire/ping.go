package lnwire

import (
	"bytes"

	"github.com/opd-ai/lnpeer/tlv"
)

// Ping asks the peer for a pong of NumPongBytes zero bytes. PaddingBytes
// are ignored by the receiver; their length is the byteslen field.
type Ping struct {
	NumPongBytes uint16
	PaddingBytes []byte
	Extension    *tlv.Stream
}

// MsgType returns MsgPing.
func (m *Ping) MsgType() MessageType { return MsgPing }

// BytesLen returns the byteslen field.
func (m *Ping) BytesLen() int { return len(m.PaddingBytes) }

// Encode writes the ping body.
func (m *Ping) Encode(w *bytes.Buffer) error {
	writeUint16(w, m.NumPongBytes)
	if err := writeVarBytes(w, "ignored", m.PaddingBytes); err != nil {
		return err
	}
	return writeExtension(w, m.Extension)
}

// Decode reads the ping body.
func (m *Ping) Decode(r *bytes.Reader) error {
	var err error
	if m.NumPongBytes, err = readUint16(r, "num_pong_bytes"); err != nil {
		return err
	}
	if m.PaddingBytes, err = readVarBytes(r, "ignored"); err != nil {
		return err
	}
	m.Extension, err = readExtension(r, nil)
	return err
}

// Pong answers a Ping with PongBytes ignored bytes.
type Pong struct {
	PongBytes []byte
	Extension *tlv.Stream
}

// NewPong builds the reply to a ping asking for n bytes.
func NewPong(n uint16) *Pong {
	return &Pong{PongBytes: make([]byte, n)}
}

// MsgType returns MsgPong.
func (m *Pong) MsgType() MessageType { return MsgPong }

// BytesLen returns the byteslen field.
func (m *Pong) BytesLen() int { return len(m.PongBytes) }

// Encode writes the pong body.
func (m *Pong) Encode(w *bytes.Buffer) error {
	if err := writeVarBytes(w, "ignored", m.PongBytes); err != nil {
		return err
	}
	return writeExtension(w, m.Extension)
}

// Decode reads the pong body.
func (m *Pong) Decode(r *bytes.Reader) error {
	var err error
	if m.PongBytes, err = readVarBytes(r, "ignored"); err != nil {
		return err
	}
	m.Extension, err = readExtension(r, nil)
	return err
}
