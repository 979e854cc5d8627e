package lnwire

import (
	"bytes"

	"github.com/opd-ai/lnpeer/tlv"
)

// channel_update flag bits.
const (
	ChanUpdateOptionMaxHtlc uint8 = 1 << 0

	ChanUpdateDirection uint8 = 1 << 0
	ChanUpdateDisabled  uint8 = 1 << 1
)

// ChannelUpdate carries one direction's forwarding policy for a channel. It
// is signed by the node at the originating end of that direction.
type ChannelUpdate struct {
	Signature                 Sig
	ChainHash                 ChainHash
	ShortChannelID            ShortChannelID
	Timestamp                 uint32
	MessageFlags              uint8
	ChannelFlags              uint8
	CltvExpiryDelta           uint16
	HtlcMinimumMsat           uint64
	FeeBaseMsat               uint32
	FeeProportionalMillionths uint32
	HtlcMaximumMsat           uint64
	Extension                 *tlv.Stream
}

// MsgType returns MsgChannelUpdate.
func (m *ChannelUpdate) MsgType() MessageType { return MsgChannelUpdate }

// Direction returns 0 when node_id_1 is the origin, 1 for node_id_2.
func (m *ChannelUpdate) Direction() int {
	return int(m.ChannelFlags & ChanUpdateDirection)
}

// IsDisabled reports the disable bit.
func (m *ChannelUpdate) IsDisabled() bool {
	return m.ChannelFlags&ChanUpdateDisabled != 0
}

// Encode writes the channel_update body.
func (m *ChannelUpdate) Encode(w *bytes.Buffer) error {
	w.Write(m.Signature[:])
	return m.encodeSigned(w)
}

func (m *ChannelUpdate) encodeSigned(w *bytes.Buffer) error {
	w.Write(m.ChainHash[:])
	writeShortChannelID(w, m.ShortChannelID)
	writeUint32(w, m.Timestamp)
	w.WriteByte(m.MessageFlags)
	w.WriteByte(m.ChannelFlags)
	writeUint16(w, m.CltvExpiryDelta)
	writeUint64(w, m.HtlcMinimumMsat)
	writeUint32(w, m.FeeBaseMsat)
	writeUint32(w, m.FeeProportionalMillionths)
	if m.MessageFlags&ChanUpdateOptionMaxHtlc != 0 {
		writeUint64(w, m.HtlcMaximumMsat)
	}
	return writeExtension(w, m.Extension)
}

// DataToSign returns the serialization covered by the signature.
func (m *ChannelUpdate) DataToSign() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.encodeSigned(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads the channel_update body.
func (m *ChannelUpdate) Decode(r *bytes.Reader) error {
	var err error
	if err = readFull(r, "signature", m.Signature[:]); err != nil {
		return err
	}
	if err = readFull(r, "chain_hash", m.ChainHash[:]); err != nil {
		return err
	}
	if m.ShortChannelID, err = readShortChannelID(r, "short_channel_id"); err != nil {
		return err
	}
	if m.Timestamp, err = readUint32(r, "timestamp"); err != nil {
		return err
	}
	if m.MessageFlags, err = readUint8(r, "message_flags"); err != nil {
		return err
	}
	if m.ChannelFlags, err = readUint8(r, "channel_flags"); err != nil {
		return err
	}
	if m.CltvExpiryDelta, err = readUint16(r, "cltv_expiry_delta"); err != nil {
		return err
	}
	if m.HtlcMinimumMsat, err = readUint64(r, "htlc_minimum_msat"); err != nil {
		return err
	}
	if m.FeeBaseMsat, err = readUint32(r, "fee_base_msat"); err != nil {
		return err
	}
	if m.FeeProportionalMillionths, err = readUint32(r, "fee_proportional_millionths"); err != nil {
		return err
	}
	if m.MessageFlags&ChanUpdateOptionMaxHtlc != 0 {
		if m.HtlcMaximumMsat, err = readUint64(r, "htlc_maximum_msat"); err != nil {
			return err
		}
	}
	m.Extension, err = readExtension(r, nil)
	return err
}
