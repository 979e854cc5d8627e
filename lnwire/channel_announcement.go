package lnwire

import (
	"bytes"

	"github.com/opd-ai/lnpeer/tlv"
)

// ChannelAnnouncement proves that two nodes control a funding output and
// binds the channel's short id to their node and bitcoin keys.
type ChannelAnnouncement struct {
	NodeSig1       Sig
	NodeSig2       Sig
	BitcoinSig1    Sig
	BitcoinSig2    Sig
	Features       FeatureVector
	ChainHash      ChainHash
	ShortChannelID ShortChannelID
	NodeID1        PubKey
	NodeID2        PubKey
	BitcoinKey1    PubKey
	BitcoinKey2    PubKey
	Extension      *tlv.Stream
}

// MsgType returns MsgChannelAnnouncement.
func (m *ChannelAnnouncement) MsgType() MessageType { return MsgChannelAnnouncement }

// Encode writes the channel_announcement body.
func (m *ChannelAnnouncement) Encode(w *bytes.Buffer) error {
	w.Write(m.NodeSig1[:])
	w.Write(m.NodeSig2[:])
	w.Write(m.BitcoinSig1[:])
	w.Write(m.BitcoinSig2[:])
	return m.encodeSigned(w)
}

func (m *ChannelAnnouncement) encodeSigned(w *bytes.Buffer) error {
	if err := writeVarBytes(w, "features", m.Features); err != nil {
		return err
	}
	w.Write(m.ChainHash[:])
	writeShortChannelID(w, m.ShortChannelID)
	w.Write(m.NodeID1[:])
	w.Write(m.NodeID2[:])
	w.Write(m.BitcoinKey1[:])
	w.Write(m.BitcoinKey2[:])
	return writeExtension(w, m.Extension)
}

// DataToSign returns the serialization covered by all four signatures.
func (m *ChannelAnnouncement) DataToSign() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.encodeSigned(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads the channel_announcement body.
func (m *ChannelAnnouncement) Decode(r *bytes.Reader) error {
	var err error
	for _, f := range []struct {
		name string
		dst  []byte
	}{
		{"node_signature_1", m.NodeSig1[:]},
		{"node_signature_2", m.NodeSig2[:]},
		{"bitcoin_signature_1", m.BitcoinSig1[:]},
		{"bitcoin_signature_2", m.BitcoinSig2[:]},
	} {
		if err = readFull(r, f.name, f.dst); err != nil {
			return err
		}
	}
	if m.Features, err = readVarBytes(r, "features"); err != nil {
		return err
	}
	if err = readFull(r, "chain_hash", m.ChainHash[:]); err != nil {
		return err
	}
	if m.ShortChannelID, err = readShortChannelID(r, "short_channel_id"); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		dst  []byte
	}{
		{"node_id_1", m.NodeID1[:]},
		{"node_id_2", m.NodeID2[:]},
		{"bitcoin_key_1", m.BitcoinKey1[:]},
		{"bitcoin_key_2", m.BitcoinKey2[:]},
	} {
		if err = readFull(r, f.name, f.dst); err != nil {
			return err
		}
	}
	m.Extension, err = readExtension(r, nil)
	return err
}
