package lnwire

import (
	"bytes"

	"github.com/opd-ai/lnpeer/tlv"
)

// NodeAnnouncement advertises a node's alias, color, features and addresses.
// Addresses holds the raw address list exactly as signed; NetAddresses
// parses it.
type NodeAnnouncement struct {
	Signature Sig
	Features  FeatureVector
	Timestamp uint32
	NodeID    PubKey
	RGBColor  RGB
	Alias     Alias
	Addresses []byte
	Extension *tlv.Stream
}

// MsgType returns MsgNodeAnnouncement.
func (m *NodeAnnouncement) MsgType() MessageType { return MsgNodeAnnouncement }

// AddrLen returns the addrlen field.
func (m *NodeAnnouncement) AddrLen() uint16 { return uint16(len(m.Addresses)) }

// NetAddresses parses the address list.
func (m *NodeAnnouncement) NetAddresses() ([]NetAddress, error) {
	return ParseAddresses(m.Addresses)
}

// Encode writes the node_announcement body.
func (m *NodeAnnouncement) Encode(w *bytes.Buffer) error {
	w.Write(m.Signature[:])
	return m.encodeSigned(w)
}

func (m *NodeAnnouncement) encodeSigned(w *bytes.Buffer) error {
	if err := writeVarBytes(w, "features", m.Features); err != nil {
		return err
	}
	writeUint32(w, m.Timestamp)
	w.Write(m.NodeID[:])
	w.Write(m.RGBColor[:])
	w.Write(m.Alias[:])
	if err := writeVarBytes(w, "addresses", m.Addresses); err != nil {
		return err
	}
	return writeExtension(w, m.Extension)
}

// DataToSign returns the serialization covered by the signature: everything
// after the signature field.
func (m *NodeAnnouncement) DataToSign() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.encodeSigned(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads the node_announcement body.
func (m *NodeAnnouncement) Decode(r *bytes.Reader) error {
	var err error
	if err = readFull(r, "signature", m.Signature[:]); err != nil {
		return err
	}
	if m.Features, err = readVarBytes(r, "features"); err != nil {
		return err
	}
	if m.Timestamp, err = readUint32(r, "timestamp"); err != nil {
		return err
	}
	if err = readFull(r, "node_id", m.NodeID[:]); err != nil {
		return err
	}
	if err = readFull(r, "rgb_color", m.RGBColor[:]); err != nil {
		return err
	}
	if err = readFull(r, "alias", m.Alias[:]); err != nil {
		return err
	}
	if m.Addresses, err = readVarBytes(r, "addresses"); err != nil {
		return err
	}
	m.Extension, err = readExtension(r, nil)
	return err
}
