package lnwire

import (
	"bytes"

	"github.com/opd-ai/lnpeer/tlv"
)

// GossipTimestampFilter asks the receiver to forward only gossip whose
// timestamp falls in [FirstTimestamp, FirstTimestamp+TimestampRange).
type GossipTimestampFilter struct {
	ChainHash      ChainHash
	FirstTimestamp uint32
	TimestampRange uint32
	Extension      *tlv.Stream
}

// MsgType returns MsgGossipTimestampFilter.
func (m *GossipTimestampFilter) MsgType() MessageType { return MsgGossipTimestampFilter }

// Encode writes the gossip_timestamp_filter body.
func (m *GossipTimestampFilter) Encode(w *bytes.Buffer) error {
	w.Write(m.ChainHash[:])
	writeUint32(w, m.FirstTimestamp)
	writeUint32(w, m.TimestampRange)
	return writeExtension(w, m.Extension)
}

// Decode reads the gossip_timestamp_filter body.
func (m *GossipTimestampFilter) Decode(r *bytes.Reader) error {
	var err error
	if err = readFull(r, "chain_hash", m.ChainHash[:]); err != nil {
		return err
	}
	if m.FirstTimestamp, err = readUint32(r, "first_timestamp"); err != nil {
		return err
	}
	if m.TimestampRange, err = readUint32(r, "timestamp_range"); err != nil {
		return err
	}
	m.Extension, err = readExtension(r, nil)
	return err
}
