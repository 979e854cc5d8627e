package lnwire

import (
	"bytes"

	"github.com/opd-ai/lnpeer/tlv"
)

// AnnouncementSignatures hands a channel partner the sender's half of the
// signatures needed to build a ChannelAnnouncement.
type AnnouncementSignatures struct {
	ChannelID        ChannelID
	ShortChannelID   ShortChannelID
	NodeSignature    Sig
	BitcoinSignature Sig
	Extension        *tlv.Stream
}

// MsgType returns MsgAnnouncementSignatures.
func (m *AnnouncementSignatures) MsgType() MessageType { return MsgAnnouncementSignatures }

// Encode writes the announcement_signatures body.
func (m *AnnouncementSignatures) Encode(w *bytes.Buffer) error {
	w.Write(m.ChannelID[:])
	writeShortChannelID(w, m.ShortChannelID)
	w.Write(m.NodeSignature[:])
	w.Write(m.BitcoinSignature[:])
	return writeExtension(w, m.Extension)
}

// Decode reads the announcement_signatures body.
func (m *AnnouncementSignatures) Decode(r *bytes.Reader) error {
	var err error
	if err = readFull(r, "channel_id", m.ChannelID[:]); err != nil {
		return err
	}
	if m.ShortChannelID, err = readShortChannelID(r, "short_channel_id"); err != nil {
		return err
	}
	if err = readFull(r, "node_signature", m.NodeSignature[:]); err != nil {
		return err
	}
	if err = readFull(r, "bitcoin_signature", m.BitcoinSignature[:]); err != nil {
		return err
	}
	m.Extension, err = readExtension(r, nil)
	return err
}
