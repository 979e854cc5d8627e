package lnwire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/opd-ai/lnpeer/tlv"
)

// ShortChanIDEncoding is the first byte of an encoded_short_ids field.
type ShortChanIDEncoding uint8

const (
	EncodingSortedPlain ShortChanIDEncoding = 0
	EncodingSortedZlib  ShortChanIDEncoding = 1
)

// TLV record types of the gossip query messages.
const (
	QueryFlagsType  uint64 = 1
	QueryOptionType uint64 = 1
)

// query_option bits.
const (
	QueryOptionTimestamps uint64 = 1 << 0
	QueryOptionChecksums  uint64 = 1 << 1
)

// ErrInvalidShortIDs indicates a plain encoded_short_ids blob that is not a
// whole number of short channel ids.
var ErrInvalidShortIDs = errors.New("encoded short ids not a multiple of 8 bytes")

var queryShortIDsRegistry = tlv.Registry{
	QueryFlagsType: func(r *bytes.Reader) (any, error) {
		// encoding byte followed by the flags; opaque beyond that
		enc, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		rest := make([]byte, r.Len())
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, err
		}
		return append([]byte{enc}, rest...), nil
	},
}

var queryRangeRegistry = tlv.Registry{
	QueryOptionType: func(r *bytes.Reader) (any, error) {
		return tlv.ReadBigSize(r)
	},
}

// encodeShortIDs writes encoded_short_ids. Plain lists are rebuilt from ids;
// other encodings are written from raw.
func encodeShortIDs(w *bytes.Buffer, enc ShortChanIDEncoding, ids []ShortChannelID, raw []byte) error {
	var body bytes.Buffer
	body.WriteByte(byte(enc))
	if enc == EncodingSortedPlain {
		for _, id := range ids {
			writeShortChannelID(&body, id)
		}
	} else {
		body.Write(raw)
	}
	return writeVarBytes(w, "encoded_short_ids", body.Bytes())
}

func decodeShortIDs(r io.Reader) (ShortChanIDEncoding, []ShortChannelID, []byte, error) {
	blob, err := readVarBytes(r, "encoded_short_ids")
	if err != nil {
		return 0, nil, nil, err
	}
	if len(blob) == 0 {
		return EncodingSortedPlain, nil, nil, nil
	}

	enc := ShortChanIDEncoding(blob[0])
	data := blob[1:]
	if enc != EncodingSortedPlain {
		return enc, nil, data, nil
	}
	if len(data)%8 != 0 {
		return 0, nil, nil, fmt.Errorf("%w: %d bytes", ErrInvalidShortIDs, len(data))
	}

	br := bytes.NewReader(data)
	ids := make([]ShortChannelID, len(data)/8)
	for i := range ids {
		if ids[i], err = readShortChannelID(br, "short_channel_id"); err != nil {
			return 0, nil, nil, err
		}
	}
	return enc, ids, nil, nil
}

// QueryShortChanIDs requests the announcements and updates of specific
// channels. Encoded holds the payload when EncodingType is not plain.
type QueryShortChanIDs struct {
	ChainHash    ChainHash
	EncodingType ShortChanIDEncoding
	ShortChanIDs []ShortChannelID
	Encoded      []byte
	Extension    *tlv.Stream
}

// MsgType returns MsgQueryShortChanIDs.
func (m *QueryShortChanIDs) MsgType() MessageType { return MsgQueryShortChanIDs }

// Encode writes the query_short_channel_ids body.
func (m *QueryShortChanIDs) Encode(w *bytes.Buffer) error {
	w.Write(m.ChainHash[:])
	if err := encodeShortIDs(w, m.EncodingType, m.ShortChanIDs, m.Encoded); err != nil {
		return err
	}
	return writeExtension(w, m.Extension)
}

// Decode reads the query_short_channel_ids body.
func (m *QueryShortChanIDs) Decode(r *bytes.Reader) error {
	var err error
	if err = readFull(r, "chain_hash", m.ChainHash[:]); err != nil {
		return err
	}
	if m.EncodingType, m.ShortChanIDs, m.Encoded, err = decodeShortIDs(r); err != nil {
		return err
	}
	m.Extension, err = readExtension(r, queryShortIDsRegistry)
	return err
}

// ReplyShortChanIDsEnd terminates the reply to a QueryShortChanIDs.
// Complete is false when the receiver does not follow the queried chain.
type ReplyShortChanIDsEnd struct {
	ChainHash ChainHash
	Complete  bool
	Extension *tlv.Stream
}

// MsgType returns MsgReplyShortChanIDsEnd.
func (m *ReplyShortChanIDsEnd) MsgType() MessageType { return MsgReplyShortChanIDsEnd }

// Encode writes the reply_short_channel_ids_end body.
func (m *ReplyShortChanIDsEnd) Encode(w *bytes.Buffer) error {
	w.Write(m.ChainHash[:])
	w.WriteByte(boolByte(m.Complete))
	return writeExtension(w, m.Extension)
}

// Decode reads the reply_short_channel_ids_end body.
func (m *ReplyShortChanIDsEnd) Decode(r *bytes.Reader) error {
	var err error
	if err = readFull(r, "chain_hash", m.ChainHash[:]); err != nil {
		return err
	}
	var b uint8
	if b, err = readUint8(r, "full_information"); err != nil {
		return err
	}
	m.Complete = b != 0
	m.Extension, err = readExtension(r, nil)
	return err
}

// QueryChannelRange asks for the short channel ids of every channel whose
// funding block lies in [FirstBlockHeight, FirstBlockHeight+NumBlocks).
type QueryChannelRange struct {
	ChainHash        ChainHash
	FirstBlockHeight uint32
	NumBlocks        uint32
	Extension        *tlv.Stream
}

// MsgType returns MsgQueryChannelRange.
func (m *QueryChannelRange) MsgType() MessageType { return MsgQueryChannelRange }

// LastBlockHeight returns the last block in range, saturating at MaxUint32.
func (m *QueryChannelRange) LastBlockHeight() uint32 {
	if m.NumBlocks == 0 {
		return m.FirstBlockHeight
	}
	last := uint64(m.FirstBlockHeight) + uint64(m.NumBlocks) - 1
	if last > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(last)
}

// QueryOption returns the query_option bits, zero when absent.
func (m *QueryChannelRange) QueryOption() uint64 {
	rec, ok := m.Extension.Record(QueryOptionType)
	if !ok {
		return 0
	}
	v, _ := rec.Decoded.(uint64)
	return v
}

// Encode writes the query_channel_range body.
func (m *QueryChannelRange) Encode(w *bytes.Buffer) error {
	w.Write(m.ChainHash[:])
	writeUint32(w, m.FirstBlockHeight)
	writeUint32(w, m.NumBlocks)
	return writeExtension(w, m.Extension)
}

// Decode reads the query_channel_range body.
func (m *QueryChannelRange) Decode(r *bytes.Reader) error {
	var err error
	if err = readFull(r, "chain_hash", m.ChainHash[:]); err != nil {
		return err
	}
	if m.FirstBlockHeight, err = readUint32(r, "first_blocknum"); err != nil {
		return err
	}
	if m.NumBlocks, err = readUint32(r, "number_of_blocks"); err != nil {
		return err
	}
	m.Extension, err = readExtension(r, queryRangeRegistry)
	return err
}

// ReplyChannelRange answers a QueryChannelRange.
type ReplyChannelRange struct {
	ChainHash        ChainHash
	FirstBlockHeight uint32
	NumBlocks        uint32
	SyncComplete     bool
	EncodingType     ShortChanIDEncoding
	ShortChanIDs     []ShortChannelID
	Encoded          []byte
	Extension        *tlv.Stream
}

// MsgType returns MsgReplyChannelRange.
func (m *ReplyChannelRange) MsgType() MessageType { return MsgReplyChannelRange }

// Encode writes the reply_channel_range body.
func (m *ReplyChannelRange) Encode(w *bytes.Buffer) error {
	w.Write(m.ChainHash[:])
	writeUint32(w, m.FirstBlockHeight)
	writeUint32(w, m.NumBlocks)
	w.WriteByte(boolByte(m.SyncComplete))
	if err := encodeShortIDs(w, m.EncodingType, m.ShortChanIDs, m.Encoded); err != nil {
		return err
	}
	return writeExtension(w, m.Extension)
}

// Decode reads the reply_channel_range body.
func (m *ReplyChannelRange) Decode(r *bytes.Reader) error {
	var err error
	if err = readFull(r, "chain_hash", m.ChainHash[:]); err != nil {
		return err
	}
	if m.FirstBlockHeight, err = readUint32(r, "first_blocknum"); err != nil {
		return err
	}
	if m.NumBlocks, err = readUint32(r, "number_of_blocks"); err != nil {
		return err
	}
	var b uint8
	if b, err = readUint8(r, "sync_complete"); err != nil {
		return err
	}
	m.SyncComplete = b != 0
	if m.EncodingType, m.ShortChanIDs, m.Encoded, err = decodeShortIDs(r); err != nil {
		return err
	}
	m.Extension, err = readExtension(r, nil)
	return err
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
