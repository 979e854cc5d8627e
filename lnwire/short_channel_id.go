package lnwire

import (
	"fmt"
	"strconv"
	"strings"
)

// ShortChannelID locates a channel's funding output on chain: block height,
// transaction index within the block and output index, packed into 8 bytes.
type ShortChannelID struct {
	BlockHeight uint32 // 24 bits
	TxIndex     uint32 // 24 bits
	TxPosition  uint16
}

// NewShortChannelIDFromUint64 unpacks the wire representation.
func NewShortChannelIDFromUint64(v uint64) ShortChannelID {
	return ShortChannelID{
		BlockHeight: uint32(v >> 40),
		TxIndex:     uint32(v>>16) & 0xffffff,
		TxPosition:  uint16(v),
	}
}

// ParseShortChannelID parses the "HEIGHTxINDEXxOUTPUT" form.
func ParseShortChannelID(s string) (ShortChannelID, error) {
	parts := strings.Split(s, "x")
	if len(parts) != 3 {
		return ShortChannelID{}, fmt.Errorf("short channel id %q: want HEIGHTxINDEXxOUTPUT", s)
	}
	height, err := strconv.ParseUint(parts[0], 10, 24)
	if err != nil {
		return ShortChannelID{}, fmt.Errorf("short channel id %q: block height: %w", s, err)
	}
	index, err := strconv.ParseUint(parts[1], 10, 24)
	if err != nil {
		return ShortChannelID{}, fmt.Errorf("short channel id %q: tx index: %w", s, err)
	}
	pos, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return ShortChannelID{}, fmt.Errorf("short channel id %q: output: %w", s, err)
	}
	return ShortChannelID{BlockHeight: uint32(height), TxIndex: uint32(index), TxPosition: uint16(pos)}, nil
}

// ToUint64 packs the id into its wire representation.
func (s ShortChannelID) ToUint64() uint64 {
	return uint64(s.BlockHeight&0xffffff)<<40 | uint64(s.TxIndex&0xffffff)<<16 | uint64(s.TxPosition)
}

// String returns the "HEIGHTxINDEXxOUTPUT" form.
func (s ShortChannelID) String() string {
	return fmt.Sprintf("%dx%dx%d", s.BlockHeight, s.TxIndex, s.TxPosition)
}
