package lnwire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/opd-ai/lnpeer/tlv"
)

// ErrFieldTooLarge indicates a variable field that does not fit its u16
// length prefix.
var ErrFieldTooLarge = errors.New("field exceeds u16 length prefix")

func writeUint16(w *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.Write(b[:])
}

func writeUint32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func writeUint64(w *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

// writeVarBytes writes a u16 length prefix followed by b.
func writeVarBytes(w *bytes.Buffer, field string, b []byte) error {
	if len(b) > math.MaxUint16 {
		return fmt.Errorf("%w: %s has %d bytes", ErrFieldTooLarge, field, len(b))
	}
	writeUint16(w, uint16(len(b)))
	w.Write(b)
	return nil
}

func writeShortChannelID(w *bytes.Buffer, s ShortChannelID) {
	writeUint64(w, s.ToUint64())
}

func writeExtension(w *bytes.Buffer, s *tlv.Stream) error {
	if err := s.Write(w); err != nil {
		return fmt.Errorf("extension: %w", err)
	}
	return nil
}

func readFull(r io.Reader, field string, b []byte) error {
	if _, err := io.ReadFull(r, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: %s", tlv.ErrUnexpectedEOF, field)
		}
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

func readUint8(r io.Reader, field string) (uint8, error) {
	var b [1]byte
	if err := readFull(r, field, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func readUint16(r io.Reader, field string) (uint16, error) {
	var b [2]byte
	if err := readFull(r, field, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readUint32(r io.Reader, field string) (uint32, error) {
	var b [4]byte
	if err := readFull(r, field, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader, field string) (uint64, error) {
	var b [8]byte
	if err := readFull(r, field, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// readVarBytes reads a u16 length prefix and that many bytes.
func readVarBytes(r io.Reader, field string) ([]byte, error) {
	n, err := readUint16(r, field+" length")
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if err := readFull(r, field, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readShortChannelID(r io.Reader, field string) (ShortChannelID, error) {
	v, err := readUint64(r, field)
	if err != nil {
		return ShortChannelID{}, err
	}
	return NewShortChannelIDFromUint64(v), nil
}

// readExtension hands every remaining byte to the TLV codec.
func readExtension(r *bytes.Reader, reg tlv.Registry) (*tlv.Stream, error) {
	rest := make([]byte, r.Len())
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	s, err := tlv.Decode(rest, reg)
	if err != nil {
		return nil, fmt.Errorf("extension: %w", err)
	}
	return s, nil
}
