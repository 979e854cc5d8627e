package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNonCanonicalEncoding indicates a BigSize value was not minimally encoded.
	ErrNonCanonicalEncoding = errors.New("non-canonical bigsize encoding")
	// ErrUnexpectedEOF indicates the input ended inside a value or record.
	ErrUnexpectedEOF = errors.New("unexpected end of input")
)

// BigSizeLen returns the number of bytes needed to encode v.
func BigSizeLen(v uint64) int {
	switch {
	case v < 0xfd:
		return 1
	case v <= 0xffff:
		return 3
	case v <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// AppendBigSize appends the BigSize encoding of v to b.
func AppendBigSize(b []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(b, byte(v))
	case v <= 0xffff:
		b = append(b, 0xfd)
		return binary.BigEndian.AppendUint16(b, uint16(v))
	case v <= 0xffffffff:
		b = append(b, 0xfe)
		return binary.BigEndian.AppendUint32(b, uint32(v))
	default:
		b = append(b, 0xff)
		return binary.BigEndian.AppendUint64(b, v)
	}
}

// WriteBigSize writes the BigSize encoding of v to w.
func WriteBigSize(w io.Writer, v uint64) error {
	var buf [9]byte
	_, err := w.Write(AppendBigSize(buf[:0], v))
	return err
}

// DecodeBigSize decodes a BigSize value from the front of b and reports how
// many bytes it consumed.
func DecodeBigSize(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrUnexpectedEOF
	}

	switch prefix := b[0]; prefix {
	case 0xfd:
		if len(b) < 3 {
			return 0, 0, fmt.Errorf("%w: need 3 bytes, have %d", ErrUnexpectedEOF, len(b))
		}
		v := uint64(binary.BigEndian.Uint16(b[1:3]))
		if v < 0xfd {
			return 0, 0, fmt.Errorf("%w: %d in 3 bytes", ErrNonCanonicalEncoding, v)
		}
		return v, 3, nil
	case 0xfe:
		if len(b) < 5 {
			return 0, 0, fmt.Errorf("%w: need 5 bytes, have %d", ErrUnexpectedEOF, len(b))
		}
		v := uint64(binary.BigEndian.Uint32(b[1:5]))
		if v <= 0xffff {
			return 0, 0, fmt.Errorf("%w: %d in 5 bytes", ErrNonCanonicalEncoding, v)
		}
		return v, 5, nil
	case 0xff:
		if len(b) < 9 {
			return 0, 0, fmt.Errorf("%w: need 9 bytes, have %d", ErrUnexpectedEOF, len(b))
		}
		v := binary.BigEndian.Uint64(b[1:9])
		if v <= 0xffffffff {
			return 0, 0, fmt.Errorf("%w: %d in 9 bytes", ErrNonCanonicalEncoding, v)
		}
		return v, 9, nil
	default:
		return uint64(prefix), 1, nil
	}
}

// ReadBigSize reads one BigSize value from r. Any short read, including an
// empty reader, is reported as ErrUnexpectedEOF.
func ReadBigSize(r io.Reader) (uint64, error) {
	var buf [9]byte
	if _, err := io.ReadFull(r, buf[:1]); err != nil {
		return 0, eofError(err)
	}

	n := 0
	switch buf[0] {
	case 0xfd:
		n = 2
	case 0xfe:
		n = 4
	case 0xff:
		n = 8
	}
	if n > 0 {
		if _, err := io.ReadFull(r, buf[1:1+n]); err != nil {
			return 0, eofError(err)
		}
	}

	v, _, err := DecodeBigSize(buf[:1+n])
	return v, err
}

func eofError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrUnexpectedEOF
	}
	return err
}
