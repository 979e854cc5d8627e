package tlv

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/lnpeer/limits"
)

// MaxRecordSize is the largest payload a single record may carry.
const MaxRecordSize = limits.MaxRecordSize

var (
	// ErrNonCanonicalStream indicates record types were not strictly ascending.
	ErrNonCanonicalStream = errors.New("non-canonical tlv stream")
	// ErrRecordTooLarge indicates a record length above MaxRecordSize.
	ErrRecordTooLarge = errors.New("tlv record too large")
	// ErrRecordLengthMismatch indicates a known record decoder did not consume
	// exactly the declared length.
	ErrRecordLengthMismatch = errors.New("tlv record length mismatch")
	// ErrUnknownEvenType indicates a record of an even type that the
	// receiver does not understand.
	ErrUnknownEvenType = errors.New("unknown even tlv type")
)

// Record is a single TLV entry. Value always holds the raw payload; Decoded
// holds the typed value for record types present in the decoding Registry and
// is nil for opaque records.
type Record struct {
	Type    uint64
	Value   []byte
	Decoded any
}

// NewRecord creates a record from a raw payload. The payload is copied.
func NewRecord(typ uint64, value []byte) Record {
	return Record{Type: typ, Value: append([]byte(nil), value...)}
}

// IsOdd reports whether the record type may be ignored by readers that do
// not understand it.
func (r Record) IsOdd() bool {
	return r.Type%2 == 1
}

// DecodeFunc decodes a known record payload. The reader holds exactly the
// record's declared length; bytes left unread are a length mismatch.
type DecodeFunc func(r *bytes.Reader) (any, error)

// Registry maps known record types to their decoders.
type Registry map[uint64]DecodeFunc

// Stream is an ordered set of records. A nil *Stream is a valid empty stream.
type Stream struct {
	records []Record
}

// NewStream wraps records in their given order. Ordering is checked when the
// stream is encoded.
func NewStream(records ...Record) *Stream {
	return &Stream{records: append([]Record(nil), records...)}
}

// Records returns a copy of the records in stream order.
func (s *Stream) Records() []Record {
	if s == nil {
		return nil
	}
	return append([]Record(nil), s.records...)
}

// Len returns the number of records.
func (s *Stream) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// Record returns the record with the given type.
func (s *Stream) Record(typ uint64) (Record, bool) {
	if s == nil {
		return Record{}, false
	}
	for _, rec := range s.records {
		if rec.Type == typ {
			return rec, true
		}
	}
	return Record{}, false
}

// Encode serializes the stream. An empty or nil stream encodes to no bytes.
func (s *Stream) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write serializes the stream to w, enforcing ascending types and the
// record size bound.
func (s *Stream) Write(w io.Writer) error {
	if s == nil {
		return nil
	}

	var buf []byte
	for i, rec := range s.records {
		if i > 0 && rec.Type <= s.records[i-1].Type {
			return fmt.Errorf("%w: type %d follows %d", ErrNonCanonicalStream, rec.Type, s.records[i-1].Type)
		}
		if len(rec.Value) > MaxRecordSize {
			return fmt.Errorf("%w: type %d has %d bytes", ErrRecordTooLarge, rec.Type, len(rec.Value))
		}
		buf = AppendBigSize(buf, rec.Type)
		buf = AppendBigSize(buf, uint64(len(rec.Value)))
		buf = append(buf, rec.Value...)
	}

	_, err := w.Write(buf)
	return err
}

// Decode parses a stream. Empty input yields a nil stream and no error.
func Decode(data []byte, reg Registry) (*Stream, error) {
	if len(data) == 0 {
		return nil, nil
	}

	s := &Stream{}
	for off := 0; off < len(data); {
		typ, n, err := DecodeBigSize(data[off:])
		if err != nil {
			return nil, fmt.Errorf("record type: %w", err)
		}
		off += n

		if len(s.records) > 0 && typ <= s.records[len(s.records)-1].Type {
			return nil, fmt.Errorf("%w: type %d follows %d", ErrNonCanonicalStream, typ, s.records[len(s.records)-1].Type)
		}

		length, n, err := DecodeBigSize(data[off:])
		if err != nil {
			return nil, fmt.Errorf("record %d length: %w", typ, err)
		}
		off += n

		if length > MaxRecordSize {
			return nil, fmt.Errorf("%w: type %d declares %d bytes", ErrRecordTooLarge, typ, length)
		}
		if length > uint64(len(data)-off) {
			return nil, fmt.Errorf("%w: type %d declares %d bytes, %d remain", ErrUnexpectedEOF, typ, length, len(data)-off)
		}

		rec := NewRecord(typ, data[off:off+int(length)])
		off += int(length)

		if dec, ok := reg[typ]; ok {
			r := bytes.NewReader(rec.Value)
			v, err := dec(r)
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrUnexpectedEOF) {
					return nil, fmt.Errorf("%w: type %d: %v", ErrRecordLengthMismatch, typ, err)
				}
				return nil, fmt.Errorf("record %d: %w", typ, err)
			}
			if r.Len() != 0 {
				return nil, fmt.Errorf("%w: type %d left %d bytes", ErrRecordLengthMismatch, typ, r.Len())
			}
			rec.Decoded = v
		} else if !rec.IsOdd() {
			return nil, fmt.Errorf("%w: %d", ErrUnknownEvenType, typ)
		}

		s.records = append(s.records, rec)
	}

	return s, nil
}
