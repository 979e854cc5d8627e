package lnwire

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/opd-ai/lnpeer/tlv"
)

// Error reports a failure for one channel, or for the whole connection when
// ChannelID is zero. The receiver of a connection-level error closes the
// connection.
type Error struct {
	ChannelID ChannelID
	Data      []byte
	Extension *tlv.Stream
}

// NewConnectionError creates a connection-level error with a text reason.
func NewConnectionError(format string, args ...any) *Error {
	return &Error{Data: []byte(fmt.Sprintf(format, args...))}
}

// MsgType returns MsgError.
func (m *Error) MsgType() MessageType { return MsgError }

// Encode writes the error body.
func (m *Error) Encode(w *bytes.Buffer) error {
	return encodeErrorBody(w, m.ChannelID, m.Data, m.Extension)
}

// Decode reads the error body.
func (m *Error) Decode(r *bytes.Reader) error {
	var err error
	m.ChannelID, m.Data, m.Extension, err = decodeErrorBody(r)
	return err
}

// Text returns the data as a printable string.
func (m *Error) Text() string {
	return printable(m.Data)
}

// Warning reports a problem without requiring the connection to close.
type Warning struct {
	ChannelID ChannelID
	Data      []byte
	Extension *tlv.Stream
}

// MsgType returns MsgWarning.
func (m *Warning) MsgType() MessageType { return MsgWarning }

// Encode writes the warning body.
func (m *Warning) Encode(w *bytes.Buffer) error {
	return encodeErrorBody(w, m.ChannelID, m.Data, m.Extension)
}

// Decode reads the warning body.
func (m *Warning) Decode(r *bytes.Reader) error {
	var err error
	m.ChannelID, m.Data, m.Extension, err = decodeErrorBody(r)
	return err
}

// Text returns the data as a printable string.
func (m *Warning) Text() string {
	return printable(m.Data)
}

func encodeErrorBody(w *bytes.Buffer, id ChannelID, data []byte, ext *tlv.Stream) error {
	w.Write(id[:])
	if err := writeVarBytes(w, "data", data); err != nil {
		return err
	}
	return writeExtension(w, ext)
}

func decodeErrorBody(r *bytes.Reader) (ChannelID, []byte, *tlv.Stream, error) {
	var id ChannelID
	if err := readFull(r, "channel_id", id[:]); err != nil {
		return id, nil, nil, err
	}
	data, err := readVarBytes(r, "data")
	if err != nil {
		return id, nil, nil, err
	}
	ext, err := readExtension(r, nil)
	return id, data, ext, err
}

func printable(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return fmt.Sprintf("%x", b)
}
