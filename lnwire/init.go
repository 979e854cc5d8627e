package lnwire

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/lnpeer/tlv"
)

// init_tlvs record types.
const (
	InitNetworksType   uint64 = 1
	InitRemoteAddrType uint64 = 3
)

// ErrInvalidNetworks indicates a networks record that is not a whole number
// of chain hashes.
var ErrInvalidNetworks = errors.New("networks record not a multiple of 32 bytes")

var initRegistry = tlv.Registry{
	InitNetworksType: func(r *bytes.Reader) (any, error) {
		if r.Len()%ChainHashSize != 0 {
			return nil, fmt.Errorf("%w: %d bytes", ErrInvalidNetworks, r.Len())
		}
		chains := make([]ChainHash, r.Len()/ChainHashSize)
		for i := range chains {
			if _, err := io.ReadFull(r, chains[i][:]); err != nil {
				return nil, err
			}
		}
		return chains, nil
	},
	InitRemoteAddrType: func(r *bytes.Reader) (any, error) {
		a, err := decodeNetAddress(r)
		if errors.Is(err, errUnknownAddressType) {
			// unknown descriptor: keep the bytes opaque
			_, _ = r.Seek(0, io.SeekEnd)
			return nil, nil
		}
		return a, err
	},
}

// NewNetworksRecord builds the init networks record.
func NewNetworksRecord(chains ...ChainHash) tlv.Record {
	raw := make([]byte, 0, len(chains)*ChainHashSize)
	for _, c := range chains {
		raw = append(raw, c[:]...)
	}
	rec := tlv.NewRecord(InitNetworksType, raw)
	rec.Decoded = append([]ChainHash(nil), chains...)
	return rec
}

// NewRemoteAddrRecord builds the init remote_addr record.
func NewRemoteAddrRecord(a NetAddress) (tlv.Record, error) {
	var buf bytes.Buffer
	if err := a.encode(&buf); err != nil {
		return tlv.Record{}, err
	}
	rec := tlv.NewRecord(InitRemoteAddrType, buf.Bytes())
	rec.Decoded = a
	return rec, nil
}

// Init is the first message each side sends once the transport is keyed.
type Init struct {
	GlobalFeatures FeatureVector
	Features       FeatureVector
	Extension      *tlv.Stream
}

// MsgType returns MsgInit.
func (m *Init) MsgType() MessageType { return MsgInit }

// Encode writes the init body.
func (m *Init) Encode(w *bytes.Buffer) error {
	if err := writeVarBytes(w, "globalfeatures", m.GlobalFeatures); err != nil {
		return err
	}
	if err := writeVarBytes(w, "features", m.Features); err != nil {
		return err
	}
	return writeExtension(w, m.Extension)
}

// Decode reads the init body.
func (m *Init) Decode(r *bytes.Reader) error {
	gf, err := readVarBytes(r, "globalfeatures")
	if err != nil {
		return err
	}
	f, err := readVarBytes(r, "features")
	if err != nil {
		return err
	}
	m.GlobalFeatures, m.Features = gf, f
	m.Extension, err = readExtension(r, initRegistry)
	return err
}

// CombinedFeatures returns globalfeatures OR features, which receivers must
// treat as one vector.
func (m *Init) CombinedFeatures() FeatureVector {
	return m.Features.Or(m.GlobalFeatures)
}

// Networks returns the chains the sender is interested in, and whether the
// sender stated any preference at all.
func (m *Init) Networks() ([]ChainHash, bool) {
	rec, ok := m.Extension.Record(InitNetworksType)
	if !ok {
		return nil, false
	}
	chains, _ := rec.Decoded.([]ChainHash)
	return chains, true
}

// RemoteAddr returns the address the sender sees us connecting from.
func (m *Init) RemoteAddr() (NetAddress, bool) {
	rec, ok := m.Extension.Record(InitRemoteAddrType)
	if !ok {
		return NetAddress{}, false
	}
	a, ok := rec.Decoded.(NetAddress)
	return a, ok
}
