package lnwire

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

const (
	// PubKeySize is the length of a compressed secp256k1 point.
	PubKeySize = 33
	// SigSize is the length of a compact r||s signature.
	SigSize = 64
	// ChainHashSize is the length of a genesis block hash.
	ChainHashSize = 32
	// ChannelIDSize is the length of a channel id.
	ChannelIDSize = 32
	// AliasSize is the fixed width of a node alias.
	AliasSize = 32
	// RGBSize is the width of a node color.
	RGBSize = 3
)

var (
	// ErrInvalidLength indicates a raw slice of the wrong size for a value type.
	ErrInvalidLength = errors.New("invalid length")
	// ErrInvalidPubKey indicates bytes that are not a canonical compressed point.
	ErrInvalidPubKey = errors.New("invalid public key")
	// ErrInvalidSignature indicates a malformed or non-verifying signature.
	ErrInvalidSignature = errors.New("invalid signature")
)

func checkLen(kind string, b []byte, want int) error {
	if len(b) != want {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidLength, kind, want, len(b))
	}
	return nil
}

// PubKey is a compressed secp256k1 public key as it appears on the wire.
type PubKey [PubKeySize]byte

// NewPubKey copies a 33 byte slice into a PubKey. It does not check that the
// bytes are a valid point; use Key for that.
func NewPubKey(b []byte) (PubKey, error) {
	var p PubKey
	if err := checkLen("pubkey", b, PubKeySize); err != nil {
		return p, err
	}
	copy(p[:], b)
	return p, nil
}

// PubKeyFromKey serializes a parsed key in compressed form.
func PubKeyFromKey(k *btcec.PublicKey) PubKey {
	var p PubKey
	copy(p[:], k.SerializeCompressed())
	return p
}

// ParsePubKeyHex decodes a hex string into a PubKey and checks that it is a
// canonical point.
func ParsePubKeyHex(s string) (PubKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return PubKey{}, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}
	p, err := NewPubKey(raw)
	if err != nil {
		return PubKey{}, err
	}
	if _, err := p.Key(); err != nil {
		return PubKey{}, err
	}
	return p, nil
}

// Bytes returns a copy of the serialized key.
func (p PubKey) Bytes() []byte {
	return append([]byte(nil), p[:]...)
}

// Key parses the point, requiring the canonical compressed encoding.
func (p PubKey) Key() (*btcec.PublicKey, error) {
	if p[0] != 0x02 && p[0] != 0x03 {
		return nil, fmt.Errorf("%w: prefix 0x%02x is not compressed", ErrInvalidPubKey, p[0])
	}
	k, err := btcec.ParsePubKey(p[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}
	return k, nil
}

// IsZero reports whether the key is all zero bytes.
func (p PubKey) IsZero() bool {
	return p == PubKey{}
}

// String returns the hex encoding of the key.
func (p PubKey) String() string {
	return hex.EncodeToString(p[:])
}

// Sig is a 64 byte compact ECDSA signature, r followed by s.
type Sig [SigSize]byte

// NewSig copies a 64 byte slice into a Sig.
func NewSig(b []byte) (Sig, error) {
	var s Sig
	if err := checkLen("signature", b, SigSize); err != nil {
		return s, err
	}
	copy(s[:], b)
	return s, nil
}

// SignDigest signs a 32 byte digest and returns the compact form.
func SignDigest(priv *btcec.PrivateKey, digest []byte) (Sig, error) {
	compact := ecdsa.SignCompact(priv, digest, true)
	// drop the recovery byte
	return NewSig(compact[1:])
}

// Bytes returns a copy of the signature bytes.
func (s Sig) Bytes() []byte {
	return append([]byte(nil), s[:]...)
}

// ToSignature converts the compact form into an ecdsa.Signature, rejecting
// out-of-range or zero scalars.
func (s Sig) ToSignature() (*ecdsa.Signature, error) {
	var r, sv btcec.ModNScalar
	if overflow := r.SetByteSlice(s[:32]); overflow || r.IsZero() {
		return nil, fmt.Errorf("%w: r out of range", ErrInvalidSignature)
	}
	if overflow := sv.SetByteSlice(s[32:]); overflow || sv.IsZero() {
		return nil, fmt.Errorf("%w: s out of range", ErrInvalidSignature)
	}
	return ecdsa.NewSignature(&r, &sv), nil
}

// Verify checks the signature over digest against key.
func (s Sig) Verify(digest []byte, key *btcec.PublicKey) error {
	sig, err := s.ToSignature()
	if err != nil {
		return err
	}
	if !sig.Verify(digest, key) {
		return ErrInvalidSignature
	}
	return nil
}

// ChainHash identifies a chain by its genesis block hash in wire byte order.
type ChainHash [ChainHashSize]byte

// NewChainHash copies a 32 byte slice into a ChainHash.
func NewChainHash(b []byte) (ChainHash, error) {
	var h ChainHash
	if err := checkLen("chain hash", b, ChainHashSize); err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// Bytes returns a copy of the hash.
func (h ChainHash) Bytes() []byte {
	return append([]byte(nil), h[:]...)
}

// String returns the hex encoding in wire order.
func (h ChainHash) String() string {
	return hex.EncodeToString(h[:])
}

// ChannelID identifies a channel between two peers. The zero value refers to
// all channels, that is the connection itself.
type ChannelID [ChannelIDSize]byte

// NewChannelID copies a 32 byte slice into a ChannelID.
func NewChannelID(b []byte) (ChannelID, error) {
	var c ChannelID
	if err := checkLen("channel id", b, ChannelIDSize); err != nil {
		return c, err
	}
	copy(c[:], b)
	return c, nil
}

// IsConnectionLevel reports whether the id addresses the whole connection.
func (c ChannelID) IsConnectionLevel() bool {
	return c == ChannelID{}
}

// Bytes returns a copy of the id.
func (c ChannelID) Bytes() []byte {
	return append([]byte(nil), c[:]...)
}

// String returns the hex encoding of the id.
func (c ChannelID) String() string {
	return hex.EncodeToString(c[:])
}

// RGB is a node's display color.
type RGB [RGBSize]byte

// NewRGB copies a 3 byte slice into an RGB.
func NewRGB(b []byte) (RGB, error) {
	var c RGB
	if err := checkLen("rgb color", b, RGBSize); err != nil {
		return c, err
	}
	copy(c[:], b)
	return c, nil
}

// String returns the color as #rrggbb.
func (c RGB) String() string {
	return "#" + hex.EncodeToString(c[:])
}

// Alias is a node's 32 byte, zero padded nickname.
type Alias [AliasSize]byte

// NewAlias builds an alias from a string of at most AliasSize bytes.
func NewAlias(s string) (Alias, error) {
	var a Alias
	if len(s) > AliasSize {
		return a, fmt.Errorf("%w: alias needs at most %d bytes, got %d", ErrInvalidLength, AliasSize, len(s))
	}
	copy(a[:], s)
	return a, nil
}

// Bytes returns a copy of the raw alias.
func (a Alias) Bytes() []byte {
	return append([]byte(nil), a[:]...)
}

// String returns the alias with trailing zero padding removed.
func (a Alias) String() string {
	return strings.TrimRight(string(a[:]), "\x00")
}
