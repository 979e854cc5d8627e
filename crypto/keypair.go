package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/opd-ai/lnpeer/lnwire"
)

// PrivateKeySize is the length of a serialized secp256k1 scalar.
const PrivateKeySize = 32

// ErrInvalidPrivateKey indicates a scalar that is zero or not below the
// curve order.
var ErrInvalidPrivateKey = errors.New("invalid private key")

// KeyPair is a secp256k1 private key with its public point.
type KeyPair struct {
	Private *btcec.PrivateKey
	Public  *btcec.PublicKey
}

// GenerateKeyPair draws scalars from rng until one is valid.
func GenerateKeyPair(rng io.Reader) (*KeyPair, error) {
	var buf [PrivateKeySize]byte
	for {
		if _, err := io.ReadFull(rng, buf[:]); err != nil {
			return nil, fmt.Errorf("read entropy: %w", err)
		}
		kp, err := FromSecretKey(buf[:])
		if errors.Is(err, ErrInvalidPrivateKey) {
			continue
		}
		ZeroBytes(buf[:])
		return kp, err
	}
}

// FromSecretKey builds a key pair from a 32 byte scalar.
func FromSecretKey(secret []byte) (*KeyPair, error) {
	if len(secret) != PrivateKeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidPrivateKey, PrivateKeySize, len(secret))
	}
	var scalar btcec.ModNScalar
	if overflow := scalar.SetByteSlice(secret); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("%w: scalar out of range", ErrInvalidPrivateKey)
	}
	priv, pub := btcec.PrivKeyFromBytes(secret)
	return &KeyPair{Private: priv, Public: pub}, nil
}

// ParsePrivateKeyHex decodes a hex encoded scalar.
func ParsePrivateKeyHex(s string) (*KeyPair, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	defer ZeroBytes(raw)
	return FromSecretKey(raw)
}

// PubKey returns the compressed public key in wire form.
func (kp *KeyPair) PubKey() lnwire.PubKey {
	return lnwire.PubKeyFromKey(kp.Public)
}

// SecretHex returns the hex encoded scalar.
func (kp *KeyPair) SecretHex() string {
	return hex.EncodeToString(kp.Private.Serialize())
}

// Wipe clears the private scalar.
func (kp *KeyPair) Wipe() {
	if kp != nil && kp.Private != nil {
		kp.Private.Zero()
	}
}
