package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/flynn/noise"
)

// ErrInvalidPublicKey indicates a point that failed to parse.
var ErrInvalidPublicKey = errors.New("invalid public key")

// ECDH returns SHA256 of the compressed encoding of priv*pub.
func ECDH(priv *btcec.PrivateKey, pub *btcec.PublicKey) [32]byte {
	var point, result btcec.JacobianPoint
	pub.AsJacobian(&point)
	btcec.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()

	shared := btcec.NewPublicKey(&result.X, &result.Y)
	return sha256.Sum256(shared.SerializeCompressed())
}

// DH is the secp256k1 Diffie-Hellman function for flynn/noise. Keys are
// 32 byte scalars and 33 byte compressed points.
type DH struct{}

var _ noise.DHFunc = DH{}

// GenerateKeypair draws an ephemeral key from rng.
func (DH) GenerateKeypair(rng io.Reader) (noise.DHKey, error) {
	kp, err := GenerateKeyPair(rng)
	if err != nil {
		return noise.DHKey{}, err
	}
	return DHKeyFromPair(kp), nil
}

// DH performs ECDH between a serialized scalar and a compressed point.
func (DH) DH(privkey, pubkey []byte) ([]byte, error) {
	kp, err := FromSecretKey(privkey)
	if err != nil {
		return nil, err
	}
	pub, err := btcec.ParsePubKey(pubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	shared := ECDH(kp.Private, pub)
	kp.Wipe()
	return shared[:], nil
}

// DHLen returns the length of a serialized public key.
func (DH) DHLen() int { return btcec.PubKeyBytesLenCompressed }

// DHName returns the protocol name component.
func (DH) DHName() string { return "secp256k1" }

// DHKeyFromPair converts a key pair to the flynn/noise representation.
func DHKeyFromPair(kp *KeyPair) noise.DHKey {
	return noise.DHKey{
		Private: kp.Private.Serialize(),
		Public:  kp.Public.SerializeCompressed(),
	}
}
