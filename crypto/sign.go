package crypto

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/opd-ai/lnpeer/lnwire"
)

// DoubleSHA256 returns SHA256(SHA256(data)), the digest signed by gossip
// messages.
func DoubleSHA256(data []byte) []byte {
	return chainhash.DoubleHashB(data)
}

// SignMessage signs the double-SHA256 digest of data.
func SignMessage(priv *btcec.PrivateKey, data []byte) (lnwire.Sig, error) {
	sig, err := lnwire.SignDigest(priv, DoubleSHA256(data))
	if err != nil {
		return lnwire.Sig{}, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// VerifyMessage checks sig over the double-SHA256 digest of data. The key
// must be a canonical compressed point.
func VerifyMessage(sig lnwire.Sig, data []byte, key lnwire.PubKey) error {
	pub, err := key.Key()
	if err != nil {
		return err
	}
	return sig.Verify(DoubleSHA256(data), pub)
}
