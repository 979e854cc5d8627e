package noise

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/opd-ai/lnpeer/crypto"
	"github.com/opd-ai/lnpeer/limits"
	"github.com/opd-ai/lnpeer/lnwire"
)

// KeyRotationInterval is the nonce value at which a cipher state rotates.
const KeyRotationInterval = 1000

var (
	// ErrMessageAuthFailed indicates a transport frame that failed to decrypt.
	ErrMessageAuthFailed = errors.New("message authentication failed")
	// ErrInvalidHeaderLength indicates a length header of the wrong size.
	ErrInvalidHeaderLength = errors.New("invalid encrypted header length")
)

// CipherState is one direction of the transport: a ChaCha20-Poly1305 key,
// its chaining salt and a nonce counter.
type CipherState struct {
	nonce uint64
	key   [32]byte
	salt  [32]byte
	aead  cipher.AEAD
}

func newCipherState(key, salt [32]byte) *CipherState {
	c := &CipherState{salt: salt}
	c.setKey(key)
	return c
}

func (c *CipherState) setKey(key [32]byte) {
	c.key = key
	// a 32 byte key is the only failure mode of chacha20poly1305.New
	c.aead, _ = chacha20poly1305.New(c.key[:])
}

func (c *CipherState) nonceBytes() []byte {
	var n [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(n[4:], c.nonce)
	return n[:]
}

// Nonce returns the nonce the next operation will use.
func (c *CipherState) Nonce() uint64 { return c.nonce }

// Key returns the current key.
func (c *CipherState) Key() [32]byte { return c.key }

// Encrypt seals plaintext with associated data ad.
func (c *CipherState) Encrypt(ad, plaintext []byte) []byte {
	out := c.aead.Seal(nil, c.nonceBytes(), plaintext, ad)
	c.advance()
	return out
}

// Decrypt opens ciphertext. The nonce advances only on success.
func (c *CipherState) Decrypt(ad, ciphertext []byte) ([]byte, error) {
	pt, err := c.aead.Open(nil, c.nonceBytes(), ciphertext, ad)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce %d", ErrMessageAuthFailed, c.nonce)
	}
	c.advance()
	return pt, nil
}

func (c *CipherState) advance() {
	c.nonce++
	if c.nonce == KeyRotationInterval {
		c.rotate()
	}
}

// rotate derives ck', k' = HKDF(ck, k) and resets the nonce.
func (c *CipherState) rotate() {
	salt, key := hkdf2(c.salt[:], c.key[:])
	crypto.ZeroBytes(c.key[:])
	c.salt = salt
	c.setKey(key)
	c.nonce = 0

	logrus.WithFields(logrus.Fields{
		"function": "rotate",
		"package":  "noise",
	}).Debug("Transport key rotated")
}

// Session is the pair of cipher states produced by a completed handshake.
// Send and Recv must each be used by one goroutine at a time.
type Session struct {
	Send         *CipherState
	Recv         *CipherState
	RemoteStatic lnwire.PubKey
}

// EncryptFrame encrypts one message into a length header and body.
func (s *Session) EncryptFrame(msg []byte) ([]byte, error) {
	if err := limits.ValidateMessageSize(msg); err != nil {
		return nil, err
	}
	var l [limits.LengthHeaderSize]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(msg)))

	frame := s.Send.Encrypt(nil, l[:])
	frame = append(frame, s.Send.Encrypt(nil, msg)...)
	return frame, nil
}

// DecryptHeader opens an encrypted length header and returns the size of the
// encrypted body that follows, MAC included.
func (s *Session) DecryptHeader(header []byte) (int, error) {
	if len(header) != limits.EncryptedHeaderSize {
		return 0, fmt.Errorf("%w: %d", ErrInvalidHeaderLength, len(header))
	}
	l, err := s.Recv.Decrypt(nil, header)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(l)) + limits.MACSize, nil
}

// DecryptBody opens an encrypted body.
func (s *Session) DecryptBody(body []byte) ([]byte, error) {
	return s.Recv.Decrypt(nil, body)
}
