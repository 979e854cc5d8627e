package noise

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"

	"github.com/opd-ai/lnpeer/crypto"
	"github.com/opd-ai/lnpeer/lnwire"
)

const (
	// HandshakeVersion is the only act version understood.
	HandshakeVersion byte = 0

	// ActOneSize and ActTwoSize are version + compressed key + MAC.
	ActOneSize = 1 + 33 + 16
	ActTwoSize = ActOneSize
	// ActThreeSize is version + encrypted static key + MAC.
	ActThreeSize = 1 + 33 + 16 + 16

	protocolName = "Noise_XK_secp256k1_ChaChaPoly_SHA256"
	prologue     = "lightning"
)

var (
	// ErrHandshakeAuthenticationFailed indicates an act whose MAC or key
	// material did not check out.
	ErrHandshakeAuthenticationFailed = errors.New("handshake authentication failed")
	// ErrUnknownHandshakeVersion indicates an act with a version byte other
	// than HandshakeVersion.
	ErrUnknownHandshakeVersion = errors.New("unknown handshake version")
	// ErrInvalidActLength indicates an act of the wrong size.
	ErrInvalidActLength = errors.New("invalid act length")
	// ErrUnexpectedAct indicates input that does not fit the current state.
	ErrUnexpectedAct = errors.New("unexpected handshake act")
	// ErrHandshakeComplete indicates a Step after Done.
	ErrHandshakeComplete = errors.New("handshake already complete")
	// ErrHandshakeNotComplete indicates a session request before Done.
	ErrHandshakeNotComplete = errors.New("handshake not complete")
)

// Role defines whether we initiate or respond to the handshake.
type Role uint8

const (
	// Initiator dials and knows the responder's static key.
	Initiator Role = iota
	// Responder accepts and learns the initiator's key in act three.
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// Act is the next act the machine will produce or consume.
type Act uint8

const (
	ActOne Act = iota + 1
	ActTwo
	ActThree
	Done
)

func (a Act) String() string {
	switch a {
	case ActOne:
		return "act_one"
	case ActTwo:
		return "act_two"
	case ActThree:
		return "act_three"
	case Done:
		return "done"
	}
	return fmt.Sprintf("act(%d)", uint8(a))
}

// chainingDH mirrors the Noise chaining key outside flynn/noise. Every DH
// output of an XK handshake feeds a MixKey, so replaying the same HKDF here
// leaves ck equal to the handshake's final chaining key, which BOLT 8 key
// rotation needs.
type chainingDH struct {
	inner crypto.DH
	ck    [32]byte
}

func newChainingDH() *chainingDH {
	return &chainingDH{ck: sha256.Sum256([]byte(protocolName))}
}

func (c *chainingDH) GenerateKeypair(rng io.Reader) (noise.DHKey, error) {
	return c.inner.GenerateKeypair(rng)
}

func (c *chainingDH) DH(privkey, pubkey []byte) ([]byte, error) {
	out, err := c.inner.DH(privkey, pubkey)
	if err != nil {
		return nil, err
	}
	c.ck, _ = hkdf2(c.ck[:], out)
	return out, nil
}

func (c *chainingDH) DHLen() int     { return c.inner.DHLen() }
func (c *chainingDH) DHName() string { return c.inner.DHName() }

// hkdf2 returns the two 32 byte outputs of HKDF-SHA256 with an empty info.
func hkdf2(salt, ikm []byte) (first, second [32]byte) {
	r := hkdf.New(sha256.New, ikm, salt, nil)
	// reading 64 bytes from SHA256 HKDF cannot fail
	_, _ = io.ReadFull(r, first[:])
	_, _ = io.ReadFull(r, second[:])
	return first, second
}

// Option configures a Machine.
type Option func(*options)

type options struct {
	ephemeral *crypto.KeyPair
}

// WithEphemeralKey fixes the ephemeral key instead of generating one.
func WithEphemeralKey(kp *crypto.KeyPair) Option {
	return func(o *options) { o.ephemeral = kp }
}

// Machine is the per-connection handshake state. It is not safe for
// concurrent use; the connection driver owns it.
type Machine struct {
	role    Role
	act     Act
	state   *noise.HandshakeState
	dh      *chainingDH
	remote  lnwire.PubKey
	session *Session
}

// NewMachine creates a handshake machine. remote is required for the
// initiator and ignored for the responder.
func NewMachine(role Role, local *crypto.KeyPair, remote *btcec.PublicKey, opts ...Option) (*Machine, error) {
	if local == nil {
		return nil, errors.New("local static key required")
	}
	if role == Initiator && remote == nil {
		return nil, errors.New("initiator requires the responder's static key")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	dh := newChainingDH()
	config := noise.Config{
		CipherSuite:   noise.NewCipherSuite(dh, noise.CipherChaChaPoly, noise.HashSHA256),
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXK,
		Initiator:     role == Initiator,
		Prologue:      []byte(prologue),
		StaticKeypair: crypto.DHKeyFromPair(local),
	}
	if o.ephemeral != nil {
		config.EphemeralKeypair = crypto.DHKeyFromPair(o.ephemeral)
		config.Random = bytes.NewReader(o.ephemeral.Private.Serialize())
	}

	m := &Machine{role: role, act: ActOne, dh: dh}
	if role == Initiator {
		config.PeerStatic = remote.SerializeCompressed()
		m.remote = lnwire.PubKeyFromKey(remote)
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("create handshake state: %w", err)
	}
	m.state = state

	logrus.WithFields(logrus.Fields{
		"function": "NewMachine",
		"package":  "noise",
		"role":     role,
	}).Debug("Handshake machine created")

	return m, nil
}

// Role returns the machine's role.
func (m *Machine) Role() Role { return m.role }

// Act returns the next act to process.
func (m *Machine) Act() Act { return m.act }

// IsComplete reports whether the machine reached Done.
func (m *Machine) IsComplete() bool { return m.act == Done }

// ExpectedInput returns how many bytes the next Step consumes. Zero means
// Step must be called with no input, either to emit act one or because the
// handshake is over.
func (m *Machine) ExpectedInput() int {
	switch {
	case m.act == ActOne && m.role == Responder:
		return ActOneSize
	case m.act == ActTwo:
		return ActTwoSize
	case m.act == ActThree:
		return ActThreeSize
	}
	return 0
}

// Step consumes at most one act and returns the act to send, if any.
func (m *Machine) Step(input []byte) ([]byte, error) {
	if m.act == Done {
		return nil, ErrHandshakeComplete
	}

	var (
		out []byte
		err error
	)
	switch {
	case m.role == Initiator && m.act == ActOne:
		out, err = m.writeActOne(input)
	case m.role == Responder && m.act == ActOne:
		out, err = m.readActOne(input)
	case m.role == Initiator && m.act == ActTwo:
		out, err = m.readActTwo(input)
	case m.role == Responder && m.act == ActThree:
		err = m.readActThree(input)
	default:
		err = fmt.Errorf("%w: %s has no %s", ErrUnexpectedAct, m.role, m.act)
	}

	fields := logrus.Fields{
		"function": "Step",
		"package":  "noise",
		"role":     m.role,
		"act":      m.act,
	}
	if err != nil {
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Handshake step failed")
		return nil, err
	}
	logrus.WithFields(fields).Debug("Handshake step completed")
	return out, nil
}

func (m *Machine) writeActOne(input []byte) ([]byte, error) {
	if len(input) != 0 {
		return nil, fmt.Errorf("%w: initiator sends act one unprompted", ErrUnexpectedAct)
	}
	msg, _, _, err := m.state.WriteMessage([]byte{HandshakeVersion}, nil)
	if err != nil {
		return nil, fmt.Errorf("write act one: %w", err)
	}
	m.act = ActTwo
	return msg, nil
}

func (m *Machine) readActOne(input []byte) ([]byte, error) {
	if err := m.readAct(input, ActOneSize); err != nil {
		return nil, err
	}
	msg, _, _, err := m.state.WriteMessage([]byte{HandshakeVersion}, nil)
	if err != nil {
		return nil, fmt.Errorf("write act two: %w", err)
	}
	m.act = ActThree
	return msg, nil
}

func (m *Machine) readActTwo(input []byte) ([]byte, error) {
	if err := m.readAct(input, ActTwoSize); err != nil {
		return nil, err
	}
	msg, _, _, err := m.state.WriteMessage([]byte{HandshakeVersion}, nil)
	if err != nil {
		return nil, fmt.Errorf("write act three: %w", err)
	}
	m.finish()
	return msg, nil
}

func (m *Machine) readActThree(input []byte) error {
	if err := m.readAct(input, ActThreeSize); err != nil {
		return err
	}
	remote, err := lnwire.NewPubKey(m.state.PeerStatic())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeAuthenticationFailed, err)
	}
	m.remote = remote
	m.finish()
	return nil
}

// readAct checks framing and feeds the act body to the Noise state.
func (m *Machine) readAct(input []byte, size int) error {
	if len(input) != size {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidActLength, m.act, size, len(input))
	}
	if input[0] != HandshakeVersion {
		return fmt.Errorf("%w: %d", ErrUnknownHandshakeVersion, input[0])
	}
	if _, _, _, err := m.state.ReadMessage(nil, input[1:]); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrHandshakeAuthenticationFailed, m.act, err)
	}
	return nil
}

// finish derives the transport keys from the final chaining key. The
// initiator sends with the first HKDF output, the responder with the second.
func (m *Machine) finish() {
	first, second := hkdf2(m.dh.ck[:], nil)
	send, recv := first, second
	if m.role == Responder {
		send, recv = second, first
	}

	m.session = &Session{
		Send:         newCipherState(send, m.dh.ck),
		Recv:         newCipherState(recv, m.dh.ck),
		RemoteStatic: m.remote,
	}
	m.state = nil
	m.act = Done

	logrus.WithFields(crypto.OperationFields("handshake", "done",
		logrus.Fields{"package": "noise", "role": m.role},
		crypto.KeyPreview("remote_static", m.remote[:]),
	)).Info("Handshake complete")
}

// RemoteStatic returns the peer's static key. It is known from the start for
// the initiator and after act three for the responder.
func (m *Machine) RemoteStatic() (lnwire.PubKey, bool) {
	if m.remote.IsZero() {
		return lnwire.PubKey{}, false
	}
	return m.remote, true
}

// Session returns the transport cipher states once Done.
func (m *Machine) Session() (*Session, error) {
	if m.act != Done {
		return nil, ErrHandshakeNotComplete
	}
	return m.session, nil
}
