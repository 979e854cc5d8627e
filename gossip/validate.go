package gossip

import (
	"errors"
	"fmt"

	"github.com/opd-ai/lnpeer/crypto"
	"github.com/opd-ai/lnpeer/lnwire"
)

// Outcome is what a processor does with a message that failed validation.
type Outcome uint8

const (
	// Drop discards the message silently.
	Drop Outcome = iota
	// Reply discards the message and answers with an error message; the
	// connection stays up.
	Reply
	// Fatal disconnects the peer as a protocol violation.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Drop:
		return "drop"
	case Reply:
		return "reply"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Validation failure causes.
var (
	ErrInvalidPubKey      = errors.New("invalid public key")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrBlacklisted        = errors.New("blacklisted node")
	ErrUnknownChain       = errors.New("unknown chain hash")
	ErrUnknownChannel     = errors.New("unknown channel")
	ErrMalformedAddresses = errors.New("malformed address list")
)

// ValidationError is returned by every validator. Err is one of the
// failure causes above.
type ValidationError struct {
	Outcome Outcome
	Message lnwire.MessageType
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Message, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(outcome Outcome, t lnwire.MessageType, err error) *ValidationError {
	return &ValidationError{Outcome: outcome, Message: t, Err: err}
}

// Validator checks gossip messages before they may touch the repository.
// Every check is conjunctive: keys parse, signatures verify over the double
// SHA-256 of the signed bytes, then the message-specific rules hold.
type Validator struct {
	chains lnwire.ChainSet
	repo   Repository
}

// NewValidator creates a validator for the given chains. repo answers
// blacklist and channel lookups.
func NewValidator(chains lnwire.ChainSet, repo Repository) *Validator {
	return &Validator{chains: chains, repo: repo}
}

func checkKeys(t lnwire.MessageType, keys ...lnwire.PubKey) error {
	for _, k := range keys {
		if _, err := k.Key(); err != nil {
			return invalid(Reply, t, fmt.Errorf("%w %s: %v", ErrInvalidPubKey, k, err))
		}
	}
	return nil
}

type signed struct {
	sig lnwire.Sig
	key lnwire.PubKey
}

func checkSigs(t lnwire.MessageType, data []byte, sigs ...signed) error {
	for _, s := range sigs {
		if err := crypto.VerifyMessage(s.sig, data, s.key); err != nil {
			return invalid(Reply, t, fmt.Errorf("%w by %s: %v", ErrInvalidSignature, s.key, err))
		}
	}
	return nil
}

func (v *Validator) checkBlacklist(t lnwire.MessageType, ids ...lnwire.PubKey) error {
	for _, id := range ids {
		if v.repo.IsBlacklisted(id) {
			return invalid(Reply, t, fmt.Errorf("%w %s", ErrBlacklisted, id))
		}
	}
	return nil
}

func (v *Validator) checkChain(t lnwire.MessageType, h lnwire.ChainHash) error {
	if !v.chains.Contains(h) {
		return invalid(Reply, t, fmt.Errorf("%w %s", ErrUnknownChain, h))
	}
	return nil
}

// NodeAnnouncement validates a node_announcement. A malformed address list
// is fatal; everything else is answered with an error.
func (v *Validator) NodeAnnouncement(m *lnwire.NodeAnnouncement) error {
	t := m.MsgType()
	if err := checkKeys(t, m.NodeID); err != nil {
		return err
	}
	data, err := m.DataToSign()
	if err != nil {
		return invalid(Fatal, t, err)
	}
	if err := checkSigs(t, data, signed{m.Signature, m.NodeID}); err != nil {
		return err
	}
	if err := v.checkBlacklist(t, m.NodeID); err != nil {
		return err
	}
	if _, err := m.NetAddresses(); err != nil {
		return invalid(Fatal, t, fmt.Errorf("%w: %v", ErrMalformedAddresses, err))
	}
	return nil
}

// ChannelAnnouncement validates a channel_announcement: four keys, four
// signatures, a known chain and no blacklisted endpoint.
func (v *Validator) ChannelAnnouncement(m *lnwire.ChannelAnnouncement) error {
	t := m.MsgType()
	if err := checkKeys(t, m.NodeID1, m.NodeID2, m.BitcoinKey1, m.BitcoinKey2); err != nil {
		return err
	}
	data, err := m.DataToSign()
	if err != nil {
		return invalid(Fatal, t, err)
	}
	err = checkSigs(t, data,
		signed{m.NodeSig1, m.NodeID1},
		signed{m.NodeSig2, m.NodeID2},
		signed{m.BitcoinSig1, m.BitcoinKey1},
		signed{m.BitcoinSig2, m.BitcoinKey2},
	)
	if err != nil {
		return err
	}
	if err := v.checkChain(t, m.ChainHash); err != nil {
		return err
	}
	return v.checkBlacklist(t, m.NodeID1, m.NodeID2)
}

// ChannelUpdate validates a channel_update against the channel it updates
// and returns that channel. Updates for channels we do not know are
// dropped without a reply.
func (v *Validator) ChannelUpdate(m *lnwire.ChannelUpdate) (*Channel, error) {
	t := m.MsgType()
	if err := v.checkChain(t, m.ChainHash); err != nil {
		return nil, err
	}
	ch, ok := v.repo.Channel(m.ShortChannelID)
	if !ok || ch.ChainHash != m.ChainHash {
		return nil, invalid(Drop, t, fmt.Errorf("%w %s", ErrUnknownChannel, m.ShortChannelID))
	}
	signer := ch.NodeFor(m.Direction())
	data, err := m.DataToSign()
	if err != nil {
		return nil, invalid(Fatal, t, err)
	}
	if err := checkSigs(t, data, signed{m.Signature, signer}); err != nil {
		return nil, err
	}
	if err := v.checkBlacklist(t, signer); err != nil {
		return nil, err
	}
	return ch, nil
}

// TimestampFilter validates a gossip_timestamp_filter. Filters for chains
// we do not follow are dropped.
func (v *Validator) TimestampFilter(m *lnwire.GossipTimestampFilter) error {
	if !v.chains.Contains(m.ChainHash) {
		return invalid(Drop, m.MsgType(), fmt.Errorf("%w %s", ErrUnknownChain, m.ChainHash))
	}
	return nil
}
