package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/opd-ai/lnpeer/lnwire"
)

// ErrBootstrapFormat indicates a bootstrap entry not in pubkey@host:port
// form.
var ErrBootstrapFormat = errors.New("bootstrap peer must be pubkey@host:port")

// BootstrapPeer is a node dialed on startup.
type BootstrapPeer struct {
	NodeID lnwire.PubKey
	Addr   string
}

// ParseBootstrapPeer parses "pubkey@host:port". The key must be a valid
// compressed secp256k1 point.
func ParseBootstrapPeer(s string) (BootstrapPeer, error) {
	key, addr, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok || key == "" || addr == "" {
		return BootstrapPeer{}, fmt.Errorf("%w: %q", ErrBootstrapFormat, s)
	}
	nodeID, err := lnwire.ParsePubKeyHex(key)
	if err != nil {
		return BootstrapPeer{}, fmt.Errorf("bootstrap peer %q: %w", s, err)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return BootstrapPeer{}, fmt.Errorf("%w: %q: %v", ErrBootstrapFormat, s, err)
	}
	return BootstrapPeer{NodeID: nodeID, Addr: addr}, nil
}

func (b BootstrapPeer) String() string {
	return b.NodeID.String() + "@" + b.Addr
}
