package lnwire

import (
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg"
)

// SupportedChain names a chain this node can gossip about.
type SupportedChain string

const (
	Mainnet SupportedChain = "mainnet"
	Testnet SupportedChain = "testnet"
	Regtest SupportedChain = "regtest"
	Signet  SupportedChain = "signet"
)

// ErrUnknownChain indicates a chain name or hash absent from the registry.
var ErrUnknownChain = errors.New("unknown chain")

var chainRegistry = map[SupportedChain]ChainHash{
	Mainnet: ChainHash(*chaincfg.MainNetParams.GenesisHash),
	Testnet: ChainHash(*chaincfg.TestNet3Params.GenesisHash),
	Regtest: ChainHash(*chaincfg.RegressionNetParams.GenesisHash),
	Signet:  ChainHash(*chaincfg.SigNetParams.GenesisHash),
}

// ChainHashFor returns the genesis hash of a supported chain.
func ChainHashFor(c SupportedChain) (ChainHash, bool) {
	h, ok := chainRegistry[c]
	return h, ok
}

// ChainFromHash maps a genesis hash back to its chain.
func ChainFromHash(h ChainHash) (SupportedChain, bool) {
	for c, ch := range chainRegistry {
		if ch == h {
			return c, true
		}
	}
	return "", false
}

// ParseChain validates a chain name.
func ParseChain(name string) (SupportedChain, error) {
	c := SupportedChain(name)
	if _, ok := chainRegistry[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownChain, name)
	}
	return c, nil
}

// SupportedChains lists every chain in the registry, sorted by name.
func SupportedChains() []SupportedChain {
	out := make([]SupportedChain, 0, len(chainRegistry))
	for c := range chainRegistry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ChainSet is an immutable set of chain hashes a node accepts gossip for.
type ChainSet map[ChainHash]SupportedChain

// NewChainSet builds a set from chain names.
func NewChainSet(chains ...SupportedChain) (ChainSet, error) {
	set := make(ChainSet, len(chains))
	for _, c := range chains {
		h, ok := chainRegistry[c]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownChain, c)
		}
		set[h] = c
	}
	return set, nil
}

// Contains reports whether h is in the set.
func (s ChainSet) Contains(h ChainHash) bool {
	_, ok := s[h]
	return ok
}

// Hashes returns the hashes in the set, sorted by chain name.
func (s ChainSet) Hashes() []ChainHash {
	names := make([]SupportedChain, 0, len(s))
	for _, c := range s {
		names = append(names, c)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	out := make([]ChainHash, 0, len(names))
	for _, c := range names {
		out = append(out, chainRegistry[c])
	}
	return out
}
