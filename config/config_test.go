package config

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/lnpeer/crypto"
	"github.com/opd-ai/lnpeer/lnwire"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lnpeer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())

	empty, err := Load(writeConfig(t, "\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), empty)
}

func TestLoadOverlaysFile(t *testing.T) {
	nodeID := newNodeID(t)
	path := writeConfig(t, `
listen: 127.0.0.1:19735
chains: [testnet, regtest]
bootstrap_peers:
  - `+nodeID.String()+`@198.51.100.1:9735
metrics_addr: 127.0.0.1:9100
log:
  level: debug
  format: json
gossip:
  sync_backlog: 1h
handshake_timeout: 3s
ping_interval: 1m
flush_interval: 0s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:19735", cfg.Listen)
	assert.Equal(t, DefaultKeyFile, cfg.KeyFile)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Gossip.Sync, "unset keys keep their defaults")
	assert.Equal(t, time.Hour, cfg.Gossip.SyncBacklog)
	assert.Equal(t, 3*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, time.Minute, cfg.PingInterval)
	assert.Equal(t, DefaultFlushInterval, cfg.FlushInterval)

	chains, err := cfg.ChainSet()
	require.NoError(t, err)
	testnet, _ := lnwire.ChainHashFor(lnwire.Testnet)
	regtest, _ := lnwire.ChainHashFor(lnwire.Regtest)
	mainnet, _ := lnwire.ChainHashFor(lnwire.Mainnet)
	assert.True(t, chains.Contains(testnet))
	assert.True(t, chains.Contains(regtest))
	assert.False(t, chains.Contains(mainnet))

	peers, err := cfg.Bootstrap()
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, nodeID, peers[0].NodeID)
	assert.Equal(t, "198.51.100.1:9735", peers[0].Addr)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown chain", "chains: [litecoin]"},
		{"bad listen", "listen: nowhere"},
		{"bad metrics addr", "metrics_addr: localhost"},
		{"bad level", "log: {level: loud}"},
		{"bad format", "log: {format: xml}"},
		{"bad bootstrap", "bootstrap_peers: [somehost:9735]"},
		{"negative timeout", "dial_timeout: -1s"},
		{"negative violations", "max_violations: -2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	_, err := Load(writeConfig(t, "listen: [unclosed"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Chains = []string{"signet"}
	cfg.PingInterval = 45 * time.Second

	path := filepath.Join(t.TempDir(), "nested", "lnpeer.yaml")
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestParseBootstrapPeer(t *testing.T) {
	nodeID := newNodeID(t)

	bp, err := ParseBootstrapPeer(" " + nodeID.String() + "@[2001:db8::1]:9735 ")
	require.NoError(t, err)
	assert.Equal(t, "[2001:db8::1]:9735", bp.Addr)
	assert.Equal(t, nodeID.String()+"@[2001:db8::1]:9735", bp.String())

	for _, s := range []string{
		"",
		nodeID.String(),
		"@host:1",
		nodeID.String() + "@host",
		"zz@host:1",
		"02" + nodeID.String()[2:10] + "@host:1",
	} {
		_, err := ParseBootstrapPeer(s)
		assert.Error(t, err, s)
	}
}

func TestConfigureLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())
	defer logrus.SetFormatter(logrus.StandardLogger().Formatter)

	cfg := Default()
	cfg.Log = Log{Level: "warn", Format: "json"}
	require.NoError(t, cfg.ConfigureLogging())
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)
}

func TestKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "node.key")

	_, err := LoadKey(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	created, err := LoadOrGenerateKey(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(keyFilePerm), info.Mode().Perm())

	loaded, err := LoadOrGenerateKey(path)
	require.NoError(t, err)
	assert.Equal(t, created.PubKey(), loaded.PubKey())

	_, err = GenerateKey(path)
	assert.ErrorIs(t, err, ErrKeyExists)

	require.NoError(t, os.WriteFile(path, []byte("not hex"), 0o600))
	_, err = LoadKey(path)
	assert.ErrorIs(t, err, crypto.ErrInvalidPrivateKey)
}

func newNodeID(t *testing.T) lnwire.PubKey {
	t.Helper()
	kp, err := crypto.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	return kp.PubKey()
}
