package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/lnpeer/lnwire"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestKeygenThenNodeID(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "node.key")

	created, err := execute(t, "keygen", "--key-file", keyFile)
	require.NoError(t, err)
	id, err := lnwire.ParsePubKeyHex(strings.TrimSpace(created))
	require.NoError(t, err)

	printed, err := execute(t, "nodeid", "--key-file", keyFile)
	require.NoError(t, err)
	assert.Equal(t, id.String(), strings.TrimSpace(printed))

	_, err = execute(t, "keygen", "--key-file", keyFile)
	assert.Error(t, err, "keygen must not overwrite a key")
}

func TestKeyFileFromConfig(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "from-config.key")
	cfgFile := filepath.Join(dir, "lnpeer.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("key_file: "+keyFile+"\n"), 0o600))

	_, err := execute(t, "--config", cfgFile, "keygen")
	require.NoError(t, err)
	_, err = os.Stat(keyFile)
	assert.NoError(t, err)
}

func TestRunFlagOverrides(t *testing.T) {
	cmd := newRootCmd()
	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	require.NoError(t, run.ParseFlags([]string{
		"--listen", "127.0.0.1:19735",
		"--chain", "testnet,signet",
		"--log-format", "json",
		"--no-sync",
	}))

	cfg, err := loadConfig(run)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:19735", cfg.Listen)
	assert.Equal(t, []string{"testnet", "signet"}, cfg.Chains)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Gossip.Sync)

	require.NoError(t, run.ParseFlags([]string{"--chain", "bitcoin-cash"}))
	_, err = loadConfig(run)
	assert.Error(t, err)
}

func TestNodeIDMissingKey(t *testing.T) {
	_, err := execute(t, "nodeid", "--key-file", filepath.Join(t.TempDir(), "absent.key"))
	assert.Error(t, err)
}
