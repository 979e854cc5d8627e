package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnpeer/crypto"
)

const (
	directoryPerm = 0o700
	keyFilePerm   = 0o600
)

// ErrKeyExists is returned by GenerateKey when the file is already there.
var ErrKeyExists = errors.New("key file already exists")

// LoadKey reads a hex encoded node key.
func LoadKey(path string) (*crypto.KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	defer crypto.ZeroBytes(raw)

	kp, err := crypto.ParsePrivateKeyHex(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", path, err)
	}
	return kp, nil
}

// GenerateKey creates a fresh node key at path. It refuses to overwrite an
// existing file.
func GenerateKey(path string) (*crypto.KeyPair, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyExists, path)
	}

	kp, err := crypto.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(path, []byte(kp.SecretHex()+"\n"), keyFilePerm); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "GenerateKey",
		"package":  "config",
		"path":     path,
		"node_id":  kp.PubKey().String(),
	}).Info("Generated node key")
	return kp, nil
}

// LoadOrGenerateKey loads path, creating the key on first start.
func LoadOrGenerateKey(path string) (*crypto.KeyPair, error) {
	kp, err := LoadKey(path)
	if errors.Is(err, os.ErrNotExist) {
		return GenerateKey(path)
	}
	return kp, err
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPerm); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	if err := renameio.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
