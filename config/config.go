// Package config loads the daemon configuration from YAML.
//
// Load starts from Default, overlays the file and then validates the
// result, so a file only needs the keys it changes:
//
//	listen: 0.0.0.0:9735
//	chains: [mainnet, testnet]
//	bootstrap_peers:
//	  - 02a1...@203.0.113.7:9735
//	log:
//	  level: debug
//	  format: json
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/lnpeer/gossip"
	"github.com/opd-ai/lnpeer/lnwire"
	"github.com/opd-ai/lnpeer/peer"
)

// Defaults for keys missing from the file.
const (
	DefaultListen        = "0.0.0.0:9735"
	DefaultKeyFile       = "node.key"
	DefaultDataDir       = "data"
	DefaultDialTimeout   = 10 * time.Second
	DefaultFlushInterval = 30 * time.Second
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Log selects the logrus level and formatter.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Gossip controls initial synchronisation with peers that support gossip
// queries.
type Gossip struct {
	Sync        bool          `yaml:"sync"`
	SyncBacklog time.Duration `yaml:"sync_backlog"`
}

// Config is the daemon configuration.
type Config struct {
	Listen         string        `yaml:"listen"`
	KeyFile        string        `yaml:"key_file"`
	DataDir        string        `yaml:"data_dir"`
	Chains         []string      `yaml:"chains"`
	BootstrapPeers []string      `yaml:"bootstrap_peers,omitempty"`
	MetricsAddr    string        `yaml:"metrics_addr,omitempty"`
	Log            Log           `yaml:"log"`
	Gossip         Gossip        `yaml:"gossip"`
	MaxViolations  int           `yaml:"max_violations"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	FlushInterval  time.Duration `yaml:"flush_interval"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:           DefaultListen,
		KeyFile:          DefaultKeyFile,
		DataDir:          DefaultDataDir,
		Chains:           []string{string(lnwire.Mainnet)},
		Log:              Log{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Gossip:           Gossip{Sync: true, SyncBacklog: gossip.DefaultSyncBacklog},
		MaxViolations:    peer.DefaultMaxViolations,
		DialTimeout:      DefaultDialTimeout,
		FlushInterval:    DefaultFlushInterval,
		HandshakeTimeout: peer.DefaultHandshakeTimeout,
		PingInterval:     peer.DefaultPingInterval,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults restores defaults for keys the file set to zero values.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.KeyFile == "" {
		c.KeyFile = d.KeyFile
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if len(c.Chains) == 0 {
		c.Chains = d.Chains
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Gossip.SyncBacklog == 0 {
		c.Gossip.SyncBacklog = d.Gossip.SyncBacklog
	}
	if c.MaxViolations == 0 {
		c.MaxViolations = d.MaxViolations
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = d.PingInterval
	}
}

// Validate checks every field and reports the first problem.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("%w: listen %q: %v", ErrInvalid, c.Listen, err)
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return fmt.Errorf("%w: metrics_addr %q: %v", ErrInvalid, c.MetricsAddr, err)
		}
	}
	if _, err := c.ChainSet(); err != nil {
		return fmt.Errorf("%w: chains: %v", ErrInvalid, err)
	}
	if _, err := c.Bootstrap(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("%w: log.format %q is not text or json", ErrInvalid, c.Log.Format)
	}
	if c.MaxViolations < 0 {
		return fmt.Errorf("%w: max_violations must be >= 0", ErrInvalid)
	}

	for name, d := range map[string]time.Duration{
		"dial_timeout":        c.DialTimeout,
		"flush_interval":      c.FlushInterval,
		"handshake_timeout":   c.HandshakeTimeout,
		"ping_interval":       c.PingInterval,
		"gossip.sync_backlog": c.Gossip.SyncBacklog,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s must be >= 0", ErrInvalid, name)
		}
	}
	return nil
}

// ChainSet resolves the configured chain names.
func (c *Config) ChainSet() (lnwire.ChainSet, error) {
	names := make([]lnwire.SupportedChain, 0, len(c.Chains))
	for _, name := range c.Chains {
		chain, err := lnwire.ParseChain(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		names = append(names, chain)
	}
	return lnwire.NewChainSet(names...)
}

// Bootstrap parses the bootstrap peer list.
func (c *Config) Bootstrap() ([]BootstrapPeer, error) {
	out := make([]BootstrapPeer, 0, len(c.BootstrapPeers))
	for i, s := range c.BootstrapPeers {
		bp, err := ParseBootstrapPeer(s)
		if err != nil {
			return nil, fmt.Errorf("bootstrap_peers[%d]: %w", i, err)
		}
		out = append(out, bp)
	}
	return out, nil
}

// ConfigureLogging applies the log section to the standard logrus logger.
func (c *Config) ConfigureLogging() error {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	switch c.Log.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// Save writes c as YAML.
func Save(path string, c *Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	encoded, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFileAtomic(path, encoded, 0o600)
}
