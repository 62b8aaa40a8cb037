// Package config loads daemon and client settings from a TOML file.
//
// A config file is optional: commands start from Default and overlay the
// file, then CLI flags overlay both. Unknown keys are rejected so a typo
// like "ack_timout" fails loudly instead of silently keeping the default.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mokkunsuzuki-code/stage106/internal/constants"
)

// Duration wraps time.Duration so TOML values can be written in the
// human form accepted by time.ParseDuration, e.g. "500ms" or "10s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full configuration tree for the qschat binary.
type Config struct {
	Network NetworkConfig `toml:"network"`
	Keys    KeysConfig    `toml:"keys"`
	Session SessionConfig `toml:"session"`
	Log     LogConfig     `toml:"log"`
}

// NetworkConfig holds the transport endpoints.
type NetworkConfig struct {
	// ListenAddr is the address the server binds (serve command).
	ListenAddr string `toml:"listen_addr"`
	// DialAddr is the server address a client connects to (connect command).
	DialAddr string `toml:"dial_addr"`
	// MetricsAddr, when non-empty, serves Prometheus metrics at /metrics.
	MetricsAddr string `toml:"metrics_addr"`
}

// KeysConfig holds paths to key material on disk. The QKD key is required
// by both serve and connect; the signer paths are optional and enable
// transcript signing when present.
type KeysConfig struct {
	QKDKeyPath       string `toml:"qkd_key_path"`
	SignerSecretPath string `toml:"signer_secret_path"`
	SignerPublicPath string `toml:"signer_public_path"`
	// PeerPublicPath is the peer's public key used to verify its
	// handshake signature.
	PeerPublicPath string `toml:"peer_public_path"`
}

// SessionConfig holds the per-session protocol knobs.
type SessionConfig struct {
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	AckTimeout       Duration `toml:"ack_timeout"`
	// MaxRetries bounds DATA retransmissions. Negative disables
	// retransmission entirely.
	MaxRetries int `toml:"max_retries"`
	// HeartbeatInterval is the client keepalive period. Zero disables
	// periodic heartbeats; /ping still works.
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
}

// LogConfig controls log verbosity and encoding.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error, silent
	Format string `toml:"format"` // text or json
}

// Default returns the configuration used when no file or flags are given.
func Default() *Config {
	return &Config{
		Network: NetworkConfig{
			ListenAddr: "127.0.0.1:7600",
			DialAddr:   "127.0.0.1:7600",
		},
		Session: SessionConfig{
			HandshakeTimeout:  Duration{constants.DefaultHandshakeTimeout},
			AckTimeout:        Duration{constants.DefaultAckTimeout},
			MaxRetries:        constants.DefaultMaxRetries,
			HeartbeatInterval: Duration{constants.DefaultHeartbeatInterval},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the TOML file at path on top of Default and validates the
// result. Keys not understood by this version are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config: unknown keys in %s: %s",
			path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks intrinsic validity. Presence requirements that depend
// on the command (serve needs listen_addr, connect needs dial_addr and a
// QKD key) are enforced by the commands themselves.
func (c *Config) Validate() error {
	if c.Session.HandshakeTimeout.Duration <= 0 {
		return fmt.Errorf("session.handshake_timeout must be positive, got %s",
			c.Session.HandshakeTimeout)
	}
	if c.Session.AckTimeout.Duration <= 0 {
		return fmt.Errorf("session.ack_timeout must be positive, got %s",
			c.Session.AckTimeout)
	}
	if c.Session.HeartbeatInterval.Duration < 0 {
		return fmt.Errorf("session.heartbeat_interval must not be negative, got %s",
			c.Session.HeartbeatInterval)
	}
	if !validLogLevel(c.Log.Level) {
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error, silent",
			c.Log.Level)
	}
	if !validLogFormat(c.Log.Format) {
		return fmt.Errorf("log.format %q is not one of text, json", c.Log.Format)
	}
	if (c.Keys.SignerPublicPath == "") != (c.Keys.SignerSecretPath == "") {
		return fmt.Errorf("keys.signer_public_path and keys.signer_secret_path must be set together")
	}
	return nil
}

func validLogLevel(s string) bool {
	switch strings.ToLower(s) {
	case "debug", "info", "warn", "warning", "error", "silent", "off", "none":
		return true
	}
	return false
}

func validLogFormat(s string) bool {
	switch strings.ToLower(s) {
	case "text", "json":
		return true
	}
	return false
}
