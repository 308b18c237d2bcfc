// Package config loads the demo imapd binary's process configuration from
// a TOML file, following the same load-defaults-then-decode-file pattern
// swerter-sora uses for its own server config.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for the demo imapd binary.
type Config struct {
	// ListenAddr is the address the IMAP server listens on.
	ListenAddr string `toml:"listen_addr"`

	// InsecureAuth allows LOGIN/AUTHENTICATE over a plaintext connection.
	// The reference in-memory backend has no real secrets behind it, but
	// the flag still exists so the demo binary exercises the same
	// production guard a real deployment would rely on.
	InsecureAuth bool `toml:"insecure_auth"`

	// GreetingText is sent in the server's initial untagged OK greeting.
	GreetingText string `toml:"greeting_text"`

	TLS TLSConfig `toml:"tls"`

	// Principal is the single demo user seeded into the in-memory
	// mailstore at startup.
	Principal PrincipalConfig `toml:"principal"`

	// MetricsAddr is the address the Prometheus /metrics endpoint listens
	// on. Empty disables the metrics server.
	MetricsAddr string `toml:"metrics_addr"`

	// IdleTimeout, a Go duration string (e.g. "30m"), is the limit the
	// demo binary's timeout middleware puts on the run time of every
	// command, IDLE included.
	IdleTimeout string `toml:"idle_timeout"`
}

// TLSConfig holds the paths to an optional TLS certificate/key pair. The
// demo binary uses it for STARTTLS only; it starts no implicit-TLS listener.
type TLSConfig struct {
	Enable   bool   `toml:"enable"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// PrincipalConfig is the single demo credential the in-memory backend
// accepts; spec.md §6 models the credential callback as one delegated
// check, not a user directory.
type PrincipalConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Default returns a Config with the values the demo binary falls back to
// when no TOML file is present.
func Default() *Config {
	return &Config{
		ListenAddr:   ":1143",
		GreetingText: "imapd ready",
		Principal: PrincipalConfig{
			Username: "demo",
			Password: "demo",
		},
		MetricsAddr: ":9143",
		IdleTimeout: "30m",
	}
}

// Load reads cfg from path, starting from Default() and overriding any
// field the file sets. A missing file at path is not an error: the
// defaults are returned as-is, so the demo binary can run with zero
// configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}

	return cfg, nil
}

// GetIdleTimeout parses IdleTimeout as a time.Duration.
func (c *Config) GetIdleTimeout() (time.Duration, error) {
	if c.IdleTimeout == "" {
		return 30 * time.Minute, nil
	}
	d, err := time.ParseDuration(c.IdleTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: invalid idle_timeout %q: %w", c.IdleTimeout, err)
	}
	return d, nil
}
