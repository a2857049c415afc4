// Package config defines the exchange server's YAML configuration and the
// currency/pair universe it trades.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoggingConfig is the config file's logging section. The server binary
// takes its log level from the --log-level flag and does not read it.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// StorageConfig points at the SQLite data directory.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// NetworkConfig controls the TCP listener and optional metrics endpoint.
type NetworkConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// Config is the exchange server's full configuration.
type Config struct {
	Network NetworkConfig `yaml:"network"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`

	// Currencies is the set of currency codes the exchange issues wallets
	// for. Pairs lists "BASE/QUOTE" strings; every symbol named in a pair
	// must also appear in Currencies. The dispatcher does not consult Pairs:
	// it accepts an order for any "BASE/QUOTE" whose two codes are both in
	// Currencies.
	Currencies []string `yaml:"currencies"`
	Pairs      []string `yaml:"pairs"`
}

// Default returns the built-in configuration used when no config file is
// present: a single USD/RUB market, matching the test fixtures.
func Default() *Config {
	return &Config{
		Network: NetworkConfig{ListenAddr: "0.0.0.0:5555"},
		Storage: StorageConfig{DataDir: "~/.exchanged"},
		Logging: LoggingConfig{Level: "info"},
		Currencies: []string{"RUB", "USD"},
		Pairs:      []string{"USD/RUB"},
	}
}

// Load reads and parses a YAML config file at path, falling back to Default
// when path is empty or does not exist.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every pair references currencies the exchange
// actually issues wallets for.
func (c *Config) Validate() error {
	supported := make(map[string]bool, len(c.Currencies))
	for _, cur := range c.Currencies {
		supported[cur] = true
	}
	for _, pair := range c.Pairs {
		parts := strings.SplitN(pair, "/", 2)
		if len(parts) != 2 || !supported[parts[0]] || !supported[parts[1]] {
			return fmt.Errorf("config: pair %q references an unsupported currency", pair)
		}
	}
	return nil
}

// ExpandDataDir resolves a leading "~" in the storage data directory against
// the user's home directory.
func (c *Config) ExpandDataDir() (string, error) {
	dir := c.Storage.DataDir
	if !strings.HasPrefix(dir, "~") {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(dir, "~")), nil
}
