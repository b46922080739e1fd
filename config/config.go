package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"paylock/crypto"
)

// Config carries the daemon's startup parameters.
type Config struct {
	RPCAddress     string   `toml:"RPCAddress"`
	MetricsAddress string   `toml:"MetricsAddress"`
	DataDir        string   `toml:"DataDir"`
	Arbitrator     string   `toml:"Arbitrator"`
	Tokens         []string `toml:"Tokens"`
	Environment    string   `toml:"Environment"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8645"
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = ":9464"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if c.Tokens == nil {
		c.Tokens = []string{}
	}
}

// Validate checks that the configuration can actually boot a daemon.
func (c *Config) Validate() error {
	arbitrator := strings.TrimSpace(c.Arbitrator)
	if arbitrator == "" {
		return fmt.Errorf("config: Arbitrator address required")
	}
	if _, err := crypto.DecodeAddress(arbitrator); err != nil {
		return fmt.Errorf("config: invalid Arbitrator address: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Tokens))
	for _, symbol := range c.Tokens {
		trimmed := strings.ToUpper(strings.TrimSpace(symbol))
		if trimmed == "" {
			return fmt.Errorf("config: empty token symbol")
		}
		if _, ok := seen[trimmed]; ok {
			return fmt.Errorf("config: duplicate token symbol %q", trimmed)
		}
		seen[trimmed] = struct{}{}
	}
	return nil
}

// ArbitratorAddress returns the parsed arbitrator principal.
func (c *Config) ArbitratorAddress() ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(c.Arbitrator))
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("config: generate arbitrator key: %w", err)
	}
	cfg := &Config{Arbitrator: key.PubKey().Address().String()}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
