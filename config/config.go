package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config captures the daemon-level settings loaded from TOML.
type Config struct {
	DataDir        string `toml:"DataDir"`
	ListenAddress  string `toml:"ListenAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	LogFile        string `toml:"LogFile"`
	LogMaxSizeMB   int    `toml:"LogMaxSizeMB"`
	LogMaxBackups  int    `toml:"LogMaxBackups"`

	// ProgramAddress is the bech32 program identity that seeds every
	// authority derivation. Empty selects a deterministic default.
	ProgramAddress string `toml:"ProgramAddress"`

	// NativeBalances credits native funding balances once, on first start
	// against an empty database. Keys are bech32 addresses.
	NativeBalances map[string]uint64 `toml:"NativeBalances"`

	Policy Policy `toml:"policy"`
}

// Load loads the configuration from the given path, writing a default file on
// first run.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown key %s", path, undecoded[0])
	}

	applyDefaults(cfg)
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "./aprvault-data"
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "127.0.0.1:8645"
	}
	if cfg.MetricsAddress == "" {
		cfg.MetricsAddress = "127.0.0.1:9464"
	}
	if cfg.LogMaxSizeMB == 0 {
		cfg.LogMaxSizeMB = 100
	}
	if cfg.LogMaxBackups == 0 {
		cfg.LogMaxBackups = 3
	}
	cfg.Policy.applyDefaults()
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
