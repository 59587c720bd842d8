package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Policy.TicketPrice != 1_000_000 {
		t.Fatalf("unexpected default ticket price: %d", cfg.Policy.TicketPrice)
	}
	if cfg.Policy.StakeLockSeconds != 86_400 {
		t.Fatalf("unexpected default stake lock: %d", cfg.Policy.StakeLockSeconds)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file not written: %v", err)
	}

	// Reloading the written file round-trips.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Policy != cfg.Policy {
		t.Fatalf("policy did not round-trip: %+v vs %+v", reloaded.Policy, cfg.Policy)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("LegacySetting = true\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestPolicyValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Policy)
		wantErr bool
	}{
		{"defaults", func(*Policy) {}, false},
		{"duplicate seeds", func(p *Policy) { p.MintSeed = p.TreasurySeed }, true},
		{"zero ticket price", func(p *Policy) { p.TicketPrice = 0 }, true},
		{"zero max supply", func(p *Policy) { p.MaxSupply = 0 }, true},
		{"negative lock", func(p *Policy) { p.StakeLockSeconds = -1 }, true},
		{"zero queue cap", func(p *Policy) { p.MaxTicketEntries = 0 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Default()
			tc.mutate(&p)
			err := p.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
