package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() config fails validation: %v", err)
	}
	if len(cfg.Currencies) == 0 || len(cfg.Pairs) == 0 {
		t.Error("Default() config has no currencies or pairs")
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Network.ListenAddr != Default().Network.ListenAddr {
		t.Error("Load() with a missing file did not fall back to Default()")
	}
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
network:
  listen_addr: "0.0.0.0:9999"
storage:
  data_dir: "/tmp/exchange-data"
logging:
  level: "debug"
currencies: ["USD", "RUB", "EUR"]
pairs: ["USD/RUB", "EUR/RUB"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Network.ListenAddr != "0.0.0.0:9999" {
		t.Errorf("ListenAddr = %s, want 0.0.0.0:9999", cfg.Network.ListenAddr)
	}
	if len(cfg.Pairs) != 2 {
		t.Errorf("Pairs = %v, want 2 entries", cfg.Pairs)
	}
}

func TestValidateRejectsUnsupportedCurrencyInPair(t *testing.T) {
	cfg := &Config{
		Currencies: []string{"USD"},
		Pairs:      []string{"USD/RUB"},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() did not reject a pair referencing an unsupported currency")
	}
}

func TestExpandDataDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	cfg := &Config{Storage: StorageConfig{DataDir: "~/.exchanged-test"}}
	expanded, err := cfg.ExpandDataDir()
	if err != nil {
		t.Fatalf("ExpandDataDir() error = %v", err)
	}
	want := filepath.Join(home, ".exchanged-test")
	if expanded != want {
		t.Errorf("ExpandDataDir() = %s, want %s", expanded, want)
	}
}
