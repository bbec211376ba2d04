package config

import (
	"strings"
	"testing"
)

type envTestConfig struct {
	PortBase int `env:"PORT_BASE" envDefault:"8452"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg struct {
		Port int `env:"ZK_LOBBY_TEST_PORT" envDefault:"123"`
	}
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg struct {
		Port int `env:"ZK_LOBBY_TEST_PORT"`
	}
	t.Setenv("ZK_LOBBY_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseEnvPrefixed(t *testing.T) {
	t.Setenv("ZK_LOBBY_EU_PORT_BASE", "9000")

	var cfg envTestConfig
	if err := ParseEnvPrefixed(&cfg, "ZK_LOBBY_EU_"); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.PortBase != 9000 {
		t.Fatalf("port base = %d, want 9000", cfg.PortBase)
	}

	var fallback envTestConfig
	if err := ParseEnvPrefixed(&fallback, "ZK_LOBBY_US_"); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if fallback.PortBase != 8452 {
		t.Fatalf("port base = %d, want default 8452", fallback.PortBase)
	}
}
