package lobby

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("lobby", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8200" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.GRPCPort != 8201 {
		t.Fatalf("expected default grpc port, got %d", cfg.GRPCPort)
	}
	if cfg.PortBase != 8452 {
		t.Fatalf("expected default port base, got %d", cfg.PortBase)
	}
	if cfg.DefaultGame != "zk:stable" {
		t.Fatalf("expected default game, got %q", cfg.DefaultGame)
	}
	if cfg.MaxBattlePlayers != 32 {
		t.Fatalf("expected default max battle players, got %d", cfg.MaxBattlePlayers)
	}
	if cfg.HostingIP != "" {
		t.Fatalf("expected hosting ip to be resolved at startup, got %q", cfg.HostingIP)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("ZK_LOBBY_HTTP_ADDR", "env-http")
	t.Setenv("ZK_LOBBY_DB_PATH", "env.db")
	t.Setenv("ZK_LOBBY_AUTOHOSTS", "2")

	fs := flag.NewFlagSet("lobby", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-http",
		"-grpc-port", "9301",
		"-engine", "105.1.1",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-http" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.DBPath != "env.db" {
		t.Fatalf("expected env db path, got %q", cfg.DBPath)
	}
	if cfg.Autohosts != 2 {
		t.Fatalf("expected env autohosts, got %d", cfg.Autohosts)
	}
	if cfg.DefaultEngine != "105.1.1" {
		t.Fatalf("expected flag engine, got %q", cfg.DefaultEngine)
	}

	sc := cfg.ServerConfig()
	if sc.GRPCAddr != ":9301" {
		t.Fatalf("expected grpc addr from port, got %q", sc.GRPCAddr)
	}
	if sc.Logf == nil {
		t.Fatal("expected server logger")
	}
}

func TestParseConfigRejectsBadPort(t *testing.T) {
	fs := flag.NewFlagSet("lobby", flag.ContinueOnError)
	if _, err := ParseConfig(fs, []string{"-grpc-port", "0"}); err == nil {
		t.Fatal("expected out-of-range grpc port to be rejected")
	}
}
