package gateway

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "localhost:10999" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.DBPath != "gateway.db" {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.MaxPayload != 0 {
		t.Fatalf("expected zero max payload, got %d", cfg.MaxPayload)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("HOLLOWGATE_ADDR", "env-addr")
	t.Setenv("HOLLOWGATE_SESSION_KEY", "env-key")

	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	args := []string{"-addr", "flag-addr", "-max-payload", "8192"}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "flag-addr" {
		t.Fatalf("expected flag addr, got %q", cfg.Addr)
	}
	if cfg.SessionKey != "env-key" {
		t.Fatalf("expected env session key, got %q", cfg.SessionKey)
	}
	if cfg.MaxPayload != 8192 {
		t.Fatalf("expected max payload 8192, got %d", cfg.MaxPayload)
	}
}
