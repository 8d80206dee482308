package main

import (
	"flag"
	"io"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("relayd", flag.ContinueOnError)
	cfg, err := parseConfig(fs, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %q", cfg.Addr)
	}
	if cfg.DBPath != "relay.db" {
		t.Errorf("expected default db path relay.db, got %q", cfg.DBPath)
	}
	if cfg.PollInterval != 50*time.Millisecond {
		t.Errorf("expected default poll interval 50ms, got %v", cfg.PollInterval)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", cfg.LogLevel)
	}
	if cfg.ConnRate != 60 {
		t.Errorf("expected default conn rate 60, got %d", cfg.ConnRate)
	}
	if cfg.RedisAddr != "" || cfg.Seed || len(cfg.AllowedOrigins) != 0 {
		t.Errorf("unexpected non-defaults in %+v", cfg)
	}
}

func TestParseConfigEnv(t *testing.T) {
	t.Setenv("RELAY_ADDR", ":9090")
	t.Setenv("RELAY_POLL_INTERVAL", "10ms")
	t.Setenv("RELAY_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	fs := flag.NewFlagSet("relayd", flag.ContinueOnError)
	cfg, err := parseConfig(fs, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("expected addr from env, got %q", cfg.Addr)
	}
	if cfg.PollInterval != 10*time.Millisecond {
		t.Errorf("expected poll interval from env, got %v", cfg.PollInterval)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://a.example" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestParseConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("RELAY_ADDR", ":9090")
	t.Setenv("RELAY_LOG_LEVEL", "debug")

	fs := flag.NewFlagSet("relayd", flag.ContinueOnError)
	cfg, err := parseConfig(fs, []string{"-addr", ":7070", "-seed"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":7070" {
		t.Errorf("expected flag to override env, got %q", cfg.Addr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected env value kept without a flag, got %q", cfg.LogLevel)
	}
	if !cfg.Seed {
		t.Error("expected seed flag set")
	}
}

func TestParseConfigBadFlag(t *testing.T) {
	fs := flag.NewFlagSet("relayd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, err := parseConfig(fs, []string{"-poll-interval", "soon"}); err == nil {
		t.Error("expected an error for a malformed duration")
	}
}
