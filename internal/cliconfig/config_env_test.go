package cliconfig

import (
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	t.Setenv("ROOTCKPT_PREFIX", "env-run")
	t.Setenv("ROOTCKPT_RANK", "3")
	t.Setenv("ROOTCKPT_LOG_LEVEL", "warn")
	t.Setenv("ROOTCKPT_DEBOUNCE", "1s")

	cfg := DefaultConfig()
	if err := ApplyEnvConfig(&cfg, map[string]bool{}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Prefix != "env-run" || cfg.Rank != 3 || cfg.LogLevel != "warn" || cfg.Debounce != time.Second {
		t.Fatalf("applied config = %+v", cfg)
	}
}

func TestApplyEnvConfigRespectsFlags(t *testing.T) {
	t.Setenv("ROOTCKPT_PREFIX", "env-run")

	cfg := DefaultConfig()
	cfg.Prefix = "flag-run"
	if err := ApplyEnvConfig(&cfg, map[string]bool{"prefix": true}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Prefix != "flag-run" {
		t.Fatalf("explicit flag overridden: prefix = %q", cfg.Prefix)
	}
}

func TestApplyEnvConfigBadRank(t *testing.T) {
	t.Setenv("ROOTCKPT_RANK", "many")

	cfg := DefaultConfig()
	if err := ApplyEnvConfig(&cfg, map[string]bool{}); err == nil {
		t.Fatal("expected parse error for non-numeric rank")
	}
}
