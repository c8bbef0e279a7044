package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("DATABASE_URL", "postgres://localhost/tgscan")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HealthAddr != ":3000" {
		t.Fatalf("expected default health addr :3000, got %q", cfg.HealthAddr)
	}
	if cfg.ProbeSleepMin != time.Second || cfg.ProbeSleepMax != 2500*time.Millisecond {
		t.Fatalf("unexpected probe sleep defaults: %v..%v", cfg.ProbeSleepMin, cfg.ProbeSleepMax)
	}
	if got := cfg.Prefixes(); len(got) != 2 || got[0] != "38" || got[1] != "7" {
		t.Fatalf("unexpected default prefixes: %v", got)
	}
	if cfg.OTELEnabled() {
		t.Fatal("expected OTLP export disabled by default")
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "TELEGRAM_BOT_TOKEN") || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected both required fields reported, got %v", err)
	}
}

func TestLoadRejectsInvertedSleepBounds(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("DATABASE_URL", "postgres://localhost/tgscan")
	t.Setenv("PROBE_SLEEP_MIN", "5s")
	t.Setenv("PROBE_SLEEP_MAX", "1s")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for min > max")
	}
}
