package fragcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fragcache.yml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadConfig(t *testing.T) {
	p := writeConfig(t, `
namespace: cms
defaultLifetime: 30m
sweepInterval: 12h
uncacheableMarker: pending-transform
`)
	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	var opts Options
	cfg.Apply(&opts)

	if opts.Namespace != "cms" {
		t.Fatalf("namespace: %q", opts.Namespace)
	}
	if opts.DefaultLifetime != 30*time.Minute {
		t.Fatalf("defaultLifetime: %v", opts.DefaultLifetime)
	}
	if opts.SweepInterval != 12*time.Hour {
		t.Fatalf("sweepInterval: %v", opts.SweepInterval)
	}
	if opts.UncacheableMarker != "pending-transform" {
		t.Fatalf("uncacheableMarker: %q", opts.UncacheableMarker)
	}
	if opts.Disabled {
		t.Fatalf("disabled must default to false")
	}
}

func TestLoadConfigBadDuration(t *testing.T) {
	p := writeConfig(t, "defaultLifetime: soon\n")
	if _, err := LoadConfig(p); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestConfigApplyLeavesUnsetAlone(t *testing.T) {
	opts := Options{Namespace: "keep", DefaultLifetime: time.Hour}
	(Config{}).Apply(&opts)
	if opts.Namespace != "keep" || opts.DefaultLifetime != time.Hour {
		t.Fatalf("empty config must not clobber options: %+v", opts)
	}
}
