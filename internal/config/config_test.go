package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"classwatch/pkg/logx"
)

const validYAML = `
telegram:
  token: "123:abc"
  rate_per_sec: 10
logging:
  level: debug
  console: true
storage:
  path: ./data/classwatch.db
upstream:
  base_url: https://zdrofit.example.com
  timezone: Europe/Warsaw
  clubs:
    7:
      name: Zdrofit Centrum
    12:
      name: Zdrofit Mokotow
      timezone: Europe/Warsaw
monitor:
  cycle_spec: "@every 30m"
  lookahead: 168h
catalog:
  refresh_spec: "@every 12h"
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidYAML(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", validYAML), logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if got := cfg.Upstream.Clubs["7"].Name; got != "Zdrofit Centrum" {
		t.Fatalf("integer yaml map key lost: %+v", cfg.Upstream.Clubs)
	}
	if m.Get() != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	t.Parallel()

	m := NewManager(writeConfig(t, "config.yaml", validYAML+"\nbooking: true\n"), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("unknown top-level field must be rejected")
	}
}

func TestValidateCatchesMissingEssentials(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no token", func(c *Config) { c.Telegram.Token = " " }},
		{"no storage path", func(c *Config) { c.Storage.Path = "" }},
		{"no base url", func(c *Config) { c.Upstream.BaseURL = "" }},
		{"bad timezone", func(c *Config) { c.Upstream.Timezone = "Mars/Olympus" }},
		{"bad club key", func(c *Config) { c.Upstream.Clubs = map[string]ClubConfig{"center": {}} }},
		{"bad duration", func(c *Config) { c.Monitor.Lookahead = "one week" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(writeConfig(t, "config.yaml", validYAML), logx.Nop())
			cfg, err := m.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateCatalogRefreshSlowerThanCycle(t *testing.T) {
	t.Parallel()

	load := func(t *testing.T) *Config {
		t.Helper()
		m := NewManager(writeConfig(t, "config.yaml", validYAML), logx.Nop())
		cfg, err := m.Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	cfg := load(t)
	cfg.Catalog.RefreshSpec = "@every 15m" // faster than the 30m cycle
	if err := cfg.Validate(); err == nil {
		t.Fatal("refresh faster than the cycle must be rejected")
	}

	cfg = load(t)
	cfg.Catalog.RefreshSpec = "@every 30m" // equal is still too fast
	if err := cfg.Validate(); err == nil {
		t.Fatal("refresh equal to the cycle must be rejected")
	}

	// Fixed-clock cron forms carry no comparable interval; the check stands
	// aside rather than guessing.
	cfg = load(t)
	cfg.Monitor.CycleSpec = "0 * * * *"
	cfg.Catalog.RefreshSpec = "@every 1m"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("cron-form cycle must skip the cadence check: %v", err)
	}

	// Empty specs fall back to the defaults, which satisfy the invariant.
	cfg = load(t)
	cfg.Monitor.CycleSpec = ""
	cfg.Catalog.RefreshSpec = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default cadence must validate: %v", err)
	}
}

func TestWatchPublishesValidatedReload(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.yaml", validYAML)
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher a moment to attach before writing.
	time.Sleep(300 * time.Millisecond)
	if err := os.WriteFile(path, []byte(strings.Replace(validYAML, "lookahead: 168h", "lookahead: 72h", 1)), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Monitor.Lookahead != "72h" {
			t.Fatalf("subscriber got stale config: %q", cfg.Monitor.Lookahead)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload never published")
	}

	// A broken rewrite must not dethrone the committed config.
	if err := os.WriteFile(path, []byte("telegram: {token: }"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	time.Sleep(time.Second)
	if got := m.Get().Monitor.Lookahead; got != "72h" {
		t.Fatalf("invalid reload replaced committed config: %q", got)
	}
}

func TestDurationOrDefault(t *testing.T) {
	t.Parallel()

	if got := DurationOrDefault("x", "", 5*time.Second); got != 5*time.Second {
		t.Fatalf("empty = %v", got)
	}
	if got := DurationOrDefault("x", "2m", 5*time.Second); got != 2*time.Minute {
		t.Fatalf("explicit = %v", got)
	}
	if got := DurationOrDefault("x", "junk", 5*time.Second); got != 5*time.Second {
		t.Fatalf("junk = %v", got)
	}
}
