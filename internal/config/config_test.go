package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// chdir is t.Chdir for pre-1.24 toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
  dsn: "postgres://localhost/newswire?sslmode=disable"
api:
  port: 9090
ingest:
  rate_per_second: 5
  session_refresh: 30m
sources:
  - name: cls
    kind: cls
    feed_url: https://www.cls.cn
    cadence: 45s
    enabled: true
  - name: macro-rss
    kind: rss
    feed_url: https://example.com/feed.xml
    cadence: 10m
    enabled: false
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Database.Driver != "postgres" {
		t.Errorf("Driver = %q", cfg.Database.Driver)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("Port = %d", cfg.API.Port)
	}
	if cfg.Ingest.RatePerSecond != 5 {
		t.Errorf("RatePerSecond = %d", cfg.Ingest.RatePerSecond)
	}
	if cfg.Ingest.SessionRefresh != 30*time.Minute {
		t.Errorf("SessionRefresh = %v", cfg.Ingest.SessionRefresh)
	}

	if len(cfg.Sources) != 2 {
		t.Fatalf("got %d sources, want 2", len(cfg.Sources))
	}
	cls := cfg.Sources[0]
	if cls.Cadence != 45*time.Second || !cls.Enabled {
		t.Errorf("cls source = %+v", cls)
	}
	// Omitted per-source fields pick up defaults.
	if cls.MaxRetries != 3 || cls.BatchSize != 50 || cls.Timeout != 10*time.Second {
		t.Errorf("cls defaults not applied: %+v", cls)
	}
	if cfg.Sources[1].Enabled {
		t.Error("disabled source must stay disabled")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing explicit config file must fail")
	}
}

func TestLoadDefaults(t *testing.T) {
	// No config file anywhere near a temp working directory.
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("default Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("default Port = %d, want 8080", cfg.API.Port)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("got %d default sources, want cls and xueqiu", len(cfg.Sources))
	}
	if cfg.Sources[0].Cadence != 60*time.Second {
		t.Errorf("cls default cadence = %v, want 60s", cfg.Sources[0].Cadence)
	}
	if cfg.Sources[1].Cadence != 120*time.Second {
		t.Errorf("xueqiu default cadence = %v, want 120s", cfg.Sources[1].Cadence)
	}
}

func TestEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("NEWSWIRE_DATABASE_DSN", "/var/lib/newswire/news.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "/var/lib/newswire/news.db" {
		t.Errorf("DSN = %q, want env override", cfg.Database.DSN)
	}
}
