package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "acescout.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = ":9000"
base_path = "/admin/api"

[store]
dsn = "postgres://user:pass@db:5432/acescout"

[engine]
url = "http://engine:6878"
proxy_url = "http://acexy:8080"

[scraper]
timeout = "30s"
retries = 5
parallelism = 3

[scheduler]
scrape_interval = "2h"
status_interval = "5m"

[activity]
retention_days = 0

[[sources]]
location = "https://lists.example.com/channels.html"

[[sources]]
location = "zero://1AcestreamList/"
kind = "zeronet"
enabled = false

[[epg_sources]]
name = "main guide"
url = "https://g.example/epg.xml.gz"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":9000" || cfg.Server.BasePath != "/admin/api" {
		t.Fatalf("server section: %+v", cfg.Server)
	}
	if cfg.Scraper.Retries != 5 || cfg.Scraper.Parallelism != 3 || cfg.Scraper.Timeout != 30*time.Second {
		t.Fatalf("scraper section: %+v", cfg.Scraper)
	}
	if cfg.Scheduler.ScrapeInterval != 2*time.Hour || cfg.Scheduler.StatusInterval != 5*time.Minute {
		t.Fatalf("scheduler section: %+v", cfg.Scheduler)
	}
	// defaults still fill unset knobs
	if cfg.Scheduler.EPGInterval != 12*time.Hour || cfg.Status.MaxInFlight != 10 {
		t.Fatalf("defaults not applied: %+v %+v", cfg.Scheduler, cfg.Status)
	}
	// explicit 0 is preserved, distinct from unset
	if cfg.Activity.RetentionDays == nil || *cfg.Activity.RetentionDays != 0 {
		t.Fatalf("retention_days: %+v", cfg.Activity.RetentionDays)
	}
	if cfg.Activity.EffectiveRetentionDays() != 0 {
		t.Fatalf("effective retention = %d, want 0", cfg.Activity.EffectiveRetentionDays())
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("sources: %+v", cfg.Sources)
	}
	if cfg.Sources[0].Kind != "direct" || !cfg.Sources[0].SourceEnabled() {
		t.Fatalf("first source defaults: %+v", cfg.Sources[0])
	}
	if cfg.Sources[1].SourceEnabled() {
		t.Fatalf("second source should be disabled: %+v", cfg.Sources[1])
	}
	if len(cfg.EPGSources) != 1 || !cfg.EPGSources[0].SourceEnabled() {
		t.Fatalf("epg sources: %+v", cfg.EPGSources)
	}
}

func TestDefaultRetentionIsSevenDays(t *testing.T) {
	cfg := Default()
	if cfg.Activity.RetentionDays != nil {
		t.Fatalf("unset retention should stay nil, got %v", *cfg.Activity.RetentionDays)
	}
	if cfg.Activity.EffectiveRetentionDays() != 7 {
		t.Fatalf("effective retention = %d, want 7", cfg.Activity.EffectiveRetentionDays())
	}
}

func TestValidateRejectsBadSources(t *testing.T) {
	path := writeConfig(t, `
[[sources]]
location = "https://a.example"
kind = "ftp"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown source kind to be rejected")
	}

	path = writeConfig(t, `
[[sources]]
location = "   "
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected empty location to be rejected")
	}

	path = writeConfig(t, `
[activity]
retention_days = -1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected negative retention to be rejected")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Listen != ":8000" || cfg.Store.DSN != "sqlite://acescout.db" {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.Server, cfg.Store)
	}
	if cfg.Engine.URL != "http://127.0.0.1:6878" || cfg.Zeronet.Gateway != "http://127.0.0.1:43110" {
		t.Fatalf("unexpected endpoints: %+v %+v", cfg.Engine, cfg.Zeronet)
	}
	if cfg.Scraper.Parallelism != 1 {
		t.Fatalf("default parallelism = %d, want 1", cfg.Scraper.Parallelism)
	}
}
