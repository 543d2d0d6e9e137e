package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/acescout/acescout/internal/store"
)

// Config is the top-level TOML structure consumed by cmd/acescout and the
// embedding facade. Durations accept Go duration strings ("15m", "6h").
type Config struct {
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	Store     StoreConfig     `toml:"store" mapstructure:"store"`
	Log       LogConfig       `toml:"log" mapstructure:"log"`
	Engine    EngineConfig    `toml:"engine" mapstructure:"engine"`
	Zeronet   ZeronetConfig   `toml:"zeronet" mapstructure:"zeronet"`
	Scraper   ScraperConfig   `toml:"scraper" mapstructure:"scraper"`
	Status    StatusConfig    `toml:"status" mapstructure:"status"`
	Scheduler SchedulerConfig `toml:"scheduler" mapstructure:"scheduler"`
	Activity  ActivityConfig  `toml:"activity" mapstructure:"activity"`

	Sources    []SourceConfig    `toml:"sources" mapstructure:"sources"`
	EPGSources []EPGSourceConfig `toml:"epg_sources" mapstructure:"epg_sources"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	Path       string `toml:"path" mapstructure:"path"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type EngineConfig struct {
	URL      string        `toml:"url" mapstructure:"url"`
	ProxyURL string        `toml:"proxy_url" mapstructure:"proxy_url"`
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type ZeronetConfig struct {
	Gateway string        `toml:"gateway" mapstructure:"gateway"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type ScraperConfig struct {
	Timeout     time.Duration `toml:"timeout" mapstructure:"timeout"`
	Retries     int           `toml:"retries" mapstructure:"retries"`
	Parallelism int           `toml:"parallelism" mapstructure:"parallelism"`
}

type StatusConfig struct {
	MaxInFlight int           `toml:"max_in_flight" mapstructure:"max_in_flight"`
	Timeout     time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type SchedulerConfig struct {
	ScrapeInterval time.Duration `toml:"scrape_interval" mapstructure:"scrape_interval"`
	StatusInterval time.Duration `toml:"status_interval" mapstructure:"status_interval"`
	EPGInterval    time.Duration `toml:"epg_interval" mapstructure:"epg_interval"`
	PurgeInterval  time.Duration `toml:"purge_interval" mapstructure:"purge_interval"`
	GraceTimeout   time.Duration `toml:"grace_timeout" mapstructure:"grace_timeout"`
}

type ActivityConfig struct {
	// RetentionDays left unset means 7; an explicit 0 keeps only the
	// current calendar day.
	RetentionDays   *int   `toml:"retention_days" mapstructure:"retention_days"`
	ClickHouseAddr  string `toml:"clickhouse_addr" mapstructure:"clickhouse_addr"`
	ClickHouseTable string `toml:"clickhouse_table" mapstructure:"clickhouse_table"`
}

// EffectiveRetentionDays resolves the retention window default.
func (a ActivityConfig) EffectiveRetentionDays() int {
	if a.RetentionDays == nil {
		return 7
	}
	return *a.RetentionDays
}

type SourceConfig struct {
	Location string `toml:"location" mapstructure:"location"`
	Kind     string `toml:"kind" mapstructure:"kind"`
	Enabled  *bool  `toml:"enabled" mapstructure:"enabled"`
}

type EPGSourceConfig struct {
	Name    string `toml:"name" mapstructure:"name"`
	URL     string `toml:"url" mapstructure:"url"`
	Enabled *bool  `toml:"enabled" mapstructure:"enabled"`
}

// Load reads and validates a TOML config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns a config with every knob at its default, suitable for
// embedding without a config file.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8000"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/api"
	}
	if c.Store.DSN == "" {
		c.Store.DSN = "sqlite://acescout.db"
	}
	if c.Engine.URL == "" {
		c.Engine.URL = "http://127.0.0.1:6878"
	}
	if c.Engine.Timeout <= 0 {
		c.Engine.Timeout = 10 * time.Second
	}
	if c.Zeronet.Gateway == "" {
		c.Zeronet.Gateway = "http://127.0.0.1:43110"
	}
	if c.Zeronet.Timeout <= 0 {
		c.Zeronet.Timeout = 20 * time.Second
	}
	if c.Scraper.Timeout <= 0 {
		c.Scraper.Timeout = 20 * time.Second
	}
	if c.Scraper.Retries <= 0 {
		c.Scraper.Retries = 3
	}
	if c.Scraper.Parallelism <= 0 {
		c.Scraper.Parallelism = 1
	}
	if c.Status.MaxInFlight <= 0 {
		c.Status.MaxInFlight = 10
	}
	if c.Status.Timeout <= 0 {
		c.Status.Timeout = 10 * time.Second
	}
	if c.Scheduler.ScrapeInterval <= 0 {
		c.Scheduler.ScrapeInterval = 6 * time.Hour
	}
	if c.Scheduler.StatusInterval <= 0 {
		c.Scheduler.StatusInterval = 15 * time.Minute
	}
	if c.Scheduler.EPGInterval <= 0 {
		c.Scheduler.EPGInterval = 12 * time.Hour
	}
	if c.Scheduler.PurgeInterval <= 0 {
		c.Scheduler.PurgeInterval = 24 * time.Hour
	}
	if c.Scheduler.GraceTimeout <= 0 {
		c.Scheduler.GraceTimeout = 30 * time.Second
	}
	if c.Activity.ClickHouseTable == "" {
		c.Activity.ClickHouseTable = "acescout_activity"
	}
	for i := range c.Sources {
		if c.Sources[i].Kind == "" {
			c.Sources[i].Kind = string(store.SourceDirect)
		}
	}
}

// Validate rejects configs that cannot be acted on.
func (c *Config) Validate() error {
	for _, s := range c.Sources {
		if strings.TrimSpace(s.Location) == "" {
			return fmt.Errorf("source with empty location")
		}
		switch store.SourceKind(s.Kind) {
		case store.SourceDirect, store.SourceZeronet:
		default:
			return fmt.Errorf("source %s: unknown kind %q", s.Location, s.Kind)
		}
	}
	for _, e := range c.EPGSources {
		if strings.TrimSpace(e.URL) == "" {
			return fmt.Errorf("epg source %q with empty url", e.Name)
		}
	}
	if c.Activity.RetentionDays != nil && *c.Activity.RetentionDays < 0 {
		return fmt.Errorf("activity.retention_days must be >= 0")
	}
	return nil
}

// SourceEnabled reports the effective enabled flag (default true).
func (s SourceConfig) SourceEnabled() bool { return s.Enabled == nil || *s.Enabled }

// SourceEnabled reports the effective enabled flag (default true).
func (e EPGSourceConfig) SourceEnabled() bool { return e.Enabled == nil || *e.Enabled }
