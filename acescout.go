// Package acescout wires the background core together: source scraping,
// channel status probing, EPG refresh and activity retention, all driven by a
// task scheduler and exposed over a small HTTP API.
package acescout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acescout/acescout/internal/activity"
	chsink "github.com/acescout/acescout/internal/activity/clickhouse"
	"github.com/acescout/acescout/internal/config"
	"github.com/acescout/acescout/internal/epg"
	"github.com/acescout/acescout/internal/extractor"
	"github.com/acescout/acescout/internal/logger"
	"github.com/acescout/acescout/internal/metrics"
	"github.com/acescout/acescout/internal/orchestrator"
	"github.com/acescout/acescout/internal/scheduler"
	"github.com/acescout/acescout/internal/scraper"
	"github.com/acescout/acescout/internal/server"
	"github.com/acescout/acescout/internal/status"
	"github.com/acescout/acescout/internal/store"
	"github.com/acescout/acescout/internal/store/factory"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type SourceConfig = config.SourceConfig

type EPGSourceConfig = config.EPGSourceConfig

type Source = store.Source

type Channel = store.Channel

type ActivityEntry = store.ActivityEntry

type TaskRecord = scheduler.TaskRecord

type BatchSummary = status.BatchSummary

type StreamsSummary = status.StreamsSummary

type EngineStatus = status.EngineStatus

// Built-in task names.
const (
	TaskScrape        = scheduler.TaskScrape
	TaskStatusCheck   = scheduler.TaskStatusCheck
	TaskEPGRefresh    = scheduler.TaskEPGRefresh
	TaskActivityPurge = scheduler.TaskActivityPurge
)

// App is the embeddable application core. Construct with New, then Start.
type App struct {
	cfg     *config.Config
	st      store.Store
	rec     *activity.Recorder
	orch    *orchestrator.Orchestrator
	checker *status.Checker
	engine  *status.Client
	streams *status.StreamsClient
	epg     *epg.Refresher
	sched   *scheduler.Scheduler
	httpSrv *http.Server
	logC    io.Closer
	started bool
}

// New builds an App from a config. The store schema is created lazily in
// Start so that New stays cheap and error-free for embedding.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	_, closer, err := logger.Setup(logger.Config{
		Level:      cfg.Log.Level,
		Dir:        cfg.Log.Dir,
		Path:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	st, err := factory.NewFromDSN(cfg.Store.DSN)
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("store: %w", err)
	}

	var sinks []activity.Sink
	if cfg.Activity.ClickHouseAddr != "" {
		sink, serr := chsink.New(cfg.Activity.ClickHouseAddr, cfg.Activity.ClickHouseTable)
		if serr != nil {
			_ = st.Close()
			_ = closer.Close()
			return nil, fmt.Errorf("clickhouse sink: %w", serr)
		}
		sinks = append(sinks, sink)
	}
	rec := activity.NewRecorder(st, sinks...)

	ext := extractor.New(rec)
	sf := scraper.NewFactory(ext,
		scraper.Options{Timeout: cfg.Scraper.Timeout, Retries: cfg.Scraper.Retries},
		scraper.Options{Timeout: cfg.Zeronet.Timeout, Retries: cfg.Scraper.Retries, Gateway: cfg.Zeronet.Gateway},
	)
	orch := orchestrator.New(st, sf, rec, cfg.Scraper.Parallelism)
	engine := status.NewClient(cfg.Engine.URL, cfg.Status.Timeout)
	checker := status.NewChecker(st, engine, rec, cfg.Status.MaxInFlight)
	streams := status.NewStreamsClient(cfg.Engine.URL, cfg.Engine.ProxyURL, cfg.Engine.Timeout)
	refresher := epg.NewRefresher(st, rec, cfg.Scraper.Timeout)

	app := &App{
		cfg:     cfg,
		st:      st,
		rec:     rec,
		orch:    orch,
		checker: checker,
		engine:  engine,
		streams: streams,
		epg:     refresher,
		sched:   scheduler.New(rec, cfg.Scheduler.GraceTimeout),
		logC:    closer,
	}
	if err := app.registerTasks(); err != nil {
		_ = st.Close()
		_ = closer.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) registerTasks() error {
	tasks := []struct {
		name     string
		interval time.Duration
		fn       scheduler.TaskFunc
	}{
		{TaskScrape, a.cfg.Scheduler.ScrapeInterval, a.runScrape},
		{TaskStatusCheck, a.cfg.Scheduler.StatusInterval, a.runStatusCheck},
		{TaskEPGRefresh, a.cfg.Scheduler.EPGInterval, a.runEPGRefresh},
		{TaskActivityPurge, a.cfg.Scheduler.PurgeInterval, a.runActivityPurge},
	}
	for _, t := range tasks {
		if err := a.sched.Register(t.name, t.interval, t.fn); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) runScrape(ctx context.Context) (string, error) {
	sum, err := a.orch.Run(ctx)
	return sum.String(), err
}

func (a *App) runStatusCheck(ctx context.Context) (string, error) {
	sum, err := a.checker.CheckActive(ctx)
	if err != nil {
		return "", err
	}
	return sum.String(), nil
}

func (a *App) runEPGRefresh(ctx context.Context) (string, error) {
	results, err := a.epg.RefreshAll(ctx)
	if err != nil {
		return "", err
	}
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	return fmt.Sprintf("%d guides: %d ok, %d failed", len(results), len(results)-failed, failed), nil
}

func (a *App) runActivityPurge(ctx context.Context) (string, error) {
	days := a.cfg.Activity.EffectiveRetentionDays()
	if raw, err := a.st.GetSetting(ctx, store.SettingRetentionDays); err == nil {
		if _, serr := fmt.Sscanf(raw, "%d", &days); serr != nil {
			days = a.cfg.Activity.EffectiveRetentionDays()
		}
	}
	purged, err := a.rec.Purge(ctx, days)
	if err != nil {
		return "", err
	}
	a.applyRefreshInterval(ctx)
	return fmt.Sprintf("purged %d entries (retention %dd)", purged, days), nil
}

// applyRefreshInterval picks up a changed auto_refresh_interval setting and
// moves the scrape schedule onto it. Unparseable values are ignored.
func (a *App) applyRefreshInterval(ctx context.Context) {
	raw, err := a.st.GetSetting(ctx, store.SettingAutoRefreshInterval)
	if err != nil {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return
	}
	if err := a.sched.Reschedule(scheduler.TaskScrape, d); err != nil {
		slog.Warn("could not reschedule scrape task", "interval", d, "error", err)
	}
}

// Start prepares the schema, seeds configured sources and launches the
// scheduler and HTTP API.
func (a *App) Start(ctx context.Context) error {
	if a.started {
		return fmt.Errorf("app already started")
	}
	if err := a.st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if err := a.seed(ctx); err != nil {
		return fmt.Errorf("seed config: %w", err)
	}
	if err := a.sched.Start(); err != nil {
		return err
	}
	router := server.NewRouter(a.cfg.Server.BasePath, a.sched, a.checker, a.engine, a.streams, a.rec)
	a.httpSrv = server.NewServer(a.cfg.Server.Listen, router)
	a.started = true
	return nil
}

// seed upserts config-declared sources and guides so a fresh database picks
// them up on first boot. Existing rows keep their database state.
func (a *App) seed(ctx context.Context) error {
	for _, s := range a.cfg.Sources {
		_, err := a.st.UpsertSource(ctx, store.Source{
			Location: s.Location,
			Kind:     store.SourceKind(s.Kind),
			Enabled:  s.SourceEnabled(),
		})
		if err != nil {
			return fmt.Errorf("seed source %s: %w", s.Location, err)
		}
	}
	for _, e := range a.cfg.EPGSources {
		name := e.Name
		if name == "" {
			name = e.URL
		}
		_, err := a.st.UpsertEPGSource(ctx, store.EPGSource{
			Name:    name,
			URL:     e.URL,
			Enabled: e.SourceEnabled(),
		})
		if err != nil {
			return fmt.Errorf("seed epg source %s: %w", e.URL, err)
		}
	}
	defaults := map[string]string{
		store.SettingRetentionDays:       fmt.Sprintf("%d", a.cfg.Activity.EffectiveRetentionDays()),
		store.SettingAutoRefreshInterval: a.cfg.Scheduler.ScrapeInterval.String(),
	}
	for key, val := range defaults {
		if _, err := a.st.GetSetting(ctx, key); err == nil {
			continue
		}
		if err := a.st.SetSetting(ctx, key, val); err != nil {
			return fmt.Errorf("seed setting %s: %w", key, err)
		}
	}
	return nil
}

// Stop shuts down the HTTP server and scheduler, then closes the store.
func (a *App) Stop(ctx context.Context) error {
	if !a.started {
		return nil
	}
	a.started = false
	var firstErr error
	if a.httpSrv != nil {
		if err := a.httpSrv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.sched.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.st.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.logC != nil {
		_ = a.logC.Close()
	}
	return firstErr
}

// TriggerTask starts a named task outside its schedule.
func (a *App) TriggerTask(name string) error { return a.sched.Trigger(name) }

// TaskStatuses returns record snapshots in registration order.
func (a *App) TaskStatuses() []TaskRecord { return a.sched.Statuses() }

// TaskStatus returns the record for one task.
func (a *App) TaskStatus(name string) (TaskRecord, error) { return a.sched.Status(name) }

// RecentActivity lists activity for the last N days, optionally by kind.
func (a *App) RecentActivity(ctx context.Context, days int, kind string, limit int) ([]ActivityEntry, error) {
	return a.rec.Recent(ctx, days, kind, limit)
}

// ActiveStreams returns the live stream count from the proxy or engine.
func (a *App) ActiveStreams(ctx context.Context) StreamsSummary { return a.streams.Fetch(ctx) }

// StatusSummary returns the latest bulk-check aggregate, if any pass ran.
func (a *App) StatusSummary() (BatchSummary, bool) { return a.checker.LastSummary() }

// EngineStatus probes the engine for availability and version.
func (a *App) EngineStatus(ctx context.Context) EngineStatus { return a.engine.Status(ctx) }

// Channels lists stored channels.
func (a *App) Channels(ctx context.Context, onlyActive bool) ([]Channel, error) {
	return a.st.ListChannels(ctx, store.ChannelFilter{OnlyActive: onlyActive})
}

// LoadConfig reads a TOML config file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig returns every knob at its default.
func DefaultConfig() *Config { return config.Default() }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It runs in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
