package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	taskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "acescout",
			Subsystem: "task",
			Name:      "runs_total",
			Help:      "Task completions by terminal state.",
		}, []string{"task", "state"},
	)
	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "acescout",
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Observed task run durations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"},
	)
	sourcesScraped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "acescout",
			Subsystem: "scrape",
			Name:      "sources_total",
			Help:      "Per-source scrape outcomes.",
		}, []string{"result"},
	)
	channelsUpserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "acescout",
			Subsystem: "scrape",
			Name:      "channels_total",
			Help:      "Channel upserts from scraping, by result.",
		}, []string{"result"},
	)
	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "acescout",
			Subsystem: "status",
			Name:      "probes_total",
			Help:      "Health probes by outcome.",
		}, []string{"outcome"},
	)
	onlineChannels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "acescout",
			Subsystem: "status",
			Name:      "online_channels",
			Help:      "Online channels in the latest bulk check.",
		},
	)
	activityPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "acescout",
			Subsystem: "activity",
			Name:      "purged_total",
			Help:      "Activity entries removed by retention purge.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{taskRuns, taskDuration, sourcesScraped, channelsUpserted, probes, onlineChannels, activityPurged}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op if Register hasn't been called.

func IncTaskRun(task, state string) {
	if regOK.Load() {
		taskRuns.WithLabelValues(task, state).Inc()
	}
}

func ObserveTaskDuration(task string, seconds float64) {
	if regOK.Load() {
		taskDuration.WithLabelValues(task).Observe(seconds)
	}
}

func IncSourceScraped(result string) {
	if regOK.Load() {
		sourcesScraped.WithLabelValues(result).Inc()
	}
}

func AddChannelsUpserted(result string, n int) {
	if regOK.Load() && n > 0 {
		channelsUpserted.WithLabelValues(result).Add(float64(n))
	}
}

func IncProbe(outcome string) {
	if regOK.Load() {
		probes.WithLabelValues(outcome).Inc()
	}
}

func SetOnlineChannels(n int) {
	if regOK.Load() {
		onlineChannels.Set(float64(n))
	}
}

func AddActivityPurged(n int64) {
	if regOK.Load() && n > 0 {
		activityPurged.Add(float64(n))
	}
}
