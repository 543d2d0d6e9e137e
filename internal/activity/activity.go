// Package activity is the append-only audit log. Entries are written by the
// orchestrator, the status checker and the scheduler, never mutated, and
// removed only by the retention purge.
package activity

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/acescout/acescout/internal/metrics"
	"github.com/acescout/acescout/internal/store"
)

// Entry kinds written by the core.
const (
	KindScrape      = "scrape"
	KindStatusCheck = "status_check"
	KindEPGRefresh  = "epg_refresh"
	KindTask        = "task"
	KindPurge       = "purge"
	KindAnomaly     = "anomaly"
)

// MaxRetentionDays bounds storage growth regardless of configuration.
const MaxRetentionDays = 30

// Event is one activity record before persistence.
type Event struct {
	Timestamp time.Time
	Kind      string
	Message   string
	Details   map[string]string
	Actor     string
}

// Sink is an optional export destination for activity events
// (analytics/statistics systems). Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder appends entries to the store and fans them out to sinks. Sink
// failures are logged and never propagate: the local log is the source of
// truth, exports are best effort.
type Recorder struct {
	store store.ActivityStore
	sinks []Sink
	log   *slog.Logger
}

func NewRecorder(st store.ActivityStore, sinks ...Sink) *Recorder {
	return &Recorder{store: st, sinks: sinks, log: slog.Default().With("component", "activity")}
}

// Record appends one immutable entry.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	var details string
	if len(e.Details) > 0 {
		if b, err := json.Marshal(e.Details); err == nil {
			details = string(b)
		}
	}
	if _, err := r.store.AppendActivity(ctx, store.ActivityEntry{
		Timestamp: e.Timestamp,
		Kind:      e.Kind,
		Message:   e.Message,
		Details:   details,
		Actor:     e.Actor,
	}); err != nil {
		r.log.Error("append activity failed", "kind", e.Kind, "error", err)
	}
	for _, s := range r.sinks {
		if err := s.Send(ctx, e); err != nil {
			r.log.Warn("activity sink send failed", "kind", e.Kind, "error", err)
		}
	}
}

// Anomaly satisfies the extractor's recorder contract: non-fatal extraction
// oddities become activity entries.
func (r *Recorder) Anomaly(message string, details map[string]string) {
	r.Record(context.Background(), Event{Kind: KindAnomaly, Message: message, Details: details})
}

// Recent lists entries from the last `days` days (0 means no time bound).
func (r *Recorder) Recent(ctx context.Context, days int, kind string, limit int) ([]store.ActivityEntry, error) {
	f := store.ActivityFilter{Kind: kind, Limit: limit}
	if days > 0 {
		f.Since = time.Now().AddDate(0, 0, -days)
	}
	return r.store.ListActivity(ctx, f)
}

// Purge deletes entries older than the retention window and returns the
// number removed. retentionDays == 0 keeps only entries from the current
// calendar day; values above MaxRetentionDays are clamped.
func (r *Recorder) Purge(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays > MaxRetentionDays {
		r.log.Warn("retention clamped", "configured", retentionDays, "max", MaxRetentionDays)
		retentionDays = MaxRetentionDays
	}
	now := time.Now()
	var cutoff time.Time
	if retentionDays <= 0 {
		y, m, d := now.Date()
		cutoff = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	} else {
		cutoff = now.AddDate(0, 0, -retentionDays)
	}
	n, err := r.store.DeleteActivityBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.AddActivityPurged(n)
	r.log.Info("activity purge complete", "deleted", n, "retention_days", retentionDays)
	return n, nil
}
