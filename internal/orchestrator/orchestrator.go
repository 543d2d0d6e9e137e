// Package orchestrator drives one scraping pass over all enabled sources:
// fetch, extract, upsert, and per-source outcome bookkeeping. One source
// failing never aborts the others.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/acescout/acescout/internal/activity"
	"github.com/acescout/acescout/internal/metrics"
	"github.com/acescout/acescout/internal/scraper"
	"github.com/acescout/acescout/internal/store"
)

// ErrAllSourcesFailed is returned when a run had sources and none succeeded.
var ErrAllSourcesFailed = errors.New("all sources failed")

// SourceResult is the outcome for one source, in processing order.
type SourceResult struct {
	Location string `json:"location"`
	Found    int    `json:"found"`
	Created  int    `json:"created"`
	Updated  int    `json:"updated"`
	Retired  int    `json:"retired"`
	Error    string `json:"error,omitempty"`
}

// Summary aggregates one run.
type Summary struct {
	Sources   int            `json:"sources"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Created   int            `json:"created"`
	Updated   int            `json:"updated"`
	PerSource []SourceResult `json:"per_source"`
}

func (s Summary) String() string {
	return fmt.Sprintf("%d sources: %d ok, %d failed; %d created, %d updated",
		s.Sources, s.Succeeded, s.Failed, s.Created, s.Updated)
}

// Store is the persistence slice the orchestrator needs.
type Store interface {
	store.SourceStore
	store.ChannelStore
}

type Orchestrator struct {
	store       Store
	factory     *scraper.Factory
	rec         *activity.Recorder
	parallelism int
	log         *slog.Logger
}

func New(st Store, factory *scraper.Factory, rec *activity.Recorder, parallelism int) *Orchestrator {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Orchestrator{
		store:       st,
		factory:     factory,
		rec:         rec,
		parallelism: parallelism,
		log:         slog.Default().With("component", "orchestrator"),
	}
}

// Run processes every enabled source. The run succeeds when at least one
// source succeeds (or there were none); it fails only when every source
// failed. Per-source detail is always present in the summary.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	sources, err := o.store.ListSources(ctx, true)
	if err != nil {
		return Summary{}, fmt.Errorf("list sources: %w", err)
	}

	results := make([]SourceResult, len(sources))
	sem := make(chan struct{}, o.parallelism)
	var wg sync.WaitGroup
	for i, src := range sources {
		// cooperative checkpoint between sources
		if ctx.Err() != nil {
			results[i] = SourceResult{Location: src.Location, Error: ctx.Err().Error()}
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, src store.Source) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = o.processSource(ctx, src)
		}(i, src)
	}
	wg.Wait()

	sum := Summary{Sources: len(sources), PerSource: results}
	for _, r := range results {
		if r.Error == "" {
			sum.Succeeded++
			metrics.IncSourceScraped("ok")
		} else {
			sum.Failed++
			metrics.IncSourceScraped("error")
		}
		sum.Created += r.Created
		sum.Updated += r.Updated
	}

	// outcomes are logged in source processing order
	for _, r := range results {
		o.recordOutcome(ctx, r)
	}

	if sum.Sources > 0 && sum.Succeeded == 0 {
		return sum, ErrAllSourcesFailed
	}
	return sum, nil
}

func (o *Orchestrator) processSource(ctx context.Context, src store.Source) SourceResult {
	res := SourceResult{Location: src.Location}
	now := time.Now()

	sc, err := o.factory.For(src.Kind)
	if err != nil {
		res.Error = err.Error()
		_ = o.store.MarkSourceProcessed(ctx, src.ID, now, err)
		return res
	}

	ids, err := sc.Process(ctx, src)
	if err != nil {
		res.Error = err.Error()
		o.log.Warn("source scrape failed", "location", src.Location, "error", err)
		_ = o.store.MarkSourceProcessed(ctx, src.ID, now, err)
		return res
	}

	keep := make([]string, 0, len(ids))
	for _, id := range ids {
		created, uerr := o.store.UpsertChannel(ctx, id.RawID, store.ChannelMeta{
			Name:      id.Name,
			Group:     id.Group,
			Logo:      id.Logo,
			TVGID:     id.TVGID,
			TVGName:   id.TVGName,
			SourceURL: src.Location,
		}, id.DiscoveredAt)
		if uerr != nil {
			o.log.Error("channel upsert failed", "id", id.RawID, "error", uerr)
			continue
		}
		keep = append(keep, id.RawID)
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	res.Found = len(ids)

	// channels this source used to carry but no longer lists
	retired, derr := o.store.DeactivateMissing(ctx, src.Location, keep)
	if derr != nil {
		o.log.Warn("deactivate missing failed", "location", src.Location, "error", derr)
	}
	res.Retired = int(retired)

	metrics.AddChannelsUpserted("created", res.Created)
	metrics.AddChannelsUpserted("updated", res.Updated)
	_ = o.store.MarkSourceProcessed(ctx, src.ID, now, nil)
	o.log.Info("source processed", "location", src.Location,
		"found", res.Found, "created", res.Created, "updated", res.Updated, "retired", res.Retired)
	return res
}

func (o *Orchestrator) recordOutcome(ctx context.Context, r SourceResult) {
	if o.rec == nil {
		return
	}
	details := map[string]string{
		"location": r.Location,
		"found":    fmt.Sprintf("%d", r.Found),
		"created":  fmt.Sprintf("%d", r.Created),
		"updated":  fmt.Sprintf("%d", r.Updated),
	}
	msg := fmt.Sprintf("scraped %s: %d found", r.Location, r.Found)
	if r.Error != "" {
		details["error"] = r.Error
		msg = fmt.Sprintf("scrape of %s failed: %s", r.Location, firstLine(r.Error))
	}
	o.rec.Record(ctx, activity.Event{Kind: activity.KindScrape, Message: msg, Details: details})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
