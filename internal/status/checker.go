package status

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/acescout/acescout/internal/activity"
	"github.com/acescout/acescout/internal/metrics"
	"github.com/acescout/acescout/internal/store"
)

// Prober answers a single health probe.
type Prober interface {
	CheckOnline(ctx context.Context, id string) (Outcome, error)
}

// Result is the probe verdict for one identifier.
type Result struct {
	Identifier string    `json:"identifier"`
	Outcome    Outcome   `json:"outcome"`
	CheckedAt  time.Time `json:"checked_at"`
	Error      string    `json:"error,omitempty"`
}

// BatchSummary aggregates one full check pass.
type BatchSummary struct {
	Total     int       `json:"total"`
	Online    int       `json:"online"`
	Offline   int       `json:"offline"`
	Unknown   int       `json:"unknown"`
	CheckedAt time.Time `json:"checked_at"`
}

func (s BatchSummary) String() string {
	return fmt.Sprintf("%d channels: %d online, %d offline, %d unknown", s.Total, s.Online, s.Offline, s.Unknown)
}

// Checker runs bounded-concurrency probe batches and persists the verdicts.
type Checker struct {
	st          store.ChannelStore
	prober      Prober
	rec         *activity.Recorder
	maxInFlight int
	log         *slog.Logger

	mu   sync.Mutex
	last *BatchSummary
}

func NewChecker(st store.ChannelStore, prober Prober, rec *activity.Recorder, maxInFlight int) *Checker {
	if maxInFlight <= 0 {
		maxInFlight = 10
	}
	return &Checker{
		st:          st,
		prober:      prober,
		rec:         rec,
		maxInFlight: maxInFlight,
		log:         slog.Default().With("component", "status"),
	}
}

// Check probes a single identifier and persists the verdict.
func (c *Checker) Check(ctx context.Context, id string) Result {
	res := c.probe(ctx, id)
	c.apply(ctx, res)
	return res
}

// CheckAll probes every identifier with at most maxInFlight outstanding
// probes. Results come back indexed to the input order, and one bad probe
// never fails the batch.
func (c *Checker) CheckAll(ctx context.Context, ids []string) ([]Result, BatchSummary) {
	results := make([]Result, len(ids))
	sem := make(chan struct{}, c.maxInFlight)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = c.probe(ctx, id)
		}(i, id)
	}
	wg.Wait()

	sum := BatchSummary{Total: len(ids), CheckedAt: time.Now()}
	for _, r := range results {
		c.apply(ctx, r)
		switch r.Outcome {
		case Online:
			sum.Online++
		case Offline:
			sum.Offline++
		default:
			sum.Unknown++
		}
	}
	metrics.SetOnlineChannels(sum.Online)

	c.mu.Lock()
	c.last = &sum
	c.mu.Unlock()
	return results, sum
}

// CheckActive loads all active channels and probes them.
func (c *Checker) CheckActive(ctx context.Context) (BatchSummary, error) {
	chans, err := c.st.ListChannels(ctx, store.ChannelFilter{OnlyActive: true})
	if err != nil {
		return BatchSummary{}, fmt.Errorf("list channels: %w", err)
	}
	ids := make([]string, 0, len(chans))
	for _, ch := range chans {
		ids = append(ids, ch.RawID)
	}
	_, sum := c.CheckAll(ctx, ids)
	if c.rec != nil {
		c.rec.Record(ctx, activity.Event{
			Kind:    activity.KindStatusCheck,
			Message: sum.String(),
			Details: map[string]string{
				"online":  fmt.Sprintf("%d", sum.Online),
				"offline": fmt.Sprintf("%d", sum.Offline),
				"unknown": fmt.Sprintf("%d", sum.Unknown),
			},
		})
	}
	c.log.Info("status check finished", "total", sum.Total, "online", sum.Online, "offline", sum.Offline, "unknown", sum.Unknown)
	return sum, nil
}

// LastSummary returns the most recent batch aggregate, if any pass ran.
func (c *Checker) LastSummary() (BatchSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return BatchSummary{}, false
	}
	return *c.last, true
}

func (c *Checker) probe(ctx context.Context, id string) Result {
	out, err := c.prober.CheckOnline(ctx, id)
	res := Result{Identifier: id, Outcome: out, CheckedAt: time.Now()}
	if err != nil {
		res.Error = err.Error()
	}
	metrics.IncProbe(string(out))
	return res
}

func (c *Checker) apply(ctx context.Context, r Result) {
	// unknown keeps is_online NULL so a transport blip never masquerades as
	// a confirmed offline channel
	var online sql.NullBool
	switch r.Outcome {
	case Online:
		online = sql.NullBool{Bool: true, Valid: true}
	case Offline:
		online = sql.NullBool{Bool: false, Valid: true}
	}
	if err := c.st.SetChannelStatus(ctx, r.Identifier, online, r.CheckedAt, r.Error); err != nil {
		c.log.Warn("persist channel status failed", "id", r.Identifier, "error", err)
	}
}
