// Package epg refreshes XMLTV guide sources and keeps per-source error
// bookkeeping so a flaky feed is visible without blocking the healthy ones.
package epg

import (
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/acescout/acescout/internal/activity"
	"github.com/acescout/acescout/internal/store"
)

const maxGuideBytes = 256 << 20 // decompressed XMLTV guides can be large

// RefreshResult summarizes one guide fetch.
type RefreshResult struct {
	SourceID   int64  `json:"source_id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	Channels   int    `json:"channels"`
	Programmes int    `json:"programmes"`
	Error      string `json:"error,omitempty"`
}

// Refresher downloads and validates XMLTV guides.
type Refresher struct {
	st      store.EPGSourceStore
	rec     *activity.Recorder
	client  *http.Client
	log     *slog.Logger
	timeout time.Duration
}

func NewRefresher(st store.EPGSourceStore, rec *activity.Recorder, timeout time.Duration) *Refresher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Refresher{
		st:      st,
		rec:     rec,
		client:  &http.Client{Timeout: timeout},
		log:     slog.Default().With("component", "epg"),
		timeout: timeout,
	}
}

// RefreshAll refreshes every enabled guide. A failed source is recorded on
// that source only; the call fails only when no source could be refreshed.
func (r *Refresher) RefreshAll(ctx context.Context) ([]RefreshResult, error) {
	sources, err := r.st.ListEPGSources(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list epg sources: %w", err)
	}
	results := make([]RefreshResult, 0, len(sources))
	failed := 0
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := r.RefreshSource(ctx, src)
		if res.Error != "" {
			failed++
		}
		results = append(results, res)
	}
	if r.rec != nil {
		r.rec.Record(ctx, activity.Event{
			Kind:    activity.KindEPGRefresh,
			Message: fmt.Sprintf("%d guides: %d ok, %d failed", len(sources), len(sources)-failed, failed),
		})
	}
	if len(sources) > 0 && failed == len(sources) {
		return results, fmt.Errorf("all %d epg sources failed", failed)
	}
	return results, nil
}

// RefreshSource fetches one guide, validates it and updates the source's
// refresh bookkeeping. Failures bump the source's error count.
func (r *Refresher) RefreshSource(ctx context.Context, src store.EPGSource) RefreshResult {
	res := RefreshResult{SourceID: src.ID, Name: src.Name, URL: src.URL}
	channels, programmes, err := r.fetchGuide(ctx, src.URL)
	now := time.Now()
	if err != nil {
		res.Error = err.Error()
		r.log.Warn("epg refresh failed", "source", src.Name, "url", src.URL, "error", err)
		if merr := r.st.MarkEPGRefreshed(ctx, src.ID, now, err); merr != nil {
			r.log.Warn("persist epg failure failed", "source", src.Name, "error", merr)
		}
		return res
	}
	res.Channels = channels
	res.Programmes = programmes
	r.log.Info("epg refreshed", "source", src.Name, "channels", channels, "programmes", programmes)
	if merr := r.st.MarkEPGRefreshed(ctx, src.ID, now, nil); merr != nil {
		r.log.Warn("persist epg refresh failed", "source", src.Name, "error", merr)
	}
	return res
}

// fetchGuide streams the XMLTV document and counts its channel and programme
// elements without holding the whole guide in memory.
func (r *Refresher) fetchGuide(ctx context.Context, rawURL string) (channels, programmes int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml, */*")
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch guide: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("guide %s returned %s", rawURL, resp.Status)
	}

	var body io.Reader = io.LimitReader(resp.Body, maxGuideBytes)
	if strings.HasSuffix(strings.ToLower(strings.SplitN(rawURL, "?", 2)[0]), ".gz") {
		gz, gerr := gzip.NewReader(body)
		if gerr != nil {
			return 0, 0, fmt.Errorf("open gzip guide: %w", gerr)
		}
		defer func() { _ = gz.Close() }()
		body = gz
	}
	return countXMLTV(body)
}

func countXMLTV(r io.Reader) (channels, programmes int, err error) {
	dec := xml.NewDecoder(r)
	sawRoot := false
	for {
		tok, terr := dec.Token()
		if terr == io.EOF {
			break
		}
		if terr != nil {
			return 0, 0, fmt.Errorf("parse xmltv: %w", terr)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "tv":
			sawRoot = true
		case "channel":
			channels++
		case "programme":
			programmes++
		}
	}
	if !sawRoot {
		return 0, 0, fmt.Errorf("parse xmltv: missing <tv> root element")
	}
	return channels, programmes, nil
}
