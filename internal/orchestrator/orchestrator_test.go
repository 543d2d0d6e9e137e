package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acescout/acescout/internal/extractor"
	"github.com/acescout/acescout/internal/scraper"
	"github.com/acescout/acescout/internal/store"
)

type memStore struct {
	mu       sync.Mutex
	sources  []store.Source
	channels map[string]store.Channel
	marked   map[int64]error
}

func newMemStore(sources ...store.Source) *memStore {
	return &memStore{
		sources:  sources,
		channels: map[string]store.Channel{},
		marked:   map[int64]error{},
	}
}

func (m *memStore) ListSources(ctx context.Context, onlyEnabled bool) ([]store.Source, error) {
	var out []store.Source
	for _, s := range m.sources {
		if onlyEnabled && !s.Enabled {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) UpsertSource(ctx context.Context, s store.Source) (int64, error) {
	return s.ID, nil
}

func (m *memStore) MarkSourceProcessed(ctx context.Context, id int64, at time.Time, procErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked[id] = procErr
	return nil
}

func (m *memStore) UpsertChannel(ctx context.Context, rawID string, meta store.ChannelMeta, seenAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.channels[rawID]
	m.channels[rawID] = store.Channel{
		RawID:     rawID,
		Name:      meta.Name,
		SourceURL: sql.NullString{String: meta.SourceURL, Valid: meta.SourceURL != ""},
		LastSeen:  seenAt,
		IsActive:  true,
	}
	return !exists, nil
}

func (m *memStore) SetChannelStatus(ctx context.Context, rawID string, online sql.NullBool, checkedAt time.Time, checkErr string) error {
	return nil
}

func (m *memStore) ListChannels(ctx context.Context, f store.ChannelFilter) ([]store.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Channel
	for _, c := range m.channels {
		if f.OnlyActive && !c.IsActive {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) GetChannel(ctx context.Context, rawID string) (store.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[rawID]
	if !ok {
		return store.Channel{}, store.ErrNotFound
	}
	return c, nil
}

func (m *memStore) DeactivateMissing(ctx context.Context, sourceURL string, keep []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := map[string]bool{}
	for _, id := range keep {
		kept[id] = true
	}
	var n int64
	for id, c := range m.channels {
		if c.SourceURL.String != sourceURL || kept[id] || !c.IsActive {
			continue
		}
		c.IsActive = false
		m.channels[id] = c
		n++
	}
	return n, nil
}

func testFactory() *scraper.Factory {
	ext := extractor.New(nil)
	opts := scraper.Options{Timeout: 5 * time.Second, Retries: 1}
	return scraper.NewFactory(ext, opts, opts)
}

func pageWith(ids ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, id := range ids {
		fmt.Fprintf(&b, `<a href="acestream://%s">Channel %s</a>`, id, id[:4])
	}
	b.WriteString("</body></html>")
	return b.String()
}

func TestRunUpsertsAndMarksSources(t *testing.T) {
	idA := strings.Repeat("a", 40)
	idB := strings.Repeat("b", 40)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageWith(idA, idB))
	}))
	defer srv.Close()

	st := newMemStore(store.Source{ID: 1, Location: srv.URL, Kind: store.SourceDirect, Enabled: true})
	o := New(st, testFactory(), nil, 1)

	sum, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Sources != 1 || sum.Succeeded != 1 || sum.Created != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if len(st.channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(st.channels))
	}
	if procErr, ok := st.marked[1]; !ok || procErr != nil {
		t.Fatalf("expected source marked processed without error, got %v ok=%v", procErr, ok)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	id := strings.Repeat("c", 40)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageWith(id))
	}))
	defer srv.Close()

	st := newMemStore(store.Source{ID: 1, Location: srv.URL, Kind: store.SourceDirect, Enabled: true})
	o := New(st, testFactory(), nil, 1)

	first, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.Created != 1 || second.Created != 0 || second.Updated != 1 {
		t.Fatalf("expected create-then-update, got first=%+v second=%+v", first, second)
	}
	if len(st.channels) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(st.channels))
	}
}

func TestRunPartialFailureStillSucceeds(t *testing.T) {
	id := strings.Repeat("d", 40)
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageWith(id))
	}))
	defer good.Close()

	st := newMemStore(
		store.Source{ID: 1, Location: "http://127.0.0.1:1/dead", Kind: store.SourceDirect, Enabled: true},
		store.Source{ID: 2, Location: good.URL, Kind: store.SourceDirect, Enabled: true},
	)
	o := New(st, testFactory(), nil, 1)

	sum, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("one good source should keep the run successful, got %v", err)
	}
	if sum.Succeeded != 1 || sum.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.PerSource[0].Error == "" || sum.PerSource[1].Error != "" {
		t.Fatalf("per-source outcomes in wrong order: %+v", sum.PerSource)
	}
	if procErr := st.marked[1]; procErr == nil {
		t.Fatal("failed source must be marked with its error")
	}
}

func TestRunAllSourcesFailed(t *testing.T) {
	st := newMemStore(
		store.Source{ID: 1, Location: "http://127.0.0.1:1/a", Kind: store.SourceDirect, Enabled: true},
		store.Source{ID: 2, Location: "http://127.0.0.1:1/b", Kind: store.SourceDirect, Enabled: true},
	)
	o := New(st, testFactory(), nil, 1)

	sum, err := o.Run(context.Background())
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatalf("expected ErrAllSourcesFailed, got %v", err)
	}
	if sum.Failed != 2 || len(sum.PerSource) != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestRunNoSourcesIsSuccess(t *testing.T) {
	o := New(newMemStore(), testFactory(), nil, 1)
	sum, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("empty run should succeed, got %v", err)
	}
	if sum.Sources != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestRunDeactivatesDroppedChannels(t *testing.T) {
	idKeep := strings.Repeat("e", 40)
	idDrop := strings.Repeat("f", 40)
	var dropIt bool
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if dropIt {
			fmt.Fprint(w, pageWith(idKeep))
			return
		}
		fmt.Fprint(w, pageWith(idKeep, idDrop))
	}))
	defer srv.Close()

	st := newMemStore(store.Source{ID: 1, Location: srv.URL, Kind: store.SourceDirect, Enabled: true})
	o := New(st, testFactory(), nil, 1)

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	mu.Lock()
	dropIt = true
	mu.Unlock()
	sum, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if sum.PerSource[0].Retired != 1 {
		t.Fatalf("expected 1 retired channel, got %+v", sum.PerSource[0])
	}
	dropped, err := st.GetChannel(context.Background(), idDrop)
	if err != nil {
		t.Fatalf("get dropped: %v", err)
	}
	if dropped.IsActive {
		t.Fatal("dropped channel must be deactivated, not deleted")
	}
	kept, _ := st.GetChannel(context.Background(), idKeep)
	if !kept.IsActive {
		t.Fatal("kept channel must stay active")
	}
}

func TestRunSkipsDisabledSources(t *testing.T) {
	st := newMemStore(
		store.Source{ID: 1, Location: "http://127.0.0.1:1/disabled", Kind: store.SourceDirect, Enabled: false},
	)
	o := New(st, testFactory(), nil, 1)
	sum, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Sources != 0 {
		t.Fatalf("disabled source must not be processed: %+v", sum)
	}
}
