package activity

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/acescout/acescout/internal/store"
)

type memStore struct {
	mu      sync.Mutex
	entries []store.ActivityEntry
	nextID  int64
}

func (m *memStore) AppendActivity(ctx context.Context, e store.ActivityEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = m.nextID
	m.entries = append(m.entries, e)
	return e.ID, nil
}

func (m *memStore) ListActivity(ctx context.Context, f store.ActivityFilter) ([]store.ActivityEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ActivityEntry
	for _, e := range m.entries {
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) DeleteActivityBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []store.ActivityEntry
	var deleted int64
	for _, e := range m.entries {
		if e.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return deleted, nil
}

type failingSink struct{ calls int }

func (s *failingSink) Send(ctx context.Context, e Event) error {
	s.calls++
	return fmt.Errorf("sink unavailable")
}

func TestRecordPersistsAndMarshalsDetails(t *testing.T) {
	st := &memStore{}
	r := NewRecorder(st)
	r.Record(context.Background(), Event{
		Kind:    KindScrape,
		Message: "2 sources: 2 ok, 0 failed",
		Details: map[string]string{"created": "5"},
	})
	if len(st.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(st.entries))
	}
	e := st.entries[0]
	if e.Kind != KindScrape || e.Timestamp.IsZero() {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.Details != `{"created":"5"}` {
		t.Fatalf("details = %q", e.Details)
	}
}

func TestSinkFailureDoesNotBlockLocalLog(t *testing.T) {
	st := &memStore{}
	sink := &failingSink{}
	r := NewRecorder(st, sink)
	r.Record(context.Background(), Event{Kind: KindTask, Message: "task scrape success"})
	if len(st.entries) != 1 {
		t.Fatalf("local entry must persist despite sink failure, got %d", len(st.entries))
	}
	if sink.calls != 1 {
		t.Fatalf("sink should have been attempted once, got %d", sink.calls)
	}
}

func TestAnomalyImplementsExtractorContract(t *testing.T) {
	st := &memStore{}
	r := NewRecorder(st)
	r.Anomaly("unparseable playlist line", map[string]string{"source": "https://a.example"})
	if len(st.entries) != 1 || st.entries[0].Kind != KindAnomaly {
		t.Fatalf("unexpected entries: %+v", st.entries)
	}
}

func TestPurgeRetentionWindow(t *testing.T) {
	st := &memStore{}
	now := time.Now()
	for _, age := range []int{0, 3, 10, 40} {
		st.entries = append(st.entries, store.ActivityEntry{Timestamp: now.AddDate(0, 0, -age)})
	}
	r := NewRecorder(st)

	deleted, err := r.Purge(context.Background(), 7)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 entries older than 7 days deleted, got %d", deleted)
	}
	if len(st.entries) != 2 {
		t.Fatalf("expected 2 remaining, got %d", len(st.entries))
	}
}

func TestPurgeZeroKeepsCurrentDayOnly(t *testing.T) {
	st := &memStore{}
	now := time.Now()
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	st.entries = []store.ActivityEntry{
		{Timestamp: midnight.Add(-time.Minute)}, // yesterday
		{Timestamp: midnight.Add(time.Minute)},  // today
	}
	r := NewRecorder(st)

	deleted, err := r.Purge(context.Background(), 0)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 1 || len(st.entries) != 1 {
		t.Fatalf("retention 0 must keep only the current day: deleted=%d remaining=%d", deleted, len(st.entries))
	}
	if st.entries[0].Timestamp.Before(midnight) {
		t.Fatalf("kept entry predates midnight: %v", st.entries[0].Timestamp)
	}
}

func TestPurgeClampsRetention(t *testing.T) {
	st := &memStore{}
	now := time.Now()
	st.entries = []store.ActivityEntry{
		{Timestamp: now.AddDate(0, 0, -35)},
		{Timestamp: now.AddDate(0, 0, -20)},
	}
	r := NewRecorder(st)

	// 365 is clamped to 30, so the 35-day-old entry still goes
	deleted, err := r.Purge(context.Background(), 365)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected clamped retention to delete 1 entry, got %d", deleted)
	}
}

func TestRecentFilters(t *testing.T) {
	st := &memStore{}
	now := time.Now()
	st.entries = []store.ActivityEntry{
		{Timestamp: now.AddDate(0, 0, -10), Kind: KindScrape},
		{Timestamp: now, Kind: KindScrape},
		{Timestamp: now, Kind: KindTask},
	}
	r := NewRecorder(st)

	got, err := r.Recent(context.Background(), 7, KindScrape, 100)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 recent scrape entry, got %d", len(got))
	}
}
