package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/acescout/acescout/internal/store"
)

// startPostgresContainer starts a PostgreSQL container for tests and returns
// a DSN suitable for pgx stdlib. It skips the test if Docker is unavailable.
func startPostgresContainer(t *testing.T) (dsn string, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return "", nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get host info: %v", err)
		return "", nil
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	dsn = fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}
	return dsn, terminate
}

func waitForPostgres(t *testing.T, dsn string) {
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn, terminate := startPostgresContainer(t)
	waitForPostgres(t, dsn)
	defer func() {
		if terminate != nil {
			terminate()
		}
	}()

	db, err := New(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	// sources
	srcID, err := db.UpsertSource(ctx, store.Source{Location: "https://a.example/list.html", Kind: store.SourceDirect, Enabled: true})
	if err != nil {
		t.Fatalf("upsert source: %v", err)
	}
	if err := db.MarkSourceProcessed(ctx, srcID, time.Now(), nil); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	sources, err := db.ListSources(ctx, true)
	if err != nil || len(sources) != 1 {
		t.Fatalf("list sources = %v, %v", sources, err)
	}

	// channels: created flag, idempotence, deactivation
	id := strings.Repeat("a", 40)
	created, err := db.UpsertChannel(ctx, id, store.ChannelMeta{Name: "Channel X", SourceURL: "https://a.example/list.html"}, time.Now())
	if err != nil || !created {
		t.Fatalf("first upsert created=%v err=%v", created, err)
	}
	created, err = db.UpsertChannel(ctx, id, store.ChannelMeta{Name: "Channel X", SourceURL: "https://a.example/list.html"}, time.Now())
	if err != nil || created {
		t.Fatalf("second upsert created=%v err=%v", created, err)
	}
	if err := db.SetChannelStatus(ctx, id, sql.NullBool{Bool: true, Valid: true}, time.Now(), ""); err != nil {
		t.Fatalf("set status: %v", err)
	}
	ch, err := db.GetChannel(ctx, id)
	if err != nil || !ch.IsOnline.Valid || !ch.IsOnline.Bool {
		t.Fatalf("get channel = %+v, %v", ch, err)
	}
	retired, err := db.DeactivateMissing(ctx, "https://a.example/list.html", []string{strings.Repeat("b", 40)})
	if err != nil || retired != 1 {
		t.Fatalf("deactivate = %d, %v", retired, err)
	}

	// epg bookkeeping
	epgID, err := db.UpsertEPGSource(ctx, store.EPGSource{Name: "guide", URL: "https://g.example/epg.xml", Enabled: true})
	if err != nil {
		t.Fatalf("upsert epg: %v", err)
	}
	if err := db.MarkEPGRefreshed(ctx, epgID, time.Now(), fmt.Errorf("guide returned 502")); err != nil {
		t.Fatalf("mark epg failure: %v", err)
	}
	src, err := db.GetEPGSource(ctx, epgID)
	if err != nil || src.ErrorCount != 1 {
		t.Fatalf("epg source = %+v, %v", src, err)
	}

	// activity append, filter, purge
	old := time.Now().AddDate(0, 0, -10)
	if _, err := db.AppendActivity(ctx, store.ActivityEntry{Timestamp: old, Kind: "scrape", Message: "old"}); err != nil {
		t.Fatalf("append old: %v", err)
	}
	if _, err := db.AppendActivity(ctx, store.ActivityEntry{Timestamp: time.Now(), Kind: "scrape", Message: "recent"}); err != nil {
		t.Fatalf("append recent: %v", err)
	}
	recent, err := db.ListActivity(ctx, store.ActivityFilter{Since: time.Now().AddDate(0, 0, -7)})
	if err != nil || len(recent) != 1 {
		t.Fatalf("list activity = %v, %v", recent, err)
	}
	purged, err := db.DeleteActivityBefore(ctx, time.Now().AddDate(0, 0, -7))
	if err != nil || purged != 1 {
		t.Fatalf("purge = %d, %v", purged, err)
	}

	// settings
	if err := db.SetSetting(ctx, store.SettingRetentionDays, "14"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	v, err := db.GetSetting(ctx, store.SettingRetentionDays)
	if err != nil || v != "14" {
		t.Fatalf("get setting = %q, %v", v, err)
	}
}
