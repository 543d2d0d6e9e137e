package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/acescout/acescout/internal/activity"
)

// startClickHouse starts a ClickHouse container and returns a native DSN.
// It skips the test if Docker is unavailable.
func startClickHouse(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
		return nil, ""
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Skipf("Failed to get container host: %v", err)
		return nil, ""
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Skipf("Failed to get mapped port: %v", err)
		return nil, ""
	}
	return container, host + ":" + port.Port()
}

func TestSinkSend(t *testing.T) {
	ctx := context.Background()
	container, dsn := startClickHouse(ctx, t)
	defer func() {
		if container != nil {
			_ = container.Terminate(ctx)
		}
	}()

	sink, err := New(dsn, "acescout_activity_test")
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	err = sink.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS acescout_activity_test (
			ts DateTime64(6),
			kind String,
			message String,
			details String,
			actor String
		) ENGINE = MergeTree()
		ORDER BY ts
	`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	e := activity.Event{
		Timestamp: time.Now(),
		Kind:      activity.KindScrape,
		Message:   "scraped https://a.example: 3 found",
		Details:   map[string]string{"created": "1"},
	}
	if err := sink.Send(ctx, e); err != nil {
		t.Fatalf("send: %v", err)
	}

	var count uint64
	row := sink.conn.QueryRow(ctx, `SELECT count() FROM acescout_activity_test WHERE kind = ?`, activity.KindScrape)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 exported event, got %d", count)
	}
}
