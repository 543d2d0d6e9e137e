// Package factory resolves the configured database DSN to a concrete store.
// sqlite is the zero-setup default; postgres is selected by URL scheme.
package factory

import (
	"errors"
	"strings"

	"github.com/acescout/acescout/internal/store"
	pg "github.com/acescout/acescout/internal/store/postgres"
	sq "github.com/acescout/acescout/internal/store/sqlite"
)

// NewFromDSN opens the store implementation the DSN names. "postgres://" and
// "postgresql://" go to pgx; "sqlite://<path>" and any bare path open a
// modernc sqlite file. Scheme matching is case-insensitive.
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(strings.TrimPrefix(d, "sqlite://"))
	}
	return sq.New(d)
}
