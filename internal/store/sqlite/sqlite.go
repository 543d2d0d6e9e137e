package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/acescout/acescout/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sources(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			location TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			last_processed TIMESTAMP NULL,
			last_error TEXT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS channels(
			raw_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			grp TEXT NULL,
			logo TEXT NULL,
			tvg_id TEXT NULL,
			tvg_name TEXT NULL,
			source_url TEXT NULL,
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			name_locked BOOLEAN NOT NULL DEFAULT 0,
			is_online BOOLEAN NULL,
			last_checked TIMESTAMP NULL,
			check_error TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_channels_source_url ON channels(source_url);`,
		`CREATE INDEX IF NOT EXISTS idx_channels_is_active ON channels(is_active);`,
		`CREATE TABLE IF NOT EXISTS epg_sources(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			url TEXT NOT NULL UNIQUE,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			last_refreshed TIMESTAMP NULL,
			error_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS activity_log(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TIMESTAMP NOT NULL,
			kind TEXT NOT NULL,
			message TEXT NOT NULL,
			details TEXT NULL,
			actor TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_activity_log_ts ON activity_log(ts);`,
		`CREATE INDEX IF NOT EXISTS idx_activity_log_kind ON activity_log(kind);`,
		`CREATE TABLE IF NOT EXISTS settings(
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

// --- sources ---

func (s *DB) ListSources(ctx context.Context, onlyEnabled bool) ([]store.Source, error) {
	q := `SELECT id, location, kind, enabled, last_processed, last_error FROM sources`
	if onlyEnabled {
		q += ` WHERE enabled=1`
	}
	q += ` ORDER BY id;`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Source
	for rows.Next() {
		var src store.Source
		if err := rows.Scan(&src.ID, &src.Location, &src.Kind, &src.Enabled, &src.LastProcessed, &src.LastError); err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *DB) UpsertSource(ctx context.Context, src store.Source) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources(location, kind, enabled) VALUES(?, ?, ?)
		ON CONFLICT(location) DO UPDATE SET
			kind=excluded.kind,
			enabled=excluded.enabled;`,
		src.Location, string(src.Kind), src.Enabled)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM sources WHERE location=?;`, src.Location).Scan(&id)
	return id, err
}

func (s *DB) MarkSourceProcessed(ctx context.Context, id int64, at time.Time, procErr error) error {
	var errStr sql.NullString
	if procErr != nil {
		errStr = sql.NullString{String: procErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sources SET last_processed=?, last_error=? WHERE id=?;`,
		at.UTC(), errStr, id)
	return err
}

// --- channels ---

func (s *DB) UpsertChannel(ctx context.Context, rawID string, meta store.ChannelMeta, seenAt time.Time) (bool, error) {
	if strings.TrimSpace(rawID) == "" {
		return false, errors.New("empty channel id")
	}
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM channels WHERE raw_id=?;`, rawID).Scan(&exists)
	if err != nil {
		return false, err
	}
	at := seenAt.UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO channels(raw_id, name, grp, logo, tvg_id, tvg_name, source_url, first_seen, last_seen)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(raw_id) DO UPDATE SET
			last_seen=excluded.last_seen,
			is_active=1,
			name=CASE WHEN channels.name_locked THEN channels.name ELSE excluded.name END,
			grp=CASE WHEN channels.name_locked THEN channels.grp ELSE excluded.grp END,
			logo=CASE WHEN channels.name_locked THEN channels.logo ELSE excluded.logo END,
			tvg_id=CASE WHEN channels.name_locked THEN channels.tvg_id ELSE excluded.tvg_id END,
			tvg_name=CASE WHEN channels.name_locked THEN channels.tvg_name ELSE excluded.tvg_name END,
			source_url=excluded.source_url;`,
		rawID, meta.Name, nullStr(meta.Group), nullStr(meta.Logo), nullStr(meta.TVGID),
		nullStr(meta.TVGName), nullStr(meta.SourceURL), at, at)
	if err != nil {
		return false, err
	}
	return exists == 0, nil
}

func (s *DB) SetChannelStatus(ctx context.Context, rawID string, online sql.NullBool, checkedAt time.Time, checkErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE channels SET is_online=?, last_checked=?, check_error=? WHERE raw_id=?;`,
		online, checkedAt.UTC(), nullStr(checkErr), rawID)
	return err
}

const channelCols = `raw_id, name, grp, logo, tvg_id, tvg_name, source_url,
	first_seen, last_seen, is_active, name_locked, is_online, last_checked, check_error`

func scanChannel(row interface{ Scan(...any) error }) (store.Channel, error) {
	var c store.Channel
	err := row.Scan(&c.RawID, &c.Name, &c.Group, &c.Logo, &c.TVGID, &c.TVGName, &c.SourceURL,
		&c.FirstSeen, &c.LastSeen, &c.IsActive, &c.NameLocked, &c.IsOnline, &c.LastChecked, &c.CheckError)
	return c, err
}

func (s *DB) ListChannels(ctx context.Context, f store.ChannelFilter) ([]store.Channel, error) {
	q := `SELECT ` + channelCols + ` FROM channels`
	var conds []string
	var args []any
	if f.OnlyActive {
		conds = append(conds, `is_active=1`)
	}
	if f.SourceURL != "" {
		conds = append(conds, `source_url=?`)
		args = append(args, f.SourceURL)
	}
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	q += ` ORDER BY raw_id;`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *DB) GetChannel(ctx context.Context, rawID string) (store.Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelCols+` FROM channels WHERE raw_id=?;`, rawID)
	return scanChannel(row)
}

func (s *DB) DeactivateMissing(ctx context.Context, sourceURL string, keep []string) (int64, error) {
	q := `UPDATE channels SET is_active=0 WHERE source_url=?`
	args := []any{sourceURL}
	if len(keep) > 0 {
		q += ` AND raw_id NOT IN (?` + strings.Repeat(",?", len(keep)-1) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}
	res, err := s.db.ExecContext(ctx, q+`;`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- epg sources ---

func (s *DB) ListEPGSources(ctx context.Context, onlyEnabled bool) ([]store.EPGSource, error) {
	q := `SELECT id, name, url, enabled, last_refreshed, error_count, last_error FROM epg_sources`
	if onlyEnabled {
		q += ` WHERE enabled=1`
	}
	q += ` ORDER BY id;`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.EPGSource
	for rows.Next() {
		var e store.EPGSource
		if err := rows.Scan(&e.ID, &e.Name, &e.URL, &e.Enabled, &e.LastRefreshed, &e.ErrorCount, &e.LastError); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *DB) GetEPGSource(ctx context.Context, id int64) (store.EPGSource, error) {
	var e store.EPGSource
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, url, enabled, last_refreshed, error_count, last_error
		FROM epg_sources WHERE id=?;`, id).
		Scan(&e.ID, &e.Name, &e.URL, &e.Enabled, &e.LastRefreshed, &e.ErrorCount, &e.LastError)
	return e, err
}

func (s *DB) UpsertEPGSource(ctx context.Context, e store.EPGSource) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO epg_sources(name, url, enabled) VALUES(?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			name=excluded.name,
			enabled=excluded.enabled;`,
		e.Name, e.URL, e.Enabled)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM epg_sources WHERE url=?;`, e.URL).Scan(&id)
	return id, err
}

func (s *DB) MarkEPGRefreshed(ctx context.Context, id int64, at time.Time, refreshErr error) error {
	if refreshErr != nil {
		_, err := s.db.ExecContext(ctx, `
			UPDATE epg_sources SET last_refreshed=?, error_count=error_count+1, last_error=? WHERE id=?;`,
			at.UTC(), refreshErr.Error(), id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE epg_sources SET last_refreshed=?, error_count=0, last_error=NULL WHERE id=?;`,
		at.UTC(), id)
	return err
}

// --- activity log ---

func (s *DB) AppendActivity(ctx context.Context, e store.ActivityEntry) (int64, error) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log(ts, kind, message, details, actor) VALUES(?, ?, ?, ?, ?);`,
		ts.UTC(), e.Kind, e.Message, nullStr(e.Details), nullStr(e.Actor))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *DB) ListActivity(ctx context.Context, f store.ActivityFilter) ([]store.ActivityEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, ts, kind, message, details, actor FROM activity_log`
	var conds []string
	var args []any
	if !f.Since.IsZero() {
		conds = append(conds, `ts >= ?`)
		args = append(args, f.Since.UTC())
	}
	if f.Kind != "" {
		conds = append(conds, `kind = ?`)
		args = append(args, f.Kind)
	}
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	q += ` ORDER BY ts DESC, id DESC LIMIT ?;`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.ActivityEntry
	for rows.Next() {
		var e store.ActivityEntry
		var details, actor sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Kind, &e.Message, &details, &actor); err != nil {
			return nil, err
		}
		e.Details = details.String
		e.Actor = actor.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *DB) DeleteActivityBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM activity_log WHERE ts < ?;`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- settings ---

func (s *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?;`, key).Scan(&v)
	return v, err
}

func (s *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, key, value)
	return err
}

func nullStr(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
