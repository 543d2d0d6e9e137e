package store

import (
	"context"
	"database/sql"
	"time"
)

// SourceKind selects the scraper variant used to process a source.
type SourceKind string

const (
	SourceDirect  SourceKind = "direct"
	SourceZeronet SourceKind = "zeronet"
)

// Source is a configured origin scraped periodically for acestream ids.
// The CRUD layer creates and edits sources; the orchestrator only reads
// them and stamps LastProcessed/LastError.
type Source struct {
	ID            int64
	Location      string
	Kind          SourceKind
	Enabled       bool
	LastProcessed sql.NullTime
	LastError     sql.NullString
}

// Channel is one catalogued acestream identifier. Field ownership is
// partitioned: the orchestrator writes name/group/logo/tvg/source metadata,
// the status checker writes IsOnline/LastChecked/CheckError. RawID is the
// natural key and never duplicated.
type Channel struct {
	RawID       string
	Name        string
	Group       sql.NullString
	Logo        sql.NullString
	TVGID       sql.NullString
	TVGName     sql.NullString
	SourceURL   sql.NullString
	FirstSeen   time.Time
	LastSeen    time.Time
	IsActive    bool
	NameLocked  bool
	IsOnline    sql.NullBool
	LastChecked sql.NullTime
	CheckError  sql.NullString
}

// ChannelMeta carries the metadata half of a channel upsert.
type ChannelMeta struct {
	Name      string
	Group     string
	Logo      string
	TVGID     string
	TVGName   string
	SourceURL string
}

// EPGSource is one XMLTV guide feed with refresh bookkeeping.
type EPGSource struct {
	ID            int64
	Name          string
	URL           string
	Enabled       bool
	LastRefreshed sql.NullTime
	ErrorCount    int
	LastError     sql.NullString
}

// ActivityEntry is one append-only audit record. Entries are immutable once
// written and removed only by the retention purge.
type ActivityEntry struct {
	ID        int64
	Timestamp time.Time
	Kind      string
	Message   string
	Details   string // JSON object, may be empty
	Actor     string
}

// ActivityFilter narrows activity queries. Zero values mean "no constraint"
// except Limit, which defaults to 100.
type ActivityFilter struct {
	Since time.Time
	Kind  string
	Limit int
}

// ChannelFilter narrows channel listings.
type ChannelFilter struct {
	OnlyActive bool
	SourceURL  string
}

type SourceStore interface {
	ListSources(ctx context.Context, onlyEnabled bool) ([]Source, error)
	UpsertSource(ctx context.Context, s Source) (int64, error)
	MarkSourceProcessed(ctx context.Context, id int64, at time.Time, procErr error) error
}

type ChannelStore interface {
	// UpsertChannel creates the channel when rawID is unseen, otherwise
	// refreshes LastSeen and metadata. Metadata is left untouched when the
	// channel's NameLocked protection flag is set.
	UpsertChannel(ctx context.Context, rawID string, meta ChannelMeta, seenAt time.Time) (created bool, err error)
	SetChannelStatus(ctx context.Context, rawID string, online sql.NullBool, checkedAt time.Time, checkErr string) error
	ListChannels(ctx context.Context, f ChannelFilter) ([]Channel, error)
	GetChannel(ctx context.Context, rawID string) (Channel, error)
	// DeactivateMissing clears IsActive on channels attributed to sourceURL
	// whose RawID is not in keep. Returns the number of rows touched.
	DeactivateMissing(ctx context.Context, sourceURL string, keep []string) (int64, error)
}

type EPGSourceStore interface {
	ListEPGSources(ctx context.Context, onlyEnabled bool) ([]EPGSource, error)
	GetEPGSource(ctx context.Context, id int64) (EPGSource, error)
	UpsertEPGSource(ctx context.Context, s EPGSource) (int64, error)
	MarkEPGRefreshed(ctx context.Context, id int64, at time.Time, refreshErr error) error
}

type ActivityStore interface {
	AppendActivity(ctx context.Context, e ActivityEntry) (int64, error)
	ListActivity(ctx context.Context, f ActivityFilter) ([]ActivityEntry, error)
	DeleteActivityBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Store is the full persistence surface owned by the core.
type Store interface {
	SourceStore
	ChannelStore
	EPGSourceStore
	ActivityStore
	SettingsStore
	EnsureSchema(ctx context.Context) error
	Close() error
}

// Setting keys read at the start of each purge/scheduling cycle.
const (
	SettingRetentionDays       = "retention_days"
	SettingAutoRefreshInterval = "auto_refresh_interval"
)

// ErrNotFound is returned by Get* lookups when no row matches.
var ErrNotFound = sql.ErrNoRows
