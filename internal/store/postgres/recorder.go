// Package postgres provides a Postgres-backed metadata recorder for
// deployments that index harvested artifacts in a shared database instead of
// a per-directory CSV.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crossinglab/vidharvest/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool behind the recorder.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Recorder appends acquisition rows into Postgres. Inserts are conflict-free
// on re-run: an identifier already present is left untouched.
type Recorder struct {
	pool  pool
	table string
}

// Open connects a pool and ensures the table exists.
func Open(ctx context.Context, cfg Config) (*Recorder, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres_dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "video_metadata"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	r := &Recorder{pool: p, table: table}
	if err := r.ensureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return r, nil
}

// NewWithPool constructs a recorder over an existing pool (primarily for
// testing).
func NewWithPool(p pool, table string) (*Recorder, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "video_metadata"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Recorder{pool: p, table: table}, nil
}

func (r *Recorder) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	video_id         TEXT PRIMARY KEY,
	title            TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL DEFAULT '',
	channel          TEXT NOT NULL DEFAULT '',
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	view_count       BIGINT NOT NULL DEFAULT 0,
	published_at     TEXT NOT NULL DEFAULT '',
	search_term      TEXT NOT NULL DEFAULT '',
	source           TEXT NOT NULL DEFAULT '',
	download_date    TIMESTAMPTZ NOT NULL,
	filename         TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT ''
)`, r.table)
	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Append inserts one row for a successful acquisition.
func (r *Recorder) Append(ctx context.Context, rec harvest.Record) error {
	if rec.VideoID == "" {
		return fmt.Errorf("record video id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	video_id, title, url, channel, duration_seconds, view_count,
	published_at, search_term, source, download_date, filename, description
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (video_id) DO NOTHING`, r.table)
	if _, err := r.pool.Exec(ctx, query,
		rec.VideoID,
		rec.Title,
		rec.URL,
		rec.Channel,
		rec.DurationSeconds,
		rec.ViewCount,
		rec.PublishedAt,
		rec.SearchTerm,
		rec.Source,
		rec.DownloadedAt.UTC(),
		rec.Filename,
		rec.Description,
	); err != nil {
		return fmt.Errorf("insert metadata row: %w", err)
	}
	return nil
}

// KnownIDs reads back every recorded identifier for the cross-run check.
func (r *Recorder) KnownIDs(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT video_id FROM %s`, r.table)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query known ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan known id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate known ids: %w", err)
	}
	return ids, nil
}

// Close releases the underlying pool.
func (r *Recorder) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}
