// Package store persists normalized news records through database/sql via
// sqlx. It speaks both postgres and sqlite with one set of statements:
// queries are written with ? placeholders and rebound per driver, and the
// idempotent insert relies on ON CONFLICT DO NOTHING, which both dialects
// support against a named unique constraint.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/openwire/newswire/internal/config"
	"github.com/openwire/newswire/pkg/models"
)

// ErrNotFound reports a lookup that matched no record.
var ErrNotFound = errors.New("store: record not found")

const schema = `
CREATE TABLE IF NOT EXISTS news (
	id             INTEGER PRIMARY KEY,
	source         TEXT NOT NULL,
	external_id    TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL DEFAULT '',
	raw_payload    TEXT NOT NULL DEFAULT '',
	relation_stock TEXT NOT NULL DEFAULT '',
	analysis_annotation TEXT NOT NULL DEFAULT '',
	publish_time   TIMESTAMP NOT NULL,
	created_at     TIMESTAMP NOT NULL,
	UNIQUE (source, external_id)
);
CREATE INDEX IF NOT EXISTS idx_news_publish_time ON news (publish_time);
CREATE INDEX IF NOT EXISTS idx_news_source ON news (source);
`

// postgres has no bare INTEGER PRIMARY KEY autoincrement; swap the id
// column for the serial form when migrating there.
const schemaPostgres = `
CREATE TABLE IF NOT EXISTS news (
	id             BIGSERIAL PRIMARY KEY,
	source         TEXT NOT NULL,
	external_id    TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL DEFAULT '',
	raw_payload    TEXT NOT NULL DEFAULT '',
	relation_stock TEXT NOT NULL DEFAULT '',
	analysis_annotation TEXT NOT NULL DEFAULT '',
	publish_time   TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (source, external_id)
);
CREATE INDEX IF NOT EXISTS idx_news_publish_time ON news (publish_time);
CREATE INDEX IF NOT EXISTS idx_news_source ON news (source);
`

// Store wraps the database handle. All methods are safe for concurrent use.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects with the configured driver and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		// modernc sqlite serializes writes itself; a single connection
		// avoids SQLITE_BUSY under concurrent source runs.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}
	return &Store{db: db, driver: driver}, nil
}

// Close releases the underlying connections.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema when absent. Existing tables are left alone.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := schema
	if s.driver == "postgres" {
		ddl = schemaPostgres
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const insertNews = `
INSERT INTO news (source, external_id, title, content, raw_payload, relation_stock, analysis_annotation, publish_time, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (source, external_id) DO NOTHING`

// SaveBatch inserts records one at a time so a single bad record cannot
// sink its batch. A row the unique constraint swallows counts as a
// duplicate, a failed statement counts as an error, and both are reported
// in the result rather than returned.
func (s *Store) SaveBatch(ctx context.Context, records []models.NewsRecord) models.SaveResult {
	res := models.SaveResult{Attempted: len(records)}
	stmt := s.db.Rebind(insertNews)
	now := time.Now().UTC()

	for _, r := range records {
		created := r.CreatedAt
		if created.IsZero() {
			created = now
		}
		sqlRes, err := s.db.ExecContext(ctx, stmt,
			r.Source, r.ExternalID, r.Title, r.Content, r.RawPayload,
			r.RelationStock, r.Annotation, r.PublishTime, created)
		if err != nil {
			log.Printf("store: save %s/%s: %v", r.Source, r.ExternalID, err)
			res.Error++
			continue
		}
		n, err := sqlRes.RowsAffected()
		if err != nil {
			log.Printf("store: rows affected %s/%s: %v", r.Source, r.ExternalID, err)
			res.Error++
			continue
		}
		if n == 0 {
			res.Duplicate++
		} else {
			res.Saved++
		}
	}
	return res
}

// ListFilter narrows ListNews. Zero values mean no constraint.
type ListFilter struct {
	Source string
	Since  time.Time
	Until  time.Time
	Limit  int
}

const defaultListLimit = 50

// ListNews returns records newest first, optionally filtered by source and
// publish-time window.
func (s *Store) ListNews(ctx context.Context, f ListFilter) ([]models.NewsRecord, error) {
	q := "SELECT * FROM news WHERE 1=1"
	var args []any
	if f.Source != "" {
		q += " AND source = ?"
		args = append(args, f.Source)
	}
	if !f.Since.IsZero() {
		q += " AND publish_time >= ?"
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		q += " AND publish_time <= ?"
		args = append(args, f.Until)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	q += " ORDER BY publish_time DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var out []models.NewsRecord
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}
	return out, nil
}

// GetNews fetches one record by primary key.
func (s *Store) GetNews(ctx context.Context, id int64) (*models.NewsRecord, error) {
	var r models.NewsRecord
	err := s.db.GetContext(ctx, &r, s.db.Rebind("SELECT * FROM news WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get news %d: %w", id, err)
	}
	return &r, nil
}

// SetAnalysis attaches a stock relation and annotation to a stored record.
func (s *Store) SetAnalysis(ctx context.Context, id int64, relationStock, annotation string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE news SET relation_stock = ?, analysis_annotation = ? WHERE id = ?"),
		relationStock, annotation, id)
	if err != nil {
		return fmt.Errorf("set analysis %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set analysis %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count reports the number of stored records, optionally for one source.
func (s *Store) Count(ctx context.Context, source string) (int64, error) {
	q := "SELECT COUNT(*) FROM news"
	var args []any
	if source != "" {
		q += " WHERE source = ?"
		args = append(args, source)
	}
	var n int64
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(q), args...); err != nil {
		return 0, fmt.Errorf("count news: %w", err)
	}
	return n, nil
}
