// Package postgres provides the pgx-backed job and catalog stores.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shelfminer/shelfminer/internal/catalog"
	"github.com/shelfminer/shelfminer/internal/jobs"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// dbPool is the slice of pgxpool.Pool the store uses; pgxmock satisfies it.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements jobs.Store and jobs.CatalogStore on Postgres.
type Store struct {
	pool dbPool
}

// New connects a pool and verifies it with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool (or a mock in tests).
func NewWithPool(pool dbPool) *Store {
	return &Store{pool: pool}
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			config JSONB NOT NULL DEFAULT '{}',
			total_count INT NOT NULL DEFAULT 0,
			processed_count INT NOT NULL DEFAULT 0,
			failed_count INT NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS jobs_kind_created_idx ON jobs (kind, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			downloads INT NOT NULL DEFAULT 0,
			cover_url TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS items_updated_idx ON items (updated_at DESC)`,
		`CREATE TABLE IF NOT EXISTS item_images (
			item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
			position INT NOT NULL,
			url TEXT NOT NULL,
			PRIMARY KEY (item_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS labels (
			item_id TEXT PRIMARY KEY REFERENCES items(id) ON DELETE CASCADE,
			grade TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			extracted JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const jobColumns = `id, kind, status, config, total_count, processed_count, failed_count, last_error, created_at, started_at, finished_at`

// CreateJob inserts a new job record.
func (s *Store) CreateJob(ctx context.Context, rec jobs.Record) error {
	cfg := rec.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, kind, status, config, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.Kind, rec.Status, cfg, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (jobs.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	rec, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return jobs.Record{}, jobs.ErrJobNotFound
		}
		return jobs.Record{}, fmt.Errorf("get job: %w", err)
	}
	return rec, nil
}

// ListJobs returns jobs of a kind (or all, for empty kind), newest first.
func (s *Store) ListJobs(ctx context.Context, kind jobs.Kind) ([]jobs.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE ($1 = '' OR kind = $1)
		ORDER BY created_at DESC`,
		string(kind))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []jobs.Record
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetStatus flips the status only.
func (s *Store) SetStatus(ctx context.Context, id string, status jobs.Status) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrJobNotFound
	}
	return nil
}

// MarkRunning sets status running, records started_at, clears prior error.
func (s *Store) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, started_at = $3, last_error = ''
		WHERE id = $1`,
		id, jobs.StatusRunning, startedAt)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrJobNotFound
	}
	return nil
}

// MarkFinished records a terminal status with finished_at.
func (s *Store) MarkFinished(ctx context.Context, id string, status jobs.Status, errText string, finishedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, finished_at = $3,
			last_error = CASE WHEN $4 <> '' THEN $4 ELSE last_error END
		WHERE id = $1`,
		id, status, finishedAt, errText)
	if err != nil {
		return fmt.Errorf("mark finished: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrJobNotFound
	}
	return nil
}

// AddProgress applies counter deltas in one statement so concurrent workers
// never lose updates.
func (s *Store) AddProgress(ctx context.Context, id string, processed, failed int, errText string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			processed_count = processed_count + $2,
			failed_count = failed_count + $3,
			last_error = CASE WHEN $4 <> '' THEN $4 ELSE last_error END
		WHERE id = $1`,
		id, processed, failed, errText)
	if err != nil {
		return fmt.Errorf("add progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrJobNotFound
	}
	return nil
}

// AddDiscovered bumps the discovered/total counter.
func (s *Store) AddDiscovered(ctx context.Context, id string, delta int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET total_count = total_count + $2 WHERE id = $1`,
		id, delta)
	if err != nil {
		return fmt.Errorf("add discovered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrJobNotFound
	}
	return nil
}

// SetTotal fixes the total counter.
func (s *Store) SetTotal(ctx context.Context, id string, total int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET total_count = $2 WHERE id = $1`, id, total)
	if err != nil {
		return fmt.Errorf("set total: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrJobNotFound
	}
	return nil
}

// LatestUnfinished returns the newest active job of the kind.
func (s *Store) LatestUnfinished(ctx context.Context, kind jobs.Kind) (jobs.Record, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE kind = $1 AND finished_at IS NULL AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1`,
		kind, jobs.StatusQueued, jobs.StatusRunning)
	rec, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return jobs.Record{}, false, nil
		}
		return jobs.Record{}, false, fmt.Errorf("latest unfinished: %w", err)
	}
	return rec, true, nil
}

// FailUnfinished marks every non-terminal job failed with the given reason.
func (s *Store) FailUnfinished(ctx context.Context, reason string, at time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, last_error = $2, finished_at = $3
		WHERE status NOT IN ($4, $5)`,
		jobs.StatusFailed, reason, at, jobs.StatusCompleted, jobs.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("fail unfinished: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UpsertCandidate inserts a discovered item or fills gaps on the stored row;
// populated fields are never overwritten.
func (s *Store) UpsertCandidate(ctx context.Context, c catalog.Candidate, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO items (id, url, title, author, cover_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = CASE WHEN items.title = '' THEN EXCLUDED.title ELSE items.title END,
			author = CASE WHEN items.author = '' THEN EXCLUDED.author ELSE items.author END,
			cover_url = CASE WHEN items.cover_url = '' THEN EXCLUDED.cover_url ELSE items.cover_url END,
			updated_at = EXCLUDED.updated_at`,
		c.ID, c.URL, c.Title, c.Author, c.CoverURL, at)
	if err != nil {
		return fmt.Errorf("upsert candidate: %w", err)
	}
	return nil
}

// UpsertScraped overwrites the item's fields and replaces its gallery in one
// transaction.
func (s *Store) UpsertScraped(ctx context.Context, sc catalog.ScrapedItem, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin scraped upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cover := ""
	if len(sc.ImageURLs) > 0 {
		cover = sc.ImageURLs[0]
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO items (id, url, title, author, downloads, cover_url, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			downloads = EXCLUDED.downloads,
			cover_url = CASE WHEN EXCLUDED.cover_url = '' THEN items.cover_url ELSE EXCLUDED.cover_url END,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at`,
		sc.ID, sc.URL, sc.Title, sc.Author, sc.Downloads, cover, sc.Description, at)
	if err != nil {
		return fmt.Errorf("upsert scraped item: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM item_images WHERE item_id = $1`, sc.ID); err != nil {
		return fmt.Errorf("clear item images: %w", err)
	}
	for i, u := range sc.ImageURLs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO item_images (item_id, position, url) VALUES ($1, $2, $3)`,
			sc.ID, i, u); err != nil {
			return fmt.Errorf("insert item image: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit scraped upsert: %w", err)
	}
	return nil
}

const itemColumns = `id, url, title, author, downloads, cover_url, description, created_at, updated_at`

// GetItem fetches an item by ID.
func (s *Store) GetItem(ctx context.Context, id string) (catalog.Item, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Item{}, jobs.ErrItemNotFound
		}
		return catalog.Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListItems pages through items, most recently updated first.
func (s *Store) ListItems(ctx context.Context, limit, offset int) ([]catalog.Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+` FROM items
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// ItemImages returns the ordered gallery for an item.
func (s *Store) ItemImages(ctx context.Context, itemID string) ([]catalog.ItemImage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT item_id, position, url FROM item_images
		WHERE item_id = $1
		ORDER BY position`,
		itemID)
	if err != nil {
		return nil, fmt.Errorf("item images: %w", err)
	}
	defer rows.Close()

	var out []catalog.ItemImage
	for rows.Next() {
		var img catalog.ItemImage
		if err := rows.Scan(&img.ItemID, &img.Position, &img.URL); err != nil {
			return nil, fmt.Errorf("scan image row: %w", err)
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// GetLabel returns the item's label, if present.
func (s *Store) GetLabel(ctx context.Context, itemID string) (catalog.Label, bool, error) {
	var (
		label catalog.Label
		raw   []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT item_id, grade, reason, extracted, updated_at FROM labels
		WHERE item_id = $1`,
		itemID).Scan(&label.ItemID, &label.Grade, &label.Reason, &raw, &label.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Label{}, false, nil
		}
		return catalog.Label{}, false, fmt.Errorf("get label: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &label.Extracted); err != nil {
			return catalog.Label{}, false, fmt.Errorf("decode label features: %w", err)
		}
	}
	return label, true, nil
}

// UnlabeledItems selects items lacking a label, newest-updated first.
func (s *Store) UnlabeledItems(ctx context.Context, limit int) ([]catalog.Item, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.url, i.title, i.author, i.downloads, i.cover_url, i.description, i.created_at, i.updated_at
		FROM items i
		LEFT JOIN labels l ON l.item_id = i.id
		WHERE l.item_id IS NULL
		ORDER BY i.updated_at DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("unlabeled items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// UpsertLabel writes the verdict, replacing any existing one.
func (s *Store) UpsertLabel(ctx context.Context, label catalog.Label) error {
	extracted, err := json.Marshal(label.Extracted)
	if err != nil {
		return fmt.Errorf("encode label features: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO labels (item_id, grade, reason, extracted, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_id) DO UPDATE SET
			grade = EXCLUDED.grade,
			reason = EXCLUDED.reason,
			extracted = EXCLUDED.extracted,
			updated_at = EXCLUDED.updated_at`,
		label.ItemID, label.Grade, label.Reason, extracted, label.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert label: %w", err)
	}
	return nil
}

// Purge deletes all items; galleries and labels go with them via cascade.
func (s *Store) Purge(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM items`); err != nil {
		return fmt.Errorf("purge items: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (jobs.Record, error) {
	var rec jobs.Record
	err := row.Scan(
		&rec.ID,
		&rec.Kind,
		&rec.Status,
		&rec.Config,
		&rec.Total,
		&rec.Processed,
		&rec.Failed,
		&rec.LastError,
		&rec.CreatedAt,
		&rec.StartedAt,
		&rec.FinishedAt,
	)
	return rec, err
}

func scanItem(row pgx.Row) (catalog.Item, error) {
	var item catalog.Item
	err := row.Scan(
		&item.ID,
		&item.URL,
		&item.Title,
		&item.Author,
		&item.Downloads,
		&item.CoverURL,
		&item.Description,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func collectItems(rows pgx.Rows) ([]catalog.Item, error) {
	var out []catalog.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
