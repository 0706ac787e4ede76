// Package sqlite implements ingest.Store on an embedded SQLite database for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/resmi-haber-crawler/internal/id/uuid"
	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

// Store implements ingest.Store. Timestamps are stored as UTC unix nanoseconds.
type Store struct {
	db  *sql.DB
	ids ingest.IDGenerator
}

var _ ingest.Store = (*Store)(nil)

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY under concurrent jobs.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s := &Store{db: db, ids: uuid.New()}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			origin_url TEXT NOT NULL DEFAULT '',
			feed_url TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			fetch_interval_minutes INTEGER NOT NULL DEFAULT 60,
			last_fetched_at INTEGER,
			last_error TEXT NOT NULL DEFAULT '',
			site TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS articles (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			published_at INTEGER,
			fetched_at INTEGER NOT NULL,
			fingerprint TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			author TEXT NOT NULL DEFAULT '',
			guid TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT 'tr',
			view_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS articles_fetched_at_idx ON articles (fetched_at)`,
		`CREATE TABLE IF NOT EXISTS financial_data (
			type TEXT NOT NULL,
			code TEXT NOT NULL,
			date TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			value REAL NOT NULL,
			unit TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			forex_buying REAL,
			forex_selling REAL,
			banknote_buying REAL,
			banknote_selling REAL,
			cross_rate_usd REAL,
			cross_rate_other REAL,
			PRIMARY KEY (type, code, date)
		)`,
	}
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

const sourceColumns = `id, name, origin_url, feed_url, mode, status, fetch_interval_minutes, last_fetched_at, last_error, site`

// ListSources returns sources matching filter ordered by name.
func (s *Store) ListSources(ctx context.Context, filter ingest.SourceFilter) ([]ingest.Source, error) {
	var (
		where []string
		args  []any
	)
	if filter.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, string(filter.Mode))
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			marks = append(marks, "?")
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	query := `SELECT ` + sourceColumns + ` FROM sources`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	sources := []ingest.Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return sources, nil
}

// GetSourceByName returns the named source or a wrapped ingest.ErrNotFound.
func (s *Store) GetSourceByName(ctx context.Context, name string) (ingest.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE name = ?`, name)
	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ingest.Source{}, fmt.Errorf("source %q: %w", name, ingest.ErrNotFound)
		}
		return ingest.Source{}, fmt.Errorf("get source %q: %w", name, err)
	}
	return src, nil
}

// UpsertSource inserts or updates a source keyed by name. Fetch state is
// preserved and an empty status keeps the stored one.
func (s *Store) UpsertSource(ctx context.Context, source ingest.Source) (ingest.Source, error) {
	id := source.ID
	if id == "" {
		generated, err := s.ids.NewID()
		if err != nil {
			return ingest.Source{}, err
		}
		id = generated
	}
	status := string(source.Status)
	query := `
		INSERT INTO sources (id, name, origin_url, feed_url, mode, status, fetch_interval_minutes, site)
		VALUES (?, ?, ?, ?, ?, COALESCE(NULLIF(?, ''), 'active'), ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			origin_url = excluded.origin_url,
			feed_url = excluded.feed_url,
			mode = excluded.mode,
			status = COALESCE(NULLIF(?, ''), sources.status),
			fetch_interval_minutes = excluded.fetch_interval_minutes,
			site = excluded.site
		RETURNING ` + sourceColumns
	row := s.db.QueryRowContext(ctx, query,
		id, source.Name, source.OriginURL, source.FeedURL, string(source.Mode), status,
		source.FetchIntervalMinutes, source.Site, status,
	)
	saved, err := scanSource(row)
	if err != nil {
		return ingest.Source{}, fmt.Errorf("upsert source %q: %w", source.Name, err)
	}
	return saved, nil
}

// UpdateSourceStatus sets status and last error. A nil lastFetchedAt keeps the stored value.
func (s *Store) UpdateSourceStatus(
	ctx context.Context,
	id string,
	status ingest.SourceStatus,
	lastFetchedAt *time.Time,
	lastError string,
) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET status = ?, last_error = ?, last_fetched_at = COALESCE(?, last_fetched_at) WHERE id = ?`,
		string(status), lastError, nullTime(lastFetchedAt), id)
	if err != nil {
		return fmt.Errorf("update source status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update source status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("source %s: %w", id, ingest.ErrNotFound)
	}
	return nil
}

// ArticleExists reports whether fingerprint is stored.
func (s *Store) ArticleExists(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM articles WHERE fingerprint = ?)`, fingerprint).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check article fingerprint: %w", err)
	}
	return exists, nil
}

// InsertArticle stores a new article. A fingerprint conflict yields ingest.ErrDuplicate.
func (s *Store) InsertArticle(ctx context.Context, a ingest.Article) error {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO articles (
			id, source_id, title, description, content, url, published_at, fetched_at,
			fingerprint, category, tags, author, guid, language, view_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO NOTHING`,
		a.ID, a.SourceID, a.Title, a.Description, a.Content, a.URL,
		nullTime(a.PublishedAt), a.FetchedAt.UTC().UnixNano(),
		a.Fingerprint, string(a.Category), string(tagsJSON), a.Author, a.GUID, a.Language, a.ViewCount,
	)
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	if n == 0 {
		return ingest.ErrDuplicate
	}
	return nil
}

// DeleteArticlesBefore removes articles fetched before cutoff.
func (s *Store) DeleteArticlesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM articles WHERE fetched_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete old articles: %w", err)
	}
	return res.RowsAffected()
}

// GetArticle loads one article by fingerprint.
func (s *Store) GetArticle(ctx context.Context, fingerprint string) (ingest.Article, error) {
	var (
		a         ingest.Article
		published sql.NullInt64
		fetched   int64
		category  string
		tags      string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_id, title, description, content, url, published_at, fetched_at,
			fingerprint, category, tags, author, guid, language, view_count
		FROM articles WHERE fingerprint = ?`, fingerprint).Scan(
		&a.ID, &a.SourceID, &a.Title, &a.Description, &a.Content, &a.URL, &published, &fetched,
		&a.Fingerprint, &category, &tags, &a.Author, &a.GUID, &a.Language, &a.ViewCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ingest.Article{}, fmt.Errorf("article %s: %w", fingerprint, ingest.ErrNotFound)
		}
		return ingest.Article{}, fmt.Errorf("get article: %w", err)
	}
	a.PublishedAt = timeFromNull(published)
	a.FetchedAt = time.Unix(0, fetched).UTC()
	a.Category = ingest.Category(category)
	if err := json.Unmarshal([]byte(tags), &a.Tags); err != nil {
		return ingest.Article{}, fmt.Errorf("decode tags: %w", err)
	}
	return a, nil
}

const observationColumns = `type, code, date, name, value, unit, source,
	forex_buying, forex_selling, banknote_buying, banknote_selling, cross_rate_usd, cross_rate_other`

// UpsertObservation inserts or replaces the row keyed by (type, code, date).
func (s *Store) UpsertObservation(ctx context.Context, o ingest.FinancialObservation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO financial_data (`+observationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (type, code, date) DO UPDATE SET
			name = excluded.name,
			value = excluded.value,
			unit = excluded.unit,
			source = excluded.source,
			forex_buying = excluded.forex_buying,
			forex_selling = excluded.forex_selling,
			banknote_buying = excluded.banknote_buying,
			banknote_selling = excluded.banknote_selling,
			cross_rate_usd = excluded.cross_rate_usd,
			cross_rate_other = excluded.cross_rate_other`,
		string(o.Type), o.Code, o.Date, o.Name, o.Value, o.Unit, o.Source,
		nullFloat(o.ForexBuying), nullFloat(o.ForexSelling),
		nullFloat(o.BanknoteBuying), nullFloat(o.BanknoteSelling),
		nullFloat(o.CrossRateUSD), nullFloat(o.CrossRateOther),
	)
	if err != nil {
		return fmt.Errorf("upsert observation %s: %w", o.Key(), err)
	}
	return nil
}

// ObservationsForDate returns every row of typ on date ordered by code.
func (s *Store) ObservationsForDate(ctx context.Context, typ ingest.ObservationType, date string) ([]ingest.FinancialObservation, error) {
	return s.queryObservations(ctx,
		`SELECT `+observationColumns+` FROM financial_data WHERE type = ? AND date = ? ORDER BY code`,
		string(typ), date)
}

// LatestObservations returns the rows of typ on the most recent stored date.
func (s *Store) LatestObservations(ctx context.Context, typ ingest.ObservationType) ([]ingest.FinancialObservation, error) {
	return s.queryObservations(ctx,
		`SELECT `+observationColumns+` FROM financial_data
		WHERE type = ? AND date = (SELECT max(date) FROM financial_data WHERE type = ?)
		ORDER BY code`,
		string(typ), string(typ))
}

// ObservationRange returns rows of typ and code with from <= date <= to, oldest first.
func (s *Store) ObservationRange(
	ctx context.Context,
	typ ingest.ObservationType,
	code, from, to string,
) ([]ingest.FinancialObservation, error) {
	return s.queryObservations(ctx,
		`SELECT `+observationColumns+` FROM financial_data
		WHERE type = ? AND code = ? AND date BETWEEN ? AND ?
		ORDER BY date`,
		string(typ), code, from, to)
}

func (s *Store) queryObservations(ctx context.Context, query string, args ...any) ([]ingest.FinancialObservation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	out := []ingest.FinancialObservation{}
	for rows.Next() {
		var (
			o                                  ingest.FinancialObservation
			typ                                string
			fb, fs, bb, bs, crossUSD, crossOth sql.NullFloat64
		)
		if err := rows.Scan(&typ, &o.Code, &o.Date, &o.Name, &o.Value, &o.Unit, &o.Source,
			&fb, &fs, &bb, &bs, &crossUSD, &crossOth); err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}
		o.Type = ingest.ObservationType(typ)
		o.ForexBuying = floatFromNull(fb)
		o.ForexSelling = floatFromNull(fs)
		o.BanknoteBuying = floatFromNull(bb)
		o.BanknoteSelling = floatFromNull(bs)
		o.CrossRateUSD = floatFromNull(crossUSD)
		o.CrossRateOther = floatFromNull(crossOth)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (ingest.Source, error) {
	var (
		src     ingest.Source
		mode    string
		status  string
		fetched sql.NullInt64
	)
	if err := row.Scan(&src.ID, &src.Name, &src.OriginURL, &src.FeedURL, &mode, &status,
		&src.FetchIntervalMinutes, &fetched, &src.LastError, &src.Site); err != nil {
		return ingest.Source{}, err
	}
	src.Mode = ingest.AcquisitionMode(mode)
	src.Status = ingest.SourceStatus(status)
	src.LastFetchedAt = timeFromNull(fetched)
	return src, nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixNano(), Valid: true}
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatFromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
