package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

const sourceColumns = `id, name, origin_url, feed_url, mode, status, fetch_interval_minutes, last_fetched_at, last_error, site`

// ListSources returns sources matching filter ordered by name.
func (s *Store) ListSources(ctx context.Context, filter ingest.SourceFilter) ([]ingest.Source, error) {
	var (
		where []string
		args  []any
	)
	if filter.Mode != "" {
		args = append(args, string(filter.Mode))
		where = append(where, fmt.Sprintf("mode = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	query := `SELECT ` + sourceColumns + ` FROM sources`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query, args...)
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
	row := s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE name = $1`, name)
	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
	query := `
		INSERT INTO sources (id, name, origin_url, feed_url, mode, status, fetch_interval_minutes, site)
		VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6, ''), 'active'), $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			origin_url = EXCLUDED.origin_url,
			feed_url = EXCLUDED.feed_url,
			mode = EXCLUDED.mode,
			status = COALESCE(NULLIF($6, ''), sources.status),
			fetch_interval_minutes = EXCLUDED.fetch_interval_minutes,
			site = EXCLUDED.site
		RETURNING ` + sourceColumns
	row := s.pool.QueryRow(ctx, query,
		id,
		source.Name,
		source.OriginURL,
		source.FeedURL,
		string(source.Mode),
		string(source.Status),
		source.FetchIntervalMinutes,
		source.Site,
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
	query := `
		UPDATE sources
		SET status = $2, last_error = $3, last_fetched_at = COALESCE($4, last_fetched_at)
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status), lastError, lastFetchedAt)
	if err != nil {
		return fmt.Errorf("update source status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", id, ingest.ErrNotFound)
	}
	return nil
}

func scanSource(row scanner) (ingest.Source, error) {
	var (
		src     ingest.Source
		mode    string
		status  string
		fetched *time.Time
	)
	err := row.Scan(
		&src.ID,
		&src.Name,
		&src.OriginURL,
		&src.FeedURL,
		&mode,
		&status,
		&src.FetchIntervalMinutes,
		&fetched,
		&src.LastError,
		&src.Site,
	)
	if err != nil {
		return ingest.Source{}, err
	}
	src.Mode = ingest.AcquisitionMode(mode)
	src.Status = ingest.SourceStatus(status)
	if fetched != nil {
		t := fetched.UTC()
		src.LastFetchedAt = &t
	}
	return src, nil
}
