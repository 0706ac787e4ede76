package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

// ArticleExists reports whether fingerprint is stored.
func (s *Store) ArticleExists(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM articles WHERE fingerprint = $1)`, fingerprint).Scan(&exists)
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
	query := `
		INSERT INTO articles (
			id, source_id, title, description, content, url, published_at, fetched_at,
			fingerprint, category, tags, author, guid, language, view_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (fingerprint) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		a.ID,
		a.SourceID,
		a.Title,
		a.Description,
		a.Content,
		a.URL,
		a.PublishedAt,
		a.FetchedAt,
		a.Fingerprint,
		string(a.Category),
		tags,
		a.Author,
		a.GUID,
		a.Language,
		a.ViewCount,
	)
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrDuplicate
	}
	return nil
}

// DeleteArticlesBefore removes articles fetched before cutoff.
func (s *Store) DeleteArticlesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM articles WHERE fetched_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old articles: %w", err)
	}
	return tag.RowsAffected(), nil
}
