package ingest

import (
	"context"
	"time"
)

// SourceStore reads and updates the Source registry.
type SourceStore interface {
	ListSources(ctx context.Context, filter SourceFilter) ([]Source, error)
	GetSourceByName(ctx context.Context, name string) (Source, error)
	UpsertSource(ctx context.Context, source Source) (Source, error)
	UpdateSourceStatus(ctx context.Context, id string, status SourceStatus, lastFetchedAt *time.Time, lastError string) error
}

// ArticleStore persists articles keyed by fingerprint.
type ArticleStore interface {
	ArticleExists(ctx context.Context, fingerprint string) (bool, error)
	// InsertArticle returns ErrDuplicate when the fingerprint already exists.
	InsertArticle(ctx context.Context, article Article) error
	DeleteArticlesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// FinancialStore persists financial observations keyed by (type, code, date).
type FinancialStore interface {
	UpsertObservation(ctx context.Context, obs FinancialObservation) error
	ObservationsForDate(ctx context.Context, typ ObservationType, date string) ([]FinancialObservation, error)
	LatestObservations(ctx context.Context, typ ObservationType) ([]FinancialObservation, error)
	ObservationRange(ctx context.Context, typ ObservationType, code, from, to string) ([]FinancialObservation, error)
}

// Store is the persistence collaborator the pipeline is built against.
type Store interface {
	SourceStore
	ArticleStore
	FinancialStore
	Close() error
}

// BlobStore archives raw fetched documents and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes article events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PageFetcher retrieves a page body. Implemented by the HTTP and headless fetchers.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Hasher computes digests for fingerprints and archive keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
