package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/resmi-haber-crawler/internal/id/uuid"
	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

// Store implements ingest.Store in process memory for development and tests.
type Store struct {
	mu           sync.RWMutex
	sources      map[string]ingest.Source // by ID
	articles     map[string]ingest.Article
	observations map[string]ingest.FinancialObservation
	ids          ingest.IDGenerator
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		sources:      make(map[string]ingest.Source),
		articles:     make(map[string]ingest.Article),
		observations: make(map[string]ingest.FinancialObservation),
		ids:          uuid.New(),
	}
}

// ListSources returns sources matching filter ordered by name.
func (s *Store) ListSources(_ context.Context, filter ingest.SourceFilter) ([]ingest.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Source, 0, len(s.sources))
	for _, src := range s.sources {
		if filter.Matches(src) {
			out = append(out, cloneSource(src))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetSourceByName finds a source by its unique name.
func (s *Store) GetSourceByName(_ context.Context, name string) (ingest.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if src, ok := s.byNameLocked(name); ok {
		return cloneSource(src), nil
	}
	return ingest.Source{}, fmt.Errorf("source %q: %w", name, ingest.ErrNotFound)
}

// UpsertSource inserts or updates the configuration fields of a source keyed by
// name. Fetch state is preserved for existing sources.
func (s *Store) UpsertSource(_ context.Context, source ingest.Source) (ingest.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byNameLocked(source.Name); ok {
		source.ID = existing.ID
		source.LastFetchedAt = existing.LastFetchedAt
		source.LastError = existing.LastError
		if source.Status == "" {
			source.Status = existing.Status
		}
	} else if source.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return ingest.Source{}, err
		}
		source.ID = id
	}
	if source.Status == "" {
		source.Status = ingest.SourceActive
	}
	s.sources[source.ID] = cloneSource(source)
	return cloneSource(source), nil
}

// UpdateSourceStatus sets status and last error. A nil lastFetchedAt keeps the
// stored value.
func (s *Store) UpdateSourceStatus(
	_ context.Context,
	id string,
	status ingest.SourceStatus,
	lastFetchedAt *time.Time,
	lastError string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, ingest.ErrNotFound)
	}
	src.Status = status
	src.LastError = lastError
	if lastFetchedAt != nil {
		src.LastFetchedAt = pointerTime(*lastFetchedAt)
	}
	s.sources[id] = src
	return nil
}

// ArticleExists reports whether fingerprint is stored.
func (s *Store) ArticleExists(_ context.Context, fingerprint string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.articles[fingerprint]
	return ok, nil
}

// InsertArticle stores article, rejecting repeated fingerprints with ErrDuplicate.
func (s *Store) InsertArticle(_ context.Context, article ingest.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.articles[article.Fingerprint]; exists {
		return ingest.ErrDuplicate
	}
	article.Tags = append([]string(nil), article.Tags...)
	s.articles[article.Fingerprint] = article
	return nil
}

// DeleteArticlesBefore removes articles fetched before cutoff.
func (s *Store) DeleteArticlesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for fp, article := range s.articles {
		if article.FetchedAt.Before(cutoff) {
			delete(s.articles, fp)
			removed++
		}
	}
	return removed, nil
}

// Articles returns every stored article ordered by fetch time then URL.
func (s *Store) Articles() []ingest.Article {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ingest.Article, 0, len(s.articles))
	for _, article := range s.articles {
		out = append(out, article)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FetchedAt.Equal(out[j].FetchedAt) {
			return out[i].FetchedAt.Before(out[j].FetchedAt)
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// UpsertObservation writes obs keyed by (type, code, date).
func (s *Store) UpsertObservation(_ context.Context, obs ingest.FinancialObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations[obs.Key()] = obs
	return nil
}

// ObservationsForDate returns rows of typ on date ordered by code.
func (s *Store) ObservationsForDate(_ context.Context, typ ingest.ObservationType, date string) ([]ingest.FinancialObservation, error) {
	return s.collect(func(o ingest.FinancialObservation) bool {
		return o.Type == typ && o.Date == date
	}), nil
}

// LatestObservations returns rows of typ on the most recent stored date.
func (s *Store) LatestObservations(ctx context.Context, typ ingest.ObservationType) ([]ingest.FinancialObservation, error) {
	s.mu.RLock()
	latest := ""
	for _, o := range s.observations {
		if o.Type == typ && o.Date > latest {
			latest = o.Date
		}
	}
	s.mu.RUnlock()
	if latest == "" {
		return nil, nil
	}
	return s.ObservationsForDate(ctx, typ, latest)
}

// ObservationRange returns rows of typ and code with from <= date <= to ordered by date.
func (s *Store) ObservationRange(_ context.Context, typ ingest.ObservationType, code, from, to string) ([]ingest.FinancialObservation, error) {
	return s.collect(func(o ingest.FinancialObservation) bool {
		return o.Type == typ && o.Code == code && o.Date >= from && o.Date <= to
	}), nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) collect(match func(ingest.FinancialObservation) bool) []ingest.FinancialObservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []ingest.FinancialObservation{}
	for _, o := range s.observations {
		if match(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Code < out[j].Code
	})
	return out
}

func (s *Store) byNameLocked(name string) (ingest.Source, bool) {
	for _, src := range s.sources {
		if src.Name == name {
			return src, true
		}
	}
	return ingest.Source{}, false
}

func cloneSource(src ingest.Source) ingest.Source {
	if src.LastFetchedAt != nil {
		src.LastFetchedAt = pointerTime(*src.LastFetchedAt)
	}
	return src
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
