package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/resmi-haber-crawler/internal/clock/system"
	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
	"github.com/JakeFAU/resmi-haber-crawler/internal/metrics"
)

// ItemSource returns the parsed items of a feed.
type ItemSource interface {
	Fetch(ctx context.Context, feedURL string) ([]ingest.FeedItem, error)
}

// Ingestor persists feed items for a source.
type Ingestor interface {
	IngestFeedItems(ctx context.Context, source ingest.Source, items []ingest.FeedItem) (ingest.Counts, error)
}

// ErrMissingFeedURL marks rss sources registered without a feed URL.
var ErrMissingFeedURL = errors.New("source has no feed url")

// SourceResult is the outcome of refreshing one source.
type SourceResult struct {
	Source string        `json:"source"`
	Status string        `json:"status"`
	Items  int           `json:"items"`
	Counts ingest.Counts `json:"counts"`
	Error  string        `json:"error,omitempty"`
}

// UpdateResult summarizes one RSS refresh. Success is false only when the
// source registry could not be read; individual feed failures are reported per source.
type UpdateResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Checked int            `json:"checked"`
	Skipped int            `json:"skipped"`
	Failed  int            `json:"failed"`
	Counts  ingest.Counts  `json:"counts"`
	Sources []SourceResult `json:"sources"`
}

// Updater refreshes every rss Source that is not inactive.
type Updater struct {
	sources  ingest.SourceStore
	fetcher  ItemSource
	ingestor Ingestor
	clock    ingest.Clock
	logger   *zap.Logger
}

// NewUpdater wires the RSS refresh.
func NewUpdater(sources ingest.SourceStore, fetcher ItemSource, ingestor Ingestor, clock ingest.Clock, logger *zap.Logger) *Updater {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{
		sources:  sources,
		fetcher:  fetcher,
		ingestor: ingestor,
		clock:    clock,
		logger:   logger.Named("feed"),
	}
}

// Run fetches due sources. When force is set every eligible source is fetched
// regardless of its FetchIntervalMinutes.
func (u *Updater) Run(ctx context.Context, force bool) UpdateResult {
	sources, err := u.sources.ListSources(ctx, ingest.SourceFilter{
		Mode:     ingest.ModeRSS,
		Statuses: []ingest.SourceStatus{ingest.SourceActive, ingest.SourceError},
	})
	if err != nil {
		u.logger.Error("list rss sources failed", zap.Error(err))
		return UpdateResult{Success: false, Message: fmt.Sprintf("list sources: %v", err)}
	}

	result := UpdateResult{Success: true, Sources: make([]SourceResult, 0, len(sources))}
	now := u.clock.Now()
	for _, source := range sources {
		if ctx.Err() != nil {
			break
		}
		if !force && !source.Due(now) {
			result.Skipped++
			continue
		}
		result.Checked++
		sr := u.refresh(ctx, source)
		if sr.Status == string(ingest.SourceError) {
			result.Failed++
		}
		result.Counts.Add(sr.Counts)
		result.Sources = append(result.Sources, sr)
	}

	result.Message = fmt.Sprintf("RSS update completed: %d sources checked, %d failed, %d new articles",
		result.Checked, result.Failed, result.Counts.Inserted)
	u.logger.Info("rss update finished",
		zap.Int("checked", result.Checked),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Int("inserted", result.Counts.Inserted),
		zap.Int("duplicates", result.Counts.Duplicates),
	)
	return result
}

func (u *Updater) refresh(ctx context.Context, source ingest.Source) SourceResult {
	sr := SourceResult{Source: source.Name}
	logger := u.logger.With(zap.String("source", source.Name), zap.String("feed_url", source.FeedURL))

	items, err := u.fetchItems(ctx, source)
	if err != nil {
		metrics.ObserveFeedFetch(source.Name, "error")
		logger.Warn("feed fetch failed", zap.Error(err))
		u.markError(ctx, source, err)
		sr.Status = string(ingest.SourceError)
		sr.Error = err.Error()
		return sr
	}
	sr.Items = len(items)

	counts, err := u.ingestor.IngestFeedItems(ctx, source, items)
	sr.Counts = counts
	if err != nil {
		metrics.ObserveFeedFetch(source.Name, "error")
		logger.Warn("feed ingest failed", zap.Error(err))
		u.markError(ctx, source, err)
		sr.Status = string(ingest.SourceError)
		sr.Error = err.Error()
		return sr
	}

	metrics.ObserveFeedFetch(source.Name, "ok")
	fetchedAt := u.clock.Now()
	if err := u.sources.UpdateSourceStatus(ctx, source.ID, ingest.SourceActive, &fetchedAt, ""); err != nil {
		logger.Error("update source status failed", zap.Error(err))
	}
	sr.Status = string(ingest.SourceActive)
	logger.Debug("feed refreshed",
		zap.Int("items", len(items)),
		zap.Int("inserted", counts.Inserted),
		zap.Duration("age", fetchedAt.Sub(lastFetched(source, fetchedAt))),
	)
	return sr
}

func (u *Updater) fetchItems(ctx context.Context, source ingest.Source) ([]ingest.FeedItem, error) {
	if source.FeedURL == "" {
		return nil, ErrMissingFeedURL
	}
	items, err := u.fetcher.Fetch(ctx, source.FeedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", source.Name, err)
	}
	return items, nil
}

// markError flips the source to error. LastFetchedAt is left untouched so the
// source is retried on the next run.
func (u *Updater) markError(ctx context.Context, source ingest.Source, cause error) {
	if err := u.sources.UpdateSourceStatus(ctx, source.ID, ingest.SourceError, nil, cause.Error()); err != nil {
		u.logger.Error("update source status failed", zap.String("source", source.Name), zap.Error(err))
	}
}

func lastFetched(source ingest.Source, fallback time.Time) time.Time {
	if source.LastFetchedAt == nil {
		return fallback
	}
	return *source.LastFetchedAt
}
