package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type statusUpdate struct {
	status    ingest.SourceStatus
	fetchedAt *time.Time
	lastError string
}

type fakeSources struct {
	mu      sync.Mutex
	sources []ingest.Source
	updates map[string]statusUpdate
	listErr error
}

func (f *fakeSources) ListSources(_ context.Context, filter ingest.SourceFilter) ([]ingest.Source, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []ingest.Source
	for _, s := range f.sources {
		if filter.Matches(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSources) GetSourceByName(context.Context, string) (ingest.Source, error) {
	return ingest.Source{}, ingest.ErrNotFound
}

func (f *fakeSources) UpsertSource(_ context.Context, s ingest.Source) (ingest.Source, error) {
	return s, nil
}

func (f *fakeSources) UpdateSourceStatus(_ context.Context, id string, status ingest.SourceStatus, fetchedAt *time.Time, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updates == nil {
		f.updates = map[string]statusUpdate{}
	}
	f.updates[id] = statusUpdate{status: status, fetchedAt: fetchedAt, lastError: lastError}
	return nil
}

type fakeItems struct {
	byURL map[string][]ingest.FeedItem
	fail  map[string]error
	calls []string
}

func (f *fakeItems) Fetch(_ context.Context, feedURL string) ([]ingest.FeedItem, error) {
	f.calls = append(f.calls, feedURL)
	if err := f.fail[feedURL]; err != nil {
		return nil, err
	}
	return f.byURL[feedURL], nil
}

type countingIngestor struct{}

func (countingIngestor) IngestFeedItems(_ context.Context, _ ingest.Source, items []ingest.FeedItem) (ingest.Counts, error) {
	return ingest.Counts{Processed: len(items), Succeeded: len(items), Inserted: len(items)}, nil
}

func TestUpdaterIsolatesFailingSource(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	store := &fakeSources{sources: []ingest.Source{
		{ID: "1", Name: "Resmi Gazete", Mode: ingest.ModeRSS, Status: ingest.SourceActive, FeedURL: "https://rg/rss"},
		{ID: "2", Name: "TCMB", Mode: ingest.ModeRSS, Status: ingest.SourceActive, FeedURL: "https://tcmb/rss"},
		{ID: "3", Name: "BDDK", Mode: ingest.ModeRSS, Status: ingest.SourceError, FeedURL: "https://bddk/rss"},
		{ID: "4", Name: "Kapalı", Mode: ingest.ModeRSS, Status: ingest.SourceInactive, FeedURL: "https://off/rss"},
		{ID: "5", Name: "SPK", Mode: ingest.ModeScraping, Status: ingest.SourceActive},
	}}
	items := &fakeItems{
		byURL: map[string][]ingest.FeedItem{
			"https://rg/rss":   {{Title: "a", Link: "https://rg/a"}, {Title: "b", Link: "https://rg/b"}},
			"https://bddk/rss": {{Title: "c", Link: "https://bddk/c"}},
		},
		fail: map[string]error{
			"https://tcmb/rss": ingest.NewError(ingest.KindNetwork, "feed", "https://tcmb/rss", context.DeadlineExceeded),
		},
	}

	updater := NewUpdater(store, items, countingIngestor{}, fixedClock{now: now}, nil)
	result := updater.Run(context.Background(), true)

	require.True(t, result.Success)
	assert.Equal(t, 3, result.Checked)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 3, result.Counts.Inserted)
	assert.ElementsMatch(t, []string{"https://rg/rss", "https://tcmb/rss", "https://bddk/rss"}, items.calls)

	assert.Equal(t, ingest.SourceError, store.updates["2"].status)
	assert.Nil(t, store.updates["2"].fetchedAt)
	assert.Contains(t, store.updates["2"].lastError, "network")

	assert.Equal(t, ingest.SourceActive, store.updates["3"].status, "error source heals on success")
	require.NotNil(t, store.updates["3"].fetchedAt)
	assert.True(t, store.updates["3"].fetchedAt.Equal(now))
	_, touched := store.updates["4"]
	assert.False(t, touched)
}

func TestUpdaterHonoursFetchInterval(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Minute)
	stale := now.Add(-2 * time.Hour)
	store := &fakeSources{sources: []ingest.Source{
		{ID: "1", Name: "recent", Mode: ingest.ModeRSS, Status: ingest.SourceActive, FeedURL: "https://a/rss", FetchIntervalMinutes: 60, LastFetchedAt: &recent},
		{ID: "2", Name: "stale", Mode: ingest.ModeRSS, Status: ingest.SourceActive, FeedURL: "https://b/rss", FetchIntervalMinutes: 60, LastFetchedAt: &stale},
	}}
	items := &fakeItems{}
	updater := NewUpdater(store, items, countingIngestor{}, fixedClock{now: now}, nil)

	result := updater.Run(context.Background(), false)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, []string{"https://b/rss"}, items.calls)

	forced := updater.Run(context.Background(), true)
	assert.Equal(t, 2, forced.Checked)
}

func TestUpdaterMissingFeedURL(t *testing.T) {
	t.Parallel()

	store := &fakeSources{sources: []ingest.Source{
		{ID: "1", Name: "bare", Mode: ingest.ModeRSS, Status: ingest.SourceActive},
	}}
	result := NewUpdater(store, &fakeItems{}, countingIngestor{}, nil, nil).Run(context.Background(), true)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, string(ingest.SourceError), result.Sources[0].Status)
	assert.Equal(t, ErrMissingFeedURL.Error(), store.updates["1"].lastError)
}

func TestUpdaterListFailure(t *testing.T) {
	t.Parallel()

	store := &fakeSources{listErr: errors.New("db down")}
	result := NewUpdater(store, &fakeItems{}, countingIngestor{}, nil, nil).Run(context.Background(), false)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "db down")
}
