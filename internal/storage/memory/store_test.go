package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

func TestStoreSourceLifecycle(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()

	created, err := store.UpsertSource(ctx, ingest.Source{
		Name: "SPK", OriginURL: "https://www.spk.gov.tr", Mode: ingest.ModeScraping, FetchIntervalMinutes: 120,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, ingest.SourceActive, created.Status)

	fetched := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateSourceStatus(ctx, created.ID, ingest.SourceError, &fetched, "timeout"))
	require.NoError(t, store.UpdateSourceStatus(ctx, created.ID, ingest.SourceError, nil, "timeout again"))

	got, err := store.GetSourceByName(ctx, "SPK")
	require.NoError(t, err)
	assert.Equal(t, ingest.SourceError, got.Status)
	require.NotNil(t, got.LastFetchedAt)
	assert.True(t, got.LastFetchedAt.Equal(fetched), "nil timestamp keeps stored value")
	assert.Equal(t, "timeout again", got.LastError)

	updated, err := store.UpsertSource(ctx, ingest.Source{Name: "SPK", Mode: ingest.ModeScraping, FetchIntervalMinutes: 60})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, ingest.SourceError, updated.Status)
	assert.NotNil(t, updated.LastFetchedAt)

	_, err = store.GetSourceByName(ctx, "missing")
	assert.True(t, errors.Is(err, ingest.ErrNotFound))
	assert.True(t, errors.Is(store.UpdateSourceStatus(ctx, "nope", ingest.SourceActive, nil, ""), ingest.ErrNotFound))
}

func TestStoreListSourcesFilters(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	for _, src := range []ingest.Source{
		{Name: "TCMB", Mode: ingest.ModeRSS},
		{Name: "BDDK", Mode: ingest.ModeRSS, Status: ingest.SourceInactive},
		{Name: "EPDK", Mode: ingest.ModeScraping},
	} {
		_, err := store.UpsertSource(ctx, src)
		require.NoError(t, err)
	}

	rss, err := store.ListSources(ctx, ingest.SourceFilter{
		Mode:     ingest.ModeRSS,
		Statuses: []ingest.SourceStatus{ingest.SourceActive, ingest.SourceError},
	})
	require.NoError(t, err)
	require.Len(t, rss, 1)
	assert.Equal(t, "TCMB", rss[0].Name)

	all, err := store.ListSources(ctx, ingest.SourceFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"BDDK", "EPDK", "TCMB"}, []string{all[0].Name, all[1].Name, all[2].Name})
}

func TestStoreArticlesAreUniqueByFingerprint(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	old := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertArticle(ctx, ingest.Article{ID: "1", Fingerprint: "fp1", FetchedAt: old}))
	require.NoError(t, store.InsertArticle(ctx, ingest.Article{ID: "2", Fingerprint: "fp2", FetchedAt: recent}))
	assert.ErrorIs(t, store.InsertArticle(ctx, ingest.Article{ID: "3", Fingerprint: "fp1"}), ingest.ErrDuplicate)

	exists, err := store.ArticleExists(ctx, "fp1")
	require.NoError(t, err)
	assert.True(t, exists)

	removed, err := store.DeleteArticlesBefore(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	articles := store.Articles()
	require.Len(t, articles, 1)
	assert.Equal(t, "2", articles[0].ID)
}

func TestStoreObservations(t *testing.T) {
	t.Parallel()

	store := NewStore()
	ctx := context.Background()
	rows := []ingest.FinancialObservation{
		{Type: ingest.ObservationExchangeRate, Code: "USD", Value: 31.9, Date: "2024-03-14"},
		{Type: ingest.ObservationExchangeRate, Code: "USD", Value: 32.1, Date: "2024-03-15"},
		{Type: ingest.ObservationExchangeRate, Code: "EUR", Value: 35.0, Date: "2024-03-15"},
		{Type: ingest.ObservationGoldPrice, Code: "XAU", Value: 2100, Date: "2024-03-13"},
	}
	for _, row := range rows {
		require.NoError(t, store.UpsertObservation(ctx, row))
	}
	// Re-upserting the same key overwrites rather than duplicating.
	require.NoError(t, store.UpsertObservation(ctx, ingest.FinancialObservation{
		Type: ingest.ObservationExchangeRate, Code: "USD", Value: 32.2, Date: "2024-03-15",
	}))

	day, err := store.ObservationsForDate(ctx, ingest.ObservationExchangeRate, "2024-03-15")
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, "EUR", day[0].Code)
	assert.Equal(t, 32.2, day[1].Value)

	latestGold, err := store.LatestObservations(ctx, ingest.ObservationGoldPrice)
	require.NoError(t, err)
	require.Len(t, latestGold, 1)

	history, err := store.ObservationRange(ctx, ingest.ObservationExchangeRate, "USD", "2024-03-01", "2024-03-31")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2024-03-14", history[0].Date)

	empty, err := store.ObservationRange(ctx, ingest.ObservationExchangeRate, "JPY", "2024-03-01", "2024-03-31")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	none, err := store.LatestObservations(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}
