package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
	"github.com/JakeFAU/resmi-haber-crawler/internal/scraper"
	"github.com/JakeFAU/resmi-haber-crawler/internal/storage/memory"
)

func TestDefaultSourcesAreValid(t *testing.T) {
	t.Parallel()

	registry, err := scraper.NewRegistry(scraper.DefaultSites()...)
	require.NoError(t, err)
	for _, src := range DefaultSources() {
		require.NoError(t, Validate(src), src.Name)
		if src.Mode == ingest.ModeScraping && src.Status != ingest.SourceInactive {
			_, ok := registry.Get(src.SiteKey())
			require.True(t, ok, "site config for %s", src.Name)
		}
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sources.yaml")
	body := `sources:
  - name: Resmi Gazete
    origin_url: https://www.resmigazete.gov.tr
    feed_url: https://www.resmigazete.gov.tr/rss.aspx
    mode: rss
    fetch_interval_minutes: 15
  - name: SPK
    origin_url: https://www.spk.gov.tr
    mode: scraping
    site: spk
    fetch_interval_minutes: 120
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	sources, err := Load(path)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	require.Equal(t, ingest.ModeRSS, sources[0].Mode)
	require.Equal(t, 15, sources[0].FetchIntervalMinutes)
	require.Equal(t, "spk", sources[1].Site)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("sources: []\n"), 0o600))
	_, err = Load(empty)
	require.Error(t, err)
}

func TestApplyUpsertsAndPreservesFetchState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()

	res, err := Apply(ctx, store, DefaultSources(), nil)
	require.NoError(t, err)
	require.Equal(t, len(DefaultSources()), res.Upserted)

	spk, err := store.GetSourceByName(ctx, "SPK")
	require.NoError(t, err)
	fetched := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateSourceStatus(ctx, spk.ID, ingest.SourceActive, &fetched, ""))

	_, err = Apply(ctx, store, DefaultSources(), nil)
	require.NoError(t, err)

	again, err := store.GetSourceByName(ctx, "SPK")
	require.NoError(t, err)
	require.Equal(t, spk.ID, again.ID)
	require.NotNil(t, again.LastFetchedAt)
	require.True(t, fetched.Equal(*again.LastFetchedAt))

	all, err := store.ListSources(ctx, ingest.SourceFilter{})
	require.NoError(t, err)
	require.Len(t, all, len(DefaultSources()))
}

func TestApplyClampsIntervalAndRejectsInvalid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()

	_, err := Apply(ctx, store, []ingest.Source{
		{Name: "Hızlı", FeedURL: "https://example.gov.tr/rss", Mode: ingest.ModeRSS, FetchIntervalMinutes: 1},
	}, nil)
	require.NoError(t, err)
	src, err := store.GetSourceByName(ctx, "Hızlı")
	require.NoError(t, err)
	require.Equal(t, ingest.MinFetchIntervalMinutes, src.FetchIntervalMinutes)

	_, err = Apply(ctx, store, []ingest.Source{
		{Name: "ok", FeedURL: "https://a.gov.tr/rss", Mode: ingest.ModeRSS},
		{Name: "bad", Mode: "ftp"},
	}, nil)
	require.Error(t, err)
	_, err = store.GetSourceByName(ctx, "ok")
	require.ErrorIs(t, err, ingest.ErrNotFound)

	_, err = Apply(ctx, store, []ingest.Source{
		{Name: "twice", FeedURL: "https://a.gov.tr/rss", Mode: ingest.ModeRSS},
		{Name: "twice", FeedURL: "https://a.gov.tr/rss", Mode: ingest.ModeRSS},
	}, nil)
	require.ErrorContains(t, err, "listed twice")
}
