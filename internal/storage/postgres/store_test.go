package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

type staticIDs struct{ id string }

func (s staticIDs) NewID() (string, error) { return s.id, nil }

var sourceCols = []string{
	"id", "name", "origin_url", "feed_url", "mode", "status",
	"fetch_interval_minutes", "last_fetched_at", "last_error", "site",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, staticIDs{id: "src-1"})
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, nil)
	require.Error(t, err)
}

func TestMigrateRunsEveryStatement(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sources").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS articles").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS articles_fetched_at_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS financial_data").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSourceGeneratesID(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	src := ingest.Source{
		Name:                 "SPK",
		OriginURL:            "https://www.spk.gov.tr",
		Mode:                 ingest.ModeScraping,
		FetchIntervalMinutes: 360,
		Site:                 "spk",
	}
	mock.ExpectQuery("INSERT INTO sources").
		WithArgs("src-1", "SPK", "https://www.spk.gov.tr", "", "scraping", "", 360, "spk").
		WillReturnRows(pgxmock.NewRows(sourceCols).
			AddRow("src-1", "SPK", "https://www.spk.gov.tr", "", "scraping", "active", 360, nil, "", "spk"))

	saved, err := store.UpsertSource(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, "src-1", saved.ID)
	require.Equal(t, ingest.SourceActive, saved.Status)
	require.Nil(t, saved.LastFetchedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSourcesBuildsFilter(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	fetched := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .* FROM sources WHERE mode = \$1 AND status = ANY\(\$2\) ORDER BY name`).
		WithArgs("rss", []string{"active", "error"}).
		WillReturnRows(pgxmock.NewRows(sourceCols).
			AddRow("a", "Resmi Gazete", "https://www.resmigazete.gov.tr", "https://www.resmigazete.gov.tr/rss",
				"rss", "active", 30, &fetched, "", "").
			AddRow("b", "TCMB Duyurular", "https://www.tcmb.gov.tr", "https://www.tcmb.gov.tr/rss",
				"rss", "error", 60, nil, "status 503", ""))

	sources, err := store.ListSources(context.Background(), ingest.SourceFilter{
		Mode:     ingest.ModeRSS,
		Statuses: []ingest.SourceStatus{ingest.SourceActive, ingest.SourceError},
	})
	require.NoError(t, err)
	require.Len(t, sources, 2)
	require.Equal(t, fetched, *sources[0].LastFetchedAt)
	require.Equal(t, ingest.SourceError, sources[1].Status)
	require.Equal(t, "status 503", sources[1].LastError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSourceByNameNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .* FROM sources WHERE name = \\$1").
		WithArgs("Yok").
		WillReturnRows(pgxmock.NewRows(sourceCols))

	_, err := store.GetSourceByName(context.Background(), "Yok")
	require.ErrorIs(t, err, ingest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSourceStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE sources").
		WithArgs("src-1", "error", "timeout", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE sources").
		WithArgs("missing", "active", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.UpdateSourceStatus(context.Background(), "src-1", ingest.SourceError, nil, "timeout"))
	now := time.Now()
	err := store.UpdateSourceStatus(context.Background(), "missing", ingest.SourceActive, &now, "")
	require.ErrorIs(t, err, ingest.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertArticleDuplicate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	article := ingest.Article{
		ID:          "art-1",
		SourceID:    "src-1",
		Title:       "Kurul Karar Organı",
		URL:         "https://www.spk.gov.tr/duyuru/1",
		FetchedAt:   time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
		Fingerprint: "abc",
		Category:    ingest.CategoryAnnouncement,
		Language:    "tr",
	}
	mock.ExpectExec("INSERT INTO articles").
		WithArgs(
			"art-1", "src-1", article.Title, "", "", article.URL, pgxmock.AnyArg(), article.FetchedAt,
			"abc", "announcement", []string{}, "", "", "tr", 0,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO articles").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.InsertArticle(context.Background(), article))
	err := store.InsertArticle(context.Background(), article)
	require.ErrorIs(t, err, ingest.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArticleExistsAndDelete(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cutoff := time.Date(2023, 12, 16, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT EXISTS").WithArgs("abc").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("DELETE FROM articles WHERE fetched_at < \\$1").WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	exists, err := store.ArticleExists(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, exists)

	n, err := store.DeleteArticlesBefore(context.Background(), cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestObservations(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	buying := 32.1234
	obs := ingest.FinancialObservation{
		Type:        ingest.ObservationExchangeRate,
		Code:        "USD",
		Name:        "ABD DOLARI",
		Value:       buying,
		Unit:        "1",
		Date:        "2024-03-15",
		Source:      "TCMB",
		ForexBuying: &buying,
	}
	cols := []string{
		"type", "code", "date", "name", "value", "unit", "source",
		"forex_buying", "forex_selling", "banknote_buying", "banknote_selling", "cross_rate_usd", "cross_rate_other",
	}

	mock.ExpectExec("INSERT INTO financial_data").
		WithArgs("exchange_rate", "USD", "2024-03-15", "ABD DOLARI", buying, "1", "TCMB",
			&buying, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FROM financial_data WHERE type = \\$1 AND date = \\$2::date").
		WithArgs("exchange_rate", "2024-03-15").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("exchange_rate", "USD", "2024-03-15", "ABD DOLARI", buying, "1", "TCMB", &buying, nil, nil, nil, nil, nil))
	mock.ExpectQuery("max\\(date\\)").
		WithArgs("gold_price").
		WillReturnRows(pgxmock.NewRows(cols))
	mock.ExpectQuery("BETWEEN").
		WithArgs("exchange_rate", "USD", "2024-02-14", "2024-03-15").
		WillReturnError(errors.New("connection reset"))

	ctx := context.Background()
	require.NoError(t, store.UpsertObservation(ctx, obs))

	rows, err := store.ObservationsForDate(ctx, ingest.ObservationExchangeRate, "2024-03-15")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, obs, rows[0])

	gold, err := store.LatestObservations(ctx, ingest.ObservationGoldPrice)
	require.NoError(t, err)
	require.NotNil(t, gold)
	require.Empty(t, gold)

	_, err = store.ObservationRange(ctx, ingest.ObservationExchangeRate, "USD", "2024-02-14", "2024-03-15")
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}
