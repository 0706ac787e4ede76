package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/resmi-haber-crawler/internal/config"
	"github.com/JakeFAU/resmi-haber-crawler/internal/feed"
	"github.com/JakeFAU/resmi-haber-crawler/internal/financial"
	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
	"github.com/JakeFAU/resmi-haber-crawler/internal/robots"
	"github.com/JakeFAU/resmi-haber-crawler/internal/scheduler"
)

type fakeJobs struct {
	rssCalls   int
	scrapeArgs []string
	triggerErr error
	triggered  string
}

func (f *fakeJobs) RunRSSUpdate(context.Context) feed.UpdateResult {
	f.rssCalls++
	return feed.UpdateResult{Success: true, Message: "checked 2 feeds", Checked: 2}
}

func (f *fakeJobs) RunScraping(_ context.Context, names []string) scheduler.ScrapeRunResult {
	f.scrapeArgs = names
	return scheduler.ScrapeRunResult{Success: true, Message: "scraped", Sources: []scheduler.SourceScrape{{Source: "SPK"}}}
}

func (f *fakeJobs) TriggerJob(_ context.Context, kind string) (scheduler.JobResult, error) {
	f.triggered = kind
	if f.triggerErr != nil {
		return scheduler.JobResult{Kind: kind}, f.triggerErr
	}
	return scheduler.JobResult{Kind: kind, Processed: 3, Succeeded: 3}, nil
}

func (f *fakeJobs) Status() scheduler.Status {
	return scheduler.Status{Running: true, Jobs: []scheduler.JobStatus{{Kind: scheduler.JobRSS, Cadence: "30m0s"}}}
}

type fakeFinancial struct {
	date *time.Time
	err  error
	days int
}

func (f *fakeFinancial) ExchangeRates(_ context.Context, date *time.Time) ([]financial.ExchangeRate, error) {
	f.date = date
	if f.err != nil {
		return nil, f.err
	}
	buying := 32.1
	return []financial.ExchangeRate{{Code: "USD", Name: "ABD DOLARI", Unit: 1, ForexBuying: &buying, Date: "2024-03-01"}}, nil
}

func (f *fakeFinancial) GoldPrices(context.Context) ([]financial.GoldPrice, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []financial.GoldPrice{{Code: "XAU", Price: 2100, Unit: "gram", Currency: "TRY"}}, nil
}

func (f *fakeFinancial) HistoricalRates(_ context.Context, code string, days int) ([]financial.HistoricalPoint, error) {
	f.days = days
	return []financial.HistoricalPoint{{Date: "2024-03-01", Value: 32.1}}, nil
}

type fakeRobots struct{}

func (fakeRobots) CanCrawl(_ context.Context, rawURL string) (robots.Decision, error) {
	if rawURL == "https://www.spk.gov.tr/private" {
		return robots.Decision{Allowed: false, CrawlDelay: 2 * time.Second, Reason: "disallowed by robots.txt"}, nil
	}
	return robots.Decision{Allowed: true, CrawlDelay: time.Second}, nil
}

type fakeScraper struct{}

func (fakeScraper) ScrapeBatch(_ context.Context, urls []string) []ingest.ScrapeResult {
	out := make([]ingest.ScrapeResult, 0, len(urls))
	for i, u := range urls {
		if i%2 == 1 {
			out = append(out, ingest.Failed(u, errors.New("boom")))
			continue
		}
		out = append(out, ingest.ScrapeResult{URL: u, Success: true, Fields: ingest.ScrapedFields{Title: "Duyuru"}})
	}
	return out
}

func newTestServer(jobs *fakeJobs, fin *fakeFinancial) *Server {
	cfg := config.Config{Scheduler: config.SchedulerConfig{Timezone: "Europe/Istanbul"}}
	return NewServer(Deps{
		Jobs:      jobs,
		Financial: fin,
		Robots:    fakeRobots{},
		Scraper:   fakeScraper{},
	}, cfg, zap.NewNop())
}

func serve(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(&fakeJobs{}, &fakeFinancial{}), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_ReadyzReportsDependencyFailure(t *testing.T) {
	t.Parallel()

	s := NewServer(Deps{Ready: func(context.Context) error { return errors.New("db down") }}, config.Config{}, nil)
	rec := serve(t, s, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "db down")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(&fakeJobs{}, &fakeFinancial{}), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RunRSS(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{}
	rec := serve(t, newTestServer(jobs, &fakeFinancial{}), http.MethodPost, "/v1/rss/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, jobs.rssCalls)
	require.Equal(t, true, decode(t, rec)["success"])
}

func TestServer_RunScrapeWithSources(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{}
	s := newTestServer(jobs, &fakeFinancial{})

	rec := serve(t, s, http.MethodPost, "/v1/scrape/run", []byte(`{"sources":["SPK","EPDK"]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"SPK", "EPDK"}, jobs.scrapeArgs)

	rec = serve(t, s, http.MethodPost, "/v1/scrape/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, jobs.scrapeArgs)

	rec = serve(t, s, http.MethodPost, "/v1/scrape/run", []byte(`{bad`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_TriggerJobStatusCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "ok", want: http.StatusOK},
		{name: "unknown", err: fmt.Errorf("%w: nope", scheduler.ErrUnknownJob), want: http.StatusNotFound},
		{name: "running", err: fmt.Errorf("%w: rss", scheduler.ErrJobRunning), want: http.StatusConflict},
		{name: "other", err: errors.New("sync failed"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			jobs := &fakeJobs{triggerErr: tc.err}
			rec := serve(t, newTestServer(jobs, &fakeFinancial{}), http.MethodPost, "/v1/jobs/financial/trigger", nil)
			require.Equal(t, tc.want, rec.Code)
			require.Equal(t, "financial", jobs.triggered)
		})
	}
}

func TestServer_SchedulerStatus(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(&fakeJobs{}, &fakeFinancial{}), http.MethodGet, "/v1/scheduler/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"kind":"rss"`)
}

func TestServer_ScrapeURLs(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeJobs{}, &fakeFinancial{})
	rec := serve(t, s, http.MethodPost, "/v1/scrape/urls", []byte(`{"urls":["https://a.gov.tr/1","https://a.gov.tr/2"]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.EqualValues(t, 2, body["processed"])
	require.EqualValues(t, 1, body["succeeded"])

	rec = serve(t, s, http.MethodPost, "/v1/scrape/urls", []byte(`{"urls":[]}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "urls required")
}

func TestServer_ExchangeRates(t *testing.T) {
	t.Parallel()

	fin := &fakeFinancial{}
	s := newTestServer(&fakeJobs{}, fin)

	rec := serve(t, s, http.MethodGet, "/v1/financial/exchange-rates?date=2024-03-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, fin.date)
	require.Equal(t, "2024-03-01", fin.date.Format(ingest.DateLayout))
	require.Contains(t, rec.Body.String(), "USD")

	rec = serve(t, s, http.MethodGet, "/v1/financial/exchange-rates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, fin.date)

	rec = serve(t, s, http.MethodGet, "/v1/financial/exchange-rates?date=01.03.2024", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_FinancialUnavailableIs503(t *testing.T) {
	t.Parallel()

	fin := &fakeFinancial{err: ingest.DataUnavailable("gold prices", "nothing persisted")}
	s := newTestServer(&fakeJobs{}, fin)

	rec := serve(t, s, http.MethodGet, "/v1/financial/gold", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	fin.err = errors.New("driver exploded")
	rec = serve(t, s, http.MethodGet, "/v1/financial/exchange-rates", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_History(t *testing.T) {
	t.Parallel()

	fin := &fakeFinancial{}
	s := newTestServer(&fakeJobs{}, fin)

	rec := serve(t, s, http.MethodGet, "/v1/financial/history/usd", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, financial.DefaultHistoryDays, fin.days)
	require.Equal(t, "USD", decode(t, rec)["code"])

	rec = serve(t, s, http.MethodGet, "/v1/financial/history/EUR?days=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 7, fin.days)

	rec = serve(t, s, http.MethodGet, "/v1/financial/history/EUR?days=0", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RobotsCheck(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeJobs{}, &fakeFinancial{})

	rec := serve(t, s, http.MethodGet, "/v1/robots/check?url=https://www.spk.gov.tr/private", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, false, body["allowed"])
	require.EqualValues(t, 2, body["crawl_delay_seconds"])

	rec = serve(t, s, http.MethodGet, "/v1/robots/check?url=ftp://example", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_APIKeyGuardsV1(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	s := NewServer(Deps{Jobs: &fakeJobs{}}, cfg, zap.NewNop())

	rec := serve(t, s, http.MethodGet, "/v1/scheduler/status", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/scheduler/status", nil)
	req.Header.Set("X-API-Key", "secret")
	ok := httptest.NewRecorder()
	s.Handler().ServeHTTP(ok, req)
	require.Equal(t, http.StatusOK, ok.Code)

	rec = serve(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_NilDepsDisableRoutes(t *testing.T) {
	t.Parallel()

	s := NewServer(Deps{}, config.Config{}, zap.NewNop())
	rec := serve(t, s, http.MethodPost, "/v1/rss/run", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
