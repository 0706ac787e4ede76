package financial

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/resmi-haber-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
	"github.com/JakeFAU/resmi-haber-crawler/internal/storage/memory"
)

const bulletin = `<?xml version="1.0" encoding="UTF-8"?>
<Tarih_Date Tarih="15.03.2024" Date="03/15/2024" Bulten_No="2024/52">
  <Currency CrossOrder="0" Kod="USD" CurrencyCode="USD">
    <Unit>1</Unit>
    <Isim>ABD DOLARI</Isim>
    <CurrencyName>US DOLLAR</CurrencyName>
    <ForexBuying>32.1234</ForexBuying>
    <ForexSelling>32.1812</ForexSelling>
    <BanknoteBuying>32.1009</BanknoteBuying>
    <BanknoteSelling>32.2295</BanknoteSelling>
    <CrossRateUSD/>
    <CrossRateOther/>
  </Currency>
  <Currency CrossOrder="1" Kod="JPY" CurrencyCode="JPY">
    <Unit>100</Unit>
    <Isim>JAPON YENİ</Isim>
    <ForexBuying>21,6512</ForexBuying>
    <ForexSelling>21,7945</ForexSelling>
    <BanknoteBuying></BanknoteBuying>
    <BanknoteSelling></BanknoteSelling>
    <CrossRateUSD>148.46</CrossRateUSD>
  </Currency>
</Tarih_Date>`

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingPages struct{ err error }

func (f failingPages) Fetch(context.Context, string) ([]byte, error) { return nil, f.err }

func newTestFetcher(t *testing.T, baseURL, goldURL string) (*Fetcher, *memory.Store, *stepClock) {
	t.Helper()
	store := memory.NewStore()
	clock := &stepClock{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	pages := collyfetcher.New(collyfetcher.Config{MaxRetries: 1}, nil, nil)
	f := New(Config{BaseURL: baseURL, GoldURL: goldURL}, pages, store, clock, nil)
	return f, store, clock
}

func TestBulletinURL(t *testing.T) {
	t.Parallel()

	f := New(Config{BaseURL: "https://www.tcmb.gov.tr/kurlar/"}, failingPages{}, memory.NewStore(), &stepClock{}, nil)
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "https://www.tcmb.gov.tr/kurlar/202403/05032024.xml", f.BulletinURL(&date))
	assert.Equal(t, "https://www.tcmb.gov.tr/kurlar/today.xml", f.BulletinURL(nil))
}

func TestExchangeRatesParsesAndPersists(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/kurlar/202403/15032024.xml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(bulletin))
	}))
	t.Cleanup(srv.Close)

	f, store, _ := newTestFetcher(t, srv.URL+"/kurlar", "")
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	rates, err := f.ExchangeRates(context.Background(), &date)
	require.NoError(t, err)
	require.Len(t, rates, 2)

	usd := rates[0]
	assert.Equal(t, "USD", usd.Code)
	assert.Equal(t, "ABD DOLARI", usd.Name)
	assert.Equal(t, "2024-03-15", usd.Date)
	require.NotNil(t, usd.ForexBuying)
	assert.InDelta(t, 32.1234, *usd.ForexBuying, 1e-9)
	assert.Nil(t, usd.CrossRateUSD)

	jpy := rates[1]
	assert.Equal(t, 100, jpy.Unit)
	require.NotNil(t, jpy.ForexBuying)
	assert.InDelta(t, 21.6512, *jpy.ForexBuying, 1e-9)
	assert.Nil(t, jpy.BanknoteBuying)

	rows, err := store.ObservationsForDate(context.Background(), ingest.ObservationExchangeRate, "2024-03-15")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, SourceName, rows[0].Source)
}

func TestExchangeRatesCachesWithinTTL(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(bulletin))
	}))
	t.Cleanup(srv.Close)

	f, _, clock := newTestFetcher(t, srv.URL, "")
	ctx := context.Background()

	_, err := f.ExchangeRates(ctx, nil)
	require.NoError(t, err)
	clock.Advance(4 * time.Minute)
	_, err = f.ExchangeRates(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits), "second call within 5 minutes must be served from cache")

	clock.Advance(2 * time.Minute)
	_, err = f.ExchangeRates(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&hits))

	f.ClearCache()
	_, err = f.ExchangeRates(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestExchangeRatesFallsBackToPersistedRows(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	buying := 31.5
	require.NoError(t, store.UpsertObservation(context.Background(), ingest.FinancialObservation{
		Type: ingest.ObservationExchangeRate, Code: "USD", Name: "ABD DOLARI", Value: buying,
		Unit: "1", Date: "2024-03-14", Source: SourceName, ForexBuying: &buying,
	}))
	clock := &stepClock{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	f := New(Config{}, failingPages{err: ingest.NewError(ingest.KindNetwork, "fetch", "", errors.New("refused"))}, store, clock, nil)

	date := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	rates, err := f.ExchangeRates(context.Background(), &date)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, "USD", rates[0].Code)
	assert.InDelta(t, 31.5, *rates[0].ForexBuying, 1e-9)
}

func TestExchangeRatesTodayFallsBackToLatestBulletin(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	buying := 31.9
	require.NoError(t, store.UpsertObservation(context.Background(), ingest.FinancialObservation{
		Type: ingest.ObservationExchangeRate, Code: "USD", Name: "ABD DOLARI", Value: buying,
		Unit: "1", Date: "2024-03-15", Source: SourceName, ForexBuying: &buying,
	}))
	// Saturday: today.xml is not published and nothing is stored under this date.
	clock := &stepClock{now: time.Date(2024, 3, 16, 12, 0, 0, 0, time.UTC)}
	f := New(Config{}, failingPages{err: ingest.NewError(ingest.KindNotFound, "fetch", "", nil)}, store, clock, nil)

	rates, err := f.ExchangeRates(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, "2024-03-15", rates[0].Date)
	assert.InDelta(t, 31.9, *rates[0].ForexBuying, 1e-9)

	saturday := time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)
	_, err = f.ExchangeRates(context.Background(), &saturday)
	require.ErrorIs(t, err, ingest.ErrDataUnavailable, "an explicit date never borrows another day's rows")
}

func TestExchangeRatesUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	}))
	t.Cleanup(srv.Close)

	f, _, _ := newTestFetcher(t, srv.URL, "")
	_, err := f.ExchangeRates(context.Background(), nil)
	require.ErrorIs(t, err, ingest.ErrDataUnavailable)
}

func TestExchangeRatesMalformedXMLIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>bakım çalışması</html>"))
	}))
	t.Cleanup(srv.Close)

	f, _, _ := newTestFetcher(t, srv.URL, "")
	_, err := f.ExchangeRates(context.Background(), nil)
	require.ErrorIs(t, err, ingest.ErrDataUnavailable)
}

func TestGoldPricesNeverSynthetic(t *testing.T) {
	t.Parallel()

	f, _, _ := newTestFetcher(t, "http://127.0.0.1:1", "")
	prices, err := f.GoldPrices(context.Background())
	require.ErrorIs(t, err, ingest.ErrDataUnavailable)
	require.Empty(t, prices)
}

func TestGoldPricesFromFeedAndFallback(t *testing.T) {
	t.Parallel()

	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`<GoldPrices Date="2024-03-15">
  <Gold Code="GRAM" Unit="gram" Currency="TRY"><Name>Gram Altın</Name><Price>2100,50</Price></Gold>
  <Gold Code="CEYREK"><Name>Çeyrek Altın</Name><Price>3450.75</Price></Gold>
  <Gold Code="BOS"><Name>Eksik</Name><Price></Price></Gold>
</GoldPrices>`))
	}))
	t.Cleanup(srv.Close)

	f, _, _ := newTestFetcher(t, srv.URL, srv.URL+"/gold.xml")
	prices, err := f.GoldPrices(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.InDelta(t, 2100.50, prices[0].Price, 1e-9)
	assert.Equal(t, "gram", prices[1].Unit)
	assert.Equal(t, "TRY", prices[1].Currency)

	down.Store(true)
	prices, err = f.GoldPrices(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, "2024-03-15", prices[0].Date)
}

func TestHistoricalRates(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	ctx := context.Background()
	for _, row := range []struct {
		date  string
		value float64
	}{{"2024-03-14", 32.0}, {"2024-01-01", 29.0}, {"2024-03-10", 31.8}} {
		require.NoError(t, store.UpsertObservation(ctx, ingest.FinancialObservation{
			Type: ingest.ObservationExchangeRate, Code: "USD", Value: row.value, Date: row.date, Source: SourceName,
		}))
	}
	clock := &stepClock{now: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)}
	f := New(Config{}, failingPages{}, store, clock, nil)

	points, err := f.HistoricalRates(ctx, "usd", 0)
	require.NoError(t, err)
	require.Equal(t, []HistoricalPoint{{Date: "2024-03-10", Value: 31.8}, {Date: "2024-03-14", Value: 32.0}}, points)

	points, err = f.HistoricalRates(ctx, "EUR", 7)
	require.NoError(t, err)
	require.NotNil(t, points)
	require.Empty(t, points)
}

func TestParseNumber(t *testing.T) {
	t.Parallel()

	tests := map[string]*float64{
		"32.1234": ptr(32.1234),
		"21,6512": ptr(21.6512),
		" 7 ":     ptr(7),
		"":        nil,
		"n/a":     nil,
	}
	for in, want := range tests {
		got := parseNumber(in)
		if want == nil {
			assert.Nil(t, got, in)
			continue
		}
		require.NotNil(t, got, in)
		assert.InDelta(t, *want, *got, 1e-9, in)
	}
}

func TestParseExchangeRatesLegacyCharset(t *testing.T) {
	t.Parallel()

	// 0xDD is İ in ISO-8859-9.
	body := []byte("<?xml version=\"1.0\" encoding=\"ISO-8859-9\"?>" +
		"<Tarih_Date Tarih=\"01.02.2024\"><Currency Kod=\"GBP\"><Unit>1</Unit>" +
		"<Isim>\xDDNG\xDDL\xDDZ STERL\xDDN\xDD</Isim><ForexBuying>38,5</ForexBuying></Currency></Tarih_Date>")

	rates, date, err := parseExchangeRates(body, "fallback")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01", date)
	require.Len(t, rates, 1)
	assert.Equal(t, "İNGİLİZ STERLİNİ", rates[0].Name)
}

func ptr(v float64) *float64 { return &v }
