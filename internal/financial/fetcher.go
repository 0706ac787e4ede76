// Package financial retrieves central bank exchange rates and gold prices,
// persisting each observation and serving persisted rows when the upstream fails.
package financial

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
	"github.com/JakeFAU/resmi-haber-crawler/internal/metrics"
)

const (
	// DefaultBaseURL is the TCMB daily bulletin root.
	DefaultBaseURL = "https://www.tcmb.gov.tr/kurlar"
	// SourceName tags persisted exchange rate observations.
	SourceName = "TCMB"
	// DefaultHistoryDays is used when HistoricalRates gets a non-positive window.
	DefaultHistoryDays = 30
)

// Config controls upstream endpoints and caching.
type Config struct {
	BaseURL  string
	GoldURL  string
	CacheTTL time.Duration
	Timeout  time.Duration
	// Location decides what "today" means for bulletin dates.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// ExchangeRate is one currency row of a daily bulletin.
type ExchangeRate struct {
	Code            string   `json:"code"`
	Name            string   `json:"name"`
	Unit            int      `json:"unit"`
	ForexBuying     *float64 `json:"forex_buying,omitempty"`
	ForexSelling    *float64 `json:"forex_selling,omitempty"`
	BanknoteBuying  *float64 `json:"banknote_buying,omitempty"`
	BanknoteSelling *float64 `json:"banknote_selling,omitempty"`
	CrossRateUSD    *float64 `json:"cross_rate_usd,omitempty"`
	CrossRateOther  *float64 `json:"cross_rate_other,omitempty"`
	Date            string   `json:"date"`
}

// GoldPrice is one gold quote.
type GoldPrice struct {
	Code     string  `json:"code"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Unit     string  `json:"unit"`
	Currency string  `json:"currency"`
	Date     string  `json:"date"`
}

// HistoricalPoint is one day of a currency's history.
type HistoricalPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

type cacheEntry struct {
	at    time.Time
	rates []ExchangeRate
}

// Fetcher serves exchange rates and gold prices.
type Fetcher struct {
	cfg    Config
	http   ingest.PageFetcher
	store  ingest.FinancialStore
	clock  ingest.Clock
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	group singleflight.Group
}

// New constructs a Fetcher. pages performs the HTTP GETs and store persists observations.
func New(cfg Config, pages ingest.PageFetcher, store ingest.FinancialStore, clock ingest.Clock, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:    cfg.withDefaults(),
		http:   pages,
		store:  store,
		clock:  clock,
		logger: logger.Named("financial"),
		cache:  make(map[string]cacheEntry),
	}
}

// BulletinURL returns the bulletin location for date, or today.xml for nil.
func (f *Fetcher) BulletinURL(date *time.Time) string {
	if date == nil {
		return f.cfg.BaseURL + "/today.xml"
	}
	d := date.In(f.cfg.Location)
	return fmt.Sprintf("%s/%s/%s.xml", f.cfg.BaseURL, d.Format("200601"), d.Format("02012006"))
}

// ExchangeRates returns the bulletin for date (nil means today). Results are
// cached per requested date for CacheTTL. When the upstream fails, persisted
// rows for the date are returned, and for today the latest stored bulletin.
// With none, the error is DataUnavailable.
func (f *Fetcher) ExchangeRates(ctx context.Context, date *time.Time) ([]ExchangeRate, error) {
	key := f.dateKey(date)
	if rates, ok := f.cached(key); ok {
		metrics.ObserveFinancial("exchange_rates", "cache")
		return rates, nil
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		if rates, ok := f.cached(key); ok {
			return rates, nil
		}
		rates, err := f.fetchRates(ctx, date, key)
		if err == nil {
			f.mu.Lock()
			f.cache[key] = cacheEntry{at: f.clock.Now(), rates: rates}
			f.mu.Unlock()
		}
		return rates, err
	})
	if err != nil {
		return nil, err
	}
	return cloneRates(v.([]ExchangeRate)), nil
}

func (f *Fetcher) fetchRates(ctx context.Context, date *time.Time, key string) ([]ExchangeRate, error) {
	url := f.BulletinURL(date)
	rates, bulletinDate, err := f.download(ctx, url, key)
	if err == nil {
		metrics.ObserveFinancial("exchange_rates", "ok")
		f.persistRates(ctx, rates)
		f.logger.Debug("exchange rates fetched",
			zap.String("date", bulletinDate), zap.Int("currencies", len(rates)))
		return rates, nil
	}

	f.logger.Warn("exchange rate fetch failed, trying persisted rows",
		zap.String("url", url), zap.Error(err))
	rows, storeErr := f.store.ObservationsForDate(ctx, ingest.ObservationExchangeRate, key)
	if storeErr != nil {
		f.logger.Error("load persisted exchange rates", zap.String("date", key), zap.Error(storeErr))
	}
	if len(rows) == 0 && date == nil {
		// No bulletin is published on weekends and holidays, so "today" falls
		// back to the most recent stored bulletin.
		rows, storeErr = f.store.LatestObservations(ctx, ingest.ObservationExchangeRate)
		if storeErr != nil {
			f.logger.Error("load latest exchange rates", zap.Error(storeErr))
		}
	}
	if len(rows) > 0 {
		metrics.ObserveFinancial("exchange_rates", "fallback")
		return ratesFromObservations(rows), nil
	}
	metrics.ObserveFinancial("exchange_rates", "unavailable")
	return nil, ingest.DataUnavailable("exchange rates", "no bulletin for %s: %v", key, err)
}

func (f *Fetcher) download(ctx context.Context, url, fallbackDate string) ([]ExchangeRate, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	body, err := f.http.Fetch(ctx, url)
	if err != nil {
		return nil, "", err
	}
	rates, date, err := parseExchangeRates(body, fallbackDate)
	if err != nil {
		return nil, "", ingest.NewError(ingest.KindParse, "exchange rates", url, err)
	}
	return rates, date, nil
}

func (f *Fetcher) persistRates(ctx context.Context, rates []ExchangeRate) {
	for _, r := range rates {
		if err := f.store.UpsertObservation(ctx, rateObservation(r)); err != nil {
			f.logger.Error("persist exchange rate",
				zap.String("code", r.Code), zap.String("date", r.Date), zap.Error(err))
		}
	}
}

// GoldPrices returns prices from the configured gold feed, else the latest
// persisted gold rows. It never fabricates values.
func (f *Fetcher) GoldPrices(ctx context.Context) ([]GoldPrice, error) {
	var fetchErr error
	if f.cfg.GoldURL != "" {
		prices, err := f.downloadGold(ctx)
		if err == nil {
			metrics.ObserveFinancial("gold", "ok")
			for _, p := range prices {
				if err := f.store.UpsertObservation(ctx, goldObservation(p)); err != nil {
					f.logger.Error("persist gold price", zap.String("code", p.Code), zap.Error(err))
				}
			}
			return prices, nil
		}
		fetchErr = err
		f.logger.Warn("gold feed fetch failed, trying persisted rows", zap.Error(err))
	}

	rows, err := f.store.LatestObservations(ctx, ingest.ObservationGoldPrice)
	if err != nil {
		f.logger.Error("load persisted gold prices", zap.Error(err))
	}
	if len(rows) > 0 {
		metrics.ObserveFinancial("gold", "fallback")
		return goldFromObservations(rows), nil
	}
	metrics.ObserveFinancial("gold", "unavailable")
	if fetchErr != nil {
		return nil, ingest.DataUnavailable("gold prices", "feed failed and nothing persisted: %v", fetchErr)
	}
	return nil, ingest.DataUnavailable("gold prices", "no gold feed configured and nothing persisted")
}

func (f *Fetcher) downloadGold(ctx context.Context) ([]GoldPrice, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	body, err := f.http.Fetch(ctx, f.cfg.GoldURL)
	if err != nil {
		return nil, err
	}
	prices, err := parseGold(body, f.today())
	if err != nil {
		return nil, ingest.NewError(ingest.KindParse, "gold prices", f.cfg.GoldURL, err)
	}
	return prices, nil
}

// HistoricalRates returns persisted ForexBuying values for code over the last
// days days, oldest first. It returns an empty slice when nothing is stored.
func (f *Fetcher) HistoricalRates(ctx context.Context, code string, days int) ([]HistoricalPoint, error) {
	if days <= 0 {
		days = DefaultHistoryDays
	}
	now := f.clock.Now().In(f.cfg.Location)
	from := now.AddDate(0, 0, -days).Format(ingest.DateLayout)
	to := now.Format(ingest.DateLayout)

	rows, err := f.store.ObservationRange(ctx, ingest.ObservationExchangeRate, strings.ToUpper(strings.TrimSpace(code)), from, to)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", code, err)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	points := make([]HistoricalPoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, HistoricalPoint{Date: r.Date, Value: r.Value})
	}
	return points, nil
}

// Refresh fetches today's bulletin and gold prices, bypassing the cache.
// Gold data being unavailable is not an error.
func (f *Fetcher) Refresh(ctx context.Context) (int, error) {
	f.ClearCache()
	rates, err := f.ExchangeRates(ctx, nil)
	if err != nil {
		return 0, err
	}
	n := len(rates)
	if f.cfg.GoldURL != "" {
		prices, err := f.GoldPrices(ctx)
		if err != nil {
			f.logger.Warn("gold refresh failed", zap.Error(err))
		}
		n += len(prices)
	}
	return n, nil
}

// ClearCache drops every cached bulletin.
func (f *Fetcher) ClearCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]cacheEntry)
}

func (f *Fetcher) cached(key string) ([]ExchangeRate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[key]
	if !ok {
		return nil, false
	}
	if f.clock.Now().Sub(entry.at) >= f.cfg.CacheTTL {
		delete(f.cache, key)
		return nil, false
	}
	return cloneRates(entry.rates), true
}

func (f *Fetcher) dateKey(date *time.Time) string {
	if date == nil {
		return f.today()
	}
	return date.In(f.cfg.Location).Format(ingest.DateLayout)
}

func (f *Fetcher) today() string {
	return f.clock.Now().In(f.cfg.Location).Format(ingest.DateLayout)
}

func cloneRates(in []ExchangeRate) []ExchangeRate {
	out := make([]ExchangeRate, len(in))
	copy(out, in)
	return out
}

func rateObservation(r ExchangeRate) ingest.FinancialObservation {
	var value float64
	if r.ForexBuying != nil {
		value = *r.ForexBuying
	}
	return ingest.FinancialObservation{
		Type:            ingest.ObservationExchangeRate,
		Code:            r.Code,
		Name:            r.Name,
		Value:           value,
		Unit:            fmt.Sprintf("%d", r.Unit),
		Date:            r.Date,
		Source:          SourceName,
		ForexBuying:     r.ForexBuying,
		ForexSelling:    r.ForexSelling,
		BanknoteBuying:  r.BanknoteBuying,
		BanknoteSelling: r.BanknoteSelling,
		CrossRateUSD:    r.CrossRateUSD,
		CrossRateOther:  r.CrossRateOther,
	}
}

func ratesFromObservations(rows []ingest.FinancialObservation) []ExchangeRate {
	rates := make([]ExchangeRate, 0, len(rows))
	for _, o := range rows {
		unit := 1
		if _, err := fmt.Sscanf(o.Unit, "%d", &unit); err != nil || unit <= 0 {
			unit = 1
		}
		rates = append(rates, ExchangeRate{
			Code:            o.Code,
			Name:            o.Name,
			Unit:            unit,
			ForexBuying:     o.ForexBuying,
			ForexSelling:    o.ForexSelling,
			BanknoteBuying:  o.BanknoteBuying,
			BanknoteSelling: o.BanknoteSelling,
			CrossRateUSD:    o.CrossRateUSD,
			CrossRateOther:  o.CrossRateOther,
			Date:            o.Date,
		})
	}
	return rates
}

func goldObservation(p GoldPrice) ingest.FinancialObservation {
	return ingest.FinancialObservation{
		Type:   ingest.ObservationGoldPrice,
		Code:   p.Code,
		Name:   p.Name,
		Value:  p.Price,
		Unit:   p.Unit,
		Date:   p.Date,
		Source: "gold_feed",
	}
}

func goldFromObservations(rows []ingest.FinancialObservation) []GoldPrice {
	prices := make([]GoldPrice, 0, len(rows))
	for _, o := range rows {
		prices = append(prices, GoldPrice{
			Code:     o.Code,
			Name:     o.Name,
			Price:    o.Value,
			Unit:     o.Unit,
			Currency: "TRY",
			Date:     o.Date,
		})
	}
	return prices
}
