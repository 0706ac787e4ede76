package ingest

import (
	"strings"
	"time"
)

// AcquisitionMode tells the scheduler how a Source is collected.
type AcquisitionMode string

const (
	// ModeRSS polls the source's feed URL.
	ModeRSS AcquisitionMode = "rss"
	// ModeScraping crawls the source's site with a SiteConfig.
	ModeScraping AcquisitionMode = "scraping"
)

// SourceStatus reflects the outcome of the most recent fetch.
type SourceStatus string

const (
	// SourceActive sources are scheduled and last fetched successfully.
	SourceActive SourceStatus = "active"
	// SourceInactive sources are disabled by an operator and never fetched.
	SourceInactive SourceStatus = "inactive"
	// SourceError sources failed their last fetch but remain scheduled.
	SourceError SourceStatus = "error"
)

// MinFetchIntervalMinutes is the smallest cadence a Source may declare.
const MinFetchIntervalMinutes = 5

// Source is a registered content provider.
type Source struct {
	ID                   string          `json:"id" yaml:"id"`
	Name                 string          `json:"name" yaml:"name"`
	OriginURL            string          `json:"origin_url" yaml:"origin_url"`
	FeedURL              string          `json:"feed_url,omitempty" yaml:"feed_url"`
	Mode                 AcquisitionMode `json:"mode" yaml:"mode"`
	Status               SourceStatus    `json:"status" yaml:"status"`
	FetchIntervalMinutes int             `json:"fetch_interval_minutes" yaml:"fetch_interval_minutes"`
	LastFetchedAt        *time.Time      `json:"last_fetched_at,omitempty" yaml:"-"`
	LastError            string          `json:"last_error,omitempty" yaml:"-"`
	Site                 string          `json:"site,omitempty" yaml:"site"`
}

// FetchInterval returns the source cadence, clamped to MinFetchIntervalMinutes.
func (s Source) FetchInterval() time.Duration {
	minutes := s.FetchIntervalMinutes
	if minutes < MinFetchIntervalMinutes {
		minutes = MinFetchIntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// Due reports whether the source should be fetched at now.
func (s Source) Due(now time.Time) bool {
	if s.LastFetchedAt == nil {
		return true
	}
	return !now.Before(s.LastFetchedAt.Add(s.FetchInterval()))
}

// SiteKey returns the scraping site configuration name for the source.
func (s Source) SiteKey() string {
	if s.Site != "" {
		return strings.ToLower(s.Site)
	}
	return strings.ToLower(s.Name)
}

// SourceFilter narrows ListSources results. Empty fields match everything.
type SourceFilter struct {
	Mode     AcquisitionMode
	Statuses []SourceStatus
}

// Matches reports whether the source satisfies the filter.
func (f SourceFilter) Matches(s Source) bool {
	if f.Mode != "" && s.Mode != f.Mode {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if s.Status == st {
			return true
		}
	}
	return false
}

// Category is the coarse topic assigned by the ingestor.
type Category string

// Categories emitted by the keyword categorizer.
const (
	CategoryAnnouncement Category = "announcement"
	CategoryRegulation   Category = "regulation"
	CategoryFinancial    Category = "financial"
	CategoryTechnology   Category = "technology"
	CategoryLegal        Category = "legal"
	CategoryOther        Category = "other"
)

// Article is a normalized announcement. Content fields never change after creation.
type Article struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"source_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Content     string     `json:"content,omitempty"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
	Fingerprint string     `json:"fingerprint"`
	Category    Category   `json:"category"`
	Tags        []string   `json:"tags,omitempty"`
	Author      string     `json:"author,omitempty"`
	GUID        string     `json:"guid,omitempty"`
	Language    string     `json:"language"`
	ViewCount   int        `json:"view_count"`
}

// ObservationType distinguishes financial series.
type ObservationType string

const (
	// ObservationExchangeRate rows carry central bank currency rates.
	ObservationExchangeRate ObservationType = "exchange_rate"
	// ObservationGoldPrice rows carry gold quotes.
	ObservationGoldPrice ObservationType = "gold_price"
)

// DateLayout is the canonical observation date format.
const DateLayout = "2006-01-02"

// FinancialObservation is one upserted financial data point keyed by (Type, Code, Date).
type FinancialObservation struct {
	Type            ObservationType `json:"type"`
	Code            string          `json:"code"`
	Name            string          `json:"name,omitempty"`
	Value           float64         `json:"value"`
	Unit            string          `json:"unit"`
	Date            string          `json:"date"`
	Source          string          `json:"source"`
	ForexBuying     *float64        `json:"forex_buying,omitempty"`
	ForexSelling    *float64        `json:"forex_selling,omitempty"`
	BanknoteBuying  *float64        `json:"banknote_buying,omitempty"`
	BanknoteSelling *float64        `json:"banknote_selling,omitempty"`
	CrossRateUSD    *float64        `json:"cross_rate_usd,omitempty"`
	CrossRateOther  *float64        `json:"cross_rate_other,omitempty"`
}

// Key returns the upsert key of the observation.
func (o FinancialObservation) Key() string {
	return string(o.Type) + "|" + o.Code + "|" + o.Date
}

// FeedItem is the typed output of the RSS/Atom parser.
type FeedItem struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Content     string     `json:"content,omitempty"`
	Link        string     `json:"link"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Author      string     `json:"author,omitempty"`
	Categories  []string   `json:"categories,omitempty"`
	GUID        string     `json:"guid,omitempty"`
}

// ScrapedFields is the typed output of HTML field extraction.
type ScrapedFields struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Content     string     `json:"content,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Category    string     `json:"category,omitempty"`
	Author      string     `json:"author,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

// ScrapeResult reports the outcome of scraping a single URL.
type ScrapeResult struct {
	URL      string        `json:"url"`
	Success  bool          `json:"success"`
	Fields   ScrapedFields `json:"fields"`
	Error    string        `json:"error,omitempty"`
	Err      error         `json:"-"`
	Category string        `json:"list_category,omitempty"`
}

// Failed builds a failed ScrapeResult from err.
func Failed(url string, err error) ScrapeResult {
	return ScrapeResult{URL: url, Success: false, Error: err.Error(), Err: err}
}

// Counts aggregates per-item outcomes of a batch.
type Counts struct {
	Processed  int `json:"processed"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
}

// Add merges other into c.
func (c *Counts) Add(other Counts) {
	c.Processed += other.Processed
	c.Succeeded += other.Succeeded
	c.Failed += other.Failed
	c.Inserted += other.Inserted
	c.Duplicates += other.Duplicates
}

// ArticleEvent is published for every newly inserted article.
type ArticleEvent struct {
	ArticleID   string     `json:"article_id"`
	SourceID    string     `json:"source_id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Category    Category   `json:"category"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	FetchedAt   time.Time  `json:"fetched_at"`
}
