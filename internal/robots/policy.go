// Package robots fetches, parses and caches robots.txt policies per origin.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/resmi-haber-crawler/internal/clock/system"
	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
	"github.com/JakeFAU/resmi-haber-crawler/internal/metrics"
)

// Config controls robots.txt retrieval.
type Config struct {
	UserAgent          string
	TTL                time.Duration
	Timeout            time.Duration
	FallbackCrawlDelay time.Duration
	DefaultCrawlDelay  time.Duration
	MaxBodyBytes       int64
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = "TurkiyeResmiHaber-Bot/1.0 (+https://turkiyeresmihaber.com/robots)"
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.FallbackCrawlDelay <= 0 {
		c.FallbackCrawlDelay = 5 * time.Second
	}
	if c.DefaultCrawlDelay <= 0 {
		c.DefaultCrawlDelay = time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	return c
}

// Entry is the cached policy of one origin.
type Entry struct {
	Origin     string
	Rules      Rules
	CrawlDelay time.Duration
	// Fallback is set when robots.txt could not be retrieved and the
	// permissive default applies.
	Fallback  bool
	Reason    string
	FetchedAt time.Time
	ExpiresAt time.Time
}

// Sitemaps lists the sitemap URLs declared by the origin.
func (e *Entry) Sitemaps() []string {
	return append([]string(nil), e.Rules.Sitemaps...)
}

// Decision is the outcome of a CanCrawl check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	CrawlDelay time.Duration `json:"crawl_delay"`
	Reason     string        `json:"reason,omitempty"`
	Fallback   bool          `json:"fallback"`
}

// Policy caches robots.txt rules per origin. Safe for concurrent use.
type Policy struct {
	cfg    Config
	client *http.Client
	clock  ingest.Clock
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*Entry
	group   singleflight.Group
}

// New builds a Policy. A nil client gets one bound by cfg.Timeout.
func New(cfg Config, client *http.Client, clock ingest.Clock, logger *zap.Logger) *Policy {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	return &Policy{
		cfg:     cfg,
		client:  client,
		clock:   clock,
		logger:  logger,
		entries: make(map[string]*Entry),
	}
}

// UserAgent returns the agent rules are evaluated for.
func (p *Policy) UserAgent() string {
	return p.cfg.UserAgent
}

// Entry returns the cached policy for origin, fetching it when missing or
// expired. It never fails: unreachable robots.txt yields the fallback entry.
func (p *Policy) Entry(ctx context.Context, origin string) *Entry {
	now := p.clock.Now()
	p.mu.Lock()
	entry, ok := p.entries[origin]
	p.mu.Unlock()
	if ok && now.Before(entry.ExpiresAt) {
		return entry
	}

	v, _, _ := p.group.Do(origin, func() (any, error) {
		fresh := p.fetch(ctx, origin)
		if fresh.Fallback && ctx.Err() != nil {
			// A cancelled caller says nothing about the origin; do not cache it.
			return fresh, nil
		}
		p.mu.Lock()
		p.entries[origin] = fresh
		p.mu.Unlock()
		return fresh, nil
	})
	return v.(*Entry)
}

// Rules returns the parsed robots.txt of origin.
func (p *Policy) Rules(ctx context.Context, origin string) Rules {
	return p.Entry(ctx, origin).Rules
}

// IsAllowed reports whether rawURL may be fetched by the configured agent.
func (p *Policy) IsAllowed(ctx context.Context, rawURL string) (bool, error) {
	d, err := p.CanCrawl(ctx, rawURL)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// CanCrawl evaluates rawURL (path plus query) against its origin's policy.
func (p *Policy) CanCrawl(ctx context.Context, rawURL string) (Decision, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Decision{}, fmt.Errorf("parse url: %w", err)
	}
	origin, err := ingest.Origin(rawURL)
	if err != nil {
		return Decision{}, err
	}
	entry := p.Entry(ctx, origin)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	allowed := entry.Rules.IsAllowed(p.cfg.UserAgent, path)
	d := Decision{
		Allowed:    allowed,
		CrawlDelay: entry.CrawlDelay,
		Fallback:   entry.Fallback,
	}
	if !allowed {
		d.Reason = "disallowed by robots.txt"
	} else if entry.Fallback {
		d.Reason = entry.Reason
	}
	return d, nil
}

// CrawlDelay returns the crawl delay for origin.
func (p *Policy) CrawlDelay(ctx context.Context, origin string) time.Duration {
	return p.Entry(ctx, origin).CrawlDelay
}

// Prune drops expired entries and returns how many were removed.
func (p *Policy) Prune() int {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for origin, e := range p.entries {
		if !now.Before(e.ExpiresAt) {
			delete(p.entries, origin)
			removed++
		}
	}
	return removed
}

// Clear empties the cache.
func (p *Policy) Clear() {
	p.mu.Lock()
	p.entries = make(map[string]*Entry)
	p.mu.Unlock()
	p.logger.Info("robots cache cleared")
}

// Len returns the number of cached origins.
func (p *Policy) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Policy) fetch(ctx context.Context, origin string) *Entry {
	now := p.clock.Now()
	robotsURL := origin + "/robots.txt"
	body, err := p.download(ctx, robotsURL)
	if err != nil {
		p.logger.Warn("robots fetch failed; using permissive default",
			zap.String("origin", origin),
			zap.Duration("crawl_delay", p.cfg.FallbackCrawlDelay),
			zap.Error(err),
		)
		metrics.ObserveRobotsFetch("fallback")
		return &Entry{
			Origin:     origin,
			CrawlDelay: p.cfg.FallbackCrawlDelay,
			Fallback:   true,
			Reason:     err.Error(),
			FetchedAt:  now,
			ExpiresAt:  now.Add(p.cfg.TTL),
		}
	}
	rules := Parse(body)
	p.logger.Debug("robots parsed",
		zap.String("origin", origin),
		zap.Int("groups", len(rules.Groups)),
		zap.Int("sitemaps", len(rules.Sitemaps)),
	)
	metrics.ObserveRobotsFetch("ok")
	return &Entry{
		Origin:     origin,
		Rules:      rules,
		CrawlDelay: rules.CrawlDelay(p.cfg.UserAgent, p.cfg.DefaultCrawlDelay),
		FetchedAt:  now,
		ExpiresAt:  now.Add(p.cfg.TTL),
	}
}

func (p *Policy) download(ctx context.Context, robotsURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return "", fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return "", ingest.NewError(ingest.KindNetwork, "fetch robots", robotsURL, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", ingest.NewError(ingest.KindNotFound, "fetch robots", robotsURL,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBodyBytes))
	if err != nil {
		return "", ingest.NewError(ingest.KindNetwork, "read robots", robotsURL, err)
	}
	return string(data), nil
}
