// Package scraper implements the robots-aware HTML scraping engine and the
// data-driven site configurations built on it.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/resmi-haber-crawler/internal/clock/system"
	"github.com/JakeFAU/resmi-haber-crawler/internal/hash/sha256"
	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
	"github.com/JakeFAU/resmi-haber-crawler/internal/metrics"
)

// RobotsChecker decides whether a URL may be fetched.
type RobotsChecker interface {
	IsAllowed(ctx context.Context, rawURL string) (bool, error)
}

// Waiter spaces requests per origin.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Pauser sleeps between batches, honouring ctx.
type Pauser interface {
	Pause(ctx context.Context, d time.Duration) error
}

// RenderDetector flags plainly fetched pages that need a browser.
type RenderDetector interface {
	NeedsRendering(body []byte) bool
}

// Config tunes batching and politeness pauses.
type Config struct {
	Concurrency   int
	BatchPause    time.Duration
	ArticlePause  time.Duration
	CategoryPause time.Duration
	MaxArticles   int
	Selectors     Selectors
	// ArchivePrefix and ArchiveContentType apply when Deps.Archive is set.
	ArchivePrefix      string
	ArchiveContentType string
}

// DefaultConfig returns the production pacing.
func DefaultConfig() Config {
	return Config{
		Concurrency:        2,
		BatchPause:         time.Second,
		ArticlePause:       1500 * time.Millisecond,
		CategoryPause:      2 * time.Second,
		MaxArticles:        10,
		Selectors:          DefaultSelectors(),
		ArchivePrefix:      "pages",
		ArchiveContentType: "text/html; charset=utf-8",
	}
}

// Deps are the collaborators of the engine. Fetcher, Robots and Limiter are required.
type Deps struct {
	Fetcher  ingest.PageFetcher
	Renderer ingest.PageFetcher
	Detector RenderDetector
	Robots   RobotsChecker
	Limiter  Waiter
	Archive  ingest.BlobStore
	Hasher   ingest.Hasher
	Pauser   Pauser
	Clock    ingest.Clock
	Logger   *zap.Logger
}

// Engine scrapes single URLs, batches and configured sites.
type Engine struct {
	cfg      Config
	fetcher  ingest.PageFetcher
	renderer ingest.PageFetcher
	detector RenderDetector
	robots   RobotsChecker
	limiter  Waiter
	archive  ingest.BlobStore
	hasher   ingest.Hasher
	pauser   Pauser
	clock    ingest.Clock
	logger   *zap.Logger
}

// New builds an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Fetcher == nil || deps.Robots == nil || deps.Limiter == nil {
		return nil, errors.New("scraper requires a fetcher, robots policy and rate limiter")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxArticles <= 0 {
		cfg.MaxArticles = 10
	}
	cfg.Selectors = cfg.Selectors.merge(DefaultSelectors())
	e := &Engine{
		cfg:      cfg,
		fetcher:  deps.Fetcher,
		renderer: deps.Renderer,
		detector: deps.Detector,
		robots:   deps.Robots,
		limiter:  deps.Limiter,
		archive:  deps.Archive,
		hasher:   deps.Hasher,
		pauser:   deps.Pauser,
		clock:    deps.Clock,
		logger:   deps.Logger,
	}
	if e.hasher == nil {
		e.hasher = sha256.New()
	}
	if e.pauser == nil {
		e.pauser = timerPause{}
	}
	if e.clock == nil {
		e.clock = system.New()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.Named("scraper")
	return e, nil
}

// ScrapeURL runs the robots check, rate-limit wait, fetch and extraction for
// one URL using the default selectors. Failures are reported in the result.
func (e *Engine) ScrapeURL(ctx context.Context, rawURL string) ingest.ScrapeResult {
	return e.scrapeDetail(ctx, rawURL, nil)
}

// ScrapeBatch scrapes urls grouped by origin. Origins run in parallel; within
// an origin at most Concurrency requests are in flight and batches are
// separated by BatchPause. Results are returned in input order.
func (e *Engine) ScrapeBatch(ctx context.Context, urls []string) []ingest.ScrapeResult {
	results := make([]ingest.ScrapeResult, len(urls))
	groups := make(map[string][]int)
	var order []string
	for i, raw := range urls {
		origin, err := ingest.Origin(raw)
		if err != nil {
			results[i] = ingest.Failed(raw, ingest.NewError(ingest.KindParse, "scrape", raw, err))
			continue
		}
		if _, ok := groups[origin]; !ok {
			order = append(order, origin)
		}
		groups[origin] = append(groups[origin], i)
	}

	var g errgroup.Group
	for _, origin := range order {
		indices := groups[origin]
		g.Go(func() error {
			e.scrapeOrigin(ctx, urls, indices, results)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) scrapeOrigin(ctx context.Context, urls []string, indices []int, results []ingest.ScrapeResult) {
	for start := 0; start < len(indices); start += e.cfg.Concurrency {
		end := start + e.cfg.Concurrency
		if end > len(indices) {
			end = len(indices)
		}
		var wg sync.WaitGroup
		for _, idx := range indices[start:end] {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = e.ScrapeURL(ctx, urls[idx])
			}(idx)
		}
		wg.Wait()

		if end < len(indices) {
			if err := e.pauser.Pause(ctx, e.cfg.BatchPause); err != nil {
				for _, idx := range indices[end:] {
					results[idx] = ingest.Failed(urls[idx], err)
				}
				return
			}
		}
	}
}

// CategoryResult reports one list page of a site run.
type CategoryResult struct {
	Name    string `json:"name"`
	ListURL string `json:"list_url"`
	Links   int    `json:"links"`
	Scraped int    `json:"scraped"`
	Error   string `json:"error,omitempty"`
}

// SiteResult aggregates a ScrapeSite run.
type SiteResult struct {
	Site       string                `json:"site"`
	Categories []CategoryResult      `json:"categories"`
	Results    []ingest.ScrapeResult `json:"results"`
}

// Failed reports whether every category list page failed.
func (r SiteResult) Failed() bool {
	if len(r.Categories) == 0 {
		return true
	}
	for _, c := range r.Categories {
		if c.Error == "" {
			return false
		}
	}
	return true
}

// Err summarizes category failures, or nil when at least one category worked.
func (r SiteResult) Err() error {
	if !r.Failed() {
		return nil
	}
	msgs := make([]string, 0, len(r.Categories))
	for _, c := range r.Categories {
		msgs = append(msgs, c.Name+": "+c.Error)
	}
	return fmt.Errorf("site %s: all categories failed: %s", r.Site, strings.Join(msgs, "; "))
}

// ScrapeSite walks every category list page of site and scrapes up to
// MaxArticles detail pages per category.
func (e *Engine) ScrapeSite(ctx context.Context, site SiteConfig) SiteResult {
	result := SiteResult{Site: site.Name}
	limit := site.MaxArticles
	if limit <= 0 {
		limit = e.cfg.MaxArticles
	}
	logger := e.logger.With(zap.String("site", site.Name))

	for ci, category := range site.Categories {
		if ci > 0 {
			if err := e.pauser.Pause(ctx, e.cfg.CategoryPause); err != nil {
				break
			}
		}
		cr := CategoryResult{Name: category.Name, ListURL: site.ListURL(category)}

		body, err := e.fetchPage(ctx, cr.ListURL, site.Key(), site.Headless)
		if err != nil {
			cr.Error = err.Error()
			logger.Warn("list page failed", zap.String("category", category.Name), zap.Error(err))
			result.Categories = append(result.Categories, cr)
			continue
		}
		links, err := ExtractLinks(body, cr.ListURL, site)
		if err != nil {
			cr.Error = err.Error()
			result.Categories = append(result.Categories, cr)
			continue
		}
		cr.Links = len(links)
		if len(links) == 0 {
			logger.Warn("no article links found", zap.String("category", category.Name))
		}
		if len(links) > limit {
			links = links[:limit]
		}

		for li, link := range links {
			if li > 0 {
				if err := e.pauser.Pause(ctx, e.cfg.ArticlePause); err != nil {
					break
				}
			}
			res := e.scrapeDetail(ctx, link, &site)
			res.Category = category.Name
			if res.Success {
				cr.Scraped++
			}
			result.Results = append(result.Results, res)
		}
		logger.Info("category scraped",
			zap.String("category", category.Name),
			zap.Int("links", cr.Links),
			zap.Int("scraped", cr.Scraped),
		)
		result.Categories = append(result.Categories, cr)
	}
	return result
}

func (e *Engine) scrapeDetail(ctx context.Context, rawURL string, site *SiteConfig) ingest.ScrapeResult {
	selectors := e.cfg.Selectors
	var (
		strip  []string
		key    = metrics.SanitizeSite(rawURL)
		render bool
	)
	if site != nil {
		selectors = site.Selectors.merge(e.cfg.Selectors)
		strip = site.TitleStrip
		key = site.Key()
		render = site.Headless
	}

	body, err := e.fetchPage(ctx, rawURL, key, render)
	if err != nil {
		return ingest.Failed(rawURL, err)
	}
	fields, err := Extract(body, selectors, strip)
	if err != nil {
		var ie *ingest.Error
		if errors.As(err, &ie) && ie.URL == "" {
			ie.URL = rawURL
		}
		e.logger.Debug("extraction failed", zap.String("url", rawURL), zap.Error(err))
		return ingest.Failed(rawURL, err)
	}
	if site != nil {
		if tag := site.Tag(rawURL, fields.Title); tag != "" {
			fields.Tags = append(fields.Tags, tag)
		}
	}
	return ingest.ScrapeResult{URL: rawURL, Success: true, Fields: fields}
}

// fetchPage applies the robots policy and rate limit before fetching. Page
// counts are recorded here, once per page, whichever fetcher served it.
func (e *Engine) fetchPage(ctx context.Context, rawURL, site string, render bool) ([]byte, error) {
	allowed, err := e.robots.IsAllowed(ctx, rawURL)
	if err != nil {
		return nil, ingest.NewError(ingest.KindParse, "robots", rawURL, err)
	}
	if !allowed {
		metrics.ObserveFetch(site, "denied", 0)
		return nil, ingest.PolicyDenied(rawURL)
	}
	if err := e.limiter.Wait(ctx, rawURL); err != nil {
		return nil, ingest.NewError(ingest.KindNetwork, "rate limit", rawURL, err)
	}

	fetcher := e.fetcher
	if render {
		if e.renderer != nil {
			fetcher = e.renderer
		} else {
			e.logger.Debug("headless requested but not configured", zap.String("site", site))
		}
	}
	body, err := fetcher.Fetch(ctx, rawURL)
	if err != nil {
		metrics.ObserveFetch(site, "error", 0)
		return nil, err
	}
	if !render && e.renderer != nil && e.detector != nil && e.detector.NeedsRendering(body) {
		body = e.promote(ctx, rawURL, body)
	}
	metrics.ObserveFetch(site, "ok", len(body))
	e.archivePage(ctx, rawURL, site, body)
	return body, nil
}

// promote re-fetches rawURL through the renderer. The render is a second
// request to the origin, so it waits its turn like any other. On failure the
// plain body is kept.
func (e *Engine) promote(ctx context.Context, rawURL string, plain []byte) []byte {
	if err := e.limiter.Wait(ctx, rawURL); err != nil {
		e.logger.Warn("headless promotion skipped", zap.String("url", rawURL), zap.Error(err))
		return plain
	}
	e.logger.Debug("promoting page to headless", zap.String("url", rawURL))
	rendered, err := e.renderer.Fetch(ctx, rawURL)
	if err != nil {
		e.logger.Warn("headless promotion failed", zap.String("url", rawURL), zap.Error(err))
		return plain
	}
	return rendered
}

func (e *Engine) archivePage(ctx context.Context, rawURL, site string, body []byte) {
	if e.archive == nil {
		return
	}
	digest, err := e.hasher.Hash([]byte(rawURL))
	if err != nil {
		e.logger.Warn("archive key failed", zap.String("url", rawURL), zap.Error(err))
		return
	}
	key := archiveKey(e.cfg.ArchivePrefix, site, e.clock.Now().Format("2006/01/02"), digest)
	contentType := e.cfg.ArchiveContentType
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	uri, err := e.archive.PutObject(ctx, key, contentType, body)
	if err != nil {
		e.logger.Warn("archive page failed", zap.String("url", rawURL), zap.Error(err))
		return
	}
	e.logger.Debug("page archived", zap.String("url", rawURL), zap.String("uri", uri))
}

type timerPause struct{}

func (timerPause) Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("scrape pause canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
