package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/resmi-haber-crawler/internal/feed"
	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
	"github.com/JakeFAU/resmi-haber-crawler/internal/scraper"
)

// Config sets job cadences.
type Config struct {
	Tick                time.Duration
	Warmup              time.Duration
	RSSInterval         time.Duration
	FinancialInterval   time.Duration
	CleanupInterval     time.Duration
	MaintenanceInterval time.Duration
	RetentionDays       int
	// LimiterIdle is how long a rate limiter origin may sit unused before maintenance drops it.
	LimiterIdle time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 30 * time.Second
	}
	if c.Warmup < 0 {
		c.Warmup = 0
	}
	if c.RSSInterval <= 0 {
		c.RSSInterval = 30 * time.Minute
	}
	if c.FinancialInterval <= 0 {
		c.FinancialInterval = time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 24 * time.Hour
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = time.Hour
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 90
	}
	if c.LimiterIdle <= 0 {
		c.LimiterIdle = time.Hour
	}
	return c
}

// RSSUpdater refreshes rss sources.
type RSSUpdater interface {
	Run(ctx context.Context, force bool) feed.UpdateResult
}

// SiteScraper scrapes every category of one site.
type SiteScraper interface {
	ScrapeSite(ctx context.Context, site scraper.SiteConfig) scraper.SiteResult
}

// SiteLookup resolves a source's site configuration.
type SiteLookup interface {
	Get(name string) (scraper.SiteConfig, bool)
}

// ScrapeIngestor persists scraped results.
type ScrapeIngestor interface {
	IngestScraped(ctx context.Context, source ingest.Source, results []ingest.ScrapeResult) (ingest.Counts, error)
}

// FinancialRefresher pulls today's financial data.
type FinancialRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

// ExpiryPruner drops expired cache entries.
type ExpiryPruner interface {
	Prune() int
}

// IdlePruner drops entries unused for longer than idle.
type IdlePruner interface {
	Prune(idle time.Duration) int
}

// Deps are the collaborators of the built-in jobs. A nil dependency leaves
// its job unregistered.
type Deps struct {
	Sources   ingest.SourceStore
	Articles  ingest.ArticleStore
	RSS       RSSUpdater
	Scraper   SiteScraper
	Sites     SiteLookup
	Ingestor  ScrapeIngestor
	Financial FinancialRefresher
	Robots    ExpiryPruner
	Limiter   IdlePruner
	Clock     ingest.Clock
	Logger    *zap.Logger
}

func (d Deps) canScrape() bool {
	return d.Sources != nil && d.Scraper != nil && d.Sites != nil && d.Ingestor != nil
}

func (s *Scheduler) registerBuiltins() {
	var jobs []Job
	if s.deps.RSS != nil {
		jobs = append(jobs, Job{Kind: JobRSS, Cadence: s.cfg.RSSInterval, Run: s.rssJob})
	}
	if s.deps.Financial != nil {
		jobs = append(jobs, Job{Kind: JobFinancial, Cadence: s.cfg.FinancialInterval, Run: s.financialJob})
	}
	if s.deps.Articles != nil {
		jobs = append(jobs, Job{Kind: JobCleanup, Cadence: s.cfg.CleanupInterval, Run: s.cleanupJob})
	}
	if s.deps.Robots != nil || s.deps.Limiter != nil {
		jobs = append(jobs, Job{Kind: JobMaintenance, Cadence: s.cfg.MaintenanceInterval, Run: s.maintenanceJob})
	}
	for _, job := range jobs {
		if err := s.AddJob(job); err != nil {
			s.logger.Error("register job", zap.String("job", job.Kind), zap.Error(err))
		}
	}
}

// SyncSourceJobs reconciles scrape jobs with the source store: one job per
// active or erroring scraping source, with the source's fetch interval as cadence.
func (s *Scheduler) SyncSourceJobs(ctx context.Context) error {
	if !s.deps.canScrape() {
		return nil
	}
	sources, err := s.deps.Sources.ListSources(ctx, ingest.SourceFilter{
		Mode:     ingest.ModeScraping,
		Statuses: []ingest.SourceStatus{ingest.SourceActive, ingest.SourceError},
	})
	if err != nil {
		return fmt.Errorf("list scraping sources: %w", err)
	}

	wanted := make(map[string]time.Duration, len(sources))
	for _, src := range sources {
		wanted[ScrapeKind(src.Name)] = src.FetchInterval()
	}

	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for kind, st := range s.jobs {
		if !isScrapeKind(kind) {
			continue
		}
		cadence, ok := wanted[kind]
		if !ok {
			if !st.active {
				delete(s.jobs, kind)
				s.logger.Info("scraping job removed", zap.String("job", kind))
			}
			continue
		}
		if st.job.Cadence != cadence {
			st.job.Cadence = cadence
			if !st.lastRun.IsZero() {
				st.nextRun = st.lastRun.Add(cadence)
			}
		}
		delete(wanted, kind)
	}
	for _, src := range sources {
		kind := ScrapeKind(src.Name)
		if _, ok := wanted[kind]; !ok {
			continue
		}
		name := src.Name
		s.jobs[kind] = &jobState{
			job: Job{
				Kind:    kind,
				Cadence: src.FetchInterval(),
				Run: func(ctx context.Context) (JobResult, error) {
					return s.scrapeJob(ctx, name)
				},
			},
			nextRun: now,
		}
		s.logger.Info("scraping job added", zap.String("job", kind), zap.Duration("cadence", src.FetchInterval()))
	}
	return nil
}

// RunRSSUpdate refreshes every rss source now, ignoring fetch intervals.
func (s *Scheduler) RunRSSUpdate(ctx context.Context) feed.UpdateResult {
	st, err := s.acquire(ctx, JobRSS)
	if err != nil {
		return feed.UpdateResult{Success: false, Message: err.Error()}
	}
	var out feed.UpdateResult
	s.execute(ctx, st, func(ctx context.Context) (JobResult, error) {
		out = s.deps.RSS.Run(ctx, true)
		return s.afterRSS(ctx, out)
	})
	return out
}

// SourceScrape is the per-source part of a scraping run.
type SourceScrape struct {
	Source     string                   `json:"source"`
	Site       string                   `json:"site,omitempty"`
	Categories []scraper.CategoryResult `json:"categories,omitempty"`
	Counts     ingest.Counts            `json:"counts"`
	Error      string                   `json:"error,omitempty"`
}

// ScrapeRunResult summarizes RunScraping.
type ScrapeRunResult struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Sources []SourceScrape        `json:"sources"`
	Results []ingest.ScrapeResult `json:"results"`
}

// RunScraping scrapes the named sources now. An empty list means every active
// or erroring scraping source. Success is false when any source failed.
func (s *Scheduler) RunScraping(ctx context.Context, names []string) ScrapeRunResult {
	if !s.deps.canScrape() {
		return ScrapeRunResult{Success: false, Message: "scraping is not configured"}
	}
	if len(names) == 0 {
		sources, err := s.deps.Sources.ListSources(ctx, ingest.SourceFilter{
			Mode:     ingest.ModeScraping,
			Statuses: []ingest.SourceStatus{ingest.SourceActive, ingest.SourceError},
		})
		if err != nil {
			return ScrapeRunResult{Success: false, Message: fmt.Sprintf("list sources: %v", err)}
		}
		for _, src := range sources {
			names = append(names, src.Name)
		}
	}

	out := ScrapeRunResult{Success: true, Results: []ingest.ScrapeResult{}}
	var total ingest.Counts
	failed := 0
	for _, name := range names {
		var ss SourceScrape
		var results []ingest.ScrapeResult
		st, err := s.acquire(ctx, ScrapeKind(name))
		if err != nil {
			ss = SourceScrape{Source: name, Error: err.Error()}
		} else {
			s.execute(ctx, st, func(ctx context.Context) (JobResult, error) {
				ss, results = s.scrapeSource(ctx, name)
				return scrapeJobResult(ss, len(results))
			})
		}
		if ss.Error != "" {
			failed++
		}
		total.Add(ss.Counts)
		out.Sources = append(out.Sources, ss)
		out.Results = append(out.Results, results...)
	}
	out.Success = failed == 0
	out.Message = fmt.Sprintf("Scraping completed: %d sources, %d failed, %d new articles",
		len(names), failed, total.Inserted)
	return out
}

func (s *Scheduler) rssJob(ctx context.Context) (JobResult, error) {
	return s.afterRSS(ctx, s.deps.RSS.Run(ctx, false))
}

// afterRSS converts an rss result and picks up scraping sources registered since the last run.
func (s *Scheduler) afterRSS(ctx context.Context, res feed.UpdateResult) (JobResult, error) {
	if err := s.SyncSourceJobs(ctx); err != nil {
		s.logger.Warn("scraping job sync failed", zap.Error(err))
	}
	jr := JobResult{
		Processed: res.Checked,
		Succeeded: res.Checked - res.Failed,
		Failed:    res.Failed,
		Message:   res.Message,
	}
	if !res.Success {
		return jr, errors.New(res.Message)
	}
	return jr, nil
}

func (s *Scheduler) scrapeJob(ctx context.Context, name string) (JobResult, error) {
	ss, results := s.scrapeSource(ctx, name)
	return scrapeJobResult(ss, len(results))
}

func scrapeJobResult(ss SourceScrape, scraped int) (JobResult, error) {
	jr := JobResult{
		Processed: ss.Counts.Processed,
		Succeeded: ss.Counts.Succeeded,
		Failed:    ss.Counts.Failed,
		Message: fmt.Sprintf("%s: %d pages scraped, %d new articles, %d duplicates",
			ss.Source, scraped, ss.Counts.Inserted, ss.Counts.Duplicates),
	}
	if ss.Error != "" {
		return jr, errors.New(ss.Error)
	}
	return jr, nil
}

// scrapeSource scrapes and ingests one source and records its status.
func (s *Scheduler) scrapeSource(ctx context.Context, name string) (SourceScrape, []ingest.ScrapeResult) {
	ss := SourceScrape{Source: name}
	source, err := s.deps.Sources.GetSourceByName(ctx, name)
	if err != nil {
		ss.Error = fmt.Sprintf("load source: %v", err)
		return ss, nil
	}
	site, ok := s.deps.Sites.Get(source.SiteKey())
	if !ok {
		ss.Error = fmt.Sprintf("no site configuration %q", source.SiteKey())
		s.markSource(ctx, source, errors.New(ss.Error))
		return ss, nil
	}
	ss.Site = site.Key()

	res := s.deps.Scraper.ScrapeSite(ctx, site)
	ss.Categories = res.Categories

	counts, ingestErr := s.deps.Ingestor.IngestScraped(ctx, source, res.Results)
	ss.Counts = counts

	switch {
	case res.Failed():
		ss.Error = res.Err().Error()
		s.markSource(ctx, source, res.Err())
	case ingestErr != nil:
		ss.Error = fmt.Sprintf("ingest: %v", ingestErr)
		s.markSource(ctx, source, ingestErr)
	default:
		s.markSource(ctx, source, nil)
	}
	return ss, res.Results
}

// markSource records success (active, fetched now) or failure (error, last
// fetch time kept so the source is retried on the next run).
func (s *Scheduler) markSource(ctx context.Context, source ingest.Source, cause error) {
	var err error
	if cause != nil {
		err = s.deps.Sources.UpdateSourceStatus(ctx, source.ID, ingest.SourceError, nil, cause.Error())
	} else {
		now := s.clock.Now()
		err = s.deps.Sources.UpdateSourceStatus(ctx, source.ID, ingest.SourceActive, &now, "")
	}
	if err != nil {
		s.logger.Error("update source status", zap.String("source", source.Name), zap.Error(err))
	}
}

func (s *Scheduler) financialJob(ctx context.Context) (JobResult, error) {
	n, err := s.deps.Financial.Refresh(ctx)
	if err != nil {
		return JobResult{Processed: 1, Failed: 1}, err
	}
	return JobResult{Processed: n, Succeeded: n, Message: fmt.Sprintf("%d financial observations refreshed", n)}, nil
}

func (s *Scheduler) cleanupJob(ctx context.Context) (JobResult, error) {
	cutoff := s.clock.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	n, err := s.deps.Articles.DeleteArticlesBefore(ctx, cutoff)
	if err != nil {
		return JobResult{}, fmt.Errorf("delete articles before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return JobResult{
		Processed: int(n),
		Succeeded: int(n),
		Message:   fmt.Sprintf("%d articles older than %d days deleted", n, s.cfg.RetentionDays),
	}, nil
}

func (s *Scheduler) maintenanceJob(context.Context) (JobResult, error) {
	var robots, origins int
	if s.deps.Robots != nil {
		robots = s.deps.Robots.Prune()
	}
	if s.deps.Limiter != nil {
		origins = s.deps.Limiter.Prune(s.cfg.LimiterIdle)
	}
	n := robots + origins
	return JobResult{
		Processed: n,
		Succeeded: n,
		Message:   fmt.Sprintf("pruned %d robots entries and %d idle origins", robots, origins),
	}, nil
}
