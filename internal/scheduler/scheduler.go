// Package scheduler runs the ingestion jobs on independent cadences from a
// single ticker and exposes manual triggers for the control API.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/resmi-haber-crawler/internal/clock/system"
	"github.com/JakeFAU/resmi-haber-crawler/internal/id/uuid"
	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
	"github.com/JakeFAU/resmi-haber-crawler/internal/metrics"
	"github.com/JakeFAU/resmi-haber-crawler/internal/telemetry"
)

// Built-in job kinds. Scraping jobs are named ScrapeKind(source).
const (
	JobRSS         = "rss"
	JobFinancial   = "financial"
	JobCleanup     = "cleanup"
	JobMaintenance = "maintenance"

	scrapePrefix = "scrape:"
)

var (
	// ErrJobRunning is returned when a trigger finds the kind already executing.
	ErrJobRunning = errors.New("job already running")
	// ErrUnknownJob is returned for kinds that are not registered.
	ErrUnknownJob = errors.New("unknown job")
)

// ScrapeKind names the scraping job of a source.
func ScrapeKind(source string) string {
	return scrapePrefix + source
}

// JobFunc performs one run of a job.
type JobFunc func(ctx context.Context) (JobResult, error)

// Job is one schedulable unit of work.
type Job struct {
	Kind    string
	Cadence time.Duration
	Run     JobFunc
}

// JobResult is the outcome of one run.
type JobResult struct {
	Kind      string        `json:"kind"`
	RunID     string        `json:"run_id"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Message   string        `json:"message"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// JobStatus describes one registered job.
type JobStatus struct {
	Kind       string     `json:"kind"`
	Cadence    string     `json:"cadence"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    time.Time  `json:"next_run"`
	Active     bool       `json:"active"`
	LastResult *JobResult `json:"last_result,omitempty"`
}

// Status is a snapshot of the scheduler.
type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

type jobState struct {
	job        Job
	lastRun    time.Time
	nextRun    time.Time
	active     bool
	lastResult *JobResult
}

// Scheduler polls its job list on one ticker. At most one execution per kind
// is in flight; a due job that is still running is skipped, never queued.
type Scheduler struct {
	cfg    Config
	deps   Deps
	clock  ingest.Clock
	logger *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*jobState
	running bool
	wg      sync.WaitGroup
}

// New builds a Scheduler and registers the built-in jobs whose dependencies are set.
func New(cfg Config, deps Deps) *Scheduler {
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Scheduler{
		cfg:    cfg,
		deps:   deps,
		clock:  deps.Clock,
		logger: deps.Logger.Named("scheduler"),
		jobs:   make(map[string]*jobState),
	}
	s.registerBuiltins()
	return s
}

// AddJob registers a job. Kinds must be unique.
func (s *Scheduler) AddJob(job Job) error {
	if job.Kind == "" || job.Run == nil {
		return fmt.Errorf("job needs a kind and a run function")
	}
	if job.Cadence <= 0 {
		return fmt.Errorf("job %s: cadence must be > 0", job.Kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Kind]; ok {
		return fmt.Errorf("job %s already registered", job.Kind)
	}
	s.jobs[job.Kind] = &jobState{job: job}
	return nil
}

// Run primes every job to fire after the warm-up delay and then polls the job
// list on each tick until ctx is cancelled. In-flight runs are awaited before returning.
func (s *Scheduler) Run(ctx context.Context) {
	if err := s.SyncSourceJobs(ctx); err != nil {
		s.logger.Error("initial scraping job sync failed", zap.Error(err))
	}

	s.mu.Lock()
	s.running = true
	first := s.clock.Now().Add(s.cfg.Warmup)
	for _, st := range s.jobs {
		st.nextRun = first
	}
	s.mu.Unlock()

	s.logger.Info("scheduler started",
		zap.Duration("tick", s.cfg.Tick), zap.Duration("warmup", s.cfg.Warmup), zap.Int("jobs", s.jobCount()))

	warmup := time.NewTimer(s.cfg.Warmup)
	defer warmup.Stop()
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			s.logger.Info("scheduler stopped")
			return
		case <-warmup.C:
			s.Tick(ctx)
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick starts every due job that is not already running and returns how many
// were started. Due jobs that are still active are skipped and rescheduled.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.clock.Now()
	var due []*jobState
	s.mu.Lock()
	for _, kind := range s.kindsLocked() {
		st := s.jobs[kind]
		if now.Before(st.nextRun) {
			continue
		}
		if st.active {
			st.nextRun = now.Add(st.job.Cadence)
			s.logger.Warn("skipping tick, previous run still active", zap.String("job", kind))
			continue
		}
		st.active = true
		due = append(due, st)
	}
	s.mu.Unlock()

	for _, st := range due {
		s.wg.Add(1)
		go func(st *jobState) {
			defer s.wg.Done()
			s.execute(ctx, st, st.job.Run)
		}(st)
	}
	return len(due)
}

// Wait blocks until runs started by Tick have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// TriggerJob runs kind immediately and synchronously.
func (s *Scheduler) TriggerJob(ctx context.Context, kind string) (JobResult, error) {
	st, err := s.acquire(ctx, kind)
	if err != nil {
		return JobResult{Kind: kind}, err
	}
	return s.execute(ctx, st, st.job.Run), nil
}

// Status reports every job, built-ins first and scraping jobs by name.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Status{Running: s.running, Jobs: make([]JobStatus, 0, len(s.jobs))}
	for _, kind := range s.kindsLocked() {
		st := s.jobs[kind]
		js := JobStatus{
			Kind:    kind,
			Cadence: st.job.Cadence.String(),
			NextRun: st.nextRun,
			Active:  st.active,
		}
		if !st.lastRun.IsZero() {
			last := st.lastRun
			js.LastRun = &last
		}
		if st.lastResult != nil {
			res := *st.lastResult
			js.LastResult = &res
		}
		out.Jobs = append(out.Jobs, js)
	}
	return out
}

// acquire marks kind active. Unknown scraping kinds trigger a registry sync first.
func (s *Scheduler) acquire(ctx context.Context, kind string) (*jobState, error) {
	st, err := s.tryAcquire(kind)
	if errors.Is(err, ErrUnknownJob) && isScrapeKind(kind) {
		if syncErr := s.SyncSourceJobs(ctx); syncErr != nil {
			return nil, fmt.Errorf("sync scraping jobs: %w", syncErr)
		}
		st, err = s.tryAcquire(kind)
	}
	return st, err
}

func (s *Scheduler) tryAcquire(kind string) (*jobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, kind)
	}
	if st.active {
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, kind)
	}
	st.active = true
	return st, nil
}

// execute runs fn for an acquired job, recovering panics, and releases it.
func (s *Scheduler) execute(ctx context.Context, st *jobState, fn JobFunc) JobResult {
	kind := st.job.Kind
	runID := uuid.RunID()
	ctx, span := telemetry.StartJob(ctx, kind, runID)
	logger := s.logger.With(zap.String("job", kind), zap.String("run_id", runID))
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		logger = logger.With(zap.String("trace_id", traceID))
	}
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	start := s.clock.Now()
	logger.Info("job started")
	res, err := invoke(ctx, fn)
	duration := s.clock.Now().Sub(start)
	telemetry.EndSpan(span, err)

	res.Kind = kind
	res.RunID = runID
	res.StartedAt = start
	res.Duration = duration
	status := "ok"
	if err != nil {
		status = "error"
		res.Error = err.Error()
		if res.Message == "" {
			res.Message = "job failed: " + err.Error()
		}
		logger.Error("job failed", zap.Duration("duration", duration), zap.Error(err))
	} else {
		logger.Info("job finished",
			zap.Duration("duration", duration),
			zap.Int("processed", res.Processed),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
		)
	}
	metrics.ObserveJob(jobLabel(kind), status, duration)

	s.mu.Lock()
	st.active = false
	st.lastRun = start
	st.nextRun = start.Add(st.job.Cadence)
	stored := res
	st.lastResult = &stored
	s.mu.Unlock()
	return res
}

func invoke(ctx context.Context, fn JobFunc) (res JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// kindsLocked orders built-ins by registration rank, then everything else by name.
func (s *Scheduler) kindsLocked() []string {
	kinds := make([]string, 0, len(s.jobs))
	for kind := range s.jobs {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool {
		ri, rj := builtinRank(kinds[i]), builtinRank(kinds[j])
		if ri != rj {
			return ri < rj
		}
		return kinds[i] < kinds[j]
	})
	return kinds
}

func (s *Scheduler) jobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func builtinRank(kind string) int {
	switch kind {
	case JobRSS:
		return 0
	case JobFinancial:
		return 1
	case JobCleanup:
		return 2
	case JobMaintenance:
		return 3
	default:
		return 4
	}
}

func isScrapeKind(kind string) bool {
	return strings.HasPrefix(kind, scrapePrefix)
}

func jobLabel(kind string) string {
	if isScrapeKind(kind) {
		return "scrape"
	}
	return kind
}
