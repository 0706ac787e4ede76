// Package ratelimit spaces requests to the same origin according to its robots.txt crawl-delay.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
	"github.com/JakeFAU/resmi-haber-crawler/internal/metrics"
)

// DelaySource reports the crawl delay declared for an origin.
type DelaySource interface {
	CrawlDelay(ctx context.Context, origin string) time.Duration
}

// Floor is the smallest interval ever allowed between requests to one origin.
const Floor = time.Second

// Config holds rate limiter configuration.
type Config struct {
	// MinInterval is the floor applied to every origin's crawl delay.
	// Values below Floor are raised to Floor.
	MinInterval time.Duration
}

// Limiter enforces a minimum interval between requests per origin.
// Waiting is cooperative: callers are delayed, never rejected.
type Limiter struct {
	mu          sync.Mutex
	entries     map[string]*originState
	delays      DelaySource
	minInterval time.Duration
}

type originState struct {
	limiter     *rate.Limiter
	interval    time.Duration
	lastRequest time.Time
}

// New creates a Limiter. delays may be nil, in which case MinInterval applies to every origin.
func New(cfg Config, delays DelaySource) *Limiter {
	minInterval := cfg.MinInterval
	if minInterval < Floor {
		minInterval = Floor
	}
	return &Limiter{
		entries:     make(map[string]*originState),
		delays:      delays,
		minInterval: minInterval,
	}
}

// Wait blocks until a request to rawURL's origin may be issued, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	origin, err := ingest.Origin(rawURL)
	if err != nil {
		return fmt.Errorf("rate limit origin: %w", err)
	}
	interval := l.Interval(ctx, origin)

	l.mu.Lock()
	state, exists := l.entries[origin]
	if !exists {
		state = &originState{
			limiter:  rate.NewLimiter(rate.Every(interval), 1),
			interval: interval,
		}
		l.entries[origin] = state
	} else if state.interval != interval {
		state.limiter.SetLimit(rate.Every(interval))
		state.interval = interval
	}
	l.mu.Unlock()

	start := time.Now()
	if err := state.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(origin, waited)
	}

	l.mu.Lock()
	state.lastRequest = time.Now()
	l.mu.Unlock()
	return nil
}

// Interval returns max(crawlDelay, MinInterval) for origin.
func (l *Limiter) Interval(ctx context.Context, origin string) time.Duration {
	interval := l.minInterval
	if l.delays != nil {
		if d := l.delays.CrawlDelay(ctx, origin); d > interval {
			interval = d
		}
	}
	return interval
}

// LastRequest returns when origin was last granted a request.
func (l *Limiter) LastRequest(origin string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.entries[origin]
	if !ok || state.lastRequest.IsZero() {
		return time.Time{}, false
	}
	return state.lastRequest, true
}

// Prune forgets origins idle for longer than idle and returns how many were removed.
func (l *Limiter) Prune(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for origin, state := range l.entries {
		if state.lastRequest.Before(cutoff) {
			delete(l.entries, origin)
			removed++
		}
	}
	return removed
}

// Clear forgets every origin.
func (l *Limiter) Clear() {
	l.mu.Lock()
	l.entries = make(map[string]*originState)
	l.mu.Unlock()
}

// Len returns the number of tracked origins.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
