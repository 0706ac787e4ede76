// Package collyfetcher implements the retrying page fetcher on top of gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
)

// DefaultUserAgent names the bot and a contact URL.
const DefaultUserAgent = "TurkiyeResmiHaber-Bot/1.0 (+https://turkiyeresmihaber.com/robots)"

// ErrTooLarge marks responses above the configured body limit.
var ErrTooLarge = errors.New("response body exceeds limit")

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	MaxBodyBytes int
	Headers      http.Header
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1024 * 1024
	}
	if c.Headers == nil {
		c.Headers = http.Header{
			"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
			"Accept-Language": {"tr-TR,tr;q=0.9,en;q=0.8"},
		}
	}
	return c
}

// Result is the outcome of FetchWithRetry. Failures are values, never panics.
type Result struct {
	URL        string
	FinalURL   string
	Success    bool
	StatusCode int
	Headers    http.Header
	Body       []byte
	Attempts   int
	Duration   time.Duration
	Err        error
}

// Error returns the failure text, or "" on success.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Fetcher performs GETs with retry using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	pauser        pauser
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// New builds a Fetcher. A nil transport uses a pooled default.
func New(cfg Config, transport http.RoundTripper, logger *zap.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	if transport == nil {
		transport = newHTTPTransport()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		// One extra byte lets oversized bodies be detected instead of silently truncated.
		colly.MaxBodySize(cfg.MaxBodyBytes+1),
		colly.UserAgent(cfg.UserAgent),
	)
	// robots.txt is enforced by the robots package before any fetch.
	c.IgnoreRobotsTxt = true
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		pauser:        timerPause{},
		logger:        logger,
	}
}

// Fetch returns the body of rawURL, implementing ingest.PageFetcher.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	res := f.FetchWithRetry(ctx, rawURL)
	if !res.Success {
		return nil, res.Err
	}
	return res.Body, nil
}

// FetchWithRetry GETs rawURL up to MaxRetries times, sleeping RetryDelay*attempt
// between attempts. Not-found and other client errors are not retried.
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) Result {
	start := time.Now()
	result := Result{URL: rawURL}
	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		result.Attempts = attempt
		resp, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			resp.Attempts = attempt
			resp.Duration = time.Since(start)
			return resp
		}
		result.Err = err
		result.StatusCode = resp.StatusCode
		if !retryable(err) || ctx.Err() != nil {
			break
		}
		if attempt < f.cfg.MaxRetries {
			delay := f.cfg.RetryDelay * time.Duration(attempt)
			f.logger.Debug("fetch failed; retrying",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if perr := f.pauser.Pause(ctx, delay); perr != nil {
				result.Err = ingest.NewError(ingest.KindNetwork, "fetch", rawURL, perr)
				break
			}
		}
	}
	result.Duration = time.Since(start)
	f.logger.Warn("fetch failed",
		zap.String("url", rawURL),
		zap.Int("attempts", result.Attempts),
		zap.Error(result.Err),
	)
	return result
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var (
		result   Result
		fetchErr error
	)
	collector := f.buildCollector(attemptCtx, rawURL, &result, &fetchErr)
	if err := f.runCollector(attemptCtx, collector, rawURL, &fetchErr); err != nil {
		return result, ingest.NewError(ingest.KindNetwork, "fetch", rawURL, err)
	}
	return result, classifyStatus(rawURL, result, f.cfg.MaxBodyBytes)
}

func (f *Fetcher) buildCollector(ctx context.Context, rawURL string, result *Result, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	*result = Result{URL: rawURL}
	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *Result, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.FinalURL = r.Request.URL.String()
		result.StatusCode = r.StatusCode
		if r.Headers != nil {
			result.Headers = r.Headers.Clone()
		}
		result.Body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Set(key, v)
		}
	}
}

func classifyStatus(rawURL string, result Result, maxBody int) error {
	switch {
	case result.StatusCode == http.StatusNotFound || result.StatusCode == http.StatusGone:
		return ingest.NewError(ingest.KindNotFound, "fetch", rawURL, fmt.Errorf("status %d", result.StatusCode))
	case result.StatusCode >= 400:
		return ingest.NewError(ingest.KindNetwork, "fetch", rawURL, &statusError{code: result.StatusCode})
	case result.StatusCode < 200:
		return ingest.NewError(ingest.KindNetwork, "fetch", rawURL, fmt.Errorf("unexpected status %d", result.StatusCode))
	case len(result.Body) > maxBody:
		return ingest.NewError(ingest.KindNetwork, "fetch", rawURL, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxBody))
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d", e.code)
}

// retryable reports whether a failed attempt may succeed when repeated:
// transport failures, 429 and 5xx responses.
func retryable(err error) bool {
	if errors.Is(err, ingest.ErrNotFound) || errors.Is(err, ErrTooLarge) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

type timerPause struct{}

func (timerPause) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry pause canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
