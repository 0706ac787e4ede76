// Package api exposes the HTTP control surface for the ingestion service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/resmi-haber-crawler/internal/config"
	"github.com/JakeFAU/resmi-haber-crawler/internal/feed"
	"github.com/JakeFAU/resmi-haber-crawler/internal/financial"
	"github.com/JakeFAU/resmi-haber-crawler/internal/ingest"
	"github.com/JakeFAU/resmi-haber-crawler/internal/metrics"
	"github.com/JakeFAU/resmi-haber-crawler/internal/robots"
	"github.com/JakeFAU/resmi-haber-crawler/internal/scheduler"
	"github.com/JakeFAU/resmi-haber-crawler/internal/telemetry"
)

const (
	maxBatchURLs   = 50
	defaultHistory = financial.DefaultHistoryDays
	maxHistory     = 365
	readTimeout    = 60 * time.Second
)

// JobRunner runs and reports scheduled jobs.
type JobRunner interface {
	RunRSSUpdate(ctx context.Context) feed.UpdateResult
	RunScraping(ctx context.Context, names []string) scheduler.ScrapeRunResult
	TriggerJob(ctx context.Context, kind string) (scheduler.JobResult, error)
	Status() scheduler.Status
}

// FinancialReader serves reference data.
type FinancialReader interface {
	ExchangeRates(ctx context.Context, date *time.Time) ([]financial.ExchangeRate, error)
	GoldPrices(ctx context.Context) ([]financial.GoldPrice, error)
	HistoricalRates(ctx context.Context, code string, days int) ([]financial.HistoricalPoint, error)
}

// RobotsChecker explains robots.txt decisions.
type RobotsChecker interface {
	CanCrawl(ctx context.Context, rawURL string) (robots.Decision, error)
}

// URLScraper scrapes ad-hoc URL batches.
type URLScraper interface {
	ScrapeBatch(ctx context.Context, urls []string) []ingest.ScrapeResult
}

// Deps are the collaborators behind the routes. Nil members disable their routes.
type Deps struct {
	Jobs      JobRunner
	Financial FinancialReader
	Robots    RobotsChecker
	Scraper   URLScraper
	// Ready reports downstream health for /readyz.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the pipeline components.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(telemetry.Middleware)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// Job runs are bounded by the client connection, not a server timeout.
		if deps.Jobs != nil {
			r.Post("/rss/run", s.runRSS)
			r.Post("/scrape/run", s.runScrape)
			r.Post("/jobs/{kind}/trigger", s.triggerJob)
			r.Get("/scheduler/status", s.schedulerStatus)
		}
		if deps.Scraper != nil {
			r.Post("/scrape/urls", s.scrapeURLs)
		}
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(readTimeout))
			if deps.Financial != nil {
				r.Get("/financial/exchange-rates", s.exchangeRates)
				r.Get("/financial/gold", s.goldPrices)
				r.Get("/financial/history/{code}", s.history)
			}
			if deps.Robots != nil {
				r.Get("/robots/check", s.robotsCheck)
			}
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) runRSS(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Jobs.RunRSSUpdate(r.Context())
	writeJSON(w, http.StatusOK, res)
}

type scrapeRunRequest struct {
	Sources []string `json:"sources"`
}

func (s *Server) runScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	res := s.deps.Jobs.RunScraping(r.Context(), req.Sources)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) triggerJob(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	res, err := s.deps.Jobs.TriggerJob(r.Context(), kind)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrJobRunning):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Jobs.Status())
}

type scrapeURLsRequest struct {
	URLs []string `json:"urls"`
}

func (s *Server) scrapeURLs(w http.ResponseWriter, r *http.Request) {
	var req scrapeURLsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if len(req.URLs) > maxBatchURLs {
		writeError(w, http.StatusBadRequest, "too many urls (max "+strconv.Itoa(maxBatchURLs)+")")
		return
	}
	results := s.deps.Scraper.ScrapeBatch(r.Context(), req.URLs)
	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"processed": len(results),
		"succeeded": succeeded,
		"results":   results,
	})
}

func (s *Server) exchangeRates(w http.ResponseWriter, r *http.Request) {
	var date *time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := time.ParseInLocation(ingest.DateLayout, raw, s.cfg.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = &d
	}
	rates, err := s.deps.Financial.ExchangeRates(r.Context(), date)
	if err != nil {
		s.writeFinancialError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": financial.SourceName, "rates": rates})
}

func (s *Server) goldPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.deps.Financial.GoldPrices(r.Context())
	if err != nil {
		s.writeFinancialError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": prices})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	days := defaultHistory
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistory {
			writeError(w, http.StatusBadRequest, "days must be between 1 and "+strconv.Itoa(maxHistory))
			return
		}
		days = n
	}
	points, err := s.deps.Financial.HistoricalRates(r.Context(), code, days)
	if err != nil {
		s.writeFinancialError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "days": days, "points": points})
}

func (s *Server) writeFinancialError(w http.ResponseWriter, err error) {
	if errors.Is(err, ingest.ErrDataUnavailable) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.logger.Error("financial request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "financial data lookup failed")
}

func (s *Server) robotsCheck(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	decision, err := s.deps.Robots.CanCrawl(r.Context(), target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":                 target,
		"allowed":             decision.Allowed,
		"crawl_delay_seconds": decision.CrawlDelay.Seconds(),
		"fallback":            decision.Fallback,
		"reason":              decision.Reason,
	})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
