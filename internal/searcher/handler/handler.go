// Package handler serves the search API over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/school-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/tracing"
)

const ServerTimeHeader = "X-Server-Time-MS"

type SearchExecutor interface {
	Execute(ctx context.Context, raw string, limit int) (*executor.SearchResult, error)
}

// Readiness prepares the index before the first query is answered.
type Readiness interface {
	EnsureReady(ctx context.Context) error
}

// Options holds the optional collaborators. Zero values disable them.
type Options struct {
	Cache   *cache.QueryCache
	Tracker analytics.Tracker
	Ready   Readiness
	Tracer  *tracing.Tracer
	Metrics *metrics.Metrics
}

type Handler struct {
	engine       *indexer.Engine
	executor     SearchExecutor
	cache        *cache.QueryCache
	tracker      analytics.Tracker
	ready        Readiness
	tracer       *tracing.Tracer
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

func New(engine *indexer.Engine, exec SearchExecutor, cfg config.SearchConfig, opts Options) *Handler {
	h := &Handler{
		engine:       engine,
		executor:     exec,
		cache:        opts.Cache,
		tracker:      opts.Tracker,
		ready:        opts.Ready,
		tracer:       opts.Tracer,
		metrics:      opts.Metrics,
		defaultLimit: cfg.DefaultLimit,
		maxResults:   cfg.MaxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
	if h.defaultLimit < 1 {
		h.defaultLimit = 3
	}
	if h.maxResults < 1 {
		h.maxResults = 100
	}
	return h
}

// Search serves GET /search?query=&limit=. The body is a bare JSON array of
// results and the server-side search time goes in X-Server-Time-MS.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	result, took, err := h.handle(w, r, query)
	if err != nil {
		return
	}
	w.Header().Set(ServerTimeHeader, strconv.FormatFloat(float64(took.Microseconds())/1000, 'f', 3, 64))
	h.writeJSON(w, http.StatusOK, result.Results)
}

// SearchV1 serves GET /api/v1/search?q=&limit= with a {query, total_hits,
// results} envelope.
func (h *Handler) SearchV1(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	result, took, err := h.handle(w, r, query)
	if err != nil {
		return
	}
	w.Header().Set(ServerTimeHeader, strconv.FormatFloat(float64(took.Microseconds())/1000, 'f', 3, 64))
	h.writeJSON(w, http.StatusOK, result)
}

// handle validates the request and runs the search. On error the response
// has already been written.
func (h *Handler) handle(w http.ResponseWriter, r *http.Request, query string) (*executor.SearchResult, time.Duration, error) {
	if strings.TrimSpace(query) == "" {
		err := apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter is required")
		h.writeError(w, http.StatusBadRequest, err.Message)
		return nil, 0, err
	}
	limit, err := h.parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), apperrors.PublicMessage(err))
		return nil, 0, err
	}

	result, took, err := h.Run(r.Context(), query, limit)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		logger.FromContext(r.Context()).Error("search failed", "query", query, "error", err)
		h.writeError(w, status, "search failed")
		return nil, 0, err
	}
	return result, took, nil
}

func (h *Handler) parseLimit(raw string) (int, error) {
	if raw == "" {
		return h.defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer")
	}
	return min(limit, h.maxResults), nil
}

// Limits returns the default and maximum result counts.
func (h *Handler) Limits() (defaultLimit, maxResults int) {
	return h.defaultLimit, h.maxResults
}

// Run answers one query through the cache, records metrics and analytics,
// and returns the result with the time spent. It is shared by the HTTP and
// RPC surfaces; limit must already be validated.
func (h *Handler) Run(ctx context.Context, query string, limit int) (*executor.SearchResult, time.Duration, error) {
	start := time.Now()
	ctx, span := h.tracer.Start(ctx, "search", logger.RequestID(ctx))
	defer func() {
		span.End()
		span.Log()
	}()

	if h.ready != nil && !h.engine.Ready() {
		if err := h.ready.EnsureReady(ctx); err != nil {
			logger.FromContext(ctx).Warn("lazy index load failed", "error", err)
		}
	}

	var (
		result   *executor.SearchResult
		cacheHit bool
		err      error
	)
	cacheStatus := "bypass"
	if h.cache != nil && h.engine.Ready() {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, h.engine.Snapshot().Fingerprint(), query, limit,
			func() (*executor.SearchResult, error) {
				return h.executor.Execute(ctx, query, limit)
			})
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	} else {
		result, err = h.executor.Execute(ctx, query, limit)
	}
	took := time.Since(start)
	span.SetAttr("cache", cacheStatus)

	if err != nil {
		h.metrics.ObserveSearch(cacheStatus, took, 0, 0, err)
		return nil, took, err
	}
	h.metrics.ObserveSearch(cacheStatus, took, result.Candidates, len(result.Results), nil)
	h.track(ctx, query, result, cacheHit, took)
	return result, took, nil
}

func (h *Handler) track(ctx context.Context, query string, result *executor.SearchResult, cacheHit bool, took time.Duration) {
	if h.tracker == nil {
		return
	}
	eventType := analytics.EventSearch
	if len(result.Results) == 0 {
		eventType = analytics.EventZeroResult
	}
	h.tracker.Track(analytics.SearchEvent{
		Type:      eventType,
		Query:     query,
		Terms:     parser.Parse(query).Tokens,
		TotalHits: result.TotalHits,
		Returned:  len(result.Results),
		LatencyMs: float64(took.Microseconds()) / 1000,
		CacheHit:  cacheHit,
		Timestamp: time.Now().UTC(),
		RequestID: logger.RequestID(ctx),
	})
}

// IndexStats serves GET /api/v1/index/stats.
func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats(10))
}

// CacheStats serves GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// CacheInvalidate serves POST /api/v1/cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// Health serves GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": config.Version})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
