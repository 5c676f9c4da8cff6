// Package handler serves the search results page, the JSON search API and
// the static document tree.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/tracing"
)

// Resolver resolves a sorted, de-duplicated term list to document paths.
type Resolver interface {
	QueryTerms(ctx context.Context, terms []string) ([]string, error)
}

// Tracker receives one analytics.SearchEvent per answered query.
type Tracker interface {
	Track(event any)
}

// SearchResult is the JSON body of /api/v1/search.
type SearchResult struct {
	Query     string   `json:"query"`
	Terms     []string `json:"terms"`
	TotalHits int      `json:"total_hits"`
	Results   []string `json:"results"`
	LatencyMs float64  `json:"latency_ms"`
	CacheHit  bool     `json:"cache_hit"`
}

// Option configures a Handler.
type Option func(*Handler)

// WithCache answers repeated queries from c.
func WithCache(c *cache.QueryCache) Option {
	return func(h *Handler) { h.cache = c }
}

// StatsSource reports aggregated search analytics.
type StatsSource interface {
	Stats() analytics.AggregatedStats
}

// WithStats serves s at /api/v1/analytics.
func WithStats(s StatsSource) Option {
	return func(h *Handler) { h.stats = s }
}

// WithTracker reports every answered query to t.
func WithTracker(t Tracker) Option {
	return func(h *Handler) { h.tracker = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithTracing logs a span tree for every query.
func WithTracing(enabled bool) Option {
	return func(h *Handler) { h.tracing = enabled }
}

type Handler struct {
	resolver       Resolver
	cache          *cache.QueryCache
	tracker        Tracker
	stats          StatsSource
	metrics        *metrics.Metrics
	tracing        bool
	static         *staticFiles
	maxQueryLength int
	logger         *slog.Logger
}

// New returns a Handler resolving queries with resolver and serving static
// files from homeDir.
func New(resolver Resolver, homeDir string, maxQueryLength int, opts ...Option) (*Handler, error) {
	static, err := newStaticFiles(homeDir)
	if err != nil {
		return nil, err
	}
	h := &Handler{
		resolver:       resolver,
		static:         static,
		maxQueryLength: maxQueryLength,
		logger:         slog.Default().With("component", "search-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the handler's routes on mux. Every path not claimed by a
// more specific pattern is served from the home directory.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /search", h.SearchPage)
	mux.HandleFunc("GET /api/v1/search", h.SearchAPI)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /api/v1/analytics", h.Analytics)
	mux.HandleFunc("GET /", h.Static)
}

// SearchPage renders the HTML results listing for the q parameter.
func (h *Handler) SearchPage(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	page := resultsPage{Query: query}
	if query != "" {
		result, err := h.search(r.Context(), query)
		if err != nil {
			h.logFailure(r.Context(), query, err)
			http.Error(w, userMessage(err), apperrors.HTTPStatusCode(err))
			return
		}
		page.Searched = true
		page.Results = result.Results
		page.Seconds = result.LatencyMs / 1000
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderResults(w, page); err != nil {
		h.logger.Error("failed to render results page", "error", err)
	}
}

// SearchAPI answers the q parameter as JSON.
func (h *Handler) SearchAPI(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	result, err := h.search(r.Context(), query)
	if err != nil {
		h.logFailure(r.Context(), query, err)
		h.writeError(w, apperrors.HTTPStatusCode(err), userMessage(err))
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) search(ctx context.Context, query string) (*SearchResult, error) {
	start := time.Now()
	if h.maxQueryLength > 0 && utf8.RuneCountInString(query) > h.maxQueryLength {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"query longer than %d characters", h.maxQueryLength)
	}

	ctx, span := tracing.Start(ctx, "search.query")
	defer func() {
		span.End()
		if h.tracing {
			span.Log(logger.FromContext(ctx))
		}
	}()

	terms := tokenizer.Tokenize(query).Sorted()
	span.SetAttr("terms", len(terms))
	result := &SearchResult{Query: query, Terms: terms, Results: []string{}}
	if len(terms) == 0 {
		h.finish(ctx, result, start, "empty_query")
		return result, nil
	}

	resolve := func() ([]string, error) {
		_, resolveSpan := tracing.Start(ctx, "search.resolve")
		defer resolveSpan.End()
		return h.resolver.QueryTerms(ctx, terms)
	}

	var paths []string
	var err error
	if h.cache != nil {
		paths, result.CacheHit, err = h.cache.GetOrCompute(ctx, terms, resolve)
		h.recordCache(result.CacheHit)
	} else {
		paths, err = resolve()
	}
	if err != nil {
		h.countQuery("error")
		return nil, err
	}

	result.Results = paths
	result.TotalHits = len(paths)
	resultType := "hit"
	if len(paths) == 0 {
		resultType = "zero_result"
	}
	span.SetAttr("results", result.TotalHits)
	h.finish(ctx, result, start, resultType)
	return result, nil
}

func (h *Handler) finish(ctx context.Context, result *SearchResult, start time.Time, resultType string) {
	elapsed := time.Since(start)
	result.LatencyMs = float64(elapsed.Microseconds()) / 1000

	h.countQuery(resultType)
	if h.metrics != nil {
		cacheStatus := "miss"
		switch {
		case h.cache == nil:
			cacheStatus = "disabled"
		case result.CacheHit:
			cacheStatus = "hit"
		}
		h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
		h.metrics.SearchResultsCount.Observe(float64(result.TotalHits))
	}

	logger.FromContext(ctx).Info("search completed",
		"query", result.Query,
		"terms", result.Terms,
		"total_hits", result.TotalHits,
		"cache_hit", result.CacheHit,
		"latency_ms", result.LatencyMs,
	)

	if h.tracker != nil && len(result.Terms) > 0 {
		eventType := analytics.EventSearch
		if result.TotalHits == 0 {
			eventType = analytics.EventZeroResult
		}
		h.tracker.Track(analytics.SearchEvent{
			Type:      eventType,
			Query:     result.Query,
			Terms:     result.Terms,
			TotalHits: result.TotalHits,
			LatencyMs: elapsed.Milliseconds(),
			CacheHit:  result.CacheHit,
			Timestamp: time.Now().UTC(),
			RequestID: logger.RequestID(ctx),
		})
	}
}

func (h *Handler) countQuery(resultType string) {
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
}

func (h *Handler) recordCache(hit bool) {
	if h.metrics == nil {
		return
	}
	if hit {
		h.metrics.CacheHitsTotal.Inc()
	} else {
		h.metrics.CacheMissesTotal.Inc()
	}
}

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

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// Analytics reports query volume, latency percentiles and popular queries
// since the process started.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.stats.Stats())
}

func (h *Handler) logFailure(ctx context.Context, query string, err error) {
	log := logger.FromContext(ctx)
	if errors.Is(err, apperrors.ErrInvalidInput) {
		log.Warn("search rejected", "query_length", len(query), "error", err)
		return
	}
	log.Error("search failed", "query", query, "error", err)
}

// userMessage hides store details from clients.
func userMessage(err error) string {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr.Message
	case errors.Is(err, apperrors.ErrQueryStore):
		return "search index unavailable"
	default:
		return "search failed"
	}
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
