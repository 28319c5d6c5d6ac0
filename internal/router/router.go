// Package router wires the HTTP routes of the search service and applies the
// middleware chain.
package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/auth/ratelimit"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/handler"
	searchhandler "github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/middleware"
)

// Deps are the handlers and policies the router needs. Analytics, Limiter
// and Metrics may be nil.
type Deps struct {
	Search    *searchhandler.Handler
	Data      *ingesthandler.Handler
	Analytics *analytics.Handler
	Health    *health.Checker
	Admin     *apikey.Validator
	Limiter   *ratelimit.Limiter
	Metrics   *metrics.Metrics
	Timeout   time.Duration
}

// New builds the service handler.
//
// Route table:
//
//	GET    /search                    → search, bare result array
//	GET    /api/v1/search             → search, {query, total_hits, results}
//	GET    /api/v1/index/stats        → live index summary
//	GET    /api/v1/cache/stats        → query cache counters
//	POST   /api/v1/cache/invalidate   → drop cached responses     (admin)
//	GET    /api/v1/analytics          → aggregated search analytics
//	GET    /setup/status              → setup progress
//	POST   /setup/start               → start setup in background (admin)
//	POST   /data/refresh              → reload seed file          (admin)
//	GET    /health                    → {status, version}
//	GET    /health/live, /health/ready
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → RateLimit → Timeout → mux
func New(d Deps) http.Handler {
	admin := adminOnly(d.Admin)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", d.Search.Health)
	mux.HandleFunc("GET /health/live", d.Health.LiveHandler())
	mux.HandleFunc("GET /health/ready", d.Health.ReadyHandler())

	mux.HandleFunc("GET /search", d.Search.Search)
	mux.HandleFunc("GET /api/v1/search", d.Search.SearchV1)
	mux.HandleFunc("GET /api/v1/index/stats", d.Search.IndexStats)

	mux.HandleFunc("GET /api/v1/cache/stats", d.Search.CacheStats)
	mux.Handle("POST /api/v1/cache/invalidate", admin(http.HandlerFunc(d.Search.CacheInvalidate)))

	if d.Analytics != nil {
		mux.HandleFunc("GET /api/v1/analytics", d.Analytics.Stats)
	}

	mux.HandleFunc("GET /setup/status", d.Data.SetupStatus)
	mux.Handle("POST /setup/start", admin(http.HandlerFunc(d.Data.StartSetup)))
	mux.Handle("POST /data/refresh", admin(http.HandlerFunc(d.Data.Refresh)))

	chain := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.CORS(middleware.DefaultCORSConfig()),
		middleware.Metrics(d.Metrics, Paths...),
	}
	if d.Limiter != nil {
		chain = append(chain, middleware.RateLimit(d.Limiter))
	}
	// A refresh reloads the whole seed file and must outlive the request
	// deadline.
	chain = append(chain, middleware.Timeout(d.Timeout, "/data/refresh"))
	return middleware.Chain(mux, chain...)
}

// Paths lists every routed path, used as the metrics label set.
var Paths = []string{
	"/health", "/health/live", "/health/ready",
	"/search", "/api/v1/search", "/api/v1/index/stats",
	"/api/v1/cache/stats", "/api/v1/cache/invalidate", "/api/v1/analytics",
	"/setup/status", "/setup/start", "/data/refresh",
}

func adminOnly(v *apikey.Validator) func(http.Handler) http.Handler {
	if v == nil || !v.Enabled() {
		slog.Warn("no admin keys configured, admin endpoints are unauthenticated")
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.Auth(v)
}
