package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/setup"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/school"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/executor"
	searchhandler "github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/middleware"
)

type stubPipeline struct {
	refreshes int
	refreshed chan struct{}
}

func (s *stubPipeline) SetupStatus() *setup.Status {
	return &setup.Status{Stage: ingestion.StageIdle}
}

func (s *stubPipeline) StartSetup(context.Context) error { return nil }

func (s *stubPipeline) Refresh(ctx context.Context) (ingestion.RefreshResult, error) {
	s.refreshes++
	_, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		close(s.refreshed)
	}
	return ingestion.RefreshResult{Documents: 1}, nil
}

func newRouter(t *testing.T, keys []string, limit int) (http.Handler, *stubPipeline) {
	t.Helper()
	engine := indexer.NewEngine(nil)
	engine.IndexData([]school.Record{{ID: "1", Name: "Foley High School", City: "Foley", State: "AL"}})
	search := searchhandler.New(engine, executor.New(engine, executor.DefaultConfig()), config.SearchConfig{}, searchhandler.Options{})
	p := &stubPipeline{refreshed: make(chan struct{})}
	return New(Deps{
		Search:    search,
		Data:      ingesthandler.New(p),
		Analytics: analytics.NewHandler(analytics.NewAggregator(nil)),
		Health:    health.NewChecker(),
		Admin:     apikey.NewValidator(keys),
		Limiter:   ratelimit.New(limit, time.Minute),
		Timeout:   time.Second,
	}), p
}

func do(h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPublicRoutes(t *testing.T) {
	h, _ := newRouter(t, []string{"secret"}, 100)

	for _, target := range []string{
		"/health", "/health/live", "/health/ready",
		"/search?query=foley", "/api/v1/search?q=foley", "/api/v1/index/stats",
		"/api/v1/cache/stats", "/api/v1/analytics", "/setup/status",
	} {
		rec := do(h, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader), target)
	}
}

func TestAdminRoutesRequireKey(t *testing.T) {
	h, p := newRouter(t, []string{"secret"}, 100)

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodPost, "/data/refresh", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodPost, "/setup/start", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Zero(t, p.refreshes)

	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/data/refresh", map[string]string{"X-API-Key": "secret"}).Code)
	assert.Equal(t, http.StatusAccepted, do(h, http.MethodPost, "/setup/start", map[string]string{"Authorization": "Bearer secret"}).Code)
	assert.Equal(t, 1, p.refreshes)
}

func TestAdminRoutesOpenWithoutKeys(t *testing.T) {
	h, _ := newRouter(t, nil, 100)

	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/data/refresh", nil).Code)
}

func TestRefreshRunsWithoutRequestDeadline(t *testing.T) {
	h, p := newRouter(t, nil, 100)

	do(h, http.MethodPost, "/data/refresh", nil)

	select {
	case <-p.refreshed:
	default:
		t.Fatal("refresh ran under the request timeout")
	}
}

func TestMethodAndPathMismatch(t *testing.T) {
	h, _ := newRouter(t, nil, 100)

	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodGet, "/data/refresh", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/nope", nil).Code)
}

func TestRateLimitApplies(t *testing.T) {
	h, _ := newRouter(t, nil, 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(h, http.MethodGet, "/search?query=foley", nil).Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/health", nil).Code)
}
