package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/postgres"
)

type fakeLister struct {
	limit     int
	snapshots []analytics.AggregatedStats
	err       error
}

func (f *fakeLister) ListSnapshots(_ context.Context, limit int) ([]analytics.AggregatedStats, error) {
	f.limit = limit
	return f.snapshots, f.err
}

func TestHistoryHandlerLimits(t *testing.T) {
	tests := []struct {
		name   string
		target string
		status int
		limit  int
	}{
		{"default", "/api/v1/analytics/history", http.StatusOK, defaultHistory},
		{"explicit", "/api/v1/analytics/history?limit=3", http.StatusOK, 3},
		{"clamped", "/api/v1/analytics/history?limit=100000", http.StatusOK, maxHistory},
		{"zero", "/api/v1/analytics/history?limit=0", http.StatusBadRequest, 0},
		{"garbage", "/api/v1/analytics/history?limit=ten", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeLister{}
			rec := httptest.NewRecorder()

			HistoryHandler(f)(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.limit, f.limit)
		})
	}
}

func TestHistoryHandlerBody(t *testing.T) {
	f := &fakeLister{snapshots: []analytics.AggregatedStats{{TotalSearches: 9}, {TotalSearches: 4}}}
	rec := httptest.NewRecorder()

	HistoryHandler(f)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/history", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count     int                         `json:"count"`
		Snapshots []analytics.AggregatedStats `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, int64(9), body.Snapshots[0].TotalSearches)
}

func TestHistoryHandlerEmptyAndFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	HistoryHandler(&fakeLister{})(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.JSONEq(t, `{"count":0,"snapshots":[]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	HistoryHandler(&fakeLister{err: errors.New("connection reset")})(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func skipIfNoPostgres(t *testing.T) *Store {
	t.Helper()
	db, err := postgres.New(context.Background(), config.PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		Database:        "schoolsearch_test",
		User:            "schoolsearch",
		Password:        "localdev",
		SSLMode:         "disable",
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := NewStore(db)
	require.NoError(t, s.EnsureSchema(context.Background()))
	_, err = db.DB.Exec(`TRUNCATE analytics_snapshots`)
	require.NoError(t, err)
	return s
}

func TestStoreSnapshotsRoundTrip(t *testing.T) {
	s := skipIfNoPostgres(t)
	ctx := context.Background()

	latest, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, s.SaveSnapshot(ctx, analytics.AggregatedStats{TotalSearches: 1}))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.SaveSnapshot(ctx, analytics.AggregatedStats{TotalSearches: 2}))

	latest, err = s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.TotalSearches)

	list, err := s.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[1].TotalSearches)
}
