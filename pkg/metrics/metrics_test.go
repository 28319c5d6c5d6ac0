package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	if out.Counter != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}

func TestObserveSearchResultTypes(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.ObserveSearch("miss", time.Millisecond, 10, 3, nil)
	m.ObserveSearch("hit", time.Millisecond, 0, 0, nil)
	m.ObserveSearch("miss", time.Millisecond, 0, 0, errors.New("boom"))

	assert.Equal(t, 1.0, value(t, m.SearchQueriesTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, value(t, m.SearchQueriesTotal.WithLabelValues("zero_result")))
	assert.Equal(t, 1.0, value(t, m.SearchQueriesTotal.WithLabelValues("error")))
}

func TestObserveRebuildSetsGauges(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.ObserveRebuild(20*time.Millisecond, 1200, 800)
	m.ObserveRebuildFailure()

	assert.Equal(t, 1200.0, value(t, m.IndexDocuments))
	assert.Equal(t, 800.0, value(t, m.IndexTerms))
	assert.Equal(t, 1.0, value(t, m.IndexRebuildsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, value(t, m.IndexRebuildsTotal.WithLabelValues("error")))
}

func TestSetStageMarksOnlyActiveStage(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())
	stages := []string{"idle", "downloading", "completed"}

	m.SetStage("downloading", stages)

	assert.Equal(t, 0.0, value(t, m.SetupStage.WithLabelValues("idle")))
	assert.Equal(t, 1.0, value(t, m.SetupStage.WithLabelValues("downloading")))
	assert.Equal(t, 0.0, value(t, m.SetupStage.WithLabelValues("completed")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSearch("miss", time.Millisecond, 1, 1, nil)
		m.ObserveCache(true)
		m.ObserveRebuild(time.Second, 1, 1)
		m.ObserveRebuildFailure()
		m.ObserveIngest(1, 1)
		m.SetStage("idle", []string{"idle"})
		m.SetBreakerState("download", 1)
	})
}
