// Package indexer owns the live school index. An Engine builds a complete
// index off to the side and publishes it with a single atomic pointer swap,
// so searches never wait on a rebuild and never see a partial index.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/school"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/metrics"
)

// RecordSource streams every stored record. Store implementations satisfy it.
type RecordSource interface {
	Each(ctx context.Context, fn func(school.Record) error) error
}

// BuildStats describes one completed rebuild.
type BuildStats struct {
	Generation  uint64        `json:"generation"`
	Fingerprint string        `json:"fingerprint"`
	Records     int           `json:"records"`
	Skipped     int           `json:"skipped"`
	Terms       int           `json:"terms"`
	Duration    time.Duration `json:"duration_ns"`
}

type Engine struct {
	current    atomic.Pointer[index.Index]
	buildMu    sync.Mutex
	generation uint64
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewEngine returns an engine in the empty state. m may be nil.
func NewEngine(m *metrics.Metrics) *Engine {
	e := &Engine{
		metrics: m,
		logger:  slog.Default().With("component", "indexer"),
	}
	e.current.Store(index.Empty())
	return e
}

// IndexData replaces the live index with one built from records. Concurrent
// calls run one at a time; readers keep the previous index until the swap.
func (e *Engine) IndexData(records []school.Record) BuildStats {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	start := time.Now()
	e.generation++
	idx := index.Build(records, e.generation)
	e.current.Store(idx)

	stats := BuildStats{
		Generation:  idx.Generation(),
		Fingerprint: FormatFingerprint(idx.Fingerprint()),
		Records:     idx.Len(),
		Skipped:     idx.Skipped(),
		Terms:       idx.Terms(),
		Duration:    time.Since(start),
	}
	e.metrics.ObserveRebuild(stats.Duration, stats.Records, stats.Terms)
	e.logger.Info("index rebuilt",
		"generation", stats.Generation,
		"records", stats.Records,
		"skipped", stats.Skipped,
		"tokens", stats.Terms,
		"duration", stats.Duration,
	)
	return stats
}

// FormatFingerprint renders an index fingerprint for logs and events.
func FormatFingerprint(fp uint64) string {
	return fmt.Sprintf("%016x", fp)
}

// Fingerprint returns the formatted fingerprint of the live index.
func (e *Engine) Fingerprint() string {
	return FormatFingerprint(e.Snapshot().Fingerprint())
}

// Hydrate reads every record from src and rebuilds the index from them. A
// failed read leaves the live index untouched.
func (e *Engine) Hydrate(ctx context.Context, src RecordSource) (BuildStats, error) {
	records := make([]school.Record, 0, e.DocCount())
	err := src.Each(ctx, func(rec school.Record) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		e.metrics.ObserveRebuildFailure()
		return BuildStats{}, fmt.Errorf("reading records for index: %w", err)
	}
	return e.IndexData(records), nil
}

// Snapshot returns the live index. The result stays valid and unchanged for
// as long as the caller holds it, even across rebuilds.
func (e *Engine) Snapshot() *index.Index {
	return e.current.Load()
}

// Ready reports whether IndexData has run at least once.
func (e *Engine) Ready() bool {
	return e.Snapshot().Generation() > 0
}

func (e *Engine) DocCount() int {
	return e.Snapshot().Len()
}

func (e *Engine) Generation() uint64 {
	return e.Snapshot().Generation()
}

// Stats summarizes the live index for the stats endpoints.
type Stats struct {
	Ready       bool              `json:"ready"`
	Generation  uint64            `json:"generation"`
	Fingerprint string            `json:"fingerprint"`
	Documents   int               `json:"documents"`
	Terms       int               `json:"terms"`
	BuiltAt     *time.Time        `json:"built_at,omitempty"`
	TopTerms    []index.TermCount `json:"top_terms,omitempty"`
}

// Stats reports on the live index, including the topN largest terms.
func (e *Engine) Stats(topN int) Stats {
	idx := e.Snapshot()
	s := Stats{
		Ready:       idx.Generation() > 0,
		Generation:  idx.Generation(),
		Fingerprint: FormatFingerprint(idx.Fingerprint()),
		Documents:   idx.Len(),
		Terms:       idx.Terms(),
	}
	if s.Ready {
		builtAt := idx.BuiltAt()
		s.BuiltAt = &builtAt
	}
	if topN > 0 {
		s.TopTerms = idx.TopTerms(topN)
	}
	return s
}
