// Package executor runs a query against the live index: it plans the
// candidate set, scores candidates sequentially or across parallel
// partitions, and keeps the best results.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/school"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/tracing"
)

type SearchResult struct {
	Query      string          `json:"query"`
	TotalHits  int             `json:"total_hits"`
	Results    []school.Result `json:"results"`
	Candidates int             `json:"-"`
	Generation uint64          `json:"-"`
	Took       time.Duration   `json:"-"`
}

// Config controls planning and the parallel scoring fan-out.
type Config struct {
	Plan PlanConfig
	// Candidate sets larger than ParallelThreshold are scored across
	// Partitions concurrent workers.
	ParallelThreshold int
	Partitions        int
}

func DefaultConfig() Config {
	return Config{
		Plan:              DefaultPlanConfig(),
		ParallelThreshold: 5000,
		Partitions:        4,
	}
}

// ConfigFrom reads executor settings from the search config.
func ConfigFrom(cfg config.SearchConfig) Config {
	return Config{
		Plan:              PlanConfigFrom(cfg),
		ParallelThreshold: cfg.ParallelThreshold,
		Partitions:        cfg.Partitions,
	}
}

type scoreFunc func(rec school.Record, phrase string, tokens []string) float64

type Executor struct {
	engine *indexer.Engine
	cfg    Config
	score  scoreFunc
	logger *slog.Logger
}

func New(engine *indexer.Engine, cfg Config) *Executor {
	if cfg.Partitions < 1 {
		cfg.Partitions = 1
	}
	return &Executor{
		engine: engine,
		cfg:    cfg,
		score:  ranker.Score,
		logger: slog.Default().With("component", "query-executor"),
	}
}

// Execute answers raw with at most limit results. Queries without terms,
// non-positive limits, and an empty index all produce an empty result. The
// only error is a scoring partition that panicked, in which case no results
// are returned.
func (e *Executor) Execute(ctx context.Context, raw string, limit int) (*SearchResult, error) {
	start := time.Now()
	res := &SearchResult{
		Query:   raw,
		Results: []school.Result{},
	}
	q := parser.Parse(raw)
	if q.Empty() || limit <= 0 {
		return res, nil
	}

	idx := e.engine.Snapshot()
	res.Generation = idx.Generation()
	if idx.Len() == 0 {
		return res, nil
	}

	_, planSpan := tracing.StartChildSpan(ctx, "plan")
	candidates := Plan(idx, q.Tokens, limit, e.cfg.Plan)
	res.Candidates = int(candidates.GetCardinality())
	planSpan.SetAttr("tokens", len(q.Tokens))
	planSpan.SetAttr("candidates", res.Candidates)
	planSpan.End()

	_, scoreSpan := tracing.StartChildSpan(ctx, "score")
	ords := candidates.ToArray()
	var (
		results []school.Result
		matched int
		err     error
	)
	if len(ords) > e.cfg.ParallelThreshold && e.cfg.Partitions > 1 {
		results, matched, err = e.scoreParallel(idx, ords, q, limit)
		scoreSpan.SetAttr("partitions", e.cfg.Partitions)
	} else {
		results, matched, err = e.scoreSequential(idx, ords, q, limit)
	}
	scoreSpan.End()
	res.Took = time.Since(start)
	if err != nil {
		e.logger.Error("query failed",
			"request_id", logger.RequestID(ctx),
			"query", raw,
			"candidates", res.Candidates,
			"error", err,
		)
		return nil, err
	}

	res.TotalHits = matched
	res.Results = results
	e.logger.Info("query executed",
		"request_id", logger.RequestID(ctx),
		"query", raw,
		"limit", limit,
		"candidates", res.Candidates,
		"results", len(results),
		"took_ms", float64(res.Took.Microseconds())/1000,
	)
	return res, nil
}
