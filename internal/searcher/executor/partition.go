package executor

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/school"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/school-search/pkg/errors"
)

// partitionResult is one worker's share: its own best results and how many
// of its candidates scored above zero.
type partitionResult struct {
	top     []school.Result
	matched int
}

func (e *Executor) scoreSequential(idx *index.Index, ords []uint32, q *parser.Query, limit int) ([]school.Result, int, error) {
	part, err := e.scorePartition(0, idx, ords, q, limit)
	if err != nil {
		return nil, 0, err
	}
	return part.top, part.matched, nil
}

// scoreParallel splits ords into e.cfg.Partitions chunks and scores them
// concurrently. Every worker runs to completion before the results are
// merged; if any worker fails the whole query fails.
func (e *Executor) scoreParallel(idx *index.Index, ords []uint32, q *parser.Query, limit int) ([]school.Result, int, error) {
	chunks := split(ords, e.cfg.Partitions)
	parts := make([]partitionResult, len(chunks))

	var g errgroup.Group
	for i, chunk := range chunks {
		g.Go(func() error {
			part, err := e.scorePartition(i, idx, chunk, q, limit)
			if err != nil {
				return err
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	tops := make([][]school.Result, len(parts))
	matched := 0
	for i, part := range parts {
		tops[i] = part.top
		matched += part.matched
	}
	return merger.Merge(tops, limit), matched, nil
}

func (e *Executor) scorePartition(n int, idx *index.Index, ords []uint32, q *parser.Query, limit int) (part partitionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: partition %d: %v", apperrors.ErrPartitionFailed, n, r)
		}
	}()

	top := merger.NewTopK(limit)
	for _, ord := range ords {
		rec := idx.Record(ord)
		score := e.score(rec, q.Phrase, q.Tokens)
		if score <= 0 {
			continue
		}
		part.matched++
		top.Offer(school.Result{School: rec, Score: score})
	}
	part.top = top.Drain()
	return part, nil
}

// split cuts ords into at most n contiguous chunks of len(ords)/n+1.
func split(ords []uint32, n int) [][]uint32 {
	if len(ords) == 0 {
		return nil
	}
	size := len(ords)/n + 1
	chunks := make([][]uint32, 0, n)
	for start := 0; start < len(ords); start += size {
		end := min(start+size, len(ords))
		chunks = append(chunks, ords[start:end])
	}
	return chunks
}
