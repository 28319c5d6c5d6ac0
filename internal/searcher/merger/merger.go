// Package merger selects the best results under the search ordering: score
// descending, then name ascending byte-wise, then ID ascending.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/school"
)

// Before reports whether a ranks ahead of b.
func Before(a, b school.Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.School.Name != b.School.Name {
		return a.School.Name < b.School.Name
	}
	return a.School.ID < b.School.ID
}

// TopK keeps the best limit results offered to it. Memory is bounded by
// limit regardless of how many results are offered.
type TopK struct {
	limit int
	h     resultHeap
}

func NewTopK(limit int) *TopK {
	if limit < 0 {
		limit = 0
	}
	capacity := limit
	if capacity > 1024 {
		capacity = 1024
	}
	return &TopK{limit: limit, h: make(resultHeap, 0, capacity)}
}

// Offer considers r for the top limit.
func (t *TopK) Offer(r school.Result) {
	if t.limit == 0 {
		return
	}
	if t.h.Len() < t.limit {
		heap.Push(&t.h, r)
		return
	}
	if Before(r, t.h[0]) {
		t.h[0] = r
		heap.Fix(&t.h, 0)
	}
}

func (t *TopK) Len() int { return t.h.Len() }

// Drain returns the kept results best first and empties the collector.
func (t *TopK) Drain() []school.Result {
	out := make([]school.Result, t.h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&t.h).(school.Result)
	}
	return out
}

// Merge combines per-partition results into the overall best limit.
func Merge(partitions [][]school.Result, limit int) []school.Result {
	top := NewTopK(limit)
	for _, results := range partitions {
		for _, r := range results {
			top.Offer(r)
		}
	}
	return top.Drain()
}

// resultHeap is a min-heap under Before, so the root is the weakest kept
// result and the first to be evicted.
type resultHeap []school.Result

func (h resultHeap) Len() int { return len(h) }

func (h resultHeap) Less(i, j int) bool { return Before(h[j], h[i]) }

func (h resultHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x any) {
	*h = append(*h, x.(school.Result))
}

func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
