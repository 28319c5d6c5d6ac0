package executor

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/config"
)

// PlanConfig tunes candidate retrieval.
type PlanConfig struct {
	// An intersection step is skipped while the candidate set holds fewer
	// than SkipCandidates records and the next list is more than SkipRatio
	// times the candidate count.
	SkipCandidates int
	SkipRatio      int
	// Only posting lists smaller than UnionBreadthCap join the OR fallback.
	UnionBreadthCap int
	// RelaxMissingTerms ignores terms with no postings. When false, a single
	// unseen term makes the whole query return nothing.
	RelaxMissingTerms bool
}

func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		SkipCandidates:  200,
		SkipRatio:       50,
		UnionBreadthCap: 5000,
	}
}

// PlanConfigFrom reads the planner settings from the search config.
func PlanConfigFrom(cfg config.SearchConfig) PlanConfig {
	return PlanConfig{
		SkipCandidates:    cfg.IntersectSkipCandidates,
		SkipRatio:         cfg.IntersectSkipRatio,
		UnionBreadthCap:   cfg.UnionBreadthCap,
		RelaxMissingTerms: cfg.RelaxMissingTerms,
	}
}

// Plan returns the ordinals of the records worth scoring for tokens.
//
// Tier 1 intersects posting lists rarest first, skipping a list that is
// far larger than an already small candidate set. Tier 2 runs when Tier 1
// leaves fewer than limit candidates and unions in every posting list below
// the breadth cap. The returned bitmap belongs to the caller.
func Plan(idx *index.Index, tokens []string, limit int, cfg PlanConfig) *roaring.Bitmap {
	if len(tokens) == 0 || idx.Len() == 0 {
		return roaring.New()
	}

	lists := make([]*roaring.Bitmap, 0, len(tokens))
	for _, tok := range tokens {
		postings := idx.Lookup(tok)
		if postings.IsEmpty() {
			if cfg.RelaxMissingTerms {
				continue
			}
			return roaring.New()
		}
		lists = append(lists, postings)
	}
	if len(lists) == 0 {
		return roaring.New()
	}
	sort.SliceStable(lists, func(i, j int) bool {
		return lists[i].GetCardinality() < lists[j].GetCardinality()
	})

	candidates := lists[0].Clone()
	for _, postings := range lists[1:] {
		n := candidates.GetCardinality()
		if n < uint64(cfg.SkipCandidates) && postings.GetCardinality() > uint64(cfg.SkipRatio)*n {
			continue
		}
		candidates.And(postings)
		if candidates.IsEmpty() {
			break
		}
	}

	if limit > 0 && candidates.GetCardinality() < uint64(limit) {
		for _, postings := range lists {
			if postings.GetCardinality() < uint64(cfg.UnionBreadthCap) {
				candidates.Or(postings)
			}
		}
	}
	return candidates
}
