package index

import "github.com/RoaringBitmap/roaring/v2"

// emptyPostings is returned for unseen terms. Callers treat every bitmap
// from Lookup as read-only, so one shared instance is enough.
var emptyPostings = roaring.New()

// TermCount is a term together with the size of its posting list.
type TermCount struct {
	Term    string `json:"term"`
	Records int    `json:"records"`
}

func addPosting(postings map[string]*roaring.Bitmap, term string, ord uint32) {
	bm, ok := postings[term]
	if !ok {
		bm = roaring.New()
		postings[term] = bm
	}
	bm.Add(ord)
}
