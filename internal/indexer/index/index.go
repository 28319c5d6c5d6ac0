// Package index holds the immutable inverted index over school records.
// Records are addressed by dense uint32 ordinals so posting lists can be
// stored as roaring bitmaps; an Index is never modified after Build returns.
package index

import (
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/school"
)

// Index maps terms to the ordinals of the records whose name, city, or state
// produced them. Every ordinal in a posting list addresses a stored record.
type Index struct {
	generation  uint64
	builtAt     time.Time
	records     []school.Record
	byID        map[string]uint32
	postings    map[string]*roaring.Bitmap
	skipped     int
	fingerprint uint64
}

// Build indexes records. Records with an empty ID are skipped. When an ID
// repeats, the last record wins and keeps the position of the first.
func Build(records []school.Record, generation uint64) *Index {
	idx := &Index{
		generation: generation,
		builtAt:    time.Now(),
		records:    make([]school.Record, 0, len(records)),
		byID:       make(map[string]uint32, len(records)),
		postings:   make(map[string]*roaring.Bitmap),
	}
	for _, rec := range records {
		if rec.ID == "" {
			idx.skipped++
			continue
		}
		if ord, ok := idx.byID[rec.ID]; ok {
			idx.records[ord] = rec
			continue
		}
		idx.byID[rec.ID] = uint32(len(idx.records))
		idx.records = append(idx.records, rec)
	}

	digest := xxhash.New()
	terms := make(map[string]struct{}, 16)
	for ord, rec := range idx.records {
		writeRecord(digest, rec)
		clear(terms)
		tokenizer.AppendTerms(terms, rec.Name)
		tokenizer.AppendTerms(terms, rec.City)
		tokenizer.AppendTerms(terms, rec.State)
		for term := range terms {
			addPosting(idx.postings, term, uint32(ord))
		}
	}
	for _, bm := range idx.postings {
		bm.RunOptimize()
	}
	idx.fingerprint = digest.Sum64()
	return idx
}

func writeRecord(d *xxhash.Digest, rec school.Record) {
	for _, field := range [...]string{rec.ID, rec.Name, rec.City, rec.State} {
		_, _ = d.WriteString(field)
		_, _ = d.Write([]byte{0})
	}
}

// Empty returns an index with no records.
func Empty() *Index {
	return Build(nil, 0)
}

// Lookup returns the posting list for term. The bitmap is shared and must
// not be modified; an unseen term yields an empty bitmap, never nil.
func (idx *Index) Lookup(term string) *roaring.Bitmap {
	if bm, ok := idx.postings[term]; ok {
		return bm
	}
	return emptyPostings
}

// Cardinality returns the number of records containing term.
func (idx *Index) Cardinality(term string) int {
	return int(idx.Lookup(term).GetCardinality())
}

// Record returns the record stored at ordinal ord.
func (idx *Index) Record(ord uint32) school.Record {
	return idx.records[ord]
}

// Get returns the record with the given ID.
func (idx *Index) Get(id string) (school.Record, bool) {
	ord, ok := idx.byID[id]
	if !ok {
		return school.Record{}, false
	}
	return idx.records[ord], true
}

// Len returns the number of indexed records.
func (idx *Index) Len() int {
	return len(idx.records)
}

// Terms returns the number of distinct terms.
func (idx *Index) Terms() int {
	return len(idx.postings)
}

// Skipped returns how many input records were dropped for lacking an ID.
func (idx *Index) Skipped() int {
	return idx.skipped
}

// Fingerprint hashes the indexed records in order. Two indexes built from
// the same records have the same fingerprint.
func (idx *Index) Fingerprint() uint64 {
	return idx.fingerprint
}

func (idx *Index) Generation() uint64 {
	return idx.generation
}

func (idx *Index) BuiltAt() time.Time {
	return idx.builtAt
}

// All returns a bitmap holding every ordinal.
func (idx *Index) All() *roaring.Bitmap {
	bm := roaring.New()
	bm.AddRange(0, uint64(len(idx.records)))
	return bm
}

// TopTerms returns up to n terms with the largest posting lists, largest
// first and ties by term.
func (idx *Index) TopTerms(n int) []TermCount {
	counts := make([]TermCount, 0, len(idx.postings))
	for term, bm := range idx.postings {
		counts = append(counts, TermCount{Term: term, Records: int(bm.GetCardinality())})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Records != counts[j].Records {
			return counts[i].Records > counts[j].Records
		}
		return counts[i].Term < counts[j].Term
	})
	if n >= 0 && n < len(counts) {
		counts = counts[:n]
	}
	return counts
}
