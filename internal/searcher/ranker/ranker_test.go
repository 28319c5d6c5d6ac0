package ranker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/school"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/parser"
)

var (
	highland  = school.Record{ID: "1", Name: "Highland Park Elementary School", City: "Muscle Shoals", State: "AL"}
	foley     = school.Record{ID: "2", Name: "Foley High School", City: "Foley", State: "AL"}
	jefferson = school.Record{ID: "3", Name: "Jefferson Elem School", City: "Belleville", State: "IL"}
)

func score(rec school.Record, raw string) float64 {
	q := parser.Parse(raw)
	return Score(rec, q.Phrase, q.Tokens)
}

func TestScore(t *testing.T) {
	tests := []struct {
		name  string
		rec   school.Record
		query string
		want  float64
	}{
		// foley: name +10 +5, city equal +8; high: name +10 +5
		{"tokens across name and city", foley, "foley high alabama", 38},
		// high: inside "highland" +10, name prefix +5
		{"token as name prefix", highland, "foley high alabama", 15},
		{"no signal", jefferson, "foley high alabama", 0},
		// phrase equals city +30, token equals city +8
		{"phrase equals city", jefferson, "belleville", 38},
		// phrase in name +50, whole name +10, foley +15 +8, high +15, school +15
		{"exact name", foley, "Foley High School", 113},
		// phrase in name +50, tokens +15 each
		{"phrase substring of name", highland, "park elementary", 80},
		// inside "belleville" +4, equals state +5
		{"city substring and state", jefferson, "il", 9},
		// inside "shoals" +4, equals state +5
		{"state and shoals", highland, "al", 9},
		// "ville" inside city +4, not in name
		{"city substring", jefferson, "ville", 4},
		// phrase in name +50, "ark" inside "park" +10 with no word start bonus
		{"mid-word substring", highland, "ark", 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, score(tt.rec, tt.query))
		})
	}
}

func TestScoreIsCaseInsensitiveOnFields(t *testing.T) {
	upper := school.Record{ID: "4", Name: "FOLEY HIGH SCHOOL", City: "FOLEY", State: "AL"}
	assert.Equal(t, score(foley, "foley high"), score(upper, "foley high"))
}

func TestScoreEmptyFields(t *testing.T) {
	rec := school.Record{ID: "5", Name: "Lone Star Prep"}
	assert.Equal(t, 0.0, score(rec, "austin"))
	assert.Equal(t, 65.0, score(rec, "lone"))
}

func BenchmarkScore(b *testing.B) {
	q := parser.Parse("elementary school highland park")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Score(highland, q.Phrase, q.Tokens)
	}
}
