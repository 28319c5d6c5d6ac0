// Package ranker scores a school against a query with a fixed additive point
// system over the name, city, and state fields.
package ranker

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/school"
)

const (
	phraseInName   = 50
	phraseIsName   = 10
	phraseIsCity   = 30
	tokenInName    = 10
	tokenWordStart = 5
	tokenIsCity    = 8
	tokenInCity    = 4
	tokenIsState   = 5
)

// Score returns the relevance of rec for a query whose lowercased text is
// phrase and whose distinct terms are tokens. Zero means no match.
func Score(rec school.Record, phrase string, tokens []string) float64 {
	name := strings.ToLower(rec.Name)
	city := strings.ToLower(rec.City)
	state := strings.ToLower(rec.State)

	score := 0
	if strings.Contains(name, phrase) {
		score += phraseInName
		if name == phrase {
			score += phraseIsName
		}
	}
	if phrase == city {
		score += phraseIsCity
	}

	for _, tok := range tokens {
		if strings.Contains(name, tok) {
			score += tokenInName
			// Approximate word start: no check for other separators.
			if strings.HasPrefix(name, tok) || strings.Contains(name, " "+tok) {
				score += tokenWordStart
			}
		}
		switch {
		case tok == city:
			score += tokenIsCity
		case strings.Contains(city, tok):
			score += tokenInCity
		}
		if tok == state {
			score += tokenIsState
		}
	}
	return float64(score)
}
