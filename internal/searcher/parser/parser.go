// Package parser turns a raw query string into the phrase and term set the
// planner and scorer work from.
package parser

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/indexer/tokenizer"
)

// Query is a parsed search request. Phrase is the whole query lowercased
// and otherwise untouched; Tokens holds each distinct term once.
type Query struct {
	Raw    string
	Phrase string
	Tokens []string
}

// Empty reports whether the query has no searchable terms.
func (q *Query) Empty() bool {
	return len(q.Tokens) == 0
}

func Parse(raw string) *Query {
	q := &Query{Raw: raw}
	if strings.TrimSpace(raw) == "" {
		return q
	}
	q.Phrase = strings.ToLower(raw)
	q.Tokens = tokenizer.Tokenize(raw)
	return q
}
