// Package school defines the institution record that flows from ingestion
// through the index to search responses.
package school

// Record is one institution as loaded from the seed data. ID is unique and
// non-empty once a record has passed validation.
type Record struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	City  string `json:"city"`
	State string `json:"state"`
}

// Result is a scored match returned for a single query.
type Result struct {
	School Record  `json:"school"`
	Score  float64 `json:"score"`
}
