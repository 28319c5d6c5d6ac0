// Package proto defines the message types of the search service's RPC
// surface (see pkg/grpc). They are plain structs with JSON tags.
package proto

// Method names.
const (
	MethodSearch      = "SearchService.Search"
	MethodIndexStats  = "IndexService.Stats"
	MethodHealthCheck = "Health.Check"
)

// HealthCheckResponse reports SERVING or NOT_SERVING, as gRPC health checks do.
type HealthCheckResponse struct {
	Status  string `json:"status"` // SERVING, NOT_SERVING
	Version string `json:"version"`
}

// ---------- Search ----------

// SearchRequest is the input to the Search RPC. A zero Limit selects the
// server default.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int32  `json:"limit"`
}

type SearchResponse struct {
	Query     string         `json:"query"`
	TotalHits int32          `json:"total_hits"`
	Results   []SearchResult `json:"results"`
	TookMs    float64        `json:"took_ms"`
}

// SearchResult is one scored school.
type SearchResult struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	City  string  `json:"city"`
	State string  `json:"state"`
	Score float64 `json:"score"`
}

// ---------- Index ----------

// StatsRequest asks for the TopTerms largest posting lists; zero omits them.
type StatsRequest struct {
	TopTerms int32 `json:"top_terms"`
}

type StatsResponse struct {
	Ready       bool       `json:"ready"`
	Generation  uint64     `json:"generation"`
	Fingerprint string     `json:"fingerprint"`
	Documents   int64      `json:"documents"`
	Terms       int64      `json:"terms"`
	BuiltAt     int64      `json:"built_at,omitempty"`
	TopTerms    []TermStat `json:"top_terms,omitempty"`
}

type TermStat struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}
