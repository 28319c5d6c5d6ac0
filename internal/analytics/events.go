package analytics

import "time"

type EventType string

const (
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
	EventReindex    EventType = "reindex"
)

// Event is anything the collector can ship. The type travels with the event
// so consumers can decode it without guessing.
type Event interface {
	EventType() EventType
}

// Tracker accepts events without blocking the caller.
type Tracker interface {
	Track(Event)
}

// Multi fans each event out to every non-nil tracker.
func Multi(trackers ...Tracker) Tracker {
	out := make(multi, 0, len(trackers))
	for _, t := range trackers {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

type multi []Tracker

func (m multi) Track(e Event) {
	for _, t := range m {
		t.Track(e)
	}
}

type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Terms     []string  `json:"terms"`
	TotalHits int       `json:"total_hits"`
	Returned  int       `json:"returned"`
	LatencyMs float64   `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

func (e SearchEvent) EventType() EventType { return e.Type }

// ReindexEvent records one index rebuild and what triggered it.
type ReindexEvent struct {
	Type        EventType `json:"type"`
	Trigger     string    `json:"trigger"`
	Generation  uint64    `json:"generation"`
	Records     int       `json:"records"`
	Skipped     int       `json:"skipped"`
	Terms       int       `json:"terms"`
	Fingerprint string    `json:"fingerprint"`
	DurationMs  float64   `json:"duration_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e ReindexEvent) EventType() EventType { return EventReindex }
