// Package ingestion defines the progress reports and Kafka event schemas used
// by the school data pipeline: setup downloads, CSV loads and index reloads.
package ingestion

import "time"

// Setup stages, in the order a successful run passes through them.
const (
	StageIdle         = "idle"
	StageStarting     = "starting"
	StageDownloading  = "downloading"
	StageUnpacking    = "unpacking"
	StageMerging      = "merging"
	StagePopulatingDB = "populating_db"
	StageCompleted    = "completed"
	StageError        = "error"
)

// Stages lists every setup stage for the stage gauge.
var Stages = []string{
	StageIdle, StageStarting, StageDownloading, StageUnpacking,
	StageMerging, StagePopulatingDB, StageCompleted, StageError,
}

// ByteProgress tracks a single download.
type ByteProgress struct {
	Current int64 `json:"current"`
	Total   int64 `json:"total"`
}

// LoadProgress reports how far a CSV load has read into its file.
type LoadProgress struct {
	Current    int64 `json:"current"`
	Total      int64 `json:"total"`
	Pct        int   `json:"pct"`
	RowsLoaded int   `json:"rows_loaded"`
}

// NewLoadProgress computes the percentage from the byte counts.
func NewLoadProgress(current, total int64, rows int) LoadProgress {
	p := LoadProgress{Current: current, Total: total, RowsLoaded: rows}
	if total > 0 {
		p.Pct = int(current * 100 / total)
	}
	return p
}

// LoadResult summarizes a finished CSV load.
type LoadResult struct {
	Encoding string        `json:"encoding"`
	Rows     int           `json:"rows"`
	Loaded   int           `json:"loaded"`
	Skipped  int           `json:"skipped"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration_ns"`
}

// ReloadEvent is published after a replica reloads the shared record store so
// that other replicas rebuild their indexes from it.
type ReloadEvent struct {
	InstanceID  string    `json:"instance_id"`
	Records     int       `json:"records"`
	Fingerprint string    `json:"fingerprint"`
	ReloadedAt  time.Time `json:"reloaded_at"`
}

// RefreshResult is returned by the refresh endpoint and CLI.
type RefreshResult struct {
	Load        LoadResult `json:"load"`
	Generation  uint64     `json:"generation"`
	Documents   int        `json:"documents"`
	Fingerprint string     `json:"fingerprint"`
}
