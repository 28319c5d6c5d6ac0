// Package setup prepares the seed CSV: it downloads the NCES source archives,
// unpacks them and merges their CSV parts into a single file. Progress is
// kept in a Status that the setup endpoints report while a run is active.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/school-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/resilience"
)

// Status is the JSON document served by GET /setup/status.
type Status struct {
	IsRunning  bool                              `json:"is_running"`
	Stage      string                            `json:"stage"`
	Message    string                            `json:"message"`
	Progress   map[string]ingestion.ByteProgress `json:"progress"`
	DBProgress ingestion.LoadProgress            `json:"db_progress"`
	Files      map[string]string                 `json:"files"`
}

type Service struct {
	dataDir         string
	csvPath         string
	sources         map[string]string
	client          *http.Client
	downloadTimeout time.Duration
	retry           resilience.RetryConfig
	breaker         *resilience.CircuitBreaker
	metrics         *metrics.Metrics
	logger          *slog.Logger

	mu     sync.Mutex
	status Status
}

// New returns an idle Service. m may be nil.
func New(data config.DataConfig, cfg config.SetupConfig, m *metrics.Metrics) *Service {
	s := &Service{
		dataDir:         data.Dir,
		csvPath:         data.CSVPath(),
		sources:         maps.Clone(data.Sources),
		client:          &http.Client{},
		downloadTimeout: cfg.DownloadTimeout,
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.RetryAttempts,
			InitialDelay: cfg.RetryInitialDelay,
			ShouldRetry:  retryable,
		},
		metrics: m,
		logger:  slog.Default().With("component", "setup"),
	}
	s.breaker = resilience.NewCircuitBreaker("nces-download", resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout,
		OnStateChange: func(name string, to resilience.State) {
			m.SetBreakerState(name, int(to))
		},
	})
	s.status = Status{
		Stage:    ingestion.StageIdle,
		Message:  "Ready to start.",
		Progress: map[string]ingestion.ByteProgress{},
	}
	m.SetStage(ingestion.StageIdle, ingestion.Stages)
	return s
}

// Status returns a copy of the current status with the data directory
// listing refreshed.
func (s *Service) Status() Status {
	files := s.fileStats()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Progress = maps.Clone(s.status.Progress)
	st.Files = files
	return st
}

// Begin marks a run as started. It fails with ErrSetupRunning while another
// run is active.
func (s *Service) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsRunning {
		return apperrors.New(apperrors.ErrSetupRunning, http.StatusConflict, "Setup already running")
	}
	s.status.IsRunning = true
	s.status.Progress = map[string]ingestion.ByteProgress{}
	s.status.DBProgress = ingestion.LoadProgress{}
	s.setStageLocked(ingestion.StageStarting, "Starting setup...")
	return nil
}

// End finishes the active run. A nil err marks it completed.
func (s *Service) End(err error, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.IsRunning = false
	if err != nil {
		s.setStageLocked(ingestion.StageError, err.Error())
		return
	}
	s.setStageLocked(ingestion.StageCompleted, message)
}

// Run performs a complete file preparation: Begin, PrepareFiles, End.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Begin(); err != nil {
		return err
	}
	err := s.PrepareFiles(ctx)
	s.End(err, "Setup files ready.")
	return err
}

// PrepareFiles downloads, unpacks and merges the sources into the seed CSV.
// Begin must have been called.
func (s *Service) PrepareFiles(ctx context.Context) error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	s.setStage(ingestion.StageDownloading, "Downloading...")
	for _, key := range s.sourceKeys() {
		if err := s.download(ctx, key, s.sources[key]); err != nil {
			return err
		}
	}

	s.setStage(ingestion.StageUnpacking, "Unpacking...")
	for _, key := range s.sourceKeys() {
		s.setMessage(fmt.Sprintf("Unzipping %s...", key))
		if err := unzip(s.zipPath(key), s.dataDir); err != nil {
			s.logger.Warn("failed to unzip archive", "archive", s.zipPath(key), "error", err)
		}
	}

	s.setStage(ingestion.StageMerging, "Merging CSVs...")
	parts, err := mergeCSVs(s.dataDir, s.csvPath)
	if err != nil {
		return err
	}
	s.logger.Info("setup files ready", "parts", parts, "output", s.csvPath)
	return nil
}

// UpdateDBProgress reports a CSV load that follows file preparation.
func (s *Service) UpdateDBProgress(p ingestion.LoadProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.DBProgress = p
	s.setStageLocked(ingestion.StagePopulatingDB,
		fmt.Sprintf("Populating Database: %d%% (%d rows)", p.Pct, p.RowsLoaded))
}

func (s *Service) sourceKeys() []string {
	keys := make([]string, 0, len(s.sources))
	for k := range s.sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Service) zipPath(key string) string {
	return filepath.Join(s.dataDir, key+".zip")
}

func (s *Service) setStage(stage, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStageLocked(stage, message)
}

func (s *Service) setStageLocked(stage, message string) {
	if s.status.Stage != stage {
		s.metrics.SetStage(stage, ingestion.Stages)
	}
	s.status.Stage = stage
	s.status.Message = message
}

func (s *Service) setMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Message = message
}

func (s *Service) setProgress(key string, p ingestion.ByteProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Progress[key] = p
}

func (s *Service) fileStats() map[string]string {
	files := map[string]string{}
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return files
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files[e.Name()] = fmt.Sprintf("%.2f MB", float64(info.Size())/(1024*1024))
	}
	return files
}
