// Package pipeline decides when the index is (re)built. It loads the seed CSV
// into the record store, hydrates the engine from the store, and tells the
// cache, peer replicas and analytics about every rebuild.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/loader"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/setup"
	apperrors "github.com/Adithya-Monish-Kumar-K/school-search/pkg/errors"
)

// Reindex triggers reported to analytics.
const (
	TriggerStartup  = "startup"
	TriggerRefresh  = "refresh"
	TriggerSetup    = "setup"
	TriggerLazy     = "lazy"
	TriggerSchedule = "schedule"
	TriggerWatch    = "watch"
	TriggerPeer     = "peer"
)

// Store is the record store the pipeline loads into and hydrates from.
type Store interface {
	loader.Sink
	indexer.RecordSource
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// CacheInvalidator drops cached search responses after a reload.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Options holds the optional collaborators. Zero values disable them.
type Options struct {
	Setup     *setup.Service
	Publisher *publisher.Publisher
	Cache     CacheInvalidator
	Tracker   analytics.Tracker
}

type Pipeline struct {
	engine    *indexer.Engine
	store     Store
	loader    *loader.Loader
	csvPath   string
	setup     *setup.Service
	publisher *publisher.Publisher
	cache     CacheInvalidator
	tracker   analytics.Tracker

	refreshMu  sync.Mutex
	refreshing atomic.Bool
	hydrate    singleflight.Group
	logger     *slog.Logger
}

func New(engine *indexer.Engine, store Store, ld *loader.Loader, csvPath string, opts Options) *Pipeline {
	return &Pipeline{
		engine:    engine,
		store:     store,
		loader:    ld,
		csvPath:   csvPath,
		setup:     opts.Setup,
		publisher: opts.Publisher,
		cache:     opts.Cache,
		tracker:   opts.Tracker,
		logger:    slog.Default().With("component", "pipeline"),
	}
}

// Refresh reloads the store from the seed CSV and rebuilds the index. Only
// one refresh runs at a time; a concurrent call fails with
// ErrRefreshInProgress. The store is left untouched when the CSV is missing.
func (p *Pipeline) Refresh(ctx context.Context) (ingestion.RefreshResult, error) {
	return p.refresh(ctx, TriggerRefresh, nil)
}

func (p *Pipeline) refresh(ctx context.Context, trigger string, progress loader.ProgressFunc) (ingestion.RefreshResult, error) {
	if !p.refreshMu.TryLock() {
		return ingestion.RefreshResult{}, apperrors.New(apperrors.ErrRefreshInProgress, http.StatusConflict,
			"a data refresh is already running")
	}
	defer p.refreshMu.Unlock()
	p.refreshing.Store(true)
	defer p.refreshing.Store(false)

	if _, err := os.Stat(p.csvPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ingestion.RefreshResult{}, apperrors.Newf(apperrors.ErrDataFileMissing, http.StatusNotFound,
				"data file not found at %s, run setup first", p.csvPath)
		}
		return ingestion.RefreshResult{}, fmt.Errorf("checking data file: %w", err)
	}

	p.logger.Info("refreshing data", "trigger", trigger, "path", p.csvPath)
	if err := p.store.Clear(ctx); err != nil {
		return ingestion.RefreshResult{}, fmt.Errorf("clearing store: %w", err)
	}
	load, err := p.loader.Load(ctx, p.csvPath, p.store, progress)
	if err != nil {
		return ingestion.RefreshResult{}, fmt.Errorf("loading %s: %w", p.csvPath, err)
	}
	stats, err := p.rebuild(ctx, trigger)
	if err != nil {
		return ingestion.RefreshResult{}, err
	}

	if p.cache != nil {
		if err := p.cache.Invalidate(ctx); err != nil {
			p.logger.Warn("cache invalidation after refresh failed", "error", err)
		}
	}
	_ = p.publisher.PublishReload(ctx, stats.Records, stats.Fingerprint)

	return ingestion.RefreshResult{
		Load:        load,
		Generation:  stats.Generation,
		Documents:   stats.Records,
		Fingerprint: stats.Fingerprint,
	}, nil
}

// Bootstrap prepares the index at process start. An empty store is loaded
// from the seed CSV when one exists; a populated store is indexed as is.
// Without either, the engine stays empty until setup runs.
func (p *Pipeline) Bootstrap(ctx context.Context) error {
	count, err := p.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting stored schools: %w", err)
	}
	if count > 0 {
		p.logger.Info("store already populated", "records", count)
		_, err := p.rebuild(ctx, TriggerStartup)
		return err
	}
	if _, err := os.Stat(p.csvPath); err != nil {
		p.logger.Warn("data file not found, waiting for setup", "path", p.csvPath)
		return nil
	}
	p.logger.Info("store empty, loading seed file", "path", p.csvPath)
	_, err = p.refresh(ctx, TriggerStartup, nil)
	return err
}

// EnsureReady hydrates an empty engine from a populated store. Concurrent
// callers share one hydrate. It does nothing while a refresh is running,
// since the refresh rebuilds the index when it finishes.
func (p *Pipeline) EnsureReady(ctx context.Context) error {
	if p.engine.Ready() || p.refreshing.Load() {
		return nil
	}
	_, err, _ := p.hydrate.Do("hydrate", func() (any, error) {
		if p.engine.Ready() {
			return nil, nil
		}
		count, err := p.store.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("counting stored schools: %w", err)
		}
		if count == 0 {
			return nil, nil
		}
		p.logger.Info("search requested but index empty, loading from store", "records", count)
		_, err = p.rebuild(ctx, TriggerLazy)
		return nil, err
	})
	return err
}

// StartSetup begins a setup run in the background: download, unpack and
// merge the sources, then refresh from the merged file. It fails at once
// with ErrSetupRunning when a run is already active.
func (p *Pipeline) StartSetup(ctx context.Context) error {
	if p.setup == nil {
		return apperrors.New(apperrors.ErrInternal, http.StatusNotImplemented, "setup is not configured")
	}
	if err := p.setup.Begin(); err != nil {
		return err
	}
	go p.runSetup(context.WithoutCancel(ctx))
	return nil
}

// RunSetup is StartSetup in the foreground.
func (p *Pipeline) RunSetup(ctx context.Context) error {
	if p.setup == nil {
		return apperrors.New(apperrors.ErrInternal, http.StatusNotImplemented, "setup is not configured")
	}
	if err := p.setup.Begin(); err != nil {
		return err
	}
	return p.runSetup(ctx)
}

func (p *Pipeline) runSetup(ctx context.Context) error {
	err := p.setup.PrepareFiles(ctx)
	if err != nil {
		p.logger.Error("setup failed", "error", err)
		p.setup.End(err, "")
		return err
	}
	p.logger.Info("setup files ready, populating database")
	res, err := p.refresh(ctx, TriggerSetup, p.setup.UpdateDBProgress)
	if err != nil {
		p.logger.Error("post-setup load failed", "error", err)
		p.setup.End(fmt.Errorf("DB Load Error: %w", err), "")
		return err
	}
	p.setup.End(nil, fmt.Sprintf("Setup complete: %d schools indexed.", res.Documents))
	p.logger.Info("full system setup complete", "documents", res.Documents)
	return nil
}

// StartSchedule refreshes every interval until ctx is cancelled. A zero
// interval disables it.
func (p *Pipeline) StartSchedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.refreshQuietly(ctx, TriggerSchedule)
			}
		}
	}()
	p.logger.Info("scheduled refresh started", "interval", interval)
}

// OnFileChange is the callback for the seed file watcher.
func (p *Pipeline) OnFileChange(ctx context.Context) {
	p.refreshQuietly(ctx, TriggerWatch)
}

// OnPeerReload records a rebuild triggered by another replica.
func (p *Pipeline) OnPeerReload(_ context.Context, stats indexer.BuildStats) {
	p.track(TriggerPeer, stats)
}

func (p *Pipeline) refreshQuietly(ctx context.Context, trigger string) {
	_, err := p.refresh(ctx, trigger, nil)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrRefreshInProgress):
		p.logger.Info("refresh skipped, another is running", "trigger", trigger)
	default:
		p.logger.Error("refresh failed", "trigger", trigger, "error", err)
	}
}

func (p *Pipeline) rebuild(ctx context.Context, trigger string) (indexer.BuildStats, error) {
	stats, err := p.engine.Hydrate(ctx, p.store)
	if err != nil {
		return indexer.BuildStats{}, err
	}
	p.track(trigger, stats)
	return stats, nil
}

func (p *Pipeline) track(trigger string, stats indexer.BuildStats) {
	if p.tracker == nil {
		return
	}
	p.tracker.Track(analytics.ReindexEvent{
		Type:        analytics.EventReindex,
		Trigger:     trigger,
		Generation:  stats.Generation,
		Records:     stats.Records,
		Skipped:     stats.Skipped,
		Terms:       stats.Terms,
		Fingerprint: stats.Fingerprint,
		DurationMs:  float64(stats.Duration.Microseconds()) / 1000,
		Timestamp:   time.Now().UTC(),
	})
}

// SetupStatus reports the setup run, or nil when setup is not configured.
func (p *Pipeline) SetupStatus() *setup.Status {
	if p.setup == nil {
		return nil
	}
	st := p.setup.Status()
	return &st
}
