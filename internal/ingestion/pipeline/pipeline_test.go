package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/loader"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/setup"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/school"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/school-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/kafka"
)

const seedCSV = "NCESSCH,SCHNAM05,LCITY05,LSTATE05\n" +
	"010000500870,Albertville Middle School,Albertville,AL\n" +
	"010000500871,Albertville High School,Albertville,AL\n" +
	"010000600877,Snead Elementary School,Boaz,AL\n"

type countingCache struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

type recordingTracker struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (r *recordingTracker) Track(e analytics.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingTracker) triggers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if ev, ok := e.(analytics.ReindexEvent); ok {
			out = append(out, ev.Trigger)
		}
	}
	return out
}

type recordingProducer struct {
	events []kafka.Event
}

func (r *recordingProducer) Publish(_ context.Context, e kafka.Event) error {
	r.events = append(r.events, e)
	return nil
}

type fixture struct {
	engine   *indexer.Engine
	store    *store.SQLiteStore
	cache    *countingCache
	tracker  *recordingTracker
	producer *recordingProducer
	csvPath  string
	pipeline *Pipeline
}

func newFixture(t *testing.T, withCSV bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.OpenSQLite(filepath.Join(dir, "schools.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	csvPath := filepath.Join(dir, "school_data.csv")
	if withCSV {
		require.NoError(t, os.WriteFile(csvPath, []byte(seedCSV), 0o644))
	}
	f := &fixture{
		engine:   indexer.NewEngine(nil),
		store:    st,
		cache:    &countingCache{},
		tracker:  &recordingTracker{},
		producer: &recordingProducer{},
		csvPath:  csvPath,
	}
	ld := loader.New(config.DataConfig{LoadBatchSize: 2, ProgressEvery: 1}, nil)
	f.pipeline = New(f.engine, st, ld, csvPath, Options{
		Publisher: publisher.New("replica-a", f.producer),
		Cache:     f.cache,
		Tracker:   f.tracker,
	})
	return f
}

func TestRefreshLoadsIndexesAndAnnounces(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	res, err := f.pipeline.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Load.Loaded)
	assert.Equal(t, 3, res.Documents)
	assert.Equal(t, uint64(1), res.Generation)
	assert.Equal(t, f.engine.Fingerprint(), res.Fingerprint)
	assert.Equal(t, 3, f.engine.DocCount())

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	assert.Equal(t, 1, f.cache.calls)
	require.Len(t, f.producer.events, 1)
	assert.Equal(t, "replica-a", f.producer.events[0].Key)
	assert.Equal(t, []string{TriggerRefresh}, f.tracker.triggers())
}

func TestRefreshReplacesPreviousRecords(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertBatch(ctx, []school.Record{{ID: "stale", Name: "Closed Academy", City: "Nowhere", State: "ZZ"}}))

	_, err := f.pipeline.Refresh(ctx)
	require.NoError(t, err)

	_, ok := f.engine.Snapshot().Get("stale")
	assert.False(t, ok)
	assert.Equal(t, 3, f.engine.DocCount())
}

func TestRefreshWithoutDataFileKeepsStore(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertBatch(ctx, []school.Record{{ID: "1", Name: "Foley High School", City: "Foley", State: "AL"}}))

	_, err := f.pipeline.Refresh(ctx)

	assert.ErrorIs(t, err, apperrors.ErrDataFileMissing)
	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Zero(t, f.cache.calls)
	assert.Empty(t, f.producer.events)
}

func TestRefreshRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t, true)
	f.pipeline.refreshMu.Lock()
	defer f.pipeline.refreshMu.Unlock()

	_, err := f.pipeline.Refresh(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrRefreshInProgress)
	assert.Equal(t, 409, apperrors.HTTPStatusCode(err))
}

func TestBootstrapLoadsSeedIntoEmptyStore(t *testing.T) {
	f := newFixture(t, true)

	require.NoError(t, f.pipeline.Bootstrap(context.Background()))

	assert.True(t, f.engine.Ready())
	assert.Equal(t, 3, f.engine.DocCount())
	assert.Equal(t, []string{TriggerStartup}, f.tracker.triggers())
}

func TestBootstrapIndexesPopulatedStoreWithoutReloading(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertBatch(ctx, []school.Record{{ID: "1", Name: "Foley High School", City: "Foley", State: "AL"}}))

	require.NoError(t, f.pipeline.Bootstrap(ctx))

	assert.Equal(t, 1, f.engine.DocCount())
	assert.Empty(t, f.producer.events)
}

func TestBootstrapWaitsForSetup(t *testing.T) {
	f := newFixture(t, false)

	require.NoError(t, f.pipeline.Bootstrap(context.Background()))

	assert.False(t, f.engine.Ready())
}

func TestEnsureReadyHydratesOnce(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertBatch(ctx, []school.Record{
		{ID: "1", Name: "Foley High School", City: "Foley", State: "AL"},
		{ID: "2", Name: "Jefferson Elem School", City: "Belleville", State: "IL"},
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.pipeline.EnsureReady(ctx))
		}()
	}
	wg.Wait()

	assert.True(t, f.engine.Ready())
	assert.Equal(t, 2, f.engine.DocCount())
	assert.Equal(t, uint64(1), f.engine.Generation())
	assert.Equal(t, []string{TriggerLazy}, f.tracker.triggers())
}

func TestEnsureReadyLeavesEmptyStoreAlone(t *testing.T) {
	f := newFixture(t, false)

	require.NoError(t, f.pipeline.EnsureReady(context.Background()))

	assert.False(t, f.engine.Ready())
}

func TestStartSetupWithoutService(t *testing.T) {
	f := newFixture(t, true)

	err := f.pipeline.StartSetup(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrInternal)
	assert.Nil(t, f.pipeline.SetupStatus())
}

func TestOnFileChangeRefreshes(t *testing.T) {
	f := newFixture(t, true)

	f.pipeline.OnFileChange(context.Background())

	assert.Equal(t, 3, f.engine.DocCount())
	assert.Equal(t, []string{TriggerWatch}, f.tracker.triggers())
}

func TestOnFileChangeSwallowsErrors(t *testing.T) {
	f := newFixture(t, false)

	f.pipeline.OnFileChange(context.Background())

	assert.False(t, f.engine.Ready())
}

func TestOnPeerReloadTracksEvent(t *testing.T) {
	f := newFixture(t, false)

	f.pipeline.OnPeerReload(context.Background(), indexer.BuildStats{Generation: 4, Records: 10})

	require.Len(t, f.tracker.events, 1)
	ev, ok := f.tracker.events[0].(analytics.ReindexEvent)
	require.True(t, ok)
	assert.Equal(t, analytics.EventReindex, ev.Type)
	assert.Equal(t, TriggerPeer, ev.Trigger)
	assert.Equal(t, 10, ev.Records)
}

func TestRefreshPropagatesStoreErrors(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.store.Close())

	_, err := f.pipeline.Refresh(context.Background())

	assert.Error(t, err)
	assert.False(t, errors.Is(err, apperrors.ErrRefreshInProgress))
}

func TestRunSetupDownloadsAndIndexes(t *testing.T) {
	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	w, err := zw.Create("sc051a.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte(seedCSV))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive.Bytes())
	}))
	defer srv.Close()

	f := newFixture(t, false)
	data := config.DataConfig{
		Dir:     filepath.Dir(f.csvPath),
		CSVFile: filepath.Base(f.csvPath),
		Sources: map[string]string{"a": srv.URL + "/a.zip"},
	}
	svc := setup.New(data, config.SetupConfig{
		DownloadTimeout:     5 * time.Second,
		RetryAttempts:       1,
		RetryInitialDelay:   time.Millisecond,
		BreakerThreshold:    5,
		BreakerResetTimeout: time.Second,
	}, nil)
	f.pipeline.setup = svc

	require.NoError(t, f.pipeline.RunSetup(context.Background()))

	assert.Equal(t, 3, f.engine.DocCount())
	st := f.pipeline.SetupStatus()
	require.NotNil(t, st)
	assert.False(t, st.IsRunning)
	assert.Equal(t, ingestion.StageCompleted, st.Stage)
	assert.Equal(t, "Setup complete: 3 schools indexed.", st.Message)
	assert.Equal(t, 100, st.DBProgress.Pct)
	assert.Equal(t, []string{TriggerSetup}, f.tracker.triggers())
}
