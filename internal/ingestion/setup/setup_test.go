package setup

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/school-search/pkg/errors"
)

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newService(t *testing.T, dir string, sources map[string]string) *Service {
	t.Helper()
	data := config.DataConfig{Dir: dir, CSVFile: "school_data.csv", Sources: sources}
	cfg := config.SetupConfig{
		DownloadTimeout:     5 * time.Second,
		RetryAttempts:       3,
		RetryInitialDelay:   time.Millisecond,
		BreakerThreshold:    10,
		BreakerResetTimeout: time.Second,
	}
	return New(data, cfg, nil)
}

func TestRunDownloadsUnpacksAndMerges(t *testing.T) {
	archives := map[string][]byte{
		"/a.zip": zipBytes(t, map[string]string{"sc051a.csv": "NCESSCH,SCHNAM05,LCITY05,LSTATE05\n1,Foley High School,Foley,AL\n"}),
		"/b.zip": zipBytes(t, map[string]string{"sc051b.csv": "NCESSCH,SCHNAM05,LCITY05,LSTATE05\n3,Jefferson Elem School,Belleville,IL"}),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archives[r.URL.Path])
	}))
	defer srv.Close()
	dir := t.TempDir()
	s := newService(t, dir, map[string]string{"a": srv.URL + "/a.zip", "b": srv.URL + "/b.zip"})

	require.NoError(t, s.Run(context.Background()))

	merged, err := os.ReadFile(filepath.Join(dir, "school_data.csv"))
	require.NoError(t, err)
	assert.Equal(t,
		"NCESSCH,SCHNAM05,LCITY05,LSTATE05\n1,Foley High School,Foley,AL\n3,Jefferson Elem School,Belleville,IL\n",
		string(merged))

	st := s.Status()
	assert.False(t, st.IsRunning)
	assert.Equal(t, ingestion.StageCompleted, st.Stage)
	assert.Contains(t, st.Files, "school_data.csv")
	assert.Contains(t, st.Files, "a.zip")
	for _, key := range []string{"a", "b"} {
		p := st.Progress[key]
		assert.Equal(t, p.Total, p.Current, key)
		assert.Positive(t, p.Total, key)
	}
}

func TestRunSkipsExistingArchives(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()
	dir := t.TempDir()
	archive := zipBytes(t, map[string]string{"part.csv": "NCESSCH,SCHNAM05,LCITY05,LSTATE05\n1,A,B,C\n"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.zip"), archive, 0o644))
	s := newService(t, dir, map[string]string{"a": srv.URL + "/a.zip"})

	require.NoError(t, s.Run(context.Background()))

	assert.Zero(t, hits.Load())
}

func TestRunRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	archive := zipBytes(t, map[string]string{"part.csv": "NCESSCH,SCHNAM05,LCITY05,LSTATE05\n1,A,B,C\n"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(archive)
	}))
	defer srv.Close()
	s := newService(t, t.TempDir(), map[string]string{"a": srv.URL + "/a.zip"})

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, int32(2), hits.Load())
}

func TestRunFailsOnNotFoundWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()
	dir := t.TempDir()
	s := newService(t, dir, map[string]string{"a": srv.URL + "/a.zip"})

	err := s.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
	st := s.Status()
	assert.Equal(t, ingestion.StageError, st.Stage)
	assert.Contains(t, st.Message, "404")
	assert.NoFileExists(t, filepath.Join(dir, "a.zip"))
	assert.NoFileExists(t, filepath.Join(dir, "a.zip.part"))
}

func TestRunSkipsCorruptArchive(t *testing.T) {
	good := zipBytes(t, map[string]string{"good.csv": "NCESSCH,SCHNAM05,LCITY05,LSTATE05\n1,A,B,C\n"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad.zip" {
			w.Write([]byte("not a zip"))
			return
		}
		w.Write(good)
	}))
	defer srv.Close()
	dir := t.TempDir()
	s := newService(t, dir, map[string]string{"bad": srv.URL + "/bad.zip", "good": srv.URL + "/good.zip"})

	require.NoError(t, s.Run(context.Background()))
	assert.FileExists(t, filepath.Join(dir, "school_data.csv"))
}

func TestBeginRejectsSecondRun(t *testing.T) {
	s := newService(t, t.TempDir(), nil)

	require.NoError(t, s.Begin())
	err := s.Begin()

	assert.ErrorIs(t, err, apperrors.ErrSetupRunning)
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatusCode(err))

	s.End(nil, "done")
	assert.NoError(t, s.Begin())
}

func TestUpdateDBProgress(t *testing.T) {
	s := newService(t, t.TempDir(), nil)
	require.NoError(t, s.Begin())

	s.UpdateDBProgress(ingestion.NewLoadProgress(50, 200, 1000))

	st := s.Status()
	assert.Equal(t, ingestion.StagePopulatingDB, st.Stage)
	assert.Equal(t, 25, st.DBProgress.Pct)
	assert.Equal(t, "Populating Database: 25% (1000 rows)", st.Message)
}

func TestMergeWithoutPartsFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "school_data.csv"), []byte("old"), 0o644))

	_, err := mergeCSVs(dir, filepath.Join(dir, "school_data.csv"))

	assert.Error(t, err)
}

func TestMergeOrdersPartsByName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte("H\nb1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("H\na1\na2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	out := filepath.Join(dir, "school_data.csv")

	n, err := mergeCSVs(dir, out)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	merged, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "H\na1\na2\nb1\n", string(merged))
}

func TestUnzipRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	require.NoError(t, os.WriteFile(archive, zipBytes(t, map[string]string{"../escape.csv": "x"}), 0o644))

	err := unzip(archive, filepath.Join(dir, "out"))

	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "escape.csv"))
}
