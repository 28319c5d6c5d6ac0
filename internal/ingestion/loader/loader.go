// Package loader bulk-loads the merged NCES school CSV into a record store.
// The file's encoding is not declared, so each supported encoding is tried
// in turn until one decodes cleanly and yields the required headers.
package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/school"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/school-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/metrics"
)

// Column names in the NCES Common Core of Data school files.
const (
	ColumnID    = "NCESSCH"
	ColumnName  = "SCHNAM05"
	ColumnCity  = "LCITY05"
	ColumnState = "LSTATE05"
)

var requiredColumns = []string{ColumnID, ColumnName, ColumnCity, ColumnState}

// errUndecodable marks a pass that hit bytes invalid in its encoding.
var errUndecodable = errors.New("undecodable input")

type textEncoding struct {
	name    string
	decoder func() transform.Transformer
}

var encodings = []textEncoding{
	{"utf-8", func() transform.Transformer { return encoding.UTF8Validator }},
	{"latin-1", func() transform.Transformer { return charmap.ISO8859_1.NewDecoder() }},
	{"cp1252", func() transform.Transformer { return charmap.Windows1252.NewDecoder() }},
}

// Sink receives batches of validated records. Store implementations satisfy it.
type Sink interface {
	UpsertBatch(ctx context.Context, records []school.Record) error
}

// ProgressFunc observes load progress. It is called every few rows and once
// more at 100% when the load completes.
type ProgressFunc func(ingestion.LoadProgress)

type Loader struct {
	batchSize     int
	progressEvery int
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// New returns a Loader using the batch and progress settings from cfg. m may
// be nil.
func New(cfg config.DataConfig, m *metrics.Metrics) *Loader {
	batch := cfg.LoadBatchSize
	if batch <= 0 {
		batch = 5000
	}
	every := cfg.ProgressEvery
	if every <= 0 {
		every = 1000
	}
	return &Loader{
		batchSize:     batch,
		progressEvery: every,
		metrics:       m,
		logger:        slog.Default().With("component", "loader"),
	}
}

// Load streams the CSV at path into sink. A missing file yields
// ErrDataFileMissing. Rows without an id or a name are skipped and counted.
// Re-running a pass after a decoding failure is safe because sinks upsert.
func (l *Loader) Load(ctx context.Context, path string, sink Sink, progress ProgressFunc) (ingestion.LoadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ingestion.LoadResult{}, fmt.Errorf("%w: %s", apperrors.ErrDataFileMissing, path)
		}
		return ingestion.LoadResult{}, fmt.Errorf("checking data file: %w", err)
	}
	if progress == nil {
		progress = func(ingestion.LoadProgress) {}
	}
	size := info.Size()
	l.logger.Info("starting data load",
		"path", path,
		"size_mb", fmt.Sprintf("%.2f", float64(size)/1024/1024),
	)

	start := time.Now()
	for _, enc := range encodings {
		result, err := l.loadWith(ctx, path, size, enc, sink, progress)
		switch {
		case err == nil:
			result.Duration = time.Since(start)
			progress(ingestion.NewLoadProgress(size, size, result.Rows))
			l.metrics.ObserveIngest(result.Loaded, result.Skipped)
			l.logger.Info("data load complete",
				"encoding", enc.name,
				"rows", result.Rows,
				"loaded", result.Loaded,
				"skipped", result.Skipped,
				"duration", result.Duration,
			)
			return result, nil
		case errors.Is(err, errUndecodable):
			l.logger.Warn("decoding failed, trying next encoding", "encoding", enc.name, "error", err)
		case errors.Is(err, apperrors.ErrInvalidInput):
			l.logger.Warn("required headers missing, trying next encoding", "encoding", enc.name)
		default:
			return ingestion.LoadResult{}, err
		}
	}
	return ingestion.LoadResult{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusUnprocessableEntity,
		"%s: no supported encoding yields columns %s", path, strings.Join(requiredColumns, ", "))
}

func (l *Loader) loadWith(
	ctx context.Context,
	path string,
	size int64,
	enc textEncoding,
	sink Sink,
	progress ProgressFunc,
) (ingestion.LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ingestion.LoadResult{}, fmt.Errorf("opening data file: %w", err)
	}
	defer f.Close()

	counter := &countingReader{r: f}
	r := csv.NewReader(transform.NewReader(counter, enc.decoder()))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ingestion.LoadResult{}, fmt.Errorf("%w: empty file", apperrors.ErrInvalidInput)
		}
		return ingestion.LoadResult{}, classifyReadError(err)
	}
	cols, ok := columnIndexes(header)
	if !ok {
		return ingestion.LoadResult{}, fmt.Errorf("%w: missing required columns", apperrors.ErrInvalidInput)
	}

	result := ingestion.LoadResult{Encoding: enc.name, Bytes: size}
	batch := make([]school.Record, 0, l.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sink.UpsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("storing batch: %w", err)
		}
		result.Loaded += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) && !errors.Is(err, encoding.ErrInvalidUTF8) {
				l.logger.Debug("skipping malformed row", "line", perr.Line, "error", err)
				result.Rows++
				result.Skipped++
				continue
			}
			return result, classifyReadError(err)
		}
		if result.Rows%l.progressEvery == 0 {
			progress(ingestion.NewLoadProgress(counter.n, size, result.Rows))
		}
		result.Rows++

		rec := cols.record(row)
		if err := validator.ValidateRecord(rec); err != nil {
			result.Skipped++
			continue
		}
		batch = append(batch, rec)
		if len(batch) >= l.batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}
	return result, nil
}

func classifyReadError(err error) error {
	if errors.Is(err, encoding.ErrInvalidUTF8) {
		return fmt.Errorf("%w: %v", errUndecodable, err)
	}
	return fmt.Errorf("reading csv: %w", err)
}

type columns struct {
	id, name, city, state int
}

func columnIndexes(header []string) (columns, bool) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}
	for _, c := range requiredColumns {
		if _, ok := pos[c]; !ok {
			return columns{}, false
		}
	}
	return columns{
		id:    pos[ColumnID],
		name:  pos[ColumnName],
		city:  pos[ColumnCity],
		state: pos[ColumnState],
	}, true
}

func (c columns) record(row []string) school.Record {
	field := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	return school.Record{
		ID:    field(c.id),
		Name:  field(c.name),
		City:  field(c.city),
		State: field(c.state),
	}
}

// countingReader counts raw bytes read from the file for progress reports.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
