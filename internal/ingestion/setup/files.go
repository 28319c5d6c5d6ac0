package setup

import (
	"archive/zip"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/resilience"
)

// statusError is a non-2xx download response.
type statusError struct {
	url  string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.url, e.code)
}

// retryable reports whether a failed download is worth repeating. Client
// errors and an open breaker are final.
func retryable(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return true
}

// download fetches url into <dataDir>/<key>.zip unless that file exists.
func (s *Service) download(ctx context.Context, key, url string) error {
	dest := s.zipPath(key)
	if _, err := os.Stat(dest); err == nil {
		s.logger.Info("skipping download, file exists", "source", key)
		return nil
	}
	s.setMessage(fmt.Sprintf("Downloading %s...", key))
	s.logger.Info("downloading source", "source", key, "url", url)

	err := resilience.Retry(ctx, "download "+key, s.retry, func() error {
		return s.breaker.Execute(func() error {
			return resilience.WithTimeout(ctx, s.downloadTimeout, "download "+key, func(ctx context.Context) error {
				return s.fetch(ctx, key, url, dest)
			})
		})
	})
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	s.logger.Info("finished downloading", "source", key)
	return nil
}

func (s *Service) fetch(ctx context.Context, key, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{url: url, code: resp.StatusCode}
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	pw := &progressWriter{total: resp.ContentLength, report: func(p ingestion.ByteProgress) {
		s.setProgress(key, p)
	}}
	if resp.ContentLength > 0 {
		s.setProgress(key, ingestion.ByteProgress{Total: resp.ContentLength})
	}
	_, copyErr := io.Copy(io.MultiWriter(f, pw), resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", dest, errors.Join(copyErr, closeErr))
	}
	return os.Rename(tmp, dest)
}

// progressWriter reports bytes written against the expected total. A
// response without a length is reported with total 0.
type progressWriter struct {
	current int64
	total   int64
	report  func(ingestion.ByteProgress)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.current += int64(len(p))
	if w.total > 0 {
		w.report(ingestion.ByteProgress{Current: w.current, Total: w.total})
	}
	return len(p), nil
}

// unzip extracts every file in archive into dir. Entries that would land
// outside dir are rejected.
func unzip(archive, dir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		target := filepath.Join(root, f.Name)
		if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes %s", f.Name, dir)
		}
		if err := extract(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extract(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	return dst.Close()
}

// mergeCSVs concatenates every *.csv in dir except output, sorted by name,
// into output. Only the first part's header line is kept. Bytes are copied
// unchanged so the merged file keeps the parts' encoding.
func mergeCSVs(dir, output string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("listing %s: %w", dir, err)
	}
	outName := filepath.Base(output)
	var parts []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(name), ".csv") && name != outName {
			parts = append(parts, name)
		}
	}
	sort.Strings(parts)
	if len(parts) == 0 {
		return 0, errors.New("no CSV parts found to merge")
	}

	tmp := output + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", tmp, err)
	}
	w := bufio.NewWriter(out)
	for i, name := range parts {
		if err := appendPart(w, filepath.Join(dir, name), i == 0); err != nil {
			out.Close()
			os.Remove(tmp)
			return 0, err
		}
	}
	if err := w.Flush(); err != nil {
		out.Close()
		os.Remove(tmp)
		return 0, err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return len(parts), os.Rename(tmp, output)
}

func appendPart(w *bufio.Writer, path string, keepHeader bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening part %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading header of %s: %w", path, err)
	}
	if keepHeader {
		w.WriteString(header)
		if header != "" && !strings.HasSuffix(header, "\n") {
			w.WriteByte('\n')
		}
	}
	var tail lastByte
	if _, err := io.Copy(io.MultiWriter(w, &tail), r); err != nil {
		return fmt.Errorf("copying %s: %w", path, err)
	}
	if tail.n > 0 && tail.b != '\n' {
		w.WriteByte('\n')
	}
	return nil
}

// lastByte remembers the final byte written through it.
type lastByte struct {
	b byte
	n int64
}

func (l *lastByte) Write(p []byte) (int, error) {
	if len(p) > 0 {
		l.b = p[len(p)-1]
		l.n += int64(len(p))
	}
	return len(p), nil
}
