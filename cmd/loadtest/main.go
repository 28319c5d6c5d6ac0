// Command loadtest drives concurrent queries at a running search service,
// over HTTP (GET /search) or over RPC, and reports throughput, client-side
// latency percentiles and the server-reported search time.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8000 -concurrency 20 -duration 30s
//	go run ./cmd/loadtest -mode rpc -rpc localhost:9000
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/rpc"
)

type Config struct {
	Mode        string
	BaseURL     string
	RPCAddr     string
	Concurrency int
	Duration    time.Duration
	Limit       int
	Queries     []string
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	latencies     []time.Duration
	serverTimes   []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

// RecordServerTime keeps the search time the service reported for a request.
func (s *Stats) RecordServerTime(d time.Duration) {
	s.latenciesMu.Lock()
	s.serverTimes = append(s.serverTimes, d)
	s.latenciesMu.Unlock()
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func main() {
	mode := flag.String("mode", "http", "transport: http or rpc")
	baseURL := flag.String("url", "http://localhost:8000", "base URL of the search service")
	rpcAddr := flag.String("rpc", "localhost:9000", "RPC address of the search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	limit := flag.Int("limit", 10, "results per query")
	flag.Parse()

	queries := []string{
		"albertville",
		"albertville high school",
		"snead elementary",
		"boaz",
		"jefferson elem",
		"belleville il",
		"foley high",
		"magnolia",
		"riverside middle",
		"lincoln elementary",
		"washington",
		"springfield",
		"st mary",
		"ca",
		"new york city charter",
	}

	cfg := Config{
		Mode:        *mode,
		BaseURL:     *baseURL,
		RPCAddr:     *rpcAddr,
		Concurrency: *concurrency,
		Duration:    *duration,
		Limit:       *limit,
		Queries:     queries,
	}
	if cfg.Mode != "http" && cfg.Mode != "rpc" {
		fmt.Fprintf(os.Stderr, "unknown mode %q, want http or rpc\n", cfg.Mode)
		os.Exit(2)
	}

	fmt.Println("=== School Search Load Test ===")
	if cfg.Mode == "rpc" {
		fmt.Printf("Target:      rpc://%s\n", cfg.RPCAddr)
	} else {
		fmt.Printf("Target:      %s\n", cfg.BaseURL)
	}
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d unique\n", len(cfg.Queries))
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

// worker issues one query and records the outcome.
type worker func(ctx context.Context, query string)

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		do, closeFn, err := newWorker(cfg, stats)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nworker %d: %v\n", w, err)
			continue
		}
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			defer closeFn()
			queryIdx := workerID

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				query := cfg.Queries[queryIdx%len(cfg.Queries)]
				queryIdx++
				do(ctx, query)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func newWorker(cfg Config, stats *Stats) (worker, func(), error) {
	if cfg.Mode == "rpc" {
		c, err := rpc.Dial(cfg.RPCAddr, 10*time.Second)
		if err != nil {
			return nil, nil, err
		}
		return func(ctx context.Context, query string) {
			start := time.Now()
			resp, err := c.Search(ctx, query, cfg.Limit)
			if err != nil {
				if ctx.Err() == nil {
					stats.RecordRequest(time.Since(start), 0, err)
				}
				return
			}
			stats.RecordRequest(time.Since(start), http.StatusOK, nil)
			stats.RecordServerTime(time.Duration(resp.TookMs * float64(time.Millisecond)))
		}, func() { c.Close() }, nil
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        2,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return func(ctx context.Context, query string) {
		searchURL := fmt.Sprintf("%s/search?query=%s&limit=%d",
			cfg.BaseURL, url.QueryEscape(query), cfg.Limit)

		start := time.Now()
		resp, err := client.Do(mustNewRequest(ctx, searchURL))
		duration := time.Since(start)
		if err != nil {
			if ctx.Err() == nil {
				stats.RecordRequest(duration, 0, err)
			}
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		stats.RecordRequest(duration, resp.StatusCode, nil)
		if ms, err := strconv.ParseFloat(resp.Header.Get(handler.ServerTimeHeader), 64); err == nil {
			stats.RecordServerTime(time.Duration(ms * float64(time.Millisecond)))
		}
	}, client.CloseIdleConnections, nil
}

func mustNewRequest(ctx context.Context, rawURL string) *http.Request {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}
	return req
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errors)

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / duration.Seconds()
		fmt.Printf("Requests/sec:    %.2f\n", rps)
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	serverTimes := make([]time.Duration, len(stats.serverTimes))
	copy(serverTimes, stats.serverTimes)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])

		var sumSquared float64
		avgFloat := float64(avg)
		for _, l := range latencies {
			diff := float64(l) - avgFloat
			sumSquared += diff * diff
		}
		stddev := time.Duration(math.Sqrt(sumSquared / float64(len(latencies))))
		fmt.Printf("StdDev: %s\n", stddev)
	}

	if len(serverTimes) > 0 {
		sort.Slice(serverTimes, func(i, j int) bool { return serverTimes[i] < serverTimes[j] })
		fmt.Println()
		fmt.Println("=== Server Search Time ===")
		fmt.Printf("P50:    %s\n", percentile(serverTimes, 50))
		fmt.Printf("P99:    %s\n", percentile(serverTimes, 99))
		fmt.Printf("Max:    %s\n", serverTimes[len(serverTimes)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		count := stats.statusCodes[code].Load()
		fmt.Printf("  %d: %d\n", code, count)
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
