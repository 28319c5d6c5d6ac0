// Command searcher runs the school search service: the HTTP API, the optional
// RPC listener, and the background ingestion that keeps the index current.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/analytics/collector"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/indexer/consumer"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/loader"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/pipeline"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/setup"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/watcher"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/router"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/executor"
	searchhandler "github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/rpc"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/school-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/tracing"
)

const (
	analyticsBatchSize     = 500
	analyticsFlushInterval = 2 * time.Second
	watchDebounce          = 2 * time.Second
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	instanceID := uuid.NewString()
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"instance_id", instanceID,
		"storage", cfg.Storage.Driver,
		"version", config.Version,
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening record store: %w", err)
	}
	defer st.Close()

	engine := indexer.NewEngine(m)
	exec := executor.New(engine, executor.ConfigFrom(cfg.Search))

	var (
		redisClient *pkgredis.Client
		queryCache  *cache.QueryCache
		redisPing   func(context.Context) error
	)
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			redisPing = redisClient.Ping
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	aggregator := analytics.NewAggregator(nil)
	trackers := []analytics.Tracker{aggregator}
	var reloadProducer publisher.EventProducer
	if cfg.Kafka.Enabled {
		analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer analyticsProducer.Close()
		batch := collector.NewBatchCollector(analyticsProducer, analyticsBatchSize, analyticsFlushInterval)
		batch.Start(ctx)
		defer batch.Close()
		trackers = append(trackers, batch)

		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexReload)
		defer producer.Close()
		reloadProducer = producer
	}
	tracker := analytics.Multi(trackers...)

	opts := pipeline.Options{
		Setup:     setup.New(cfg.Data, cfg.Setup, m),
		Publisher: publisher.New(instanceID, reloadProducer),
		Tracker:   tracker,
	}
	if queryCache != nil {
		opts.Cache = queryCache
	}
	pipe := pipeline.New(engine, st, loader.New(cfg.Data, m), cfg.Data.CSVPath(), opts)

	if cfg.Kafka.Enabled {
		// Each replica needs every reload event, so each gets its own group.
		group := cfg.Kafka.ConsumerGroup + "-" + instanceID
		kc := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexReload, group,
			consumer.HandleMessage(engine, st, instanceID, pipe.OnPeerReload))
		go func() {
			if err := consumer.New(kc).Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("reload consumer stopped", "error", err)
			}
		}()
	}

	go func() {
		if err := pipe.Bootstrap(ctx); err != nil {
			slog.Error("initial index load failed", "error", err)
		}
	}()
	pipe.StartSchedule(ctx, cfg.Data.RefreshInterval)
	if cfg.Data.WatchCSV {
		w := watcher.New(cfg.Data.CSVPath(), watchDebounce, pipe.OnFileChange)
		go func() {
			if err := w.Run(ctx); err != nil {
				slog.Error("data file watcher stopped", "error", err)
			}
		}()
	}

	limiter := ratelimit.New(cfg.Auth.RateLimit, cfg.Auth.RateWindow)
	limiter.StartCleanup(ctx)

	checker := health.NewChecker()
	checker.Register("store", health.Required(st.Ping))
	checker.Register("redis", health.Optional(redisPing))
	checker.Register("index", func(context.Context) health.ComponentHealth {
		if !engine.Ready() {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "index not built"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d schools, generation %d", engine.DocCount(), engine.Generation()),
		}
	})

	searchH := searchhandler.New(engine, exec, cfg.Search, searchhandler.Options{
		Cache:   queryCache,
		Tracker: tracker,
		Ready:   pipe,
		Tracer:  tracing.NewTracer(cfg.Tracing.Enabled, cfg.Tracing.SampleRate),
		Metrics: m,
	})

	handler := router.New(router.Deps{
		Search:    searchH,
		Data:      ingesthandler.New(pipe),
		Analytics: analytics.NewHandler(aggregator),
		Health:    checker,
		Admin:     apikey.NewValidator(cfg.Auth.AdminKeys),
		Limiter:   limiter,
		Metrics:   m,
		Timeout:   cfg.Server.WriteTimeout,
	})

	if cfg.RPC.Enabled {
		rpcServer := grpc.NewServer()
		rpc.NewService(searchH, engine).Register(rpcServer)
		go func() {
			if err := rpcServer.Serve(fmt.Sprintf(":%d", cfg.RPC.Port)); err != nil {
				slog.Error("rpc server error", "error", err)
			}
		}()
		defer rpcServer.Stop()
	}

	// Request deadlines come from the timeout middleware so that a manual
	// refresh can outlive them.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		// Background loops must stop before the deferred closes wait on them.
		cancel()
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}
