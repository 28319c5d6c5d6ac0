// Command schoolctl is the operator CLI for the school search service. It
// works directly against the record store, or against a running service over
// RPC with --remote.
//
// Usage:
//
//	schoolctl setup
//	schoolctl load [file.csv]
//	schoolctl search "foley high" -n 5
//	schoolctl stats --remote localhost:9000
//	schoolctl keygen
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/loader"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/pipeline"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion/setup"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/logger"
)

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
	dbPath     string
	dataDir    string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := newRootCmd()
	root.SetOut(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "schoolctl",
		Short:         "Manage and query the school search index",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger.SetupWriter(cmd.ErrOrStderr(), opts.logLevel, "text")
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (defaults and SP_* env when empty)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "sqlite database path, overrides storage.sqlitePath")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "seed data directory, overrides data.dir")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(
		newSetupCmd(opts),
		newLoadCmd(opts),
		newSearchCmd(opts),
		newStatsCmd(opts),
		newKeygenCmd(),
		newVersionCmd(),
	)
	return root
}

func (o *options) load() (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.dbPath != "" {
		cfg.Storage.Driver = "sqlite"
		cfg.Storage.SQLitePath = o.dbPath
	}
	if o.dataDir != "" {
		cfg.Data.Dir = o.dataDir
	}
	return cfg, nil
}

// local is an in-process stack over the configured record store.
type local struct {
	cfg      *config.Config
	store    store.Store
	engine   *indexer.Engine
	pipeline *pipeline.Pipeline
	closers  []func() error
}

// openLocal opens the record store and builds a pipeline over csvPath, or
// over the configured seed file when csvPath is empty. With Kafka enabled,
// loads are announced so running replicas rebuild from the shared store.
func (o *options) openLocal(ctx context.Context, csvPath string) (*local, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening record store: %w", err)
	}
	l := &local{cfg: cfg, store: st, engine: indexer.NewEngine(nil)}
	l.closers = append(l.closers, st.Close)

	var producer publisher.EventProducer
	if cfg.Kafka.Enabled {
		p := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexReload)
		l.closers = append(l.closers, p.Close)
		producer = p
	}
	if csvPath == "" {
		csvPath = cfg.Data.CSVPath()
	}
	l.pipeline = pipeline.New(l.engine, st, loader.New(cfg.Data, nil), csvPath, pipeline.Options{
		Setup:     setup.New(cfg.Data, cfg.Setup, nil),
		Publisher: publisher.New("schoolctl", producer),
	})
	return l, nil
}

func (l *local) Close() {
	for i := len(l.closers) - 1; i >= 0; i-- {
		_ = l.closers[i]()
	}
}
