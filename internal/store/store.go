// Package store persists school records between restarts. The index is
// always rebuilt from a store, never saved itself.
package store

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/school"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/config"
)

// pageSize is how many rows Each reads per query.
const pageSize = 1000

// Store is a durable record table keyed by school ID.
type Store interface {
	// UpsertBatch inserts records, replacing any existing row with the same ID.
	UpsertBatch(ctx context.Context, records []school.Record) error
	// Each calls fn for every record in ID order until fn returns an error.
	Each(ctx context.Context, fn func(school.Record) error) error
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the backend selected by cfg.Storage.Driver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return OpenSQLite(cfg.Storage.SQLitePath)
	case "postgres":
		return OpenPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}
