package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/school"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/postgres"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS schools (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL,
	city  TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT ''
)`

// PostgresStore keeps records in a shared PostgreSQL table so several
// search replicas can hydrate from the same data.
type PostgresStore struct {
	client *postgres.Client
}

func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	client, err := postgres.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := client.DB.ExecContext(ctx, postgresSchema); err != nil {
		client.Close()
		return nil, fmt.Errorf("creating schools table: %w", err)
	}
	return &PostgresStore{client: client}, nil
}

func (s *PostgresStore) UpsertBatch(ctx context.Context, records []school.Record) error {
	if len(records) == 0 {
		return nil
	}
	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO schools (id, name, city, state) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, city = EXCLUDED.city, state = EXCLUDED.state`)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer stmt.Close()
		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, r.ID, r.Name, r.City, r.State); err != nil {
				return fmt.Errorf("upserting school %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Each(ctx context.Context, fn func(school.Record) error) error {
	return eachPage(ctx, s.client.DB,
		`SELECT id, name, city, state FROM schools WHERE id > $1 ORDER BY id LIMIT $2`, fn)
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.client.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM schools`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting schools: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.client.DB.ExecContext(ctx, `TRUNCATE schools`); err != nil {
		return fmt.Errorf("clearing schools: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	return s.client.Close()
}
