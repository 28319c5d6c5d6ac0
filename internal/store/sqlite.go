package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/school"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schools (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL,
	city  TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT ''
)`

// SQLiteStore keeps records in a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path, creating parent
// directories as needed.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schools table: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) UpsertBatch(ctx context.Context, records []school.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO schools (id, name, city, state) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Name, r.City, r.State); err != nil {
			return fmt.Errorf("upserting school %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Each(ctx context.Context, fn func(school.Record) error) error {
	return eachPage(ctx, s.db,
		`SELECT id, name, city, state FROM schools WHERE id > ? ORDER BY id LIMIT ?`, fn)
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schools`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting schools: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM schools`); err != nil {
		return fmt.Errorf("clearing schools: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// eachPage walks the table by keyset pagination. query takes the last seen
// id and the page size as its two parameters.
func eachPage(ctx context.Context, db *sql.DB, query string, fn func(school.Record) error) error {
	after := ""
	for {
		rows, err := db.QueryContext(ctx, query, after, pageSize)
		if err != nil {
			return fmt.Errorf("querying schools: %w", err)
		}
		page := make([]school.Record, 0, pageSize)
		for rows.Next() {
			var r school.Record
			if err := rows.Scan(&r.ID, &r.Name, &r.City, &r.State); err != nil {
				rows.Close()
				return fmt.Errorf("scanning school: %w", err)
			}
			page = append(page, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterating schools: %w", err)
		}
		rows.Close()

		for _, r := range page {
			if err := fn(r); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}
