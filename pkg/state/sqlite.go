package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	data       BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (kind, name)
);
`

// sqliteStore implements Store on top of a SQLite database file.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the SQLite database at the
// given path and ensures the schema exists. Use ":memory:" for an ephemeral
// store in tests.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	// modernc.org/sqlite serializes access per connection; a single
	// connection avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create state schema: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) List(ctx context.Context, kind string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM records WHERE kind = ? ORDER BY name`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", kind, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan record name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteStore) LoadAll(ctx context.Context, kind string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, data FROM records WHERE kind = ?`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s records: %w", kind, err)
	}
	defer rows.Close()

	records := make(map[string][]byte)
	for rows.Next() {
		var name string
		var data []byte
		if err := rows.Scan(&name, &data); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records[name] = data
	}
	return records, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, kind, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE kind = ? AND name = ?`, kind, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s/%s: %w", kind, name, err)
	}
	return data, nil
}

func (s *sqliteStore) Put(ctx context.Context, kind, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (kind, name, data, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (kind, name) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`,
		kind, name, data)
	if err != nil {
		return fmt.Errorf("failed to save record %s/%s: %w", kind, name, err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, kind, name string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE kind = ? AND name = ?`, kind, name); err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", kind, name, err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
