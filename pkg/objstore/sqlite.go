package objstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createObjectsTable = `
CREATE TABLE IF NOT EXISTS objects (
    bucket     TEXT NOT NULL,
    key        TEXT NOT NULL,
    body       BLOB NOT NULL,
    size       INTEGER NOT NULL,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (bucket, key)
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store on a SQLite database. A file-backed database can
// be shared by a producer and a consumer on the same host.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory database exists per connection; pin the pool to one.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createObjectsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create objects table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put upserts the object in a single statement.
func (s *SQLiteStore) Put(ctx context.Context, bucket, key string, body []byte) error {
	if body == nil {
		body = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO objects (bucket, key, body, size, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (bucket, key) DO UPDATE SET
			body = excluded.body,
			size = excluded.size,
			updated_at = excluded.updated_at`,
		bucket, key, body, len(body), time.Now().UTC(),
	)
	if err != nil {
		return &TransientError{Op: "put object", Err: err}
	}
	return nil
}

// Exists checks for the row without selecting the body column.
func (s *SQLiteStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM objects WHERE bucket = ? AND key = ?", bucket, key,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &TransientError{Op: "head object", Err: err}
	}
	return true, nil
}

// Get retrieves the object body.
func (s *SQLiteStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM objects WHERE bucket = ? AND key = ?", bucket, key,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &TransientError{Op: "get object", Err: err}
	}
	return body, nil
}

// Count returns the number of objects stored in bucket.
func (s *SQLiteStore) Count(ctx context.Context, bucket string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM objects WHERE bucket = ?", bucket,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count objects: %w", err)
	}
	return n, nil
}
