package persist

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteAdapter is the single-host embedded backend. Durable across restarts.
// Compare-and-set is approximated with an immediate transaction, which takes
// the database write lock for the critical section; this is the documented
// reduced-consistency mode for single-writer-safe backends.
type SQLiteAdapter struct {
	db *sql.DB
}

func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	// A single connection keeps the immediate-transaction locking simple.
	db.SetMaxOpenConns(1)

	return &SQLiteAdapter{db: db}, nil
}

func (s *SQLiteAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM kv WHERE key = ?", key).Scan(&value, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query key: %w", err)
	}
	if expiredUnixMs(expiresAt) {
		_, _ = s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLiteAdapter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if _, err := s.db.ExecContext(ctx,
		"REPLACE INTO kv (key, value, expires_at) VALUES (?, ?, ?)",
		key, value, ttlToUnixMs(ttl)); err != nil {
		return fmt.Errorf("replace key: %w", err)
	}
	return nil
}

func (s *SQLiteAdapter) CompareAndSet(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current []byte
	var expiresAt sql.NullInt64
	err = tx.QueryRowContext(ctx,
		"SELECT value, expires_at FROM kv WHERE key = ?", key).Scan(&current, &expiresAt)
	exists := err == nil
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("query key: %w", err)
	}
	if exists && expiredUnixMs(expiresAt) {
		exists = false
	}

	if expected == nil {
		if exists {
			return false, nil
		}
	} else {
		if !exists || !bytes.Equal(current, expected) {
			return false, nil
		}
	}

	if _, err := tx.ExecContext(ctx,
		"REPLACE INTO kv (key, value, expires_at) VALUES (?, ?, ?)",
		key, value, ttlToUnixMs(ttl)); err != nil {
		return false, fmt.Errorf("replace key: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

func (s *SQLiteAdapter) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	return nil
}

func (s *SQLiteAdapter) Close() error {
	return s.db.Close()
}

func ttlToUnixMs(ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: time.Now().Add(ttl).UnixMilli(), Valid: true}
}

func expiredUnixMs(expiresAt sql.NullInt64) bool {
	return expiresAt.Valid && expiresAt.Int64 <= time.Now().UnixMilli()
}
