// ABOUTME: SQLite implementation of the state Store using modernc.org/sqlite
// ABOUTME: WAL mode with bounded busy retry, lazy TTL expiry, and opportunistic compaction

package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// compactEvery is the write cadence for sweeping expired rows. There is no
// dedicated reaper; every Nth write pays for cleanup instead.
const compactEvery = 32

// SQLiteStore implements the Store interface using SQLite.
// WAL mode allows concurrent readers; the single-writer transaction
// discipline supplies the cross-process mutual exclusion, and the store's
// own retry loop bounds how long a contended writer may wait.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	retry  RetryPolicy
	writes atomic.Uint64
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, retry RetryPolicy) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "state")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// The store's own retry loop owns the backoff budget; the driver must
	// surface busy immediately rather than blocking.
	if _, err := db.Exec("PRAGMA busy_timeout=0"); err != nil {
		db.Close()
		return nil, fmt.Errorf("disabling busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		retry:  retry,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Debug("state store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entries (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			ttl_ms INTEGER NOT NULL,
			written_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS list_entries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			list_key TEXT NOT NULL,
			line BLOB NOT NULL,
			ttl_ms INTEGER NOT NULL,
			written_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_list_entries_key
			ON list_entries(list_key, seq);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Read returns the value for key, or ErrNotFound if absent or expired.
func (s *SQLiteStore) Read(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var ttlMS, writtenAt int64

	err := s.withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT value, ttl_ms, written_at FROM entries WHERE key = ?`, key)
		return row.Scan(&value, &ttlMS, &writtenAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if expired(writtenAt, ttlMS) {
		// Lazy removal. Best effort; a busy database just defers cleanup.
		_, _ = s.db.ExecContext(ctx,
			`DELETE FROM entries WHERE key = ? AND written_at = ?`, key, writtenAt)
		return nil, ErrNotFound
	}
	return value, nil
}

// Write stores value under key, replacing any previous value atomically.
func (s *SQLiteStore) Write(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO entries (key, value, ttl_ms, written_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				ttl_ms = excluded.ttl_ms,
				written_at = excluded.written_at
		`, key, value, ttl.Milliseconds(), timeNow().UnixMilli())
		return err
	})
	if err != nil {
		return err
	}

	s.maybeCompact(ctx)
	return nil
}

// Update performs an atomic read-modify-write on key inside an immediate
// (write-locking) transaction, so no other process can interleave between
// the read and the write.
func (s *SQLiteStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(old []byte) ([]byte, error)) error {
	err := s.withRetry(ctx, func() error {
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
			return err
		}
		commit := false
		defer func() {
			if !commit {
				_, _ = conn.ExecContext(ctx, "ROLLBACK")
			}
		}()

		var old []byte
		var ttlMS, writtenAt int64
		row := conn.QueryRowContext(ctx,
			`SELECT value, ttl_ms, written_at FROM entries WHERE key = ?`, key)
		switch err := row.Scan(&old, &ttlMS, &writtenAt); {
		case errors.Is(err, sql.ErrNoRows):
			old = nil
		case err != nil:
			return err
		default:
			if expired(writtenAt, ttlMS) {
				old = nil
			}
		}

		value, err := fn(old)
		if err != nil {
			return err
		}

		if _, err := conn.ExecContext(ctx, `
			INSERT INTO entries (key, value, ttl_ms, written_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				ttl_ms = excluded.ttl_ms,
				written_at = excluded.written_at
		`, key, value, ttl.Milliseconds(), timeNow().UnixMilli()); err != nil {
			return err
		}

		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return err
		}
		commit = true
		return nil
	})
	if err != nil {
		return err
	}

	s.maybeCompact(ctx)
	return nil
}

// Increment atomically bumps an integer field inside a JSON object value
// and returns the new count. A corrupt or absent value starts from zero.
func (s *SQLiteStore) Increment(ctx context.Context, key, field string, ttl time.Duration) (int64, error) {
	var count int64
	err := s.Update(ctx, key, ttl, func(old []byte) ([]byte, error) {
		obj := map[string]any{}
		if old != nil {
			if err := json.Unmarshal(old, &obj); err != nil {
				// Corrupt entry: treat as absent, safe to overwrite.
				obj = map[string]any{}
			}
		}

		prev, _ := obj[field].(float64)
		count = int64(prev) + 1
		obj[field] = count
		return json.Marshal(obj)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Append adds a line to an append-only list. Each line is its own row, so
// concurrent writers can never interleave or truncate each other's entries.
func (s *SQLiteStore) Append(ctx context.Context, listKey string, line []byte, ttl time.Duration) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO list_entries (list_key, line, ttl_ms, written_at)
			VALUES (?, ?, ?, ?)
		`, listKey, line, ttl.Milliseconds(), timeNow().UnixMilli())
		return err
	})
	if err != nil {
		return err
	}

	s.maybeCompact(ctx)
	return nil
}

// ReadList returns the unexpired lines of a list in append order.
func (s *SQLiteStore) ReadList(ctx context.Context, listKey string) ([][]byte, error) {
	var lines [][]byte
	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT line, ttl_ms, written_at FROM list_entries
			WHERE list_key = ? ORDER BY seq
		`, listKey)
		if err != nil {
			return err
		}
		defer rows.Close()

		lines = lines[:0]
		for rows.Next() {
			var line []byte
			var ttlMS, writtenAt int64
			if err := rows.Scan(&line, &ttlMS, &writtenAt); err != nil {
				return err
			}
			if expired(writtenAt, ttlMS) {
				continue
			}
			lines = append(lines, line)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// maybeCompact sweeps expired rows every compactEvery writes. Best effort;
// contention just means the next eligible write tries again.
func (s *SQLiteStore) maybeCompact(ctx context.Context) {
	if s.writes.Add(1)%compactEvery != 0 {
		return
	}

	now := timeNow().UnixMilli()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE written_at + ttl_ms <= ?`, now); err != nil {
		s.logger.Debug("compaction skipped", "table", "entries", "error", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM list_entries WHERE written_at + ttl_ms <= ?`, now); err != nil {
		s.logger.Debug("compaction skipped", "table", "list_entries", "error", err)
	}
}

// withRetry runs op, retrying busy errors with exponential backoff until
// the policy's attempt budget is exhausted, then returns ErrBusy.
func (s *SQLiteStore) withRetry(ctx context.Context, op func() error) error {
	backoff := s.retry.BackoffBase
	var err error
	for attempt := 0; attempt < s.retry.Attempts; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > s.retry.BackoffCap {
				backoff = s.retry.BackoffCap
			}
		}

		err = op()
		if err == nil || !isBusy(err) {
			return err
		}
	}

	s.logger.Warn("lock budget exhausted", "attempts", s.retry.Attempts, "error", err)
	return fmt.Errorf("%w after %d attempts: %v", ErrBusy, s.retry.Attempts, err)
}

// isBusy reports whether err is a SQLite busy/locked condition worth retrying.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked")
}

// expired reports whether an entry written at writtenAt (unix millis) with
// the given TTL is logically absent.
func expired(writtenAt, ttlMS int64) bool {
	return timeNow().UnixMilli() >= writtenAt+ttlMS
}
