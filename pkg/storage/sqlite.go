// Package storage is the sqlite run journal: runs, per-job outcomes and
// approval decisions.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/odvcencio/batchq/pkg/reliability"
)

//go:embed schema.sql
var schemaSQL string

// ErrStoreClosed is returned after Close.
var ErrStoreClosed = errors.New("storage: closed")

// Store records runs for later inspection. It implements jobqueue.Recorder
// and approval.AuditSink.
type Store struct {
	db    *sql.DB
	retry reliability.Strategy
}

// New opens the journal at dsn, creating the file with owner-only
// permissions and migrating it to the latest schema. ":memory:" keeps the
// journal in process.
func New(dsn string) (*Store, error) {
	if path, onDisk := diskPath(dsn); onDisk {
		if err := createPrivate(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open run journal: %w", err)
	}
	if _, onDisk := diskPath(dsn); onDisk {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
	} else {
		// A second connection would open a second, empty database.
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := prepare(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db: db,
		retry: reliability.RetryStrategy{
			MaxRetries: 3,
			BaseDelay:  50 * time.Millisecond,
			MaxDelay:   time.Second,
			Multiplier: 2,
			Retryable:  isBusyError,
		},
	}, nil
}

func prepare(ctx context.Context, db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply base schema: %w", err)
	}
	return migrate(ctx, db)
}

// diskPath extracts the file behind a sqlite DSN. In-memory and non-file
// DSNs report false.
func diskPath(dsn string) (string, bool) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "", dsn == ":memory:":
		return "", false
	case strings.HasPrefix(dsn, "file:"):
		u, err := url.Parse(dsn)
		if err != nil || u.Query().Get("mode") == "memory" {
			return "", false
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" || path == ":memory:" {
			return "", false
		}
		return path, true
	case strings.Contains(dsn, "://"):
		return "", false
	default:
		return dsn, true
	}
}

// createPrivate makes the journal file and its directory unreadable to
// other users. Job results can carry command output.
func createPrivate(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create run journal directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	switch {
	case err == nil:
		return f.Close()
	case errors.Is(err, os.ErrExist):
		return nil
	default:
		return fmt.Errorf("create run journal: %w", err)
	}
}

// Close releases the database. Later calls return ErrStoreClosed.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close()
}

// exec runs a write, retrying while sqlite reports the database busy.
func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	if s.db == nil {
		return ErrStoreClosed
	}
	return s.retry.Execute(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func isBusyError(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
