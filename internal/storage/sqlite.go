package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	blobSlot     = "activation"
	ledgerSlot   = "grace_ledger"
	sqliteSchema = `CREATE TABLE IF NOT EXISTS license_blobs(slot TEXT PRIMARY KEY, data BLOB NOT NULL, updated_at INTEGER NOT NULL)`
)

// SQLiteBackend stores the blob in a row of the application database. Each
// write is a single upsert, which sqlite applies atomically.
type SQLiteBackend struct {
	name string
	path string
	slot string

	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteBackend creates a database location for the activation record
func NewSQLiteBackend(path string) *SQLiteBackend {
	return NewSQLiteSlotBackend("database", path, blobSlot)
}

// NewSQLiteSlotBackend creates a database location holding the blob in the
// named slot. Several slots share one database file.
func NewSQLiteSlotBackend(name, path, slot string) *SQLiteBackend {
	return &SQLiteBackend{name: name, path: path, slot: slot}
}

// ResolveDatabasePath picks the first candidate that exists, or the first
// candidate when none does.
func ResolveDatabasePath(candidates []string) string {
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			return c
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

func (s *SQLiteBackend) Name() string { return s.name }

// Path returns the database file location
func (s *SQLiteBackend) Path() string { return s.path }

func (s *SQLiteBackend) Read(ctx context.Context) ([]byte, time.Time, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil, time.Time{}, ErrNotExist
	}

	db, err := s.open(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}

	var (
		data    []byte
		updated int64
	)
	err = db.QueryRowContext(ctx, `SELECT data, updated_at FROM license_blobs WHERE slot = ?`, s.slot).Scan(&data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotExist
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("query license blob: %w", err)
	}
	return data, time.Unix(0, updated), nil
}

func (s *SQLiteBackend) Write(ctx context.Context, data []byte) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO license_blobs(slot, data, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		s.slot, data, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("store license blob: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Remove(ctx context.Context) error {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM license_blobs WHERE slot = ?`, s.slot); err != nil {
		return fmt.Errorf("delete license blob: %w", err)
	}
	return nil
}

// Close releases the database handle
func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteBackend) open(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	db, err := OpenSQLite(ctx, s.path, sqliteSchema)
	if err != nil {
		return nil, err
	}
	s.db = db
	return db, nil
}

// OpenSQLite opens a single-connection sqlite database, creating its
// directory and applying the schema.
func OpenSQLite(ctx context.Context, path, schema string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(pingCtx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

// sqliteDSN builds a file URI for path. The path is escaped so characters
// such as '?', '#' and '%' stay part of the file name.
func sqliteDSN(path string) string {
	query := url.Values{}
	query.Add("_pragma", "busy_timeout(5000)")
	query.Add("_pragma", "journal_mode(WAL)")

	u := url.URL{Scheme: "file", Opaque: (&url.URL{Path: filepath.ToSlash(path)}).EscapedPath(), RawQuery: query.Encode()}
	return u.String()
}
