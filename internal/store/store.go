// Package store provides SQLite-backed persistence for cloudanchor.
//
// A Store holds a versioned key-value table, used both as the device-local
// backend and as the daemon's shared store, plus the audit (PDR) table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/marimax/cloudanchor/internal/models"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound indicates the key does not exist.
	ErrNotFound = errors.New("key not found")
	// ErrVersionMismatch indicates a conditional write saw a different version.
	ErrVersionMismatch = errors.New("version mismatch")
	// ErrNotCounter indicates a counter key holds a non-integer value.
	ErrNotCounter = errors.New("value is not a counter")
)

// Store provides access to the cloudanchor SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		subject TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pdr_timestamp ON pdr(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Key-Value Operations ---

// Get returns the entry stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (models.Versioned, error) {
	entry := models.Versioned{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT value, version FROM kv WHERE name = ?`,
		key,
	).Scan(&entry.Value, &entry.Version)

	if err == sql.ErrNoRows {
		return models.Versioned{Key: key}, ErrNotFound
	}
	if err != nil {
		return models.Versioned{Key: key}, fmt.Errorf("query kv: %w", err)
	}
	return entry, nil
}

// Put unconditionally writes value under key and returns the new version.
func (s *Store) Put(ctx context.Context, key, value string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO kv (name, value, version, updated_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, version = kv.version + 1, updated_at = excluded.updated_at
		 RETURNING version`,
		key, value, time.Now().UTC(),
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("upsert kv: %w", err)
	}
	return version, nil
}

// CompareAndSwap writes value under key only if the stored version equals
// expected. An expected version of 0 requires the key to be absent.
// It returns the new version, or ErrVersionMismatch.
func (s *Store) CompareAndSwap(ctx context.Context, key string, expected int64, value string) (int64, error) {
	now := time.Now().UTC()

	var (
		result sql.Result
		err    error
	)
	if expected == 0 {
		result, err = s.db.ExecContext(ctx,
			`INSERT INTO kv (name, value, version, updated_at) VALUES (?, ?, 1, ?) ON CONFLICT(name) DO NOTHING`,
			key, value, now,
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE kv SET value = ?, version = version + 1, updated_at = ? WHERE name = ? AND version = ?`,
			value, now, key, expected,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("conditional write kv: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return 0, ErrVersionMismatch
	}
	return expected + 1, nil
}

// Increment atomically reads the integer counter stored under key, adds one
// and persists it, all in a single transaction. An absent counter starts at
// initial-1, so the first call returns initial.
func (s *Store) Increment(ctx context.Context, key string, initial int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	current := initial - 1
	var raw string
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE name = ?`, key).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return 0, fmt.Errorf("query counter: %w", err)
	default:
		current, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotCounter, raw)
		}
	}

	next := current + 1
	_, err = tx.ExecContext(ctx,
		`INSERT INTO kv (name, value, version, updated_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, version = kv.version + 1, updated_at = excluded.updated_at`,
		key, strconv.FormatInt(next, 10), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("write counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return next, nil
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, inputsHash, outcome, subject, details string) (*models.PDREntry, error) {
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		Subject:    subject,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, subject, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.Subject, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns the most recent audit records, newest first.
func (s *Store) ListPDR(ctx context.Context, limit int) ([]models.PDREntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, inputs_hash, outcome, subject, details, timestamp FROM pdr ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var entry models.PDREntry
		var subject, details sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.InputsHash, &entry.Outcome, &subject, &details, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		if subject.Valid {
			entry.Subject = subject.String
		}
		if details.Valid {
			entry.Details = details.String
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
