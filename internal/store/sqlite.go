// Package store provides storage backends for Confidant.
//
// This file implements an SQLite-backed store for mood entries and preferences.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/Confidant/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddMoodEntry(ctx context.Context, clientID string, entry models.MoodEntry) error {
	if clientID == "" {
		return ErrEmptyClientID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO mood_entries (client_id, label, recorded_at) VALUES (?, ?, ?)`,
		clientID, entry.Label, entry.Timestamp.UTC())
	if err != nil {
		slog.Error("SQLiteStore AddMoodEntry failed", "error", err, "clientID", clientID)
		return fmt.Errorf("failed to insert mood entry for %s: %w", clientID, err)
	}
	slog.Debug("SQLiteStore AddMoodEntry succeeded", "clientID", clientID, "label", entry.Label)
	return nil
}

func (s *SQLiteStore) ListMoodEntries(ctx context.Context, clientID string) ([]models.MoodEntry, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}
	rows, err := s.db.QueryContext(ctx, `SELECT label, recorded_at FROM mood_entries WHERE client_id = ? ORDER BY id`, clientID)
	if err != nil {
		slog.Error("SQLiteStore ListMoodEntries query failed", "error", err, "clientID", clientID)
		return nil, fmt.Errorf("failed to query mood entries: %w", err)
	}
	defer rows.Close()
	entries, err := scanMoodEntries(rows)
	if err != nil {
		slog.Error("SQLiteStore ListMoodEntries scan failed", "error", err, "clientID", clientID)
		return nil, err
	}
	slog.Debug("SQLiteStore ListMoodEntries succeeded", "clientID", clientID, "count", len(entries))
	return entries, nil
}

func (s *SQLiteStore) GetPreference(ctx context.Context, clientID, key string) (string, bool, error) {
	if clientID == "" {
		return "", false, ErrEmptyClientID
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE client_id = ? AND key = ?`, clientID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetPreference not found", "clientID", clientID, "key", key)
		return "", false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetPreference failed", "error", err, "clientID", clientID, "key", key)
		return "", false, fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetPreference(ctx context.Context, clientID, key, value string) error {
	if clientID == "" {
		return ErrEmptyClientID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (client_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (client_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		clientID, key, value, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore SetPreference failed", "error", err, "clientID", clientID, "key", key)
		return fmt.Errorf("failed to store preference %s: %w", key, err)
	}
	slog.Debug("SQLiteStore SetPreference succeeded", "clientID", clientID, "key", key, "value", value)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}

// scanMoodEntries reads (label, recorded_at) rows.
func scanMoodEntries(rows *sql.Rows) ([]models.MoodEntry, error) {
	entries := []models.MoodEntry{}
	for rows.Next() {
		var e models.MoodEntry
		if err := rows.Scan(&e.Label, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan mood entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mood entry rows: %w", err)
	}
	return entries, nil
}
