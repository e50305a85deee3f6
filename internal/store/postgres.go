// Package store provides storage backends for Confidant.
//
// This file implements a PostgreSQL-backed store for mood entries and preferences.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/Confidant/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddMoodEntry(ctx context.Context, clientID string, entry models.MoodEntry) error {
	if clientID == "" {
		return ErrEmptyClientID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO mood_entries (client_id, label, recorded_at) VALUES ($1, $2, $3)`,
		clientID, entry.Label, entry.Timestamp.UTC())
	if err != nil {
		slog.Error("PostgresStore AddMoodEntry failed", "error", err, "clientID", clientID)
		return fmt.Errorf("failed to insert mood entry for %s: %w", clientID, err)
	}
	slog.Debug("PostgresStore AddMoodEntry succeeded", "clientID", clientID, "label", entry.Label)
	return nil
}

func (s *PostgresStore) ListMoodEntries(ctx context.Context, clientID string) ([]models.MoodEntry, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}
	rows, err := s.db.QueryContext(ctx, `SELECT label, recorded_at FROM mood_entries WHERE client_id = $1 ORDER BY id`, clientID)
	if err != nil {
		slog.Error("PostgresStore ListMoodEntries query failed", "error", err, "clientID", clientID)
		return nil, fmt.Errorf("failed to query mood entries: %w", err)
	}
	defer rows.Close()
	entries, err := scanMoodEntries(rows)
	if err != nil {
		slog.Error("PostgresStore ListMoodEntries scan failed", "error", err, "clientID", clientID)
		return nil, err
	}
	slog.Debug("PostgresStore ListMoodEntries succeeded", "clientID", clientID, "count", len(entries))
	return entries, nil
}

func (s *PostgresStore) GetPreference(ctx context.Context, clientID, key string) (string, bool, error) {
	if clientID == "" {
		return "", false, ErrEmptyClientID
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE client_id = $1 AND key = $2`, clientID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetPreference not found", "clientID", clientID, "key", key)
		return "", false, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetPreference failed", "error", err, "clientID", clientID, "key", key)
		return "", false, fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) SetPreference(ctx context.Context, clientID, key, value string) error {
	if clientID == "" {
		return ErrEmptyClientID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (client_id, key, value, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		clientID, key, value, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore SetPreference failed", "error", err, "clientID", clientID, "key", key)
		return fmt.Errorf("failed to store preference %s: %w", key, err)
	}
	slog.Debug("PostgresStore SetPreference succeeded", "clientID", clientID, "key", key, "value", value)
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
