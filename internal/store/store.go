// Package store provides storage backends for Confidant.
//
// Everything is keyed by the browser client id: the append-only mood log and the
// per-client preferences (language, theme). An in-memory store serves tests and
// ephemeral runs; SQLite and PostgreSQL back durable deployments.
package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/Confidant/internal/models"
)

// Preference keys.
const (
	PrefLanguage = "language"
	PrefTheme    = "theme"
)

// ErrEmptyClientID is returned when an operation is attempted without a client id.
var ErrEmptyClientID = errors.New("client id is required")

// Store is implemented by every storage backend.
type Store interface {
	// AddMoodEntry appends an entry to the client's mood log.
	AddMoodEntry(ctx context.Context, clientID string, entry models.MoodEntry) error
	// ListMoodEntries returns the client's mood log in insertion order.
	ListMoodEntries(ctx context.Context, clientID string) ([]models.MoodEntry, error)
	// GetPreference returns a stored preference; ok is false when unset.
	GetPreference(ctx context.Context, clientID, key string) (value string, ok bool, err error)
	// SetPreference stores a preference, replacing any previous value.
	SetPreference(ctx context.Context, clientID, key, value string) error
	Close() error
}

var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns the database/sql driver name for a DSN: "postgres" for
// PostgreSQL URLs and key/value connection strings, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// InMemoryStore keeps everything in process memory.
type InMemoryStore struct {
	mu    sync.RWMutex
	moods map[string][]models.MoodEntry
	prefs map[string]map[string]string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		moods: make(map[string][]models.MoodEntry),
		prefs: make(map[string]map[string]string),
	}
}

func (s *InMemoryStore) AddMoodEntry(ctx context.Context, clientID string, entry models.MoodEntry) error {
	if clientID == "" {
		return ErrEmptyClientID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moods[clientID] = append(s.moods[clientID], entry)
	slog.Debug("InMemoryStore.AddMoodEntry: stored", "clientID", clientID, "label", entry.Label, "count", len(s.moods[clientID]))
	return nil
}

func (s *InMemoryStore) ListMoodEntries(ctx context.Context, clientID string) ([]models.MoodEntry, error) {
	if clientID == "" {
		return nil, ErrEmptyClientID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]models.MoodEntry, len(s.moods[clientID]))
	copy(entries, s.moods[clientID])
	return entries, nil
}

func (s *InMemoryStore) GetPreference(ctx context.Context, clientID, key string) (string, bool, error) {
	if clientID == "" {
		return "", false, ErrEmptyClientID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.prefs[clientID][key]
	return v, ok, nil
}

func (s *InMemoryStore) SetPreference(ctx context.Context, clientID, key, value string) error {
	if clientID == "" {
		return ErrEmptyClientID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs[clientID] == nil {
		s.prefs[clientID] = make(map[string]string)
	}
	s.prefs[clientID][key] = value
	slog.Debug("InMemoryStore.SetPreference: stored", "clientID", clientID, "key", key, "value", value)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// Open returns the backend selected by the configured DSN: PostgreSQL or SQLite by
// DetectDSNType, or an InMemoryStore when no DSN is set.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("store.Open: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}
