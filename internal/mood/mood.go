// Package mood implements the mood log: a closed set of mood labels, an append-only
// per-client history backed by the store, and the bar chart shown in the mood trends view.
package mood

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/Confidant/internal/models"
	"github.com/BTreeMap/Confidant/internal/store"
)

// Mood labels.
const (
	Happy   = "Happy"
	Calm    = "Calm"
	Neutral = "Neutral"
	Anxious = "Anxious"
	Sad     = "Sad"
	Angry   = "Angry"
)

// Labels lists every valid label in display order.
var Labels = []string{Happy, Calm, Neutral, Anxious, Sad, Angry}

// intensities maps each label to its chart intensity.
var intensities = map[string]int{
	Happy:   5,
	Calm:    4,
	Neutral: 3,
	Anxious: 2,
	Sad:     1,
	Angry:   1,
}

// MaxIntensity is the largest intensity of any label.
const MaxIntensity = 5

// colors maps each label to its bar colour.
var colors = map[string]string{
	Happy:   "#f6c445",
	Calm:    "#6cc3a0",
	Neutral: "#a0a7b4",
	Anxious: "#f29e4c",
	Sad:     "#5b8def",
	Angry:   "#e5534b",
}

// ErrUnknownMood is returned when a label is outside the closed set.
var ErrUnknownMood = errors.New("unknown mood label")

// IsValid reports whether label is one of Labels.
func IsValid(label string) bool {
	_, ok := intensities[label]
	return ok
}

// Intensity returns the chart intensity of label and whether the label is known.
func Intensity(label string) (int, bool) {
	v, ok := intensities[label]
	return v, ok
}

// Log is one client's mood history.
type Log struct {
	store    store.Store
	clientID string
	now      func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog returns the mood log of clientID.
func NewLog(s store.Store, clientID string, opts ...Option) *Log {
	l := &Log{store: s, clientID: clientID, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an entry stamped with the current time.
func (l *Log) Record(ctx context.Context, label string) (models.MoodEntry, error) {
	if !IsValid(label) {
		slog.Warn("Log.Record: rejected unknown label", "clientID", l.clientID, "label", label)
		return models.MoodEntry{}, fmt.Errorf("%w: %q", ErrUnknownMood, label)
	}
	entry := models.MoodEntry{Label: label, Timestamp: l.now()}
	if err := l.store.AddMoodEntry(ctx, l.clientID, entry); err != nil {
		return models.MoodEntry{}, fmt.Errorf("failed to record mood: %w", err)
	}
	slog.Debug("Log.Record: mood recorded", "clientID", l.clientID, "label", label)
	return entry, nil
}

// ReadAll returns every entry in insertion order; an empty log yields an empty slice.
func (l *Log) ReadAll(ctx context.Context) ([]models.MoodEntry, error) {
	entries, err := l.store.ListMoodEntries(ctx, l.clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to read mood log: %w", err)
	}
	if entries == nil {
		entries = []models.MoodEntry{}
	}
	return entries, nil
}
