package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/Confidant/internal/checkin"
	"github.com/BTreeMap/Confidant/internal/store"
)

// EventType names a UI event.
type EventType string

const (
	EventInit            EventType = "init"
	EventSubmitMessage   EventType = "submit_message"
	EventSelectOption    EventType = "select_option"
	EventSwitchLanguage  EventType = "switch_language"
	EventToggleTheme     EventType = "toggle_theme"
	EventRecordMood      EventType = "record_mood"
	EventOpenMoodTrends  EventType = "open_mood_trends"
	EventSuggestedPrompt EventType = "suggested_prompt"
)

// ErrUnknownEvent is returned for event types without a handler.
var ErrUnknownEvent = errors.New("unknown event type")

// Event is one UI event. Only the fields relevant to Type are read.
type Event struct {
	Type       EventType `json:"type"`
	Text       string    `json:"text,omitempty"`        // submit_message, suggested_prompt
	Offline    bool      `json:"offline,omitempty"`     // submit_message, suggested_prompt
	QuestionID string    `json:"question_id,omitempty"` // select_option; optional guard
	Option     string    `json:"option,omitempty"`      // select_option
	Language   string    `json:"language,omitempty"`    // switch_language
	Mood       string    `json:"mood,omitempty"`        // record_mood
}

// handlerFunc handles one event while the controller lock is held.
type handlerFunc func(c *Controller, ctx context.Context, ev Event) error

func dispatchTable() map[EventType]handlerFunc {
	return map[EventType]handlerFunc{
		EventInit:            handleInit,
		EventSubmitMessage:   handleSubmitMessage,
		EventSelectOption:    handleSelectOption,
		EventSwitchLanguage:  handleSwitchLanguage,
		EventToggleTheme:     handleToggleTheme,
		EventRecordMood:      handleRecordMood,
		EventOpenMoodTrends:  handleOpenMoodTrends,
		EventSuggestedPrompt: handleSuggestedPrompt,
	}
}

func handleInit(c *Controller, ctx context.Context, ev Event) error {
	c.emitTranslations()
	c.deps.Sink.Emit(EffectTheme, ThemeData{Theme: c.state.Theme})
	c.resetSession(ctx)
	return nil
}

func handleSubmitMessage(c *Controller, ctx context.Context, ev Event) error {
	return c.send(ctx, strings.TrimSpace(ev.Text), ev.Offline)
}

func handleSuggestedPrompt(c *Controller, ctx context.Context, ev Event) error {
	text := strings.TrimSpace(ev.Text)
	for _, p := range c.locale.SuggestedPrompts {
		if p == text {
			return c.send(ctx, text, ev.Offline)
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownPrompt, text)
}

func handleSelectOption(c *Controller, ctx context.Context, ev Event) error {
	cs := c.state.CheckIn
	if cs.Phase != checkin.PhaseAwaitingAnswer {
		return checkin.ErrNotAwaiting
	}
	if c.pending != "" {
		// The question is still pacing in and has not been shown.
		return ErrStaleAnswer
	}
	if ev.QuestionID != "" && ev.QuestionID != c.machine.Questions[cs.Index].ID {
		return fmt.Errorf("%w: %s", ErrStaleAnswer, ev.QuestionID)
	}
	next, effects, err := c.machine.Transition(cs, checkin.Answer{Option: ev.Option})
	if err != nil {
		slog.Warn("handleSelectOption: answer rejected", "id", c.id, "error", err)
		return err
	}
	c.state.CheckIn = next
	slog.Debug("handleSelectOption: answer recorded", "id", c.id, "phase", next.Phase, "index", next.Index)
	c.applyEffects(ctx, effects)
	return nil
}

func handleSwitchLanguage(c *Controller, ctx context.Context, ev Event) error {
	code := strings.TrimSpace(ev.Language)
	loc, err := c.deps.Table.Lookup(code)
	if err != nil {
		slog.Warn("handleSwitchLanguage: ignoring unsupported language", "id", c.id, "language", code)
		return nil
	}
	if code == c.state.Language {
		slog.Debug("handleSwitchLanguage: language unchanged", "id", c.id, "language", code)
		return nil
	}
	if c.state.Busy {
		return ErrBusy
	}
	if err := c.deps.Store.SetPreference(ctx, c.clientID, store.PrefLanguage, code); err != nil {
		slog.Error("handleSwitchLanguage: failed to persist language", "id", c.id, "error", err)
	}
	c.state.Language = code
	c.locale = loc
	slog.Info("handleSwitchLanguage: language switched", "id", c.id, "language", code)
	c.emitTranslations()
	c.deps.Sink.Emit(EffectLanguageChanged, LanguageChangedData{Language: code})
	c.resetSession(ctx)
	return nil
}

func handleToggleTheme(c *Controller, ctx context.Context, ev Event) error {
	c.state.Theme = c.state.Theme.Toggle()
	if err := c.deps.Store.SetPreference(ctx, c.clientID, store.PrefTheme, string(c.state.Theme)); err != nil {
		slog.Error("handleToggleTheme: failed to persist theme", "id", c.id, "error", err)
	}
	c.deps.Sink.Emit(EffectTheme, ThemeData{Theme: c.state.Theme})
	return nil
}

func handleRecordMood(c *Controller, ctx context.Context, ev Event) error {
	entry, err := c.moods.Record(ctx, ev.Mood)
	if err != nil {
		return err
	}
	display := c.locale.MoodLabel(entry.Label)
	c.deps.Sink.Emit(EffectMoodRecorded, MoodRecordedData{
		Label:     entry.Label,
		Display:   display,
		Timestamp: entry.Timestamp,
		Message:   c.locale.Format("mood_recorded", "mood", display),
	})
	return nil
}

func handleOpenMoodTrends(c *Controller, ctx context.Context, ev Event) error {
	data, err := c.moodChart(ctx, c.locale)
	if err != nil {
		return err
	}
	c.deps.Sink.Emit(EffectMoodChart, data)
	return nil
}
