package app

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/Confidant/internal/models"
)

// EffectName identifies a UI effect pushed to the page.
type EffectName string

const (
	EffectTranslations    EffectName = "translations"
	EffectTheme           EffectName = "theme"
	EffectAppendMessage   EffectName = "append_message"
	EffectUpdateMessage   EffectName = "update_message"
	EffectMessageError    EffectName = "message_error"
	EffectInputEnabled    EffectName = "input_enabled"
	EffectShowOptions     EffectName = "show_options"
	EffectClearOptions    EffectName = "clear_options"
	EffectMoodRecorded    EffectName = "mood_recorded"
	EffectMoodChart       EffectName = "mood_chart"
	EffectLanguageChanged EffectName = "language_changed"
)

// Message author roles as rendered by the page.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Effect is one UI update, numbered in emission order.
type Effect struct {
	ID   int64      `json:"id"`
	Name EffectName `json:"name"`
	Data any        `json:"data"`
}

// Sink receives UI effects. Emit must not block.
type Sink interface {
	Emit(name EffectName, data any)
}

// LanguageOption is one entry of the language selector.
type LanguageOption struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// MoodOption is one mood button.
type MoodOption struct {
	Label   string `json:"label"`
	Display string `json:"display"`
}

// TranslationsData replaces every translatable string on the page.
type TranslationsData struct {
	Language         string            `json:"language"`
	Strings          map[string]string `json:"strings"`
	Moods            []MoodOption      `json:"moods"`
	SuggestedPrompts []string          `json:"suggested_prompts"`
	Languages        []LanguageOption  `json:"languages"`
}

// ThemeData sets the page theme.
type ThemeData struct {
	Theme models.Theme `json:"theme"`
}

// MessageData appends or updates one chat bubble.
type MessageData struct {
	ID     string `json:"id"`
	Role   string `json:"role,omitempty"`
	Text   string `json:"text"`
	Status string `json:"status,omitempty"`
}

// MessageErrorData replaces a bubble's content with a localized failure.
type MessageErrorData struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Text     string `json:"text"`
}

// InputEnabledData toggles the free-form input.
type InputEnabledData struct {
	Enabled bool `json:"enabled"`
}

// OptionsData presents the answer buttons of one check-in question.
type OptionsData struct {
	QuestionID string   `json:"question_id"`
	Index      int      `json:"index"`
	Count      int      `json:"count"`
	Options    []string `json:"options"`
}

// MoodRecordedData confirms a logged mood.
type MoodRecordedData struct {
	Label     string    `json:"label"`
	Display   string    `json:"display"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// MoodChartData carries the rendered mood trends chart.
type MoodChartData struct {
	Title string `json:"title"`
	SVG   string `json:"svg"`
	Bars  int    `json:"bars"`
	Empty bool   `json:"empty"`
}

// LanguageChangedData announces a completed language switch.
type LanguageChangedData struct {
	Language string `json:"language"`
}

// DefaultHistorySize is how many effects a Hub keeps for replay.
const DefaultHistorySize = 512

// subscriberBuffer is the channel capacity of one subscriber.
const subscriberBuffer = 64

// Hub is a Sink that numbers effects, keeps a bounded history for replay and fans
// them out to subscribers. A subscriber that falls behind is disconnected; it can
// reconnect and resume from its last seen id.
type Hub struct {
	mu      sync.Mutex
	nextID  int64
	history []Effect
	limit   int
	subs    map[int]chan Effect
	nextSub int
	closed  bool
}

// NewHub creates a hub keeping up to limit effects (DefaultHistorySize when limit <= 0).
func NewHub(limit int) *Hub {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &Hub{limit: limit, subs: make(map[int]chan Effect)}
}

// Emit records an effect and delivers it to subscribers.
func (h *Hub) Emit(name EffectName, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.nextID++
	eff := Effect{ID: h.nextID, Name: name, Data: data}
	h.history = append(h.history, eff)
	if over := len(h.history) - h.limit; over > 0 {
		h.history = append([]Effect(nil), h.history[over:]...)
	}
	for id, ch := range h.subs {
		select {
		case ch <- eff:
		default:
			slog.Warn("Hub.Emit: subscriber too slow, disconnecting", "subscriber", id, "effectID", eff.ID)
			close(ch)
			delete(h.subs, id)
		}
	}
}

// Subscribe returns the retained effects newer than lastID and a channel of later ones.
// The channel is closed when the hub closes or the subscriber falls behind.
func (h *Hub) Subscribe(lastID int64) ([]Effect, <-chan Effect, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var replay []Effect
	for _, eff := range h.history {
		if eff.ID > lastID {
			replay = append(replay, eff)
		}
	}
	ch := make(chan Effect, subscriberBuffer)
	if h.closed {
		close(ch)
		return replay, ch, func() {}
	}
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	slog.Debug("Hub.Subscribe: subscriber added", "subscriber", id, "lastID", lastID, "replay", len(replay))

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				close(c)
				delete(h.subs, id)
			}
		})
	}
	return replay, ch, cancel
}

// Subscribers reports how many streams are attached.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and drops later effects.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
