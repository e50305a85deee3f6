// Package i18n provides the localization table: per-language UI strings, the model's
// system prompt and the check-in questionnaire, loaded from embedded YAML files.
package i18n

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/Confidant/internal/checkin"
	"github.com/BTreeMap/Confidant/internal/models"
	"github.com/BTreeMap/Confidant/internal/mood"
)

// DefaultLanguage is used when neither a stored nor a browser language is supported.
const DefaultLanguage = "en"

//go:embed locales/*.yaml
var embeddedLocales embed.FS

// Error variables for better error handling and testability
var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrInvalidLocale       = errors.New("invalid locale")
)

// RequiredKeys are the UI strings every locale must define.
var RequiredKeys = []string{
	"title", "input_placeholder", "send", "theme_toggle", "language_label",
	"mood_prompt", "mood_trends", "mood_chart_title", "mood_chart_empty", "mood_recorded", "close",
	"therapist_status",
	"error_offline", "error_auth", "error_rate_limit", "error_server", "error_safety",
	"error_network", "error_default", "error_init", "error_busy", "error_check_in_active",
}

// Locale is everything shown or sent in one language.
type Locale struct {
	Code             string            `yaml:"code" json:"code"`
	Name             string            `yaml:"name" json:"name"`
	SystemPrompt     string            `yaml:"system_prompt" json:"-"`
	UI               map[string]string `yaml:"ui" json:"ui"`
	Moods            map[string]string `yaml:"moods" json:"moods"`
	SuggestedPrompts []string          `yaml:"suggested_prompts" json:"suggested_prompts"`
	Questions        []models.Question `yaml:"questions" json:"-"`
}

// T returns the UI string for key, or key itself when missing.
func (l *Locale) T(key string) string {
	if v, ok := l.UI[key]; ok {
		return v
	}
	slog.Warn("Locale.T: missing translation", "lang", l.Code, "key", key)
	return key
}

// Format returns the UI string for key with {name} placeholders replaced from pairs.
func (l *Locale) Format(key string, pairs ...string) string {
	args := make([]string, 0, len(pairs))
	for i := 0; i+1 < len(pairs); i += 2 {
		args = append(args, "{"+pairs[i]+"}", pairs[i+1])
	}
	return strings.NewReplacer(args...).Replace(l.T(key))
}

// MoodLabel returns the display name of a mood label.
func (l *Locale) MoodLabel(label string) string {
	if v, ok := l.Moods[label]; ok {
		return v
	}
	return label
}

// Questionnaire returns the check-in questions in this language.
func (l *Locale) Questionnaire() checkin.Questionnaire {
	return checkin.Questionnaire(l.Questions)
}

// Validate checks a single locale for completeness.
func (l *Locale) Validate() error {
	if l.Code == "" {
		return fmt.Errorf("%w: missing code", ErrInvalidLocale)
	}
	if strings.TrimSpace(l.SystemPrompt) == "" {
		return fmt.Errorf("%w: %s has an empty system prompt", ErrInvalidLocale, l.Code)
	}
	for _, key := range RequiredKeys {
		if strings.TrimSpace(l.UI[key]) == "" {
			return fmt.Errorf("%w: %s is missing ui key %q", ErrInvalidLocale, l.Code, key)
		}
	}
	for _, label := range mood.Labels {
		if strings.TrimSpace(l.Moods[label]) == "" {
			return fmt.Errorf("%w: %s is missing mood %q", ErrInvalidLocale, l.Code, label)
		}
	}
	if err := l.Questionnaire().Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidLocale, l.Code, err)
	}
	return nil
}

// Table is the set of supported locales.
type Table struct {
	locales map[string]*Locale
	codes   []string
	matcher language.Matcher
}

// Load parses the embedded locale files.
func Load() (*Table, error) {
	sub, err := fs.Sub(embeddedLocales, "locales")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub)
}

// LoadFS parses every *.yaml file at the root of fsys. The default language must be present,
// and every locale must define the UI keys of the default locale.
func LoadFS(fsys fs.FS) (*Table, error) {
	files, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to list locale files: %w", err)
	}
	t := &Table{locales: make(map[string]*Locale, len(files))}
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read locale %s: %w", name, err)
		}
		var loc Locale
		if err := yaml.Unmarshal(data, &loc); err != nil {
			return nil, fmt.Errorf("failed to parse locale %s: %w", name, err)
		}
		if want := strings.TrimSuffix(path.Base(name), ".yaml"); loc.Code != want {
			return nil, fmt.Errorf("%w: file %s declares code %q", ErrInvalidLocale, name, loc.Code)
		}
		if err := loc.Validate(); err != nil {
			return nil, err
		}
		t.locales[loc.Code] = &loc
		slog.Debug("i18n.LoadFS: locale loaded", "lang", loc.Code, "uiKeys", len(loc.UI))
	}

	def, ok := t.locales[DefaultLanguage]
	if !ok {
		return nil, fmt.Errorf("%w: default language %q not found", ErrInvalidLocale, DefaultLanguage)
	}
	for code, loc := range t.locales {
		for key := range def.UI {
			if _, ok := loc.UI[key]; !ok {
				return nil, fmt.Errorf("%w: %s is missing ui key %q", ErrInvalidLocale, code, key)
			}
		}
	}

	// Default first so the matcher falls back to it.
	t.codes = append(t.codes, DefaultLanguage)
	var rest []string
	for code := range t.locales {
		if code != DefaultLanguage {
			rest = append(rest, code)
		}
	}
	sort.Strings(rest)
	t.codes = append(t.codes, rest...)

	tags := make([]language.Tag, 0, len(t.codes))
	for _, code := range t.codes {
		tags = append(tags, language.Make(code))
	}
	t.matcher = language.NewMatcher(tags)
	slog.Info("i18n.LoadFS: localization table ready", "languages", t.codes)
	return t, nil
}

// Codes returns the supported language codes, default first.
func (t *Table) Codes() []string {
	out := make([]string, len(t.codes))
	copy(out, t.codes)
	return out
}

// Supported reports whether code has a locale.
func (t *Table) Supported(code string) bool {
	_, ok := t.locales[code]
	return ok
}

// Lookup returns the locale for code.
func (t *Table) Lookup(code string) (*Locale, error) {
	loc, ok := t.locales[code]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, code)
	}
	return loc, nil
}

// Default returns the default locale.
func (t *Table) Default() *Locale {
	return t.locales[DefaultLanguage]
}

// Resolve picks the initial language: the persisted choice if supported, then the best
// supported match for the browser's Accept-Language header, then DefaultLanguage.
func (t *Table) Resolve(persisted, acceptLanguage string) string {
	if t.Supported(persisted) {
		return persisted
	}
	if acceptLanguage != "" {
		tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
		if err != nil {
			slog.Debug("Table.Resolve: unparseable Accept-Language", "value", acceptLanguage, "error", err)
		} else if len(tags) > 0 {
			_, idx, conf := t.matcher.Match(tags...)
			if conf != language.No && idx >= 0 && idx < len(t.codes) {
				return t.codes[idx]
			}
		}
	}
	return DefaultLanguage
}
