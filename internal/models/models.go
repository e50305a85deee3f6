// Package models defines the core data structures for Confidant.
//
// It includes the questionnaire, mood and preference types shared across modules,
// as well as the standard API response envelope.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Theme is the colour scheme preference of a browser client.
type Theme string

const (
	// ThemeLight is the default light colour scheme.
	ThemeLight Theme = "light"
	// ThemeDark is the dark colour scheme.
	ThemeDark Theme = "dark"
)

// IsValid reports whether the theme is one of the known themes.
func (t Theme) IsValid() bool {
	return t == ThemeLight || t == ThemeDark
}

// ParseTheme converts a stored preference value into a Theme.
func ParseTheme(v string) (Theme, error) {
	t := Theme(v)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTheme, v)
	}
	return t, nil
}

// Toggle returns the opposite theme.
func (t Theme) Toggle() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for a free-form user message
	MaxMessageLength = 4096
	// MinQuestionOptions defines the minimum number of options a check-in question must offer
	MinQuestionOptions = 2
)

// Error variables for better error handling and testability
var (
	ErrEmptyMessage    = errors.New("message cannot be empty")
	ErrMessageTooLong  = errors.New("message exceeds maximum length")
	ErrInvalidTheme    = errors.New("invalid theme")
	ErrEmptyQuestionID = errors.New("question id cannot be empty")
	ErrTooFewOptions   = errors.New("question has too few options")
	ErrEmptyOption     = errors.New("question option cannot be empty")
)

// Question is one step of the check-in questionnaire in a specific language.
type Question struct {
	ID      string   `json:"id" yaml:"id"`           // stable, language-independent key
	Text    string   `json:"text" yaml:"text"`       // prompt shown to the user
	Options []string `json:"options" yaml:"options"` // ordered, discrete answer options
}

// Validate ensures the question can be presented.
func (q Question) Validate() error {
	if q.ID == "" {
		return ErrEmptyQuestionID
	}
	if len(q.Options) < MinQuestionOptions {
		return ErrTooFewOptions
	}
	for _, opt := range q.Options {
		if opt == "" {
			return ErrEmptyOption
		}
	}
	return nil
}

// HasOption reports whether option is one of the question's options, compared verbatim.
func (q Question) HasOption(option string) bool {
	for _, opt := range q.Options {
		if opt == option {
			return true
		}
	}
	return false
}

// AnswerSet maps question identifiers to the exact option string the user selected.
type AnswerSet map[string]string

// Clone returns an independent copy of the answer set.
func (a AnswerSet) Clone() AnswerSet {
	out := make(AnswerSet, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Payload converts the answer set into a JSON-serializable tool result payload.
func (a AnswerSet) Payload() map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// MoodEntry is one user-logged emotional-state data point.
type MoodEntry struct {
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionSnapshot is the externally visible state of one chat page session.
type SessionSnapshot struct {
	ID            string `json:"id"`
	Language      string `json:"language"`
	Theme         Theme  `json:"theme"`
	CheckInPhase  string `json:"check_in_phase"`
	QuestionIndex int    `json:"question_index"`
	QuestionCount int    `json:"question_count"`
	Busy          bool   `json:"busy"`
	InputEnabled  bool   `json:"input_enabled"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusRecorded indicates data was successfully recorded via API.
	APIStatusRecorded APIStatus = "recorded"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Recorded creates a recorded API response carrying the stored item.
func Recorded(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusRecorded).
		WithResult(result).
		Build()
}
