// Package genai provides provider-neutral access to hosted chat completion models.
//
// A conversation is expressed with the small Message/ToolCall/ToolResult vocabulary defined
// here; each backend (OpenAI, Gemini) translates it to its own wire format. Replies are
// consumed as a pull-based Stream so callers can render partial output as it arrives.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Provider names a model backend.
type Provider string

const (
	// ProviderOpenAI uses the OpenAI chat completions API.
	ProviderOpenAI Provider = "openai"
	// ProviderGemini uses the Gemini API.
	ProviderGemini Provider = "gemini"
)

// Default model configuration
const (
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultTemperature = 0.7
)

// Error variables for better error handling and testability
var (
	ErrMissingAPIKey     = errors.New("model API key not set")
	ErrUnknownProvider   = errors.New("unknown model provider")
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrContentBlocked    = errors.New("response blocked by content safety filter")
	ErrClientUnavailable = errors.New("model client unavailable")
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a structured, named request emitted by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult answers one ToolCall. Payload must be JSON-serializable.
type ToolResult struct {
	CallID  string         `json:"call_id"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
}

// Message is one turn of a conversation.
type Message struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`  // assistant turns only
	ToolResult *ToolResult `json:"tool_result,omitempty"` // tool turns only
}

// UserMessage builds a user text turn.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage builds an assistant turn with optional tool calls.
func AssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// ToolMessage builds a tool result turn.
func ToolMessage(result ToolResult) Message {
	return Message{Role: RoleTool, ToolResult: &result}
}

// payloadJSON renders a tool result payload for backends that expect a string.
func (r ToolResult) payloadJSON() string {
	data, err := json.Marshal(r.Payload)
	if err != nil {
		slog.Warn("genai.ToolResult: failed to marshal payload", "tool", r.Name, "error", err)
		return `{"error":"unserializable tool result"}`
	}
	return string(data)
}

// ToolDefinition describes a function the model may invoke.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  *Schema
}

// ChatRequest is one completion request over a conversation.
type ChatRequest struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
}

// Delta is one incremental piece of streamed text.
type Delta struct {
	Text string
}

// Stream is a pull-based reply stream. Next advances to the next delta and returns false
// at the end of the stream or on error. ToolCalls is valid once Next has returned false
// without an error.
type Stream interface {
	Next() bool
	Current() Delta
	ToolCalls() []ToolCall
	Err() error
	Close() error
}

// ClientInterface is implemented by every model backend.
type ClientInterface interface {
	// StreamChat starts a streamed completion over the conversation.
	StreamChat(ctx context.Context, req ChatRequest) (Stream, error)
	// GenerateJSON runs a one-shot completion constrained to the schema and decodes it into out.
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema *Schema, out any) error
}

// Opts holds configuration for constructing a model client.
type Opts struct {
	Provider    Provider
	APIKey      string
	Model       string
	Temperature float64
	BaseURL     string
}

// Option configures a model client.
type Option func(*Opts)

// WithProvider selects the backend.
func WithProvider(p Provider) Option {
	return func(o *Opts) { o.Provider = p }
}

// WithAPIKey sets the API key for the backend.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the default model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithBaseURL points the backend at a different endpoint (proxies, tests).
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// NewClient constructs the configured backend.
func NewClient(ctx context.Context, opts ...Option) (ClientInterface, error) {
	cfg := Opts{Provider: ProviderOpenAI, Temperature: DefaultTemperature}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("genai.NewClient: creating model client", "provider", cfg.Provider, "model", cfg.Model, "apiKeySet", cfg.APIKey != "", "baseURLSet", cfg.BaseURL != "")

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %w for provider %s", ErrClientUnavailable, ErrMissingAPIKey, cfg.Provider)
	}

	switch Provider(strings.ToLower(string(cfg.Provider))) {
	case ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	case ProviderGemini:
		client, err := NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrClientUnavailable, err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: %w %q", ErrClientUnavailable, ErrUnknownProvider, cfg.Provider)
	}
}

// decodeJSONContent decodes a model's JSON answer, tolerating markdown code fences.
func decodeJSONContent(content string, out any) error {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrNoChoicesReturned
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("failed to decode structured response: %w", err)
	}
	return nil
}
