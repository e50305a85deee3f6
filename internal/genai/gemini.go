package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	gemini "google.golang.org/genai"
)

// modelsService defines the subset of the Gemini models API used by GeminiClient.
type modelsService interface {
	GenerateContent(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) (*gemini.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) iter.Seq2[*gemini.GenerateContentResponse, error]
}

// GeminiClient talks to the Gemini API.
type GeminiClient struct {
	models      modelsService
	model       string
	temperature float64
}

// NewGeminiClient creates a client from resolved options.
func NewGeminiClient(ctx context.Context, cfg Opts) (*GeminiClient, error) {
	clientCfg := &gemini.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: gemini.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = gemini.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	cli, err := gemini.NewClient(ctx, clientCfg)
	if err != nil {
		slog.Error("GeminiClient.New: failed to create client", "error", err)
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	slog.Debug("GeminiClient.New: client created", "model", model, "temperature", cfg.Temperature)
	return &GeminiClient{models: cli.Models, model: model, temperature: cfg.Temperature}, nil
}

func (c *GeminiClient) config(systemPrompt string) *gemini.GenerateContentConfig {
	temperature := float32(c.temperature)
	cfg := &gemini.GenerateContentConfig{Temperature: &temperature}
	if systemPrompt != "" {
		cfg.SystemInstruction = gemini.NewContentFromText(systemPrompt, gemini.RoleUser)
	}
	return cfg
}

// StreamChat starts a streamed completion.
func (c *GeminiClient) StreamChat(ctx context.Context, req ChatRequest) (Stream, error) {
	cfg := c.config(req.SystemPrompt)
	if len(req.Tools) > 0 {
		cfg.Tools = geminiTools(req.Tools)
	}
	contents := geminiContents(req.Messages)
	slog.Debug("GeminiClient.StreamChat: starting stream", "model", c.model, "contents", len(contents), "tools", len(req.Tools))

	next, stop := iter.Pull2(c.models.GenerateContentStream(ctx, c.model, contents, cfg))
	return &geminiStream{next: next, stop: stop}, nil
}

// GenerateJSON runs a non-streamed completion constrained to a response schema.
func (c *GeminiClient) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema *Schema, out any) error {
	cfg := c.config(systemPrompt)
	zero := float32(0)
	cfg.Temperature = &zero
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = schema.GeminiSchema()

	resp, err := c.models.GenerateContent(ctx, c.model, gemini.Text(userPrompt), cfg)
	if err != nil {
		slog.Error("GeminiClient.GenerateJSON: request failed", "error", err)
		return err
	}
	if blocked(resp) {
		return ErrContentBlocked
	}
	text, _ := responseParts(resp)
	return decodeJSONContent(text, out)
}

// geminiStream adapts the response iterator to Stream.
type geminiStream struct {
	next    func() (*gemini.GenerateContentResponse, error, bool)
	stop    func()
	current Delta
	calls   []ToolCall
	err     error
	done    bool
}

func (s *geminiStream) Next() bool {
	if s.done {
		return false
	}
	for {
		resp, err, ok := s.next()
		if !ok {
			s.done = true
			return false
		}
		if err != nil {
			s.err = err
			s.done = true
			return false
		}
		if blocked(resp) {
			s.err = ErrContentBlocked
			s.done = true
			return false
		}
		text, calls := responseParts(resp)
		s.calls = append(s.calls, calls...)
		if text != "" {
			s.current = Delta{Text: text}
			return true
		}
	}
}

func (s *geminiStream) Current() Delta { return s.current }

func (s *geminiStream) ToolCalls() []ToolCall { return s.calls }

func (s *geminiStream) Err() error { return s.err }

func (s *geminiStream) Close() error {
	s.stop()
	s.done = true
	return nil
}

// blocked reports whether a response was rejected by safety filtering.
func blocked(resp *gemini.GenerateContentResponse) bool {
	if resp == nil {
		return false
	}
	if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" && pf.BlockReason != gemini.BlockedReasonUnspecified {
		return true
	}
	for _, cand := range resp.Candidates {
		if cand != nil && cand.FinishReason == gemini.FinishReasonSafety {
			return true
		}
	}
	return false
}

// responseParts extracts visible text and function calls from the first candidate.
func responseParts(resp *gemini.GenerateContentResponse) (string, []ToolCall) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return "", nil
	}
	var text strings.Builder
	var calls []ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if fc := part.FunctionCall; fc != nil {
			args, err := json.Marshal(fc.Args)
			if err != nil {
				slog.Warn("genai.responseParts: failed to marshal function args", "name", fc.Name, "error", err)
				args = []byte("{}")
			}
			id := fc.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			calls = append(calls, ToolCall{ID: id, Name: fc.Name, Arguments: args})
		}
	}
	return text.String(), calls
}

// geminiContents converts a conversation to Gemini contents. Tool results become
// user-role function responses and consecutive ones share a single content.
func geminiContents(history []Message) []*gemini.Content {
	var contents []*gemini.Content
	for _, msg := range history {
		switch msg.Role {
		case RoleUser:
			contents = append(contents, &gemini.Content{
				Role:  string(gemini.RoleUser),
				Parts: []*gemini.Part{{Text: msg.Content}},
			})
		case RoleAssistant:
			content := &gemini.Content{Role: string(gemini.RoleModel)}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &gemini.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := map[string]any{}
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &args); err != nil {
						slog.Warn("genai.geminiContents: invalid tool arguments", "name", tc.Name, "error", err)
					}
				}
				content.Parts = append(content.Parts, &gemini.Part{
					FunctionCall: &gemini.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
				})
			}
			if len(content.Parts) == 0 {
				continue
			}
			contents = append(contents, content)
		case RoleTool:
			if msg.ToolResult == nil {
				continue
			}
			part := &gemini.Part{FunctionResponse: &gemini.FunctionResponse{
				ID:       msg.ToolResult.CallID,
				Name:     msg.ToolResult.Name,
				Response: msg.ToolResult.Payload,
			}}
			if n := len(contents); n > 0 && isFunctionResponseContent(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &gemini.Content{Role: string(gemini.RoleUser), Parts: []*gemini.Part{part}})
		}
	}
	// Gemini requires the conversation to open with a user turn.
	if len(contents) > 0 && contents[0].Role != string(gemini.RoleUser) {
		contents = append([]*gemini.Content{{Role: string(gemini.RoleUser), Parts: []*gemini.Part{{Text: "Hello"}}}}, contents...)
	}
	return contents
}

func isFunctionResponseContent(c *gemini.Content) bool {
	if c == nil || c.Role != string(gemini.RoleUser) || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

func geminiTools(defs []ToolDefinition) []*gemini.Tool {
	decls := make([]*gemini.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		decl := &gemini.FunctionDeclaration{Name: def.Name, Description: def.Description}
		// Gemini rejects object parameters without properties.
		if p := def.Parameters; p != nil && (p.Type != TypeObject || len(p.Properties) > 0) {
			decl.Parameters = p.GeminiSchema()
		}
		decls = append(decls, decl)
	}
	return []*gemini.Tool{{FunctionDeclarations: decls}}
}
