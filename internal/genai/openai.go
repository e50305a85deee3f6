package genai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
)

// chatService defines the subset of the OpenAI chat API used by OpenAIClient.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// OpenAIClient talks to the OpenAI chat completions API.
type OpenAIClient struct {
	chat        chatService
	model       string
	temperature float64
}

// NewOpenAIClient creates a client from resolved options.
func NewOpenAIClient(cfg Opts) *OpenAIClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("OpenAIClient.New: client created", "model", model, "temperature", cfg.Temperature)
	return &OpenAIClient{chat: &cli.Chat.Completions, model: model, temperature: cfg.Temperature}
}

// StreamChat starts a streamed completion.
func (c *OpenAIClient) StreamChat(ctx context.Context, req ChatRequest) (Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    openAIMessages(req.SystemPrompt, req.Messages),
		Temperature: openai.Float(c.temperature),
	}
	if len(req.Tools) > 0 {
		params.Tools = openAITools(req.Tools)
	}
	slog.Debug("OpenAIClient.StreamChat: starting stream", "model", c.model, "messages", len(params.Messages), "tools", len(params.Tools))

	stream := c.chat.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		slog.Error("OpenAIClient.StreamChat: stream failed to start", "error", err)
		return nil, err
	}
	return &openAIStream{stream: stream}, nil
}

// GenerateJSON runs a non-streamed completion constrained to a JSON schema.
func (c *OpenAIClient) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema *Schema, out any) error {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "structured_response",
					Schema: schema.JSONSchema(),
					Strict: openai.Bool(true),
				},
			},
		},
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		slog.Error("OpenAIClient.GenerateJSON: request failed", "error", err)
		return err
	}
	if len(resp.Choices) == 0 {
		return ErrNoChoicesReturned
	}
	if resp.Choices[0].FinishReason == "content_filter" {
		return ErrContentBlocked
	}
	return decodeJSONContent(resp.Choices[0].Message.Content, out)
}

// openAIStream adapts the SSE chunk stream to Stream.
type openAIStream struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	acc     openai.ChatCompletionAccumulator
	current Delta
	err     error
	done    bool
}

func (s *openAIStream) Next() bool {
	if s.done {
		return false
	}
	for s.stream.Next() {
		chunk := s.stream.Current()
		s.acc.AddChunk(chunk)
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason == "content_filter" {
			s.err = ErrContentBlocked
			s.done = true
			return false
		}
		if choice.Delta.Content != "" {
			s.current = Delta{Text: choice.Delta.Content}
			return true
		}
	}
	s.done = true
	if err := s.stream.Err(); err != nil {
		s.err = err
	}
	return false
}

func (s *openAIStream) Current() Delta { return s.current }

func (s *openAIStream) ToolCalls() []ToolCall {
	if len(s.acc.Choices) == 0 {
		return nil
	}
	var calls []ToolCall
	for _, tc := range s.acc.Choices[0].Message.ToolCalls {
		calls = append(calls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: []byte(tc.Function.Arguments),
		})
	}
	return calls
}

func (s *openAIStream) Err() error { return s.err }

func (s *openAIStream) Close() error { return s.stream.Close() }

// openAIMessages converts a conversation to OpenAI message params.
func openAIMessages(systemPrompt string, history []Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	for _, msg := range history {
		switch msg.Role {
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: param.NewOpt(msg.Content),
				}
			}
			for _, tc := range msg.ToolCalls {
				args := string(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			if msg.ToolResult == nil {
				slog.Warn("genai.openAIMessages: tool message without result skipped")
				continue
			}
			messages = append(messages, openai.ToolMessage(msg.ToolResult.payloadJSON(), msg.ToolResult.CallID))
		default:
			slog.Warn("genai.openAIMessages: unknown role skipped", "role", msg.Role)
		}
	}
	return messages
}

func openAITools(defs []ToolDefinition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  shared.FunctionParameters(def.Parameters.JSONSchema()),
			},
		})
	}
	return tools
}

// String implements fmt.Stringer for debug logs.
func (c *OpenAIClient) String() string {
	return fmt.Sprintf("OpenAIClient(%s)", c.model)
}
