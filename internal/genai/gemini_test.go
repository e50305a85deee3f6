package genai

import (
	"context"
	"errors"
	"iter"
	"testing"

	gemini "google.golang.org/genai"
)

type mockModelsService struct {
	responses []*gemini.GenerateContentResponse
	streamErr error
	contents  []*gemini.Content
	config    *gemini.GenerateContentConfig
}

func (m *mockModelsService) GenerateContent(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) (*gemini.GenerateContentResponse, error) {
	m.contents, m.config = contents, config
	if len(m.responses) == 0 {
		return nil, errors.New("no response")
	}
	return m.responses[0], nil
}

func (m *mockModelsService) GenerateContentStream(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) iter.Seq2[*gemini.GenerateContentResponse, error] {
	m.contents, m.config = contents, config
	return func(yield func(*gemini.GenerateContentResponse, error) bool) {
		for _, r := range m.responses {
			if !yield(r, nil) {
				return
			}
		}
		if m.streamErr != nil {
			yield(nil, m.streamErr)
		}
	}
}

func textResponse(parts ...*gemini.Part) *gemini.GenerateContentResponse {
	return &gemini.GenerateContentResponse{Candidates: []*gemini.Candidate{{
		Content: &gemini.Content{Role: string(gemini.RoleModel), Parts: parts},
	}}}
}

func TestGeminiStream_TextAndFunctionCalls(t *testing.T) {
	mock := &mockModelsService{responses: []*gemini.GenerateContentResponse{
		textResponse(&gemini.Part{Text: "Let me "}),
		textResponse(&gemini.Part{Text: "check."}),
		textResponse(&gemini.Part{FunctionCall: &gemini.FunctionCall{Name: "begin_check_in", Args: map[string]any{}}}),
	}}
	client := &GeminiClient{models: mock, model: "test", temperature: 0.3}

	stream, err := client.StreamChat(context.Background(), ChatRequest{Messages: []Message{UserMessage("hi")}})
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}
	defer stream.Close()
	var text string
	for stream.Next() {
		text += stream.Current().Text
	}
	if stream.Err() != nil {
		t.Fatalf("unexpected error: %v", stream.Err())
	}
	if text != "Let me check." {
		t.Errorf("unexpected text %q", text)
	}
	calls := stream.ToolCalls()
	if len(calls) != 1 || calls[0].Name != "begin_check_in" || calls[0].ID == "" {
		t.Fatalf("unexpected tool calls: %+v", calls)
	}
	if mock.config.Temperature == nil || *mock.config.Temperature != float32(0.3) {
		t.Errorf("temperature not forwarded")
	}
}

func TestGeminiStream_SafetyFinishIsBlocked(t *testing.T) {
	resp := textResponse(&gemini.Part{Text: "partial"})
	resp.Candidates[0].FinishReason = gemini.FinishReasonSafety
	mock := &mockModelsService{responses: []*gemini.GenerateContentResponse{resp}}
	client := &GeminiClient{models: mock, model: "test"}

	stream, _ := client.StreamChat(context.Background(), ChatRequest{Messages: []Message{UserMessage("x")}})
	defer stream.Close()
	for stream.Next() {
	}
	if !errors.Is(stream.Err(), ErrContentBlocked) {
		t.Fatalf("expected ErrContentBlocked, got %v", stream.Err())
	}
}

func TestGeminiStream_PropagatesError(t *testing.T) {
	mock := &mockModelsService{streamErr: gemini.APIError{Code: 503, Message: "overloaded"}}
	client := &GeminiClient{models: mock, model: "test"}
	stream, _ := client.StreamChat(context.Background(), ChatRequest{Messages: []Message{UserMessage("x")}})
	defer stream.Close()
	for stream.Next() {
	}
	if stream.Err() == nil {
		t.Fatal("expected stream error")
	}
	if got := Classify(stream.Err(), false); got != CategoryServerError {
		t.Errorf("expected server_error, got %s", got)
	}
}

func TestGeminiContents_MergesToolResultsAndLeadsWithUser(t *testing.T) {
	history := []Message{
		AssistantMessage("Welcome back."),
		UserMessage("find me help"),
		AssistantMessage("", ToolCall{ID: "a", Name: "find_therapist", Arguments: []byte(`{"location":"Austin"}`)}, ToolCall{ID: "b", Name: "begin_check_in"}),
		ToolMessage(ToolResult{CallID: "a", Name: "find_therapist", Payload: map[string]any{"therapists": []any{}}}),
		ToolMessage(ToolResult{CallID: "b", Name: "begin_check_in", Payload: map[string]any{"feeling_scale": "x"}}),
	}
	contents := geminiContents(history)
	if contents[0].Role != string(gemini.RoleUser) {
		t.Fatalf("expected leading user content, got %q", contents[0].Role)
	}
	last := contents[len(contents)-1]
	if len(last.Parts) != 2 || last.Parts[0].FunctionResponse == nil || last.Parts[1].FunctionResponse == nil {
		t.Fatalf("expected merged function responses, got %+v", last.Parts)
	}
	call := contents[len(contents)-2].Parts[0].FunctionCall
	if call == nil || call.Args["location"] != "Austin" {
		t.Errorf("unexpected function call %+v", call)
	}
}

func TestGeminiGenerateJSON_UsesSchema(t *testing.T) {
	mock := &mockModelsService{responses: []*gemini.GenerateContentResponse{
		textResponse(&gemini.Part{Text: "```json\n{\"tone\":\"calm\"}\n```"}),
	}}
	client := &GeminiClient{models: mock, model: "test"}
	var out struct {
		Tone string `json:"tone"`
	}
	schema := &Schema{Type: TypeObject, Properties: map[string]*Schema{"tone": {Type: TypeString, Enum: []string{"calm"}}}, Order: []string{"tone"}}
	if err := client.GenerateJSON(context.Background(), "sys", "hi", schema, &out); err != nil {
		t.Fatalf("GenerateJSON failed: %v", err)
	}
	if out.Tone != "calm" {
		t.Errorf("unexpected tone %q", out.Tone)
	}
	if mock.config.ResponseSchema == nil || mock.config.ResponseSchema.Type != gemini.TypeObject {
		t.Errorf("schema not forwarded: %+v", mock.config.ResponseSchema)
	}
	if mock.config.ResponseMIMEType != "application/json" {
		t.Errorf("unexpected mime type %q", mock.config.ResponseMIMEType)
	}
}
