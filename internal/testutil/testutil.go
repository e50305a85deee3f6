// Package testutil provides common test helpers for Confidant tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/Confidant/internal/genai"
	"github.com/BTreeMap/Confidant/internal/models"
	"github.com/BTreeMap/Confidant/internal/store"
)

// ErrStubClient is returned by every StubClient call.
var ErrStubClient = errors.New("stub model client")

// StubClient is a model client that refuses every request. It suits tests that only
// exercise state around the conversation.
type StubClient struct{}

// StreamChat implements genai.ClientInterface.
func (StubClient) StreamChat(ctx context.Context, req genai.ChatRequest) (genai.Stream, error) {
	return nil, ErrStubClient
}

// GenerateJSON implements genai.ClientInterface.
func (StubClient) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema *genai.Schema, out any) error {
	return ErrStubClient
}

// StubClientFactory returns a factory handing out StubClient, or err when non-nil.
func StubClientFactory(err error) func(context.Context) (genai.ClientInterface, error) {
	return func(context.Context) (genai.ClientInterface, error) {
		if err != nil {
			return nil, err
		}
		return StubClient{}, nil
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected int, rr *httptest.ResponseRecorder, context string) {
	t.Helper()
	if rr.Code != expected {
		t.Errorf("%s: expected status %d, got %d: %s", context, expected, rr.Code, rr.Body.String())
	}
}

// DecodeResult decodes an APIResponse envelope, checks its status field and unmarshals
// the result into target. A nil target skips the result.
func DecodeResult(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string, target any) {
	t.Helper()
	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode JSON response: %v (body %q)", err, rr.Body.String())
	}
	if envelope.Status != expectedStatus {
		t.Errorf("expected status %q, got %q (message %q)", expectedStatus, envelope.Status, envelope.Message)
	}
	if target == nil || len(envelope.Result) == 0 {
		return
	}
	MustUnmarshalJSON(t, envelope.Result, target)
}

// CreateHTTPRequest creates an HTTP request with an optional JSON body.
func CreateHTTPRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var payload []byte
	if body != nil {
		payload = MustMarshalJSON(t, body)
	}
	req := httptest.NewRequest(method, url, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// SeedMoods writes one entry per label for clientID, a minute apart from start.
func SeedMoods(t *testing.T, st store.Store, clientID string, start time.Time, labels ...string) {
	t.Helper()
	for i, label := range labels {
		entry := models.MoodEntry{Label: label, Timestamp: start.Add(time.Duration(i) * time.Minute)}
		if err := st.AddMoodEntry(context.Background(), clientID, entry); err != nil {
			t.Fatalf("failed to seed mood %q: %v", label, err)
		}
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
