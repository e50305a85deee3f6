package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/Confidant/internal/genai"
	"github.com/BTreeMap/Confidant/internal/models"
	"github.com/BTreeMap/Confidant/internal/tone"
)

// scriptedStream replays fixed deltas followed by tool calls or an error.
type scriptedStream struct {
	deltas []string
	calls  []genai.ToolCall
	err    error
	pos    int
	closed bool
}

func (s *scriptedStream) Next() bool {
	if s.pos >= len(s.deltas) {
		return false
	}
	s.pos++
	return true
}

func (s *scriptedStream) Current() genai.Delta { return genai.Delta{Text: s.deltas[s.pos-1]} }

func (s *scriptedStream) ToolCalls() []genai.ToolCall { return s.calls }

func (s *scriptedStream) Err() error {
	if s.pos >= len(s.deltas) {
		return s.err
	}
	return nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

// mockClient hands out one scripted stream per StreamChat call.
type mockClient struct {
	mu        sync.Mutex
	streams   []*scriptedStream
	openErr   error
	requests  []genai.ChatRequest
	toneJSON  string
	toneErr   error
	toneCalls int
}

func (m *mockClient) StreamChat(ctx context.Context, req genai.ChatRequest) (genai.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.openErr != nil {
		return nil, m.openErr
	}
	if len(m.streams) == 0 {
		return nil, errors.New("no scripted stream")
	}
	s := m.streams[0]
	m.streams = m.streams[1:]
	return s, nil
}

func (m *mockClient) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema *genai.Schema, out any) error {
	m.toneCalls++
	if m.toneErr != nil {
		return m.toneErr
	}
	return json.Unmarshal([]byte(m.toneJSON), out)
}

func drain(t *testing.T, r *Reply) []string {
	t.Helper()
	var texts []string
	for r.Next() {
		texts = append(texts, r.Text())
	}
	return texts
}

func TestSend_StreamsAndRecordsTurns(t *testing.T) {
	client := &mockClient{streams: []*scriptedStream{{deltas: []string{"Hi", " there"}}}}
	s := NewSession(client, WithSystemPrompt("be kind"))

	r, err := s.Send(context.Background(), "  hello ")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !s.Busy() {
		t.Errorf("session must be busy while the reply is open")
	}
	texts := drain(t, r)
	if r.Err() != nil {
		t.Fatalf("unexpected reply error: %v", r.Err())
	}
	if len(texts) != 2 || texts[1] != "Hi there" {
		t.Errorf("unexpected progressive text %v", texts)
	}
	if r.Outcome().Kind != OutcomeReply {
		t.Errorf("expected plain reply outcome, got %v", r.Outcome().Kind)
	}
	if s.Busy() {
		t.Errorf("session must be idle after the reply completes")
	}

	history := s.History()
	if len(history) != 2 || history[0].Content != "hello" || history[1].Content != "Hi there" {
		t.Fatalf("unexpected history %+v", history)
	}
	req := client.requests[0]
	if req.SystemPrompt != "be kind" || len(req.Tools) != 2 {
		t.Errorf("request missing system prompt or tools: %+v", req)
	}
}

func TestSend_RejectsInvalidInput(t *testing.T) {
	s := NewSession(&mockClient{})
	if _, err := s.Send(context.Background(), "   "); !errors.Is(err, models.ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := s.Send(context.Background(), strings.Repeat("x", models.MaxMessageLength+1)); !errors.Is(err, models.ErrMessageTooLong) {
		t.Errorf("expected ErrMessageTooLong, got %v", err)
	}
}

func TestSend_SingleOutstandingRequest(t *testing.T) {
	client := &mockClient{streams: []*scriptedStream{{deltas: []string{"a"}}, {deltas: []string{"b"}}}}
	s := NewSession(client)

	r, err := s.Send(context.Background(), "first")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := s.Send(context.Background(), "second"); !errors.Is(err, ErrRequestInFlight) {
		t.Fatalf("expected ErrRequestInFlight, got %v", err)
	}
	drain(t, r)
	if _, err := s.Send(context.Background(), "third"); err != nil {
		t.Fatalf("Send after completion failed: %v", err)
	}
}

func TestSend_FailureRollsBackAndReleases(t *testing.T) {
	boom := errors.New("stream broke")
	client := &mockClient{streams: []*scriptedStream{
		{deltas: []string{"ok"}},
		{deltas: []string{"partial"}, err: boom},
	}}
	s := NewSession(client)

	r, _ := s.Send(context.Background(), "one")
	drain(t, r)

	r, err := s.Send(context.Background(), "two")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	drain(t, r)
	if !errors.Is(r.Err(), boom) {
		t.Fatalf("expected stream error, got %v", r.Err())
	}
	if s.Busy() {
		t.Errorf("session must be idle after failure")
	}
	if got := len(s.History()); got != 2 {
		t.Errorf("expected failed exchange rolled back to 2 turns, got %d", got)
	}
}

func TestSend_OpenFailureRollsBack(t *testing.T) {
	client := &mockClient{openErr: errors.New("offline")}
	s := NewSession(client)
	if _, err := s.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected open error")
	}
	if len(s.History()) != 0 || s.Busy() {
		t.Errorf("expected empty history and idle session after open failure")
	}
}

func TestReply_CloseEarlyAbandons(t *testing.T) {
	stream := &scriptedStream{deltas: []string{"a", "b"}}
	s := NewSession(&mockClient{streams: []*scriptedStream{stream}})
	r, _ := s.Send(context.Background(), "hello")
	r.Next()
	r.Close()
	if !errors.Is(r.Err(), ErrReplyAbandoned) || !stream.closed {
		t.Errorf("expected abandoned reply with closed stream, got %v", r.Err())
	}
	if len(s.History()) != 0 || s.Busy() {
		t.Errorf("abandoned reply must roll back and release")
	}
}

type recordingFinder struct {
	location string
}

func (f *recordingFinder) FindTherapists(ctx context.Context, location string) ([]models.TherapistListing, error) {
	f.location = location
	return []models.TherapistListing{{Name: "Test Clinic"}}, nil
}

func TestReply_FindTherapistRoundTrip(t *testing.T) {
	client := &mockClient{streams: []*scriptedStream{
		{deltas: []string{"Let me look."}, calls: []genai.ToolCall{{ID: "c1", Name: "find_therapist", Arguments: json.RawMessage(`{"location":"Austin, TX"}`)}}},
		{deltas: []string{"Here are some options."}},
	}}
	finder := &recordingFinder{}
	s := NewSession(client,
		WithTherapistFinder(finder),
		WithStatusFormat(func(loc string) string { return "searching " + loc }),
	)

	r, _ := s.Send(context.Background(), "find me a therapist")
	var statuses []string
	for r.Next() {
		statuses = append(statuses, r.Status())
	}
	if r.Err() != nil {
		t.Fatalf("unexpected error: %v", r.Err())
	}
	if finder.location != "Austin, TX" {
		t.Errorf("finder got location %q", finder.location)
	}
	if statuses[len(statuses)-1] != "searching Austin, TX" {
		t.Errorf("expected status line, got %v", statuses)
	}
	if r.Text() != "Let me look.\n\nHere are some options." {
		t.Errorf("unexpected joined text %q", r.Text())
	}

	history := s.History()
	if len(history) != 4 {
		t.Fatalf("expected user, call, result, reply; got %d turns", len(history))
	}
	res := history[2].ToolResult
	if res == nil || res.CallID != "c1" || res.Payload["location"] != "Austin, TX" {
		t.Errorf("unexpected tool result %+v", res)
	}
	if len(client.requests[1].Messages) != 3 {
		t.Errorf("second round must include the tool result, got %d messages", len(client.requests[1].Messages))
	}
}

func TestReply_UnknownToolGetsErrorResult(t *testing.T) {
	client := &mockClient{streams: []*scriptedStream{
		{calls: []genai.ToolCall{{ID: "c1", Name: "launch_rocket"}}},
		{deltas: []string{"Sorry."}},
	}}
	s := NewSession(client)
	r, _ := s.Send(context.Background(), "hi")
	drain(t, r)
	if r.Err() != nil {
		t.Fatalf("unexpected error: %v", r.Err())
	}
	res := s.History()[2].ToolResult
	if res == nil || res.Payload["error"] == nil {
		t.Errorf("expected error payload, got %+v", res)
	}
}

func TestReply_ToolRoundCap(t *testing.T) {
	call := genai.ToolCall{ID: "c", Name: "find_therapist", Arguments: json.RawMessage(`{"location":"x"}`)}
	client := &mockClient{streams: []*scriptedStream{{calls: []genai.ToolCall{call}}, {calls: []genai.ToolCall{call}}}}
	s := NewSession(client, WithMaxToolRounds(2))
	r, _ := s.Send(context.Background(), "loop")
	drain(t, r)
	if !errors.Is(r.Err(), ErrToolRoundsExceeded) {
		t.Fatalf("expected ErrToolRoundsExceeded, got %v", r.Err())
	}
	if len(s.History()) != 0 {
		t.Errorf("expected rollback after exceeding tool rounds")
	}
}

func TestCheckIn_ModelRequestedRoundTrip(t *testing.T) {
	client := &mockClient{streams: []*scriptedStream{
		{deltas: []string{"Let's check in."}, calls: []genai.ToolCall{{ID: "ci", Name: "begin_check_in", Arguments: json.RawMessage(`{}`)}}},
		{deltas: []string{"Thanks for sharing."}},
	}}
	s := NewSession(client)

	r, _ := s.Send(context.Background(), "I feel off")
	drain(t, r)
	if out := r.Outcome(); out.Kind != OutcomeCheckInRequested || out.CallID != "ci" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if id, ok := s.PendingCheckIn(); !ok || id != "ci" {
		t.Fatalf("expected pending check-in ci, got %q %v", id, ok)
	}
	if _, err := s.Send(context.Background(), "more text"); !errors.Is(err, ErrCheckInPending) {
		t.Errorf("expected ErrCheckInPending, got %v", err)
	}

	answers := models.AnswerSet{"feeling_scale": "4-6 (Okay)", "sleep_quality": "Poor"}
	r, err := s.SubmitCheckInResult(context.Background(), "ci", answers)
	if err != nil {
		t.Fatalf("SubmitCheckInResult failed: %v", err)
	}
	drain(t, r)
	if r.Text() != "Thanks for sharing." {
		t.Errorf("unexpected follow-up %q", r.Text())
	}
	history := s.History()
	res := history[2].ToolResult
	if res == nil || res.CallID != "ci" || res.Payload["feeling_scale"] != "4-6 (Okay)" {
		t.Errorf("answers must be passed through unmodified, got %+v", res)
	}
	if _, ok := s.PendingCheckIn(); ok {
		t.Errorf("pending check-in must be cleared")
	}
}

func TestCheckIn_SyntheticCallAndFailedFollowUp(t *testing.T) {
	client := &mockClient{streams: []*scriptedStream{{err: errors.New("server error")}}}
	s := NewSession(client)

	id, err := s.BeginCheckIn()
	if err != nil || !strings.HasPrefix(id, "call_") {
		t.Fatalf("unexpected synthetic call %q %v", id, err)
	}
	again, _ := s.BeginCheckIn()
	if again != id {
		t.Errorf("second BeginCheckIn must reuse the pending call")
	}

	if _, err := s.SubmitCheckInResult(context.Background(), "other", models.AnswerSet{}); !errors.Is(err, ErrNoPendingCheckIn) {
		t.Errorf("expected ErrNoPendingCheckIn for wrong id, got %v", err)
	}

	r, err := s.SubmitCheckInResult(context.Background(), id, models.AnswerSet{"feeling_scale": "9-10 (Great)"})
	if err != nil {
		t.Fatalf("SubmitCheckInResult failed: %v", err)
	}
	drain(t, r)
	if r.Err() == nil {
		t.Fatal("expected follow-up failure")
	}
	history := s.History()
	if len(history) != 2 || history[1].ToolResult == nil {
		t.Errorf("answers must stay in history after a failed follow-up, got %+v", history)
	}
}

func TestSend_AppliesToneInstruction(t *testing.T) {
	client := &mockClient{
		streams:  []*scriptedStream{{deltas: []string{"ok"}}, {deltas: []string{"ok"}}},
		toneJSON: `{"userSentiment":"anxious","suggestedTone":"be gentle"}`,
	}
	s := NewSession(client, WithToneAnalyzer(tone.NewAnalyzer(client)))
	r, _ := s.Send(context.Background(), "I'm worried")
	drain(t, r)
	if got := s.History()[0].Content; got != "(Internal instruction: be gentle) I'm worried" {
		t.Errorf("unexpected outgoing text %q", got)
	}

	client.toneErr = errors.New("quota")
	r, _ = s.Send(context.Background(), "still here")
	drain(t, r)
	if got := s.History()[2].Content; got != "still here" {
		t.Errorf("tone failure must fall back to plain text, got %q", got)
	}
}
