// Package conversation owns one conversation with the model: the turn history, the
// streamed reply of the single outstanding request, and dispatch of the tool calls the
// model emits at the end of a turn.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/BTreeMap/Confidant/internal/genai"
	"github.com/BTreeMap/Confidant/internal/models"
	"github.com/BTreeMap/Confidant/internal/tone"
)

// DefaultMaxToolRounds bounds how many tool round trips one reply may take.
const DefaultMaxToolRounds = 3

// Error variables for better error handling and testability
var (
	ErrRequestInFlight    = errors.New("a reply is already in progress")
	ErrCheckInPending     = errors.New("a check-in is waiting for its result")
	ErrNoPendingCheckIn   = errors.New("no check-in is waiting for a result")
	ErrToolRoundsExceeded = errors.New("too many tool round trips in one reply")
	ErrReplyAbandoned     = errors.New("reply closed before completion")
)

// Options holds the optional collaborators of a Session.
type Options struct {
	SystemPrompt  string
	Finder        TherapistFinder
	Analyzer      *tone.Analyzer
	StatusFormat  func(location string) string
	MaxToolRounds int
}

// Option configures a Session.
type Option func(*Options)

// WithSystemPrompt sets the persona prompt.
func WithSystemPrompt(p string) Option {
	return func(o *Options) { o.SystemPrompt = p }
}

// WithTherapistFinder replaces the therapist lookup.
func WithTherapistFinder(f TherapistFinder) Option {
	return func(o *Options) { o.Finder = f }
}

// WithToneAnalyzer enables the sentiment pre-step.
func WithToneAnalyzer(a *tone.Analyzer) Option {
	return func(o *Options) { o.Analyzer = a }
}

// WithStatusFormat sets how the therapist lookup status line is rendered.
func WithStatusFormat(f func(location string) string) Option {
	return func(o *Options) { o.StatusFormat = f }
}

// WithMaxToolRounds overrides DefaultMaxToolRounds.
func WithMaxToolRounds(n int) Option {
	return func(o *Options) { o.MaxToolRounds = n }
}

// Session is one conversation. It allows a single outstanding reply at a time.
type Session struct {
	client genai.ClientInterface
	opts   Options
	tools  []genai.ToolDefinition

	inFlight atomic.Bool

	mu      sync.Mutex
	history []genai.Message
	pending *genai.ToolCall // begin_check_in call awaiting its result
}

// NewSession creates an empty session.
func NewSession(client genai.ClientInterface, opts ...Option) *Session {
	cfg := Options{
		Finder:        StaticTherapistFinder{},
		MaxToolRounds: DefaultMaxToolRounds,
		StatusFormat: func(location string) string {
			return fmt.Sprintf("Looking for therapists near %s...", location)
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	slog.Debug("conversation.NewSession: session created", "toneAnalysis", cfg.Analyzer != nil, "maxToolRounds", cfg.MaxToolRounds)
	return &Session{client: client, opts: cfg, tools: ToolDefinitions()}
}

// History returns a copy of the turns so far.
func (s *Session) History() []genai.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]genai.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Busy reports whether a reply is open.
func (s *Session) Busy() bool {
	return s.inFlight.Load()
}

// PendingCheckIn returns the id of the begin_check_in call awaiting a result.
func (s *Session) PendingCheckIn() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return "", false
	}
	return s.pending.ID, true
}

// Send transmits user text and opens the streamed reply.
func (s *Session) Send(ctx context.Context, text string) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.ErrEmptyMessage
	}
	if len(text) > models.MaxMessageLength {
		return nil, models.ErrMessageTooLong
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrRequestInFlight
	}

	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		s.inFlight.Store(false)
		return nil, ErrCheckInPending
	}
	snapshot := append([]genai.Message(nil), s.history...)
	s.mu.Unlock()

	outgoing := text
	if s.opts.Analyzer != nil {
		analysis, err := s.opts.Analyzer.Analyze(ctx, snapshot, text)
		if err != nil {
			slog.Debug("Session.Send: proceeding without tone hint", "error", err)
		} else {
			outgoing = tone.ApplyInstruction(analysis.SuggestedTone, text)
		}
	}

	s.mu.Lock()
	mark := len(s.history)
	s.history = append(s.history, genai.UserMessage(outgoing))
	s.mu.Unlock()
	slog.Debug("Session.Send: user turn appended", "historyLength", mark+1, "toneApplied", outgoing != text)

	return s.open(ctx, mark)
}

// BeginCheckIn registers a begin_check_in call made on the user's behalf, for check-ins
// the model did not request. If a call is already pending its id is returned.
func (s *Session) BeginCheckIn() (string, error) {
	if s.inFlight.Load() {
		return "", ErrRequestInFlight
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return s.pending.ID, nil
	}
	call := genai.ToolCall{
		ID:        "call_" + uuid.NewString(),
		Name:      string(models.ToolTypeBeginCheckIn),
		Arguments: json.RawMessage("{}"),
	}
	s.history = append(s.history, genai.AssistantMessage("", call))
	s.pending = &call
	slog.Debug("Session.BeginCheckIn: synthetic check-in call recorded", "callID", call.ID)
	return call.ID, nil
}

// SubmitCheckInResult answers the pending begin_check_in call with the collected answers,
// unmodified, and opens the follow-up reply. callID may be empty to answer whichever call is pending.
func (s *Session) SubmitCheckInResult(ctx context.Context, callID string, answers models.AnswerSet) (*Reply, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrRequestInFlight
	}
	s.mu.Lock()
	if s.pending == nil || (callID != "" && s.pending.ID != callID) {
		s.mu.Unlock()
		s.inFlight.Store(false)
		return nil, fmt.Errorf("%w: %q", ErrNoPendingCheckIn, callID)
	}
	result := genai.ToolResult{CallID: s.pending.ID, Name: s.pending.Name, Payload: answers.Payload()}
	s.history = append(s.history, genai.ToolMessage(result))
	s.pending = nil
	// The answered call is a completed exchange; only the follow-up is rolled back on failure.
	mark := len(s.history)
	s.mu.Unlock()
	slog.Info("Session.SubmitCheckInResult: check-in result submitted", "callID", result.CallID, "answers", len(answers))

	return s.open(ctx, mark)
}

// open starts a model stream over the current history. The caller holds inFlight.
func (s *Session) open(ctx context.Context, mark int) (*Reply, error) {
	r := &Reply{s: s, ctx: ctx, mark: mark}
	if err := r.startRound(); err != nil {
		r.fail(err)
		return nil, err
	}
	return r, nil
}

func (s *Session) request() genai.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return genai.ChatRequest{
		SystemPrompt: s.opts.SystemPrompt,
		Messages:     append([]genai.Message(nil), s.history...),
		Tools:        s.tools,
	}
}

func (s *Session) rollback(mark int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mark < len(s.history) {
		slog.Debug("Session.rollback: discarding incomplete turns", "removed", len(s.history)-mark)
		s.history = s.history[:mark]
	}
}
