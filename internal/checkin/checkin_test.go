package checkin

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/BTreeMap/Confidant/internal/models"
)

func testQuestionnaire() Questionnaire {
	q := make(Questionnaire, 0, len(QuestionOrder))
	for _, id := range QuestionOrder {
		q = append(q, models.Question{
			ID:      id,
			Text:    "question " + id,
			Options: []string{"1-3 (Very Low)", "4-6 (Okay)", "7-10 (Good)"},
		})
	}
	return q
}

func newTestMachine(t *testing.T) Machine {
	t.Helper()
	m, err := NewMachine(testQuestionnaire(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewMachine failed: %v", err)
	}
	return m
}

func TestNewMachine_RejectsWrongOrder(t *testing.T) {
	q := testQuestionnaire()
	q[0], q[1] = q[1], q[0]
	if _, err := NewMachine(q, 0); !errors.Is(err, ErrQuestionMismatch) {
		t.Fatalf("expected ErrQuestionMismatch, got %v", err)
	}
}

func TestNewMachine_RejectsMissingQuestion(t *testing.T) {
	q := testQuestionnaire()[:len(QuestionOrder)-1]
	if _, err := NewMachine(q, 0); !errors.Is(err, ErrQuestionMismatch) {
		t.Fatalf("expected ErrQuestionMismatch, got %v", err)
	}
}

func TestStart_FromIdlePresentsFirstQuestion(t *testing.T) {
	m := newTestMachine(t)
	next, effects, err := m.Transition(State{}, Start{CallID: "call_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Phase != PhaseAwaitingAnswer || next.Index != 0 || next.CallID != "call_1" {
		t.Fatalf("unexpected state: %+v", next)
	}
	if len(effects) != 2 {
		t.Fatalf("expected 2 effects, got %d: %#v", len(effects), effects)
	}
	if _, ok := effects[0].(DisableInput); !ok {
		t.Errorf("expected DisableInput first, got %T", effects[0])
	}
	present, ok := effects[1].(PresentQuestion)
	if !ok {
		t.Fatalf("expected PresentQuestion, got %T", effects[1])
	}
	if present.Index != 0 || present.Question.ID != QuestionOrder[0] || present.Delay != 0 {
		t.Errorf("unexpected first question effect: %+v", present)
	}
}

func TestStart_WhileAwaitingIsRejected(t *testing.T) {
	m := newTestMachine(t)
	s, _, _ := m.Transition(State{}, Start{})
	next, effects, err := m.Transition(s, Start{})
	if !errors.Is(err, ErrCheckInActive) {
		t.Fatalf("expected ErrCheckInActive, got %v", err)
	}
	if effects != nil || !reflect.DeepEqual(next, s) {
		t.Errorf("rejected start must not change state: %+v", next)
	}
}

func TestStart_AfterCompletedBeginsFresh(t *testing.T) {
	m := newTestMachine(t)
	s := runToCompletion(t, m, "1-3 (Very Low)")
	next, _, err := m.Transition(s, Start{CallID: "again"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Phase != PhaseAwaitingAnswer || next.Index != 0 || len(next.Answers) != 0 {
		t.Errorf("expected fresh check-in, got %+v", next)
	}
}

func TestAnswer_AdvancesWithPacingDelay(t *testing.T) {
	m := newTestMachine(t)
	s, _, _ := m.Transition(State{}, Start{})
	next, effects, err := m.Transition(s, Answer{Option: "4-6 (Okay)"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Index != 1 || next.Answers["feeling_scale"] != "4-6 (Okay)" {
		t.Fatalf("unexpected state after first answer: %+v", next)
	}
	if len(effects) != 3 {
		t.Fatalf("expected 3 effects, got %#v", effects)
	}
	if rec, ok := effects[0].(RecordAnswer); !ok || rec.QuestionID != "feeling_scale" || rec.Option != "4-6 (Okay)" {
		t.Errorf("unexpected record effect: %#v", effects[0])
	}
	if _, ok := effects[1].(TearDownOptions); !ok {
		t.Errorf("expected TearDownOptions, got %T", effects[1])
	}
	present, ok := effects[2].(PresentQuestion)
	if !ok || present.Index != 1 || present.Delay != 10*time.Millisecond {
		t.Errorf("unexpected present effect: %#v", effects[2])
	}
}

func TestAnswer_DoesNotMutateInputState(t *testing.T) {
	m := newTestMachine(t)
	s, _, _ := m.Transition(State{}, Start{})
	before := s.Answers.Clone()
	if _, _, err := m.Transition(s, Answer{Option: "4-6 (Okay)"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(before, s.Answers) {
		t.Errorf("input answers mutated: %v", s.Answers)
	}
}

func TestAnswer_InvalidOptionLeavesStateUnchanged(t *testing.T) {
	m := newTestMachine(t)
	s, _, _ := m.Transition(State{}, Start{})
	next, effects, err := m.Transition(s, Answer{Option: "not an option"})
	if !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}
	if effects != nil || next.Index != 0 || len(next.Answers) != 0 {
		t.Errorf("state changed on invalid option: %+v", next)
	}
}

func TestAnswer_WhenIdleIsRejected(t *testing.T) {
	m := newTestMachine(t)
	if _, _, err := m.Transition(State{}, Answer{Option: "4-6 (Okay)"}); !errors.Is(err, ErrNotAwaiting) {
		t.Fatalf("expected ErrNotAwaiting, got %v", err)
	}
}

func TestCompletedCheckIn_HasOneAnswerPerQuestionInOrder(t *testing.T) {
	m := newTestMachine(t)
	s, _, _ := m.Transition(State{}, Start{CallID: "call_9"})

	var recorded []string
	var complete *Complete
	for i := range QuestionOrder {
		option := m.Questions[i].Options[i%len(m.Questions[i].Options)]
		next, effects, err := m.Transition(s, Answer{Option: option})
		if err != nil {
			t.Fatalf("answer %d failed: %v", i, err)
		}
		for _, eff := range effects {
			switch e := eff.(type) {
			case RecordAnswer:
				recorded = append(recorded, e.QuestionID)
			case Complete:
				c := e
				complete = &c
			}
		}
		s = next
	}

	if s.Phase != PhaseCompleted {
		t.Fatalf("expected completed phase, got %v", s.Phase)
	}
	if !reflect.DeepEqual(recorded, QuestionOrder) {
		t.Errorf("answers recorded out of order: %v", recorded)
	}
	if complete == nil {
		t.Fatal("expected Complete effect on last answer")
	}
	if complete.CallID != "call_9" {
		t.Errorf("expected call id to be carried, got %q", complete.CallID)
	}
	if len(complete.Result) != len(QuestionOrder) {
		t.Errorf("expected %d answers, got %d", len(QuestionOrder), len(complete.Result))
	}
	for i, id := range QuestionOrder {
		want := m.Questions[i].Options[i%len(m.Questions[i].Options)]
		if complete.Result[id] != want {
			t.Errorf("answer for %s: expected %q, got %q", id, want, complete.Result[id])
		}
	}
	if !s.AcceptsFreeForm() {
		t.Error("completed check-in must accept free-form input")
	}
}

func TestCompletedCheckIn_ResultIsCopy(t *testing.T) {
	m := newTestMachine(t)
	s, _, _ := m.Transition(State{}, Start{})
	var result models.AnswerSet
	for range QuestionOrder {
		next, effects, err := m.Transition(s, Answer{Option: "1-3 (Very Low)"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, eff := range effects {
			if c, ok := eff.(Complete); ok {
				result = c.Result
			}
		}
		s = next
	}
	result["feeling_scale"] = "tampered"
	if s.Answers["feeling_scale"] != "1-3 (Very Low)" {
		t.Errorf("state answers share storage with completion result")
	}
}

func TestAnswer_AfterCompletedIsRejected(t *testing.T) {
	m := newTestMachine(t)
	s := runToCompletion(t, m, "7-10 (Good)")
	if _, _, err := m.Transition(s, Answer{Option: "7-10 (Good)"}); !errors.Is(err, ErrNotAwaiting) {
		t.Fatalf("expected ErrNotAwaiting after completion, got %v", err)
	}
}

func TestReset_FromAwaitingReturnsToIdle(t *testing.T) {
	m := newTestMachine(t)
	s, _, _ := m.Transition(State{}, Start{})
	s, _, _ = m.Transition(s, Answer{Option: "4-6 (Okay)"})
	next, effects, err := m.Transition(s, Reset{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Phase != PhaseIdle || len(next.Answers) != 0 || next.Index != 0 {
		t.Errorf("expected idle state, got %+v", next)
	}
	if len(effects) != 2 {
		t.Errorf("expected tear down and enable effects, got %#v", effects)
	}
}

func TestReset_FromIdleHasNoEffects(t *testing.T) {
	m := newTestMachine(t)
	_, effects, err := m.Transition(State{}, Reset{})
	if err != nil || len(effects) != 0 {
		t.Errorf("expected no effects, got %#v (err %v)", effects, err)
	}
}

func TestAcceptsFreeForm(t *testing.T) {
	if !(State{}).AcceptsFreeForm() {
		t.Error("idle must accept free-form input")
	}
	if (State{Phase: PhaseAwaitingAnswer}).AcceptsFreeForm() {
		t.Error("awaiting answer must reject free-form input")
	}
}

func runToCompletion(t *testing.T, m Machine, option string) State {
	t.Helper()
	s, _, err := m.Transition(State{}, Start{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for range QuestionOrder {
		s, _, err = m.Transition(s, Answer{Option: option})
		if err != nil {
			t.Fatalf("answer failed: %v", err)
		}
	}
	return s
}
