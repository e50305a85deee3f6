// Package checkin implements the structured check-in questionnaire as a pure state machine.
//
// Transition takes the current state and an event and returns the next state together with
// the effects the caller has to carry out. It performs no I/O and never mutates its input,
// so every step of a check-in can be replayed and tested in isolation.
package checkin

import (
	"errors"
	"fmt"
	"time"

	"github.com/BTreeMap/Confidant/internal/models"
)

// QuestionOrder is the fixed, language-independent order of the check-in questions.
var QuestionOrder = []string{
	"feeling_scale",
	"sleep_quality",
	"stress_level",
	"energy_level",
	"support_system",
}

// DefaultPacingDelay is the pause between an answer and the next question.
const DefaultPacingDelay = 600 * time.Millisecond

// Error variables for rejected transitions.
var (
	ErrCheckInActive    = errors.New("check-in already in progress")
	ErrNotAwaiting      = errors.New("no check-in question is awaiting an answer")
	ErrInvalidOption    = errors.New("option is not offered for the current question")
	ErrUnknownEvent     = errors.New("unknown check-in event")
	ErrQuestionMismatch = errors.New("questionnaire does not match the fixed question order")
)

// Phase is the coarse state of a check-in.
type Phase int

const (
	// PhaseIdle means no check-in is running.
	PhaseIdle Phase = iota
	// PhaseAwaitingAnswer means question Index is presented and unanswered.
	PhaseAwaitingAnswer
	// PhaseCompleted means every question has been answered.
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingAnswer:
		return "awaiting_answer"
	case PhaseCompleted:
		return "completed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is the full check-in state. The zero value is Idle.
type State struct {
	Phase   Phase
	Index   int              // current question while awaiting an answer
	Answers models.AnswerSet // answers collected so far
	CallID  string           // tool call that started the check-in, if any
}

// AcceptsFreeForm reports whether free-form input is allowed in this state.
func (s State) AcceptsFreeForm() bool {
	return s.Phase != PhaseAwaitingAnswer
}

// Questionnaire is the ordered list of questions in one language.
type Questionnaire []models.Question

// Validate ensures the questionnaire follows QuestionOrder and every question is presentable.
func (q Questionnaire) Validate() error {
	if len(q) != len(QuestionOrder) {
		return fmt.Errorf("%w: expected %d questions, got %d", ErrQuestionMismatch, len(QuestionOrder), len(q))
	}
	for i, question := range q {
		if question.ID != QuestionOrder[i] {
			return fmt.Errorf("%w: position %d has %q, expected %q", ErrQuestionMismatch, i, question.ID, QuestionOrder[i])
		}
		if err := question.Validate(); err != nil {
			return fmt.Errorf("question %q: %w", question.ID, err)
		}
	}
	return nil
}

// Event drives a transition.
type Event interface {
	checkInEvent()
}

// Start begins a new check-in. CallID links it to the tool invocation that requested it.
type Start struct {
	CallID string
}

// Answer selects one of the options of the current question.
type Answer struct {
	Option string
}

// Reset abandons any check-in and returns to Idle.
type Reset struct{}

func (Start) checkInEvent()  {}
func (Answer) checkInEvent() {}
func (Reset) checkInEvent()  {}

// Effect is a side effect requested by a transition.
type Effect interface {
	checkInEffect()
}

// DisableInput blocks free-form input.
type DisableInput struct{}

// EnableInput re-allows free-form input.
type EnableInput struct{}

// PresentQuestion shows question Index with its options after Delay.
type PresentQuestion struct {
	Index    int
	Question models.Question
	Delay    time.Duration
}

// RecordAnswer echoes the selected option.
type RecordAnswer struct {
	QuestionID string
	Option     string
}

// TearDownOptions removes the option controls of the answered question.
type TearDownOptions struct{}

// Complete hands the finished answer set back to the conversation.
type Complete struct {
	CallID string
	Result models.AnswerSet
}

func (DisableInput) checkInEffect()    {}
func (EnableInput) checkInEffect()     {}
func (PresentQuestion) checkInEffect() {}
func (RecordAnswer) checkInEffect()    {}
func (TearDownOptions) checkInEffect() {}
func (Complete) checkInEffect()        {}

// Machine holds the static inputs of the transition function.
type Machine struct {
	Questions   Questionnaire
	PacingDelay time.Duration
}

// NewMachine validates the questionnaire and returns a machine using it.
func NewMachine(questions Questionnaire, pacingDelay time.Duration) (Machine, error) {
	if err := questions.Validate(); err != nil {
		return Machine{}, err
	}
	if pacingDelay < 0 {
		pacingDelay = 0
	}
	return Machine{Questions: questions, PacingDelay: pacingDelay}, nil
}

// Transition computes the next state and effects. On error the returned state equals s.
func (m Machine) Transition(s State, e Event) (State, []Effect, error) {
	switch ev := e.(type) {
	case Start:
		return m.start(s, ev)
	case Answer:
		return m.answer(s, ev)
	case Reset:
		return reset(s)
	default:
		return s, nil, fmt.Errorf("%w: %T", ErrUnknownEvent, e)
	}
}

func (m Machine) start(s State, ev Start) (State, []Effect, error) {
	if s.Phase == PhaseAwaitingAnswer {
		return s, nil, ErrCheckInActive
	}
	next := State{
		Phase:   PhaseAwaitingAnswer,
		Index:   0,
		Answers: models.AnswerSet{},
		CallID:  ev.CallID,
	}
	return next, []Effect{
		DisableInput{},
		PresentQuestion{Index: 0, Question: m.Questions[0]},
	}, nil
}

func (m Machine) answer(s State, ev Answer) (State, []Effect, error) {
	if s.Phase != PhaseAwaitingAnswer {
		return s, nil, ErrNotAwaiting
	}
	question := m.Questions[s.Index]
	if !question.HasOption(ev.Option) {
		return s, nil, fmt.Errorf("%w: %q for %s", ErrInvalidOption, ev.Option, question.ID)
	}

	answers := s.Answers.Clone()
	answers[question.ID] = ev.Option
	effects := []Effect{
		RecordAnswer{QuestionID: question.ID, Option: ev.Option},
		TearDownOptions{},
	}

	nextIndex := s.Index + 1
	if nextIndex == len(m.Questions) {
		next := State{Phase: PhaseCompleted, Index: s.Index, Answers: answers, CallID: s.CallID}
		effects = append(effects,
			EnableInput{},
			Complete{CallID: s.CallID, Result: answers.Clone()},
		)
		return next, effects, nil
	}

	next := State{Phase: PhaseAwaitingAnswer, Index: nextIndex, Answers: answers, CallID: s.CallID}
	effects = append(effects, PresentQuestion{Index: nextIndex, Question: m.Questions[nextIndex], Delay: m.PacingDelay})
	return next, effects, nil
}

func reset(s State) (State, []Effect, error) {
	var effects []Effect
	if s.Phase == PhaseAwaitingAnswer {
		effects = append(effects, TearDownOptions{}, EnableInput{})
	}
	return State{}, effects, nil
}
