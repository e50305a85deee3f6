package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/Confidant/internal/genai"
	"github.com/BTreeMap/Confidant/internal/models"
)

// OutcomeKind describes how a reply ended.
type OutcomeKind int

const (
	// OutcomeReply means the model finished with text.
	OutcomeReply OutcomeKind = iota
	// OutcomeCheckInRequested means the model invoked begin_check_in.
	OutcomeCheckInRequested
)

// Outcome is the result of a finished reply.
type Outcome struct {
	Kind   OutcomeKind
	CallID string // begin_check_in call id when Kind is OutcomeCheckInRequested
}

// Reply is the pull-based stream of one request. Next advances until the reply is
// finished; after each true return Text holds the accumulated visible text and Status
// the current status line. Replies are consumed by one goroutine.
type Reply struct {
	s    *Session
	ctx  context.Context
	mark int

	stream genai.Stream
	rounds int
	round  strings.Builder // text of the current model round
	text   strings.Builder // visible text across rounds

	status  string
	outcome Outcome
	err     error
	done    bool
}

// Next advances the reply. It returns false once the reply is finished or failed.
func (r *Reply) Next() bool {
	for !r.done {
		if r.stream.Next() {
			delta := r.stream.Current().Text
			if delta == "" {
				continue
			}
			if r.round.Len() == 0 && r.text.Len() > 0 {
				r.text.WriteString("\n\n")
			}
			r.round.WriteString(delta)
			r.text.WriteString(delta)
			return true
		}
		if err := r.stream.Err(); err != nil {
			r.fail(err)
			return false
		}
		statusChanged, err := r.endRound()
		if err != nil {
			r.fail(err)
			return false
		}
		if statusChanged {
			return true
		}
	}
	return false
}

// Text returns the visible text so far.
func (r *Reply) Text() string { return r.text.String() }

// Status returns the status line, empty when none.
func (r *Reply) Status() string { return r.status }

// Outcome returns how the reply ended. Valid after Next returned false with a nil Err.
func (r *Reply) Outcome() Outcome { return r.outcome }

// Err returns the failure, if any.
func (r *Reply) Err() error { return r.err }

// Close releases the reply. Closing an unfinished reply abandons it.
func (r *Reply) Close() error {
	if !r.done {
		r.fail(ErrReplyAbandoned)
	}
	return nil
}

func (r *Reply) startRound() error {
	stream, err := r.s.client.StreamChat(r.ctx, r.s.request())
	if err != nil {
		return err
	}
	r.stream = stream
	r.round.Reset()
	return nil
}

// endRound records the finished model round and dispatches its tool calls. It reports
// whether the status line changed so the caller can surface it.
func (r *Reply) endRound() (bool, error) {
	calls := r.stream.ToolCalls()
	r.stream.Close()
	r.stream = nil

	r.s.mu.Lock()
	r.s.history = append(r.s.history, genai.AssistantMessage(r.round.String(), calls...))
	r.s.mu.Unlock()

	if len(calls) == 0 {
		r.finish(Outcome{Kind: OutcomeReply})
		return false, nil
	}

	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Name)
	}
	slog.Info("Reply.endRound: dispatching tool calls", "tools", names, "round", r.rounds)

	statusChanged := false
	var checkIn *genai.ToolCall
	var results []genai.Message
	for i := range calls {
		call := calls[i]
		switch models.ToolType(call.Name) {
		case models.ToolTypeBeginCheckIn:
			if checkIn != nil {
				results = append(results, errorResult(call, "a check-in is already starting"))
				continue
			}
			checkIn = &call
		case models.ToolTypeFindTherapist:
			result, status := r.findTherapist(call)
			if status != "" && status != r.status {
				r.status = status
				statusChanged = true
			}
			results = append(results, result)
		default:
			slog.Warn("Reply.endRound: unknown tool call", "toolName", call.Name, "toolCallID", call.ID)
			results = append(results, errorResult(call, fmt.Sprintf("unknown tool %q", call.Name)))
		}
	}

	r.s.mu.Lock()
	r.s.history = append(r.s.history, results...)
	if checkIn != nil {
		r.s.pending = checkIn
	}
	r.s.mu.Unlock()

	if checkIn != nil {
		slog.Info("Reply.endRound: model requested a check-in", "callID", checkIn.ID)
		r.finish(Outcome{Kind: OutcomeCheckInRequested, CallID: checkIn.ID})
		return statusChanged, nil
	}

	r.rounds++
	if r.rounds >= r.s.opts.MaxToolRounds {
		return false, fmt.Errorf("%w: %d", ErrToolRoundsExceeded, r.rounds)
	}
	if err := r.startRound(); err != nil {
		return false, err
	}
	return statusChanged, nil
}

func (r *Reply) findTherapist(call genai.ToolCall) (genai.Message, string) {
	params, err := models.ParseFindTherapistParams(call.Arguments)
	if err != nil {
		slog.Warn("Reply.findTherapist: invalid arguments", "error", err, "toolCallID", call.ID)
		return errorResult(call, err.Error()), ""
	}
	status := r.s.opts.StatusFormat(params.Location)
	listings, err := r.s.opts.Finder.FindTherapists(r.ctx, params.Location)
	if err != nil {
		slog.Error("Reply.findTherapist: lookup failed", "error", err, "location", params.Location)
		return errorResult(call, "therapist lookup failed"), status
	}
	slog.Debug("Reply.findTherapist: lookup succeeded", "location", params.Location, "count", len(listings))
	return genai.ToolMessage(genai.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Payload: map[string]any{"location": params.Location, "result": listings},
	}), status
}

func errorResult(call genai.ToolCall, msg string) genai.Message {
	return genai.ToolMessage(genai.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Payload: map[string]any{"error": msg},
	})
}

func (r *Reply) finish(o Outcome) {
	r.outcome = o
	r.done = true
	r.s.inFlight.Store(false)
	slog.Debug("Reply.finish: reply complete", "outcome", o.Kind, "textLength", r.text.Len())
}

func (r *Reply) fail(err error) {
	if r.stream != nil {
		r.stream.Close()
		r.stream = nil
	}
	r.s.rollback(r.mark)
	r.err = err
	r.done = true
	r.s.inFlight.Store(false)
	slog.Error("Reply.fail: reply failed", "error", err)
}
