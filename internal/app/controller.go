// Package app is the application controller of one chat page: an explicit state object,
// a dispatch table from UI events to transitions, and the boundary where effects reach the
// page, the model session and durable storage.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/Confidant/internal/checkin"
	"github.com/BTreeMap/Confidant/internal/conversation"
	"github.com/BTreeMap/Confidant/internal/genai"
	"github.com/BTreeMap/Confidant/internal/i18n"
	"github.com/BTreeMap/Confidant/internal/models"
	"github.com/BTreeMap/Confidant/internal/mood"
	"github.com/BTreeMap/Confidant/internal/store"
	"github.com/BTreeMap/Confidant/internal/tone"
)

// Error variables for better error handling and testability
var (
	ErrBusy              = errors.New("a reply is still in progress")
	ErrCheckInInProgress = errors.New("free-form input is disabled during a check-in")
	ErrUnknownPrompt     = errors.New("not a suggested prompt")
	ErrStaleAnswer       = errors.New("answer is for a question that is not open")
	ErrClosed            = errors.New("controller closed")
)

// ClientFactory creates the model client for a new conversation session.
type ClientFactory func(ctx context.Context) (genai.ClientInterface, error)

// State is everything the controller knows about the page.
type State struct {
	Language string
	Theme    models.Theme
	CheckIn  checkin.State
	Busy     bool
	Epoch    uint64 // bumped whenever the session is replaced
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Table     *i18n.Table
	Store     store.Store
	NewClient ClientFactory
	Sink      Sink
}

// Opts holds optional controller settings.
type Opts struct {
	PacingDelay  time.Duration
	ToneAnalysis bool
	Timer        Timer
	Finder       conversation.TherapistFinder
	Clock        func() time.Time
}

// Option configures a Controller.
type Option func(*Opts)

// WithPacingDelay sets the pause before each follow-up check-in question.
func WithPacingDelay(d time.Duration) Option {
	return func(o *Opts) { o.PacingDelay = d }
}

// WithToneAnalysis enables the sentiment pre-step for new sessions.
func WithToneAnalysis(enabled bool) Option {
	return func(o *Opts) { o.ToneAnalysis = enabled }
}

// WithTimer replaces the pacing timer.
func WithTimer(t Timer) Option {
	return func(o *Opts) { o.Timer = t }
}

// WithTherapistFinder replaces the therapist lookup of new sessions.
func WithTherapistFinder(f conversation.TherapistFinder) Option {
	return func(o *Opts) { o.Finder = f }
}

// WithClock replaces time.Now for mood timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// Controller owns the state of one page. Events are serialized by mu; model replies
// are consumed on background goroutines that re-enter through mu.
type Controller struct {
	id       string
	clientID string
	deps     Deps
	opts     Opts
	handlers map[EventType]handlerFunc

	mu       sync.Mutex
	state    State
	locale   *i18n.Locale
	machine  checkin.Machine
	session  *conversation.Session
	moods    *mood.Log
	pending  string // timer id of a paced question
	msgSeq   int
	closed   bool
	inflight sync.WaitGroup
}

// NewController creates the controller of one page session. Nothing is emitted until
// the init event is dispatched.
func NewController(id, clientID string, initial State, deps Deps, opts ...Option) (*Controller, error) {
	if deps.Table == nil || deps.Store == nil || deps.Sink == nil || deps.NewClient == nil {
		return nil, fmt.Errorf("controller %s: missing dependency", id)
	}
	cfg := Opts{PacingDelay: checkin.DefaultPacingDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timer == nil {
		cfg.Timer = NewSimpleTimer()
	}
	if cfg.Finder == nil {
		cfg.Finder = conversation.StaticTherapistFinder{}
	}
	var moodOpts []mood.Option
	if cfg.Clock != nil {
		moodOpts = append(moodOpts, mood.WithClock(cfg.Clock))
	}

	if !initial.Theme.IsValid() {
		initial.Theme = models.ThemeLight
	}
	loc, err := deps.Table.Lookup(initial.Language)
	if err != nil {
		slog.Warn("NewController: falling back to the default language", "id", id, "error", err)
		loc = deps.Table.Default()
		initial.Language = loc.Code
	}
	machine, err := checkin.NewMachine(loc.Questionnaire(), cfg.PacingDelay)
	if err != nil {
		return nil, fmt.Errorf("controller %s: %w", id, err)
	}

	c := &Controller{
		id:       id,
		clientID: clientID,
		deps:     deps,
		opts:     cfg,
		handlers: dispatchTable(),
		state:    State{Language: initial.Language, Theme: initial.Theme},
		locale:   loc,
		machine:  machine,
		moods:    mood.NewLog(deps.Store, clientID, moodOpts...),
	}
	slog.Debug("app.NewController: controller created", "id", id, "language", c.state.Language, "theme", c.state.Theme)
	return c, nil
}

// ID returns the page session id.
func (c *Controller) ID() string { return c.id }

// ClientID returns the browser client id.
func (c *Controller) ClientID() string { return c.clientID }

// Dispatch applies one UI event.
func (c *Controller) Dispatch(ctx context.Context, ev Event) error {
	h, ok := c.handlers[ev.Type]
	if !ok {
		slog.Warn("Controller.Dispatch: unknown event", "id", c.id, "type", ev.Type)
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	slog.Debug("Controller.Dispatch: handling event", "id", c.id, "type", ev.Type, "phase", c.state.CheckIn.Phase, "busy", c.state.Busy)
	return h(c, ctx, ev)
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.CheckIn.Answers = s.CheckIn.Answers.Clone()
	return s
}

// Snapshot returns the externally visible state.
func (c *Controller) Snapshot() models.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.SessionSnapshot{
		ID:            c.id,
		Language:      c.state.Language,
		Theme:         c.state.Theme,
		CheckInPhase:  c.state.CheckIn.Phase.String(),
		QuestionIndex: c.state.CheckIn.Index,
		QuestionCount: len(c.machine.Questions),
		Busy:          c.state.Busy,
		InputEnabled:  c.inputEnabled(),
	}
}

// History returns the turns of the current conversation session.
func (c *Controller) History() []genai.Message {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.History()
}

// MoodEntries returns the client's mood history.
func (c *Controller) MoodEntries(ctx context.Context) ([]models.MoodEntry, error) {
	return c.moods.ReadAll(ctx)
}

// MoodChartSVG renders the mood trends chart in the current language.
func (c *Controller) MoodChartSVG(ctx context.Context) (string, error) {
	c.mu.Lock()
	loc := c.locale
	c.mu.Unlock()
	data, err := c.moodChart(ctx, loc)
	if err != nil {
		return "", err
	}
	return data.SVG, nil
}

// Wait blocks until background replies have finished.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// Close stops timers and rejects later events. Replies in flight run to completion.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state.Epoch++
	c.mu.Unlock()
	c.opts.Timer.Stop()
	slog.Debug("Controller.Close: controller closed", "id", c.id)
}

func (c *Controller) inputEnabled() bool {
	return !c.state.Busy && c.state.CheckIn.AcceptsFreeForm()
}

func (c *Controller) nextMessageID() string {
	c.msgSeq++
	return fmt.Sprintf("m%d", c.msgSeq)
}

func (c *Controller) emitMessage(role, text string) string {
	id := c.nextMessageID()
	c.deps.Sink.Emit(EffectAppendMessage, MessageData{ID: id, Role: role, Text: text})
	return id
}

func (c *Controller) emitInput() {
	c.deps.Sink.Emit(EffectInputEnabled, InputEnabledData{Enabled: c.inputEnabled()})
}

func (c *Controller) emitTranslations() {
	loc := c.locale
	moods := make([]MoodOption, 0, len(mood.Labels))
	for _, label := range mood.Labels {
		moods = append(moods, MoodOption{Label: label, Display: loc.MoodLabel(label)})
	}
	var languages []LanguageOption
	for _, code := range c.deps.Table.Codes() {
		if l, err := c.deps.Table.Lookup(code); err == nil {
			languages = append(languages, LanguageOption{Code: code, Name: l.Name})
		}
	}
	strs := make(map[string]string, len(loc.UI))
	for k, v := range loc.UI {
		strs[k] = v
	}
	c.deps.Sink.Emit(EffectTranslations, TranslationsData{
		Language:         loc.Code,
		Strings:          strs,
		Moods:            moods,
		SuggestedPrompts: append([]string(nil), loc.SuggestedPrompts...),
		Languages:        languages,
	})
}

// resetSession discards the conversation and check-in, then creates a new session in
// the current language and starts the check-in. The caller holds mu.
func (c *Controller) resetSession(ctx context.Context) {
	c.state.Epoch++
	if c.pending != "" {
		c.opts.Timer.Cancel(c.pending)
		c.pending = ""
	}
	next, effects, _ := c.machine.Transition(c.state.CheckIn, checkin.Reset{})
	c.state.CheckIn = next
	c.applyEffects(ctx, effects)

	machine, err := checkin.NewMachine(c.locale.Questionnaire(), c.opts.PacingDelay)
	if err != nil {
		// Locales are validated at load time.
		slog.Error("Controller.resetSession: invalid questionnaire", "id", c.id, "language", c.state.Language, "error", err)
		return
	}
	c.machine = machine

	c.session = nil
	client, err := c.deps.NewClient(context.WithoutCancel(ctx))
	if err != nil {
		slog.Error("Controller.resetSession: model client unavailable", "id", c.id, "error", err)
		id := c.emitMessage(RoleModel, "")
		c.emitFailure(id, genai.CategoryInitFailure)
		c.emitInput()
		return
	}

	opts := []conversation.Option{
		conversation.WithSystemPrompt(c.locale.SystemPrompt),
		conversation.WithTherapistFinder(c.opts.Finder),
		conversation.WithStatusFormat(func(location string) string {
			return c.locale.Format("therapist_status", "location", location)
		}),
	}
	if c.opts.ToneAnalysis {
		opts = append(opts, conversation.WithToneAnalyzer(tone.NewAnalyzer(client)))
	}
	c.session = conversation.NewSession(client, opts...)
	slog.Info("Controller.resetSession: conversation session ready", "id", c.id, "language", c.state.Language, "epoch", c.state.Epoch)

	callID, err := c.session.BeginCheckIn()
	if err != nil {
		slog.Error("Controller.resetSession: could not begin check-in", "id", c.id, "error", err)
		c.emitInput()
		return
	}
	if err := c.startCheckIn(ctx, callID); err != nil {
		slog.Error("Controller.resetSession: check-in did not start", "id", c.id, "error", err)
	}
}

func (c *Controller) startCheckIn(ctx context.Context, callID string) error {
	next, effects, err := c.machine.Transition(c.state.CheckIn, checkin.Start{CallID: callID})
	if err != nil {
		return err
	}
	c.state.CheckIn = next
	slog.Info("Controller.startCheckIn: check-in started", "id", c.id, "callID", callID)
	c.applyEffects(ctx, effects)
	return nil
}

// applyEffects carries check-in effects to the page and the session. The caller holds mu.
func (c *Controller) applyEffects(ctx context.Context, effects []checkin.Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case checkin.DisableInput:
			c.deps.Sink.Emit(EffectInputEnabled, InputEnabledData{Enabled: false})
		case checkin.EnableInput:
			c.emitInput()
		case checkin.PresentQuestion:
			c.presentQuestion(e)
		case checkin.RecordAnswer:
			c.emitMessage(RoleUser, e.Option)
		case checkin.TearDownOptions:
			c.deps.Sink.Emit(EffectClearOptions, struct{}{})
		case checkin.Complete:
			c.submitCheckIn(ctx, e)
		default:
			slog.Warn("Controller.applyEffects: unhandled effect", "id", c.id, "effect", fmt.Sprintf("%T", eff))
		}
	}
}

func (c *Controller) presentQuestion(p checkin.PresentQuestion) {
	show := func() {
		c.emitMessage(RoleModel, p.Question.Text)
		c.deps.Sink.Emit(EffectShowOptions, OptionsData{
			QuestionID: p.Question.ID,
			Index:      p.Index,
			Count:      len(c.machine.Questions),
			Options:    append([]string(nil), p.Question.Options...),
		})
	}
	if p.Delay <= 0 {
		show()
		return
	}
	epoch := c.state.Epoch
	id, err := c.opts.Timer.ScheduleAfter(p.Delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		cs := c.state.CheckIn
		if c.closed || c.state.Epoch != epoch || cs.Phase != checkin.PhaseAwaitingAnswer || cs.Index != p.Index {
			slog.Debug("Controller.presentQuestion: dropping stale question", "id", c.id, "index", p.Index)
			return
		}
		c.pending = ""
		show()
	})
	if err != nil {
		slog.Warn("Controller.presentQuestion: timer failed, presenting immediately", "id", c.id, "error", err)
		show()
		return
	}
	c.pending = id
}

func (c *Controller) submitCheckIn(ctx context.Context, done checkin.Complete) {
	if c.session == nil {
		slog.Warn("Controller.submitCheckIn: no session for completed check-in", "id", c.id)
		return
	}
	session := c.session
	if callID, ok := session.PendingCheckIn(); !ok || callID != done.CallID {
		slog.Warn("Controller.submitCheckIn: session is not waiting for this check-in", "id", c.id, "callID", done.CallID, "pending", callID)
		return
	}
	msgID := c.emitMessage(RoleModel, "")
	c.run(msgID, func() (*conversation.Reply, error) {
		return session.SubmitCheckInResult(context.WithoutCancel(ctx), done.CallID, done.Result)
	})
}

// send forwards free-form text to the session. The caller holds mu.
func (c *Controller) send(ctx context.Context, text string, offline bool) error {
	if !c.state.CheckIn.AcceptsFreeForm() {
		return ErrCheckInInProgress
	}
	if c.state.Busy || (c.session != nil && c.session.Busy()) {
		return ErrBusy
	}
	if err := validateText(text); err != nil {
		return err
	}

	c.emitMessage(RoleUser, text)
	msgID := c.emitMessage(RoleModel, "")
	if offline {
		slog.Info("Controller.send: client reports offline", "id", c.id)
		c.emitFailure(msgID, genai.CategoryOffline)
		return nil
	}
	if c.session == nil {
		c.emitFailure(msgID, genai.CategoryInitFailure)
		return nil
	}
	session := c.session
	c.run(msgID, func() (*conversation.Reply, error) {
		return session.Send(context.WithoutCancel(ctx), text)
	})
	return nil
}

// run marks the page busy and opens and consumes a reply on a background goroutine.
// The caller holds mu.
func (c *Controller) run(msgID string, open func() (*conversation.Reply, error)) {
	epoch := c.state.Epoch
	c.state.Busy = true
	c.emitInput()
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		reply, err := open()
		if err != nil {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.finishReply(epoch, msgID, nil, err)
			return
		}
		c.consume(reply, msgID, epoch)
	}()
}

// consume renders every chunk of reply as it arrives, then settles the outcome.
func (c *Controller) consume(reply *conversation.Reply, msgID string, epoch uint64) {
	defer reply.Close()
	for reply.Next() {
		c.mu.Lock()
		if c.state.Epoch == epoch {
			c.deps.Sink.Emit(EffectUpdateMessage, MessageData{ID: msgID, Text: reply.Text(), Status: reply.Status()})
		}
		c.mu.Unlock()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishReply(epoch, msgID, reply, reply.Err())
}

// finishReply settles a reply. The caller holds mu.
func (c *Controller) finishReply(epoch uint64, msgID string, reply *conversation.Reply, err error) {
	if c.state.Epoch != epoch {
		slog.Debug("Controller.finishReply: dropping reply of a replaced session", "id", c.id, "messageID", msgID)
		return
	}
	c.state.Busy = false
	if err != nil {
		c.emitFailure(msgID, genai.Classify(err, false))
		c.emitInput()
		return
	}
	if reply.Outcome().Kind == conversation.OutcomeCheckInRequested {
		if err := c.startCheckIn(context.Background(), reply.Outcome().CallID); err != nil {
			slog.Warn("Controller.finishReply: model requested a check-in that could not start", "id", c.id, "error", err)
			c.emitInput()
		}
		return
	}
	c.emitInput()
}

func (c *Controller) emitFailure(msgID string, category genai.ErrorCategory) {
	text := c.locale.T(category.MessageKey())
	slog.Info("Controller.emitFailure: showing failure", "id", c.id, "messageID", msgID, "category", category)
	c.deps.Sink.Emit(EffectMessageError, MessageErrorData{ID: msgID, Category: string(category), Text: text})
}

func (c *Controller) moodChart(ctx context.Context, loc *i18n.Locale) (MoodChartData, error) {
	entries, err := c.moods.ReadAll(ctx)
	if err != nil {
		return MoodChartData{}, err
	}
	chart := mood.BuildChart(entries, loc.MoodLabel)
	return MoodChartData{
		Title: loc.T("mood_chart_title"),
		SVG:   mood.RenderSVG(chart, loc.T("mood_chart_empty")),
		Bars:  len(chart.Bars),
		Empty: chart.Empty,
	}, nil
}

func validateText(text string) error {
	if len(text) == 0 {
		return models.ErrEmptyMessage
	}
	if len(text) > models.MaxMessageLength {
		return models.ErrMessageTooLong
	}
	return nil
}
