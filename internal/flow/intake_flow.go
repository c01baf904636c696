package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakeDesk/internal/brain"
	"github.com/BTreeMap/IntakeDesk/internal/extract"
	"github.com/BTreeMap/IntakeDesk/internal/intake"
	"github.com/BTreeMap/IntakeDesk/internal/intent"
	"github.com/BTreeMap/IntakeDesk/internal/models"
	"github.com/BTreeMap/IntakeDesk/internal/notify"
	"github.com/BTreeMap/IntakeDesk/internal/security"
	"github.com/BTreeMap/IntakeDesk/internal/store"
	"github.com/BTreeMap/IntakeDesk/internal/util"
)

// recentUserTurns is how many prior user messages the classifier sees.
const recentUserTurns = 3

// Opts holds IntakeFlow configuration.
type Opts struct {
	Thresholds        intake.Thresholds
	SessionTTL        time.Duration
	Now               func() time.Time
	IntentSemantic    intent.Semantic
	SemanticThreshold float64
	Extractor         extract.Extractor
	Reasoner          brain.Semantic
	Summarizer        Summarizer
	Notifier          notify.Notifier
}

// Option configures an IntakeFlow.
type Option func(*Opts)

// WithThresholds overrides the confidence thresholds.
func WithThresholds(t intake.Thresholds) Option {
	return func(o *Opts) { o.Thresholds = t }
}

// WithSessionTTL sets the inactivity timeout.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = ttl }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithIntentClassifier plugs in a semantic intent classifier.
func WithIntentClassifier(s intent.Semantic, threshold float64) Option {
	return func(o *Opts) {
		o.IntentSemantic = s
		o.SemanticThreshold = threshold
	}
}

// WithExtractor plugs in a semantic field extractor.
func WithExtractor(e extract.Extractor) Option {
	return func(o *Opts) { o.Extractor = e }
}

// WithReasoner plugs in a semantic reasoner.
func WithReasoner(r brain.Semantic) Option {
	return func(o *Opts) { o.Reasoner = r }
}

// WithSummarizer plugs in a semantic ticket summarizer.
func WithSummarizer(s Summarizer) Option {
	return func(o *Opts) { o.Summarizer = s }
}

// WithNotifier sets the ticket notifier. Without one tickets are only logged.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// IntakeFlow runs conversation turns. It is safe for concurrent use; turns of one session are
// serialized and turns of different sessions run in parallel.
type IntakeFlow struct {
	store      store.Store
	sessions   *SessionManager
	locks      *sessionLocks
	thresholds intake.Thresholds
	scanner    *security.Scanner
	classifier *intent.Classifier
	reasoner   *brain.Reasoner
	extractor  *extract.Cascade
	merger     *intake.Engine
	machine    *StateMachine
	gate       *SubmissionGate
	summarizer Summarizer
	notifier   notify.Notifier
}

// NewIntakeFlow wires the pipeline over st.
func NewIntakeFlow(st store.Store, opts ...Option) (*IntakeFlow, error) {
	o := Opts{Thresholds: intake.DefaultThresholds(), SemanticThreshold: intent.DefaultSemanticThreshold}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if o.Notifier == nil {
		o.Notifier = notify.LogNotifier{}
	}
	sessions := NewSessionManager(st, o.SessionTTL, o.Now)
	return &IntakeFlow{
		store:      st,
		sessions:   sessions,
		locks:      newSessionLocks(),
		thresholds: o.Thresholds,
		scanner:    security.NewScanner(),
		classifier: intent.NewClassifier(o.IntentSemantic, intent.WithSemanticThreshold(o.SemanticThreshold)),
		reasoner:   brain.NewReasoner(o.Reasoner),
		extractor:  extract.NewCascade(o.Extractor, extract.NewRuleExtractor()),
		merger:     intake.NewEngine(o.Thresholds),
		machine:    NewStateMachine(),
		gate:       NewSubmissionGate(o.Thresholds),
		summarizer: o.Summarizer,
		notifier:   o.Notifier,
	}, nil
}

// Sessions exposes the session manager.
func (f *IntakeFlow) Sessions() *SessionManager {
	return f.sessions
}

// Greeting is the first assistant message of every session.
const Greeting = "Hi! I'm the IT helpdesk assistant. I'll collect a few details and open a ticket for you."

// StartSession creates a session and returns the greeting turn. id may be empty.
func (f *IntakeFlow) StartSession(ctx context.Context, id string, user models.UserContext) (models.TurnResponse, error) {
	if id != "" {
		release, err := f.locks.acquire(ctx, id)
		if err != nil {
			return models.TurnResponse{}, err
		}
		defer release()
		if _, err := f.sessions.Load(id); err == nil {
			return models.TurnResponse{}, fmt.Errorf("%w: session %s already exists", models.ErrInvalidInput, id)
		}
	}
	s, err := f.sessions.Create(id, user)
	if err != nil {
		return models.TurnResponse{}, err
	}
	return f.greet(s)
}

func (f *IntakeFlow) greet(s *models.SessionState) (models.TurnResponse, error) {
	now := f.sessions.Now()
	question := brain.Question(models.FieldProblem)
	text := Greeting + " " + question
	s.LastBotQuestion = question
	s.LastExpectedField = models.FieldProblem
	s.Append(models.RoleAssistant, text, now)
	f.sessions.Touch(s)
	if err := f.sessions.Save(s); err != nil {
		return models.TurnResponse{}, err
	}
	f.appendLog(s.SessionID, s.MessageHistory[len(s.MessageHistory)-1])
	return models.TurnResponse{
		SessionID:         s.SessionID,
		Message:           text,
		Type:              models.ResponseQuestion,
		ConversationState: s.ConversationState,
	}, nil
}

// GetSession returns a snapshot of the session.
func (f *IntakeFlow) GetSession(ctx context.Context, id string) (*models.SessionState, error) {
	release, err := f.locks.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()
	return f.sessions.Load(id)
}

// DeleteSession removes a session once any in-flight turn has finished.
func (f *IntakeFlow) DeleteSession(ctx context.Context, id string) error {
	release, err := f.locks.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	if err := f.sessions.Delete(id); err != nil {
		return err
	}
	slog.Info("IntakeFlow.DeleteSession: session deleted", "sessionID", id)
	return nil
}

// ProcessMessage runs one turn for an existing session.
func (f *IntakeFlow) ProcessMessage(ctx context.Context, sessionID string, req models.MessageRequest) (models.TurnResponse, error) {
	return f.process(ctx, sessionID, req, nil)
}

// ProcessOrStart runs one turn, creating the session first when it does not exist. Channels
// without an explicit session creation step, such as WhatsApp, use it.
func (f *IntakeFlow) ProcessOrStart(ctx context.Context, sessionID string, user models.UserContext, req models.MessageRequest) (models.TurnResponse, error) {
	return f.process(ctx, sessionID, req, &user)
}

func (f *IntakeFlow) process(ctx context.Context, sessionID string, req models.MessageRequest, createAs *models.UserContext) (models.TurnResponse, error) {
	if err := req.Validate(); err != nil {
		return models.TurnResponse{}, err
	}

	release, err := f.locks.acquire(ctx, sessionID)
	if err != nil {
		return models.TurnResponse{}, err
	}
	defer release()

	var current *models.SessionState
	if createAs != nil {
		current, _, err = f.sessions.LoadOrCreate(sessionID, *createAs)
	} else {
		current, err = f.sessions.Load(sessionID)
	}
	if err != nil {
		return models.TurnResponse{}, err
	}

	if req.MessageID != "" {
		isNew, err := f.store.RecordInbound(req.MessageID, sessionID)
		if err != nil {
			slog.Warn("IntakeFlow.ProcessMessage: dedup record failed, processing anyway", "sessionID", sessionID, "error", err)
		} else if !isNew {
			slog.Info("IntakeFlow.ProcessMessage: duplicate message ignored", "sessionID", sessionID, "messageID", req.MessageID)
			return replay(current), nil
		}
	}

	t := &turn{flow: f, ctx: ctx, before: current, work: current.Clone(), message: req.Message, now: f.sessions.Now()}
	resp := t.run()

	f.sessions.Touch(t.work)
	if err := f.sessions.Save(t.work); err != nil {
		if t.work.ConversationState == models.StateSubmitted && current.ConversationState != models.StateSubmitted {
			// The ticket exists; losing the session write must not hide the reference.
			slog.Error("IntakeFlow.ProcessMessage: session save failed after submission", "sessionID", sessionID, "error", err)
			resp.Warning = joinWarning(resp.Warning, "Your ticket was created but the conversation could not be saved.")
			return resp, nil
		}
		slog.Error("IntakeFlow.ProcessMessage: session save failed, turn rolled back", "sessionID", sessionID, "error", err)
		if req.MessageID != "" {
			if ferr := f.store.ForgetInbound(req.MessageID); ferr != nil {
				slog.Warn("IntakeFlow.ProcessMessage: dedup release failed", "messageID", req.MessageID, "error", ferr)
			}
		}
		return models.TurnResponse{}, fmt.Errorf("%w: %v", models.ErrPersistenceFailure, err)
	}
	for _, m := range t.work.MessageHistory[len(current.MessageHistory):] {
		f.appendLog(sessionID, m)
	}
	if req.MessageID != "" {
		if err := f.store.MarkProcessed(req.MessageID); err != nil {
			slog.Warn("IntakeFlow.ProcessMessage: mark processed failed", "messageID", req.MessageID, "error", err)
		}
	}
	slog.Info("IntakeFlow.ProcessMessage: turn committed", "sessionID", sessionID, "turn", t.work.TurnCount,
		"from", current.ConversationState, "to", t.work.ConversationState, "type", resp.Type)
	return resp, nil
}

func (f *IntakeFlow) appendLog(sessionID string, m models.Message) {
	if err := f.store.AppendMessage(sessionID, m); err != nil {
		slog.Warn("IntakeFlow: message log append failed", "sessionID", sessionID, "error", err)
	}
}

// replay answers a duplicate delivery with the session's current state.
func replay(s *models.SessionState) models.TurnResponse {
	resp := models.TurnResponse{
		SessionID:         s.SessionID,
		Message:           s.LastBotMessage(),
		Type:              models.ResponseAcknowledgment,
		ConversationState: s.ConversationState,
	}
	if s.TicketReference != "" {
		resp.Type = models.ResponseSubmitted
		resp.Ticket = &models.TicketReceipt{ReferenceID: s.TicketReference}
	}
	return resp
}

// Sweep removes expired sessions, skipping any that are busy or were touched since listing.
func (f *IntakeFlow) Sweep(ctx context.Context) (int, error) {
	return f.sessions.Sweep(func(id string) (func(), error) {
		return f.locks.acquire(ctx, id)
	})
}

// newTicket builds the ticket for an approved session.
func (f *IntakeFlow) newTicket(ctx context.Context, s *models.SessionState, now time.Time) models.Ticket {
	return models.Ticket{
		ReferenceID: util.NewTicketReference(),
		SessionID:   s.SessionID,
		Intake:      s.Intake.Clone(),
		Summary:     ticketSummary(ctx, f.summarizer, s),
		User:        s.UserContext,
		Status:      models.TicketStatusPendingNotification,
		CreatedAt:   now,
	}
}

func joinWarning(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}
