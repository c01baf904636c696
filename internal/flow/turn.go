package flow

import (
	"context"
	"errors"
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
)

// Assistant texts owned by the flow rather than the reasoner.
const (
	msgUnblocked        = "Thank you. Let's continue."
	msgStillBlocked     = "For your security I can't continue until you confirm you won't share passwords or codes here. Reply \"ok\" to continue."
	msgWaitingLocked    = "I'm still waiting. Take your time, and tell me when you're back."
	msgSummaryPrompt    = "Here's what I have so far:"
	msgConfirmPrompt    = "Shall I submit this ticket? (yes/no)"
	msgAlreadySubmitted = "Your ticket %s has already been submitted. Start a new conversation for another issue."
	msgSubmitted        = "Your ticket has been submitted. Reference: %s."
	msgSubmittedQueued  = "Your ticket has been created (reference %s). The helpdesk notification is delayed and will be retried automatically."
	msgSubmitFailed     = "Sorry, I couldn't submit your ticket just now. Everything you told me is saved; reply \"submit\" to try again."
	msgGateBlocked      = "Before I can submit, I still need %s."
	msgAnythingElse     = "Is there anything else you'd like to change? Say \"submit\" when you're ready."
	warnTicketNotSaved  = "Your ticket was sent to the helpdesk but its record could not be saved."
)

// turn holds the working copy of one session for one message. Nothing is visible outside the
// turn until IntakeFlow commits work.
type turn struct {
	flow    *IntakeFlow
	ctx     context.Context
	before  *models.SessionState
	work    *models.SessionState
	message string
	now     time.Time
	trace   models.TurnTrace
}

func (t *turn) run() models.TurnResponse {
	from := t.work.ConversationState
	t.trace = models.TurnTrace{Turn: t.work.TurnCount + 1, FromState: from}

	var resp models.TurnResponse
	switch {
	case from == models.StateBlockedSecurity:
		resp = t.blocked()
	default:
		resp = t.screened()
	}

	t.trace.ToState = t.work.ConversationState
	trace := t.trace
	t.work.LastTurn = &trace
	resp.SessionID = t.work.SessionID
	resp.ConversationState = t.work.ConversationState
	slog.Debug("turn: complete", "sessionID", t.work.SessionID, "turn", trace.Turn, "intent", trace.Intent.Intent,
		"source", trace.Intent.Source, "rule", trace.TransitionRule, "merges", len(trace.MergeDecisions))
	return resp
}

func (t *turn) say(text string) {
	t.work.Append(models.RoleAssistant, text, t.now)
}

// blocked handles a message while a security block is active. Only an acknowledgment that itself
// scans clean lifts the block; nothing else is stored.
func (t *turn) blocked() models.TurnResponse {
	t.trace.TransitionRule = RuleSecurityLock
	dec := t.flow.scanner.Scan(t.message, t.securityContext())
	t.trace.Security = dec
	if dec.Blocked() {
		slog.Warn("turn: message blocked while locked", "sessionID", t.work.SessionID, "pattern", dec.PatternType, "length", len(t.message))
		return models.TurnResponse{Message: msgStillBlocked, Type: models.ResponseSecurityBlock}
	}
	if !security.IsAcknowledgment(t.message) {
		return models.TurnResponse{Message: msgStillBlocked, Type: models.ResponseSecurityBlock}
	}

	restore := t.work.BlockedFromState
	if restore == "" || restore == models.StateInit || restore == models.StateBlockedSecurity {
		restore = models.StateProbing
	}
	t.work.ConversationState = restore
	t.work.BlockedFromState = ""
	t.work.TurnCount++
	t.work.Append(models.RoleUser, t.message, t.now)
	t.trace.TransitionRule = RuleResume

	text, field, rtype := msgUnblocked, models.FieldName(""), models.ResponseAcknowledgment
	switch restore {
	case models.StateReadyToSubmit, models.StateConfirmingSubmission:
		t.work.ConversationState = models.StateReadyToSubmit
		text += "\n" + t.summaryText()
		rtype = models.ResponseSummary
	default:
		missing := t.flow.thresholds.MissingFields(t.work.Intake, t.work.Confidence)
		if f, ok := brain.NextField(missing, ""); ok {
			text += " " + brain.Question(f)
			field = f
			rtype = models.ResponseQuestion
		}
	}
	t.setLastQuestion(text, field)
	t.say(text)
	slog.Info("turn: security block acknowledged", "sessionID", t.work.SessionID, "restored", t.work.ConversationState)
	return models.TurnResponse{Message: text, Type: rtype}
}

func (t *turn) securityContext() security.Context {
	return security.Context{
		ConversationState: t.work.ConversationState,
		LastBotMessage:    t.work.LastBotMessage(),
		LastExpectedField: t.work.LastExpectedField,
		Intake:            t.work.Intake,
	}
}

// screened runs the scanner and, when the message may proceed, the rest of the pipeline.
func (t *turn) screened() models.TurnResponse {
	dec := t.flow.scanner.Scan(t.message, t.securityContext())
	t.trace.Security = dec
	if dec.Blocked() {
		if t.work.ConversationState != models.StateSubmitted {
			t.work.BlockedFromState = t.work.ConversationState
			t.work.ConversationState = models.StateBlockedSecurity
		}
		t.trace.TransitionRule = RuleSecurityLock
		t.say(dec.Message)
		slog.Warn("turn: message blocked", "sessionID", t.work.SessionID, "pattern", dec.PatternType, "label", dec.Label, "length", len(t.message))
		return models.TurnResponse{Message: dec.Message, Type: models.ResponseSecurityBlock}
	}

	if t.work.ConversationState == models.StateSubmitted {
		t.work.TurnCount++
		t.work.Append(models.RoleUser, t.message, t.now)
		t.trace.TransitionRule = RuleSubmittedFinal
		text := fmt.Sprintf(msgAlreadySubmitted, t.work.TicketReference)
		t.say(text)
		return models.TurnResponse{Message: text, Type: models.ResponseSubmitted, Ticket: &models.TicketReceipt{ReferenceID: t.work.TicketReference}}
	}
	return t.pipeline()
}

func (t *turn) pipeline() models.TurnResponse {
	f := t.flow
	w := t.work
	from := w.ConversationState

	res := f.classifier.Classify(t.ctx, t.message, intent.Context{
		State:              from,
		LastBotQuestion:    w.LastBotQuestion,
		LastExpectedField:  w.LastExpectedField,
		RecentUserMessages: w.RecentUserMessages(recentUserTurns),
		TurnCount:          w.TurnCount,
	})
	t.trace.Intent = res
	w.TurnCount++
	w.Append(models.RoleUser, t.message, t.now)

	if res.IsCancel && from != models.StateWaiting {
		w.ResetIntake()
	}

	missing := f.thresholds.MissingFields(w.Intake, w.Confidence)
	summary := BuildSummary(w.Intake)
	decision := f.reasoner.Decide(t.ctx, brain.Input{
		Message:            t.message,
		Intent:             res,
		State:              from,
		Intake:             w.Intake,
		Missing:            missing,
		LastBotQuestion:    w.LastBotQuestion,
		LastExpectedField:  w.LastExpectedField,
		SubmissionDeclined: w.SubmissionDeclined,
		Summary:            summary,
	})
	t.trace.Decision = decision

	resumed := from == models.StateWaiting && res.IsResume
	locked := from == models.StateWaiting && !resumed
	fieldsChanged := false
	if !locked && !res.IsCancel {
		fields := decision.FieldsToExtract
		if resumed {
			fields = resumeFields(missing)
		}
		t.trace.RequestedFields = fields
		if len(fields) > 0 {
			cands, err := f.extractor.Extract(t.ctx, extract.Request{
				Message:           t.message,
				Intake:            w.Intake,
				Fields:            fields,
				LastBotQuestion:   w.LastBotQuestion,
				LastExpectedField: w.LastExpectedField,
				Summary:           summary,
			})
			if err != nil {
				slog.Warn("turn: extraction failed, no candidates", "sessionID", w.SessionID, "error", err)
			}
			merged := f.merger.Merge(w.Intake, w.Confidence, cands, intake.MergeContext{
				State:              from,
				Intent:             res,
				LastExpectedField:  w.LastExpectedField,
				ResumedFromWaiting: resumed,
				Message:            t.message,
			})
			w.Intake, w.Confidence = merged.Intake, merged.Confidence
			t.trace.MergeDecisions = merged.Decisions
			fieldsChanged = merged.Changed()
		}
	}

	switch {
	case res.Intent == models.IntentDenySubmit && !res.IsCancel &&
		(from == models.StateReadyToSubmit || from == models.StateConfirmingSubmission):
		w.SubmissionDeclined = true
	case fieldsChanged || res.IsCancel || res.Intent == models.IntentConfirmSubmit || res.Intent == models.IntentNoMoreInfo:
		w.SubmissionDeclined = false
	}

	complete := f.thresholds.IsComplete(w.Intake, w.Confidence)
	tr := f.machine.Next(TransitionInput{
		From:               from,
		Intent:             res,
		Complete:           complete,
		SubmissionDeclined: w.SubmissionDeclined,
		FieldsChanged:      fieldsChanged,
		Suggested:          decision.SuggestedNextState,
	})
	t.trace.TransitionRule = tr.Rule
	w.ConversationState = tr.To

	if tr.Rule == RuleConfirm {
		w.SubmissionApproved = true
		w.ApprovedAtTurn = w.TurnCount
	} else if tr.To != models.StateConfirmingSubmission {
		w.SubmissionApproved = false
		w.ApprovedAtTurn = 0
	}

	if w.ConversationState == models.StateConfirmingSubmission {
		return t.submit()
	}
	return t.respond(res, decision, tr, fieldsChanged)
}

// submit runs the gate and, when it passes, creates the ticket.
func (t *turn) submit() models.TurnResponse {
	f := t.flow
	w := t.work

	if err := f.gate.Check(w); err != nil {
		w.ConversationState = models.StateProbing
		w.SubmissionApproved = false
		w.ApprovedAtTurn = 0
		t.trace.TransitionRule = "gate_blocked"

		var blocked *models.SubmissionBlockedError
		field := models.FieldName("")
		if errors.As(err, &blocked) {
			field = blocked.Field
		}
		if field == "" {
			if next, ok := brain.NextField(f.thresholds.MissingFields(w.Intake, w.Confidence), ""); ok {
				field = next
			}
		}
		text := msgAnythingElse
		if field != "" {
			text = fmt.Sprintf(msgGateBlocked, missingDescriptions[field]) + " " + brain.Question(field)
		}
		t.setLastQuestion(text, field)
		t.say(text)
		return models.TurnResponse{Message: text, Type: models.ResponseQuestion, MissingField: field}
	}

	ticket := f.newTicket(t.ctx, w, t.now)
	receipt, notifyErr := f.notifier.Submit(t.ctx, ticket)
	resp := models.TurnResponse{Type: models.ResponseSubmitted}

	if notifyErr != nil {
		slog.Warn("turn: notifier failed, queuing ticket", "sessionID", w.SessionID, "referenceID", ticket.ReferenceID, "error", notifyErr)
		if err := t.queueTicket(ticket); err != nil {
			slog.Error("turn: could not queue ticket, submission reverted", "sessionID", w.SessionID, "error", err)
			w.ConversationState = models.StateReadyToSubmit
			w.SubmissionApproved = false
			w.ApprovedAtTurn = 0
			t.trace.TransitionRule = "submit_failed"
			t.setLastQuestion(msgSubmitFailed, "")
			t.say(msgSubmitFailed)
			return models.TurnResponse{Message: msgSubmitFailed, Type: models.ResponseError}
		}
		resp.Message = fmt.Sprintf(msgSubmittedQueued, ticket.ReferenceID)
		resp.Ticket = &models.TicketReceipt{ReferenceID: ticket.ReferenceID, EmailSent: false}
	} else {
		if receipt.ReferenceID != "" {
			ticket.ReferenceID = receipt.ReferenceID
		}
		ticket.Status = models.TicketStatusNotified
		ticket.EmailSent = receipt.EmailSent
		if err := f.store.SaveTicket(ticket); err != nil {
			err = fmt.Errorf("%w: %v", models.ErrPersistenceFailure, err)
			slog.Error("turn: ticket notified but not saved", "sessionID", w.SessionID, "referenceID", ticket.ReferenceID, "error", err)
			resp.Warning = warnTicketNotSaved
		}
		resp.Message = fmt.Sprintf(msgSubmitted, ticket.ReferenceID)
		resp.Ticket = &models.TicketReceipt{ReferenceID: ticket.ReferenceID, EmailSent: ticket.EmailSent}
	}

	w.ConversationState = models.StateSubmitted
	w.TicketReference = ticket.ReferenceID
	w.LastExpectedField = ""
	w.LastBotQuestion = ""
	t.trace.TransitionRule = "submitted"
	t.say(resp.Message)
	slog.Info("turn: ticket submitted", "sessionID", w.SessionID, "referenceID", ticket.ReferenceID, "emailSent", resp.Ticket.EmailSent)
	return resp
}

// queueTicket stores a pending ticket and schedules its notification through the outbox.
func (t *turn) queueTicket(ticket models.Ticket) error {
	st := t.flow.store
	if err := st.SaveTicket(ticket); err != nil {
		return err
	}
	payload, err := notify.EncodeOutboxPayload(ticket.ReferenceID)
	if err != nil {
		return err
	}
	_, err = st.EnqueueOutboxMessage(ticket.SessionID, store.OutboxKindTicketNotification, payload, "ticket:"+ticket.ReferenceID)
	return err
}

// respond renders the assistant message for a non-submitting turn from the authoritative state.
func (t *turn) respond(res models.IntentResult, d models.BrainDecision, tr Transition, fieldsChanged bool) models.TurnResponse {
	f := t.flow
	w := t.work
	missing := f.thresholds.MissingFields(w.Intake, w.Confidence)

	var ack string
	if d.ShouldAcknowledge {
		ack = d.Acknowledgment
	}

	switch w.ConversationState {
	case models.StateWaiting:
		text := ack
		if tr.Rule == RuleWaitingLock && res.Intent != models.IntentInterruptWait {
			text = msgWaitingLocked
		}
		if text == "" {
			text = brain.AckWait
		}
		t.say(text)
		return models.TurnResponse{Message: text, Type: models.ResponseWaiting}

	case models.StateReadyToSubmit:
		text := joinLines(ack, t.summaryText())
		t.setLastQuestion(msgConfirmPrompt, "")
		t.say(text)
		return models.TurnResponse{Message: text, Type: models.ResponseSummary}
	}

	field, question := t.nextQuestion(d, missing)
	rtype := models.ResponseQuestion
	if d.Action == models.ActionRedirect {
		rtype = models.ResponseRedirect
	}
	if field == "" {
		question = msgAnythingElse
		if rtype != models.ResponseRedirect {
			rtype = models.ResponseAcknowledgment
		}
	}
	text := joinLines(ack, question)
	if text == "" {
		text = msgAnythingElse
	}
	t.setLastQuestion(question, field)
	t.say(text)
	return models.TurnResponse{Message: text, Type: rtype}
}

// nextQuestion keeps the reasoner's question when its field is still missing after the merge,
// otherwise it asks for the first missing field.
func (t *turn) nextQuestion(d models.BrainDecision, missing []models.FieldName) (models.FieldName, string) {
	for _, m := range missing {
		if d.ShouldAskQuestion && d.QuestionField == m && d.QuestionToAsk != "" {
			return m, d.QuestionToAsk
		}
	}
	if next, ok := brain.NextField(missing, ""); ok {
		return next, brain.Question(next)
	}
	return "", ""
}

func (t *turn) summaryText() string {
	return msgSummaryPrompt + "\n" + BuildSummary(t.work.Intake) + "\n" + msgConfirmPrompt
}

func (t *turn) setLastQuestion(question string, field models.FieldName) {
	t.work.LastBotQuestion = question
	t.work.LastExpectedField = field
}

// resumeFields is what a message returning from WAITING may fill: the missing fields and
// errorText, which is what the user usually went to look up.
func resumeFields(missing []models.FieldName) []models.FieldName {
	fields := append([]models.FieldName(nil), missing...)
	for _, f := range fields {
		if f == models.FieldErrorText {
			return fields
		}
	}
	return append(fields, models.FieldErrorText)
}

func joinLines(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}
