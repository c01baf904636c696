// Package api provides HTTP handlers for IntakeDesk endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// sessionView is the snapshot returned by GET /sessions/{id}.
type sessionView struct {
	SessionID          string                   `json:"sessionId"`
	ConversationState  models.ConversationState `json:"conversationState"`
	Intake             models.IntakeFields      `json:"intake"`
	Confidence         models.ConfidenceMap     `json:"confidenceByField"`
	SubmissionApproved bool                     `json:"submissionApproved"`
	TurnCount          int                      `json:"turnCount"`
	TicketReference    string                   `json:"ticketReference,omitempty"`
	MessageHistory     []models.Message         `json:"messageHistory"`
	LastTurn           *models.TurnTrace        `json:"lastTurn,omitempty"`
}

func newSessionView(s *models.SessionState) sessionView {
	return sessionView{
		SessionID:          s.SessionID,
		ConversationState:  s.ConversationState,
		Intake:             s.Intake,
		Confidence:         s.Confidence,
		SubmissionApproved: s.SubmissionApproved,
		TurnCount:          s.TurnCount,
		TicketReference:    s.TicketReference,
		MessageHistory:     s.MessageHistory,
		LastTurn:           s.LastTurn,
	}
}

// decodeBody decodes a JSON body into v. An empty body is accepted when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	return err
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.createSessionHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.CreateSessionRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		slog.Warn("Server.createSessionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.User.Channel == "" {
		req.User.Channel = "web"
	}
	resp, err := s.flow.StartSession(r.Context(), "", req.User)
	if err != nil {
		writeError(w, "Server.createSessionHandler", err)
		return
	}
	slog.Info("Server.createSessionHandler: session created", "sessionID", resp.SessionID)
	writeJSONResponse(w, http.StatusCreated, models.Success(resp))
}

func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		sess, err := s.flow.GetSession(r.Context(), id)
		if err != nil {
			writeError(w, "Server.sessionHandler", err)
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(newSessionView(sess)))
	case http.MethodDelete:
		if err := s.flow.DeleteSession(r.Context(), id); err != nil {
			writeError(w, "Server.sessionHandler", err)
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session deleted", nil))
	default:
		w.Header().Set("Allow", strings.Join([]string{http.MethodGet, http.MethodDelete}, ", "))
		slog.Warn("Server.sessionHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.messageHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := r.PathValue("id")
	var req models.MessageRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		slog.Warn("Server.messageHandler: failed to decode JSON", "sessionID", id, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	resp, err := s.flow.ProcessMessage(r.Context(), id, req)
	if err != nil {
		writeError(w, "Server.messageHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}
