package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/deepnoodle-ai/queryflow"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
)

// Response types of POST /v1/query.
const (
	TypeInterruption = "interruption"
	TypeAnswer       = "answer"
)

// QueryRequest is the body of POST /v1/query. A human_choice together with
// a session_id resumes a paused session. The choice may be sent as a string
// or as a 1-based option number.
type QueryRequest struct {
	Question    string          `json:"question"`
	SessionID   string          `json:"session_id,omitempty"`
	HumanChoice json.RawMessage `json:"human_choice,omitempty"`
}

// InterruptionResponse is returned when a session pauses for clarification.
type InterruptionResponse struct {
	Type      string   `json:"type"`
	Status    string   `json:"status"`
	SessionID string   `json:"session_id"`
	Options   []string `json:"options"`
	Content   string   `json:"content"`
}

// AnswerResponse is returned when a session finishes.
type AnswerResponse struct {
	Type        string           `json:"type"`
	Status      string           `json:"status"`
	SessionID   string           `json:"session_id"`
	Answer      string           `json:"answer"`
	SQL         string           `json:"sql,omitempty"`
	PlanSummary string           `json:"plan_summary,omitempty"`
	Rows        []map[string]any `json:"rows"`
	Error       *ErrorBody       `json:"error,omitempty"`
}

// ErrorBody describes a failure.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SessionResponse is returned by GET /v1/sessions/{id}.
type SessionResponse struct {
	Summary *queryflow.SessionSummary `json:"summary"`
	Options []string                  `json:"options,omitempty"`
	State   *queryflow.State          `json:"state"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	req := queryflow.Request{
		SessionID: strings.TrimSpace(body.SessionID),
		Question:  body.Question,
	}
	if len(body.HumanChoice) > 0 && string(body.HumanChoice) != "null" {
		choice, err := parseChoice(body.HumanChoice)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		req.HumanChoice = &choice
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	result, err := s.engine.Handle(ctx, req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if result.Paused() {
		writeJSON(w, http.StatusOK, newInterruption(result))
		return
	}
	writeJSON(w, http.StatusOK, newAnswer(result))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.engine.ListSessions(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*queryflow.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	checkpoint, err := s.engine.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	resp := SessionResponse{Summary: checkpoint.Summary(), State: checkpoint.State}
	if checkpoint.Status == queryflow.ExecutionStatusPaused && checkpoint.State != nil {
		resp.Options = checkpoint.State.Options()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStageHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.StageHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*queryflow.StageLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stages": entries})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseChoice(raw json.RawMessage) (string, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var number int
	if err := json.Unmarshal(raw, &number); err == nil {
		return strconv.Itoa(number), nil
	}
	return "", fmt.Errorf("human_choice must be a string or an option number")
}

func newInterruption(result *queryflow.Result) *InterruptionResponse {
	options := result.Options()
	var b strings.Builder
	b.WriteString("Your question can be read in more than one way. Please choose one of the following:")
	for i, option := range options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, option)
	}
	return &InterruptionResponse{
		Type:      TypeInterruption,
		Status:    string(result.Status),
		SessionID: result.SessionID,
		Options:   options,
		Content:   b.String(),
	}
}

func newAnswer(result *queryflow.Result) *AnswerResponse {
	resp := &AnswerResponse{
		Type:      TypeAnswer,
		Status:    string(result.Status),
		SessionID: result.SessionID,
		Rows:      []map[string]any{},
	}
	if state := result.State; state != nil {
		resp.Answer = state.Answer
		resp.SQL = state.SafeSQL
		if resp.SQL == "" {
			resp.SQL = state.SQL
		}
		if state.Plan != nil {
			resp.PlanSummary = state.Plan.Summary()
		}
		if state.Rows != nil {
			resp.Rows = state.Rows
		}
	}
	if wErr := result.Err(); wErr != nil {
		resp.Error = &ErrorBody{Type: wErr.Type, Message: wErr.Cause}
	}
	return resp
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, queryflow.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, queryflow.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, queryflow.ErrSessionBusy):
		return http.StatusConflict, "session_busy"
	case errors.Is(err, queryflow.ErrSessionNotPaused):
		return http.StatusConflict, "session_not_paused"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, queryflow.ErrorTypeTimeout
	default:
		return http.StatusInternalServerError, queryflow.ClassifyError(err).Type
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code, errorType := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		}
	}
	writeError(w, code, errorType, err.Error())
}

func writeError(w http.ResponseWriter, code int, errorType, message string) {
	writeJSON(w, code, map[string]*ErrorBody{"error": {Type: errorType, Message: message}})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
