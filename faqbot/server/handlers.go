package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"

	internal "github.com/ZanzyTHEbar/faqbot/faqbot"
	"github.com/ZanzyTHEbar/faqbot/faqbot/generation/harness"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	sessionHeader = internal.DefaultSessionHeader
	sessionCookie = internal.DefaultSessionCookie

	maxAskBody = 64 << 10
)

// validSessionID matches ULIDs, UUIDs, and other safe identifiers.
var validSessionID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,127}$`)

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAskBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.validator.Validate(body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var req AskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sessionID, minted, err := resolveSessionID(r, req.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if minted {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sessionID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	w.Header().Set(sessionHeader, sessionID)

	ans := s.deps.Orchestrator.HandleQuestion(r.Context(), sessionID, req.Question)

	code := harness.ErrorCode(ans.Err)
	status := http.StatusOK
	if s.config.StrictStatus {
		status = statusForCode(code)
	}

	zerolog.Ctx(r.Context()).Debug().
		Str("session_id", sessionID).
		Str("tone", string(ans.Tone)).
		Str("outcome", string(ans.Outcome)).
		Msg("Question answered")

	writeJSON(w, status, AskResponse{
		Response:  ans.Response,
		History:   ans.History,
		SessionID: sessionID,
		Error:     code,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	turns, ok := s.deps.Orchestrator.Sessions().Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found", "")
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{SessionID: id, History: turns})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Orchestrator.Sessions().Drop(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "session_not_found", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Sessions: s.deps.Orchestrator.Sessions().Len(),
	}
	status := http.StatusOK

	if s.deps.Index != nil {
		n, err := s.deps.Index.Count(r.Context())
		if err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Health check could not count documents")
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		resp.Documents = n
	}

	writeJSON(w, status, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		writeError(w, http.StatusNotFound, "metrics_disabled", "")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Metrics.GetSummary())
}

// resolveSessionID picks the session from the body, the header, then the cookie, minting a
// new one when none is present. Explicit ids that fail validation are rejected; a bad
// cookie is replaced.
func resolveSessionID(r *http.Request, fromBody string) (id string, minted bool, err error) {
	for _, candidate := range []string{fromBody, r.Header.Get(sessionHeader)} {
		if candidate == "" {
			continue
		}
		if !validSessionID.MatchString(candidate) {
			return "", false, errors.New("session_id must be alphanumeric with dashes/underscores, 1-128 chars")
		}
		return candidate, false, nil
	}

	if c, err := r.Cookie(sessionCookie); err == nil && validSessionID.MatchString(c.Value) {
		return c.Value, false, nil
	}

	return uuid.NewString(), true, nil
}

func statusForCode(code string) int {
	switch code {
	case harness.CodeRetrievalFailed, harness.CodeGenerationFailed:
		return http.StatusBadGateway
	case harness.CodeGenerationTimeout:
		return http.StatusGatewayTimeout
	case harness.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusOK
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, ErrorResponse{Error: code, Detail: detail})
}
