package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/haven/internal/chat"
	"github.com/antoniostano/haven/internal/config"
	"github.com/antoniostano/haven/internal/handoff"
	"github.com/antoniostano/haven/internal/observability"
	"github.com/antoniostano/haven/internal/policy"
)

// Server exposes the polling API both sides use to stay synchronized:
// requester clients poll status and transcript, volunteer clients poll the
// pending and active listings. Every read is cheap and side-effect-free.
type Server struct {
	cfg       config.Config
	coord     *handoff.Coordinator
	metrics   *observability.Metrics
	storeMode string
}

func New(cfg config.Config, coord *handoff.Coordinator, metrics *observability.Metrics, storeMode string) *Server {
	return &Server{
		cfg:       cfg,
		coord:     coord,
		metrics:   metrics,
		storeMode: storeMode,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/sessions/{id}/messages", s.handlePostMessage)
	r.Get("/v1/sessions/{id}/messages", s.handleGetMessages)
	r.Get("/v1/sessions/{id}/status", s.handleGetStatus)
	r.Post("/v1/sessions/{id}/handoff", s.handleRequestHandoff)
	r.Post("/v1/sessions/{id}/accept", s.handleAccept)
	r.Post("/v1/sessions/{id}/decline", s.handleDecline)
	r.Post("/v1/sessions/{id}/end", s.handleEnd)
	r.Get("/v1/handoffs/pending", s.handleListPending)
	r.Get("/v1/sessions/active", s.handleListActive)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.storeMode,
	})
}

func sessionID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "id"))
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondDomainError maps the coordinator's error taxonomy onto HTTP. The
// race-lost case keeps its own code so volunteer clients can show "already
// claimed by someone else" instead of a generic conflict.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidArgument):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, policy.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.Is(err, chat.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, chat.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, chat.ErrRaceLost):
		respondError(w, http.StatusConflict, "race_lost", err.Error())
	case errors.Is(err, chat.ErrStateConflict):
		respondError(w, http.StatusConflict, "state_conflict", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
