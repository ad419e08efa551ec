package httpapi

import (
	"net/http"
	"strings"

	"github.com/antoniostano/haven/internal/chat"
)

func (s *Server) handleRequestHandoff(w http.ResponseWriter, r *http.Request) {
	sess, err := s.coord.RequestHandoff(r.Context(), sessionID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	volunteerID, err := requireBodyID(r, "volunteer_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if volunteerID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "volunteer_id is required")
		return
	}

	sess, err := s.coord.Accept(r.Context(), sessionID(r), volunteerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	volunteerID, err := requireBodyID(r, "volunteer_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if volunteerID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "volunteer_id is required")
		return
	}

	sess, err := s.coord.Decline(r.Context(), sessionID(r), volunteerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	callerID, err := requireBodyID(r, "caller_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if callerID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "caller_id is required")
		return
	}

	sess, err := s.coord.End(r.Context(), sessionID(r), callerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	volunteerID := strings.TrimSpace(r.URL.Query().Get("volunteer_id"))
	if volunteerID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "volunteer_id query param is required")
		return
	}

	sessions, err := s.coord.Pending(r.Context(), volunteerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*chat.Session{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"volunteer_id": volunteerID,
		"sessions":     sessions,
	})
}
