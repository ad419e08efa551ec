package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/antoniostano/haven/internal/chat"
	"github.com/antoniostano/haven/internal/handoff"
)

type postMessageRequest struct {
	SenderRole string `json:"sender_role"`
	CallerID   string `json:"caller_id,omitempty"`
	Content    string `json:"content"`
	Locale     string `json:"locale,omitempty"`
}

type postMessageResponse struct {
	Session *chat.Session `json:"session"`
	Message *chat.Message `json:"message"`
	Reply   *chat.Message `json:"reply,omitempty"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	role := chat.SenderRole(strings.TrimSpace(req.SenderRole))
	if role == "" {
		role = chat.RoleRequester
	}
	locale := strings.TrimSpace(req.Locale)
	if locale == "" {
		locale = s.cfg.DefaultLocale
	}

	out, err := s.coord.PostMessage(r.Context(), handoff.PostMessageInput{
		SessionID:  sessionID(r),
		SenderRole: role,
		CallerID:   req.CallerID,
		Content:    req.Content,
		Locale:     locale,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, postMessageResponse{
		Session: out.Session,
		Message: out.Message,
		Reply:   out.Reply,
	})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	callerID := strings.TrimSpace(r.URL.Query().Get("caller_id"))

	msgs, err := s.coord.Messages(r.Context(), sessionID(r), callerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*chat.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID(r),
		"messages":   msgs,
	})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.coord.Status(r.Context(), sessionID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	volunteerID := strings.TrimSpace(r.URL.Query().Get("volunteer_id"))
	if volunteerID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "volunteer_id query param is required")
		return
	}

	sessions, err := s.coord.Active(r.Context(), volunteerID)
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

func requireBodyID(r *http.Request, field string) (string, error) {
	var body map[string]string
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		return "", err
	}
	return strings.TrimSpace(body[field]), nil
}
