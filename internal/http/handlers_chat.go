package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ledgerlens/internal/core"
)

type transcriptResponse struct {
	Messages []core.ChatMessage `json:"messages"`
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Reply    core.ChatMessage   `json:"reply"`
	Messages []core.ChatMessage `json:"messages"`
}

// GET /api/chat
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, transcriptResponse{Messages: s.deps.Chat.Transcript()})
}

// POST /api/chat. Agent failures still answer 200 with the generic
// failure reply as the assistant message.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reply, err := s.deps.Chat.Ask(r.Context(), req.Question)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, askResponse{Reply: reply, Messages: s.deps.Chat.Transcript()})
}

type notificationsResponse struct {
	Notifications []core.Notification `json:"notifications"`
}

// GET /api/notifications
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, notificationsResponse{Notifications: s.deps.Notify.Active()})
}

// DELETE /api/notifications/{id}
func (s *Server) handleDismissNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Notify.Dismiss(chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
