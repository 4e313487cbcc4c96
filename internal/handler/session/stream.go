package session

import (
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/memoria/backend/internal/service/ai"
	"github.com/zhouzirui/memoria/backend/pkg/utils"
)

// StreamResponse represents one Server-Sent Events payload
type StreamResponse struct {
	Event        string    `json:"event"`
	SessionID    string    `json:"sessionId,omitempty"`
	Content      string    `json:"content,omitempty"`
	SessionTitle string    `json:"sessionTitle,omitempty"`
	Tool         *ai.Event `json:"tool,omitempty"`
	Finished     bool      `json:"finished,omitempty"`
	Error        string    `json:"error,omitempty"`
	Status       int       `json:"status,omitempty"`
}

// handleStream runs one turn and reports its progress as SSE: start, tool_call*, message, end.
// Failures after the stream opened are sent as an error event.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	sessionID := chi.URLParam(r, "sessionID")
	userMessage := r.URL.Query().Get("message")

	if strings.TrimSpace(userMessage) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if _, err := h.chatSvc.GetSession(r.Context(), owner, sessionID); err != nil {
		respondServiceError(w, err)
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	log.Printf("[sse] opening stream for session=%s", sessionID)

	send := func(resp StreamResponse) {
		resp.SessionID = sessionID
		if err := utils.SendSSEEvent(w, flusher, resp.Event, resp); err != nil {
			log.Printf("[sse] write failed for session=%s: %v", sessionID, err)
		}
	}

	send(StreamResponse{Event: "start"})

	reply, err := h.chatSvc.SendMessage(r.Context(), owner, sessionID, userMessage, func(event ai.Event) {
		send(StreamResponse{Event: event.Type, Tool: &event})
	})
	if err != nil {
		log.Printf("[sse] turn failed for session=%s: %v", sessionID, err)
		status, message := publicError(err)
		send(StreamResponse{Event: "error", Error: message, Status: status})
		return
	}

	send(StreamResponse{Event: "message", Content: reply.Content, SessionTitle: reply.SessionTitle})
	send(StreamResponse{Event: "end", Finished: true})
}
