package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sonicgate/sonicgate/pkg/gateway/live/protocol"
	"github.com/sonicgate/sonicgate/pkg/promptstore"
)

// PromptHandler exposes the system prompt: GET returns the current
// text, PUT replaces it and notifies every live session.
type PromptHandler struct {
	Store     promptstore.Store
	Logger    *slog.Logger
	Broadcast func(v any) int
}

type promptResponse struct {
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type promptRequest struct {
	Text string `json:"text"`
}

func (h PromptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.put(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h PromptHandler) get(w http.ResponseWriter, r *http.Request) {
	prompt, err := h.Store.Get(r.Context())
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("prompt load failed", "error", err)
		}
		http.Error(w, "prompt store unavailable", http.StatusInternalServerError)
		return
	}
	writePromptJSON(w, prompt)
}

func (h PromptHandler) put(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "prompt text must not be empty", http.StatusBadRequest)
		return
	}

	prompt, err := h.Store.Put(r.Context(), req.Text)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("prompt update failed", "error", err)
		}
		http.Error(w, "prompt store unavailable", http.StatusInternalServerError)
		return
	}

	if h.Broadcast != nil {
		notified := h.Broadcast(protocol.NewPromptUpdated())
		if h.Logger != nil {
			h.Logger.Info("system prompt updated", "notified_sessions", notified)
		}
	}
	writePromptJSON(w, prompt)
}

func writePromptJSON(w http.ResponseWriter, prompt promptstore.Prompt) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(promptResponse{Text: prompt.Text, UpdatedAt: prompt.UpdatedAt})
}
