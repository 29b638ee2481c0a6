package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/chatd/internal/chat"
	"github.com/kalambet/chatd/internal/storage"
)

const (
	defaultConversationLimit = 50
	maxConversationLimit     = 1000
)

type ChatRequest struct {
	Message   string          `json:"message"`
	SessionID string          `json:"sessionId"`
	UserInfo  *storage.Origin `json:"userInfo"`
}

type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		in := chat.Input{SessionID: req.SessionID, Message: req.Message}
		if req.UserInfo != nil {
			in.Origin = *req.UserInfo
		}

		out, err := deps.Chat.HandleMessage(r.Context(), in)
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			httpError(w, http.StatusBadRequest, "message is required")
			return
		case err != nil:
			deps.Logger.Error("chat failed", "session_id", req.SessionID, "error", err)
			httpError(w, http.StatusInternalServerError, "failed to process message")
			return
		}

		writeJSON(w, http.StatusOK, ChatResponse{Response: out.Response, SessionID: out.SessionID})
	}
}

func handleConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")
		limit := parseIntParam(r, "limit", defaultConversationLimit, maxConversationLimit)

		turns, err := deps.Store.ListTurns(r.Context(), sessionID, limit)
		if err != nil {
			deps.Logger.Error("listing conversations", "session_id", sessionID, "error", err)
			httpError(w, http.StatusInternalServerError, "failed to load conversation history")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"conversations": turns})
	}
}
