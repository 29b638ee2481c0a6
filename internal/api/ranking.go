package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/chatd/internal/ranking"
)

type BotAccessRequest struct {
	BotID     string          `json:"botId"`
	BotName   string          `json:"nomeBot"`
	Timestamp json.RawMessage `json:"timestampAcesso"`
	UserID    string          `json:"usuarioId"`
}

func handleRecordBotAccess(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req BotAccessRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		access := ranking.Access{BotID: req.BotID, BotName: req.BotName, UserID: req.UserID}
		at, err := parseTimestamp(req.Timestamp)
		switch {
		case err == nil:
			access.Timestamp = at
		case !errors.Is(err, errMissingTimestamp):
			httpError(w, http.StatusBadRequest, "invalid timestampAcesso: %v", err)
			return
		}

		if _, err := deps.Ranking.Record(access); err != nil {
			httpError(w, http.StatusBadRequest, "%v", err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{
			"message": fmt.Sprintf("access to bot %s recorded", req.BotName),
		})
	}
}

func handleListRanking(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Ranking.List())
	}
}
