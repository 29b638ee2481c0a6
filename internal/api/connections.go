package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/chatd/internal/geo"
	"github.com/kalambet/chatd/internal/storage"
)

const (
	unknownCity      = "Desconhecida"
	unknownCountry   = "Desconhecido"
	unknownUserAgent = "Unknown"
	counterTimeout   = 5 * time.Second
)

var errMissingTimestamp = errors.New("timestamp is required")

func handleUserInfo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loc := geo.Local
		if deps.Geo != nil {
			loc = deps.Geo.Lookup(r.Context(), geo.ClientIP(r))
		}
		writeJSON(w, http.StatusOK, loc)
	}
}

type ConnectionRequest struct {
	IP      string `json:"ip"`
	City    string `json:"city"`
	Country string `json:"country"`
	// Timestamp is an RFC 3339 string or epoch milliseconds.
	Timestamp json.RawMessage `json:"timestamp"`
}

func handleLogConnection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ConnectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.IP == "" {
			httpError(w, http.StatusBadRequest, "ip and timestamp are required")
			return
		}
		connectedAt, err := parseTimestamp(req.Timestamp)
		if errors.Is(err, errMissingTimestamp) {
			httpError(w, http.StatusBadRequest, "ip and timestamp are required")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid timestamp: %v", err)
			return
		}

		entry := storage.AccessLog{
			ID:             uuid.New().String(),
			IP:             req.IP,
			City:           orDefault(req.City, unknownCity),
			Country:        orDefault(req.Country, unknownCountry),
			UserAgent:      orDefault(r.UserAgent(), unknownUserAgent),
			ConnectionTime: connectedAt,
			CreatedAt:      time.Now().UTC(),
		}
		if err := deps.Store.LogConnection(r.Context(), entry); err != nil {
			deps.Logger.Error("saving connection log", "ip", entry.IP, "error", err)
			httpError(w, http.StatusInternalServerError, "failed to save connection log")
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), counterTimeout)
		defer cancel()
		sample := map[string]string{"city": entry.City, "country": entry.Country}
		if err := deps.Store.IncrementCounter(ctx, entry.CreatedAt.Format(storage.DayLayout), storage.EventConnection, sample); err != nil {
			deps.Logger.Warn("failed to update analytics", "type", storage.EventConnection, "error", err)
		}

		writeJSON(w, http.StatusCreated, map[string]string{
			"message": "connection logged",
			"logId":   entry.ID,
		})
	}
}

// parseTimestamp accepts an RFC 3339 string or a number of epoch milliseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		return time.Time{}, errMissingTimestamp
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 string or epoch milliseconds, got %s", raw)
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
