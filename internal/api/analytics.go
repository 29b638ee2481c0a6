package api

import (
	"log/slog"
	"net/http"

	"github.com/kalambet/chatd/internal/analytics"
)

func handleAnalytics(reporter *analytics.Reporter, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := parseIntParam(r, "days", analytics.DefaultDays, 365)

		rep, err := reporter.Report(r.Context(), days)
		if err != nil {
			logger.Error("building analytics report", "days", days, "error", err)
			httpError(w, http.StatusInternalServerError, "failed to build analytics report")
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}
