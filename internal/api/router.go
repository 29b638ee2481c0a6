package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/chatd/internal/analytics"
	"github.com/kalambet/chatd/internal/chat"
	"github.com/kalambet/chatd/internal/geo"
	"github.com/kalambet/chatd/internal/ranking"
	"github.com/kalambet/chatd/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Orchestrator answers chat messages.
type Orchestrator interface {
	HandleMessage(ctx context.Context, in chat.Input) (chat.Output, error)
}

// Locator resolves a client address to a location. It never fails.
type Locator interface {
	Lookup(ctx context.Context, ip string) geo.Location
}

type Deps struct {
	Chat    Orchestrator
	Store   storage.Backend
	Geo     Locator
	Ranking *ranking.Board
	// AdminToken protects /api/analytics when set.
	AdminToken string
	// StaticDir is served at / when set.
	StaticDir string
	Logger    *slog.Logger
}

func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Ranking == nil {
		deps.Ranking = ranking.NewBoard(deps.Logger)
	}
	reporter := analytics.NewReporter(deps.Store)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Logger))
	r.Use(cors)

	r.Get("/health", handleHealth)
	r.Post("/chat", handleChat(deps))

	r.Route("/api", func(r chi.Router) {
		r.Get("/conversations/{sessionId}", handleConversations(deps))
		r.Get("/user-info", handleUserInfo(deps))
		r.Post("/log-connection", handleLogConnection(deps))

		r.Group(func(r chi.Router) {
			if deps.AdminToken != "" {
				r.Use(BearerAuth(deps.AdminToken))
			}
			r.Get("/analytics", handleAnalytics(reporter, deps.Logger))
		})

		r.Post("/ranking/registrar-acesso-bot", handleRecordBotAccess(deps))
		r.Get("/ranking/visualizar", handleListRanking(deps))
	})

	if deps.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(deps.StaticDir)))
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// parseIntParam reads a positive integer query parameter. Missing, invalid
// and non-positive values give defaultVal; values above maxVal are clamped.
func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
