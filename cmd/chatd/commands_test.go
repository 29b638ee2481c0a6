package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/chatd/internal/config"
	"github.com/kalambet/chatd/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":"not found"}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// useTestClient points the commands at ts and captures status output.
func useTestClient(t *testing.T, ts *testServer) *bytes.Buffer {
	t.Helper()
	oldClient, oldOut := newAPIClient, statusOut
	var buf bytes.Buffer
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	statusOut = &buf
	t.Cleanup(func() {
		newAPIClient, statusOut = oldClient, oldOut
		rootCmd.SetArgs(nil)
	})
	return &buf
}

var ctx = context.Background()

func TestFetchConversations(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/conversations/sess 1": `{"conversations":[
			{"id":"t1","sessionId":"sess 1","userMessage":"Oi","botResponse":"Olá!","timestamp":"2026-03-01T12:00:00Z"},
			{"id":"t2","sessionId":"sess 1","userMessage":"Que horas são?","botResponse":"São 12h.","timestamp":"2026-03-01T12:01:00Z"}]}`,
	})

	turns, err := fetchConversations(ctx, ts.client(), "sess 1", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].UserMessage != "Oi" || turns[1].BotResponse != "São 12h." {
		t.Errorf("turns = %+v", turns)
	}

	r := ts.requests[0]
	if r.Path != "/api/conversations/sess%201?limit=20" {
		t.Errorf("path = %q, want escaped session and limit", r.Path)
	}
}

func TestFetchAnalytics(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/analytics": `{"analytics":[{"date":"2026-03-01","type":"message","count":3}],
			"summary":{"totalConversations":3,"totalConnections":1,"topCities":[{"city":"Recife","count":3}]}}`,
	})

	rep, err := fetchAnalytics(ctx, ts.client(), 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Summary.TotalConversations != 3 || rep.Summary.TotalConnections != 1 {
		t.Errorf("summary = %+v", rep.Summary)
	}
	if len(rep.Analytics) != 1 || rep.Analytics[0].Type != storage.EventMessage {
		t.Errorf("analytics = %+v", rep.Analytics)
	}

	r := ts.requests[0]
	if r.Path != "/api/analytics?days=30" {
		t.Errorf("path = %q", r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
}

func TestAPIClient_NoTokenNoHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = ""

	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want no Authorization header", ts.requests[0].Auth)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestRankingRecordCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/ranking/registrar-acesso-bot": `{"message":"access to bot Helper recorded"}`,
	})
	out := useTestClient(t, ts)

	rootCmd.SetArgs([]string{"ranking", "record", "bot-1", "Helper", "--user", "u-9"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["botId"] != "bot-1" || body["nomeBot"] != "Helper" || body["usuarioId"] != "u-9" {
		t.Errorf("body = %v", body)
	}
	if body["timestampAcesso"] == nil {
		t.Error("timestampAcesso should be sent")
	}
	if !strings.Contains(out.String(), "access to bot Helper recorded") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRankingCommand_ServerError(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	useTestClient(t, ts)

	rootCmd.SetArgs([]string{"ranking"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to contain 404", err)
	}
}

func TestAskCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "arg") {
		t.Errorf("error = %q, want it to mention args", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/api/analytics")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Chat.BotName = "Helper"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

func TestClientBaseURL(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"127.0.0.1", "http://127.0.0.1:3000"},
		{"0.0.0.0", "http://127.0.0.1:3000"},
		{"", "http://127.0.0.1:3000"},
		{"::", "http://127.0.0.1:3000"},
		{"chat.local", "http://chat.local:3000"},
		{"::1", "http://[::1]:3000"},
	}
	for _, tt := range tests {
		got := clientBaseURL(config.ServerConfig{Host: tt.host, Port: 3000})
		if got != tt.want {
			t.Errorf("clientBaseURL(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if rec["msg"] != "shown" || rec["key"] != "value" {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	newLogger(config.LogConfig{Level: "bogus", Format: "text"}, &buf).Debug("dropped")
	if buf.Len() != 0 {
		t.Errorf("invalid level should fall back to info, got %q", buf.String())
	}
}

func TestOpenBackend(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	t.Run("sqlite", func(t *testing.T) {
		dir := t.TempDir()
		store, err := openBackend(ctx, config.StorageConfig{Driver: config.DriverSQLite, DataDir: dir}, logger)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer store.Close()
		if _, ok := store.(*storage.Store); !ok {
			t.Errorf("backend = %T, want *storage.Store", store)
		}
		if _, err := os.Stat(filepath.Join(dir, "chatd.db")); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})

	t.Run("postgres without url degrades", func(t *testing.T) {
		store, err := openBackend(ctx, config.StorageConfig{Driver: config.DriverPostgres}, logger)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := store.(*storage.Console); !ok {
			t.Errorf("backend = %T, want *storage.Console", store)
		}
	})

	t.Run("console", func(t *testing.T) {
		store, err := openBackend(ctx, config.StorageConfig{Driver: config.DriverConsole}, logger)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := store.(*storage.Console); !ok {
			t.Errorf("backend = %T, want *storage.Console", store)
		}
	})
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "nested"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removal")
	}
}

func TestNewRegistry_UsesConfiguredTimezone(t *testing.T) {
	cfg := config.Config{Chat: config.ChatConfig{Timezone: "Nowhere/City"}}
	if _, err := newRegistry(cfg, storage.NewConsole(nil)); err == nil {
		t.Fatal("expected error for unknown timezone")
	}

	cfg.Chat.Timezone = "UTC"
	registry, err := newRegistry(cfg, storage.NewConsole(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(registry.Declarations()); got != 3 {
		t.Errorf("declarations = %d, want 3", got)
	}
}
