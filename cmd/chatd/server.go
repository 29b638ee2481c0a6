package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/chatd/internal/api"
	"github.com/kalambet/chatd/internal/chat"
	"github.com/kalambet/chatd/internal/config"
	"github.com/kalambet/chatd/internal/geo"
	"github.com/kalambet/chatd/internal/llm"
	"github.com/kalambet/chatd/internal/ranking"
	"github.com/kalambet/chatd/internal/storage"
	"github.com/kalambet/chatd/internal/storage/postgres"
	"github.com/kalambet/chatd/internal/tools"
	"github.com/kalambet/chatd/internal/weather"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the chatd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running chatd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chatd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "chatd.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// newLogger builds the process logger from the log config.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openBackend selects the persistence backend. A postgres driver without a
// database URL degrades to console-only persistence.
func openBackend(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Backend, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		if cfg.DatabaseURL == "" {
			logger.Warn("storage.driver is postgres but CHATD_DATABASE_URL is empty; persisting to console only")
			return storage.NewConsole(logger), nil
		}
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return store, nil
	case config.DriverConsole:
		return storage.NewConsole(logger), nil
	default:
		store, err := storage.Open(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		return store, nil
	}
}

func closeBackend(store storage.Backend) {
	if err := store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// newRegistry builds the tool set over the given history store.
func newRegistry(cfg config.Config, history tools.HistoryReader) (*tools.Registry, error) {
	loc, err := cfg.Chat.Location()
	if err != nil {
		return nil, err
	}
	wc := weather.NewClient(cfg.Weather.APIKey,
		weather.WithBaseURL(cfg.Weather.BaseURL),
		weather.WithTimeout(cfg.Weather.Timeout),
	)
	return tools.NewDefaultRegistry(tools.Deps{
		Location: loc,
		Weather:  wc,
		History:  history,
	}), nil
}

func newOrchestrator(cfg config.Config, registry *tools.Registry, store chat.Store, logger *slog.Logger) *chat.Orchestrator {
	model := llm.NewClient(llm.Config{
		APIKey:      cfg.Model.APIKey,
		BaseURL:     cfg.Model.BaseURL,
		Model:       cfg.Model.Name,
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxTokens,
		Timeout:     cfg.Model.Timeout,
		Referer:     clientBaseURL(cfg.Server),
		Title:       "chatd",
	})
	return chat.New(chat.Config{
		Model:    model,
		Registry: registry,
		Store:    store,
		BotName:  cfg.Chat.BotName,
		Logger:   logger,
	})
}

// clientBaseURL is the URL local clients use to reach the server.
func clientBaseURL(cfg config.ServerConfig) string {
	host := cfg.Host
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "chatd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireModelKey(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(clientBaseURL(cfg.Server) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("chatd is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("chatd is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openBackend(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeBackend(store)

	registry, err := newRegistry(cfg, store)
	if err != nil {
		return err
	}
	orchestrator := newOrchestrator(cfg, registry, store, logger)

	handler := api.NewRouter(api.Deps{
		Chat:       orchestrator,
		Store:      store,
		Geo:        geo.NewClient(cfg.Geo.BaseURL, cfg.Geo.Timeout),
		Ranking:    ranking.NewBoard(logger),
		AdminToken: cfg.Server.AdminToken,
		StaticDir:  cfg.Server.StaticDir,
		Logger:     logger,
	})
	if cfg.Server.AdminToken == "" {
		logger.Warn("CHATD_ADMIN_TOKEN is not set; /api/analytics is unauthenticated")
	}

	addr := cfg.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, cfg.Server.MaxConns)

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "chatd listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("chatd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop chatd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to chatd (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    clientBaseURL(cfg.Server),
		token:      cfg.Server.AdminToken,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	ctx := context.Background()

	running := false
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running at %s", client.baseURL)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s via %s", cfg.Model.Name, cfg.Model.BaseURL)
	if cfg.Model.APIKey == "" {
		printWarning("CHATD_MODEL_API_KEY is not set")
	}
	if cfg.Weather.APIKey == "" {
		printStatus("Weather", "not configured")
	} else {
		printStatus("Weather", "%s", cfg.Weather.BaseURL)
	}
	printStatus("Storage", "%s", cfg.Storage.Driver)

	if running {
		if rep, err := fetchAnalytics(ctx, client, 1); err == nil {
			printStatus("Conversations (24h)", "%d", rep.Summary.TotalConversations)
			printStatus("Connections (24h)", "%d", rep.Summary.TotalConnections)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
