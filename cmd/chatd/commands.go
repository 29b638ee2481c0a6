package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/chatd/internal/analytics"
	"github.com/kalambet/chatd/internal/api"
	"github.com/kalambet/chatd/internal/chat"
	"github.com/kalambet/chatd/internal/config"
	"github.com/kalambet/chatd/internal/ranking"
	"github.com/kalambet/chatd/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one message through the assistant without a running server",
	Long: `Send one message through the assistant without a running server.
The exchange is persisted to the configured storage like any /chat request.

Examples:
  chatd ask "What time is it?"
  chatd ask --session lx3k9q2a8f7z1b0c "And the weather in Recife?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		message := strings.Join(args, " ")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.RequireModelKey(); err != nil {
			return err
		}

		// Keep logs out of the answer on stdout.
		logger := newLogger(cfg.Log, os.Stderr)

		ctx := cmd.Context()
		store, err := openBackend(ctx, cfg.Storage, logger)
		if err != nil {
			return err
		}
		defer closeBackend(store)

		registry, err := newRegistry(cfg, store)
		if err != nil {
			return err
		}
		out, err := newOrchestrator(cfg, registry, store, logger).HandleMessage(ctx, chat.Input{
			SessionID: sessionID,
			Message:   message,
		})
		if err != nil {
			return err
		}

		fmt.Println(out.Response)
		if out.ToolUsed != "" {
			printStep("tool: %s", out.ToolUsed)
		}
		if sessionID == "" {
			printStatus("Session", "%s", out.SessionID)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "continue an existing session")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history <sessionId>",
	Short: "Show the stored turns of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		turns, err := fetchConversations(cmd.Context(), client, args[0], limit)
		if err != nil {
			return err
		}
		if len(turns) == 0 {
			fmt.Println("No turns found.")
			return nil
		}

		for _, t := range turns {
			fmt.Printf("\n%s\n", colorize(colorBold, t.Timestamp.Local().Format(time.DateTime)))
			fmt.Printf("  > %s\n", t.UserMessage)
			fmt.Printf("  %s\n", t.BotResponse)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 50, "maximum number of turns to show")
}

func fetchConversations(ctx context.Context, client *apiClient, sessionID string, limit int) ([]storage.Turn, error) {
	path := fmt.Sprintf("/api/conversations/%s?limit=%d", url.PathEscape(sessionID), limit)
	resp, err := client.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var body struct {
		Conversations []storage.Turn `json:"conversations"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return body.Conversations, nil
}

// --- analytics ---

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show usage counters and summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		rep, err := fetchAnalytics(cmd.Context(), client, days)
		if err != nil {
			return err
		}

		printStatus("Conversations", "%d", rep.Summary.TotalConversations)
		printStatus("Connections", "%d", rep.Summary.TotalConnections)
		if len(rep.Summary.TopCities) > 0 {
			fmt.Printf("\n%s\n", colorize(colorBold, "Top cities"))
			for i, c := range rep.Summary.TopCities {
				fmt.Printf("  %2d. %s (%d)\n", i+1, c.City, c.Count)
			}
		}
		if len(rep.Analytics) > 0 {
			fmt.Printf("\n%s\n", colorize(colorBold, "Daily counters"))
			for _, c := range rep.Analytics {
				label := c.Type
				if name := c.Sample["functionName"]; name != "" {
					label += " (" + name + ")"
				}
				fmt.Printf("  %s  %-30s %d\n", c.Day, label, c.Count)
			}
		}
		return nil
	},
}

func init() {
	analyticsCmd.Flags().Int("days", analytics.DefaultDays, "number of days to cover")
}

func fetchAnalytics(ctx context.Context, client *apiClient, days int) (analytics.Report, error) {
	var rep analytics.Report
	resp, err := client.get(ctx, fmt.Sprintf("/api/analytics?days=%d", days))
	if err != nil {
		return rep, err
	}
	err = decodeJSON(resp, &rep)
	return rep, err
}

// --- ranking ---

var rankingCmd = &cobra.Command{
	Use:   "ranking",
	Short: "Show bot access ranking",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/ranking/visualizar")
		if err != nil {
			return err
		}
		var ranks []ranking.Rank
		if err := decodeJSON(resp, &ranks); err != nil {
			return err
		}

		if len(ranks) == 0 {
			fmt.Println("No bot accesses recorded.")
			return nil
		}
		for i, r := range ranks {
			fmt.Printf("  %2d. %s %s  %d  last %s\n", i+1,
				colorize(colorBold, r.BotName), colorize(colorCyan, "["+r.BotID+"]"),
				r.Count, r.LastAccess.Local().Format(time.DateTime))
		}
		return nil
	},
}

var rankingRecordCmd = &cobra.Command{
	Use:   "record <botId> <botName>",
	Short: "Record one access to a bot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"botId":           args[0],
			"nomeBot":         args[1],
			"timestampAcesso": time.Now().UTC().Format(time.RFC3339),
		}
		if user != "" {
			body["usuarioId"] = user
		}
		resp, err := client.post(cmd.Context(), "/api/ranking/registrar-acesso-bot", body)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s", result["message"])
		return nil
	},
}

func init() {
	rankingRecordCmd.Flags().String("user", "", "id of the user accessing the bot")
	rankingCmd.AddCommand(rankingRecordCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the assistant tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// stdout carries the protocol.
		logger := newLogger(cfg.Log, os.Stderr).With("component", "mcp")

		ctx := cmd.Context()
		store, err := openBackend(ctx, cfg.Storage, logger)
		if err != nil {
			return err
		}
		defer closeBackend(store)

		registry, err := newRegistry(cfg, store)
		if err != nil {
			return err
		}

		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Registry: registry,
			Reporter: analytics.NewReporter(store),
			Version:  version,
			Logger:   logger,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		logger.Info("MCP server started (stdio transport)")
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}
