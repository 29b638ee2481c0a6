package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/chatd/internal/analytics"
	"github.com/kalambet/chatd/internal/tools"
)

// sessionArg names the extra getChatHistory argument MCP callers must pass,
// since an MCP call carries no chat session of its own.
const sessionArg = "sessionId"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Registry *tools.Registry
	Reporter *analytics.Reporter // optional; if nil, the analytics resource is not registered
	Version  string
	Logger   *slog.Logger
}

// NewMCPServer exposes every registered tool over MCP.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := server.NewMCPServer(
		"chatd",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("chatd: clock, weather and conversation history tools."),
		server.WithRecovery(),
	)

	dispatcher := tools.NewDispatcher(deps.Registry, deps.Logger)
	for _, d := range deps.Registry.Declarations() {
		s.AddTool(mcpTool(d), mcpDispatch(dispatcher, d.Name))
	}

	if deps.Reporter != nil {
		s.AddResource(
			mcp.NewResource(
				"chatd://analytics",
				"Usage Analytics",
				mcp.WithResourceDescription("Daily counters and summary for the last 7 days"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceAnalytics(deps),
		)
	}

	return s
}

// mcpTool mirrors a tool declaration as an MCP tool schema.
func mcpTool(d tools.Declaration) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(d.Description)}
	for _, p := range d.Parameters {
		props := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			props = append(props, mcp.Required())
		}
		switch p.Type {
		case tools.TypeNumber:
			opts = append(opts, mcp.WithNumber(p.Name, props...))
		default:
			opts = append(opts, mcp.WithString(p.Name, props...))
		}
	}
	if d.Name == tools.NameChatHistory {
		opts = append(opts, mcp.WithString(sessionArg,
			mcp.Description("Session whose history to read"),
			mcp.Required(),
		))
	}
	return mcp.NewTool(d.Name, opts...)
}

func mcpDispatch(d *tools.Dispatcher, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sc := tools.SessionContext{SessionID: req.GetString(sessionArg, "")}
		if name == tools.NameChatHistory && sc.SessionID == "" {
			return mcpError("sessionId is required"), nil
		}

		args := make(map[string]any)
		for k, v := range req.GetArguments() {
			if k != sessionArg {
				args[k] = v
			}
		}

		res := d.Dispatch(ctx, tools.Call{Name: name, Arguments: args}, sc)
		if res.IsError() {
			return mcpError(res.Err()), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceAnalytics(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rep, err := deps.Reporter.Report(ctx, analytics.DefaultDays)
		if err != nil {
			return nil, fmt.Errorf("failed to build report: %w", err)
		}
		return jsonResource(req.Params.URI, rep)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
