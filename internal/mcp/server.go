// Package mcp exposes the coordinator as an MCP tool server.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/budintel/internal/activity"
	"github.com/vthunder/budintel/internal/coordinator"
	"github.com/vthunder/budintel/internal/handlers"
	"github.com/vthunder/budintel/internal/health"
	"github.com/vthunder/budintel/internal/logging"
)

const (
	serverName    = "budintel"
	serverVersion = "0.1.0"
)

// Dependencies holds the services tools call into. Optional fields may be nil.
type Dependencies struct {
	Coordinator *coordinator.Coordinator

	// Used when a call omits user_id
	DefaultUser string

	Health   *health.Monitor
	Journal  *activity.Log
	Calendar handlers.CalendarHandler
	Tasks    handlers.TaskHandler

	// Called after every tool invocation with the tool name
	OnToolCall func(name string)
}

// NewServer builds an MCP server with every tool the dependencies support
func NewServer(deps *Dependencies) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
	)
	RegisterAll(s, deps)
	return s
}

// ServeStdio runs s over stdin/stdout until the client disconnects
func ServeStdio(s *server.MCPServer) error {
	logging.Info("mcp", "Serving over stdio")
	return server.ServeStdio(s)
}

// handlerFunc is the shape every tool body takes
type handlerFunc func(ctx context.Context, args map[string]any) (string, error)

// wrap adapts a tool body to mcp-go, turning errors into tool errors
func wrap(deps *Dependencies, name string, fn handlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		if args == nil {
			args = map[string]any{}
		}
		if deps.OnToolCall != nil {
			deps.OnToolCall(name)
		}

		out, err := fn(ctx, args)
		if err != nil {
			logging.Debug("mcp", "%s failed: %v", name, err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}
