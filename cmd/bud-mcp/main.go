package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vthunder/budintel/internal/app"
	"github.com/vthunder/budintel/internal/config"
	"github.com/vthunder/budintel/internal/logging"
	"github.com/vthunder/budintel/internal/mcp"
)

func main() {
	// Logs go to stderr so stdout stays clean for JSON-RPC
	defer logging.Sync()
	logging.Info("bud-mcp", "Starting MCP server...")

	cfg, err := config.Load()
	if err != nil {
		logging.Error("bud-mcp", "Config: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(false); err != nil {
		logging.Error("bud-mcp", "Config: %v", err)
		os.Exit(1)
	}

	a, err := app.New(cfg, app.Options{RulesOnly: os.Getenv("CLASSIFIER_RULES_ONLY") == "true"})
	if err != nil {
		logging.Error("bud-mcp", "Failed to wire app: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if a.Health != nil {
		a.Health.Start(ctx)
	}

	s := mcp.NewServer(&mcp.Dependencies{
		Coordinator: a.Coordinator,
		DefaultUser: cfg.DiscordOwner,
		Health:      a.Health,
		Journal:     a.Journal,
		Calendar:    a.Calendar,
		Tasks:       a.Tasks,
		OnToolCall: func(name string) {
			logging.Debug("bud-mcp", "Tool call: %s", name)
		},
	})

	serveErr := mcp.ServeStdio(s)
	if err := a.Close(); err != nil {
		logging.Error("bud-mcp", "Shutdown: %v", err)
	}
	if serveErr != nil {
		logging.Error("bud-mcp", "Server error: %v", serveErr)
		os.Exit(1)
	}
}
