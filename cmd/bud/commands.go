package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vthunder/budintel/internal/coordinator"
	"github.com/vthunder/budintel/internal/logging"
	"github.com/vthunder/budintel/internal/senses"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to Discord and answer messages",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Process a single message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Run one analysis pass and print the user's intelligence as JSON",
	Args:  cobra.NoArgs,
	RunE:  runInsights,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print process health as JSON",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(true)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logging.Error("main", "Shutdown: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	discord, err := senses.NewDiscord(senses.DiscordConfig{
		Token:     a.Config.DiscordToken,
		ChannelID: a.Config.DiscordChannel,
		OwnerID:   a.Config.DiscordOwner,
	}, func(ctx context.Context, m senses.Message) string {
		return formatReply(a.Coordinator.ProcessMessage(ctx, m.AuthorID, m.Content, "discord"))
	})
	if err != nil {
		return err
	}
	if err := discord.Start(); err != nil {
		return err
	}
	defer discord.Stop()

	if a.Health != nil {
		a.Health.Start(ctx)
	}
	if owner := a.Config.DiscordOwner; owner != "" {
		if _, err := a.Coordinator.Start(ctx, owner); err != nil {
			logging.Warn("main", "Failed to start intelligence for %s: %v", owner, err)
		}
	}

	logging.Info("main", "Running. Press Ctrl+C to stop.")
	<-ctx.Done()
	logging.Info("main", "Shutting down...")
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := loadApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := resolveUser(a.Config)
	if err != nil {
		return err
	}
	reply := a.Coordinator.ProcessMessage(cmd.Context(), user, strings.Join(args, " "), "cli")
	fmt.Fprintln(cmd.OutOrStdout(), formatReply(reply))
	if reply.Error != "" {
		return fmt.Errorf("%s", reply.Error)
	}
	return nil
}

func runInsights(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := resolveUser(a.Config)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if _, err := a.Coordinator.Start(ctx, user); err != nil {
		return err
	}
	// Start runs an unseeded pass; reconcile again to pull correlations in
	if err := a.Coordinator.Reconcile(ctx, user); err != nil {
		return err
	}
	intel, err := a.Coordinator.GetUserIntelligence(user)
	if err != nil {
		return err
	}
	return printJSON(cmd, intel)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Health == nil {
		return fmt.Errorf("process health unavailable")
	}
	snap, err := a.Health.Sample(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd, snap)
}

// formatReply renders a reply for chat, appending suggestions as bullets
func formatReply(r coordinator.Reply) string {
	var sb strings.Builder
	sb.WriteString(r.Message)
	if r.Error != "" && r.Message == "" {
		sb.WriteString("Sorry, that failed: " + r.Error)
	}
	if len(r.Suggestions) > 0 {
		sb.WriteString("\n\n")
		for _, s := range r.Suggestions {
			sb.WriteString("• " + s + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
