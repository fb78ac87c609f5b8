package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vthunder/budintel/internal/app"
	"github.com/vthunder/budintel/internal/config"
	"github.com/vthunder/budintel/internal/logging"
)

var (
	debug     bool
	rulesOnly bool
	userFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "bud",
	Short: "Calendar and task assistant with cross-domain intelligence",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			logging.SetDebug(true)
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&rulesOnly, "rules-only", false, "classify with correction rules only (no Ollama)")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "user ID (defaults to DISCORD_OWNER_ID)")

	rootCmd.AddCommand(serveCmd, askCmd, insightsCmd, statusCmd)
}

func main() {
	defer logging.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadApp reads and validates config, then wires the system
func loadApp(withDiscord bool) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(withDiscord); err != nil {
		return nil, err
	}
	return app.New(cfg, app.Options{RulesOnly: rulesOnly})
}

func resolveUser(cfg config.Config) (string, error) {
	if userFlag != "" {
		return userFlag, nil
	}
	if cfg.DiscordOwner != "" {
		return cfg.DiscordOwner, nil
	}
	return "", fmt.Errorf("no user: pass --user or set DISCORD_OWNER_ID")
}
