package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/nightfallai/nightfall-go-sdk/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LogLevel is the level of the default logger. It is set from the log-level setting before any
// command runs.
var LogLevel = new(slog.LevelVar)

var appConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "nightfall",
	Short: "Nightfall content inspection from the command line",
	Long: `Scans text and files for sensitive data with the Nightfall API, keeps a local ledger of
file scans, and receives the webhook notifications that complete them.

Settings come from flags, NIGHTFALL_* environment variables or a config.yaml in the current
directory or $HOME/.nightfall.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("base-url", "https://api.nightfall.ai", "Nightfall API base URL")
	rootCmd.PersistentFlags().Duration("timeout", 0, "HTTP request timeout (default 30s)")
	rootCmd.PersistentFlags().Uint64("max-retries", 3, "Retries on 429 and 503 responses, 0 disables")
	rootCmd.PersistentFlags().String("ledger-path", ".nightfall/ledger.db", "SQLite scan ledger path")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "AWS region for s3:// sources")
	rootCmd.PersistentFlags().String("work-dir", "", "Directory for downloaded S3 objects (default $TMPDIR/nightfall)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")

	for _, name := range []string{"base-url", "timeout", "max-retries", "ledger-path", "s3-region", "work-dir", "log-level"} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	level, _ := cfg.Level()
	LogLevel.Set(level)
	appConfig = cfg
	return nil
}
