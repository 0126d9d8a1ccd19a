// spachat - terminal client for the supplier performance analysis agent.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/procurelabs/spachat/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "spachat",
	Short: "Chat with the supplier performance analysis agent",
	Long: `spachat talks to the supplier performance analysis agent gateway over
WebSocket: streaming chat replies, generated-chart visualization, and
workspace file listings.`,
	SilenceUsage: true,
}

var verbose bool

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(stubCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the environment and builds the logger plus configuration
// shared by every subcommand.
func setup() (*config.Config, *slog.Logger, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
