package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/logging"
)

var (
	// Global flags
	verbose   bool
	redisAddr string
	timeout   time.Duration
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "automod",
	Short: "Layered AI moderation engine for subreddit content",
	Long: `automod runs moderator-authored rules through a layered cascade:
account heuristics, an external content classifier, and an LLM-backed rule
engine with budget-capped batched analysis.

The CLI covers the offline workflows: validating rule sets, inspecting AI
spend, and replaying fixture content through the cascade without touching
live content.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Initialize(verbose); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "localhost:6379", "redis address for state-backed commands")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "command timeout")

	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(costCmd)
	rootCmd.AddCommand(simulateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
