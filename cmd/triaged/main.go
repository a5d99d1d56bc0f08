// Triaged is a personal email triage daemon.
//
// It periodically pulls new Gmail messages, scrubs secrets from their
// text, embeds them, retrieves the most similar past decisions, and asks
// an LLM for a keep/discard verdict grounded in that context. Confident
// discards are archived (or trashed); uncertain ones wait in a review
// queue where confirmations and corrections feed the preference index.
//
// Configuration is loaded from ~/.config/triaged/config.yaml and
// TRIAGED_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Authorize Gmail access once
//	triaged auth
//
//	# Run the daemon (sync loop + HTTP API)
//	triaged serve
//
//	# Run a single sync cycle and exit
//	triaged sync
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag value; empty means the default
// ~/.config/triaged/config.yaml.
var configPath string

var rootCmd = &cobra.Command{
	Use:     "triaged",
	Short:   "Email triage daemon with a learned keep/discard memory",
	Version: version,
	Long: `triaged watches a Gmail inbox and sorts mail the way you would.

Every decision it makes, and every correction you give it, is stored and
embedded; future verdicts are grounded in the most similar past
decisions, so the triage gets more like yours over time.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.SetVersionTemplate(fmt.Sprintf("triaged %s (commit %s, built %s)\n", version, gitCommit, buildDate))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(purgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
