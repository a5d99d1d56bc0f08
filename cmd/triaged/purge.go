package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

// serverURL is the base URL for the running triaged daemon.
var serverURL string

var purgeCmd = &cobra.Command{
	Use:   "purge <email-id>",
	Short: "Remove an email and its decision history",
	Long: `Remove an email from the running daemon: its stored record, its
entire decision history, and its preference index entry.

Examples:

  # Purge one email by Gmail message id
  triaged purge 18c2f3a9d4e5b6f7

  # Against a daemon on another port
  triaged purge --server http://localhost:9090 18c2f3a9d4e5b6f7`,
	Args: cobra.ExactArgs(1),
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8000", "triaged server URL")
}

func runPurge(cmd *cobra.Command, args []string) error {
	target := fmt.Sprintf("%s/emails/%s", serverURL, url.PathEscape(args[0]))

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodDelete, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", target, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		fmt.Printf("Purged %s\n", args[0])
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("email %s not found", args[0])
	default:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
}
