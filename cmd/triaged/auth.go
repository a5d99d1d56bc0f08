package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/triaged/internal/config"
	"github.com/fyrsmithlabs/triaged/internal/mail"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize Gmail access",
	Long: `Run the one-time OAuth flow and cache the Gmail token.

Requires mail.client_id and mail.client_secret in the configuration.
Open the printed URL in a browser, approve access, and paste the code
back here. The token is cached with owner-only permissions and refreshed
automatically afterwards.`,
	RunE: runAuth,
}

func runAuth(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if mail.HasToken(cfg.Mail) {
		fmt.Println("A Gmail token is already cached; continuing will replace it.")
	}

	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	url, err := mail.AuthURL(cfg.Mail)
	if err != nil {
		return err
	}

	fmt.Println("Open this URL in a browser and approve access:")
	fmt.Println()
	fmt.Printf("  %s\n", url)
	fmt.Println()
	fmt.Print("Paste the authorization code: ")

	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("no authorization code entered")
	}

	if err := mail.Authorize(cmd.Context(), cfg.Mail, code); err != nil {
		return err
	}

	fmt.Printf("Token saved to %s\n", config.ExpandHome(cfg.Mail.TokenPath))
	return nil
}
