package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/fyrsmithlabs/triaged/internal/config"
)

const oobRedirectURL = "urn:ietf:wg:oauth:2.0:oob"

// oauthConfig builds the OAuth application config. The modify scope
// covers reading, archiving, and trashing.
func oauthConfig(cfg config.MailConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret.Value(),
		Endpoint:     google.Endpoint,
		RedirectURL:  oobRedirectURL,
		Scopes:       []string{gmail.GmailModifyScope},
	}
}

func validateOAuth(cfg config.MailConfig) error {
	if cfg.ClientID == "" || !cfg.ClientSecret.IsSet() {
		return fmt.Errorf("mail client_id and client_secret are required")
	}
	return nil
}

// AuthURL returns the consent URL the user opens to authorize access.
func AuthURL(cfg config.MailConfig) (string, error) {
	if err := validateOAuth(cfg); err != nil {
		return "", err
	}
	return oauthConfig(cfg).AuthCodeURL("state", oauth2.AccessTypeOffline), nil
}

// Authorize exchanges the pasted consent code and caches the token.
func Authorize(ctx context.Context, cfg config.MailConfig, code string) error {
	if err := validateOAuth(cfg); err != nil {
		return err
	}
	tok, err := oauthConfig(cfg).Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange auth code: %w", err)
	}
	return saveToken(config.ExpandHome(cfg.TokenPath), tok)
}

// HasToken reports whether a cached token exists.
func HasToken(cfg config.MailConfig) bool {
	_, err := os.Stat(config.ExpandHome(cfg.TokenPath))
	return err == nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// authorizedClient builds an HTTP client from the cached token. The
// token source refreshes expired access tokens through the refresh
// token transparently.
func authorizedClient(ctx context.Context, cfg config.MailConfig) (*http.Client, error) {
	if err := validateOAuth(cfg); err != nil {
		return nil, err
	}

	path := config.ExpandHome(cfg.TokenPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no cached gmail token (run \"triaged auth\"): %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token file %s: %w", path, err)
	}

	conf := oauthConfig(cfg)
	return oauth2.NewClient(ctx, conf.TokenSource(ctx, &tok)), nil
}
