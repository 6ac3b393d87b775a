// Package googleauth loads the OAuth2 application credentials and the
// per-account token persisted under an account's storage root
// (credentials.json, token.<account>.json), and wires them into a
// refreshing oauth2.TokenSource for backend/google.
package googleauth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

const tokenScope = "https://www.googleapis.com/auth/tasks"

// appCredentials mirrors the subset of a Google "installed application"
// client secrets file this module needs.
type appCredentials struct {
	Installed struct {
		ClientID     string   `json:"client_id"`
		ClientSecret string   `json:"client_secret"`
		AuthURI      string   `json:"auth_uri"`
		TokenURI     string   `json:"token_uri"`
		RedirectURIs []string `json:"redirect_uris"`
	} `json:"installed"`
}

// LoadTokenSource reads credentials.json and the account's token file and
// returns a TokenSource that refreshes automatically and persists the
// refreshed token back to disk.
func LoadTokenSource(ctx context.Context, accountID, storageRoot, credentialsPath string) (oauth2.TokenSource, error) {
	credData, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", credentialsPath, err)
	}
	var creds appCredentials
	if err := json.Unmarshal(credData, &creds); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", credentialsPath, err)
	}

	cfg := &oauth2.Config{
		ClientID:     creds.Installed.ClientID,
		ClientSecret: creds.Installed.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  creds.Installed.AuthURI,
			TokenURL: creds.Installed.TokenURI,
		},
		Scopes: []string{tokenScope},
	}
	if len(creds.Installed.RedirectURIs) > 0 {
		cfg.RedirectURL = creds.Installed.RedirectURIs[0]
	}

	tokenPath := filepath.Join(storageRoot, "token."+accountID+".json")
	tok, err := loadToken(tokenPath)
	if err != nil {
		return nil, err
	}

	persisting := &persistingSource{
		inner: cfg.TokenSource(ctx, tok),
		path:  tokenPath,
		last:  tok,
	}
	return persisting, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w (run the account's interactive auth flow first)", path, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &tok, nil
}

// persistingSource wraps an oauth2.TokenSource, rewriting the on-disk
// token whenever a refresh produces a new one.
type persistingSource struct {
	inner oauth2.TokenSource
	path  string
	last  *oauth2.Token
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.inner.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != p.last.AccessToken {
		if werr := saveToken(p.path, tok); werr == nil {
			p.last = tok
		}
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
