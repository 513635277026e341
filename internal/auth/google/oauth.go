package google

import (
	"golang.org/x/oauth2"

	"github.com/ryokaneoka0406/wise/internal/config"
)

const googleAuthURL = "https://accounts.google.com/o/oauth2/auth"

// Scopes requested at consent time: OIDC for the account email plus
// read-only BigQuery access for metadata and queries.
var Scopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/bigquery.readonly",
}

// OAuthConfig builds the oauth2 client config from the loaded settings.
// The token endpoint comes from config so tests can point it at a fake.
func OAuthConfig(cfg *config.Config, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  googleAuthURL,
			TokenURL: cfg.TokenURL(),
		},
	}
}
