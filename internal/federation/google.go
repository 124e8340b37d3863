package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	googleoauth2 "golang.org/x/oauth2/google"
)

// GoogleUserInfoEndpoint is a var so tests can point it at a local server.
var GoogleUserInfoEndpoint = "https://www.googleapis.com/oauth2/v3/userinfo"

// GoogleProvider implements the Provider interface for Google.
type GoogleProvider struct {
	conf *oauth2.Config
}

// NewGoogleProvider creates a new GoogleProvider. The openid/profile/email
// scopes are used unless the configuration names others.
func NewGoogleProvider(cfg Config) *GoogleProvider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}
	return &GoogleProvider{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     googleoauth2.Endpoint,
		},
	}
}

func (g *GoogleProvider) Name() string { return "google" }

// Exchange swaps the temporary code for a provider access token.
func (g *GoogleProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return g.conf.Exchange(ctx, code)
}

// FetchProfile retrieves the subject profile from Google's userinfo
// endpoint.
func (g *GoogleProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	client := g.conf.Client(ctx, token)
	resp, err := client.Get(GoogleUserInfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info from Google: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read Google user info response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: "google", Status: resp.StatusCode, Body: string(body)}
	}

	var raw struct {
		Sub        string `json:"sub"`
		Name       string `json:"name"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
		Picture    string `json:"picture"`
		Email      string `json:"email"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Google user info: %w", err)
	}
	if raw.Sub == "" {
		return nil, fmt.Errorf("google user info has no sub claim")
	}

	return &Profile{
		SubjectID:  raw.Sub,
		Email:      raw.Email,
		Name:       raw.Name,
		PictureURL: raw.Picture,
	}, nil
}

var _ Provider = (*GoogleProvider)(nil)
