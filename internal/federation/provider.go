// Package federation holds the clients for external OAuth2 identity
// providers: code exchange and profile fetch, one implementation per
// provider.
package federation

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// Profile is the standardized subject profile fetched from a provider.
type Profile struct {
	// SubjectID is the user's unique id at the provider (e.g. Google's
	// "sub" claim, Kakao's numeric id).
	SubjectID  string
	Email      string
	Name       string
	PictureURL string
}

// Config holds the OAuth2 client settings for one provider, sourced from
// configuration at startup.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Provider exchanges a temporary authorization code and fetches the
// external profile. Implementations are stateless and safe for concurrent
// use.
type Provider interface {
	Name() string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error)
}

// StatusError reports a non-2xx response from a provider endpoint. A 4xx is
// an explicit rejection and must not be retried; a 5xx may be transient.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, e.Body)
}

// Temporary reports whether the failure is worth a single retry.
func (e *StatusError) Temporary() bool {
	return e.Status >= http.StatusInternalServerError
}
