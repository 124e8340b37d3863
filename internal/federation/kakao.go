package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
)

// Kakao does not publish endpoints in x/oauth2, so they are spelled out
// here. The userinfo endpoint is a var so tests can point it at a local
// server.
var (
	KakaoEndpoint = oauth2.Endpoint{
		AuthURL:  "https://kauth.kakao.com/oauth/authorize",
		TokenURL: "https://kauth.kakao.com/oauth/token",
	}
	KakaoUserInfoEndpoint = "https://kapi.kakao.com/v2/user/me"
)

// KakaoProvider implements the Provider interface for Kakao.
type KakaoProvider struct {
	conf *oauth2.Config
}

// NewKakaoProvider creates a new KakaoProvider.
func NewKakaoProvider(cfg Config) *KakaoProvider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"profile_nickname", "account_email"}
	}
	return &KakaoProvider{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     KakaoEndpoint,
		},
	}
}

func (k *KakaoProvider) Name() string { return "kakao" }

// Exchange swaps the temporary code for a provider access token.
func (k *KakaoProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return k.conf.Exchange(ctx, code)
}

// FetchProfile retrieves the subject profile from Kakao's user/me endpoint.
// Kakao reports the subject id as a number and nests email and nickname
// under kakao_account.
func (k *KakaoProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	client := k.conf.Client(ctx, token)
	resp, err := client.Get(KakaoUserInfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info from Kakao: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read Kakao user info response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: "kakao", Status: resp.StatusCode, Body: string(body)}
	}

	var raw struct {
		ID           int64 `json:"id"`
		KakaoAccount struct {
			Email   string `json:"email"`
			Profile struct {
				Nickname        string `json:"nickname"`
				ProfileImageURL string `json:"profile_image_url"`
			} `json:"profile"`
		} `json:"kakao_account"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Kakao user info: %w", err)
	}
	if raw.ID == 0 {
		return nil, fmt.Errorf("kakao user info has no id")
	}

	return &Profile{
		SubjectID:  strconv.FormatInt(raw.ID, 10),
		Email:      raw.KakaoAccount.Email,
		Name:       raw.KakaoAccount.Profile.Nickname,
		PictureURL: raw.KakaoAccount.Profile.ProfileImageURL,
	}, nil
}

var _ Provider = (*KakaoProvider)(nil)
