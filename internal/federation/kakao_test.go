package federation_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/daylog-io/authd/internal/federation"
)

func TestKakaoFetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": 4242424242,
			"kakao_account": {
				"email": "bora@example.com",
				"profile": {"nickname": "bora", "profile_image_url": "https://example.com/b.png"}
			}
		}`))
	}))
	defer srv.Close()

	orig := federation.KakaoUserInfoEndpoint
	federation.KakaoUserInfoEndpoint = srv.URL
	defer func() { federation.KakaoUserInfoEndpoint = orig }()

	prov := federation.NewKakaoProvider(federation.Config{ClientID: "cid", ClientSecret: "sec"})
	profile, err := prov.FetchProfile(context.Background(), &oauth2.Token{AccessToken: "ext-token"})
	require.NoError(t, err)

	assert.Equal(t, "4242424242", profile.SubjectID)
	assert.Equal(t, "bora@example.com", profile.Email)
	assert.Equal(t, "bora", profile.Name)
}

func TestKakaoFetchProfileNoID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	orig := federation.KakaoUserInfoEndpoint
	federation.KakaoUserInfoEndpoint = srv.URL
	defer func() { federation.KakaoUserInfoEndpoint = orig }()

	prov := federation.NewKakaoProvider(federation.Config{ClientID: "cid", ClientSecret: "sec"})
	_, err := prov.FetchProfile(context.Background(), &oauth2.Token{AccessToken: "ext-token"})
	assert.Error(t, err)
}
