package echo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/daylog-io/authd/cache"
	"github.com/daylog-io/authd/domain"
	"github.com/daylog-io/authd/internal/federation"
	"github.com/daylog-io/authd/middleware"
	"github.com/daylog-io/authd/services"
	"github.com/daylog-io/authd/token"
)

var (
	apiAccessKey  = []byte("api-test-access-key-0123456789abcde")
	apiRefreshKey = []byte("api-test-refresh-key-0123456789abcd")
)

type stubPrincipals struct {
	mu   sync.Mutex
	byID map[string]*domain.Principal
}

func (r *stubPrincipals) Create(_ context.Context, p *domain.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Handle == p.Handle || (p.Email != "" && existing.Email == p.Email) {
			return domain.ErrDuplicate
		}
	}
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

func (r *stubPrincipals) GetByID(_ context.Context, id string) (*domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *stubPrincipals) GetByHandle(_ context.Context, handle string) (*domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.Handle == handle {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *stubPrincipals) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		p.LastLoginAt = &at
		return nil
	}
	return domain.ErrNotFound
}

type stubIdentities struct {
	mu    sync.Mutex
	links []*domain.LinkedIdentity
}

func (r *stubIdentities) Create(_ context.Context, li *domain.LinkedIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.Provider == li.Provider && l.ExternalSubjectID == li.ExternalSubjectID {
			return domain.ErrDuplicate
		}
	}
	cp := *li
	r.links = append(r.links, &cp)
	return nil
}

func (r *stubIdentities) GetByProviderSubject(_ context.Context, provider, externalSubjectID string) (*domain.LinkedIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.Provider == provider && l.ExternalSubjectID == externalSubjectID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *stubIdentities) UpdateEmail(_ context.Context, id, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.ID == id {
			l.ExternalEmail = email
			return nil
		}
	}
	return domain.ErrNotFound
}

type stubHasher struct{}

func (stubHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (stubHasher) Verify(hashedPassword, password string) error {
	if hashedPassword != "plain:"+password {
		return errors.New("mismatch")
	}
	return nil
}

type stubProvider struct {
	name        string
	exchangeErr error
	profile     *federation.Profile
}

func (f *stubProvider) Name() string { return f.name }

func (f *stubProvider) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &oauth2.Token{AccessToken: "ext-" + code}, nil
}

func (f *stubProvider) FetchProfile(_ context.Context, _ *oauth2.Token) (*federation.Profile, error) {
	return f.profile, nil
}

type testEnv struct {
	e        *echo.Echo
	codec    *token.Codec
	provider *stubProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	principals := &stubPrincipals{byID: map[string]*domain.Principal{
		"p-1": {
			ID:           "p-1",
			Handle:       "alice",
			Email:        "alice@example.com",
			PasswordHash: "plain:correct",
			Roles:        []string{domain.RoleUser},
			Status:       domain.PrincipalStatusActive,
		},
	}}
	identities := &stubIdentities{}

	codec := token.NewCodec(apiAccessKey, apiRefreshKey)
	store := cache.NewMemoryRefreshStore()
	t.Cleanup(func() { _ = store.Close() })

	sessions := services.NewSessionService(codec, store, time.Minute, time.Hour, 2*time.Second)
	auth := services.NewAuthService(principals, sessions, stubHasher{})

	provider := &stubProvider{
		name: "google",
		profile: &federation.Profile{
			SubjectID: "ext-42",
			Email:     "bob@gmail.com",
			Name:      "Bob",
		},
	}
	fed := services.NewFederationService(
		[]federation.Provider{provider},
		principals, identities, sessions, stubHasher{}, 2*time.Second,
	)
	t.Cleanup(fed.Stop)

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	gate := middleware.NewGate(codec, []string{
		"/auth/login", "/auth/refresh", "/oauth2/callback/*", "/health",
	})
	e.Use(gate.Middleware())

	api := NewAuthAPI(auth, sessions, fed, false)
	api.RegisterRoutes(e)

	return &testEnv{e: e, codec: codec, provider: provider}
}

func (env *testEnv) post(t *testing.T, path string, body any, mut ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for _, m := range mut {
		m(req)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	require.Equal(t, "error", body["status"])
	require.NotEmpty(t, body["message"])
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "error body carries a data object")
	code, _ := data["code"].(string)
	return code
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginSetsTokensAndCookie(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/auth/login", map[string]string{"handle": "alice", "password": "correct"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.NotEmpty(t, body["accessToken"])
	assert.NotEmpty(t, body["refreshToken"])
	principal, ok := body["principal"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", principal["handle"])

	cookie := findCookie(rec, "refreshToken")
	require.NotNil(t, cookie)
	assert.Equal(t, body["refreshToken"], cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, int(time.Hour.Seconds()), cookie.MaxAge)
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/auth/login", map[string]string{"handle": "alice", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", errorCode(t, rec))
	assert.Nil(t, findCookie(rec, "refreshToken"))
}

func TestRefreshRotates(t *testing.T) {
	env := newTestEnv(t)

	login := env.post(t, "/auth/login", map[string]string{"handle": "alice", "password": "correct"})
	require.Equal(t, http.StatusOK, login.Code)
	access := decode(t, login)["accessToken"].(string)
	cookie := findCookie(login, "refreshToken")
	require.NotNil(t, cookie)

	rec := env.post(t, "/auth/refresh",
		map[string]string{"expiredAccessToken": access},
		func(r *http.Request) { r.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value}) },
	)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["accessToken"])

	rotated := findCookie(rec, "refreshToken")
	require.NotNil(t, rotated)
	assert.NotEqual(t, cookie.Value, rotated.Value)

	// The superseded cookie is rejected and the slot is revoked.
	replay := env.post(t, "/auth/refresh",
		map[string]string{"expiredAccessToken": access},
		func(r *http.Request) { r.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value}) },
	)
	require.Equal(t, http.StatusUnauthorized, replay.Code)
	assert.Equal(t, "RefreshTokenMismatch", errorCode(t, replay))
	cleared := findCookie(replay, "refreshToken")
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
}

func TestRefreshWithoutCookie(t *testing.T) {
	env := newTestEnv(t)

	login := env.post(t, "/auth/login", map[string]string{"handle": "alice", "password": "correct"})
	access := decode(t, login)["accessToken"].(string)

	rec := env.post(t, "/auth/refresh", map[string]string{"expiredAccessToken": access})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "RefreshTokenNotFound", errorCode(t, rec))
}

func TestRefreshCorruptAccessToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/auth/refresh",
		map[string]string{"expiredAccessToken": "not-a-token"},
		func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "refreshToken", Value: "anything"}) },
	)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidAccessToken", errorCode(t, rec))
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newTestEnv(t)

	login := env.post(t, "/auth/login", map[string]string{"handle": "alice", "password": "correct"})
	body := decode(t, login)
	access := body["accessToken"].(string)
	refresh := body["refreshToken"].(string)

	rec := env.post(t, "/auth/logout", nil, func(r *http.Request) {
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+access)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := findCookie(rec, "refreshToken")
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	// The stored slot is gone, so refresh no longer works.
	after := env.post(t, "/auth/refresh",
		map[string]string{"expiredAccessToken": access},
		func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "refreshToken", Value: refresh}) },
	)
	require.Equal(t, http.StatusUnauthorized, after.Code)
	assert.Equal(t, "RefreshTokenNotFound", errorCode(t, after))
}

func TestProtectedRouteExpiredToken(t *testing.T) {
	env := newTestEnv(t)

	expired, err := env.codec.Issue(token.KindAccess, "p-1", []string{domain.RoleUser}, -time.Minute)
	require.NoError(t, err)

	rec := env.post(t, "/auth/logout", nil, func(r *http.Request) {
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+expired)
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TokenExpired", errorCode(t, rec))
}

func TestProtectedRouteMissingToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/auth/logout", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", errorCode(t, rec))
}

func TestCallbackCreatesAccount(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/oauth2/callback/google", map[string]string{"temporaryCode": "code-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.NotEmpty(t, body["accessToken"])
	assert.Equal(t, true, body["created"])
	principal, ok := body["principal"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bob", principal["handle"])

	cookie := findCookie(rec, "google_refreshToken")
	require.NotNil(t, cookie)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)
}

func TestCallbackProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	env.provider.exchangeErr = errors.New("connection reset")

	rec := env.post(t, "/oauth2/callback/google", map[string]string{"temporaryCode": "code-2"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "IdentityProviderError", errorCode(t, rec))
}

func TestCallbackUnknownProvider(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/oauth2/callback/github", map[string]string{"temporaryCode": "code-3"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "IdentityProviderError", errorCode(t, rec))
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}
