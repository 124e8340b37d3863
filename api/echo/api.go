package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/daylog-io/authd/domain"
	serrors "github.com/daylog-io/authd/errors"
	"github.com/daylog-io/authd/middleware"
	"github.com/daylog-io/authd/services"
)

// AuthAPI holds the dependencies behind the authentication HTTP surface.
type AuthAPI struct {
	auth       *services.AuthService
	sessions   *services.SessionService
	federation *services.FederationService

	// secureCookies disables the Secure attribute for local plain-HTTP
	// development. Always true in production.
	secureCookies bool
}

// NewAuthAPI initializes the authentication API.
func NewAuthAPI(
	auth *services.AuthService,
	sessions *services.SessionService,
	federation *services.FederationService,
	secureCookies bool,
) *AuthAPI {
	return &AuthAPI{
		auth:          auth,
		sessions:      sessions,
		federation:    federation,
		secureCookies: secureCookies,
	}
}

// RegisterRoutes registers the authentication routes.
func (a *AuthAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/auth/login", a.LoginHandler)
	e.POST("/auth/refresh", a.RefreshHandler)
	e.POST("/auth/logout", a.LogoutHandler)
	e.POST("/oauth2/callback/:provider", a.CallbackHandler)
	e.GET("/health", a.HealthHandler)
}

// LoginRequest is the local-credential login body.
type LoginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

// RefreshRequest is the token refresh body. The refresh token itself
// arrives in the provider's cookie, never in the body.
type RefreshRequest struct {
	ExpiredAccessToken string `json:"expiredAccessToken"`
	Provider           string `json:"provider"`
}

// CallbackRequest carries the temporary authorization code posted back by
// the client after the provider redirect.
type CallbackRequest struct {
	TemporaryCode string `json:"temporaryCode"`
}

// PrincipalView is the profile projection returned to clients. It never
// includes the credential or lifecycle fields.
type PrincipalView struct {
	ID     string   `json:"id"`
	Handle string   `json:"handle"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
}

func viewOf(p *domain.Principal) PrincipalView {
	return PrincipalView{
		ID:     p.ID,
		Handle: p.Handle,
		Email:  p.Email,
		Roles:  p.Roles,
	}
}

// LoginHandler handles POST /auth/login. On success the refresh token is
// returned in the body and additionally set as an HTTP-only cookie.
func (a *AuthAPI) LoginHandler(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return serrors.ErrUnauthorized.WithCause(err)
	}
	if req.Handle == "" || req.Password == "" {
		return serrors.ErrUnauthorized
	}

	result, err := a.auth.Login(c.Request().Context(), req.Handle, req.Password)
	if err != nil {
		return err
	}

	a.setRefreshCookie(c, domain.ProviderLocal, result.Tokens.RefreshToken)

	log.Info().
		Str("handle", req.Handle).
		Str("subject_id", result.Principal.ID).
		Msg("Local login completed")

	return c.JSON(http.StatusOK, echo.Map{
		"accessToken":  result.Tokens.AccessToken,
		"refreshToken": result.Tokens.RefreshToken,
		"expiresIn":    result.Tokens.ExpiresIn,
		"principal":    viewOf(result.Principal),
	})
}

// RefreshHandler handles POST /auth/refresh. The expired access token
// comes from the body; the presented refresh token comes from the cookie
// matching the requested provider.
func (a *AuthAPI) RefreshHandler(c echo.Context) error {
	var req RefreshRequest
	if err := c.Bind(&req); err != nil {
		return serrors.ErrInvalidAccessToken.WithCause(err)
	}
	if req.ExpiredAccessToken == "" {
		return serrors.ErrInvalidAccessToken
	}
	provider := req.Provider
	if provider == "" {
		provider = domain.ProviderLocal
	}

	cookie, err := c.Cookie(refreshCookieName(provider))
	if err != nil || cookie.Value == "" {
		return serrors.ErrRefreshTokenNotFound
	}

	pair, err := a.sessions.Refresh(c.Request().Context(), provider, req.ExpiredAccessToken, cookie.Value)
	if err != nil {
		// The slot may have been cleared; the stale cookie is useless now.
		if errors.Is(err, serrors.ErrRefreshTokenMismatch) {
			a.clearRefreshCookie(c, provider)
		}
		return err
	}

	a.setRefreshCookie(c, provider, pair.RefreshToken)

	return c.JSON(http.StatusOK, echo.Map{
		"accessToken": pair.AccessToken,
		"expiresIn":   pair.ExpiresIn,
	})
}

// LogoutHandler handles POST /auth/logout. The route is protected, so the
// gate has already attached the principal.
func (a *AuthAPI) LogoutHandler(c echo.Context) error {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return serrors.ErrUnauthorized
	}

	provider := c.QueryParam("provider")
	if provider == "" {
		provider = domain.ProviderLocal
	}

	if err := a.auth.Logout(c.Request().Context(), provider, principal.SubjectID); err != nil {
		log.Error().
			Err(err).
			Str("subject_id", principal.SubjectID).
			Msg("Failed to revoke refresh token on logout")
	}
	a.clearRefreshCookie(c, provider)

	return c.JSON(http.StatusOK, echo.Map{})
}

// CallbackHandler handles POST /oauth2/callback/:provider, completing a
// federated login from the temporary code the provider issued.
func (a *AuthAPI) CallbackHandler(c echo.Context) error {
	providerName := c.Param("provider")

	var req CallbackRequest
	if err := c.Bind(&req); err != nil {
		return serrors.ErrIdentityProviderError.WithCause(err)
	}

	result, err := a.federation.Login(c.Request().Context(), providerName, req.TemporaryCode)
	if err != nil {
		return err
	}

	a.setRefreshCookie(c, providerName, result.Tokens.RefreshToken)

	log.Info().
		Str("provider", providerName).
		Str("subject_id", result.Principal.ID).
		Bool("created", result.Created).
		Msg("Federated login completed")

	return c.JSON(http.StatusOK, echo.Map{
		"accessToken": result.Tokens.AccessToken,
		"expiresIn":   result.Tokens.ExpiresIn,
		"created":     result.Created,
		"principal":   viewOf(result.Principal),
	})
}

// HealthHandler is the liveness endpoint. It sits on the public allow-list
// and touches no backing store.
func (a *AuthAPI) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// refreshCookieName returns the cookie holding the refresh token for the
// given provider. The default local provider uses the bare name.
func refreshCookieName(provider string) string {
	if provider == domain.ProviderLocal {
		return "refreshToken"
	}
	return provider + "_refreshToken"
}

func (a *AuthAPI) setRefreshCookie(c echo.Context, provider, value string) {
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName(provider),
		Value:    value,
		Path:     "/",
		MaxAge:   int(a.sessions.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *AuthAPI) clearRefreshCookie(c echo.Context, provider string) {
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName(provider),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
