package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/daylog-io/authd/domain"
	serrors "github.com/daylog-io/authd/errors"
	"github.com/daylog-io/authd/internal/metrics"
)

// PasswordHasher hashes and verifies password credentials.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hashedPassword, password string) error
}

// LoginResult is a completed local login.
type LoginResult struct {
	Principal *domain.Principal
	Tokens    *TokenPair
}

// AuthService handles local-credential login against the principal
// directory.
type AuthService struct {
	principals domain.PrincipalRepository
	sessions   *SessionService
	hasher     PasswordHasher
}

// NewAuthService creates a new AuthService instance.
func NewAuthService(principals domain.PrincipalRepository, sessions *SessionService, hasher PasswordHasher) *AuthService {
	return &AuthService{
		principals: principals,
		sessions:   sessions,
		hasher:     hasher,
	}
}

// Login verifies a handle/password pair and mints a session under the
// "server" provider. Credential failures and unknown handles are both
// reported as Unauthorized so the response does not leak which handles
// exist. The status check runs after the credential check: a blocked
// principal cannot log in regardless of credential correctness.
func (s *AuthService) Login(ctx context.Context, handle, password string) (*LoginResult, error) {
	principal, err := s.principals.GetByHandle(ctx, handle)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.LoginFailureTotal.Inc()
		return nil, serrors.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("look up principal: %w", err)
	}

	if principal.PasswordHash == "" {
		// Purely federated account with no usable local credential.
		metrics.LoginFailureTotal.Inc()
		return nil, serrors.ErrUnauthorized
	}
	if err := s.hasher.Verify(principal.PasswordHash, password); err != nil {
		metrics.LoginFailureTotal.Inc()
		return nil, serrors.ErrUnauthorized
	}

	if !principal.IsActive() {
		metrics.LoginFailureTotal.Inc()
		return nil, serrors.ErrPrincipalNotActive
	}

	tokens, err := s.sessions.Mint(ctx, domain.ProviderLocal, principal)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.principals.UpdateLastLogin(ctx, principal.ID, now); err != nil {
		log.Warn().Err(err).Str("principal", principal.ID).Msg("failed to update last login")
	}
	principal.LastLoginAt = &now

	metrics.LoginSuccessTotal.Inc()
	return &LoginResult{Principal: principal, Tokens: tokens}, nil
}

// Logout revokes the refresh slot for the given provider session.
func (s *AuthService) Logout(ctx context.Context, provider, subjectID string) error {
	return s.sessions.Revoke(ctx, provider, subjectID)
}
