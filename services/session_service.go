package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/daylog-io/authd/cache"
	"github.com/daylog-io/authd/domain"
	serrors "github.com/daylog-io/authd/errors"
	"github.com/daylog-io/authd/internal/metrics"
	"github.com/daylog-io/authd/token"
)

// TokenPair is a freshly minted access/refresh pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access-token lifetime in seconds.
	ExpiresIn int
}

// SessionService coordinates the refresh-rotation protocol: it mints token
// pairs on login and rotates the stored refresh token on every use.
type SessionService struct {
	codec *token.Codec
	store cache.RefreshTokenStore

	accessTTL    time.Duration
	refreshTTL   time.Duration
	storeTimeout time.Duration
}

// NewSessionService creates a new SessionService instance.
func NewSessionService(
	codec *token.Codec,
	store cache.RefreshTokenStore,
	accessTTL, refreshTTL, storeTimeout time.Duration,
) *SessionService {
	return &SessionService{
		codec:        codec,
		store:        store,
		accessTTL:    accessTTL,
		refreshTTL:   refreshTTL,
		storeTimeout: storeTimeout,
	}
}

// RefreshTTL exposes the refresh lifetime for cookie Max-Age.
func (s *SessionService) RefreshTTL() time.Duration { return s.refreshTTL }

// storeCtx bounds a store round trip. Every store call is a network
// operation and must not hang past the configured timeout.
func (s *SessionService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Mint issues a new token pair for a principal and stores the refresh token
// under the (provider, subject) slot, superseding any previous session on
// that slot. This is the login path; there is no prior token to rotate.
func (s *SessionService) Mint(ctx context.Context, provider string, principal *domain.Principal) (*TokenPair, error) {
	access, err := s.codec.Issue(token.KindAccess, principal.ID, principal.Roles, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.codec.Issue(token.KindRefresh, principal.ID, nil, s.refreshTTL)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.Set(sctx, provider, principal.ID, refresh, s.refreshTTL); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

// Refresh validates an expired access token plus the presented refresh
// token and atomically rotates the stored refresh token. At most one
// rotation per stored value can succeed; a presented token that was already
// rotated away fails with RefreshTokenMismatch and clears the slot.
func (s *SessionService) Refresh(ctx context.Context, provider, expiredAccess, presented string) (*TokenPair, error) {
	// The subject (and role set) come from the expired access token. Its
	// signature must still verify; only the expiry is ignored.
	claims, err := s.codec.ExtractClaims(token.KindAccess, expiredAccess)
	if err != nil {
		return nil, serrors.ErrInvalidAccessToken.WithCause(err)
	}
	subjectID := claims.Subject

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	stored, err := s.store.Get(sctx, provider, subjectID)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, serrors.ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read refresh slot: %w", err)
	}

	if _, err := s.codec.Verify(token.KindRefresh, stored); err != nil {
		if errors.Is(err, serrors.ErrTokenExpired) {
			return nil, serrors.ErrRefreshTokenExpired.WithCause(err)
		}
		return nil, err
	}

	// Exact equality against the stored value, not just signature validity,
	// is what detects reuse of a superseded token. The slot is cleared on
	// mismatch: a replayed token revokes the whole session.
	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		if err := s.store.Delete(sctx, provider, subjectID); err != nil {
			log.Warn().Err(err).Str("provider", provider).Str("subject", subjectID).
				Msg("failed to clear refresh slot after mismatch")
		}
		log.Warn().Str("provider", provider).Str("subject", subjectID).
			Msg("refresh token mismatch, slot revoked")
		metrics.RefreshReuseDetectedTotal.Inc()
		return nil, serrors.ErrRefreshTokenMismatch
	}

	next, err := s.codec.Issue(token.KindRefresh, subjectID, nil, s.refreshTTL)
	if err != nil {
		return nil, err
	}

	swapped, err := s.store.Replace(sctx, provider, subjectID, stored, next, s.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !swapped {
		// A concurrent rotation won between our read and the swap.
		return nil, serrors.ErrRefreshTokenMismatch
	}

	access, err := s.codec.Issue(token.KindAccess, subjectID, claims.Roles, s.accessTTL)
	if err != nil {
		return nil, err
	}

	metrics.TokensRefreshedTotal.Inc()
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: next,
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

// Revoke clears the (provider, subject) refresh slot. Used on logout.
func (s *SessionService) Revoke(ctx context.Context, provider, subjectID string) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.Delete(sctx, provider, subjectID)
}
