package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/daylog-io/authd/domain"
	serrors "github.com/daylog-io/authd/errors"
	"github.com/daylog-io/authd/internal/federation"
	"github.com/daylog-io/authd/internal/metrics"
)

const (
	// handleCollisionAttempts bounds the deterministic suffixing loop when
	// deriving a unique handle for a new federated principal.
	handleCollisionAttempts = 5

	// usedCodeTTL is how long an already-exchanged temporary code is
	// remembered so a double-posted callback cannot exchange it twice.
	usedCodeTTL = 5 * time.Minute

	providerRetryDelay = 200 * time.Millisecond
)

// FederatedLogin is a completed federated login.
type FederatedLogin struct {
	Principal *domain.Principal
	Tokens    *TokenPair
	// Created is true when this login created the principal.
	Created bool
}

// FederationService turns a third-party login callback into a local
// session: code exchange, profile fetch, find-or-create of the principal
// and its LinkedIdentity, then a session mint.
type FederationService struct {
	providers  map[string]federation.Provider
	principals domain.PrincipalRepository
	identities domain.LinkedIdentityRepository
	sessions   *SessionService
	hasher     PasswordHasher

	usedCodes       *ttlcache.Cache[string, struct{}]
	providerTimeout time.Duration
}

// NewFederationService creates a new FederationService instance.
func NewFederationService(
	providers []federation.Provider,
	principals domain.PrincipalRepository,
	identities domain.LinkedIdentityRepository,
	sessions *SessionService,
	hasher PasswordHasher,
	providerTimeout time.Duration,
) *FederationService {
	byName := make(map[string]federation.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	usedCodes := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](usedCodeTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go usedCodes.Start()

	return &FederationService{
		providers:       byName,
		principals:      principals,
		identities:      identities,
		sessions:        sessions,
		hasher:          hasher,
		usedCodes:       usedCodes,
		providerTimeout: providerTimeout,
	}
}

// Stop should be called on shutdown to stop the code-guard cleanup.
func (s *FederationService) Stop() {
	s.usedCodes.Stop()
}

// Login resolves a provider callback into a local session.
func (s *FederationService) Login(ctx context.Context, providerName, code string) (*FederatedLogin, error) {
	prov, ok := s.providers[providerName]
	if !ok {
		return nil, serrors.ErrIdentityProviderError.WithCause(fmt.Errorf("unknown provider %q", providerName))
	}
	if code == "" {
		return nil, serrors.ErrIdentityProviderError.WithCause(errors.New("empty temporary code"))
	}

	codeKey := providerName + ":" + code
	if s.usedCodes.Has(codeKey) {
		return nil, serrors.ErrIdentityProviderError.WithCause(errors.New("temporary code already used"))
	}

	pctx := ctx
	if s.providerTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, s.providerTimeout)
		defer cancel()
	}

	extToken, err := s.exchangeCode(pctx, prov, code)
	if err != nil {
		log.Warn().Err(err).Str("provider", providerName).Msg("code exchange failed")
		return nil, serrors.ErrIdentityProviderError.WithCause(err)
	}
	// The provider has consumed the code now; only then does the replay
	// guard record it, so a failed exchange leaves the code retryable.
	s.usedCodes.Set(codeKey, struct{}{}, ttlcache.DefaultTTL)
	profile, err := s.fetchProfile(pctx, prov, extToken)
	if err != nil {
		log.Warn().Err(err).Str("provider", providerName).Msg("profile fetch failed")
		return nil, serrors.ErrIdentityProviderError.WithCause(err)
	}

	link, err := s.identities.GetByProviderSubject(ctx, providerName, profile.SubjectID)

	var result *FederatedLogin
	switch {
	case err == nil:
		result, err = s.loginExisting(ctx, providerName, link, profile)
	case errors.Is(err, domain.ErrNotFound):
		result, err = s.registerAndLogin(ctx, providerName, profile)
	default:
		return nil, fmt.Errorf("look up linked identity: %w", err)
	}
	if err != nil {
		return nil, err
	}

	metrics.FederatedLoginTotal.Inc()
	if result.Created {
		metrics.PrincipalsRegisteredTotal.Inc()
	}
	return result, nil
}

// exchangeCode performs the code exchange with a single retry for transport
// failures. An explicit provider response (oauth2.RetrieveError) is final.
func (s *FederationService) exchangeCode(ctx context.Context, prov federation.Provider, code string) (*oauth2.Token, error) {
	tok, err := prov.Exchange(ctx, code)
	if err == nil {
		return tok, nil
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return nil, err
	}
	if waitErr := sleepCtx(ctx, providerRetryDelay); waitErr != nil {
		return nil, err
	}
	return prov.Exchange(ctx, code)
}

// fetchProfile retries once for transport failures and provider 5xx; a 4xx
// rejection is final.
func (s *FederationService) fetchProfile(ctx context.Context, prov federation.Provider, tok *oauth2.Token) (*federation.Profile, error) {
	profile, err := prov.FetchProfile(ctx, tok)
	if err == nil {
		return profile, nil
	}
	var statusErr *federation.StatusError
	if errors.As(err, &statusErr) && !statusErr.Temporary() {
		return nil, err
	}
	if waitErr := sleepCtx(ctx, providerRetryDelay); waitErr != nil {
		return nil, err
	}
	return prov.FetchProfile(ctx, tok)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *FederationService) loginExisting(ctx context.Context, providerName string, link *domain.LinkedIdentity, profile *federation.Profile) (*FederatedLogin, error) {
	principal, err := s.principals.GetByID(ctx, link.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("load principal %s for link: %w", link.PrincipalID, err)
	}
	if !principal.IsActive() {
		return nil, serrors.ErrPrincipalNotActive
	}

	if profile.Email != "" && profile.Email != link.ExternalEmail {
		if err := s.identities.UpdateEmail(ctx, link.ID, profile.Email); err != nil {
			log.Warn().Err(err).Str("link", link.ID).Msg("failed to refresh linked-identity email")
		}
	}

	tokens, err := s.sessions.Mint(ctx, providerName, principal)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.principals.UpdateLastLogin(ctx, principal.ID, now); err != nil {
		log.Warn().Err(err).Str("principal", principal.ID).Msg("failed to update last login")
	}
	principal.LastLoginAt = &now

	return &FederatedLogin{Principal: principal, Tokens: tokens}, nil
}

// registerAndLogin creates a fresh principal for a never-seen external
// identity, links it, and mints a session. No auto-merge with principals
// owned by other providers, even on matching email.
func (s *FederationService) registerAndLogin(ctx context.Context, providerName string, profile *federation.Profile) (*FederatedLogin, error) {
	base := handleFromProfile(providerName, profile)

	for attempt := 0; attempt < handleCollisionAttempts; attempt++ {
		handle := base
		if attempt > 0 {
			handle = fmt.Sprintf("%s%d", base, attempt)
		}

		_, err := s.principals.GetByHandle(ctx, handle)
		if err == nil {
			continue // handle taken, suffix and retry
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("probe handle %q: %w", handle, err)
		}

		// A generated, unlinked credential: the account works only through
		// the provider until the owner sets a password of their own.
		passwordHash, err := s.hasher.Hash(uuid.NewString())
		if err != nil {
			return nil, fmt.Errorf("generate unlinked credential: %w", err)
		}

		now := time.Now()
		principal := &domain.Principal{
			ID:           uuid.NewString(),
			Handle:       handle,
			Email:        profile.Email,
			PasswordHash: passwordHash,
			Roles:        []string{domain.RoleUser},
			Status:       domain.PrincipalStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.principals.Create(ctx, principal); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				continue // lost a race on the handle
			}
			return nil, fmt.Errorf("create principal: %w", err)
		}

		link := &domain.LinkedIdentity{
			ID:                uuid.NewString(),
			PrincipalID:       principal.ID,
			Provider:          providerName,
			ExternalSubjectID: profile.SubjectID,
			ExternalEmail:     profile.Email,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.identities.Create(ctx, link); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				// A concurrent first login with the same external identity
				// won; use the winner's link so resolution stays idempotent.
				existing, lookupErr := s.identities.GetByProviderSubject(ctx, providerName, profile.SubjectID)
				if lookupErr == nil {
					return s.loginExisting(ctx, providerName, existing, profile)
				}
				return nil, fmt.Errorf("link lost race and winner not found: %w", lookupErr)
			}
			return nil, fmt.Errorf("create linked identity: %w", err)
		}

		log.Info().Str("principal", principal.ID).Str("provider", providerName).
			Str("handle", handle).Msg("new principal created via federation")

		tokens, err := s.sessions.Mint(ctx, providerName, principal)
		if err != nil {
			return nil, err
		}
		return &FederatedLogin{Principal: principal, Tokens: tokens, Created: true}, nil
	}

	return nil, serrors.ErrAccountLinkingConflict
}

// handleFromProfile derives a candidate login handle: the email local part
// when present, then the display name, then a provider-scoped fallback.
func handleFromProfile(providerName string, profile *federation.Profile) string {
	if at := strings.IndexByte(profile.Email, '@'); at > 0 {
		if h := sanitizeHandle(profile.Email[:at]); h != "" {
			return h
		}
	}
	if h := sanitizeHandle(profile.Name); h != "" {
		return h
	}
	return providerName + "_" + profile.SubjectID
}

func sanitizeHandle(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
