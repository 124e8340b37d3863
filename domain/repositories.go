package domain

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by repository implementations. Callers branch on
// these with errors.Is; the concrete store error stays wrapped underneath.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// PrincipalRepository is the narrow read/update surface of the principal
// directory this service depends on. Creation is only used by the federated
// resolver when a brand-new external identity signs in.
type PrincipalRepository interface {
	Create(ctx context.Context, p *Principal) error
	GetByID(ctx context.Context, id string) (*Principal, error)
	GetByHandle(ctx context.Context, handle string) (*Principal, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// LinkedIdentityRepository stores provider-to-principal bindings.
type LinkedIdentityRepository interface {
	Create(ctx context.Context, li *LinkedIdentity) error
	GetByProviderSubject(ctx context.Context, provider, externalSubjectID string) (*LinkedIdentity, error)
	UpdateEmail(ctx context.Context, id, email string) error
}
