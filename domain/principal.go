package domain

import "time"

// PrincipalStatus defines the lifecycle states of a registered identity.
type PrincipalStatus string

const (
	PrincipalStatusPendingVerification PrincipalStatus = "PENDING_VERIFICATION"
	PrincipalStatusActive              PrincipalStatus = "ACTIVE"
	PrincipalStatusBlocked             PrincipalStatus = "BLOCKED"
	PrincipalStatusSuspended           PrincipalStatus = "SUSPENDED"
	PrincipalStatusDeleted             PrincipalStatus = "DELETED"
)

// Role names carried in the principal's role set and in access-token claims.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Principal is a registered identity capable of authenticating. Owned by
// the principal directory; this service reads it and touches last_login_at.
type Principal struct {
	ID           string          `bson:"_id,omitempty" json:"id"`
	Handle       string          `bson:"handle" json:"handle"`
	Email        string          `bson:"email" json:"email"`
	PasswordHash string          `bson:"password_hash,omitempty" json:"-"` // empty for purely federated accounts
	Roles        []string        `bson:"roles" json:"roles"`
	Status       PrincipalStatus `bson:"status" json:"status"`
	CreatedAt    time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `bson:"updated_at" json:"updated_at"`
	LastLoginAt  *time.Time      `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`
}

// IsActive reports whether the principal may complete a login. Blocked,
// suspended, deleted and not-yet-verified accounts all fail closed.
func (p *Principal) IsActive() bool {
	return p.Status == PrincipalStatusActive
}

// HasRole reports whether role is in the principal's role set.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
