package domain

import "time"

// ProviderLocal is the provider name recorded for password-based sessions.
const ProviderLocal = "server"

// LinkedIdentity binds a Principal to one external identity provider.
// The pair (provider, external_subject_id) is globally unique; a principal
// may own one link per provider.
type LinkedIdentity struct {
	ID                string    `bson:"_id,omitempty" json:"id,omitempty"`
	PrincipalID       string    `bson:"principal_id" json:"principal_id"`
	Provider          string    `bson:"provider" json:"provider"`
	ExternalSubjectID string    `bson:"external_subject_id" json:"external_subject_id"`
	ExternalEmail     string    `bson:"external_email,omitempty" json:"external_email,omitempty"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updated_at"`
}
