// Package auth provides the password hashing used for local credentials,
// including the generated unlinked credential a federated registration
// receives.
package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/daylog-io/authd/services"
)

var _ services.PasswordHasher = (*BcryptPasswordHasher)(nil)

// BcryptPasswordHasher hashes and verifies passwords with bcrypt. The cost
// is fixed at construction so every stored hash in a deployment carries the
// same work factor.
type BcryptPasswordHasher struct {
	cost int
}

// NewBcryptPasswordHasher returns a hasher with the given cost, falling
// back to bcrypt.DefaultCost for cost <= 0.
func NewBcryptPasswordHasher(cost int) *BcryptPasswordHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptPasswordHasher{cost: cost}
}

// Hash derives the stored form of a plaintext password.
func (h *BcryptPasswordHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether password matches the stored hash. A mismatch
// surfaces as bcrypt.ErrMismatchedHashAndPassword.
func (h *BcryptPasswordHasher) Verify(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
