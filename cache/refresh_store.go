// Package cache defines the refresh-token store: one live refresh token per
// (provider, subject) slot, with a store-side TTL mirroring the token's
// claimed lifetime.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the slot holds no token, either
// because none was stored or because the store-side TTL lapsed.
var ErrNotFound = errors.New("refresh token not found")

// Key returns the store key for a (provider, subject) refresh slot.
func Key(provider, subjectID string) string {
	return fmt.Sprintf("refresh:%s:%s", provider, subjectID)
}

// RefreshTokenStore holds at most one live refresh token per slot. Storing
// a new value under the same key implicitly invalidates the previous one.
type RefreshTokenStore interface {
	Get(ctx context.Context, provider, subjectID string) (string, error)
	Set(ctx context.Context, provider, subjectID, tokenValue string, ttl time.Duration) error

	// Replace atomically swaps the stored token for next, but only if the
	// slot still holds prev. It returns false when the slot holds a
	// different value or nothing at all. This is the compare-and-swap that
	// guarantees at most one rotation per stored value can succeed.
	Replace(ctx context.Context, provider, subjectID, prev, next string, ttl time.Duration) (bool, error)

	Delete(ctx context.Context, provider, subjectID string) error
}
