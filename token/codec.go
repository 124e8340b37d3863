// Package token implements stateless signing and verification of the two
// bearer-token kinds. Access and refresh tokens are signed with independent
// keys so a leaked access-signing key cannot forge refresh tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	serrors "github.com/daylog-io/authd/errors"
)

// Kind selects the signing key and the expected "type" claim.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims is the fixed claim set carried by both token kinds. Access tokens
// carry the role set; refresh tokens carry a random jti instead.
type Claims struct {
	jwt.RegisteredClaims

	Roles     []string `json:"roles,omitempty"`
	TokenType string   `json:"type"`
}

// Codec signs and verifies tokens. It holds no mutable state and is safe
// for concurrent use.
type Codec struct {
	accessKey  []byte
	refreshKey []byte
	now        func() time.Time
}

// NewCodec creates a Codec from the two signing keys.
func NewCodec(accessKey, refreshKey []byte) *Codec {
	return &Codec{
		accessKey:  accessKey,
		refreshKey: refreshKey,
		now:        time.Now,
	}
}

func (c *Codec) key(kind Kind) []byte {
	if kind == KindRefresh {
		return c.refreshKey
	}
	return c.accessKey
}

// Issue builds and signs a token of the given kind. Roles are only embedded
// in access tokens; refresh tokens get a fresh random id so every issued
// value is distinct even for the same subject and instant.
func (c *Codec) Issue(kind Kind, subjectID string, roles []string, ttl time.Duration) (string, error) {
	now := c.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: string(kind),
	}
	switch kind {
	case KindAccess:
		claims.Roles = roles
	case KindRefresh:
		claims.ID = uuid.NewString()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key(kind))
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify parses and fully validates a token of the given kind. The HMAC
// comparison inside the jwt library is constant time. A structurally valid
// token of the wrong kind is reported as malformed.
func (c *Codec) Verify(kind Kind, tokenValue string) (*Claims, error) {
	return c.parse(kind, tokenValue, false)
}

// ExtractClaims reads the claims of a token whose signature still verifies
// but whose expiry is ignored. The refresh flow uses this to identify the
// subject (and role set) from an already expired access token.
func (c *Codec) ExtractClaims(kind Kind, tokenValue string) (*Claims, error) {
	return c.parse(kind, tokenValue, true)
}

func (c *Codec) parse(kind Kind, tokenValue string, skipExpiry bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	}
	if skipExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenValue, claims, func(*jwt.Token) (any, error) {
		return c.key(kind), nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, serrors.ErrTokenSignatureInvalid.WithCause(err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, serrors.ErrTokenExpired.WithCause(err)
	default:
		return nil, serrors.ErrTokenMalformed.WithCause(err)
	}

	if claims.TokenType != string(kind) {
		return nil, serrors.ErrTokenMalformed.WithCause(fmt.Errorf("token type %q, want %q", claims.TokenType, kind))
	}
	if claims.Subject == "" {
		return nil, serrors.ErrTokenMalformed.WithCause(errors.New("missing sub claim"))
	}
	return claims, nil
}
