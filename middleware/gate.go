// Package middleware implements the request authentication gate: an
// explicit, statically ordered pipeline of stages evaluated for every
// inbound request before it reaches a handler.
package middleware

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	serrors "github.com/daylog-io/authd/errors"
	"github.com/daylog-io/authd/token"
)

// principalContextKey is the echo context key the gate stores the verified
// principal view under.
const principalContextKey = "authd.principal"

// Principal is the request-scoped view attached by the gate: the signed
// claims only, no directory lookup on the request path.
type Principal struct {
	SubjectID string
	Roles     []string
}

// HasRole reports whether role is in the principal's role set.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// gateState is the per-request scratch space the stages hand forward.
type gateState struct {
	c      echo.Context
	bearer string
	claims *token.Claims
}

// Stage is one step of the pipeline. A non-nil error rejects the request;
// proceed=false without error stops the pipeline and lets the request
// through unauthenticated (public path).
type Stage struct {
	Name string
	Run  func(st *gateState) (proceed bool, err error)
}

// Gate evaluates the ordered stage list. The list is built once at startup
// and is immutable afterwards; ordering is load-bearing (the public-path
// check must precede extraction, and verification must precede attachment).
type Gate struct {
	stages []Stage
}

// NewGate builds the pipeline. Allow-list entries match the request path
// exactly, or by prefix when they end in "/*".
func NewGate(codec *token.Codec, publicPaths []string) *Gate {
	exact := make(map[string]struct{}, len(publicPaths))
	var prefixes []string
	for _, p := range publicPaths {
		if rest, ok := strings.CutSuffix(p, "/*"); ok {
			prefixes = append(prefixes, rest+"/")
			continue
		}
		exact[p] = struct{}{}
	}

	stages := []Stage{
		{
			Name: "public-path",
			Run: func(st *gateState) (bool, error) {
				path := st.c.Request().URL.Path
				if _, ok := exact[path]; ok {
					return false, nil
				}
				for _, prefix := range prefixes {
					if strings.HasPrefix(path, prefix) {
						return false, nil
					}
				}
				return true, nil
			},
		},
		{
			Name: "extract",
			Run: func(st *gateState) (bool, error) {
				header := st.c.Request().Header.Get(echo.HeaderAuthorization)
				if header == "" {
					return false, serrors.ErrUnauthorized
				}
				parts := strings.SplitN(header, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
					return false, serrors.ErrUnauthorized
				}
				st.bearer = parts[1]
				return true, nil
			},
		},
		{
			Name: "verify",
			Run: func(st *gateState) (bool, error) {
				claims, err := codec.Verify(token.KindAccess, st.bearer)
				if err != nil {
					// Expiry keeps its own code so clients know to call the
					// refresh endpoint; everything else is Unauthorized.
					if errors.Is(err, serrors.ErrTokenExpired) {
						return false, err
					}
					return false, serrors.ErrUnauthorized.WithCause(err)
				}
				st.claims = claims
				return true, nil
			},
		},
		{
			Name: "attach",
			Run: func(st *gateState) (bool, error) {
				st.c.Set(principalContextKey, Principal{
					SubjectID: st.claims.Subject,
					Roles:     st.claims.Roles,
				})
				return true, nil
			},
		},
	}

	return &Gate{stages: stages}
}

// Middleware adapts the gate into an echo middleware.
func (g *Gate) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			st := &gateState{c: c}
			for _, stage := range g.stages {
				proceed, err := stage.Run(st)
				if err != nil {
					return err
				}
				if !proceed {
					break
				}
			}
			return next(c)
		}
	}
}

// PrincipalFrom returns the principal the gate attached, if any.
func PrincipalFrom(c echo.Context) (Principal, bool) {
	p, ok := c.Get(principalContextKey).(Principal)
	return p, ok
}

// RequireRoles is a route-level middleware enforcing that the attached
// principal holds at least one of the given roles.
func RequireRoles(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, ok := PrincipalFrom(c)
			if !ok {
				return serrors.ErrUnauthorized
			}
			for _, role := range roles {
				if principal.HasRole(role) {
					return next(c)
				}
			}
			return serrors.ErrForbidden
		}
	}
}
