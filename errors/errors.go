package errors

import (
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error kind surfaced to clients in the
// error response body. Codes never change once shipped.
type Code string

const (
	CodeTokenMalformed         Code = "TokenMalformed"
	CodeTokenSignatureInvalid  Code = "TokenSignatureInvalid"
	CodeTokenExpired           Code = "TokenExpired"
	CodeInvalidAccessToken     Code = "InvalidAccessToken"
	CodeRefreshTokenNotFound   Code = "RefreshTokenNotFound"
	CodeRefreshTokenMismatch   Code = "RefreshTokenMismatch"
	CodeRefreshTokenExpired    Code = "RefreshTokenExpired"
	CodeIdentityProviderError  Code = "IdentityProviderError"
	CodeAccountLinkingConflict Code = "AccountLinkingConflict"
	CodePrincipalNotActive     Code = "PrincipalNotActive"
	CodeUnauthorized           Code = "Unauthorized"
	CodeForbidden              Code = "Forbidden"
)

// Error is an authentication error carrying a machine code and the fixed
// HTTP status it maps to. The cause is for logs only and is never surfaced
// to clients.
type Error struct {
	Code    Code
	Status  int
	Message string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two *Error values by code, so wrapped copies created with
// WithCause still compare equal to their sentinel via errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithCause returns a copy of e carrying err as its cause.
func (e *Error) WithCause(err error) *Error {
	clone := *e
	clone.cause = err
	return &clone
}

var (
	ErrTokenMalformed        = &Error{Code: CodeTokenMalformed, Status: http.StatusUnauthorized, Message: "token is malformed"}
	ErrTokenSignatureInvalid = &Error{Code: CodeTokenSignatureInvalid, Status: http.StatusUnauthorized, Message: "token signature is invalid"}
	ErrTokenExpired          = &Error{Code: CodeTokenExpired, Status: http.StatusUnauthorized, Message: "token has expired"}

	ErrInvalidAccessToken   = &Error{Code: CodeInvalidAccessToken, Status: http.StatusBadRequest, Message: "access token could not be read"}
	ErrRefreshTokenNotFound = &Error{Code: CodeRefreshTokenNotFound, Status: http.StatusUnauthorized, Message: "no refresh token stored for this session"}
	ErrRefreshTokenMismatch = &Error{Code: CodeRefreshTokenMismatch, Status: http.StatusUnauthorized, Message: "refresh token does not match the stored one"}
	ErrRefreshTokenExpired  = &Error{Code: CodeRefreshTokenExpired, Status: http.StatusUnauthorized, Message: "refresh token has expired"}

	ErrIdentityProviderError  = &Error{Code: CodeIdentityProviderError, Status: http.StatusBadGateway, Message: "identity provider request failed"}
	ErrAccountLinkingConflict = &Error{Code: CodeAccountLinkingConflict, Status: http.StatusConflict, Message: "could not allocate a unique handle for the federated account"}
	ErrPrincipalNotActive     = &Error{Code: CodePrincipalNotActive, Status: http.StatusForbidden, Message: "account is not active"}

	ErrUnauthorized = &Error{Code: CodeUnauthorized, Status: http.StatusUnauthorized, Message: "authentication required"}
	ErrForbidden    = &Error{Code: CodeForbidden, Status: http.StatusForbidden, Message: "insufficient permissions"}
)
