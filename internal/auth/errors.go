package auth

import (
	"errors"
	"net/http"
)

// Authentication errors.
var (
	// ErrMissingToken indicates no Authorization header was sent.
	ErrMissingToken = errors.New("missing admin token")

	// ErrInvalidAuthorizationHeader indicates the Authorization header is malformed.
	ErrInvalidAuthorizationHeader = errors.New("invalid authorization header")

	// ErrAccessDenied indicates the token did not match.
	ErrAccessDenied = errors.New("access denied")

	// ErrAdminDisabled indicates no admin token hash is configured.
	ErrAdminDisabled = errors.New("admin API is disabled")
)

// AuthError is an authentication failure with its HTTP status.
type AuthError struct {
	Message    string
	HTTPStatus int
}

func (e *AuthError) Error() string {
	return e.Message
}

// NewAuthError maps an authentication error to its response.
func NewAuthError(err error) *AuthError {
	switch {
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidAuthorizationHeader):
		return &AuthError{Message: err.Error(), HTTPStatus: http.StatusUnauthorized}
	case errors.Is(err, ErrAccessDenied), errors.Is(err, ErrAdminDisabled):
		return &AuthError{Message: err.Error(), HTTPStatus: http.StatusForbidden}
	default:
		return &AuthError{Message: "internal error", HTTPStatus: http.StatusInternalServerError}
	}
}
