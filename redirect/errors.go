package redirect

import "errors"

// Resolution failures. Callers must treat any of them as "do not redirect".
var (
	// ErrGrantType means the client holds no redirect-eligible grant type.
	ErrGrantType = errors.New("grant type not eligible for redirect")
	// ErrNoRegistration means a redirect was requested but none are registered.
	ErrNoRegistration = errors.New("no redirect_uri registered")
	// ErrMismatch covers both an ambiguous default and a requested URI that
	// matches no registration.
	ErrMismatch = errors.New("redirect_uri mismatch")
)

// ErrorCode maps a resolution failure to its OAuth 2.0 error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrGrantType), errors.Is(err, ErrMismatch):
		return "invalid_grant"
	case errors.Is(err, ErrNoRegistration):
		return "invalid_request"
	default:
		return "server_error"
	}
}
