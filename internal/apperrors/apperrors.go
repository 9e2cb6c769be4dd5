package apperrors

import (
	"errors"
	"net/http"
)

// Sentinel errors for the whole service. Handlers and the gateway map
// these onto HTTP statuses and close codes; everything else wraps them
// with fmt.Errorf("...: %w", err).
var (
	// auth
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidToken       = errors.New("invalid_token")
	ErrTokenExpired       = errors.New("token_expired")
	ErrMissingAuth        = errors.New("missing_auth")

	// authorization
	ErrMissingPermissions = errors.New("missing_permissions")

	// resources
	ErrNotFound      = errors.New("not_found")
	ErrAlreadyExists = errors.New("already_exists")
	ErrConflict      = errors.New("conflict")

	// gateway protocol
	ErrUnknownOpcode   = errors.New("unknown_opcode")
	ErrDecodeError     = errors.New("decode_error")
	ErrInvalidSequence = errors.New("invalid_sequence")

	// rate limiting
	ErrRateLimited = errors.New("rate_limited")

	// infrastructure, retryable by the caller
	ErrStoreUnavailable = errors.New("store_unavailable")
	ErrBusUnavailable   = errors.New("bus_unavailable")
)

// HttpStatus maps a service error onto the REST status code.
func HttpStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrMissingAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMissingPermissions):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnknownOpcode),
		errors.Is(err, ErrDecodeError),
		errors.Is(err, ErrInvalidSequence):
		return http.StatusBadRequest
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrBusUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
