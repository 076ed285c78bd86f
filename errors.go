package restauth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aloks98/restauth/apikey"
	"github.com/aloks98/restauth/ratelimit"
	"github.com/aloks98/restauth/store"
	"github.com/aloks98/restauth/token"
)

// Error codes for categorizing errors.
const (
	CodeAuthMissing      = "AUTH_MISSING"
	CodeAuthInvalid      = "AUTH_INVALID"
	CodeAuthExpired      = "AUTH_EXPIRED"
	CodeForbidden        = "FORBIDDEN"
	CodeRateLimited      = "RATE_LIMITED"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeConfigInvalid    = "CONFIG_INVALID"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrAuthMissing indicates no credential was presented.
	ErrAuthMissing = errors.New("authentication required")

	// ErrAuthInvalid indicates a malformed, forged, unknown or unsupported
	// credential.
	ErrAuthInvalid = errors.New("invalid credentials")

	// ErrAuthExpired indicates an expired or revoked token or key.
	ErrAuthExpired = errors.New("credentials expired")

	// ErrForbidden indicates an authenticated identity lacks permission.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates an exhausted quota.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrValidationFailed indicates a malformed request.
	ErrValidationFailed = errors.New("validation failed")

	// ErrStoreUnavailable indicates a backend failure that persisted after
	// a retry.
	ErrStoreUnavailable = errors.New("store is unavailable")

	// ErrConfigInvalid indicates an unusable configuration.
	ErrConfigInvalid = errors.New("configuration is invalid")

	// ErrStoreRequired indicates New was called without a store.
	ErrStoreRequired = errors.New("store is required")

	// ErrUnknownStrategy indicates a strategy name that is not registered.
	ErrUnknownStrategy = errors.New("unknown strategy")
)

var codeSentinels = map[string]error{
	CodeAuthMissing:      ErrAuthMissing,
	CodeAuthInvalid:      ErrAuthInvalid,
	CodeAuthExpired:      ErrAuthExpired,
	CodeForbidden:        ErrForbidden,
	CodeRateLimited:      ErrRateLimited,
	CodeValidationFailed: ErrValidationFailed,
	CodeStoreUnavailable: ErrStoreUnavailable,
	CodeConfigInvalid:    ErrConfigInvalid,
}

// AuthError is a coded error. It matches its code's sentinel with
// errors.Is and unwraps to the underlying cause.
type AuthError struct {
	Code    string
	Message string
	Err     error

	// RetryAfter is set for CodeRateLimited.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of e's code.
func (e *AuthError) Is(target error) bool {
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// NewAuthError creates an AuthError.
func NewAuthError(code, message string, err error) *AuthError {
	return &AuthError{Code: code, Message: message, Err: err}
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuthMissing), errors.Is(err, ErrAuthInvalid), errors.Is(err, ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited), errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the taxonomy code of err, or "" for unclassified errors.
func Code(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// RetryAfter returns the wait carried by a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var ae *AuthError
	if errors.As(err, &ae) && ae.Code == CodeRateLimited {
		return ae.RetryAfter, true
	}
	var le *ratelimit.LimitError
	if errors.As(err, &le) {
		return le.RetryAfter, true
	}
	return 0, false
}

// classify maps package errors onto the taxonomy. Unknown errors pass
// through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return err
	}
	var le *ratelimit.LimitError
	switch {
	case errors.As(err, &le):
		return &AuthError{Code: CodeRateLimited, Message: "rate limit exceeded", Err: err, RetryAfter: le.RetryAfter}
	case errors.Is(err, store.ErrUnavailable):
		return NewAuthError(CodeStoreUnavailable, "store unavailable", err)
	case errors.Is(err, token.ErrTokenExpired),
		errors.Is(err, token.ErrTokenBlacklisted),
		errors.Is(err, apikey.ErrKeyExpired):
		return NewAuthError(CodeAuthExpired, "credentials expired", err)
	case errors.Is(err, token.ErrTokenMalformed),
		errors.Is(err, token.ErrTokenInvalidSignature),
		errors.Is(err, token.ErrTokenInvalid),
		errors.Is(err, token.ErrTokenNotYetValid),
		errors.Is(err, apikey.ErrKeyInvalid),
		errors.Is(err, apikey.ErrKeyRevoked):
		return NewAuthError(CodeAuthInvalid, "invalid credentials", err)
	case errors.Is(err, apikey.ErrInvalidInput):
		return NewAuthError(CodeValidationFailed, "invalid input", err)
	}
	return err
}

// IsAuthError reports whether err means the credential was rejected.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthMissing) ||
		errors.Is(err, ErrAuthInvalid) ||
		errors.Is(err, ErrAuthExpired)
}

func invalid(msg string) error {
	return NewAuthError(CodeAuthInvalid, msg, nil)
}

func validation(msg string) error {
	return NewAuthError(CodeValidationFailed, msg, nil)
}
