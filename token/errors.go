package token

import "errors"

// Token-related errors.
var (
	// ErrTokenExpired indicates the token has expired.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenNotYetValid indicates the token's nbf lies in the future.
	ErrTokenNotYetValid = errors.New("token is not yet valid")

	// ErrTokenMalformed indicates the token format is invalid.
	ErrTokenMalformed = errors.New("token is malformed")

	// ErrTokenInvalidSignature indicates the token signature is invalid.
	ErrTokenInvalidSignature = errors.New("token signature is invalid")

	// ErrTokenInvalid indicates a well-formed token that fails validation
	// (algorithm, issuer, audience or claim shape).
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrTokenBlacklisted indicates the token has been revoked or consumed.
	ErrTokenBlacklisted = errors.New("token has been revoked")

	// ErrInvalidConfig indicates the manager configuration is unusable.
	ErrInvalidConfig = errors.New("token: invalid configuration")
)
