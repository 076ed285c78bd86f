package store

import "time"

// StoredToken is the server-side record of an issued token. It exists so
// every token of a subject can be revoked at once.
type StoredToken struct {
	// TokenID is the token's jti.
	TokenID string `json:"token_id"`

	// SubjectID is the identity the token was issued to.
	SubjectID string `json:"subject_id"`

	// TokenType is "access" or "refresh".
	TokenType string `json:"token_type"`

	// ExpiresAt mirrors the token's exp claim.
	ExpiresAt time.Time `json:"expires_at"`

	// CreatedAt is when the token was issued.
	CreatedAt time.Time `json:"created_at"`
}

// ExpiredAt reports whether the token is past its expiry at now.
func (t *StoredToken) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// BlacklistEntry is a revoked token reference.
type BlacklistEntry struct {
	// TokenID is the revoked jti, or a hash of the raw token when no jti
	// could be read.
	TokenID string `json:"token_id"`

	// BlacklistedAt is when the token was revoked.
	BlacklistedAt time.Time `json:"blacklisted_at"`

	// ExpiresAt is when this entry may be pruned.
	ExpiresAt time.Time `json:"expires_at"`
}

// ExpiredAt reports whether the entry is past its own expiry at now.
func (e *BlacklistEntry) ExpiredAt(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// APIKeyRecord is a long-lived API credential. The raw key is never
// stored, only its SHA-256 hash and a short hint.
type APIKeyRecord struct {
	// KeyHash is the SHA-256 hex digest of the full key.
	KeyHash string `json:"-"`

	// Hint is the last few characters of the key for display.
	Hint string `json:"hint"`

	// Scope is the site scope segment embedded in the key.
	Scope string `json:"scope"`

	// SubjectID is the identity that owns the key.
	SubjectID string `json:"subject_id"`

	// Name is a human-readable label.
	Name string `json:"name"`

	// Scopes limit what the key may do. Empty means unrestricted.
	Scopes []string `json:"scopes"`

	// Revoked is set on revoke; records are never hard-deleted.
	Revoked bool `json:"revoked"`

	// ExpiresAt is when the key expires (nil = never).
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// RateLimit is the per-key request quota per window. Zero uses the
	// server default.
	RateLimit int `json:"rate_limit"`

	// RateLimitWindow is the quota window.
	RateLimitWindow time.Duration `json:"rate_limit_window"`

	// LastUsedAt is when the key last authenticated a request.
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	// LastUsedIP is the source address of that request.
	LastUsedIP string `json:"last_used_ip,omitempty"`

	// CreatedAt is when the key was generated.
	CreatedAt time.Time `json:"created_at"`
}

// ExpiredAt reports whether the key is past its expiry at now.
func (k *APIKeyRecord) ExpiredAt(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// User is an account that can log in.
type User struct {
	ID           string            `json:"id"`
	Login        string            `json:"login"`
	Email        string            `json:"email"`
	DisplayName  string            `json:"display_name"`
	Roles        []string          `json:"roles"`
	PasswordHash string            `json:"-"`
	Meta         map[string]string `json:"meta,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// AppPassword is a named secondary credential used with HTTP basic auth.
// Each one is independently revocable.
type AppPassword struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Hash       string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	LastUsedIP string     `json:"last_used_ip,omitempty"`
}

// Counter is a fixed-window request counter.
type Counter struct {
	Count   int64     `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}
