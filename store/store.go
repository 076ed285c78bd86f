// Package store defines the persistence contracts of the auth engine.
//
// Implementations live in store/memory, store/sql and store/redis. Mutating
// operations must be atomic at the storage layer because several service
// instances may share one backend.
package store

import (
	"context"
	"time"
)

// TokenStore records issued tokens for revocation by subject.
type TokenStore interface {
	// SaveToken records an issued token.
	SaveToken(ctx context.Context, token *StoredToken) error

	// ListTokens returns every recorded token of a subject.
	ListTokens(ctx context.Context, subjectID string) ([]*StoredToken, error)

	// DeleteTokens removes the given token IDs.
	DeleteTokens(ctx context.Context, tokenIDs []string) (int64, error)

	// DeleteExpiredTokens removes tokens past expiry at now.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// BlacklistStore holds revoked token IDs until their entries expire.
type BlacklistStore interface {
	// AddToBlacklist inserts entry unless a live entry with the same token ID
	// exists. It reports whether this call inserted it, which makes it usable
	// as a compare-and-swap for single-use tokens.
	AddToBlacklist(ctx context.Context, entry *BlacklistEntry) (bool, error)

	// GetBlacklistEntry returns the entry for tokenID, or nil.
	GetBlacklistEntry(ctx context.Context, tokenID string) (*BlacklistEntry, error)

	// RemoveFromBlacklist deletes the entry for tokenID.
	RemoveFromBlacklist(ctx context.Context, tokenID string) error

	// DeleteExpiredBlacklistEntries prunes entries past expiry at now.
	DeleteExpiredBlacklistEntries(ctx context.Context, now time.Time) (int64, error)
}

// APIKeyStore persists API key records by key hash.
type APIKeyStore interface {
	// SaveAPIKey inserts a new key record.
	SaveAPIKey(ctx context.Context, key *APIKeyRecord) error

	// GetAPIKey returns the record for keyHash, or nil.
	GetAPIKey(ctx context.Context, keyHash string) (*APIKeyRecord, error)

	// ListAPIKeys returns every key of a subject, revoked ones included.
	ListAPIKeys(ctx context.Context, subjectID string) ([]*APIKeyRecord, error)

	// RevokeAPIKey flips the revoked flag. It reports whether a live key
	// was revoked.
	RevokeAPIKey(ctx context.Context, keyHash string) (bool, error)

	// RevokeAllAPIKeys revokes every live key of a subject and returns
	// their hashes.
	RevokeAllAPIKeys(ctx context.Context, subjectID string) ([]string, error)

	// TouchAPIKey records a successful use.
	TouchAPIKey(ctx context.Context, keyHash string, at time.Time, ip string) error
}

// UserStore persists accounts and their application passwords.
type UserStore interface {
	// CreateUser inserts a user. Duplicate logins return ErrConflict.
	CreateUser(ctx context.Context, user *User) error

	// GetUser returns the user with id, or nil.
	GetUser(ctx context.Context, id string) (*User, error)

	// FindUser returns the user whose login or email equals name, or nil.
	FindUser(ctx context.Context, name string) (*User, error)

	// SetPassword replaces a user's primary password hash.
	SetPassword(ctx context.Context, userID, hash string) error

	// SaveAppPassword inserts an application password.
	SaveAppPassword(ctx context.Context, pw *AppPassword) error

	// ListAppPasswords returns every application password of a user.
	ListAppPasswords(ctx context.Context, userID string) ([]*AppPassword, error)

	// DeleteAppPassword removes one application password of a user.
	DeleteAppPassword(ctx context.Context, userID, id string) (bool, error)

	// TouchAppPassword records a successful use.
	TouchAppPassword(ctx context.Context, id string, at time.Time, ip string) error
}

// PolicyStore persists the permissions policy override document.
type PolicyStore interface {
	// LoadPolicy returns the raw override document, or nil when none is set.
	LoadPolicy(ctx context.Context) ([]byte, error)

	// SavePolicy replaces the override document.
	SavePolicy(ctx context.Context, doc []byte) error

	// DeletePolicy removes the override, restoring defaults.
	DeletePolicy(ctx context.Context) error
}

// CounterStore holds fixed-window rate limit counters.
type CounterStore interface {
	// IncrementCounter atomically adds one to key's counter. A missing
	// counter, or one whose window has elapsed at now, restarts at
	// {1, now+window}. The post-increment value is returned.
	IncrementCounter(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error)

	// GetCounter reads key's counter without mutating it. The boolean is
	// false when no live window exists at now.
	GetCounter(ctx context.Context, key string, now time.Time) (Counter, bool, error)

	// DeleteExpiredCounters prunes counters whose window ended before now.
	DeleteExpiredCounters(ctx context.Context, now time.Time) (int64, error)
}

// Store is a complete backend.
type Store interface {
	TokenStore
	BlacklistStore
	APIKeyStore
	UserStore
	PolicyStore
	CounterStore

	// Close releases any resources held by the store.
	Close() error

	// Ping verifies the store connection is alive.
	Ping(ctx context.Context) error

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error
}
