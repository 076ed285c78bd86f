// Package apikey provides API key generation, validation and revocation.
//
// Keys have the shape prefix_scope_subject_random_checksum. The checksum is
// a keyed hash of scope, subject and random, so forged or mistyped keys are
// rejected before any storage lookup. Only the SHA-256 of the full key is
// persisted.
package apikey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aloks98/restauth/cache"
	"github.com/aloks98/restauth/internal/crypto"
	"github.com/aloks98/restauth/internal/hash"
	"github.com/aloks98/restauth/store"
)

const (
	checksumLength = 8

	// MinSecretLength is the minimum checksum secret size in bytes.
	MinSecretLength = 16

	// DefaultCacheTTL bounds how long a verified key is served from cache.
	DefaultCacheTTL = 5 * time.Minute
)

// Errors returned by the API key service.
var (
	// ErrKeyInvalid indicates the API key is malformed, forged or unknown.
	ErrKeyInvalid = errors.New("api key is invalid")

	// ErrKeyRevoked indicates the API key has been revoked.
	ErrKeyRevoked = errors.New("api key has been revoked")

	// ErrKeyExpired indicates the API key has expired.
	ErrKeyExpired = errors.New("api key has expired")

	// ErrInvalidInput indicates generation input that cannot form a key.
	ErrInvalidInput = errors.New("api key: invalid input")

	// ErrInvalidConfig indicates an unusable service configuration.
	ErrInvalidConfig = errors.New("api key: invalid configuration")
)

// Config holds configuration for the API key service.
type Config struct {
	// Prefix is the fixed first segment of every key. Default "rk".
	Prefix string

	// Scope is the site scope embedded in new keys. Default "default".
	Scope string

	// Secret keys the checksum. Required, at least MinSecretLength bytes.
	Secret []byte

	// RandomBytes is the entropy per key. Default 16.
	RandomBytes int

	// HintLength is how many trailing characters of the random part are
	// kept as a hint. Default 4.
	HintLength int

	// CacheTTL bounds cached verifications. Default DefaultCacheTTL.
	CacheTTL time.Duration

	// DefaultTTL is the default lifetime of new keys. Zero means none.
	DefaultTTL time.Duration

	// DefaultRateLimit and DefaultRateLimitWindow apply to keys created
	// without their own limit. Zero means the global limit applies.
	DefaultRateLimit       int
	DefaultRateLimitWindow time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Service handles API key generation and validation.
type Service struct {
	config Config
	store  store.APIKeyStore
	cache  cache.Cache
}

// NewService creates a new API key service. A nil cache gets an in-process
// one.
func NewService(cfg Config, s store.APIKeyStore, c cache.Cache) (*Service, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes", ErrInvalidConfig, MinSecretLength)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rk"
	}
	if cfg.Scope == "" {
		cfg.Scope = "default"
	}
	if !validSegment(cfg.Prefix) || !validSegment(cfg.Scope) {
		return nil, fmt.Errorf("%w: prefix and scope cannot contain %q", ErrInvalidConfig, separator)
	}
	if cfg.RandomBytes <= 0 {
		cfg.RandomBytes = 16
	}
	if cfg.HintLength <= 0 {
		cfg.HintLength = 4
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if c == nil {
		c = cache.NewMemory()
	}
	return &Service{config: cfg, store: s, cache: c}, nil
}

// CreateKeyOptions holds options for creating an API key.
type CreateKeyOptions struct {
	// Name is a human-readable identifier for the key.
	Name string

	// Scopes limits the key to specific permissions (nil = all permissions).
	Scopes []string

	// ExpiresAt sets a custom expiration (nil = use TTL or the default).
	ExpiresAt *time.Time

	// TTL sets the key to expire after this duration (overridden by ExpiresAt).
	TTL time.Duration

	// RateLimit and RateLimitWindow override the per-key quota.
	RateLimit       int
	RateLimitWindow time.Duration
}

// CreateKeyResult contains the result of creating an API key.
// RawKey is only available at creation time and cannot be retrieved later.
type CreateKeyResult struct {
	RawKey    string              `json:"api_key"`
	Record    *store.APIKeyRecord `json:"key"`
	ExpiresAt *time.Time          `json:"expires_at,omitempty"`
}

// Generate creates and persists a new key for subjectID.
func (s *Service) Generate(ctx context.Context, subjectID string, opts *CreateKeyOptions) (*CreateKeyResult, error) {
	if opts == nil {
		opts = &CreateKeyOptions{}
	}
	if !validSegment(subjectID) {
		return nil, fmt.Errorf("%w: subject %q cannot be embedded in a key", ErrInvalidInput, subjectID)
	}

	random, err := crypto.GenerateRandomHex(s.config.RandomBytes)
	if err != nil {
		return nil, err
	}
	sum := checksum(s.config.Secret, s.config.Scope, subjectID, random)
	rawKey := formatKey(s.config.Prefix, s.config.Scope, subjectID, random, sum)

	now := s.config.Now()
	var expiresAt *time.Time
	switch {
	case opts.ExpiresAt != nil:
		t := *opts.ExpiresAt
		expiresAt = &t
	case opts.TTL > 0:
		t := now.Add(opts.TTL)
		expiresAt = &t
	case s.config.DefaultTTL > 0:
		t := now.Add(s.config.DefaultTTL)
		expiresAt = &t
	}

	limit, window := opts.RateLimit, opts.RateLimitWindow
	if limit <= 0 {
		limit, window = s.config.DefaultRateLimit, s.config.DefaultRateLimitWindow
	}

	rec := &store.APIKeyRecord{
		KeyHash:         hash.SHA256(rawKey),
		Hint:            getHint(random, s.config.HintLength),
		Scope:           s.config.Scope,
		SubjectID:       subjectID,
		Name:            opts.Name,
		Scopes:          opts.Scopes,
		ExpiresAt:       expiresAt,
		RateLimit:       limit,
		RateLimitWindow: window,
		CreatedAt:       now,
	}
	if err := s.store.SaveAPIKey(ctx, rec); err != nil {
		return nil, err
	}

	return &CreateKeyResult{RawKey: rawKey, Record: rec, ExpiresAt: expiresAt}, nil
}

// CheckFormat validates the structure and checksum of rawKey without
// touching storage.
func (s *Service) CheckFormat(rawKey string) error {
	if len(rawKey) < s.minLength() {
		return ErrKeyInvalid
	}
	k, err := parseKey(rawKey)
	if err != nil {
		return ErrKeyInvalid
	}
	if k.prefix != s.config.Prefix {
		return ErrKeyInvalid
	}
	if !hash.ConstantTimeCompare(k.checksum, checksum(s.config.Secret, k.scope, k.subject, k.random)) {
		return ErrKeyInvalid
	}
	return nil
}

// Subject returns the subject embedded in a well-formed rawKey.
func (s *Service) Subject(rawKey string) (string, error) {
	if err := s.CheckFormat(rawKey); err != nil {
		return "", err
	}
	k, _ := parseKey(rawKey)
	return k.subject, nil
}

// minLength is the shortest string that can carry a well-formed key.
func (s *Service) minLength() int {
	return len(s.config.Prefix) + 1 + 1 + 1 + 1 + 1 + 2*s.config.RandomBytes + 1 + checksumLength
}

// Validate checks rawKey and returns its record. Verified keys are served
// from the cache until it expires or the key is revoked.
func (s *Service) Validate(ctx context.Context, rawKey string) (*store.APIKeyRecord, error) {
	if err := s.CheckFormat(rawKey); err != nil {
		return nil, err
	}
	keyHash := hash.SHA256(rawKey)
	now := s.config.Now()

	if rec, ok := s.cached(ctx, keyHash); ok {
		if rec.ExpiredAt(now) {
			_ = s.cache.Invalidate(ctx, keyHash)
			return nil, ErrKeyExpired
		}
		return rec, nil
	}

	rec, err := s.store.GetAPIKey(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrKeyInvalid
	}
	if rec.Revoked {
		return nil, ErrKeyRevoked
	}
	if rec.ExpiredAt(now) {
		return nil, ErrKeyExpired
	}

	ttl := s.config.CacheTTL
	if rec.ExpiresAt != nil && rec.ExpiresAt.Sub(now) < ttl {
		ttl = rec.ExpiresAt.Sub(now)
	}
	if data, err := json.Marshal(rec); err == nil {
		_ = s.cache.Set(ctx, keyHash, string(data), ttl)
	}
	return rec, nil
}

func (s *Service) cached(ctx context.Context, keyHash string) (*store.APIKeyRecord, bool) {
	v, ok, err := s.cache.Get(ctx, keyHash)
	if err != nil || !ok {
		return nil, false
	}
	var rec store.APIKeyRecord
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return nil, false
	}
	rec.KeyHash = keyHash
	return &rec, true
}

// Touch records a successful use of rawKey.
func (s *Service) Touch(ctx context.Context, rawKey, ip string) error {
	return s.store.TouchAPIKey(ctx, hash.SHA256(rawKey), s.config.Now(), ip)
}

// Revoke revokes rawKey and purges it from the cache. Revoking an already
// revoked key is not an error.
func (s *Service) Revoke(ctx context.Context, rawKey string) error {
	if err := s.CheckFormat(rawKey); err != nil {
		return err
	}
	keyHash := hash.SHA256(rawKey)

	// The store goes first: a Validate racing an earlier invalidation
	// would cache the still-live record again.
	ok, err := s.store.RevokeAPIKey(ctx, keyHash)
	if err != nil {
		return err
	}
	if !ok {
		rec, err := s.store.GetAPIKey(ctx, keyHash)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrKeyInvalid
		}
	}
	return s.cache.Invalidate(ctx, keyHash)
}

// RevokeAll revokes every live key of subjectID and returns how many.
func (s *Service) RevokeAll(ctx context.Context, subjectID string) (int, error) {
	hashes, err := s.store.RevokeAllAPIKeys(ctx, subjectID)
	if err != nil {
		return 0, err
	}
	for _, h := range hashes {
		if err := s.cache.Invalidate(ctx, h); err != nil {
			return len(hashes), err
		}
	}
	return len(hashes), nil
}

// List returns every key of subjectID. Raw keys are never stored.
func (s *Service) List(ctx context.Context, subjectID string) ([]*store.APIKeyRecord, error) {
	return s.store.ListAPIKeys(ctx, subjectID)
}
