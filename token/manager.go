package token

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aloks98/restauth/internal/hash"
	"github.com/aloks98/restauth/internal/ids"
	"github.com/aloks98/restauth/signer"
	"github.com/aloks98/restauth/store"
)

// Pair represents an access/refresh token pair returned to clients.
type Pair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Config holds configuration for the token manager.
type Config struct {
	// Issuer is written to and required in the iss claim.
	Issuer string

	// Audience is written to and required in the aud claim.
	Audience string

	// AccessTTL is the access token lifetime.
	AccessTTL time.Duration

	// RefreshTTL is the refresh token lifetime. Must exceed AccessTTL.
	RefreshTTL time.Duration

	// ClockSkew allows for clock differences between servers.
	ClockSkew time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.AccessTTL <= 0 {
		return fmt.Errorf("%w: access TTL must be positive", ErrInvalidConfig)
	}
	if c.RefreshTTL <= c.AccessTTL {
		return fmt.Errorf("%w: refresh TTL must be longer than access TTL", ErrInvalidConfig)
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("%w: clock skew cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// CleanupResult reports what CleanupExpiredTokens removed.
type CleanupResult struct {
	Tokens    int64
	Blacklist int64
}

// Manager handles token issuance, validation and revocation.
type Manager struct {
	cfg       Config
	codec     *Codec
	tokens    store.TokenStore
	blacklist store.BlacklistStore
	now       func() time.Time
}

// NewManager creates a token manager. s must be able to sign.
func NewManager(s *signer.Signer, tokens store.TokenStore, blacklist store.BlacklistStore, cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s == nil || !s.CanSign() {
		return nil, fmt.Errorf("%w: signer cannot sign", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		cfg: cfg,
		codec: NewCodec(s, CodecConfig{
			Issuer:    cfg.Issuer,
			Audience:  cfg.Audience,
			ClockSkew: cfg.ClockSkew,
			Now:       cfg.Now,
		}),
		tokens:    tokens,
		blacklist: blacklist,
		now:       cfg.Now,
	}, nil
}

// Codec returns the manager's codec.
func (m *Manager) Codec() *Codec {
	return m.codec
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration {
	return m.cfg.AccessTTL
}

// RefreshTTL returns the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration {
	return m.cfg.RefreshTTL
}

// NewClaims builds claims for subjectID of the given type with a fresh jti.
func (m *Manager) NewClaims(subjectID, tokenType string) *Claims {
	now := m.now()
	ttl := m.cfg.AccessTTL
	if tokenType == TypeRefresh {
		ttl = m.cfg.RefreshTTL
	}

	c := &Claims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ids.NewAt(now),
			Subject:   subjectID,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if m.cfg.Audience != "" {
		c.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}
	return c
}

// Issue signs claims and records the token for later revocation.
func (m *Manager) Issue(ctx context.Context, claims *Claims) (string, error) {
	raw, err := m.codec.Encode(claims)
	if err != nil {
		return "", fmt.Errorf("token: encode: %w", err)
	}

	created := m.now()
	if claims.IssuedAt != nil {
		created = claims.IssuedAt.Time
	}
	rec := &store.StoredToken{
		TokenID:   claims.ID,
		SubjectID: claims.Subject,
		TokenType: claims.Type,
		ExpiresAt: claims.ExpiresAt.Time,
		CreatedAt: created,
	}
	if err := m.tokens.SaveToken(ctx, rec); err != nil {
		return "", fmt.Errorf("token: save: %w", err)
	}

	return raw, nil
}

// IssuePair mints an access token and a refresh token for subjectID.
func (m *Manager) IssuePair(ctx context.Context, subjectID string) (*Pair, error) {
	access := m.NewClaims(subjectID, TypeAccess)
	accessToken, err := m.Issue(ctx, access)
	if err != nil {
		return nil, err
	}

	refreshToken, err := m.Issue(ctx, m.NewClaims(subjectID, TypeRefresh))
	if err != nil {
		return nil, err
	}

	return &Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(m.cfg.AccessTTL.Seconds()),
		ExpiresAt:    access.ExpiresAt.Time,
	}, nil
}

// Validate verifies raw and rejects blacklisted tokens.
func (m *Manager) Validate(ctx context.Context, raw string) (*Claims, error) {
	claims, err := m.codec.Decode(raw)
	if err != nil {
		return nil, err
	}

	blacklisted, err := m.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if blacklisted {
		return nil, ErrTokenBlacklisted
	}

	return claims, nil
}

// Blacklist revokes raw. The jti is read without verification; when the
// token cannot be parsed its SHA-256 digest is blacklisted instead.
func (m *Manager) Blacklist(ctx context.Context, raw string) error {
	now := m.now()
	id := hash.SHA256(raw)
	until := now.Add(m.cfg.RefreshTTL + m.cfg.ClockSkew)
	if claims, err := m.codec.Peek(raw); err == nil {
		if claims.ID != "" {
			id = claims.ID
		}
		if claims.ExpiresAt != nil {
			until = m.retainUntil(claims.ExpiresAt.Time)
		}
	}

	_, err := m.blacklist.AddToBlacklist(ctx, &store.BlacklistEntry{
		TokenID:       id,
		BlacklistedAt: now,
		ExpiresAt:     until,
	})
	if err != nil {
		return fmt.Errorf("token: blacklist: %w", err)
	}
	return nil
}

// Consume blacklists a validated token exactly once. Concurrent callers
// race on the store insert; losers get ErrTokenBlacklisted.
func (m *Manager) Consume(ctx context.Context, claims *Claims) error {
	now := m.now()
	until := now.Add(m.cfg.RefreshTTL + m.cfg.ClockSkew)
	if claims.ExpiresAt != nil {
		until = m.retainUntil(claims.ExpiresAt.Time)
	}
	added, err := m.blacklist.AddToBlacklist(ctx, &store.BlacklistEntry{
		TokenID:       claims.ID,
		BlacklistedAt: now,
		ExpiresAt:     until,
	})
	if err != nil {
		return fmt.Errorf("token: consume: %w", err)
	}
	if !added {
		return ErrTokenBlacklisted
	}
	return nil
}

// IsBlacklisted reports whether jti is on the blacklist. Expired entries
// found on the way are removed.
func (m *Manager) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	entry, err := m.blacklist.GetBlacklistEntry(ctx, jti)
	if err != nil {
		return false, fmt.Errorf("token: blacklist lookup: %w", err)
	}
	if entry == nil {
		return false, nil
	}
	if entry.ExpiredAt(m.now()) {
		if err := m.blacklist.RemoveFromBlacklist(ctx, jti); err != nil {
			return false, fmt.Errorf("token: blacklist evict: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// RevokeUserTokens blacklists every recorded token of subjectID and drops
// the records. It returns the number of tokens revoked.
func (m *Manager) RevokeUserTokens(ctx context.Context, subjectID string) (int, error) {
	tokens, err := m.tokens.ListTokens(ctx, subjectID)
	if err != nil {
		return 0, fmt.Errorf("token: list: %w", err)
	}

	now := m.now()
	tokenIDs := make([]string, 0, len(tokens))
	revoked := 0
	for _, t := range tokens {
		tokenIDs = append(tokenIDs, t.TokenID)
		until := m.retainUntil(t.ExpiresAt)
		if !now.Before(until) {
			continue
		}
		if _, err := m.blacklist.AddToBlacklist(ctx, &store.BlacklistEntry{
			TokenID:       t.TokenID,
			BlacklistedAt: now,
			ExpiresAt:     until,
		}); err != nil {
			return revoked, fmt.Errorf("token: blacklist: %w", err)
		}
		revoked++
	}

	if _, err := m.tokens.DeleteTokens(ctx, tokenIDs); err != nil {
		return revoked, fmt.Errorf("token: delete: %w", err)
	}
	return revoked, nil
}

// retainUntil is the last instant a token expiring at exp still decodes.
// Revocations must outlive it.
func (m *Manager) retainUntil(exp time.Time) time.Time {
	return exp.Add(m.cfg.ClockSkew)
}

// CleanupExpiredTokens removes expired token records and blacklist entries.
func (m *Manager) CleanupExpiredTokens(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	now := m.now()

	// Records stay while the codec still accepts the token so that
	// RevokeUserTokens can find them.
	n, err := m.tokens.DeleteExpiredTokens(ctx, now.Add(-m.cfg.ClockSkew))
	if err != nil {
		return res, fmt.Errorf("token: cleanup tokens: %w", err)
	}
	res.Tokens = n

	n, err = m.blacklist.DeleteExpiredBlacklistEntries(ctx, now)
	if err != nil {
		return res, fmt.Errorf("token: cleanup blacklist: %w", err)
	}
	res.Blacklist = n

	return res, nil
}
