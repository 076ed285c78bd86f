package restauth

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aloks98/restauth/apikey"
	"github.com/aloks98/restauth/cache"
	"github.com/aloks98/restauth/password"
	"github.com/aloks98/restauth/permissions"
	"github.com/aloks98/restauth/ratelimit"
	"github.com/aloks98/restauth/signer"
	"github.com/aloks98/restauth/store"
)

// Default configuration values.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultCleanupInterval = time.Hour
	DefaultSigningMethod   = "HS256"
	DefaultRetryBackoff    = 50 * time.Millisecond

	// MinSecretLength is the minimum length of the HMAC signing secret.
	MinSecretLength = 32
)

// APIKeyConfig configures API key generation and verification.
type APIKeyConfig struct {
	// Prefix is the first key segment. Default "rk".
	Prefix string

	// Scope is the site segment embedded in new keys. Default "default".
	Scope string

	// Secret keys the checksum. Defaults to Config.Secret.
	Secret string

	// CacheTTL bounds cached verifications. Default five minutes.
	CacheTTL time.Duration

	// DefaultTTL is the lifetime of keys created without one.
	DefaultTTL time.Duration

	// RateLimit is the default per-key quota.
	RateLimit Quota
}

// RateLimitConfig sets the quotas applied by Guard and Login.
type RateLimitConfig struct {
	// Identity limits each authenticated identity.
	Identity Quota

	// IP limits each source address.
	IP Quota

	// Login limits login attempts per strategy and login name.
	Login Quota
}

// DefaultRateLimits returns the default quotas.
func DefaultRateLimits() RateLimitConfig {
	return RateLimitConfig{
		Identity: Quota{Limit: 600, Window: time.Minute},
		Login:    Quota{Limit: 10, Window: 15 * time.Minute},
	}
}

// Config holds all configuration for an Auth instance.
type Config struct {
	// Secret is the HMAC signing secret. Ignored when Signer is set.
	Secret string

	// SigningMethod is the HMAC algorithm used with Secret.
	SigningMethod string

	// Signer signs and verifies tokens. Takes precedence over Secret.
	Signer *signer.Signer

	// Issuer and Audience are written to and required on every token.
	Issuer   string
	Audience string

	// AccessTokenTTL and RefreshTokenTTL bound token lifetimes. Refresh
	// tokens must outlive access tokens.
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// ClockSkew is the leeway applied to time claims.
	ClockSkew time.Duration

	// Store is the backend. Required.
	Store store.Store

	// TokenStore, BlacklistStore and CounterStore override Store for the
	// hot paths, typically with Redis.
	TokenStore     store.TokenStore
	BlacklistStore store.BlacklistStore
	CounterStore   store.CounterStore

	// Cache holds API key verifications. Defaults to an in-process cache.
	Cache cache.Cache

	// Hasher hashes new passwords. Defaults to bcrypt.
	Hasher password.Hasher

	// APIKey configures API keys.
	APIKey APIKeyConfig

	// Strategies lists the enabled built-in strategies in dispatch order.
	Strategies []string

	// Policy is the default permission policy. Defaults to
	// permissions.DefaultPolicy.
	Policy *permissions.Policy

	// PolicyCacheTTL bounds reuse of the merged policy.
	PolicyCacheTTL time.Duration

	// RateLimit sets the quotas.
	RateLimit RateLimitConfig

	// TrustedProxies lists the reverse proxies, as CIDR prefixes or bare
	// addresses, whose X-Forwarded-For and X-Real-IP headers are believed.
	// Requests from any other peer are keyed by their own address.
	TrustedProxies []string

	// AutoMigrate runs Store.Migrate in New.
	AutoMigrate bool

	// CleanupInterval is how often expired records are pruned. Zero
	// disables the background worker.
	CleanupInterval time.Duration

	// RetryBackoff is the pause before retrying a transient store failure.
	RetryBackoff time.Duration

	// Logger receives structured logs. Defaults to slog.Default.
	Logger *slog.Logger

	// Registerer receives the Prometheus collectors. Nil skips
	// registration.
	Registerer prometheus.Registerer

	// Now overrides the clock.
	Now func() time.Time

	policyErr error
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		SigningMethod:   DefaultSigningMethod,
		AccessTokenTTL:  DefaultAccessTokenTTL,
		RefreshTokenTTL: DefaultRefreshTokenTTL,
		Strategies:      []string{StrategyJWT, StrategyAPIKey, StrategyBasic},
		RateLimit:       DefaultRateLimits(),
		CleanupInterval: DefaultCleanupInterval,
		RetryBackoff:    DefaultRetryBackoff,
		APIKey:          APIKeyConfig{CacheTTL: apikey.DefaultCacheTTL},
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.policyErr != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, c.policyErr)
	}
	if c.Signer == nil {
		switch c.SigningMethod {
		case "HS256", "HS384", "HS512":
		default:
			return fmt.Errorf("%w: signing method %q needs a Signer", ErrConfigInvalid, c.SigningMethod)
		}
		if len(c.Secret) < MinSecretLength {
			return fmt.Errorf("%w: secret must be at least %d characters", ErrConfigInvalid, MinSecretLength)
		}
	} else if !c.Signer.CanSign() {
		return fmt.Errorf("%w: signer has no private key", ErrConfigInvalid)
	}

	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("%w: access token TTL must be positive", ErrConfigInvalid)
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		return fmt.Errorf("%w: refresh token TTL must be greater than access token TTL", ErrConfigInvalid)
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("%w: clock skew cannot be negative", ErrConfigInvalid)
	}

	if c.apiKeySecret() == "" {
		return fmt.Errorf("%w: an API key secret is required when signing with a key pair", ErrConfigInvalid)
	}
	if len(c.apiKeySecret()) < apikey.MinSecretLength {
		return fmt.Errorf("%w: API key secret must be at least %d characters", ErrConfigInvalid, apikey.MinSecretLength)
	}

	if _, err := ratelimit.ParseProxies(c.TrustedProxies); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	if len(c.Strategies) == 0 {
		return fmt.Errorf("%w: at least one strategy is required", ErrConfigInvalid)
	}
	known := []string{StrategyJWT, StrategyAPIKey, StrategyBasic}
	for i, name := range c.Strategies {
		if !slices.Contains(known, name) {
			return fmt.Errorf("%w: %w: %q", ErrConfigInvalid, ErrUnknownStrategy, name)
		}
		if slices.Contains(c.Strategies[:i], name) {
			return fmt.Errorf("%w: strategy %q listed twice", ErrConfigInvalid, name)
		}
	}

	for name, q := range map[string]Quota{
		"identity": c.RateLimit.Identity,
		"ip":       c.RateLimit.IP,
		"login":    c.RateLimit.Login,
		"api key":  c.APIKey.RateLimit,
	} {
		if q.Limit < 0 || q.Window < 0 || (q.Limit > 0 && q.Window == 0) {
			return fmt.Errorf("%w: %s rate limit needs a positive limit and window", ErrConfigInvalid, name)
		}
	}

	if c.CleanupInterval < 0 {
		return fmt.Errorf("%w: cleanup interval cannot be negative", ErrConfigInvalid)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("%w: retry backoff cannot be negative", ErrConfigInvalid)
	}
	if c.Policy != nil {
		if err := c.Policy.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
		}
	}
	return nil
}

func (c *Config) apiKeySecret() string {
	if c.APIKey.Secret != "" {
		return c.APIKey.Secret
	}
	return c.Secret
}
