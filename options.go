package restauth

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aloks98/restauth/cache"
	"github.com/aloks98/restauth/password"
	"github.com/aloks98/restauth/permissions"
	"github.com/aloks98/restauth/signer"
	"github.com/aloks98/restauth/store"
)

// Option is a function that modifies the configuration.
type Option func(*Config)

// WithSecret sets the HMAC signing secret. It also keys API key checksums
// unless WithAPIKeySecret is given.
func WithSecret(secret string) Option {
	return func(c *Config) {
		c.Secret = secret
	}
}

// WithSigningMethod sets the HMAC algorithm used with the secret.
func WithSigningMethod(alg string) Option {
	return func(c *Config) {
		c.SigningMethod = alg
	}
}

// WithSigner signs tokens with s instead of the secret.
func WithSigner(s *signer.Signer) Option {
	return func(c *Config) {
		c.Signer = s
	}
}

// WithIssuer sets the iss claim.
func WithIssuer(iss string) Option {
	return func(c *Config) {
		c.Issuer = iss
	}
}

// WithAudience sets the aud claim.
func WithAudience(aud string) Option {
	return func(c *Config) {
		c.Audience = aud
	}
}

// WithAccessTokenTTL sets the access token lifetime.
func WithAccessTokenTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.AccessTokenTTL = ttl
	}
}

// WithRefreshTokenTTL sets the refresh token lifetime.
func WithRefreshTokenTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.RefreshTokenTTL = ttl
	}
}

// WithClockSkew sets the leeway for time claims.
func WithClockSkew(d time.Duration) Option {
	return func(c *Config) {
		c.ClockSkew = d
	}
}

// WithStore sets the backend. This is a required option.
func WithStore(s store.Store) Option {
	return func(c *Config) {
		c.Store = s
	}
}

// WithTokenStore moves issued token records to s.
func WithTokenStore(s store.TokenStore) Option {
	return func(c *Config) {
		c.TokenStore = s
	}
}

// WithBlacklistStore moves the blacklist to s.
func WithBlacklistStore(s store.BlacklistStore) Option {
	return func(c *Config) {
		c.BlacklistStore = s
	}
}

// WithCounterStore moves rate limit counters to s.
func WithCounterStore(s store.CounterStore) Option {
	return func(c *Config) {
		c.CounterStore = s
	}
}

// WithCache sets the API key verification cache.
func WithCache(cc cache.Cache) Option {
	return func(c *Config) {
		c.Cache = cc
	}
}

// WithPasswordHasher sets the hasher for new passwords.
func WithPasswordHasher(h password.Hasher) Option {
	return func(c *Config) {
		c.Hasher = h
	}
}

// WithAPIKeyPrefix sets the first segment of generated API keys.
func WithAPIKeyPrefix(prefix string) Option {
	return func(c *Config) {
		c.APIKey.Prefix = prefix
	}
}

// WithAPIKeyScope sets the site segment of generated API keys.
func WithAPIKeyScope(scope string) Option {
	return func(c *Config) {
		c.APIKey.Scope = scope
	}
}

// WithAPIKeySecret sets the API key checksum secret.
func WithAPIKeySecret(secret string) Option {
	return func(c *Config) {
		c.APIKey.Secret = secret
	}
}

// WithAPIKeyCacheTTL bounds cached API key verifications.
func WithAPIKeyCacheTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.APIKey.CacheTTL = ttl
	}
}

// WithAPIKeyRateLimit sets the default per-key quota.
func WithAPIKeyRateLimit(q Quota) Option {
	return func(c *Config) {
		c.APIKey.RateLimit = q
	}
}

// WithStrategies enables the named built-in strategies in dispatch order.
func WithStrategies(names ...string) Option {
	return func(c *Config) {
		c.Strategies = names
	}
}

// WithPolicy sets the default permission policy.
func WithPolicy(p *permissions.Policy) Option {
	return func(c *Config) {
		c.Policy = p
	}
}

// WithPolicyFromFile loads the default permission policy from a YAML or
// JSON file. A load error surfaces from New.
func WithPolicyFromFile(path string) Option {
	return func(c *Config) {
		p, err := permissions.LoadFile(path)
		c.Policy, c.policyErr = p, err
	}
}

// WithPolicyCacheTTL bounds reuse of the merged policy.
func WithPolicyCacheTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.PolicyCacheTTL = ttl
	}
}

// WithRateLimits sets the quotas.
func WithRateLimits(rl RateLimitConfig) Option {
	return func(c *Config) {
		c.RateLimit = rl
	}
}

// WithTrustedProxies sets the reverse proxies whose forwarding headers
// name the client address.
func WithTrustedProxies(cidrs ...string) Option {
	return func(c *Config) {
		c.TrustedProxies = append(c.TrustedProxies, cidrs...)
	}
}

// WithAutoMigrate enables or disables schema migration in New.
func WithAutoMigrate(enabled bool) Option {
	return func(c *Config) {
		c.AutoMigrate = enabled
	}
}

// WithCleanupInterval sets how often expired records are pruned.
// Set to 0 to disable background cleanup.
func WithCleanupInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.CleanupInterval = interval
	}
}

// WithRetryBackoff sets the pause before retrying a transient store
// failure.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Config) {
		c.RetryBackoff = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics registers the Prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registerer = reg
	}
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Now = now
	}
}
