// Package restauth authenticates and authorizes requests to a REST API.
//
// An Auth dispatches each request credential to the first strategy that
// supports it: signed bearer tokens, API keys, or HTTP basic auth with
// application passwords. Authenticated identities are then checked against
// a role policy and per-identity rate limits.
//
// Basic usage:
//
//	auth, err := restauth.New(
//	    restauth.WithSecret("a-secret-of-at-least-32-characters"),
//	    restauth.WithStore(memory.New()),
//	)
//	id, err := auth.Authenticate(ctx, r)
//	err = auth.Authorize(ctx, id, "posts", permissions.ActionUpdate, ownerID)
package restauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aloks98/restauth/apikey"
	"github.com/aloks98/restauth/cache"
	"github.com/aloks98/restauth/cleanup"
	"github.com/aloks98/restauth/internal/metrics"
	"github.com/aloks98/restauth/internal/redact"
	"github.com/aloks98/restauth/password"
	"github.com/aloks98/restauth/permissions"
	"github.com/aloks98/restauth/ratelimit"
	"github.com/aloks98/restauth/signer"
	"github.com/aloks98/restauth/store"
	"github.com/aloks98/restauth/token"
)

// Auth is the main entry point of the engine.
type Auth struct {
	config  *Config
	logger  *slog.Logger
	store   store.Store
	hasher  password.Hasher
	metrics *metrics.Metrics
	cache   cache.Cache

	tokens  *token.Manager
	keys    *apikey.Service
	perms   *permissions.Service
	limiter *ratelimit.Limiter
	proxies *ratelimit.Proxies
	cleaner *cleanup.Worker

	bearer *BearerStrategy
	apiKey *APIKeyStrategy
	basic  *BasicStrategy

	// mu protects strategies and closed.
	mu         sync.RWMutex
	strategies []Strategy
	closed     bool
}

// New creates an Auth with the given options. WithStore and either
// WithSecret or WithSigner are required.
func New(opts ...Option) (*Auth, error) {
	cfg := NewConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		return nil, ErrStoreRequired
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if cfg.Hasher == nil {
		h, err := password.New(password.Bcrypt)
		if err != nil {
			return nil, err
		}
		cfg.Hasher = h
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemory().WithClock(cfg.Now)
	}

	sg := cfg.Signer
	if sg == nil {
		var err error
		sg, err = signer.NewHMAC(cfg.SigningMethod, []byte(cfg.Secret))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
		}
	}

	if cfg.AutoMigrate {
		if err := cfg.Store.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to migrate store: %w", err)
		}
	}

	tokenStore := store.TokenStore(cfg.Store)
	if cfg.TokenStore != nil {
		tokenStore = cfg.TokenStore
	}
	blacklist := store.BlacklistStore(cfg.Store)
	if cfg.BlacklistStore != nil {
		blacklist = cfg.BlacklistStore
	}
	counters := store.CounterStore(cfg.Store)
	if cfg.CounterStore != nil {
		counters = cfg.CounterStore
	}

	tokens, err := token.NewManager(sg, tokenStore, blacklist, token.Config{
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
		ClockSkew:  cfg.ClockSkew,
		Now:        cfg.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	proxies, err := ratelimit.ParseProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	keys, err := apikey.NewService(apikey.Config{
		Prefix:                 cfg.APIKey.Prefix,
		Scope:                  cfg.APIKey.Scope,
		Secret:                 []byte(cfg.apiKeySecret()),
		CacheTTL:               cfg.APIKey.CacheTTL,
		DefaultTTL:             cfg.APIKey.DefaultTTL,
		DefaultRateLimit:       cfg.APIKey.RateLimit.Limit,
		DefaultRateLimitWindow: cfg.APIKey.RateLimit.Window,
		Now:                    cfg.Now,
	}, cfg.Store, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	a := &Auth{
		config:  cfg,
		logger:  cfg.Logger,
		store:   cfg.Store,
		hasher:  cfg.Hasher,
		metrics: metrics.New(cfg.Registerer),
		cache:   cfg.Cache,
		tokens:  tokens,
		keys:    keys,
		perms: permissions.NewService(cfg.Store, permissions.ServiceConfig{
			Defaults: cfg.Policy,
			CacheTTL: cfg.PolicyCacheTTL,
			Now:      cfg.Now,
		}),
		limiter: ratelimit.New(counters, ratelimit.Config{Now: cfg.Now}),
		proxies: proxies,
	}
	a.bearer = NewBearerStrategy(tokens, cfg.Store, cfg.Hasher)
	a.apiKey = NewAPIKeyStrategy(keys, cfg.Store, cfg.Logger)
	a.basic = NewBasicStrategy(cfg.Store, cfg.Hasher, cfg.Now, cfg.Logger)

	for _, name := range cfg.Strategies {
		switch name {
		case StrategyJWT:
			a.strategies = append(a.strategies, a.bearer)
		case StrategyAPIKey:
			a.strategies = append(a.strategies, a.apiKey)
		case StrategyBasic:
			a.strategies = append(a.strategies, a.basic)
		}
	}

	a.cleaner = cleanup.NewWorker(cleanup.Config{
		Interval: cfg.CleanupInterval,
		Logger:   cfg.Logger.With("component", "cleanup"),
		Tasks:    a.cleanupTasks(),
		OnRun: func(err error) {
			a.metrics.CleanupRuns.WithLabelValues(metrics.Result(err)).Inc()
		},
	})
	if cfg.CleanupInterval > 0 {
		a.cleaner.Start()
	}

	return a, nil
}

func (a *Auth) cleanupTasks() []cleanup.Task {
	tasks := []cleanup.Task{
		{Name: "tokens", Run: func(ctx context.Context) (int64, error) {
			res, err := a.tokens.CleanupExpiredTokens(ctx)
			return res.Tokens + res.Blacklist, err
		}},
		{Name: "rate_counters", Run: a.limiter.Cleanup},
	}
	if m, ok := a.cache.(*cache.Memory); ok {
		tasks = append(tasks, cleanup.Task{Name: "key_cache", Run: func(context.Context) (int64, error) {
			return int64(m.Prune()), nil
		}})
	}
	return tasks
}

// Register appends a custom strategy to the dispatch order. Names must be
// unique.
func (a *Auth) Register(s Strategy) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, existing := range a.strategies {
		if existing.Name() == s.Name() {
			return fmt.Errorf("%w: strategy %q already registered", ErrConfigInvalid, s.Name())
		}
	}
	a.strategies = append(a.strategies, s)
	return nil
}

// Strategies returns the registered strategies in dispatch order.
func (a *Auth) Strategies() []Strategy {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.strategies)
}

func (a *Auth) strategy(name string) (Strategy, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, s := range a.strategies {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Challenges returns the WWW-Authenticate values of every strategy.
func (a *Auth) Challenges() []string {
	var out []string
	for _, s := range a.Strategies() {
		if c := s.Challenge(); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// withRetry runs fn and retries it once after RetryBackoff when it fails
// with a transient store error.
func (a *Auth) withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !errors.Is(store.Classify(err), store.ErrUnavailable) {
		return err
	}
	a.metrics.StoreRetries.Inc()
	a.logger.Warn("transient store failure, retrying", "error", err)

	t := time.NewTimer(a.config.RetryBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", store.ErrUnavailable, ctx.Err())
	case <-t.C:
	}
	return store.Classify(fn())
}

// Authenticate extracts the credential of r and verifies it.
func (a *Auth) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	c, ok := ExtractCredential(r)
	if !ok {
		return nil, NewAuthError(CodeAuthMissing, "no credentials presented", nil)
	}
	c.RemoteIP = a.ClientIP(r)
	return a.AuthenticateCredential(ctx, c)
}

// ClientIP returns the client address of r. Forwarding headers count only
// when the peer is one of the configured trusted proxies.
func (a *Auth) ClientIP(r *http.Request) string {
	return a.proxies.ClientIP(r)
}

// AuthenticateCredential verifies c with the first strategy that supports
// it and fills the identity's capabilities from the policy.
func (a *Auth) AuthenticateCredential(ctx context.Context, c Credential) (*Identity, error) {
	var s Strategy
	for _, candidate := range a.Strategies() {
		if candidate.Supports(c) {
			s = candidate
			break
		}
	}
	if s == nil {
		a.metrics.AuthAttempts.WithLabelValues("none", "failure").Inc()
		return nil, invalid("no strategy accepts this credential")
	}

	var id *Identity
	err := a.withRetry(ctx, func() error {
		var err error
		id, err = s.Authenticate(ctx, c)
		if err != nil {
			return err
		}
		p, err := a.perms.Policy(ctx)
		if err != nil {
			return err
		}
		id.Capabilities = p.Capabilities(id.Subject())
		return nil
	})
	err = classify(err)
	a.metrics.AuthAttempts.WithLabelValues(s.Name(), metrics.Result(err)).Inc()
	if err != nil {
		a.logFailure("authentication failed", s.Name(), c, err)
		return nil, err
	}
	return id, nil
}

func (a *Auth) logFailure(msg, strategy string, c Credential, err error) {
	level := slog.LevelInfo
	if !IsAuthError(err) {
		level = slog.LevelWarn
	}
	a.logger.Log(context.Background(), level, msg,
		"strategy", strategy,
		"credential", c.String(),
		"code", Code(err),
		"error", err,
	)
}

// LoginRequest is the input of Login.
type LoginRequest struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	Strategy string `json:"strategy,omitempty"`

	// RemoteIP is recorded on API key and application password use.
	RemoteIP string `json:"-"`
}

// LoginResult is the output of Login. Tokens is nil for strategies that
// do not mint session tokens.
type LoginResult struct {
	User     *Identity   `json:"user"`
	Strategy string      `json:"strategy"`
	Tokens   *token.Pair `json:"tokens,omitempty"`
}

// Login verifies explicit credentials. Without a strategy, an API key
// selects api_key and a username with password selects jwt.
func (a *Auth) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	name := req.Strategy
	if name == "" {
		switch {
		case req.APIKey != "":
			name = StrategyAPIKey
		case req.Username != "" && req.Password != "":
			name = StrategyJWT
		default:
			return nil, validation("username and password or api_key are required")
		}
	}

	s, ok := a.strategy(name)
	if !ok {
		return nil, NewAuthError(CodeValidationFailed, "unknown strategy "+name, ErrUnknownStrategy)
	}
	l, ok := s.(Loginer)
	if !ok {
		return nil, validation("strategy " + name + " does not support login")
	}

	c := Credential{RemoteIP: req.RemoteIP}
	subject := strings.ToLower(req.Username)
	switch name {
	case StrategyAPIKey:
		if req.APIKey == "" {
			return nil, validation("api_key is required")
		}
		c.Kind, c.APIKey = KindAPIKey, req.APIKey
		subject = redact.Digest(req.APIKey)
	default:
		if req.Username == "" || req.Password == "" {
			return nil, validation("username and password are required")
		}
		c.Kind, c.Username, c.Secret = KindBasic, req.Username, req.Password
	}

	if q := a.config.RateLimit.Login; q.Enabled() {
		if _, err := a.limit(ctx, "method", ratelimit.MethodKey(name, subject), q); err != nil {
			a.metrics.Logins.WithLabelValues(name, "failure").Inc()
			return nil, err
		}
	}

	var (
		id   *Identity
		pair *token.Pair
	)
	err := a.withRetry(ctx, func() error {
		var err error
		id, pair, err = l.Login(ctx, c)
		if err != nil {
			return err
		}
		p, err := a.perms.Policy(ctx)
		if err != nil {
			return err
		}
		id.Capabilities = p.Capabilities(id.Subject())
		return nil
	})
	err = classify(err)
	a.metrics.Logins.WithLabelValues(name, metrics.Result(err)).Inc()
	if err != nil {
		a.logFailure("login failed", name, c, err)
		return nil, err
	}

	a.logger.Info("login succeeded", "strategy", name, "user", id.ID)
	return &LoginResult{User: id, Strategy: name, Tokens: pair}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// consumed; a second use fails with ErrAuthExpired.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	pair, err := a.refresh(ctx, refreshToken)
	err = classify(err)
	a.metrics.Refreshes.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		a.logFailure("refresh failed", StrategyJWT, Credential{Kind: KindBearer, Token: refreshToken}, err)
		return nil, err
	}
	return pair, nil
}

func (a *Auth) refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	if refreshToken == "" {
		return nil, validation("refresh_token is required")
	}

	var claims *token.Claims
	err := a.withRetry(ctx, func() error {
		var err error
		claims, err = a.tokens.Validate(ctx, refreshToken)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !claims.IsRefresh() {
		return nil, invalid("access token presented for refresh")
	}

	// Consume is not retried: a lost response would make the retry see
	// its own blacklist entry.
	if err := a.tokens.Consume(ctx, claims); err != nil {
		return nil, err
	}

	u, err := a.store.GetUser(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, invalid("token subject no longer exists")
	}
	return a.tokens.IssuePair(ctx, claims.Subject)
}

// Logout revokes the session state of id kept by the named strategy. An
// empty name uses the strategy that authenticated id. Strategies without
// session state make this a no-op.
func (a *Auth) Logout(ctx context.Context, id *Identity, strategyName string) error {
	if id == nil {
		return NewAuthError(CodeAuthMissing, "no identity", nil)
	}
	if strategyName == "" {
		strategyName = id.Method
	}
	s, ok := a.strategy(strategyName)
	if !ok {
		return NewAuthError(CodeValidationFailed, "unknown strategy "+strategyName, ErrUnknownStrategy)
	}
	r, ok := s.(Revoker)
	if !ok {
		return nil
	}
	if err := r.Revoke(ctx, id); err != nil {
		return classify(err)
	}
	a.logger.Info("logged out", "strategy", strategyName, "user", id.ID)
	return nil
}

// VerifyResult reports whether a request carries valid credentials.
type VerifyResult struct {
	Authenticated bool      `json:"authenticated"`
	User          *Identity `json:"user,omitempty"`
}

// Verify authenticates r. Rejected credentials produce an unauthenticated
// result rather than an error; store failures are still returned.
func (a *Auth) Verify(ctx context.Context, r *http.Request) (*VerifyResult, error) {
	id, err := a.Authenticate(ctx, r)
	switch {
	case err == nil:
		return &VerifyResult{Authenticated: true, User: id}, nil
	case IsAuthError(err):
		return &VerifyResult{}, nil
	default:
		return nil, err
	}
}

// Authorize reports whether id may perform action on resource. ownerID is
// the owner of the target object, or empty for collection-level checks.
// Identities restricted by API key scopes also need a matching scope.
func (a *Auth) Authorize(ctx context.Context, id *Identity, resource, action, ownerID string) error {
	if id == nil {
		return NewAuthError(CodeAuthMissing, "authentication required", nil)
	}
	if !apikey.ScopesAllow(id.Scopes, resource+":"+action) {
		return NewAuthError(CodeForbidden, fmt.Sprintf("api key scope does not allow %s on %s", action, resource), nil)
	}

	var ok bool
	err := a.withRetry(ctx, func() error {
		var err error
		ok, err = a.perms.HasPermission(ctx, id.Subject(), resource, action, ownerID)
		return err
	})
	if err != nil {
		return classify(err)
	}
	if !ok {
		return NewAuthError(CodeForbidden, fmt.Sprintf("not allowed to %s %s", action, resource), nil)
	}
	return nil
}

// Guard gates a request: per-IP quota, authentication, per-identity quota
// and authorization, in that order. The returned status belongs to the
// last quota checked and feeds the X-RateLimit headers.
func (a *Auth) Guard(ctx context.Context, r *http.Request, resource, action, ownerID string) (*Identity, ratelimit.Status, error) {
	var st ratelimit.Status

	if q := a.config.RateLimit.IP; q.Enabled() {
		if ip := a.ClientIP(r); ip != "" {
			var err error
			if st, err = a.limit(ctx, "ip", ratelimit.IPKey(ip), q); err != nil {
				return nil, st, err
			}
		}
	}

	id, err := a.Authenticate(ctx, r)
	if err != nil {
		return nil, st, err
	}

	if q, key := a.identityQuota(id); q.Enabled() {
		if st, err = a.limit(ctx, "identity", key, q); err != nil {
			return id, st, err
		}
	}

	if err := a.Authorize(ctx, id, resource, action, ownerID); err != nil {
		return id, st, err
	}
	return id, st, nil
}

// identityQuota returns the quota of id and its counter key. A per-key
// quota gets its own counter so it does not share the identity's window.
func (a *Auth) identityQuota(id *Identity) (Quota, string) {
	if id.RateLimit.Enabled() {
		return id.RateLimit, ratelimit.MethodKey(id.Method, id.ID)
	}
	return a.config.RateLimit.Identity, ratelimit.IdentityKey(id.ID)
}

// QuotaStatus reports where id stands in its quota window without
// consuming a request. It returns false when id has no quota or the
// counter cannot be read.
func (a *Auth) QuotaStatus(ctx context.Context, id *Identity) (ratelimit.Status, bool) {
	q, key := a.identityQuota(id)
	if !q.Enabled() {
		return ratelimit.Status{}, false
	}
	st, err := a.limiter.Remaining(ctx, key, q.Limit, q.Window)
	if err != nil {
		a.logger.Warn("quota status unavailable", "key", key, "error", err)
		return ratelimit.Status{}, false
	}
	return st, true
}

func (a *Auth) limit(ctx context.Context, keyspace, key string, q Quota) (ratelimit.Status, error) {
	st, err := a.limiter.Check(ctx, key, q.Limit, q.Window)
	if err == nil {
		return st, nil
	}
	err = classify(err)
	if errors.Is(err, ErrRateLimited) {
		a.metrics.RateLimited.WithLabelValues(keyspace).Inc()
		a.logger.Info("rate limited", "keyspace", keyspace, "key", key)
		return st, err
	}
	// Counter failures do not block traffic.
	a.logger.Error("rate limit check failed", "keyspace", keyspace, "error", err)
	return st, nil
}

// FilterFields returns a copy of record without the fields id may not
// read.
func (a *Auth) FilterFields(ctx context.Context, id *Identity, record map[string]any) (map[string]any, error) {
	p, err := a.perms.Policy(ctx)
	if err != nil {
		return nil, classify(store.Classify(err))
	}
	return p.FilterFields(record, id.Subject()), nil
}

// NewUser is the input of CreateUser.
type NewUser struct {
	Login       string            `json:"login"`
	Email       string            `json:"email"`
	DisplayName string            `json:"display_name"`
	Password    string            `json:"password"`
	Roles       []string          `json:"roles"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// CreateUser adds an account with a hashed primary password. A user
// without a password can only authenticate with API keys and application
// passwords.
func (a *Auth) CreateUser(ctx context.Context, in NewUser) (*store.User, error) {
	if in.Login == "" {
		return nil, validation("login is required")
	}
	if len(in.Roles) == 0 {
		in.Roles = []string{permissions.RoleSubscriber}
	}
	u := &store.User{
		ID:          uuid.NewString(),
		Login:       in.Login,
		Email:       in.Email,
		DisplayName: in.DisplayName,
		Roles:       in.Roles,
		Meta:        in.Meta,
		CreatedAt:   a.config.Now(),
	}
	if in.Password != "" {
		h, err := a.hasher.Hash(in.Password)
		if err != nil {
			if errors.Is(err, password.ErrTooLong) {
				return nil, NewAuthError(CodeValidationFailed, "password is too long", err)
			}
			return nil, err
		}
		u.PasswordHash = h
	}
	if err := a.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, NewAuthError(CodeValidationFailed, "login or email already taken", err)
		}
		return nil, classify(store.Classify(err))
	}
	return u, nil
}

// SetPassword replaces the primary password of userID and revokes every
// outstanding token of the user.
func (a *Auth) SetPassword(ctx context.Context, userID, newPassword string) error {
	if newPassword == "" {
		return validation("password is required")
	}
	h, err := a.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, password.ErrTooLong) {
			return NewAuthError(CodeValidationFailed, "password is too long", err)
		}
		return err
	}
	if err := a.store.SetPassword(ctx, userID, h); err != nil {
		return classify(store.Classify(err))
	}
	if _, err := a.tokens.RevokeUserTokens(ctx, userID); err != nil {
		return classify(store.Classify(err))
	}
	return nil
}

// Cleanup runs every cleanup task once and returns the per-task counts.
func (a *Auth) Cleanup(ctx context.Context) (map[string]int64, error) {
	return a.cleaner.RunNow(ctx)
}

// Close stops the cleanup worker and closes the store. Further calls are
// no-ops.
func (a *Auth) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.cleaner.Stop()
	return a.store.Close()
}

// Ping verifies the store connection is alive.
func (a *Auth) Ping(ctx context.Context) error {
	return a.store.Ping(ctx)
}

// Config returns the configuration. It must not be modified.
func (a *Auth) Config() *Config { return a.config }

// Store returns the backend.
func (a *Auth) Store() store.Store { return a.store }

// Tokens returns the token manager.
func (a *Auth) Tokens() *token.Manager { return a.tokens }

// APIKeys returns the API key service.
func (a *Auth) APIKeys() *apikey.Service { return a.keys }

// Permissions returns the policy service.
func (a *Auth) Permissions() *permissions.Service { return a.perms }

// Limiter returns the rate limiter.
func (a *Auth) Limiter() *ratelimit.Limiter { return a.limiter }

// Basic returns the basic strategy, which manages application passwords.
func (a *Auth) Basic() *BasicStrategy { return a.basic }

// Metrics returns the Prometheus collectors.
func (a *Auth) Metrics() *metrics.Metrics { return a.metrics }

// Logger returns the configured logger.
func (a *Auth) Logger() *slog.Logger { return a.logger }
