// Package config loads the restauthd daemon configuration from
// restauthd.yaml and RESTAUTH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/aloks98/restauth"
	"github.com/aloks98/restauth/cache"
	"github.com/aloks98/restauth/internal/server"
	"github.com/aloks98/restauth/signer"
	"github.com/aloks98/restauth/store"
	"github.com/aloks98/restauth/store/memory"
	redisstore "github.com/aloks98/restauth/store/redis"
	sqlstore "github.com/aloks98/restauth/store/sql"
)

// EnvPrefix prefixes every environment override, e.g. RESTAUTH_AUTH_SECRET.
const EnvPrefix = "RESTAUTH"

// File is the daemon configuration document.
type File struct {
	Server     ServerConfig    `mapstructure:"server"`
	Auth       AuthConfig      `mapstructure:"auth"`
	Store      StoreConfig     `mapstructure:"store"`
	Cache      CacheConfig     `mapstructure:"cache"`
	Log        LogConfig       `mapstructure:"log"`
	RateLimits RateLimitConfig `mapstructure:"rate_limits"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	LoginRateLimit  int           `mapstructure:"login_rate_limit"`
}

// AuthConfig configures tokens, API keys and strategies.
type AuthConfig struct {
	Secret          string        `mapstructure:"secret"`
	SigningMethod   string        `mapstructure:"signing_method"`
	PrivateKeyFile  string        `mapstructure:"private_key_file"`
	Issuer          string        `mapstructure:"issuer"`
	Audience        string        `mapstructure:"audience"`
	AccessTTL       time.Duration `mapstructure:"access_ttl"`
	RefreshTTL      time.Duration `mapstructure:"refresh_ttl"`
	ClockSkew       time.Duration `mapstructure:"clock_skew"`
	Strategies      []string      `mapstructure:"strategies"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	PolicyFile      string        `mapstructure:"policy_file"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	APIKey          APIKeyConfig  `mapstructure:"api_key"`
}

// APIKeyConfig configures generated API keys.
type APIKeyConfig struct {
	Prefix   string         `mapstructure:"prefix"`
	Scope    string         `mapstructure:"scope"`
	Secret   string         `mapstructure:"secret"`
	CacheTTL time.Duration  `mapstructure:"cache_ttl"`
	Quota    restauth.Quota `mapstructure:"rate_limit"`
}

// StoreConfig selects and configures the backend.
type StoreConfig struct {
	// Driver is memory, postgres, mysql, sqlite or redis.
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	TablePrefix  string        `mapstructure:"table_prefix"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	AutoMigrate  bool          `mapstructure:"auto_migrate"`
	Redis        RedisConfig   `mapstructure:"redis"`
}

// RedisConfig is shared by the redis store and the redis cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// CacheConfig selects the API key verification cache.
type CacheConfig struct {
	// Driver is memory or redis.
	Driver string `mapstructure:"driver"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RateLimitConfig holds the engine quotas.
type RateLimitConfig struct {
	Identity restauth.Quota `mapstructure:"identity"`
	IP       restauth.Quota `mapstructure:"ip"`
	Login    restauth.Quota `mapstructure:"login"`
}

// SetDefaults registers every key with its default so environment
// variables can override keys absent from the file.
func SetDefaults(v *viper.Viper) {
	srv := server.DefaultConfig()
	v.SetDefault("server.addr", srv.Addr)
	v.SetDefault("server.cors_origins", srv.CORSOrigins)
	v.SetDefault("server.shutdown_timeout", srv.ShutdownTimeout)
	v.SetDefault("server.max_body_size", srv.MaxBodySize)
	v.SetDefault("server.login_rate_limit", srv.LoginRateLimit)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.signing_method", "HS256")
	v.SetDefault("auth.private_key_file", "")
	v.SetDefault("auth.issuer", "restauth")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 7*24*time.Hour)
	v.SetDefault("auth.clock_skew", 30*time.Second)
	v.SetDefault("auth.strategies", []string{restauth.StrategyJWT, restauth.StrategyAPIKey, restauth.StrategyBasic})
	v.SetDefault("auth.trusted_proxies", []string{})
	v.SetDefault("auth.policy_file", "")
	v.SetDefault("auth.cleanup_interval", time.Hour)
	v.SetDefault("auth.api_key.prefix", "rk")
	v.SetDefault("auth.api_key.scope", "default")
	v.SetDefault("auth.api_key.secret", "")
	v.SetDefault("auth.api_key.cache_ttl", 5*time.Minute)
	v.SetDefault("auth.api_key.rate_limit.limit", 0)
	v.SetDefault("auth.api_key.rate_limit.window", time.Duration(0))

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table_prefix", "")
	v.SetDefault("store.query_timeout", sqlstore.DefaultQueryTimeout)
	v.SetDefault("store.max_open_conns", 0)
	v.SetDefault("store.auto_migrate", true)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "")

	v.SetDefault("cache.driver", "memory")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	rl := restauth.DefaultRateLimits()
	v.SetDefault("rate_limits.identity.limit", rl.Identity.Limit)
	v.SetDefault("rate_limits.identity.window", rl.Identity.Window)
	v.SetDefault("rate_limits.ip.limit", rl.IP.Limit)
	v.SetDefault("rate_limits.ip.window", rl.IP.Window)
	v.SetDefault("rate_limits.login.limit", rl.Login.Limit)
	v.SetDefault("rate_limits.login.window", rl.Login.Window)
}

// Load reads path, or restauthd.yaml from the working directory and
// $HOME/.restauth when path is empty. A missing default file is not an
// error.
func Load(v *viper.Viper, path string) (*File, error) {
	SetDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("restauthd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.restauth")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &f, nil
}

// Logger builds the slog logger described by the log section.
func (f *File) Logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(f.Log.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(f.Log.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log format %q: want text or json", f.Log.Format)
	}
}

// OpenStore connects the configured backend.
func (f *File) OpenStore() (store.Store, error) {
	switch strings.ToLower(f.Store.Driver) {
	case "", "memory":
		return memory.New(), nil
	case "redis":
		return redisstore.New(&redisstore.Config{
			Addr:     f.Store.Redis.Addr,
			Password: f.Store.Redis.Password,
			DB:       f.Store.Redis.DB,
			Prefix:   f.Store.Redis.Prefix,
			Timeout:  f.Store.QueryTimeout,
		})
	default:
		dialect, err := sqlstore.ParseDialect(f.Store.Driver)
		if err != nil {
			return nil, err
		}
		if f.Store.DSN == "" {
			return nil, fmt.Errorf("store: dsn is required for %s", dialect)
		}
		return sqlstore.New(&sqlstore.Config{
			Dialect:      dialect,
			DSN:          f.Store.DSN,
			TablePrefix:  f.Store.TablePrefix,
			QueryTimeout: f.Store.QueryTimeout,
			MaxOpenConns: f.Store.MaxOpenConns,
		})
	}
}

// Options translates the file into engine options over st.
func (f *File) Options(st store.Store, logger *slog.Logger, reg prometheus.Registerer) ([]restauth.Option, error) {
	a := f.Auth
	opts := []restauth.Option{
		restauth.WithStore(st),
		restauth.WithAutoMigrate(f.Store.AutoMigrate),
		restauth.WithLogger(logger),
		restauth.WithMetrics(reg),
		restauth.WithIssuer(a.Issuer),
		restauth.WithAudience(a.Audience),
		restauth.WithAccessTokenTTL(a.AccessTTL),
		restauth.WithRefreshTokenTTL(a.RefreshTTL),
		restauth.WithClockSkew(a.ClockSkew),
		restauth.WithStrategies(a.Strategies...),
		restauth.WithTrustedProxies(a.TrustedProxies...),
		restauth.WithCleanupInterval(a.CleanupInterval),
		restauth.WithAPIKeyPrefix(a.APIKey.Prefix),
		restauth.WithAPIKeyScope(a.APIKey.Scope),
		restauth.WithAPIKeyCacheTTL(a.APIKey.CacheTTL),
		restauth.WithAPIKeyRateLimit(a.APIKey.Quota),
		restauth.WithRateLimits(restauth.RateLimitConfig{
			Identity: f.RateLimits.Identity,
			IP:       f.RateLimits.IP,
			Login:    f.RateLimits.Login,
		}),
	}

	opts = append(opts, restauth.WithSecret(a.Secret), restauth.WithSigningMethod(a.SigningMethod))
	if a.PrivateKeyFile != "" {
		s, err := signer.LoadFile(a.SigningMethod, a.PrivateKeyFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, restauth.WithSigner(s))
	}
	if a.APIKey.Secret != "" {
		opts = append(opts, restauth.WithAPIKeySecret(a.APIKey.Secret))
	}
	if a.PolicyFile != "" {
		opts = append(opts, restauth.WithPolicyFromFile(a.PolicyFile))
	}

	switch strings.ToLower(f.Cache.Driver) {
	case "", "memory":
	case "redis":
		var prefix string
		if f.Store.Redis.Prefix != "" {
			prefix = f.Store.Redis.Prefix + "cache:"
		}
		opts = append(opts, restauth.WithCache(cache.NewRedis(f.redisClient(st), prefix)))
	default:
		return nil, fmt.Errorf("cache driver %q: want memory or redis", f.Cache.Driver)
	}
	return opts, nil
}

// redisClient reuses the store's pool when the store is redis.
func (f *File) redisClient(st store.Store) goredis.UniversalClient {
	if rs, ok := st.(*redisstore.Store); ok {
		return rs.Client()
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     f.Store.Redis.Addr,
		Password: f.Store.Redis.Password,
		DB:       f.Store.Redis.DB,
	})
}

// ServerConfig returns the HTTP server settings.
func (f *File) ServerConfig() server.Config {
	return server.Config{
		Addr:            f.Server.Addr,
		ShutdownTimeout: f.Server.ShutdownTimeout,
		CORSOrigins:     f.Server.CORSOrigins,
		MaxBodySize:     f.Server.MaxBodySize,
		LoginRateLimit:  f.Server.LoginRateLimit,
	}
}

// NewAuth opens the store and builds the engine. The caller closes the
// returned Auth, which closes the store.
func (f *File) NewAuth(logger *slog.Logger, reg prometheus.Registerer) (*restauth.Auth, error) {
	st, err := f.OpenStore()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	opts, err := f.Options(st, logger, reg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	a, err := restauth.New(opts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}
