package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/aloks98/restauth"
	"github.com/aloks98/restauth/store/memory"
	sqlstore "github.com/aloks98/restauth/store/sql"
)

const testSecret = "this-is-a-32-character-secret!!!"

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	f, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q", f.Server.Addr)
	}
	if f.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q", f.Store.Driver)
	}
	if f.Auth.AccessTTL != 15*time.Minute || f.Auth.RefreshTTL != 7*24*time.Hour {
		t.Errorf("TTLs = %v / %v", f.Auth.AccessTTL, f.Auth.RefreshTTL)
	}
	if len(f.Auth.Strategies) != 3 {
		t.Errorf("Strategies = %v", f.Auth.Strategies)
	}
	if f.RateLimits.Login != restauth.DefaultRateLimits().Login {
		t.Errorf("RateLimits.Login = %+v", f.RateLimits.Login)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, "restauthd.yaml", `
server:
  addr: 127.0.0.1:9000
auth:
  secret: from-file
  access_ttl: 5m
  refresh_ttl: 1h
  strategies: [jwt, basic]
  trusted_proxies: [10.0.0.0/8, 127.0.0.1]
  api_key:
    prefix: sk
    rate_limit:
      limit: 50
      window: 1m
store:
  driver: sqlite
  dsn: /tmp/restauth.db
rate_limits:
  login:
    limit: 3
    window: 10m
log:
  format: json
`)
	t.Setenv("RESTAUTH_AUTH_SECRET", testSecret)
	t.Setenv("RESTAUTH_SERVER_LOGIN_RATE_LIMIT", "7")

	f, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"addr", f.Server.Addr, "127.0.0.1:9000"},
		{"secret from env", f.Auth.Secret, testSecret},
		{"login rate limit from env", f.Server.LoginRateLimit, 7},
		{"access ttl", f.Auth.AccessTTL, 5 * time.Minute},
		{"strategies", strings.Join(f.Auth.Strategies, ","), "jwt,basic"},
		{"trusted proxies", strings.Join(f.Auth.TrustedProxies, ","), "10.0.0.0/8,127.0.0.1"},
		{"key prefix", f.Auth.APIKey.Prefix, "sk"},
		{"key quota", f.Auth.APIKey.Quota, restauth.Quota{Limit: 50, Window: time.Minute}},
		{"login quota", f.RateLimits.Login, restauth.Quota{Limit: 3, Window: 10 * time.Minute}},
		{"driver", f.Store.Driver, "sqlite"},
		{"unset default kept", f.Auth.Issuer, "restauth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() error = nil, want error for missing file")
	}
}

func TestLogger(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
	}{
		{"info", "text", false},
		{"debug", "json", false},
		{"loud", "text", true},
		{"info", "xml", true},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			f := &File{Log: LogConfig{Level: tt.level, Format: tt.format}}
			var buf bytes.Buffer
			l, err := f.Logger(&buf)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Logger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			l.Info("hello")
			if !strings.Contains(buf.String(), "hello") {
				t.Errorf("output = %q", buf.String())
			}
		})
	}
}

func TestOpenStore(t *testing.T) {
	tests := []struct {
		name    string
		cfg     StoreConfig
		wantErr bool
	}{
		{"memory", StoreConfig{Driver: "memory"}, false},
		{"sqlite", StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "auth.db")}, false},
		{"sql without dsn", StoreConfig{Driver: "postgres"}, true},
		{"unknown", StoreConfig{Driver: "oracle", DSN: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &File{Store: tt.cfg}
			st, err := f.OpenStore()
			if (err != nil) != tt.wantErr {
				t.Fatalf("OpenStore() error = %v, wantErr %v", err, tt.wantErr)
			}
			if st != nil {
				_ = st.Close()
			}
		})
	}

	f := &File{Store: StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "x.db")}}
	st, err := f.OpenStore()
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if _, ok := st.(*sqlstore.Store); !ok {
		t.Errorf("OpenStore() = %T, want *sql.Store", st)
	}
}

func TestNewAuth(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RESTAUTH_AUTH_SECRET", testSecret)
	t.Setenv("RESTAUTH_AUTH_CLEANUP_INTERVAL", "0s")

	f, err := Load(viper.New(), "")
	if err != nil {
		t.Fatal(err)
	}
	logger, err := f.Logger(&bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	a, err := f.NewAuth(logger, nil)
	if err != nil {
		t.Fatalf("NewAuth() error = %v", err)
	}
	defer a.Close()
	if _, ok := a.Store().(*memory.Store); !ok {
		t.Errorf("Store() = %T, want memory", a.Store())
	}
	if a.Config().RateLimit.Login != f.RateLimits.Login {
		t.Errorf("login quota not applied: %+v", a.Config().RateLimit.Login)
	}

	f.Cache.Driver = "bogus"
	if _, err := f.Options(memory.New(), logger, nil); err == nil {
		t.Error("Options() error = nil for unknown cache driver")
	}
}

func TestNewAuth_RejectsShortSecret(t *testing.T) {
	f := &File{}
	v := viper.New()
	SetDefaults(v)
	if err := v.Unmarshal(f); err != nil {
		t.Fatal(err)
	}
	f.Auth.Secret = "short"
	f.Auth.CleanupInterval = 0
	if _, err := f.NewAuth(nil, nil); err == nil {
		t.Fatal("NewAuth() error = nil, want config error")
	}
}
