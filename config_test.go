package restauth

import (
	"errors"
	"testing"
	"time"

	"github.com/aloks98/restauth/permissions"
	"github.com/aloks98/restauth/signer"
)

const testSecret = "this-is-a-32-character-secret!!!"

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	if cfg.AccessTokenTTL != DefaultAccessTokenTTL {
		t.Errorf("AccessTokenTTL = %v, want %v", cfg.AccessTokenTTL, DefaultAccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != DefaultRefreshTokenTTL {
		t.Errorf("RefreshTokenTTL = %v, want %v", cfg.RefreshTokenTTL, DefaultRefreshTokenTTL)
	}
	if cfg.SigningMethod != DefaultSigningMethod {
		t.Errorf("SigningMethod = %v, want %v", cfg.SigningMethod, DefaultSigningMethod)
	}
	if len(cfg.Strategies) != 3 || cfg.Strategies[0] != StrategyJWT {
		t.Errorf("Strategies = %v", cfg.Strategies)
	}
	if cfg.RateLimit.Login.Limit != 10 {
		t.Errorf("login limit = %d, want 10", cfg.RateLimit.Login.Limit)
	}
}

func TestConfig_Validate(t *testing.T) {
	rsa, err := signer.Generate("RS256")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	pubPEM, err := rsa.PublicKeyPEM()
	if err != nil {
		t.Fatalf("PublicKeyPEM() error = %v", err)
	}
	verifyOnly, err := signer.PublicFromPEM("RS256", pubPEM)
	if err != nil {
		t.Fatalf("PublicFromPEM() error = %v", err)
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{
			name:   "valid config",
			modify: func(c *Config) { c.Secret = testSecret },
		},
		{
			name:    "missing secret",
			modify:  func(c *Config) {},
			wantErr: ErrConfigInvalid,
		},
		{
			name:    "secret too short",
			modify:  func(c *Config) { c.Secret = "short" },
			wantErr: ErrConfigInvalid,
		},
		{
			name: "RS256 without signer",
			modify: func(c *Config) {
				c.Secret = testSecret
				c.SigningMethod = "RS256"
			},
			wantErr: ErrConfigInvalid,
		},
		{
			name: "signer with API key secret",
			modify: func(c *Config) {
				c.Signer = rsa
				c.APIKey.Secret = "sixteen-bytes-ok"
			},
		},
		{
			name:    "signer without API key secret",
			modify:  func(c *Config) { c.Signer = rsa },
			wantErr: ErrConfigInvalid,
		},
		{
			name: "verify-only signer",
			modify: func(c *Config) {
				c.Signer = verifyOnly
				c.APIKey.Secret = "sixteen-bytes-ok"
			},
			wantErr: ErrConfigInvalid,
		},
		{
			name: "refresh not longer than access",
			modify: func(c *Config) {
				c.Secret = testSecret
				c.RefreshTokenTTL = c.AccessTokenTTL
			},
			wantErr: ErrConfigInvalid,
		},
		{
			name: "negative clock skew",
			modify: func(c *Config) {
				c.Secret = testSecret
				c.ClockSkew = -time.Second
			},
			wantErr: ErrConfigInvalid,
		},
		{
			name: "unknown strategy",
			modify: func(c *Config) {
				c.Secret = testSecret
				c.Strategies = []string{"oauth"}
			},
			wantErr: ErrUnknownStrategy,
		},
		{
			name: "duplicate strategy",
			modify: func(c *Config) {
				c.Secret = testSecret
				c.Strategies = []string{StrategyJWT, StrategyJWT}
			},
			wantErr: ErrConfigInvalid,
		},
		{
			name: "quota without window",
			modify: func(c *Config) {
				c.Secret = testSecret
				c.RateLimit.IP = Quota{Limit: 5}
			},
			wantErr: ErrConfigInvalid,
		},
		{
			name: "invalid policy",
			modify: func(c *Config) {
				c.Secret = testSecret
				c.Policy = &permissions.Policy{Roles: map[string]map[string]permissions.Rule{"": {}}}
			},
			wantErr: ErrConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
