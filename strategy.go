package restauth

import (
	"context"
	"sync"

	"github.com/aloks98/restauth/password"
	"github.com/aloks98/restauth/token"
)

// Built-in strategy names.
const (
	StrategyJWT    = "jwt"
	StrategyAPIKey = "api_key"
	StrategyBasic  = "basic"
)

// Strategy verifies one credential shape.
type Strategy interface {
	// Name identifies the strategy in logs, login requests and metrics.
	Name() string

	// Supports reports whether the strategy handles c.
	Supports(c Credential) bool

	// Authenticate verifies c and returns the identity it proves.
	Authenticate(ctx context.Context, c Credential) (*Identity, error)

	// Challenge is the WWW-Authenticate value for failed requests.
	Challenge() string
}

// Loginer is implemented by strategies that support explicit login.
// Tokens is nil for strategies that do not mint session tokens.
type Loginer interface {
	Login(ctx context.Context, c Credential) (*Identity, *token.Pair, error)
}

// Revoker is implemented by strategies that keep session state.
type Revoker interface {
	Revoke(ctx context.Context, id *Identity) error
}

// timingPad is a throwaway hash verified when an account has nothing to
// check against, so unknown logins cost as much as known ones.
type timingPad struct {
	hasher password.Hasher
	once   sync.Once
	hash   string
}

func (p *timingPad) spend(secret string) {
	p.once.Do(func() {
		p.hash, _ = p.hasher.Hash("restauth-dummy-password")
	})
	if p.hash != "" {
		_, _ = password.Verify(secret, p.hash)
	}
}
