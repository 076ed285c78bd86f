package restauth

import (
	"context"
	"fmt"

	"github.com/aloks98/restauth/password"
	"github.com/aloks98/restauth/store"
	"github.com/aloks98/restauth/token"
)

// BearerStrategy authenticates signed access tokens and logs users in with
// their primary password.
type BearerStrategy struct {
	tokens *token.Manager
	users  store.UserStore
	pad    *timingPad
}

// NewBearerStrategy creates the jwt strategy.
func NewBearerStrategy(tokens *token.Manager, users store.UserStore, hasher password.Hasher) *BearerStrategy {
	return &BearerStrategy{tokens: tokens, users: users, pad: &timingPad{hasher: hasher}}
}

// Name implements Strategy.
func (s *BearerStrategy) Name() string { return StrategyJWT }

// Supports implements Strategy.
func (s *BearerStrategy) Supports(c Credential) bool { return c.Kind == KindBearer && c.Token != "" }

// Challenge implements Strategy.
func (s *BearerStrategy) Challenge() string { return `Bearer realm="restauth"` }

// Authenticate validates an access token and loads its subject. Refresh
// tokens are rejected.
func (s *BearerStrategy) Authenticate(ctx context.Context, c Credential) (*Identity, error) {
	claims, err := s.tokens.Validate(ctx, c.Token)
	if err != nil {
		return nil, err
	}
	if !claims.IsAccess() {
		return nil, invalid("refresh token presented as bearer")
	}

	u, err := s.users.GetUser(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, invalid("token subject no longer exists")
	}

	id := identityFromUser(u, StrategyJWT)
	id.TokenID = claims.ID
	return id, nil
}

// Login checks a login name or email and primary password, then issues a
// token pair. Unknown users and wrong passwords are indistinguishable.
func (s *BearerStrategy) Login(ctx context.Context, c Credential) (*Identity, *token.Pair, error) {
	u, err := s.verify(ctx, c.Username, c.Secret)
	if err != nil {
		return nil, nil, err
	}
	pair, err := s.tokens.IssuePair(ctx, u.ID)
	if err != nil {
		return nil, nil, err
	}
	return identityFromUser(u, StrategyJWT), pair, nil
}

func (s *BearerStrategy) verify(ctx context.Context, login, secret string) (*store.User, error) {
	u, err := s.users.FindUser(ctx, login)
	if err != nil {
		return nil, err
	}
	if u == nil || u.PasswordHash == "" {
		s.pad.spend(secret)
		return nil, invalid("invalid username or password")
	}

	ok, err := password.Verify(secret, u.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password of %s: %w", u.ID, err)
	}
	if !ok {
		return nil, invalid("invalid username or password")
	}
	return u, nil
}

// Revoke blacklists every token of the identity.
func (s *BearerStrategy) Revoke(ctx context.Context, id *Identity) error {
	_, err := s.tokens.RevokeUserTokens(ctx, id.ID)
	return err
}

var (
	_ Strategy = (*BearerStrategy)(nil)
	_ Loginer  = (*BearerStrategy)(nil)
	_ Revoker  = (*BearerStrategy)(nil)
)
