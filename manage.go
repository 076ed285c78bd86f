package restauth

import (
	"context"
	"errors"
	"time"

	"github.com/aloks98/restauth/apikey"
	"github.com/aloks98/restauth/permissions"
	"github.com/aloks98/restauth/store"
)

// NewAPIKey is the input of CreateAPIKey.
type NewAPIKey struct {
	Name            string
	Scopes          []string
	ExpiresAt       *time.Time
	TTL             time.Duration
	RateLimit       int
	RateLimitWindow time.Duration
}

// CreateAPIKey issues a key owned by userID. The raw key is only
// available in the result.
func (a *Auth) CreateAPIKey(ctx context.Context, userID string, in NewAPIKey) (*apikey.CreateKeyResult, error) {
	u, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return nil, classify(store.Classify(err))
	}
	if u == nil {
		return nil, validation("unknown user")
	}
	res, err := a.keys.Generate(ctx, userID, &apikey.CreateKeyOptions{
		Name:            in.Name,
		Scopes:          in.Scopes,
		ExpiresAt:       in.ExpiresAt,
		TTL:             in.TTL,
		RateLimit:       in.RateLimit,
		RateLimitWindow: in.RateLimitWindow,
	})
	if err != nil {
		return nil, classify(store.Classify(err))
	}
	a.logger.Info("api key created", "user", userID, "hint", res.Record.Hint)
	return res, nil
}

// ListAPIKeys returns the keys of userID.
func (a *Auth) ListAPIKeys(ctx context.Context, userID string) ([]*store.APIKeyRecord, error) {
	keys, err := a.keys.List(ctx, userID)
	if err != nil {
		return nil, classify(store.Classify(err))
	}
	return keys, nil
}

// RevokeAPIKey revokes rawKey on behalf of id. Only the owner and
// administrators may revoke a key.
func (a *Auth) RevokeAPIKey(ctx context.Context, id *Identity, rawKey string) error {
	if id == nil {
		return NewAuthError(CodeAuthMissing, "no identity", nil)
	}
	if rawKey == "" {
		return validation("api_key is required")
	}
	owner, err := a.keys.Subject(rawKey)
	if err != nil {
		return NewAuthError(CodeValidationFailed, "malformed api key", err)
	}
	if owner != id.ID && !id.HasRole(permissions.RoleAdministrator) {
		return NewAuthError(CodeForbidden, "not the key owner", nil)
	}
	if err := a.keys.Revoke(ctx, rawKey); err != nil {
		if errors.Is(err, apikey.ErrKeyInvalid) {
			return NewAuthError(CodeValidationFailed, "unknown api key", err)
		}
		return classify(store.Classify(err))
	}
	a.logger.Info("api key revoked", "user", owner, "by", id.ID)
	return nil
}

// CreateAppPassword adds a named application password for userID and
// returns its plaintext, which is not stored.
func (a *Auth) CreateAppPassword(ctx context.Context, userID, name string) (string, *store.AppPassword, error) {
	if name == "" {
		return "", nil, validation("name is required")
	}
	plain, pw, err := a.basic.CreateAppPassword(ctx, userID, name)
	if err != nil {
		return "", nil, classify(store.Classify(err))
	}
	a.logger.Info("application password created", "user", userID, "id", pw.ID)
	return plain, pw, nil
}

// ListAppPasswords returns the application passwords of userID.
func (a *Auth) ListAppPasswords(ctx context.Context, userID string) ([]*store.AppPassword, error) {
	pws, err := a.basic.ListAppPasswords(ctx, userID)
	if err != nil {
		return nil, classify(store.Classify(err))
	}
	return pws, nil
}

// RevokeAppPassword deletes one application password of userID.
func (a *Auth) RevokeAppPassword(ctx context.Context, userID, id string) error {
	ok, err := a.basic.RevokeAppPassword(ctx, userID, id)
	if err != nil {
		return classify(store.Classify(err))
	}
	if !ok {
		return validation("unknown application password")
	}
	return nil
}

// Policy returns the effective permission policy.
func (a *Auth) Policy(ctx context.Context) (*permissions.Policy, error) {
	p, err := a.perms.Policy(ctx)
	if err != nil {
		return nil, classify(store.Classify(err))
	}
	return p, nil
}

// ReplacePolicy persists p as the whole policy override.
func (a *Auth) ReplacePolicy(ctx context.Context, p *permissions.Policy) error {
	if p == nil {
		return validation("policy is required")
	}
	if err := p.Validate(); err != nil {
		return NewAuthError(CodeValidationFailed, err.Error(), err)
	}
	if err := a.perms.Replace(ctx, p); err != nil {
		return classify(store.Classify(err))
	}
	a.logger.Info("permission policy replaced", "roles", len(p.Roles))
	return nil
}
