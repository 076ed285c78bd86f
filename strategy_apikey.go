package restauth

import (
	"context"
	"log/slog"
	"slices"

	"github.com/aloks98/restauth/apikey"
	"github.com/aloks98/restauth/internal/redact"
	"github.com/aloks98/restauth/store"
	"github.com/aloks98/restauth/token"
)

// APIKeyStrategy authenticates long-lived API keys.
type APIKeyStrategy struct {
	keys   *apikey.Service
	users  store.UserStore
	logger *slog.Logger
}

// NewAPIKeyStrategy creates the api_key strategy.
func NewAPIKeyStrategy(keys *apikey.Service, users store.UserStore, logger *slog.Logger) *APIKeyStrategy {
	return &APIKeyStrategy{keys: keys, users: users, logger: logger}
}

// Name implements Strategy.
func (s *APIKeyStrategy) Name() string { return StrategyAPIKey }

// Supports implements Strategy.
func (s *APIKeyStrategy) Supports(c Credential) bool { return c.Kind == KindAPIKey && c.APIKey != "" }

// Challenge implements Strategy.
func (s *APIKeyStrategy) Challenge() string { return `Key realm="restauth"` }

// Authenticate validates the key, loads its owner and records the use.
// A failed usage update is logged and does not fail the request.
func (s *APIKeyStrategy) Authenticate(ctx context.Context, c Credential) (*Identity, error) {
	rec, err := s.keys.Validate(ctx, c.APIKey)
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetUser(ctx, rec.SubjectID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, invalid("api key owner no longer exists")
	}

	if err := s.keys.Touch(ctx, c.APIKey, c.RemoteIP); err != nil {
		s.logger.Warn("api key usage update failed", "key", redact.Secret(c.APIKey), "error", err)
	}

	id := identityFromUser(u, StrategyAPIKey)
	id.Scopes = slices.Clone(rec.Scopes)
	id.RateLimit = Quota{Limit: rec.RateLimit, Window: rec.RateLimitWindow}
	return id, nil
}

// Login authenticates the key. API keys carry no session, so no tokens
// are issued.
func (s *APIKeyStrategy) Login(ctx context.Context, c Credential) (*Identity, *token.Pair, error) {
	id, err := s.Authenticate(ctx, c)
	return id, nil, err
}

var (
	_ Strategy = (*APIKeyStrategy)(nil)
	_ Loginer  = (*APIKeyStrategy)(nil)
)
