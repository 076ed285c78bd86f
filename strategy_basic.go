package restauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aloks98/restauth/password"
	"github.com/aloks98/restauth/store"
	"github.com/aloks98/restauth/token"
)

// BasicStrategy authenticates HTTP basic credentials against a user's
// application passwords. The primary password is never accepted here.
type BasicStrategy struct {
	users  store.UserStore
	hasher password.Hasher
	pad    *timingPad
	now    func() time.Time
	logger *slog.Logger
}

// NewBasicStrategy creates the basic strategy.
func NewBasicStrategy(users store.UserStore, hasher password.Hasher, now func() time.Time, logger *slog.Logger) *BasicStrategy {
	return &BasicStrategy{users: users, hasher: hasher, pad: &timingPad{hasher: hasher}, now: now, logger: logger}
}

// Name implements Strategy.
func (s *BasicStrategy) Name() string { return StrategyBasic }

// Supports implements Strategy.
func (s *BasicStrategy) Supports(c Credential) bool {
	return c.Kind == KindBasic && c.Username != "" && c.Secret != ""
}

// Challenge implements Strategy.
func (s *BasicStrategy) Challenge() string { return `Basic realm="restauth"` }

// Authenticate resolves the user by login or email and checks the secret
// against each of their application passwords. The matching password's
// last use is recorded.
func (s *BasicStrategy) Authenticate(ctx context.Context, c Credential) (*Identity, error) {
	u, err := s.users.FindUser(ctx, c.Username)
	if err != nil {
		return nil, err
	}
	secret := password.NormalizeAppPassword(c.Secret)
	if u == nil {
		s.pad.spend(secret)
		return nil, invalid("invalid username or application password")
	}

	pws, err := s.users.ListAppPasswords(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if len(pws) == 0 {
		s.pad.spend(secret)
	}
	for _, pw := range pws {
		ok, err := password.Verify(secret, pw.Hash)
		if err != nil {
			s.logger.Warn("unreadable application password hash", "user", u.ID, "app_password", pw.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if err := s.users.TouchAppPassword(ctx, pw.ID, s.now(), c.RemoteIP); err != nil {
			s.logger.Warn("application password usage update failed", "app_password", pw.ID, "error", err)
		}
		return identityFromUser(u, StrategyBasic), nil
	}
	return nil, invalid("invalid username or application password")
}

// Login authenticates the credential without issuing tokens.
func (s *BasicStrategy) Login(ctx context.Context, c Credential) (*Identity, *token.Pair, error) {
	id, err := s.Authenticate(ctx, c)
	return id, nil, err
}

// CreateAppPassword adds a named application password for userID. The
// plaintext, grouped for display, is returned only here.
func (s *BasicStrategy) CreateAppPassword(ctx context.Context, userID, name string) (string, *store.AppPassword, error) {
	if name == "" {
		return "", nil, validation("application password name is required")
	}
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	if u == nil {
		return "", nil, validation("unknown user")
	}

	display, err := password.GenerateAppPassword()
	if err != nil {
		return "", nil, err
	}
	hash, err := s.hasher.Hash(password.NormalizeAppPassword(display))
	if err != nil {
		return "", nil, fmt.Errorf("hash application password: %w", err)
	}

	pw := &store.AppPassword{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Hash:      hash,
		CreatedAt: s.now(),
	}
	if err := s.users.SaveAppPassword(ctx, pw); err != nil {
		return "", nil, err
	}
	return display, pw, nil
}

// ListAppPasswords returns the application passwords of userID.
func (s *BasicStrategy) ListAppPasswords(ctx context.Context, userID string) ([]*store.AppPassword, error) {
	return s.users.ListAppPasswords(ctx, userID)
}

// RevokeAppPassword deletes one application password. It reports whether
// the password existed.
func (s *BasicStrategy) RevokeAppPassword(ctx context.Context, userID, id string) (bool, error) {
	return s.users.DeleteAppPassword(ctx, userID, id)
}

var (
	_ Strategy = (*BasicStrategy)(nil)
	_ Loginer  = (*BasicStrategy)(nil)
)
