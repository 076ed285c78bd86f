package restauth

import (
	"context"
	"slices"
	"time"

	"github.com/aloks98/restauth/permissions"
	"github.com/aloks98/restauth/store"
)

// Identity is an authenticated subject.
type Identity struct {
	ID           string            `json:"id"`
	Login        string            `json:"login"`
	Email        string            `json:"email,omitempty"`
	DisplayName  string            `json:"display_name,omitempty"`
	Roles        []string          `json:"roles"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Method       string            `json:"method"`
	Scopes       []string          `json:"scopes,omitempty"`

	// Meta is never serialized with the identity. Callers render it through
	// Auth.FilterFields so denied fields stay hidden.
	Meta map[string]string `json:"-"`

	// TokenID is the jti of the bearer token that authenticated the request.
	TokenID string `json:"-"`

	// RateLimit is a per-credential quota overriding the identity default.
	RateLimit Quota `json:"-"`
}

// Quota is a request allowance per window. A zero Limit disables it.
type Quota struct {
	Limit  int           `json:"limit" yaml:"limit" mapstructure:"limit"`
	Window time.Duration `json:"window" yaml:"window" mapstructure:"window"`
}

// Enabled reports whether q limits anything.
func (q Quota) Enabled() bool {
	return q.Limit > 0 && q.Window > 0
}

// Subject is the view of i used by the permission policy.
func (i *Identity) Subject() permissions.Subject {
	return permissions.Subject{ID: i.ID, Roles: i.Roles}
}

// HasRole reports whether i holds role.
func (i *Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

func identityFromUser(u *store.User, method string) *Identity {
	return &Identity{
		ID:          u.ID,
		Login:       u.Login,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Roles:       slices.Clone(u.Roles),
		Method:      method,
		Meta:        u.Meta,
	}
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored in ctx, if any.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}
