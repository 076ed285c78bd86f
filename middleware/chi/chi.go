// Package chi provides Chi middleware for restauth.
// Chi uses standard net/http middleware, so this package provides
// aliases and helpers for convenience.
package chi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aloks98/restauth"
	"github.com/aloks98/restauth/middleware"
)

// Config is an alias for middleware.Config.
type Config = middleware.Config

// Authenticator is an alias for middleware.Authenticator.
type Authenticator = middleware.Authenticator

// Authorizer is an alias for middleware.Authorizer.
type Authorizer = middleware.Authorizer

// Guarder is an alias for middleware.Guarder.
type Guarder = middleware.Guarder

// OwnerFunc is an alias for middleware.OwnerFunc.
type OwnerFunc = middleware.OwnerFunc

// DefaultConfig returns a default middleware configuration.
func DefaultConfig() *Config {
	return middleware.DefaultConfig()
}

// Authenticate creates a Chi middleware that verifies request credentials.
func Authenticate(a Authenticator, cfg *Config) func(http.Handler) http.Handler {
	return middleware.Authenticate(a, cfg)
}

// OptionalAuthenticate creates a middleware that authenticates when
// credentials are present.
func OptionalAuthenticate(a Authenticator, cfg *Config) func(http.Handler) http.Handler {
	return middleware.OptionalAuthenticate(a, cfg)
}

// Require creates a Chi middleware that checks the permission policy.
func Require(a Authorizer, resource, action string, owner OwnerFunc, cfg *Config) func(http.Handler) http.Handler {
	return middleware.Require(a, resource, action, owner, cfg)
}

// RequireRole creates a Chi middleware that allows only the given roles.
func RequireRole(cfg *Config, roles ...string) func(http.Handler) http.Handler {
	return middleware.RequireRole(cfg, roles...)
}

// RequireScope creates a Chi middleware that checks for an API key scope.
func RequireScope(scope string, cfg *Config) func(http.Handler) http.Handler {
	return middleware.RequireScope(scope, cfg)
}

// Guard creates a Chi middleware that rate limits, authenticates and
// authorizes in one step.
func Guard(g Guarder, resource, action string, owner OwnerFunc, cfg *Config) func(http.Handler) http.Handler {
	return middleware.Guard(g, resource, action, owner, cfg)
}

// Param returns an OwnerFunc reading a URL parameter from Chi's route
// context.
func Param(key string) OwnerFunc {
	return func(r *http.Request) string {
		return chi.URLParam(r, key)
	}
}

// Identity retrieves the authenticated identity from the request context.
func Identity(r *http.Request) (*restauth.Identity, bool) {
	return restauth.IdentityFrom(r.Context())
}

// RouteContext returns Chi's route context from the request.
func RouteContext(r *http.Request) *chi.Context {
	return chi.RouteContext(r.Context())
}
