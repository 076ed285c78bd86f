// Package echo provides Echo middleware for restauth.
package echo

import (
	"github.com/labstack/echo/v4"

	"github.com/aloks98/restauth"
	"github.com/aloks98/restauth/middleware"
	"github.com/aloks98/restauth/ratelimit"
)

// IdentityKey is the Echo context key holding the *restauth.Identity.
const IdentityKey = "restauth.identity"

// Config holds Echo-specific middleware configuration.
type Config struct {
	// ErrorHandler handles failures. Defaults to DefaultErrorHandler.
	ErrorHandler ErrorHandler

	// SkipPaths are paths that skip authentication.
	SkipPaths []string
}

// ErrorHandler handles authentication errors in Echo.
type ErrorHandler func(c echo.Context, err error) error

// OwnerFunc returns the owner ID of the object a request targets.
type OwnerFunc func(c echo.Context) string

// DefaultConfig returns a default Echo middleware configuration.
func DefaultConfig() *Config {
	return &Config{ErrorHandler: DefaultErrorHandler}
}

func orDefault(cfg *Config) *Config {
	if cfg == nil {
		return DefaultConfig()
	}
	if cfg.ErrorHandler == nil {
		cp := *cfg
		cp.ErrorHandler = DefaultErrorHandler
		return &cp
	}
	return cfg
}

// DefaultErrorHandler is the default error handler for Echo.
func DefaultErrorHandler(c echo.Context, err error) error {
	return c.JSON(restauth.HTTPStatus(err), middleware.NewErrorResponse(err))
}

// Authenticate verifies every request and stores the identity in the Echo
// context and the request context.
func Authenticate(a middleware.Authenticator, cfg *Config) echo.MiddlewareFunc {
	cfg = orDefault(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if middleware.SkipPath(c.Request().URL.Path, cfg.SkipPaths) {
				return next(c)
			}

			id, err := a.Authenticate(c.Request().Context(), c.Request())
			if err != nil {
				middleware.SetErrorHeaders(c.Response().Header(), err, a.Challenges())
				return cfg.ErrorHandler(c, err)
			}

			middleware.SetQuotaHeaders(c.Request().Context(), c.Response().Header(), a, id)
			setIdentity(c, id)
			return next(c)
		}
	}
}

// Require gates a route on the policy. It must run after Authenticate.
func Require(a middleware.Authorizer, resource, action string, owner OwnerFunc, cfg *Config) echo.MiddlewareFunc {
	cfg = orDefault(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := Identity(c)
			if !ok {
				return cfg.ErrorHandler(c, restauth.NewAuthError(restauth.CodeAuthMissing, "authentication required", nil))
			}
			var ownerID string
			if owner != nil {
				ownerID = owner(c)
			}
			if err := a.Authorize(c.Request().Context(), id, resource, action, ownerID); err != nil {
				return cfg.ErrorHandler(c, err)
			}
			return next(c)
		}
	}
}

// Guard authenticates, rate limits and authorizes in one step.
func Guard(g middleware.Guarder, resource, action string, owner OwnerFunc, cfg *Config) echo.MiddlewareFunc {
	cfg = orDefault(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var ownerID string
			if owner != nil {
				ownerID = owner(c)
			}
			id, st, err := g.Guard(c.Request().Context(), c.Request(), resource, action, ownerID)
			if st.Limit > 0 {
				ratelimit.SetHeaders(c.Response().Header(), st)
			}
			if err != nil {
				middleware.SetErrorHeaders(c.Response().Header(), err, g.Challenges())
				return cfg.ErrorHandler(c, err)
			}
			setIdentity(c, id)
			return next(c)
		}
	}
}

// Param returns an OwnerFunc reading the named path parameter.
func Param(name string) OwnerFunc {
	return func(c echo.Context) string {
		return c.Param(name)
	}
}

func setIdentity(c echo.Context, id *restauth.Identity) {
	c.Set(IdentityKey, id)
	c.SetRequest(c.Request().WithContext(restauth.WithIdentity(c.Request().Context(), id)))
}

// Identity retrieves the authenticated identity from the Echo context.
func Identity(c echo.Context) (*restauth.Identity, bool) {
	id, ok := c.Get(IdentityKey).(*restauth.Identity)
	return id, ok && id != nil
}
