// Package fiber provides Fiber middleware for restauth.
//
// Fiber runs on fasthttp, so each request is converted to a net/http
// request before it reaches the engine.
package fiber

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/aloks98/restauth"
	"github.com/aloks98/restauth/middleware"
	"github.com/aloks98/restauth/ratelimit"
)

// IdentityKey is the Locals key holding the *restauth.Identity.
const IdentityKey = "restauth.identity"

// Config holds Fiber-specific middleware configuration.
type Config struct {
	// ErrorHandler handles failures. Defaults to DefaultErrorHandler.
	ErrorHandler ErrorHandler

	// SkipPaths are paths that skip authentication.
	SkipPaths []string
}

// ErrorHandler handles authentication errors in Fiber.
type ErrorHandler func(c *fiber.Ctx, err error) error

// OwnerFunc returns the owner ID of the object a request targets.
type OwnerFunc func(c *fiber.Ctx) string

// DefaultConfig returns a default Fiber middleware configuration.
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

// DefaultErrorHandler is the default error handler for Fiber.
func DefaultErrorHandler(c *fiber.Ctx, err error) error {
	return c.Status(restauth.HTTPStatus(err)).JSON(middleware.NewErrorResponse(err))
}

// Request converts the Fiber request into a net/http request carrying the
// Fiber user context.
func Request(c *fiber.Ctx) (*http.Request, error) {
	var r http.Request
	if err := fasthttpadaptor.ConvertRequest(c.Context(), &r, true); err != nil {
		return nil, err
	}
	return r.WithContext(c.UserContext()), nil
}

// Authenticate verifies every request and stores the identity in Locals
// and the user context.
func Authenticate(a middleware.Authenticator, cfg *Config) fiber.Handler {
	cfg = orDefault(cfg)

	return func(c *fiber.Ctx) error {
		if middleware.SkipPath(c.Path(), cfg.SkipPaths) {
			return c.Next()
		}

		r, err := Request(c)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}
		id, err := a.Authenticate(r.Context(), r)
		if err != nil {
			setHeaders(c, func(h http.Header) { middleware.SetErrorHeaders(h, err, a.Challenges()) })
			return cfg.ErrorHandler(c, err)
		}

		setHeaders(c, func(h http.Header) { middleware.SetQuotaHeaders(r.Context(), h, a, id) })
		setIdentity(c, id)
		return c.Next()
	}
}

// Require gates a route on the policy. It must run after Authenticate.
func Require(a middleware.Authorizer, resource, action string, owner OwnerFunc, cfg *Config) fiber.Handler {
	cfg = orDefault(cfg)

	return func(c *fiber.Ctx) error {
		id, ok := Identity(c)
		if !ok {
			return cfg.ErrorHandler(c, restauth.NewAuthError(restauth.CodeAuthMissing, "authentication required", nil))
		}
		var ownerID string
		if owner != nil {
			ownerID = owner(c)
		}
		if err := a.Authorize(c.UserContext(), id, resource, action, ownerID); err != nil {
			return cfg.ErrorHandler(c, err)
		}
		return c.Next()
	}
}

// Guard authenticates, rate limits and authorizes in one step.
func Guard(g middleware.Guarder, resource, action string, owner OwnerFunc, cfg *Config) fiber.Handler {
	cfg = orDefault(cfg)

	return func(c *fiber.Ctx) error {
		r, err := Request(c)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}
		var ownerID string
		if owner != nil {
			ownerID = owner(c)
		}

		id, st, err := g.Guard(r.Context(), r, resource, action, ownerID)
		setHeaders(c, func(h http.Header) {
			if st.Limit > 0 {
				ratelimit.SetHeaders(h, st)
			}
			if err != nil {
				middleware.SetErrorHeaders(h, err, g.Challenges())
			}
		})
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}
		setIdentity(c, id)
		return c.Next()
	}
}

// Param returns an OwnerFunc reading the named route parameter.
func Param(name string) OwnerFunc {
	return func(c *fiber.Ctx) string {
		return c.Params(name)
	}
}

// setHeaders lets net/http header helpers write Fiber response headers.
func setHeaders(c *fiber.Ctx, fill func(http.Header)) {
	h := http.Header{}
	fill(h)
	for k, vs := range h {
		for _, v := range vs {
			c.Append(k, v)
		}
	}
}

func setIdentity(c *fiber.Ctx, id *restauth.Identity) {
	c.Locals(IdentityKey, id)
	c.SetUserContext(restauth.WithIdentity(c.UserContext(), id))
}

// Identity retrieves the authenticated identity from Locals.
func Identity(c *fiber.Ctx) (*restauth.Identity, bool) {
	id, ok := c.Locals(IdentityKey).(*restauth.Identity)
	return id, ok && id != nil
}
