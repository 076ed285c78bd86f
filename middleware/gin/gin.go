// Package gin provides Gin middleware for restauth.
package gin

import (
	"github.com/gin-gonic/gin"

	"github.com/aloks98/restauth"
	"github.com/aloks98/restauth/middleware"
	"github.com/aloks98/restauth/ratelimit"
)

// IdentityKey is the Gin context key holding the *restauth.Identity.
const IdentityKey = "restauth.identity"

// Config holds Gin-specific middleware configuration.
type Config struct {
	// ErrorHandler handles failures. Defaults to DefaultErrorHandler.
	ErrorHandler ErrorHandler

	// SkipPaths are paths that skip authentication.
	SkipPaths []string
}

// ErrorHandler handles authentication errors in Gin.
type ErrorHandler func(c *gin.Context, err error)

// OwnerFunc returns the owner ID of the object a request targets.
type OwnerFunc func(c *gin.Context) string

// DefaultConfig returns a default Gin middleware configuration.
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

// DefaultErrorHandler aborts with a JSON error body.
func DefaultErrorHandler(c *gin.Context, err error) {
	c.AbortWithStatusJSON(restauth.HTTPStatus(err), middleware.NewErrorResponse(err))
}

// Authenticate verifies every request and stores the identity in both the
// Gin context and the request context.
func Authenticate(a middleware.Authenticator, cfg *Config) gin.HandlerFunc {
	cfg = orDefault(cfg)

	return func(c *gin.Context) {
		if middleware.SkipPath(c.Request.URL.Path, cfg.SkipPaths) {
			c.Next()
			return
		}

		id, err := a.Authenticate(c.Request.Context(), c.Request)
		if err != nil {
			middleware.SetErrorHeaders(c.Writer.Header(), err, a.Challenges())
			cfg.ErrorHandler(c, err)
			return
		}

		middleware.SetQuotaHeaders(c.Request.Context(), c.Writer.Header(), a, id)
		setIdentity(c, id)
		c.Next()
	}
}

// Require gates a route on the policy. It must run after Authenticate.
func Require(a middleware.Authorizer, resource, action string, owner OwnerFunc, cfg *Config) gin.HandlerFunc {
	cfg = orDefault(cfg)

	return func(c *gin.Context) {
		id, ok := Identity(c)
		if !ok {
			cfg.ErrorHandler(c, restauth.NewAuthError(restauth.CodeAuthMissing, "authentication required", nil))
			return
		}
		var ownerID string
		if owner != nil {
			ownerID = owner(c)
		}
		if err := a.Authorize(c.Request.Context(), id, resource, action, ownerID); err != nil {
			cfg.ErrorHandler(c, err)
			return
		}
		c.Next()
	}
}

// Guard authenticates, rate limits and authorizes in one step.
func Guard(g middleware.Guarder, resource, action string, owner OwnerFunc, cfg *Config) gin.HandlerFunc {
	cfg = orDefault(cfg)

	return func(c *gin.Context) {
		var ownerID string
		if owner != nil {
			ownerID = owner(c)
		}
		id, st, err := g.Guard(c.Request.Context(), c.Request, resource, action, ownerID)
		if st.Limit > 0 {
			ratelimit.SetHeaders(c.Writer.Header(), st)
		}
		if err != nil {
			middleware.SetErrorHeaders(c.Writer.Header(), err, g.Challenges())
			cfg.ErrorHandler(c, err)
			return
		}
		setIdentity(c, id)
		c.Next()
	}
}

// Param returns an OwnerFunc reading the named path parameter.
func Param(name string) OwnerFunc {
	return func(c *gin.Context) string {
		return c.Param(name)
	}
}

func setIdentity(c *gin.Context, id *restauth.Identity) {
	c.Set(IdentityKey, id)
	c.Request = c.Request.WithContext(restauth.WithIdentity(c.Request.Context(), id))
}

// Identity retrieves the authenticated identity from the Gin context.
func Identity(c *gin.Context) (*restauth.Identity, bool) {
	v, exists := c.Get(IdentityKey)
	if !exists {
		return nil, false
	}
	id, ok := v.(*restauth.Identity)
	return id, ok && id != nil
}
