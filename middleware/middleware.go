// Package middleware provides net/http middleware for restauth.
//
// The gin, echo, fiber and chi subpackages adapt the same behavior to
// those routers.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/aloks98/restauth"
	"github.com/aloks98/restauth/apikey"
	"github.com/aloks98/restauth/ratelimit"
)

// Authenticator verifies the credentials of a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*restauth.Identity, error)
	Challenges() []string
}

// Authorizer decides whether an identity may act on a resource.
type Authorizer interface {
	Authorize(ctx context.Context, id *restauth.Identity, resource, action, ownerID string) error
}

// Guarder applies rate limits, authentication and authorization in one
// call.
type Guarder interface {
	Guard(ctx context.Context, r *http.Request, resource, action, ownerID string) (*restauth.Identity, ratelimit.Status, error)
	Challenges() []string
}

// QuotaReporter is implemented by authenticators that can report an
// identity's quota. Authenticate then sets the X-RateLimit headers.
type QuotaReporter interface {
	QuotaStatus(ctx context.Context, id *restauth.Identity) (ratelimit.Status, bool)
}

// OwnerFunc returns the owner ID of the object a request targets, or ""
// for collection-level requests.
type OwnerFunc func(r *http.Request) string

// ErrorHandler writes an error response.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Config holds middleware configuration.
type Config struct {
	// ErrorHandler writes failures. Defaults to DefaultErrorHandler.
	ErrorHandler ErrorHandler

	// SkipPaths bypass authentication. "/x/*" matches a prefix and "*"
	// matches one path segment.
	SkipPaths []string
}

// DefaultConfig returns a default middleware configuration.
func DefaultConfig() *Config {
	return &Config{ErrorHandler: DefaultErrorHandler}
}

func (c *Config) orDefault() *Config {
	if c == nil {
		return DefaultConfig()
	}
	if c.ErrorHandler == nil {
		cp := *c
		cp.ErrorHandler = DefaultErrorHandler
		return &cp
	}
	return c
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorResponse renders err for clients. Unclassified errors are
// reported without their details.
func NewErrorResponse(err error) ErrorResponse {
	var ae *restauth.AuthError
	if errors.As(err, &ae) {
		return ErrorResponse{Code: ae.Code, Message: ae.Message}
	}
	status := restauth.HTTPStatus(err)
	return ErrorResponse{Code: "INTERNAL", Message: strings.ToLower(http.StatusText(status))}
}

// SetErrorHeaders sets Retry-After on rate limit errors and the
// challenges on authentication errors.
func SetErrorHeaders(h http.Header, err error, challenges []string) {
	if d, ok := restauth.RetryAfter(err); ok {
		h.Set("Retry-After", strconv.Itoa(int(d.Seconds())))
	}
	if restauth.HTTPStatus(err) == http.StatusUnauthorized {
		for _, c := range challenges {
			h.Add("WWW-Authenticate", c)
		}
	}
}

// SetQuotaHeaders sets the X-RateLimit headers for id when a reports
// quotas.
func SetQuotaHeaders(ctx context.Context, h http.Header, a Authenticator, id *restauth.Identity) {
	qr, ok := a.(QuotaReporter)
	if !ok {
		return
	}
	if st, ok := qr.QuotaStatus(ctx, id); ok {
		ratelimit.SetHeaders(h, st)
	}
}

// DefaultErrorHandler writes a JSON ErrorResponse with the status mapped
// from err.
func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	WriteJSON(w, restauth.HTTPStatus(err), NewErrorResponse(err))
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ShouldSkip checks if the request path should skip authentication.
func ShouldSkip(r *http.Request, skipPaths []string) bool {
	return SkipPath(r.URL.Path, skipPaths)
}

// SkipPath reports whether path matches one of skipPaths.
func SkipPath(path string, skipPaths []string) bool {
	for _, skip := range skipPaths {
		if matchPath(skip, path) {
			return true
		}
	}
	return false
}

// matchPath checks if a path matches a pattern.
// Supports * as a wildcard for path segments.
func matchPath(pattern, path string) bool {
	if pattern == path {
		return true
	}

	// Handle wildcard patterns like /api/*
	if strings.HasSuffix(pattern, "/*") {
		prefix := pattern[:len(pattern)-2]
		return strings.HasPrefix(path, prefix)
	}

	// Handle wildcard patterns like /api/*/users
	if strings.Contains(pattern, "*") {
		patternParts := strings.Split(pattern, "/")
		pathParts := strings.Split(path, "/")

		if len(patternParts) != len(pathParts) {
			return false
		}

		for i, part := range patternParts {
			if part != "*" && part != pathParts[i] {
				return false
			}
		}
		return true
	}

	return false
}

// HasScope reports whether id may use scope. Identities without scopes are
// unrestricted.
func HasScope(id *restauth.Identity, scope string) bool {
	return apikey.ScopesAllow(id.Scopes, scope)
}

// Identity returns the identity stored in ctx by Authenticate.
func Identity(ctx context.Context) (*restauth.Identity, bool) {
	return restauth.IdentityFrom(ctx)
}
