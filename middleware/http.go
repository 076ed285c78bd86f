package middleware

import (
	"net/http"

	"github.com/aloks98/restauth"
	"github.com/aloks98/restauth/ratelimit"
)

func errMissing() error {
	return restauth.NewAuthError(restauth.CodeAuthMissing, "authentication required", nil)
}

func errForbidden(msg string) error {
	return restauth.NewAuthError(restauth.CodeForbidden, msg, nil)
}

// Authenticate verifies every request and stores the identity in the
// request context. Failures are answered with the strategies' challenges.
func Authenticate(a Authenticator, cfg *Config) func(http.Handler) http.Handler {
	cfg = cfg.orDefault()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ShouldSkip(r, cfg.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			id, err := a.Authenticate(r.Context(), r)
			if err != nil {
				SetErrorHeaders(w.Header(), err, a.Challenges())
				cfg.ErrorHandler(w, r, err)
				return
			}
			SetQuotaHeaders(r.Context(), w.Header(), a, id)

			next.ServeHTTP(w, r.WithContext(restauth.WithIdentity(r.Context(), id)))
		})
	}
}

// OptionalAuthenticate stores the identity when the request carries valid
// credentials and passes every request on. Store failures are still
// reported.
func OptionalAuthenticate(a Authenticator, cfg *Config) func(http.Handler) http.Handler {
	cfg = cfg.orDefault()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r.Context(), r)
			switch {
			case err == nil:
				r = r.WithContext(restauth.WithIdentity(r.Context(), id))
			case !restauth.IsAuthError(err):
				cfg.ErrorHandler(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require gates a route on the policy. It must run after Authenticate.
// owner may be nil for collection routes.
func Require(a Authorizer, resource, action string, owner OwnerFunc, cfg *Config) func(http.Handler) http.Handler {
	cfg = cfg.orDefault()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := restauth.IdentityFrom(r.Context())
			if !ok {
				cfg.ErrorHandler(w, r, errMissing())
				return
			}
			var ownerID string
			if owner != nil {
				ownerID = owner(r)
			}
			if err := a.Authorize(r.Context(), id, resource, action, ownerID); err != nil {
				cfg.ErrorHandler(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole allows only identities holding one of roles.
func RequireRole(cfg *Config, roles ...string) func(http.Handler) http.Handler {
	cfg = cfg.orDefault()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := restauth.IdentityFrom(r.Context())
			if !ok {
				cfg.ErrorHandler(w, r, errMissing())
				return
			}
			for _, role := range roles {
				if id.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			cfg.ErrorHandler(w, r, errForbidden("role not allowed"))
		})
	}
}

// RequireScope allows identities whose API key scopes cover scope.
func RequireScope(scope string, cfg *Config) func(http.Handler) http.Handler {
	cfg = cfg.orDefault()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := restauth.IdentityFrom(r.Context())
			if !ok {
				cfg.ErrorHandler(w, r, errMissing())
				return
			}
			if !HasScope(id, scope) {
				cfg.ErrorHandler(w, r, errForbidden("scope not allowed"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Guard authenticates, rate limits and authorizes in one step and sets
// the X-RateLimit headers.
func Guard(g Guarder, resource, action string, owner OwnerFunc, cfg *Config) func(http.Handler) http.Handler {
	cfg = cfg.orDefault()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ShouldSkip(r, cfg.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}
			var ownerID string
			if owner != nil {
				ownerID = owner(r)
			}

			id, st, err := g.Guard(r.Context(), r, resource, action, ownerID)
			if st.Limit > 0 {
				ratelimit.SetHeaders(w.Header(), st)
			}
			if err != nil {
				SetErrorHeaders(w.Header(), err, g.Challenges())
				cfg.ErrorHandler(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(restauth.WithIdentity(r.Context(), id)))
		})
	}
}
