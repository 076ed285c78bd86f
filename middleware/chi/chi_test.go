package chi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/aloks98/restauth"
	"github.com/aloks98/restauth/ratelimit"
)

type mockEngine struct {
	authzErr  error
	lastOwner string
}

func (m *mockEngine) Authenticate(_ context.Context, r *http.Request) (*restauth.Identity, error) {
	if r.Header.Get("Authorization") != "Bearer good" {
		return nil, restauth.NewAuthError(restauth.CodeAuthInvalid, "invalid credentials", nil)
	}
	return &restauth.Identity{ID: "user123", Roles: []string{"editor"}}, nil
}

func (m *mockEngine) Authorize(_ context.Context, _ *restauth.Identity, _, _, ownerID string) error {
	m.lastOwner = ownerID
	return m.authzErr
}

func (m *mockEngine) Guard(ctx context.Context, r *http.Request, resource, action, ownerID string) (*restauth.Identity, ratelimit.Status, error) {
	id, err := m.Authenticate(ctx, r)
	if err != nil {
		return nil, ratelimit.Status{}, err
	}
	return id, ratelimit.Status{Limit: 5, Remaining: 4}, m.Authorize(ctx, id, resource, action, ownerID)
}

func (m *mockEngine) Challenges() []string { return []string{`Bearer realm="restauth"`} }

func whoami(w http.ResponseWriter, r *http.Request) {
	id, ok := Identity(r)
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(id.ID))
}

func do(h http.Handler, path, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChiRouter(t *testing.T) {
	m := &mockEngine{}
	r := chi.NewRouter()
	r.Use(Authenticate(m, &Config{SkipPaths: []string{"/health"}}))
	r.Get("/health", whoami)
	r.With(Require(m, "posts", "update", Param("owner"), nil)).Get("/posts/{owner}", whoami)
	r.With(RequireRole(nil, "administrator")).Get("/admin", whoami)

	if rec := do(r, "/posts/user123", "Bearer good"); rec.Code != http.StatusOK || rec.Body.String() != "user123" {
		t.Errorf("allowed: %d %q", rec.Code, rec.Body.String())
	}
	if m.lastOwner != "user123" {
		t.Errorf("owner = %q, want user123", m.lastOwner)
	}
	if rec := do(r, "/posts/user123", "Bearer bad"); rec.Code != http.StatusUnauthorized {
		t.Errorf("invalid token status = %d", rec.Code)
	}
	if rec := do(r, "/admin", "Bearer good"); rec.Code != http.StatusForbidden {
		t.Errorf("admin route status = %d, want 403", rec.Code)
	}
	if rec := do(r, "/health", ""); rec.Code != http.StatusTeapot {
		t.Errorf("skipped route status = %d", rec.Code)
	}

	m.authzErr = restauth.NewAuthError(restauth.CodeForbidden, "not allowed", nil)
	if rec := do(r, "/posts/other", "Bearer good"); rec.Code != http.StatusForbidden {
		t.Errorf("denied status = %d, want 403", rec.Code)
	}
}

func TestChiGuard(t *testing.T) {
	r := chi.NewRouter()
	r.With(Guard(&mockEngine{}, "posts", "read", nil, nil)).Get("/", whoami)

	rec := do(r, "/", "Bearer good")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "5" {
		t.Errorf("X-RateLimit-Limit = %q", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRouteContext(t *testing.T) {
	r := chi.NewRouter()
	var pattern string
	r.Get("/items/{id}", func(w http.ResponseWriter, req *http.Request) {
		pattern = RouteContext(req).RoutePattern()
	})
	do(r, "/items/7", "")
	if pattern != "/items/{id}" {
		t.Errorf("RoutePattern() = %q", pattern)
	}
}
