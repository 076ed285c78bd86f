package gin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/aloks98/restauth"
	"github.com/aloks98/restauth/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockEngine struct {
	authzErr  error
	lastOwner string
}

func (m *mockEngine) Authenticate(_ context.Context, r *http.Request) (*restauth.Identity, error) {
	if r.Header.Get("Authorization") != "Bearer good" {
		return nil, restauth.NewAuthError(restauth.CodeAuthInvalid, "invalid credentials", nil)
	}
	return &restauth.Identity{ID: "user123"}, nil
}

func (m *mockEngine) Authorize(_ context.Context, _ *restauth.Identity, _, _, ownerID string) error {
	m.lastOwner = ownerID
	return m.authzErr
}

func (m *mockEngine) Guard(ctx context.Context, r *http.Request, resource, action, ownerID string) (*restauth.Identity, ratelimit.Status, error) {
	st := ratelimit.Status{Limit: 5, Remaining: 4}
	id, err := m.Authenticate(ctx, r)
	if err != nil {
		return nil, st, err
	}
	return id, st, m.Authorize(ctx, id, resource, action, ownerID)
}

func (m *mockEngine) Challenges() []string { return []string{`Bearer realm="restauth"`} }

func do(router *gin.Engine, path, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func whoami(c *gin.Context) {
	id, ok := Identity(c)
	if !ok {
		c.String(http.StatusTeapot, "anonymous")
		return
	}
	if ctxID, ok := restauth.IdentityFrom(c.Request.Context()); !ok || ctxID.ID != id.ID {
		c.String(http.StatusInternalServerError, "request context not set")
		return
	}
	c.String(http.StatusOK, id.ID)
}

func TestGinAuthenticate(t *testing.T) {
	router := gin.New()
	router.Use(Authenticate(&mockEngine{}, &Config{SkipPaths: []string{"/health"}}))
	router.GET("/me", whoami)
	router.GET("/health", whoami)

	w := do(router, "/me", "Bearer good")
	if w.Code != http.StatusOK || w.Body.String() != "user123" {
		t.Errorf("valid token: %d %q", w.Code, w.Body.String())
	}

	w = do(router, "/me", "Bearer bad")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("invalid token status = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate challenge")
	}

	if w := do(router, "/health", ""); w.Code != http.StatusTeapot {
		t.Errorf("skipped path status = %d", w.Code)
	}
}

func TestGinRequire(t *testing.T) {
	m := &mockEngine{}
	router := gin.New()
	router.GET("/posts/:owner", Authenticate(m, nil), Require(m, "posts", "update", Param("owner"), nil), whoami)

	if w := do(router, "/posts/user123", "Bearer good"); w.Code != http.StatusOK {
		t.Errorf("allowed status = %d", w.Code)
	}
	if m.lastOwner != "user123" {
		t.Errorf("owner = %q", m.lastOwner)
	}

	m.authzErr = restauth.NewAuthError(restauth.CodeForbidden, "not allowed", nil)
	if w := do(router, "/posts/other", "Bearer good"); w.Code != http.StatusForbidden {
		t.Errorf("denied status = %d, want 403", w.Code)
	}
}

func TestGinRequire_WithoutIdentity(t *testing.T) {
	router := gin.New()
	router.GET("/", Require(&mockEngine{}, "posts", "read", nil, nil), whoami)
	if w := do(router, "/", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestGinGuard(t *testing.T) {
	router := gin.New()
	router.GET("/", Guard(&mockEngine{}, "posts", "read", nil, nil), whoami)

	w := do(router, "/", "Bearer good")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Remaining") != "4" {
		t.Errorf("X-RateLimit-Remaining = %q", w.Header().Get("X-RateLimit-Remaining"))
	}
	if w := do(router, "/", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", w.Code)
	}
}
