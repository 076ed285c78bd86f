package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aloks98/restauth"
	"github.com/aloks98/restauth/password"
	"github.com/aloks98/restauth/permissions"
	"github.com/aloks98/restauth/store/memory"
)

const (
	testSecret   = "this-is-a-32-character-secret!!!"
	testPassword = "correct horse battery"
)

type testEnv struct {
	server *Server
	auth   *restauth.Auth
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	auth, err := restauth.New(
		restauth.WithSecret(testSecret),
		restauth.WithStore(memory.New()),
		restauth.WithPasswordHasher(password.NewBcryptHasher(&password.BcryptConfig{Cost: 4})),
		restauth.WithCleanupInterval(0),
		restauth.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		restauth.WithMetrics(reg),
	)
	if err != nil {
		t.Fatalf("restauth.New: %v", err)
	}
	t.Cleanup(func() { _ = auth.Close() })

	cfg := DefaultConfig()
	cfg.LoginRateLimit = 0
	return &testEnv{server: New(cfg, auth, reg), auth: auth}
}

func (e *testEnv) seedUser(t *testing.T, login string, roles ...string) {
	t.Helper()
	_, err := e.auth.CreateUser(context.Background(), restauth.NewUser{
		Login:    login,
		Email:    login + "@example.test",
		Password: testPassword,
		Roles:    roles,
		Meta:     map[string]string{"locale": "en", "secret": "hidden"},
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, login string) map[string]string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/login", map[string]string{"username": login, "password": testPassword}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Tokens map[string]any `json:"tokens"`
	}
	decode(t, rec, &res)
	return map[string]string{
		"access":  res.Tokens["access_token"].(string),
		"refresh": res.Tokens["refresh_token"].(string),
	}
}

func bearer(tok string) http.Header {
	return http.Header{"Authorization": {"Bearer " + tok}}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	decode(t, rec, &body)
	return body.Code
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestLoginFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", permissions.RoleEditor)
	toks := env.login(t, "alice")

	rec := env.do(t, http.MethodGet, "/auth/verify", nil, bearer(toks["access"]))
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "hidden") {
		t.Errorf("verify body leaks a denied field: %s", rec.Body.String())
	}
	var verify restauth.VerifyResult
	decode(t, rec, &verify)
	if !verify.Authenticated || verify.User == nil || verify.User.Login != "alice" {
		t.Errorf("verify = %+v", verify)
	}

	rec = env.do(t, http.MethodGet, "/auth/me", nil, bearer(toks["access"]))
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "600" {
		t.Errorf("X-RateLimit-Limit = %q, want 600", got)
	}
	var me map[string]any
	decode(t, rec, &me)
	meta, _ := me["meta"].(map[string]any)
	if meta["locale"] != "en" {
		t.Errorf("meta = %v, want locale", meta)
	}
	if _, ok := meta["secret"]; ok {
		t.Errorf("meta = %v, secret should be filtered", meta)
	}

	rec = env.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": toks["refresh"]}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d body %s", rec.Code, rec.Body.String())
	}
	var pair map[string]any
	decode(t, rec, &pair)
	if pair["token_type"] != "Bearer" {
		t.Errorf("token_type = %v", pair["token_type"])
	}
	newAccess, _ := pair["access_token"].(string)

	rec = env.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": toks["refresh"]}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("reused refresh status = %d, want 401", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/auth/logout", nil, bearer(newAccess))
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/auth/verify", nil, bearer(newAccess))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("verify after logout status = %d, want 401", rec.Code)
	}
	if len(rec.Header().Values("WWW-Authenticate")) == 0 {
		t.Error("missing WWW-Authenticate challenge")
	}
}

func TestLoginHidesDeniedMeta(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", permissions.RoleEditor)

	rec := env.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "alice", "password": testPassword}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
	if body := rec.Body.String(); strings.Contains(body, "hidden") || strings.Contains(body, "locale") {
		t.Errorf("login body carries user metadata: %s", body)
	}
}

func TestLoginErrors(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice")

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"invalid json", "{not json", http.StatusBadRequest, restauth.CodeValidationFailed},
		{"missing fields", map[string]string{}, http.StatusBadRequest, restauth.CodeValidationFailed},
		{"wrong password", map[string]string{"username": "alice", "password": "nope"}, http.StatusUnauthorized, restauth.CodeAuthInvalid},
		{"unknown user", map[string]string{"username": "mallory", "password": "nope"}, http.StatusUnauthorized, restauth.CodeAuthInvalid},
		{"unknown strategy", map[string]string{"username": "alice", "password": "x", "strategy": "saml"}, http.StatusBadRequest, restauth.CodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/auth/login", tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}

	rec := env.do(t, http.MethodPost, "/auth/refresh", map[string]string{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("refresh without token status = %d, want 400", rec.Code)
	}
}

func TestAPIKeyEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice")
	toks := env.login(t, "alice")

	rec := env.do(t, http.MethodPost, "/auth/keys", map[string]any{"name": "ci", "scopes": []string{"read"}, "ttl_seconds": 3600}, bearer(toks["access"]))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create key status = %d body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		APIKey string         `json:"api_key"`
		Key    map[string]any `json:"key"`
	}
	decode(t, rec, &created)
	if created.APIKey == "" || created.Key["name"] != "ci" {
		t.Fatalf("created = %+v", created)
	}
	if _, leaked := created.Key["key_hash"]; leaked {
		t.Error("key hash must not be serialized")
	}

	rec = env.do(t, http.MethodGet, "/auth/verify", nil, http.Header{"X-Api-Key": {created.APIKey}})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify with key status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/auth/keys", nil, bearer(toks["access"]))
	var list struct {
		Keys []map[string]any `json:"keys"`
	}
	decode(t, rec, &list)
	if len(list.Keys) != 1 {
		t.Fatalf("keys = %v", list.Keys)
	}

	rec = env.do(t, http.MethodDelete, "/auth/keys", map[string]string{"api_key": created.APIKey}, bearer(toks["access"]))
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke status = %d body %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/auth/verify", nil, http.Header{"X-Api-Key": {created.APIKey}})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("revoked key status = %d, want 401", rec.Code)
	}
}

func TestAppPasswordEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice")
	toks := env.login(t, "alice")

	rec := env.do(t, http.MethodPost, "/auth/app-passwords", map[string]string{"name": "phone"}, bearer(toks["access"]))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Password    string         `json:"password"`
		AppPassword map[string]any `json:"app_password"`
	}
	decode(t, rec, &created)
	id, _ := created.AppPassword["id"].(string)

	req := httptest.NewRequest(http.MethodGet, "/auth/verify", nil)
	req.SetBasicAuth("alice", created.Password)
	basic := httptest.NewRecorder()
	env.server.ServeHTTP(basic, req)
	if basic.Code != http.StatusOK {
		t.Fatalf("basic verify status = %d", basic.Code)
	}

	rec = env.do(t, http.MethodDelete, "/auth/app-passwords/"+id, nil, bearer(toks["access"]))
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/auth/app-passwords/"+id, nil, bearer(toks["access"]))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("second revoke status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/verify", nil)
	req.SetBasicAuth("alice", created.Password)
	basic = httptest.NewRecorder()
	env.server.ServeHTTP(basic, req)
	if basic.Code != http.StatusUnauthorized {
		t.Errorf("revoked app password status = %d, want 401", basic.Code)
	}
}

func TestPolicyEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "root", permissions.RoleAdministrator)
	env.seedUser(t, "bob")
	admin := env.login(t, "root")
	user := env.login(t, "bob")

	rec := env.do(t, http.MethodGet, "/auth/policy", nil, bearer(user["access"]))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin status = %d, want 403", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/auth/policy", nil, bearer(admin["access"]))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d", rec.Code)
	}
	var p permissions.Policy
	decode(t, rec, &p)
	p.Roles[permissions.RoleSubscriber]["comments"] = permissions.Rule{Actions: []string{permissions.ActionCreate}}

	rec = env.do(t, http.MethodPut, "/auth/policy", p, bearer(admin["access"]))
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d body %s", rec.Code, rec.Body.String())
	}

	id := &restauth.Identity{ID: "b", Roles: []string{permissions.RoleSubscriber}}
	if err := env.auth.Authorize(context.Background(), id, "comments", permissions.ActionCreate, ""); err != nil {
		t.Errorf("Authorize after PUT error = %v", err)
	}

	rec = env.do(t, http.MethodPut, "/auth/policy", "[]", bearer(admin["access"]))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice")
	env.login(t, "alice")

	rec := env.do(t, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"restauth_logins_total", `route="/auth/login"`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestLoginRateLimitByIP(t *testing.T) {
	env := newTestEnv(t)
	cfg := DefaultConfig()
	cfg.LoginRateLimit = 1
	srv := New(cfg, env.auth, nil)

	send := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`))
		if forwardedFor != "" {
			req.Header.Set("X-Forwarded-For", forwardedFor)
		}
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send(""); code != http.StatusBadRequest {
		t.Fatalf("first status = %d, want 400", code)
	}
	if code := send(""); code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", code)
	}
	if code := send("203.0.113.50"); code != http.StatusTooManyRequests {
		t.Errorf("spoofed X-Forwarded-For status = %d, want 429", code)
	}
}
