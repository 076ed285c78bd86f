package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aloks98/restauth"
	"github.com/aloks98/restauth/middleware"
	chiauth "github.com/aloks98/restauth/middleware/chi"
	"github.com/aloks98/restauth/permissions"
)

type messageResponse struct {
	Message string `json:"message"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type createKeyRequest struct {
	Name                   string     `json:"name"`
	Scopes                 []string   `json:"scopes"`
	ExpiresAt              *time.Time `json:"expires_at"`
	TTLSeconds             int64      `json:"ttl_seconds"`
	RateLimit              int        `json:"rate_limit"`
	RateLimitWindowSeconds int64      `json:"rate_limit_window_seconds"`
}

type revokeKeyRequest struct {
	APIKey string `json:"api_key"`
}

type createAppPasswordRequest struct {
	Name string `json:"name"`
}

type createAppPasswordResponse struct {
	Password    string `json:"password"`
	AppPassword any    `json:"app_password"`
}

// meResponse is the identity with its metadata filtered by the field
// policy.
type meResponse struct {
	*restauth.Identity
	Meta map[string]any `json:"meta,omitempty"`
}

func badRequest(msg string) error {
	return restauth.NewAuthError(restauth.CodeValidationFailed, msg, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	middleware.WriteJSON(w, status, v)
}

// writeError renders err with the status of its taxonomy code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.SetErrorHeaders(w.Header(), err, s.auth.Challenges())
	s.renderError(w, r, err)
}

// renderError is the middleware error handler. The middleware has already
// set the challenge headers.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	if restauth.HTTPStatus(err) >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	middleware.DefaultErrorHandler(w, r, err)
}

// readJSON decodes the body into v, bounded by MaxBodySize.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return badRequest("invalid JSON body")
	}
	return nil
}

// identity returns the caller set by the Authenticate middleware.
func identity(r *http.Request) *restauth.Identity {
	id, _ := chiauth.Identity(r)
	return id
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.auth.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req restauth.LoginRequest
	if err := s.readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.RemoteIP = s.auth.ClientIP(r)

	res, err := s.auth.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := s.readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.RefreshToken == "" {
		s.writeError(w, r, badRequest("refresh_token is required"))
		return
	}

	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), identity(r), ""); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, restauth.VerifyResult{Authenticated: true, User: identity(r)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	meta := make(map[string]any, len(id.Meta))
	for k, v := range id.Meta {
		meta[k] = v
	}
	filtered, err := s.auth.FilterFields(r.Context(), id, meta)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Identity: id, Meta: filtered})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.auth.ListAPIKeys(r.Context(), identity(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := s.readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.TTLSeconds < 0 || req.RateLimit < 0 || req.RateLimitWindowSeconds < 0 {
		s.writeError(w, r, badRequest("negative durations and limits are not allowed"))
		return
	}

	res, err := s.auth.CreateAPIKey(r.Context(), identity(r).ID, restauth.NewAPIKey{
		Name:            req.Name,
		Scopes:          req.Scopes,
		ExpiresAt:       req.ExpiresAt,
		TTL:             time.Duration(req.TTLSeconds) * time.Second,
		RateLimit:       req.RateLimit,
		RateLimitWindow: time.Duration(req.RateLimitWindowSeconds) * time.Second,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	var req revokeKeyRequest
	if err := s.readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.auth.RevokeAPIKey(r.Context(), identity(r), req.APIKey); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "api key revoked"})
}

func (s *Server) handleListAppPasswords(w http.ResponseWriter, r *http.Request) {
	pws, err := s.auth.ListAppPasswords(r.Context(), identity(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"app_passwords": pws})
}

func (s *Server) handleCreateAppPassword(w http.ResponseWriter, r *http.Request) {
	var req createAppPasswordRequest
	if err := s.readJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	plain, pw, err := s.auth.CreateAppPassword(r.Context(), identity(r).ID, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createAppPasswordResponse{Password: plain, AppPassword: pw})
}

func (s *Server) handleRevokeAppPassword(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.RevokeAppPassword(r.Context(), identity(r).ID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "application password revoked"})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.auth.Policy(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	var p permissions.Policy
	if err := s.readJSON(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.auth.ReplacePolicy(r.Context(), &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleGetPolicy(w, r)
}
