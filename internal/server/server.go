// Package server exposes the auth engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/aloks98/restauth"
	"github.com/aloks98/restauth/internal/metrics"
	"github.com/aloks98/restauth/middleware"
	chiauth "github.com/aloks98/restauth/middleware/chi"
	"github.com/aloks98/restauth/permissions"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes

	// LoginRateLimit caps login and refresh requests per IP and minute
	// before they reach the engine. Zero disables it.
	LoginRateLimit int
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     1 << 20,
		LoginRateLimit:  60,
	}
}

// Server routes the /auth endpoints to an Auth.
type Server struct {
	cfg      Config
	auth     *restauth.Auth
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	router   chi.Router
}

// New wires the routes. A nil gatherer disables /metrics.
func New(cfg Config, auth *restauth.Auth, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		cfg:      cfg,
		auth:     auth,
		gatherer: gatherer,
		logger:   auth.Logger(),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(requestLogger(s.logger, s.auth.ClientIP))
	r.Use(chimw.Recoverer)
	r.Use(s.auth.Metrics().Instrument(routePattern))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))
	}

	cfg := &middleware.Config{ErrorHandler: s.renderError}

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.cfg.LoginRateLimit > 0 {
				r.Use(httprate.Limit(s.cfg.LoginRateLimit, time.Minute,
					httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
						return s.auth.ClientIP(r), nil
					})))
			}
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(chiauth.Authenticate(s.auth, cfg))

			r.Post("/logout", s.handleLogout)
			r.Get("/verify", s.handleVerify)
			r.Get("/me", s.handleMe)

			r.Get("/keys", s.handleListKeys)
			r.Post("/keys", s.handleCreateKey)
			r.Delete("/keys", s.handleRevokeKey)

			r.Get("/app-passwords", s.handleListAppPasswords)
			r.Post("/app-passwords", s.handleCreateAppPassword)
			r.Delete("/app-passwords/{id}", s.handleRevokeAppPassword)

			r.Group(func(r chi.Router) {
				r.Use(chiauth.RequireRole(cfg, permissions.RoleAdministrator))
				r.Get("/policy", s.handleGetPolicy)
				r.Put("/policy", s.handlePutPolicy)
			})
		})
	})

	s.router = r
}

// routePattern labels metrics with the matched chi pattern so path
// parameters do not explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// requestLogger logs every request with its status and duration.
func requestLogger(logger *slog.Logger, clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelError
			} else if status >= 400 {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"bytes", ww.BytesWritten(),
				"request_id", chimw.GetReqID(r.Context()),
				"client_ip", clientIP(r),
			)
		})
	}
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests within ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server starting", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying chi router.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
