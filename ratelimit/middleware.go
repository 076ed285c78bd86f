package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	// Limit is the number of requests allowed per Window.
	Limit int

	// Window is the quota window.
	Window time.Duration

	// KeyFunc derives the counter key. Defaults to the IPKey of the client
	// address resolved through Proxies.
	KeyFunc func(r *http.Request) string

	// Proxies lists the reverse proxies whose forwarding headers are
	// believed. Nil uses the peer address.
	Proxies *Proxies

	// SkipFunc exempts requests from limiting when it returns true.
	SkipFunc func(r *http.Request) bool

	// OnLimited writes the response for a limited request. Defaults to a
	// plain 429.
	OnLimited func(w http.ResponseWriter, r *http.Request, err *LimitError)

	// Logger receives store failures. Defaults to slog.Default.
	Logger *slog.Logger
}

// Middleware limits requests per key. Store failures let the request
// through and are logged.
func Middleware(l *Limiter, cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(r *http.Request) string { return IPKey(cfg.Proxies.ClientIP(r)) }
	}
	if cfg.OnLimited == nil {
		cfg.OnLimited = func(w http.ResponseWriter, _ *http.Request, _ *LimitError) {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.SkipFunc != nil && cfg.SkipFunc(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := cfg.KeyFunc(r)
			st, err := l.Check(r.Context(), key, cfg.Limit, cfg.Window)
			var le *LimitError
			switch {
			case errors.As(err, &le):
				SetHeaders(w.Header(), st)
				w.Header().Set("Retry-After", strconv.Itoa(int(le.RetryAfter/time.Second)))
				cfg.OnLimited(w, r, le)
				return
			case err != nil:
				cfg.Logger.Warn("rate limit check failed", "key", key, "error", err)
			default:
				SetHeaders(w.Header(), st)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetHeaders writes the X-RateLimit-* headers for st.
func SetHeaders(h http.Header, st Status) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(st.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(st.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(st.ResetAt.Unix(), 10))
}

// Proxies decides whose forwarding headers are believed. Only a direct
// peer inside one of the trusted prefixes may name the client through
// X-Forwarded-For or X-Real-IP. A nil *Proxies trusts nobody.
type Proxies struct {
	trusted []netip.Prefix
}

// ParseProxies builds a Proxies from CIDR prefixes or bare addresses.
func ParseProxies(cidrs []string) (*Proxies, error) {
	p := &Proxies{}
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			addr, err := netip.ParseAddr(c)
			if err != nil {
				return nil, fmt.Errorf("ratelimit: trusted proxy %q: %w", c, err)
			}
			addr = addr.Unmap()
			c = netip.PrefixFrom(addr, addr.BitLen()).String()
		}
		prefix, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: trusted proxy %q: %w", c, err)
		}
		p.trusted = append(p.trusted, prefix.Masked())
	}
	return p, nil
}

// Trusted reports whether addr is a trusted proxy.
func (p *Proxies) Trusted(addr netip.Addr) bool {
	if p == nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the originating client address of r. Behind a trusted
// peer, X-Forwarded-For is walked from the right and the first untrusted
// hop wins, then X-Real-IP is consulted. Otherwise the peer address is
// the client.
func (p *Proxies) ClientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil || !p.Trusted(addr) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			if i == 0 || !p.Trusted(hop) {
				return hop.Unmap().String()
			}
		}
		return peer
	}
	if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return xri.Unmap().String()
	}
	return peer
}

// ClientIP returns the peer address of r without its port. Forwarding
// headers are ignored; use Proxies.ClientIP behind a reverse proxy.
func ClientIP(r *http.Request) string {
	return (*Proxies)(nil).ClientIP(r)
}
