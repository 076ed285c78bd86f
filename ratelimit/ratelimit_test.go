package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aloks98/restauth/store"
	"github.com/aloks98/restauth/store/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLimiter() (*Limiter, *clock) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	return New(memory.New(), Config{Now: clk.Now}), clk
}

type failingCounters struct{ store.CounterStore }

func (failingCounters) IncrementCounter(context.Context, string, time.Duration, time.Time) (store.Counter, error) {
	return store.Counter{}, store.ErrUnavailable
}

func TestCheck_FixedWindow(t *testing.T) {
	l, clk := newLimiter()
	ctx := context.Background()
	key := IdentityKey("42")

	for i := 1; i <= 3; i++ {
		st, err := l.Check(ctx, key, 3, time.Minute)
		if err != nil {
			t.Fatalf("call %d: Check() error = %v", i, err)
		}
		if st.Remaining != 3-i {
			t.Errorf("call %d: Remaining = %d, want %d", i, st.Remaining, 3-i)
		}
	}

	clk.Advance(10 * time.Second)
	st, err := l.Check(ctx, key, 3, time.Minute)
	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatalf("4th Check() error = %v, want *LimitError", err)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("LimitError should match ErrRateLimited")
	}
	if le.RetryAfter != 50*time.Second {
		t.Errorf("RetryAfter = %v, want 50s", le.RetryAfter)
	}
	if le.RetryAfter > time.Minute {
		t.Errorf("RetryAfter %v exceeds window", le.RetryAfter)
	}
	if st.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", st.Remaining)
	}

	clk.Advance(50 * time.Second)
	if _, err := l.Check(ctx, key, 3, time.Minute); err != nil {
		t.Errorf("Check() after window error = %v", err)
	}
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	l, _ := newLimiter()
	ctx := context.Background()

	if _, err := l.Check(ctx, IPKey("192.0.2.1"), 1, time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Check(ctx, IPKey("192.0.2.2"), 1, time.Minute); err != nil {
		t.Errorf("second IP limited: %v", err)
	}
	if _, err := l.Check(ctx, MethodKey("jwt", "alice"), 1, time.Minute); err != nil {
		t.Errorf("method key limited: %v", err)
	}
	if _, err := l.Check(ctx, IPKey("192.0.2.1"), 1, time.Minute); !errors.Is(err, ErrRateLimited) {
		t.Errorf("repeat IP error = %v, want ErrRateLimited", err)
	}
}

func TestCheck_Concurrent(t *testing.T) {
	l, _ := newLimiter()
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Check(ctx, "burst", 10, time.Minute); err == nil {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := allowed.Load(); n != 10 {
		t.Errorf("allowed = %d, want exactly 10", n)
	}
}

func TestCheck_Errors(t *testing.T) {
	l, _ := newLimiter()
	ctx := context.Background()

	if _, err := l.Check(ctx, "k", 0, time.Minute); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("zero limit error = %v", err)
	}
	if _, err := l.Remaining(ctx, "k", 1, 0); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("zero window error = %v", err)
	}

	failing := New(failingCounters{}, Config{})
	if _, err := failing.Check(ctx, "k", 1, time.Minute); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("store failure error = %v", err)
	}
}

func TestRemaining(t *testing.T) {
	l, clk := newLimiter()
	ctx := context.Background()

	st, err := l.Remaining(ctx, "k", 5, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if st.Remaining != 5 || !st.ResetAt.Equal(clk.Now().Add(time.Minute)) {
		t.Errorf("fresh status = %+v", st)
	}

	_, _ = l.Check(ctx, "k", 5, time.Minute)
	_, _ = l.Check(ctx, "k", 5, time.Minute)
	for i := 0; i < 3; i++ {
		st, _ = l.Remaining(ctx, "k", 5, time.Minute)
		if st.Remaining != 3 {
			t.Errorf("Remaining = %d, want 3 (reads must not count)", st.Remaining)
		}
	}
}

func TestCleanup(t *testing.T) {
	l, clk := newLimiter()
	ctx := context.Background()
	_, _ = l.Check(ctx, "a", 1, time.Second)
	_, _ = l.Check(ctx, "b", 1, time.Hour)

	clk.Advance(2 * time.Second)
	n, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Cleanup() = %d, want 1", n)
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{0, time.Second},
		{500 * time.Millisecond, time.Second},
		{1500 * time.Millisecond, 2 * time.Second},
		{60 * time.Second, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := retryAfter(tt.in); got != tt.want {
			t.Errorf("retryAfter(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	l, _ := newLimiter()
	handler := Middleware(l, MiddlewareConfig{
		Limit:    2,
		Window:   time.Minute,
		SkipFunc: func(r *http.Request) bool { return r.URL.Path == "/healthz" },
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "192.0.2.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		w := serve("/")
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
		if w.Header().Get("X-RateLimit-Limit") != "2" {
			t.Errorf("X-RateLimit-Limit = %q", w.Header().Get("X-RateLimit-Limit"))
		}
	}

	w := serve("/")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", w.Header().Get("Retry-After"))
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", w.Header().Get("X-RateLimit-Remaining"))
	}

	if w := serve("/healthz"); w.Code != http.StatusOK {
		t.Errorf("skipped path status = %d", w.Code)
	}
}

func TestMiddleware_StoreFailureFailsOpen(t *testing.T) {
	l := New(failingCounters{}, Config{})
	handler := Middleware(l, MiddlewareConfig{Limit: 1, Window: time.Minute})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

func TestClientIP(t *testing.T) {
	proxies, err := ParseProxies([]string{"10.0.0.0/8", "192.0.2.7"})
	if err != nil {
		t.Fatalf("ParseProxies() error = %v", err)
	}

	tests := []struct {
		name          string
		proxies       *Proxies
		remoteAddr    string
		xForwardedFor string
		xRealIP       string
		expected      string
	}{
		{"remote addr only", nil, "192.168.1.1:12345", "", "", "192.168.1.1"},
		{"untrusted peer ignores X-Forwarded-For", nil, "10.0.0.1:12345", "203.0.113.195", "", "10.0.0.1"},
		{"untrusted peer ignores X-Real-IP", proxies, "198.51.100.4:1", "", "203.0.113.195", "198.51.100.4"},
		{"trusted peer X-Forwarded-For single", proxies, "10.0.0.1:12345", "203.0.113.195", "", "203.0.113.195"},
		{"rightmost untrusted hop wins", proxies, "10.0.0.1:12345", "203.0.113.195, 70.41.3.18", "", "70.41.3.18"},
		{"trusted hops skipped", proxies, "10.0.0.1:12345", "203.0.113.195, 10.1.2.3", "", "203.0.113.195"},
		{"bare address proxy", proxies, "192.0.2.7:80", "203.0.113.9", "", "203.0.113.9"},
		{"trusted peer X-Real-IP", proxies, "10.0.0.1:12345", "", "203.0.113.195", "203.0.113.195"},
		{"X-Forwarded-For takes precedence", proxies, "10.0.0.1:12345", "203.0.113.195", "70.41.3.18", "203.0.113.195"},
		{"garbage header falls back to peer", proxies, "10.0.0.1:12345", "not-an-ip", "", "10.0.0.1"},
		{"IPv6 remote addr", nil, "[::1]:12345", "", "", "::1"},
		{"no port", nil, "192.0.2.9", "", "", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}
			if ip := tt.proxies.ClientIP(req); ip != tt.expected {
				t.Errorf("ClientIP() = %s, want %s", ip, tt.expected)
			}
		})
	}
}

func TestParseProxies_Invalid(t *testing.T) {
	for _, in := range []string{"10.0.0.0/33", "proxy.local"} {
		if _, err := ParseProxies([]string{in}); err == nil {
			t.Errorf("ParseProxies(%q) expected error", in)
		}
	}
}
