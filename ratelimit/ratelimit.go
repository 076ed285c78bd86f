// Package ratelimit implements fixed-window rate limiting over a shared
// counter store.
//
// Counters live in a store.CounterStore whose increment is atomic, so every
// service instance sharing the store enforces the same quota.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aloks98/restauth/store"
)

// Errors returned by the limiter.
var (
	// ErrRateLimited indicates the quota for a key is exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidLimit indicates a non-positive limit or window.
	ErrInvalidLimit = errors.New("ratelimit: limit and window must be positive")
)

// LimitError is returned when a request exceeds its quota.
type LimitError struct {
	Key        string
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: retry after %s", e.Key, e.RetryAfter)
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *LimitError) Unwrap() error {
	return ErrRateLimited
}

// Status is the state of a key's current window.
type Status struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Config configures a Limiter.
type Config struct {
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Limiter enforces fixed-window quotas.
type Limiter struct {
	store store.CounterStore
	now   func() time.Time
}

// New creates a limiter over s.
func New(s store.CounterStore, cfg Config) *Limiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{store: s, now: cfg.Now}
}

// Check counts one request against key. A missing or elapsed window
// restarts at one. Requests past limit get a *LimitError with the time left
// in the window; the Status is returned in both cases.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Status, error) {
	if limit <= 0 || window <= 0 {
		return Status{}, ErrInvalidLimit
	}
	now := l.now()
	c, err := l.store.IncrementCounter(ctx, key, window, now)
	if err != nil {
		return Status{}, err
	}

	st := status(c, limit)
	if c.Count > int64(limit) {
		return st, &LimitError{
			Key:        key,
			Limit:      limit,
			ResetAt:    c.ResetAt,
			RetryAfter: retryAfter(c.ResetAt.Sub(now)),
		}
	}
	return st, nil
}

// Remaining reports key's window without counting a request.
func (l *Limiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (Status, error) {
	if limit <= 0 || window <= 0 {
		return Status{}, ErrInvalidLimit
	}
	now := l.now()
	c, ok, err := l.store.GetCounter(ctx, key, now)
	if err != nil {
		return Status{}, err
	}
	if !ok {
		return Status{Limit: limit, Remaining: limit, ResetAt: now.Add(window)}, nil
	}
	return status(c, limit), nil
}

// Cleanup prunes counters whose window has ended.
func (l *Limiter) Cleanup(ctx context.Context) (int64, error) {
	return l.store.DeleteExpiredCounters(ctx, l.now())
}

func status(c store.Counter, limit int) Status {
	remaining := int64(limit) - c.Count
	if remaining < 0 {
		remaining = 0
	}
	return Status{Limit: limit, Remaining: int(remaining), ResetAt: c.ResetAt}
}

// retryAfter rounds d up to whole seconds, at least one.
func retryAfter(d time.Duration) time.Duration {
	if d <= time.Second {
		return time.Second
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}

// IdentityKey is the keyspace for per-identity quotas.
func IdentityKey(id string) string {
	return "id:" + id
}

// IPKey is the keyspace for per-source-IP quotas.
func IPKey(ip string) string {
	return "ip:" + ip
}

// MethodKey is the keyspace for per-auth-method quotas, such as login
// attempts against one account.
func MethodKey(method, subject string) string {
	return "method:" + method + ":" + subject
}
