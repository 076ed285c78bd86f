package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aloks98/restauth/store"
)

// DefaultCacheTTL bounds how long a merged policy is reused.
const DefaultCacheTTL = 30 * time.Second

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Defaults is the base policy. Defaults to DefaultPolicy.
	Defaults *Policy

	// CacheTTL bounds reuse of the merged policy. Default DefaultCacheTTL.
	CacheTTL time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Service serves the effective policy: the persisted override merged over
// the defaults. Mutations persist the override and drop the cached copy.
type Service struct {
	store    store.PolicyStore
	defaults *Policy
	ttl      time.Duration
	now      func() time.Time

	group   singleflight.Group
	mu      sync.RWMutex
	cached  *Policy
	expires time.Time
}

// NewService creates a policy service over s.
func NewService(s store.PolicyStore, cfg ServiceConfig) *Service {
	if cfg.Defaults == nil {
		cfg.Defaults = DefaultPolicy()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{store: s, defaults: cfg.Defaults, ttl: cfg.CacheTTL, now: cfg.Now}
}

// Policy returns the effective policy. Callers must not modify it.
func (s *Service) Policy(ctx context.Context) (*Policy, error) {
	s.mu.RLock()
	p, exp := s.cached, s.expires
	s.mu.RUnlock()
	if p != nil && s.now().Before(exp) {
		return p, nil
	}

	v, err, _ := s.group.Do("policy", func() (any, error) {
		doc, err := s.store.LoadPolicy(ctx)
		if err != nil {
			return nil, err
		}
		merged, err := Merge(s.defaults, doc)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cached, s.expires = merged, s.now().Add(s.ttl)
		s.mu.Unlock()
		return merged, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Policy), nil
}

// Override returns the persisted override document, or nil.
func (s *Service) Override(ctx context.Context) (map[string]any, error) {
	doc, err := s.store.LoadPolicy(ctx)
	if err != nil || len(doc) == 0 {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("parse policy override: %w", err)
	}
	return m, nil
}

// HasPermission evaluates the effective policy.
func (s *Service) HasPermission(ctx context.Context, subj Subject, resource, action, ownerID string) (bool, error) {
	p, err := s.Policy(ctx)
	if err != nil {
		return false, err
	}
	return p.HasPermission(subj, resource, action, ownerID), nil
}

// SetRule overrides one role/resource rule.
func (s *Service) SetRule(ctx context.Context, role, resource string, rule Rule) error {
	if role == "" {
		return ErrEmptyRole
	}
	if resource == "" {
		return ErrEmptyResource
	}
	return s.update(ctx, func(doc map[string]any) {
		sub(sub(doc, "roles"), role)[resource] = rule
	})
}

// SetFieldPolicy overrides the field policy of role ("*" for all roles).
func (s *Service) SetFieldPolicy(ctx context.Context, role string, f Fields) error {
	if role == "" {
		return ErrEmptyRole
	}
	return s.update(ctx, func(doc map[string]any) {
		sub(doc, "fields")[role] = f
	})
}

// Replace stores p as the whole override document.
func (s *Service) Replace(ctx context.Context, p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.store.SavePolicy(ctx, doc); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// Reset deletes the override, restoring the defaults.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.store.DeletePolicy(ctx); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// Invalidate drops the cached policy.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *Service) update(ctx context.Context, fn func(map[string]any)) error {
	doc, err := s.Override(ctx)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = make(map[string]any)
	}
	fn(doc)

	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if _, err := Merge(s.defaults, raw); err != nil {
		return err
	}
	if err := s.store.SavePolicy(ctx, raw); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// sub returns m[key] as a map, creating it when missing.
func sub(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	v := make(map[string]any)
	m[key] = v
	return v
}
