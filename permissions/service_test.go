package permissions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aloks98/restauth/store"
	"github.com/aloks98/restauth/store/memory"
)

type countingPolicyStore struct {
	store.PolicyStore
	loads atomic.Int32
}

func (c *countingPolicyStore) LoadPolicy(ctx context.Context) ([]byte, error) {
	c.loads.Add(1)
	return c.PolicyStore.LoadPolicy(ctx)
}

type failingPolicyStore struct{ store.PolicyStore }

func (failingPolicyStore) LoadPolicy(context.Context) ([]byte, error) {
	return nil, store.ErrUnavailable
}

func newService(t *testing.T) (*Service, *countingPolicyStore, *time.Time) {
	t.Helper()
	now := time.Now()
	cs := &countingPolicyStore{PolicyStore: memory.New()}
	svc := NewService(cs, ServiceConfig{CacheTTL: time.Minute, Now: func() time.Time { return now }})
	return svc, cs, &now
}

func TestService_Cache(t *testing.T) {
	svc, cs, now := newService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Policy(ctx); err != nil {
				t.Errorf("Policy() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if _, err := svc.Policy(ctx); err != nil {
		t.Fatal(err)
	}
	if n := cs.loads.Load(); n < 1 || n > 10 {
		t.Errorf("loads = %d", n)
	}
	before := cs.loads.Load()
	if _, err := svc.Policy(ctx); err != nil {
		t.Fatal(err)
	}
	if cs.loads.Load() != before {
		t.Error("cached policy was reloaded")
	}

	*now = now.Add(time.Minute)
	if _, err := svc.Policy(ctx); err != nil {
		t.Fatal(err)
	}
	if cs.loads.Load() != before+1 {
		t.Error("expired policy was not reloaded")
	}
}

func TestService_SetRule(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	author := Subject{ID: "42", Roles: []string{"author"}}

	if ok, _ := svc.HasPermission(ctx, author, "post", ActionRead, ""); ok {
		t.Fatal("unknown role granted")
	}
	if err := svc.SetRule(ctx, "author", "post", Rule{Actions: []string{ActionRead}, OwnerOnly: true}); err != nil {
		t.Fatalf("SetRule() error = %v", err)
	}
	if ok, _ := svc.HasPermission(ctx, author, "post", ActionRead, "42"); !ok {
		t.Error("new rule not applied")
	}
	if ok, _ := svc.HasPermission(ctx, author, "post", ActionRead, "7"); ok {
		t.Error("owner-only not applied")
	}

	if err := svc.SetRule(ctx, "author", "page", Rule{Actions: []string{ActionRead}}); err != nil {
		t.Fatal(err)
	}
	p, _ := svc.Policy(ctx)
	if _, ok := p.Roles["author"]["post"]; !ok {
		t.Error("second SetRule dropped the first")
	}

	if err := svc.SetRule(ctx, "", "post", Rule{}); !errors.Is(err, ErrEmptyRole) {
		t.Errorf("SetRule(empty role) error = %v", err)
	}
	if err := svc.SetRule(ctx, "author", "", Rule{}); !errors.Is(err, ErrEmptyResource) {
		t.Errorf("SetRule(empty resource) error = %v", err)
	}
}

func TestService_SetFieldPolicy(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	editor := Subject{Roles: []string{RoleEditor}}

	if err := svc.SetFieldPolicy(ctx, RoleEditor, Fields{Denied: []string{"email"}}); err != nil {
		t.Fatal(err)
	}
	p, _ := svc.Policy(ctx)
	if p.CanReadField("email", editor) {
		t.Error("field deny not applied")
	}
	if !p.CanReadField("title", editor) {
		t.Error("default field policy lost")
	}
}

func TestService_ReplaceAndReset(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	editor := Subject{Roles: []string{RoleEditor}}

	err := svc.Replace(ctx, &Policy{Roles: map[string]map[string]Rule{
		RoleEditor: {Wildcard: {Actions: []string{ActionRead}}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := svc.HasPermission(ctx, editor, "post", ActionDelete, ""); ok {
		t.Error("replaced rule not applied")
	}
	override, _ := svc.Override(ctx)
	if override == nil {
		t.Error("override not persisted")
	}

	if err := svc.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := svc.HasPermission(ctx, editor, "post", ActionDelete, ""); !ok {
		t.Error("reset did not restore defaults")
	}
	if override, _ := svc.Override(ctx); override != nil {
		t.Errorf("override after reset = %v", override)
	}

	bad := &Policy{Roles: map[string]map[string]Rule{"": {}}}
	if err := svc.Replace(ctx, bad); !errors.Is(err, ErrEmptyRole) {
		t.Errorf("Replace(invalid) error = %v", err)
	}
}

func TestService_StoreError(t *testing.T) {
	svc := NewService(failingPolicyStore{}, ServiceConfig{})
	if _, err := svc.HasPermission(context.Background(), Subject{}, "post", ActionRead, ""); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("HasPermission() error = %v, want ErrUnavailable", err)
	}
}
