// Package storetest is a conformance suite for store implementations.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aloks98/restauth/internal/ids"
	"github.com/aloks98/restauth/store"
)

// Run exercises every contract of a complete store.
func Run(t *testing.T, s store.Store) {
	t.Run("Tokens", func(t *testing.T) { RunTokens(t, s) })
	t.Run("Blacklist", func(t *testing.T) { RunBlacklist(t, s) })
	t.Run("APIKeys", func(t *testing.T) { RunAPIKeys(t, s) })
	t.Run("Users", func(t *testing.T) { RunUsers(t, s) })
	t.Run("Policy", func(t *testing.T) { RunPolicy(t, s) })
	t.Run("Counters", func(t *testing.T) { RunCounters(t, s) })
}

func now() time.Time {
	return time.Now().Truncate(time.Millisecond)
}

// RunTokens exercises a TokenStore.
func RunTokens(t *testing.T, s store.TokenStore) {
	ctx := context.Background()
	at := now()
	subject := "sub-" + ids.New()
	other := "sub-" + ids.New()

	live := &store.StoredToken{TokenID: ids.New(), SubjectID: subject, TokenType: "access", ExpiresAt: at.Add(time.Hour), CreatedAt: at}
	expired := &store.StoredToken{TokenID: ids.New(), SubjectID: subject, TokenType: "refresh", ExpiresAt: at.Add(-time.Minute), CreatedAt: at.Add(-time.Hour)}
	foreign := &store.StoredToken{TokenID: ids.New(), SubjectID: other, TokenType: "access", ExpiresAt: at.Add(time.Hour), CreatedAt: at}

	for _, tok := range []*store.StoredToken{live, expired, foreign} {
		if err := s.SaveToken(ctx, tok); err != nil {
			t.Fatalf("SaveToken() error = %v", err)
		}
	}

	if _, err := s.DeleteExpiredTokens(ctx, at); err != nil {
		t.Fatalf("DeleteExpiredTokens() error = %v", err)
	}

	got, err := s.ListTokens(ctx, subject)
	if err != nil {
		t.Fatalf("ListTokens() error = %v", err)
	}
	if len(got) != 1 || got[0].TokenID != live.TokenID {
		t.Fatalf("ListTokens() = %v, want only %s", tokenIDs(got), live.TokenID)
	}
	if got[0].TokenType != "access" || !got[0].ExpiresAt.Equal(live.ExpiresAt) {
		t.Errorf("ListTokens() returned %+v, want %+v", got[0], live)
	}

	n, err := s.DeleteTokens(ctx, []string{live.TokenID, "missing-" + ids.New()})
	if err != nil {
		t.Fatalf("DeleteTokens() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteTokens() = %d, want 1", n)
	}
	if got, _ := s.ListTokens(ctx, subject); len(got) != 0 {
		t.Errorf("expected no tokens after delete, got %v", tokenIDs(got))
	}
	if got, _ := s.ListTokens(ctx, other); len(got) != 1 {
		t.Errorf("other subject's tokens affected, got %v", tokenIDs(got))
	}

	if n, err := s.DeleteTokens(ctx, nil); err != nil || n != 0 {
		t.Errorf("DeleteTokens(nil) = %d, %v", n, err)
	}
}

// RunBlacklist exercises a BlacklistStore.
func RunBlacklist(t *testing.T, s store.BlacklistStore) {
	ctx := context.Background()
	at := now()
	id := ids.New()

	entry := &store.BlacklistEntry{TokenID: id, BlacklistedAt: at, ExpiresAt: at.Add(time.Hour)}
	added, err := s.AddToBlacklist(ctx, entry)
	if err != nil {
		t.Fatalf("AddToBlacklist() error = %v", err)
	}
	if !added {
		t.Fatal("first AddToBlacklist() should insert")
	}

	added, err = s.AddToBlacklist(ctx, entry)
	if err != nil {
		t.Fatalf("AddToBlacklist() error = %v", err)
	}
	if added {
		t.Fatal("second AddToBlacklist() should report existing entry")
	}

	got, err := s.GetBlacklistEntry(ctx, id)
	if err != nil {
		t.Fatalf("GetBlacklistEntry() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetBlacklistEntry() = nil")
	}
	if !got.ExpiresAt.Equal(entry.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, entry.ExpiresAt)
	}

	if err := s.RemoveFromBlacklist(ctx, id); err != nil {
		t.Fatalf("RemoveFromBlacklist() error = %v", err)
	}
	if got, _ := s.GetBlacklistEntry(ctx, id); got != nil {
		t.Error("entry still present after remove")
	}

	if got, err := s.GetBlacklistEntry(ctx, "missing-"+ids.New()); err != nil || got != nil {
		t.Errorf("GetBlacklistEntry(missing) = %v, %v", got, err)
	}

	// An entry whose own expiry passed may be replaced.
	stale := ids.New()
	old := &store.BlacklistEntry{TokenID: stale, BlacklistedAt: at.Add(-2 * time.Hour), ExpiresAt: at.Add(-time.Hour)}
	if _, err := s.AddToBlacklist(ctx, old); err != nil {
		t.Fatalf("AddToBlacklist(expired) error = %v", err)
	}
	if e, _ := s.GetBlacklistEntry(ctx, stale); e != nil && !e.ExpiredAt(at) {
		t.Errorf("expired entry reported live: %+v", e)
	}
	fresh := &store.BlacklistEntry{TokenID: stale, BlacklistedAt: at, ExpiresAt: at.Add(time.Hour)}
	added, err = s.AddToBlacklist(ctx, fresh)
	if err != nil {
		t.Fatalf("AddToBlacklist(replace) error = %v", err)
	}
	if !added {
		t.Error("AddToBlacklist should replace an expired entry")
	}

	if _, err := s.DeleteExpiredBlacklistEntries(ctx, at.Add(2*time.Hour)); err != nil {
		t.Fatalf("DeleteExpiredBlacklistEntries() error = %v", err)
	}
}

// RunBlacklistRace checks that exactly one concurrent writer wins.
func RunBlacklistRace(t *testing.T, s store.BlacklistStore) {
	ctx := context.Background()
	at := now()
	id := ids.New()

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := s.AddToBlacklist(ctx, &store.BlacklistEntry{TokenID: id, BlacklistedAt: at, ExpiresAt: at.Add(time.Hour)})
			if err != nil {
				t.Errorf("AddToBlacklist() error = %v", err)
				return
			}
			if added {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("winners = %d, want 1", wins)
	}
}

// RunAPIKeys exercises an APIKeyStore.
func RunAPIKeys(t *testing.T, s store.APIKeyStore) {
	ctx := context.Background()
	at := now()
	subject := "sub-" + ids.New()
	exp := at.Add(24 * time.Hour)

	k1 := &store.APIKeyRecord{
		KeyHash:         "h1-" + ids.New(),
		Hint:            "abcd",
		Scope:           "site",
		SubjectID:       subject,
		Name:            "ci",
		Scopes:          []string{"read"},
		ExpiresAt:       &exp,
		RateLimit:       100,
		RateLimitWindow: time.Minute,
		CreatedAt:       at,
	}
	k2 := &store.APIKeyRecord{
		KeyHash:   "h2-" + ids.New(),
		Hint:      "efgh",
		Scope:     "site",
		SubjectID: subject,
		Name:      "deploy",
		CreatedAt: at.Add(time.Second),
	}
	for _, k := range []*store.APIKeyRecord{k1, k2} {
		if err := s.SaveAPIKey(ctx, k); err != nil {
			t.Fatalf("SaveAPIKey() error = %v", err)
		}
	}

	got, err := s.GetAPIKey(ctx, k1.KeyHash)
	if err != nil {
		t.Fatalf("GetAPIKey() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetAPIKey() = nil")
	}
	if got.Name != "ci" || got.SubjectID != subject || got.Scope != "site" || got.Hint != "abcd" {
		t.Errorf("GetAPIKey() = %+v", got)
	}
	if len(got.Scopes) != 1 || got.Scopes[0] != "read" {
		t.Errorf("Scopes = %v, want [read]", got.Scopes)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, exp)
	}
	if got.RateLimit != 100 || got.RateLimitWindow != time.Minute {
		t.Errorf("rate limit = %d/%v", got.RateLimit, got.RateLimitWindow)
	}
	if got.Revoked || got.LastUsedAt != nil {
		t.Errorf("unexpected state %+v", got)
	}

	if missing, err := s.GetAPIKey(ctx, "missing-"+ids.New()); err != nil || missing != nil {
		t.Errorf("GetAPIKey(missing) = %v, %v", missing, err)
	}

	used := at.Add(time.Minute)
	if err := s.TouchAPIKey(ctx, k1.KeyHash, used, "203.0.113.7"); err != nil {
		t.Fatalf("TouchAPIKey() error = %v", err)
	}
	got, _ = s.GetAPIKey(ctx, k1.KeyHash)
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(used) || got.LastUsedIP != "203.0.113.7" {
		t.Errorf("after touch: last used %v from %q", got.LastUsedAt, got.LastUsedIP)
	}

	list, err := s.ListAPIKeys(ctx, subject)
	if err != nil {
		t.Fatalf("ListAPIKeys() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListAPIKeys() len = %d, want 2", len(list))
	}

	ok, err := s.RevokeAPIKey(ctx, k1.KeyHash)
	if err != nil || !ok {
		t.Fatalf("RevokeAPIKey() = %v, %v", ok, err)
	}
	if ok, _ := s.RevokeAPIKey(ctx, k1.KeyHash); ok {
		t.Error("second RevokeAPIKey() should report false")
	}
	got, _ = s.GetAPIKey(ctx, k1.KeyHash)
	if !got.Revoked {
		t.Error("key not revoked")
	}

	hashes, err := s.RevokeAllAPIKeys(ctx, subject)
	if err != nil {
		t.Fatalf("RevokeAllAPIKeys() error = %v", err)
	}
	if len(hashes) != 1 || hashes[0] != k2.KeyHash {
		t.Errorf("RevokeAllAPIKeys() = %v, want [%s]", hashes, k2.KeyHash)
	}

	list, _ = s.ListAPIKeys(ctx, subject)
	if len(list) != 2 {
		t.Errorf("revoked keys must be kept, got %d", len(list))
	}
}

// RunUsers exercises a UserStore.
func RunUsers(t *testing.T, s store.UserStore) {
	ctx := context.Background()
	at := now()
	suffix := ids.New()

	u := &store.User{
		ID:           "u-" + suffix,
		Login:        "alice-" + suffix,
		Email:        "alice-" + suffix + "@example.com",
		DisplayName:  "Alice",
		Roles:        []string{"editor", "subscriber"},
		PasswordHash: "hash",
		Meta:         map[string]string{"team": "docs"},
		CreatedAt:    at,
	}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	dup := *u
	dup.ID = "u2-" + suffix
	if err := s.CreateUser(ctx, &dup); !errors.Is(err, store.ErrConflict) {
		t.Errorf("CreateUser(duplicate login) error = %v, want ErrConflict", err)
	}

	got, err := s.GetUser(ctx, u.ID)
	if err != nil || got == nil {
		t.Fatalf("GetUser() = %v, %v", got, err)
	}
	if got.Login != u.Login || got.DisplayName != "Alice" || len(got.Roles) != 2 || got.Meta["team"] != "docs" {
		t.Errorf("GetUser() = %+v", got)
	}

	for _, name := range []string{u.Login, u.Email} {
		found, err := s.FindUser(ctx, name)
		if err != nil || found == nil || found.ID != u.ID {
			t.Errorf("FindUser(%q) = %v, %v", name, found, err)
		}
	}
	if found, err := s.FindUser(ctx, "nobody-"+suffix); err != nil || found != nil {
		t.Errorf("FindUser(missing) = %v, %v", found, err)
	}
	if missing, err := s.GetUser(ctx, "missing-"+suffix); err != nil || missing != nil {
		t.Errorf("GetUser(missing) = %v, %v", missing, err)
	}

	if err := s.SetPassword(ctx, u.ID, "hash2"); err != nil {
		t.Fatalf("SetPassword() error = %v", err)
	}
	got, _ = s.GetUser(ctx, u.ID)
	if got.PasswordHash != "hash2" {
		t.Errorf("PasswordHash = %q, want hash2", got.PasswordHash)
	}

	p1 := &store.AppPassword{ID: "p1-" + suffix, UserID: u.ID, Name: "laptop", Hash: "h1", CreatedAt: at}
	p2 := &store.AppPassword{ID: "p2-" + suffix, UserID: u.ID, Name: "phone", Hash: "h2", CreatedAt: at.Add(time.Second)}
	for _, p := range []*store.AppPassword{p1, p2} {
		if err := s.SaveAppPassword(ctx, p); err != nil {
			t.Fatalf("SaveAppPassword() error = %v", err)
		}
	}

	used := at.Add(time.Minute)
	if err := s.TouchAppPassword(ctx, p2.ID, used, "198.51.100.1"); err != nil {
		t.Fatalf("TouchAppPassword() error = %v", err)
	}

	pws, err := s.ListAppPasswords(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListAppPasswords() error = %v", err)
	}
	if len(pws) != 2 {
		t.Fatalf("ListAppPasswords() len = %d, want 2", len(pws))
	}
	for _, p := range pws {
		switch p.ID {
		case p1.ID:
			if p.LastUsedAt != nil {
				t.Error("untouched password has last used time")
			}
		case p2.ID:
			if p.LastUsedAt == nil || !p.LastUsedAt.Equal(used) || p.LastUsedIP != "198.51.100.1" {
				t.Errorf("touched password = %+v", p)
			}
		}
	}

	if ok, _ := s.DeleteAppPassword(ctx, "someone-else", p1.ID); ok {
		t.Error("deleted another user's password")
	}
	ok, err := s.DeleteAppPassword(ctx, u.ID, p1.ID)
	if err != nil || !ok {
		t.Errorf("DeleteAppPassword() = %v, %v", ok, err)
	}
	pws, _ = s.ListAppPasswords(ctx, u.ID)
	if len(pws) != 1 || pws[0].ID != p2.ID {
		t.Errorf("after delete got %d passwords", len(pws))
	}
}

// RunPolicy exercises a PolicyStore.
func RunPolicy(t *testing.T, s store.PolicyStore) {
	ctx := context.Background()

	if err := s.DeletePolicy(ctx); err != nil {
		t.Fatalf("DeletePolicy() error = %v", err)
	}
	doc, err := s.LoadPolicy(ctx)
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if doc != nil {
		t.Errorf("LoadPolicy() = %s, want nil", doc)
	}

	for _, want := range []string{`{"roles":{}}`, `{"roles":{"editor":{}}}`} {
		if err := s.SavePolicy(ctx, []byte(want)); err != nil {
			t.Fatalf("SavePolicy() error = %v", err)
		}
		doc, err = s.LoadPolicy(ctx)
		if err != nil {
			t.Fatalf("LoadPolicy() error = %v", err)
		}
		if string(doc) != want {
			t.Errorf("LoadPolicy() = %s, want %s", doc, want)
		}
	}

	if err := s.DeletePolicy(ctx); err != nil {
		t.Fatalf("DeletePolicy() error = %v", err)
	}
	if doc, _ := s.LoadPolicy(ctx); doc != nil {
		t.Errorf("policy still present after delete: %s", doc)
	}
}

// RunCounters exercises a CounterStore.
func RunCounters(t *testing.T, s store.CounterStore) {
	ctx := context.Background()
	at := now()
	key := "rl:test:" + ids.New()
	window := time.Minute

	if _, ok, err := s.GetCounter(ctx, key, at); err != nil || ok {
		t.Fatalf("GetCounter(missing) = %v, %v", ok, err)
	}

	var first store.Counter
	for i := int64(1); i <= 3; i++ {
		c, err := s.IncrementCounter(ctx, key, window, at.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("IncrementCounter() error = %v", err)
		}
		if c.Count != i {
			t.Errorf("count = %d, want %d", c.Count, i)
		}
		if i == 1 {
			first = c
			if !c.ResetAt.Equal(at.Add(time.Second).Add(window)) {
				t.Errorf("ResetAt = %v, want %v", c.ResetAt, at.Add(time.Second).Add(window))
			}
		} else if !c.ResetAt.Equal(first.ResetAt) {
			t.Errorf("window moved: %v vs %v", c.ResetAt, first.ResetAt)
		}
	}

	c, ok, err := s.GetCounter(ctx, key, at.Add(10*time.Second))
	if err != nil || !ok {
		t.Fatalf("GetCounter() = %v, %v", ok, err)
	}
	if c.Count != 3 {
		t.Errorf("GetCounter() count = %d, want 3", c.Count)
	}

	// Reading must not mutate.
	c, _, _ = s.GetCounter(ctx, key, at.Add(10*time.Second))
	if c.Count != 3 {
		t.Errorf("GetCounter() mutated count to %d", c.Count)
	}

	later := first.ResetAt
	if _, ok, _ := s.GetCounter(ctx, key, later); ok {
		t.Error("counter should be dead at its reset time")
	}
	c, err = s.IncrementCounter(ctx, key, window, later)
	if err != nil {
		t.Fatalf("IncrementCounter() error = %v", err)
	}
	if c.Count != 1 || !c.ResetAt.Equal(later.Add(window)) {
		t.Errorf("after window: %+v, want count 1 reset %v", c, later.Add(window))
	}

	if _, err := s.DeleteExpiredCounters(ctx, later.Add(2*window)); err != nil {
		t.Fatalf("DeleteExpiredCounters() error = %v", err)
	}
	if _, ok, _ := s.GetCounter(ctx, key, later.Add(2*window)); ok {
		t.Error("expired counter still live")
	}
}

// RunCounterRace checks that concurrent increments are never lost.
func RunCounterRace(t *testing.T, s store.CounterStore) {
	ctx := context.Background()
	at := now()
	key := "rl:race:" + ids.New()

	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IncrementCounter(ctx, key, time.Minute, at); err != nil {
				t.Errorf("IncrementCounter() error = %v", err)
			}
		}()
	}
	wg.Wait()

	c, ok, err := s.GetCounter(ctx, key, at)
	if err != nil || !ok {
		t.Fatalf("GetCounter() = %v, %v", ok, err)
	}
	if c.Count != workers {
		t.Errorf("count = %d, want %d", c.Count, workers)
	}
}

func tokenIDs(ts []*store.StoredToken) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.TokenID)
	}
	return out
}
