// Package memory provides an in-memory store implementation for tests and
// single-process deployments.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aloks98/restauth/store"
)

// Store is an in-memory implementation of the store.Store interface.
// A single mutex serializes writers, which gives every mutation the
// atomicity the interfaces require.
type Store struct {
	mu sync.RWMutex

	tokens       map[string]*store.StoredToken
	blacklist    map[string]*store.BlacklistEntry
	apiKeys      map[string]*store.APIKeyRecord
	users        map[string]*store.User
	appPasswords map[string]*store.AppPassword
	counters     map[string]*store.Counter
	policy       []byte

	closed bool
}

var _ store.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		tokens:       make(map[string]*store.StoredToken),
		blacklist:    make(map[string]*store.BlacklistEntry),
		apiKeys:      make(map[string]*store.APIKeyRecord),
		users:        make(map[string]*store.User),
		appPasswords: make(map[string]*store.AppPassword),
		counters:     make(map[string]*store.Counter),
	}
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping reports ErrUnavailable once the store is closed.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrUnavailable
	}
	return nil
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(ctx context.Context) error {
	return nil
}

// SaveToken records an issued token.
func (s *Store) SaveToken(ctx context.Context, token *store.StoredToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := *token
	s.tokens[token.TokenID] = &t
	return nil
}

// ListTokens returns all tokens of a subject ordered by creation.
func (s *Store) ListTokens(ctx context.Context, subjectID string) ([]*store.StoredToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.StoredToken
	for _, t := range s.tokens {
		if t.SubjectID == subjectID {
			c := *t
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *store.StoredToken) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// DeleteTokens removes the given token IDs.
func (s *Store) DeleteTokens(ctx context.Context, tokenIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range tokenIDs {
		if _, ok := s.tokens[id]; ok {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// DeleteExpiredTokens removes tokens past expiry.
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tokens {
		if t.ExpiredAt(now) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// AddToBlacklist inserts entry unless a live one exists.
func (s *Store) AddToBlacklist(ctx context.Context, entry *store.BlacklistEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.blacklist[entry.TokenID]; ok && !existing.ExpiredAt(entry.BlacklistedAt) {
		return false, nil
	}
	e := *entry
	s.blacklist[entry.TokenID] = &e
	return true, nil
}

// GetBlacklistEntry returns the entry for tokenID, or nil.
func (s *Store) GetBlacklistEntry(ctx context.Context, tokenID string) (*store.BlacklistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.blacklist[tokenID]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

// RemoveFromBlacklist deletes the entry for tokenID.
func (s *Store) RemoveFromBlacklist(ctx context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blacklist, tokenID)
	return nil
}

// DeleteExpiredBlacklistEntries prunes expired entries.
func (s *Store) DeleteExpiredBlacklistEntries(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.blacklist {
		if e.ExpiredAt(now) {
			delete(s.blacklist, id)
			n++
		}
	}
	return n, nil
}

// SaveAPIKey inserts a key record.
func (s *Store) SaveAPIKey(ctx context.Context, key *store.APIKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apiKeys[key.KeyHash]; ok {
		return store.ErrConflict
	}
	s.apiKeys[key.KeyHash] = cloneKey(key)
	return nil
}

// GetAPIKey returns the record for keyHash, or nil.
func (s *Store) GetAPIKey(ctx context.Context, keyHash string) (*store.APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.apiKeys[keyHash]
	if !ok {
		return nil, nil
	}
	return cloneKey(k), nil
}

// ListAPIKeys returns every key of a subject.
func (s *Store) ListAPIKeys(ctx context.Context, subjectID string) ([]*store.APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.APIKeyRecord
	for _, k := range s.apiKeys {
		if k.SubjectID == subjectID {
			out = append(out, cloneKey(k))
		}
	}
	slices.SortFunc(out, func(a, b *store.APIKeyRecord) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// RevokeAPIKey flips the revoked flag.
func (s *Store) RevokeAPIKey(ctx context.Context, keyHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[keyHash]
	if !ok || k.Revoked {
		return false, nil
	}
	k.Revoked = true
	return true, nil
}

// RevokeAllAPIKeys revokes every live key of a subject.
func (s *Store) RevokeAllAPIKeys(ctx context.Context, subjectID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var hashes []string
	for h, k := range s.apiKeys {
		if k.SubjectID == subjectID && !k.Revoked {
			k.Revoked = true
			hashes = append(hashes, h)
		}
	}
	slices.Sort(hashes)
	return hashes, nil
}

// TouchAPIKey records a successful use.
func (s *Store) TouchAPIKey(ctx context.Context, keyHash string, at time.Time, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.apiKeys[keyHash]; ok {
		k.LastUsedAt = &at
		k.LastUsedIP = ip
	}
	return nil
}

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, user *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return store.ErrConflict
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Login, user.Login) || (user.Email != "" && strings.EqualFold(u.Email, user.Email)) {
			return store.ErrConflict
		}
	}
	s.users[user.ID] = cloneUser(user)
	return nil
}

// GetUser returns the user with id, or nil.
func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return cloneUser(u), nil
}

// FindUser looks a user up by login, then by email.
func (s *Store) FindUser(ctx context.Context, name string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Login, name) {
			return cloneUser(u), nil
		}
	}
	for _, u := range s.users {
		if u.Email != "" && strings.EqualFold(u.Email, name) {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

// SetPassword replaces a user's primary password hash.
func (s *Store) SetPassword(ctx context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.PasswordHash = hash
	}
	return nil
}

// SaveAppPassword inserts an application password.
func (s *Store) SaveAppPassword(ctx context.Context, pw *store.AppPassword) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *pw
	s.appPasswords[pw.ID] = &c
	return nil
}

// ListAppPasswords returns every application password of a user.
func (s *Store) ListAppPasswords(ctx context.Context, userID string) ([]*store.AppPassword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.AppPassword
	for _, p := range s.appPasswords {
		if p.UserID == userID {
			c := *p
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *store.AppPassword) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// DeleteAppPassword removes one application password of a user.
func (s *Store) DeleteAppPassword(ctx context.Context, userID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.appPasswords[id]
	if !ok || p.UserID != userID {
		return false, nil
	}
	delete(s.appPasswords, id)
	return true, nil
}

// TouchAppPassword records a successful use.
func (s *Store) TouchAppPassword(ctx context.Context, id string, at time.Time, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.appPasswords[id]; ok {
		p.LastUsedAt = &at
		p.LastUsedIP = ip
	}
	return nil
}

// LoadPolicy returns the override document, or nil.
func (s *Store) LoadPolicy(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.policy == nil {
		return nil, nil
	}
	return slices.Clone(s.policy), nil
}

// SavePolicy replaces the override document.
func (s *Store) SavePolicy(ctx context.Context, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = slices.Clone(doc)
	return nil
}

// DeletePolicy removes the override document.
func (s *Store) DeletePolicy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = nil
	return nil
}

// IncrementCounter atomically bumps key's fixed-window counter.
func (s *Store) IncrementCounter(ctx context.Context, key string, window time.Duration, now time.Time) (store.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.ResetAt) {
		c = &store.Counter{Count: 0, ResetAt: now.Add(window)}
		s.counters[key] = c
	}
	c.Count++
	return *c, nil
}

// GetCounter reads key's counter without mutating it.
func (s *Store) GetCounter(ctx context.Context, key string, now time.Time) (store.Counter, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.ResetAt) {
		return store.Counter{}, false, nil
	}
	return *c, true, nil
}

// DeleteExpiredCounters prunes counters whose window has ended.
func (s *Store) DeleteExpiredCounters(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, c := range s.counters {
		if !now.Before(c.ResetAt) {
			delete(s.counters, k)
			n++
		}
	}
	return n, nil
}

func cloneKey(k *store.APIKeyRecord) *store.APIKeyRecord {
	c := *k
	c.Scopes = slices.Clone(k.Scopes)
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		c.ExpiresAt = &t
	}
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}

func cloneUser(u *store.User) *store.User {
	c := *u
	c.Roles = slices.Clone(u.Roles)
	if u.Meta != nil {
		c.Meta = make(map[string]string, len(u.Meta))
		for k, v := range u.Meta {
			c.Meta[k] = v
		}
	}
	return &c
}
