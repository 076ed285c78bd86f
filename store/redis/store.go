// Package redis provides Redis storage for the hot paths of restauth:
// issued tokens, the blacklist, rate limit counters and the policy document.
// Accounts and API keys stay in a durable store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aloks98/restauth/store"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "restauth:"

// DefaultTimeout bounds every command when Config.Timeout is 0.
const DefaultTimeout = 2 * time.Second

// Key segments appended to the prefix.
const (
	segToken     = "token:"
	segUserToken = "user_tokens:"
	segBlacklist = "blacklist:"
	segCounter   = "counter:"
	segPolicy    = "policy"
)

// incrementScript restarts the window when it has elapsed at ARGV[1] and
// otherwise adds one. Returns {count, reset_at_ms}.
var incrementScript = redis.NewScript(`
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset') or '0')
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
if reset <= now then
  redis.call('HSET', KEYS[1], 'count', 1, 'reset', now + window)
  redis.call('PEXPIRE', KEYS[1], window)
  return {1, now + window}
end
local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {count, reset}
`)

// Store implements the token, blacklist, counter and policy stores on Redis.
type Store struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

var (
	_ store.TokenStore     = (*Store)(nil)
	_ store.BlacklistStore = (*Store)(nil)
	_ store.CounterStore   = (*Store)(nil)
	_ store.PolicyStore    = (*Store)(nil)
)

// Config holds Redis store configuration.
type Config struct {
	// Client is an existing Redis client.
	// If provided, other connection options are ignored.
	Client redis.UniversalClient

	// Addr is the Redis server address (host:port).
	Addr string

	// Password is the Redis password.
	Password string

	// DB is the Redis database number.
	DB int

	// PoolSize is the maximum number of connections.
	PoolSize int

	// Prefix namespaces keys. Defaults to DefaultPrefix.
	Prefix string

	// Timeout bounds each command. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// New creates a new Redis store.
func New(cfg *Config) (*Store, error) {
	client := cfg.Client
	if client == nil {
		if cfg.Addr == "" {
			return nil, errors.New("redis: address is required")
		}
		opts := &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
		if cfg.PoolSize > 0 {
			opts.PoolSize = cfg.PoolSize
		}
		client = redis.NewClient(opts)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Store{client: client, prefix: prefix, timeout: timeout}, nil
}

// Client exposes the underlying client so caches can share the pool.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) key(seg, id string) string {
	return s.prefix + seg + id
}

func (s *Store) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// SaveToken records an issued token. Already expired tokens are not kept.
func (s *Store) SaveToken(ctx context.Context, token *store.StoredToken) error {
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	index := s.key(segUserToken, token.SubjectID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(segToken, token.TokenID), data, ttl)
	pipe.SAdd(ctx, index, token.TokenID)
	pipe.ExpireNX(ctx, index, ttl)
	pipe.ExpireGT(ctx, index, ttl)
	_, err = pipe.Exec(ctx)
	return store.Classify(err)
}

// ListTokens returns the live tokens of a subject ordered by creation.
// Index members whose token has expired are pruned.
func (s *Store) ListTokens(ctx context.Context, subjectID string) ([]*store.StoredToken, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	index := s.key(segUserToken, subjectID)
	ids, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, store.Classify(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(segToken, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, store.Classify(err)
	}

	var (
		out   []*store.StoredToken
		stale []any
	)
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var t store.StoredToken
		if err := json.Unmarshal([]byte(str), &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, index, stale...).Err(); err != nil {
			return nil, store.Classify(err)
		}
	}

	slices.SortFunc(out, func(a, b *store.StoredToken) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// DeleteTokens removes the given token IDs and their index entries.
func (s *Store) DeleteTokens(ctx context.Context, tokenIDs []string) (int64, error) {
	if len(tokenIDs) == 0 {
		return 0, nil
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	keys := make([]string, len(tokenIDs))
	for i, id := range tokenIDs {
		keys[i] = s.key(segToken, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, store.Classify(err)
	}

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, keys...)
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var t store.StoredToken
		if err := json.Unmarshal([]byte(str), &t); err == nil {
			pipe.SRem(ctx, s.key(segUserToken, t.SubjectID), tokenIDs[i])
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, store.Classify(err)
	}
	return del.Val(), nil
}

// DeleteExpiredTokens prunes subject indexes of tokens Redis has already
// expired and removes records whose expiry passed at now. It returns the
// number of index entries removed.
func (s *Store) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var removed int64
	iter := s.client.Scan(ctx, 0, s.key(segUserToken, "*"), 100).Iterator()
	for iter.Next(ctx) {
		index := iter.Val()
		ids, err := s.client.SMembers(ctx, index).Result()
		if err != nil {
			return removed, store.Classify(err)
		}
		for _, id := range ids {
			raw, err := s.client.Get(ctx, s.key(segToken, id)).Result()
			expired := errors.Is(err, redis.Nil)
			if err != nil && !expired {
				return removed, store.Classify(err)
			}
			if !expired {
				var t store.StoredToken
				if json.Unmarshal([]byte(raw), &t) == nil && t.ExpiredAt(now) {
					expired = true
					if err := s.client.Del(ctx, s.key(segToken, id)).Err(); err != nil {
						return removed, store.Classify(err)
					}
				}
			}
			if expired {
				if err := s.client.SRem(ctx, index, id).Err(); err != nil {
					return removed, store.Classify(err)
				}
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, store.Classify(err)
	}
	return removed, nil
}

// AddToBlacklist stores entry with SET NX so exactly one writer wins. The
// key lives from BlacklistedAt to ExpiresAt. Entries already expired are
// reported as inserted and not kept.
func (s *Store) AddToBlacklist(ctx context.Context, entry *store.BlacklistEntry) (bool, error) {
	ttl := time.Until(entry.ExpiresAt)
	if !entry.BlacklistedAt.IsZero() {
		ttl = entry.ExpiresAt.Sub(entry.BlacklistedAt)
	}
	if ttl <= 0 {
		return true, nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return false, err
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()
	ok, err := s.client.SetNX(ctx, s.key(segBlacklist, entry.TokenID), data, ttl).Result()
	if err != nil {
		return false, store.Classify(err)
	}
	return ok, nil
}

// GetBlacklistEntry returns the entry for tokenID, or nil.
func (s *Store) GetBlacklistEntry(ctx context.Context, tokenID string) (*store.BlacklistEntry, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key(segBlacklist, tokenID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Classify(err)
	}
	var e store.BlacklistEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// RemoveFromBlacklist deletes the entry for tokenID.
func (s *Store) RemoveFromBlacklist(ctx context.Context, tokenID string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return store.Classify(s.client.Del(ctx, s.key(segBlacklist, tokenID)).Err())
}

// DeleteExpiredBlacklistEntries is a no-op; Redis expires entries itself.
func (s *Store) DeleteExpiredBlacklistEntries(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// IncrementCounter bumps key's counter in a Lua script.
func (s *Store) IncrementCounter(ctx context.Context, key string, window time.Duration, now time.Time) (store.Counter, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := incrementScript.Run(ctx, s.client, []string{s.key(segCounter, key)},
		now.UnixMilli(), window.Milliseconds()).Int64Slice()
	if err != nil {
		return store.Counter{}, store.Classify(err)
	}
	if len(res) != 2 {
		return store.Counter{}, fmt.Errorf("redis: unexpected script reply %v", res)
	}
	return store.Counter{Count: res[0], ResetAt: time.UnixMilli(res[1])}, nil
}

// GetCounter reads key's counter without mutating it.
func (s *Store) GetCounter(ctx context.Context, key string, now time.Time) (store.Counter, bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	vals, err := s.client.HMGet(ctx, s.key(segCounter, key), "count", "reset").Result()
	if err != nil {
		return store.Counter{}, false, store.Classify(err)
	}
	countStr, ok1 := vals[0].(string)
	resetStr, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return store.Counter{}, false, nil
	}
	count, err := strconv.ParseInt(countStr, 10, 64)
	if err != nil {
		return store.Counter{}, false, err
	}
	reset, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return store.Counter{}, false, err
	}
	if reset <= now.UnixMilli() {
		return store.Counter{}, false, nil
	}
	return store.Counter{Count: count, ResetAt: time.UnixMilli(reset)}, true, nil
}

// DeleteExpiredCounters is a no-op; counters carry their own TTL.
func (s *Store) DeleteExpiredCounters(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// LoadPolicy returns the override document, or nil.
func (s *Store) LoadPolicy(ctx context.Context) ([]byte, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	doc, err := s.client.Get(ctx, s.prefix+segPolicy).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Classify(err)
	}
	return doc, nil
}

// SavePolicy replaces the override document.
func (s *Store) SavePolicy(ctx context.Context, doc []byte) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return store.Classify(s.client.Set(ctx, s.prefix+segPolicy, doc, 0).Err())
}

// DeletePolicy removes the override document.
func (s *Store) DeletePolicy(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return store.Classify(s.client.Del(ctx, s.prefix+segPolicy).Err())
}
