// Package redis provides a Redis-backed outbound.KVStore so idempotency
// claims hold across replicas.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/clinicore/actiongate/internal/port/outbound"
)

// DefaultKeyPrefix namespaces every key written by the store.
const DefaultKeyPrefix = "actiongate:"

// casScript swaps KEYS[1] from ARGV[1] to ARGV[3] (or deletes it when
// ARGV[2] is "del"). ARGV[4] is the TTL in milliseconds, 0 for none.
var casScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
  return 0
end
if ARGV[2] == 'del' then
  redis.call('DEL', KEYS[1])
  return 1
end
local ttl = tonumber(ARGV[4])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[3], 'PX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[3])
end
return 1
`)

// KVStore implements outbound.KVStore on Redis. Claims use SET NX and
// swaps run as a Lua script, so both are atomic on the server.
type KVStore struct {
	client goredis.UniversalClient
	prefix string
	logger *slog.Logger
}

// Option configures a KVStore.
type Option func(*KVStore)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *KVStore) {
		s.prefix = prefix
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *KVStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewKVStore wraps an existing client.
func NewKVStore(client goredis.UniversalClient, opts ...Option) *KVStore {
	s := &KVStore{
		client: client,
		prefix: DefaultKeyPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the Redis server at url (redis://[:password@]host:port/db)
// and verifies it answers PING.
func Open(ctx context.Context, url string, opts ...Option) (*KVStore, error) {
	o, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewKVStore(client, opts...), nil
}

// Close closes the underlying client.
func (s *KVStore) Close() error {
	return s.client.Close()
}

func (s *KVStore) key(k string) string {
	return s.prefix + k
}

// Get returns the value under key.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, true, nil
}

// SetWithTTL stores value under key.
func (s *KVStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// CompareAndSwap atomically replaces the value under key if it equals expected.
func (s *KVStore) CompareAndSwap(ctx context.Context, key string, expected, next []byte, ttl time.Duration) (bool, error) {
	k := s.key(key)

	if expected == nil {
		if next == nil {
			n, err := s.client.Exists(ctx, k).Result()
			if err != nil {
				return false, fmt.Errorf("redis exists %s: %w", key, err)
			}
			return n == 0, nil
		}
		if ttl < 0 {
			ttl = 0
		}
		ok, err := s.client.SetNX(ctx, k, next, ttl).Result()
		if err != nil {
			return false, fmt.Errorf("redis setnx %s: %w", key, err)
		}
		return ok, nil
	}

	op := "set"
	if next == nil {
		op = "del"
	}
	n, err := casScript.Run(ctx, s.client, []string{k}, expected, op, next, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis cas %s: %w", key, err)
	}
	return n == 1, nil
}

// Delete removes key.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix using SCAN, so it
// never blocks the server the way KEYS would.
func (s *KVStore) DeletePrefix(ctx context.Context, prefix string) error {
	match := escapeGlob(s.key(prefix)) + "*"
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return fmt.Errorf("redis scan %s: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	s.logger.Debug("redis prefix deleted", "prefix", prefix, "keys", deleted)
	return nil
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ outbound.KVStore = (*KVStore)(nil)
