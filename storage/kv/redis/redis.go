// Package rediskv implements the counter store and the session backend on Redis,
// so that several API processes share rate limits, lockouts and sessions.
package rediskv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/chuo/core/kv"
	"github.com/trezcool/chuo/core/session"
)

// NewClient returns a go-redis client for redisURL (e.g. redis://localhost:6379/0) once it answers a ping.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis url")
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

// INCR and set the ttl of new (or ttl-less) keys in one round trip.
// Returns {count, remaining ttl in ms}.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

type Store struct {
	client redis.Cmdable
	prefix string
}

var _ kv.Store = (*Store)(nil)

// NewStore returns a kv.Store keeping its keys under prefix.
func NewStore(client redis.Cmdable, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, s.key(key)).Int64()
	if err == redis.Nil {
		return 0, kv.ErrNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "redis GET")
	}
	return val, nil
}

func (s *Store) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return errors.Wrap(s.client.Set(ctx, s.key(key), value, ttl).Err(), "redis SET")
}

func (s *Store) Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	res, err := incrScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Result()
	if err != nil {
		return 0, 0, errors.Wrap(err, "redis INCR")
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, 0, errors.New("unexpected increment response")
	}
	count, ok1 := vals[0].(int64)
	remaining, ok2 := vals[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, errors.New("unexpected increment response")
	}
	return count, time.Duration(remaining) * time.Millisecond, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.Wrap(s.client.Del(ctx, s.key(key)).Err(), "redis DEL")
	}
	return errors.Wrap(s.client.PExpire(ctx, s.key(key), ttl).Err(), "redis PEXPIRE")
}

// SessionBackend stores sessions as JSON documents.
type SessionBackend struct {
	client redis.Cmdable
	prefix string
}

var _ session.Backend = (*SessionBackend)(nil)

func NewSessionBackend(client redis.Cmdable, prefix string) *SessionBackend {
	return &SessionBackend{client: client, prefix: prefix + "session:"}
}

func (b *SessionBackend) Load(ctx context.Context, id string) (session.Session, error) {
	data, err := b.client.Get(ctx, b.prefix+id).Bytes()
	if err == redis.Nil {
		return session.Session{}, session.ErrBackendNotFound
	}
	if err != nil {
		return session.Session{}, errors.Wrap(err, "redis GET")
	}
	var s session.Session
	if err = json.Unmarshal(data, &s); err != nil {
		return session.Session{}, errors.Wrap(err, "decoding session")
	}
	return s, nil
}

func (b *SessionBackend) Save(ctx context.Context, s session.Session, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encoding session")
	}
	if ttl <= 0 {
		return b.Delete(ctx, s.ID)
	}
	return errors.Wrap(b.client.Set(ctx, b.prefix+s.ID, data, ttl).Err(), "redis SET")
}

func (b *SessionBackend) Delete(ctx context.Context, id string) error {
	return errors.Wrap(b.client.Del(ctx, b.prefix+id).Err(), "redis DEL")
}
