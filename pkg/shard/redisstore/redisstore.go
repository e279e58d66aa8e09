package redisstore

import (
	"context"
	"iter"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/leaguekv/leaguekv/pkg/config"
	"github.com/leaguekv/leaguekv/pkg/kvlog"
	"github.com/leaguekv/leaguekv/pkg/shard"
)

const scanBatch = 256

// RedisStore serves reads and writes from the primary endpoint. Replicas are
// only consulted by key enumeration that does not ask for primaries.
type RedisStore struct {
	name     string
	primary  *redis.Client
	replicas []*redis.Client
}

var _ shard.Store = &RedisStore{}

func options(addr string, cfg *config.ShardCfg) *redis.Options {
	return &redis.Options{
		Addr:      addr,
		Password:  cfg.Passwd,
		DB:        cfg.DB,
		TLSConfig: cfg.TLSConfig,
	}
}

// New connects lazily to the hosts of cfg; no round trip is made here.
func New(name string, cfg *config.ShardCfg) (*RedisStore, error) {
	if err := cfg.InitShardTLS(); err != nil {
		return nil, err
	}
	p := cfg.Primary()
	if p == nil {
		return nil, errors.Errorf("shard %s has no primary host", name)
	}

	replicas := make([]*redis.Client, 0, len(cfg.Replicas()))
	for _, h := range cfg.Replicas() {
		replicas = append(replicas, redis.NewClient(options(h.ConnAddr, cfg)))
	}
	st := NewFromClients(name, redis.NewClient(options(p.ConnAddr, cfg)), replicas...)

	kvlog.Zero.Info().
		Str("shard", name).
		Str("primary", p.ConnAddr).
		Int("db", cfg.DB).
		Int("replicas", len(replicas)).
		Uint("store", kvlog.GetPointer(st)).
		Msg("redisstore: new store")
	return st, nil
}

func NewFromClients(name string, primary *redis.Client, replicas ...*redis.Client) *RedisStore {
	return &RedisStore{
		name:     name,
		primary:  primary,
		replicas: replicas,
	}
}

func (r *RedisStore) Name() string {
	return r.name
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.primary.Ping(ctx).Err(); err != nil {
		return errors.Wrapf(err, "ping %s primary", r.name)
	}
	for _, c := range r.replicas {
		if err := c.Ping(ctx).Err(); err != nil {
			return errors.Wrapf(err, "ping %s replica %s", r.name, c.Options().Addr)
		}
	}
	return nil
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ret, err := r.primary.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "hgetall %s on %s", key, r.name)
	}
	return ret, nil
}

func (r *RedisStore) HGet(ctx context.Context, key string, field string) (string, bool, error) {
	v, err := r.primary.HGet(ctx, key, field).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, errors.Wrapf(err, "hget %s on %s", key, r.name)
	}
	return v, true, nil
}

func (r *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, 2*len(fields))
	for k, v := range fields {
		args = append(args, k, v)
	}
	if err := r.primary.HSet(ctx, key, args...).Err(); err != nil {
		return errors.Wrapf(err, "hset %s on %s", key, r.name)
	}
	return nil
}

func (r *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := r.primary.HDel(ctx, key, fields...).Err(); err != nil {
		return errors.Wrapf(err, "hdel %s on %s", key, r.name)
	}
	return nil
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.primary.Exists(ctx, key).Result()
	if err != nil {
		return false, errors.Wrapf(err, "exists %s on %s", key, r.name)
	}
	return n > 0, nil
}

func (r *RedisStore) Del(ctx context.Context, key string) (bool, error) {
	n, err := r.primary.Del(ctx, key).Result()
	if err != nil {
		return false, errors.Wrapf(err, "del %s on %s", key, r.name)
	}
	return n > 0, nil
}

// TTL maps the server's "no expiry" and "no key" replies to 0.
func (r *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.primary.PTTL(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "pttl %s on %s", key, r.name)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.primary.PExpire(ctx, key, ttl).Err(); err != nil {
		return errors.Wrapf(err, "pexpire %s on %s", key, r.name)
	}
	return nil
}

func toArgs(members []string) []any {
	ret := make([]any, len(members))
	for i, m := range members {
		ret[i] = m
	}
	return ret
}

func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := r.primary.SAdd(ctx, key, toArgs(members)...).Err(); err != nil {
		return errors.Wrapf(err, "sadd %s on %s", key, r.name)
	}
	return nil
}

func (r *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := r.primary.SRem(ctx, key, toArgs(members)...).Err(); err != nil {
		return errors.Wrapf(err, "srem %s on %s", key, r.name)
	}
	return nil
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	ret, err := r.primary.SMembers(ctx, key).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "smembers %s on %s", key, r.name)
	}
	return ret, nil
}

// Keys runs SCAN on the primary and, unless primaryOnly is set, on every
// replica. SCAN may return a key more than once, so keys are deduplicated.
func (r *RedisStore) Keys(ctx context.Context, pattern string, primaryOnly bool) iter.Seq2[string, error] {
	clients := []*redis.Client{r.primary}
	if !primaryOnly {
		clients = append(clients, r.replicas...)
	}

	return func(yield func(string, error) bool) {
		seen := map[string]struct{}{}
		for _, c := range clients {
			it := c.Scan(ctx, 0, pattern, scanBatch).Iterator()
			for it.Next(ctx) {
				key := it.Val()
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				if !yield(key, nil) {
					return
				}
			}
			if err := it.Err(); err != nil {
				yield("", errors.Wrapf(err, "scan %s on %s (%s)", pattern, r.name, c.Options().Addr))
				return
			}
		}
	}
}

func (r *RedisStore) Close() error {
	err := r.primary.Close()
	for _, c := range r.replicas {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
