package shard

import (
	"context"
	"iter"
	"time"
)

//go:generate mockgen -source=pkg/shard/store.go -destination=pkg/mock/shard/store_mock.go -package=mock_shard

// Store is a handle on one logical database of a key-value server: the
// primary endpoint and, optionally, its replicas.
type Store interface {
	// Name is the shard name the handle was built for, e.g. DB21.
	Name() string
	Ping(ctx context.Context) error

	// HGetAll returns an empty map for an absent key.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGet(ctx context.Context, key string, field string) (string, bool, error)
	// HSet sets the given fields and leaves the other fields of the hash intact.
	HSet(ctx context.Context, key string, fields map[string]string) error
	HDel(ctx context.Context, key string, fields ...string) error

	Exists(ctx context.Context, key string) (bool, error)
	// Del reports whether the key existed.
	Del(ctx context.Context, key string) (bool, error)
	// TTL returns 0 for keys without expiry and for absent keys.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Keys enumerates keys matching a glob pattern. Each key is yielded once.
	// With primaryOnly set, replicas are not consulted.
	Keys(ctx context.Context, pattern string, primaryOnly bool) iter.Seq2[string, error]

	Close() error
}

func StoreNames(stores []Store) []string {
	ret := []string{}
	for _, st := range stores {
		ret = append(ret, st.Name())
	}
	return ret
}
