package shard

import (
	"context"
	"iter"
	"time"

	"github.com/leaguekv/leaguekv/pkg/kvlog"
	"github.com/leaguekv/leaguekv/router/statistics"
)

type instrumentedStore struct {
	Store
}

// Instrument wraps st so that every call is logged at debug level and
// accounted in per-shard latency statistics.
func Instrument(st Store) Store {
	if _, ok := st.(*instrumentedStore); ok {
		return st
	}
	return &instrumentedStore{Store: st}
}

func (s *instrumentedStore) record(op string, key string, t time.Time, err error) {
	statistics.RecordShardCall(s.Name(), t, time.Now(), err)
	ev := kvlog.Zero.Debug()
	if err != nil {
		ev = kvlog.Zero.Error().Err(err)
	}
	ev.Str("shard", s.Name()).
		Str("op", op).
		Str("key", key).
		Dur("took", time.Since(t)).
		Msg("store call")
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	t := time.Now()
	err := s.Store.Ping(ctx)
	s.record("ping", "", t, err)
	return err
}

func (s *instrumentedStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	t := time.Now()
	ret, err := s.Store.HGetAll(ctx, key)
	s.record("hgetall", key, t, err)
	return ret, err
}

func (s *instrumentedStore) HGet(ctx context.Context, key string, field string) (string, bool, error) {
	t := time.Now()
	v, ok, err := s.Store.HGet(ctx, key, field)
	s.record("hget", key, t, err)
	return v, ok, err
}

func (s *instrumentedStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	t := time.Now()
	err := s.Store.HSet(ctx, key, fields)
	s.record("hset", key, t, err)
	return err
}

func (s *instrumentedStore) HDel(ctx context.Context, key string, fields ...string) error {
	t := time.Now()
	err := s.Store.HDel(ctx, key, fields...)
	s.record("hdel", key, t, err)
	return err
}

func (s *instrumentedStore) Exists(ctx context.Context, key string) (bool, error) {
	t := time.Now()
	ok, err := s.Store.Exists(ctx, key)
	s.record("exists", key, t, err)
	return ok, err
}

func (s *instrumentedStore) Del(ctx context.Context, key string) (bool, error) {
	t := time.Now()
	ok, err := s.Store.Del(ctx, key)
	s.record("del", key, t, err)
	return ok, err
}

func (s *instrumentedStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	t := time.Now()
	ttl, err := s.Store.TTL(ctx, key)
	s.record("ttl", key, t, err)
	return ttl, err
}

func (s *instrumentedStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	t := time.Now()
	err := s.Store.Expire(ctx, key, ttl)
	s.record("expire", key, t, err)
	return err
}

func (s *instrumentedStore) SAdd(ctx context.Context, key string, members ...string) error {
	t := time.Now()
	err := s.Store.SAdd(ctx, key, members...)
	s.record("sadd", key, t, err)
	return err
}

func (s *instrumentedStore) SRem(ctx context.Context, key string, members ...string) error {
	t := time.Now()
	err := s.Store.SRem(ctx, key, members...)
	s.record("srem", key, t, err)
	return err
}

func (s *instrumentedStore) SMembers(ctx context.Context, key string) ([]string, error) {
	t := time.Now()
	ret, err := s.Store.SMembers(ctx, key)
	s.record("smembers", key, t, err)
	return ret, err
}

// Keys accounts the whole enumeration as one call, finished when the
// consumer stops.
func (s *instrumentedStore) Keys(ctx context.Context, pattern string, primaryOnly bool) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		t := time.Now()
		var lastErr error
		defer func() {
			s.record("scan", pattern, t, lastErr)
		}()
		for key, err := range s.Store.Keys(ctx, pattern, primaryOnly) {
			if err != nil {
				lastErr = err
			}
			if !yield(key, err) {
				return
			}
		}
	}
}
