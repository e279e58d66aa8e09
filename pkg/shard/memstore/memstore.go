// Package memstore is an in-process shard.Store. It keeps hashes and sets
// with optional expiry and follows the key-value server semantics the engine
// relies on: absent keys read as empty, emptied containers disappear, and a
// key holds one kind of value.
package memstore

import (
	"context"
	"fmt"
	"iter"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/leaguekv/leaguekv/pkg/kvlog"
	"github.com/leaguekv/leaguekv/pkg/shard"
)

type entry struct {
	hash     map[string]string
	set      map[string]struct{}
	expireAt time.Time
}

type MemStore struct {
	mu   sync.RWMutex
	name string
	data map[string]*entry
	now  func() time.Time
}

var _ shard.Store = &MemStore{}

func New(name string) *MemStore {
	kvlog.Zero.Debug().Str("shard", name).Msg("memstore: new store")
	return &MemStore{
		name: name,
		data: map[string]*entry{},
		now:  time.Now,
	}
}

// SetClock replaces the time source used for expiry.
func (m *MemStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemStore) Name() string {
	return m.name
}

func (m *MemStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// get returns a live entry. Callers hold at least the read lock.
func (m *MemStore) get(key string) *entry {
	e, ok := m.data[key]
	if !ok {
		return nil
	}
	if !e.expireAt.IsZero() && !m.now().Before(e.expireAt) {
		return nil
	}
	return e
}

func wrongType(key string) error {
	return fmt.Errorf("WRONGTYPE operation against key %s holding the wrong kind of value", key)
}

func (m *MemStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ret := map[string]string{}
	e := m.get(key)
	if e == nil {
		return ret, nil
	}
	if e.hash == nil {
		return nil, wrongType(key)
	}
	for k, v := range e.hash {
		ret[k] = v
	}
	return ret, nil
}

func (m *MemStore) HGet(_ context.Context, key string, field string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e := m.get(key)
	if e == nil {
		return "", false, nil
	}
	if e.hash == nil {
		return "", false, wrongType(key)
	}
	v, ok := e.hash[field]
	return v, ok, nil
}

func (m *MemStore) HSet(_ context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.get(key)
	if e == nil {
		e = &entry{hash: map[string]string{}}
		m.data[key] = e
	}
	if e.hash == nil {
		return wrongType(key)
	}
	for k, v := range fields {
		e.hash[k] = v
	}
	return nil
}

func (m *MemStore) HDel(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.get(key)
	if e == nil {
		return nil
	}
	if e.hash == nil {
		return wrongType(key)
	}
	for _, f := range fields {
		delete(e.hash, f)
	}
	if len(e.hash) == 0 {
		delete(m.data, key)
	}
	return nil
}

func (m *MemStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(key) != nil, nil
}

func (m *MemStore) Del(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existed := m.get(key) != nil
	delete(m.data, key)
	return existed, nil
}

func (m *MemStore) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e := m.get(key)
	if e == nil || e.expireAt.IsZero() {
		return 0, nil
	}
	return e.expireAt.Sub(m.now()), nil
}

// Expire with a non-positive ttl removes the key.
func (m *MemStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.get(key)
	if e == nil {
		return nil
	}
	if ttl <= 0 {
		delete(m.data, key)
		return nil
	}
	e.expireAt = m.now().Add(ttl)
	return nil
}

func (m *MemStore) SAdd(_ context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.get(key)
	if e == nil {
		e = &entry{set: map[string]struct{}{}}
		m.data[key] = e
	}
	if e.set == nil {
		return wrongType(key)
	}
	for _, mem := range members {
		e.set[mem] = struct{}{}
	}
	return nil
}

func (m *MemStore) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.get(key)
	if e == nil {
		return nil
	}
	if e.set == nil {
		return wrongType(key)
	}
	for _, mem := range members {
		delete(e.set, mem)
	}
	if len(e.set) == 0 {
		delete(m.data, key)
	}
	return nil
}

func (m *MemStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e := m.get(key)
	if e == nil {
		return []string{}, nil
	}
	if e.set == nil {
		return nil, wrongType(key)
	}
	ret := make([]string, 0, len(e.set))
	for mem := range e.set {
		ret = append(ret, mem)
	}
	sort.Strings(ret)
	return ret, nil
}

// Keys takes a snapshot of matching keys, so the store may be modified while
// the sequence is consumed.
func (m *MemStore) Keys(ctx context.Context, pattern string, _ bool) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if _, err := path.Match(pattern, ""); err != nil {
			yield("", err)
			return
		}

		m.mu.RLock()
		keys := make([]string, 0, len(m.data))
		for key := range m.data {
			if m.get(key) == nil {
				continue
			}
			if ok, _ := path.Match(pattern, key); ok {
				keys = append(keys, key)
			}
		}
		m.mu.RUnlock()
		sort.Strings(keys)

		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(key, nil) {
				return
			}
		}
	}
}

func (m *MemStore) Close() error {
	return nil
}
