package shard

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	retry "github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/leaguekv/leaguekv/pkg/kvlog"
	"github.com/leaguekv/leaguekv/pkg/models/kverror"
	"github.com/leaguekv/leaguekv/pkg/models/topology"
)

// Directory maps shard names and generic entity types to store handles.
// It is built once and never mutated, so concurrent lookups need no locking.
type Directory struct {
	shards   map[string]Store
	entities map[string]Store
}

func NewDirectory(shards map[string]Store, entities map[string]Store) *Directory {
	d := &Directory{
		shards:   make(map[string]Store, len(shards)),
		entities: make(map[string]Store, len(entities)),
	}
	for name, st := range shards {
		d.shards[name] = st
	}
	for name, st := range entities {
		d.entities[name] = st
	}
	return d
}

// Shard returns the handle registered under name, e.g. DB12.
func (d *Directory) Shard(name string) (Store, error) {
	st, ok := d.shards[name]
	if !ok {
		return nil, kverror.Newf(kverror.KV_CONFIGURATION_ERROR, "shard %s is not configured", name)
	}
	return st, nil
}

func (d *Directory) At(c topology.Coordinate) (Store, error) {
	return d.Shard(c.ShardName())
}

// Entity returns the store of a generic entity type.
func (d *Directory) Entity(entityType string) (Store, error) {
	st, ok := d.entities[entityType]
	if !ok {
		return nil, kverror.Newf(kverror.KV_CONFIGURATION_ERROR, "entity type %s has no configured store", entityType)
	}
	return st, nil
}

func (d *Directory) ShardNames() []string {
	ret := make([]string, 0, len(d.shards))
	for name := range d.shards {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

func (d *Directory) EntityTypes() []string {
	ret := make([]string, 0, len(d.entities))
	for name := range d.entities {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

type PingResult struct {
	Name string
	RTT  time.Duration
	Err  error
}

// Ping checks every shard and entity store concurrently, retrying each one
// with fibonacci backoff. Results are sorted by name; the returned error is
// the first failure, if any.
func (d *Directory) Ping(ctx context.Context, retries uint64, backoff time.Duration) ([]PingResult, error) {
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	targets := make(map[string]Store, len(d.shards)+len(d.entities))
	for name, st := range d.shards {
		targets[name] = st
	}
	for name, st := range d.entities {
		targets["entity:"+name] = st
	}

	var (
		g   errgroup.Group
		mu  sync.Mutex
		ret = make([]PingResult, 0, len(targets))
	)
	for name, st := range targets {
		g.Go(func() error {
			var rtt time.Duration
			err := retry.Do(ctx, retry.WithMaxRetries(retries, retry.NewFibonacci(backoff)), func(ctx context.Context) error {
				t := time.Now()
				if err := st.Ping(ctx); err != nil {
					kvlog.Zero.Debug().Str("shard", name).Err(err).Msg("ping failed, retrying")
					return retry.RetryableError(err)
				}
				rtt = time.Since(t)
				return nil
			})

			mu.Lock()
			ret = append(ret, PingResult{Name: name, RTT: rtt, Err: err})
			mu.Unlock()

			if err != nil {
				return kverror.Newf(kverror.KV_UNEXPECTED, "shard %s is unreachable: %v", name, err)
			}
			return nil
		})
	}
	err := g.Wait()

	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret, err
}

// Close closes every distinct handle once.
func (d *Directory) Close() error {
	seen := map[Store]struct{}{}
	var errs []error
	for _, m := range []map[string]Store{d.shards, d.entities} {
		for _, st := range m {
			if _, ok := seen[st]; ok {
				continue
			}
			seen[st] = struct{}{}
			if err := st.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
