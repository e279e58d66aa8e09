package builder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leaguekv/leaguekv/pkg/config"
	"github.com/leaguekv/leaguekv/pkg/kvlog"
	"github.com/leaguekv/leaguekv/pkg/models/category"
	"github.com/leaguekv/leaguekv/pkg/models/kverror"
	"github.com/leaguekv/leaguekv/pkg/models/topology"
	"github.com/leaguekv/leaguekv/pkg/shard"
	"github.com/leaguekv/leaguekv/pkg/shard/memstore"
	"github.com/leaguekv/leaguekv/pkg/shard/redisstore"
)

func newStore(storeType config.StoreType, name string, cfg *config.ShardCfg) (shard.Store, error) {
	switch storeType {
	case config.StoreTypeMem:
		return memstore.New(name), nil
	case config.StoreTypeRedis:
		return redisstore.New(name, cfg)
	default:
		return nil, kverror.Newf(kverror.KV_CONFIGURATION_ERROR, "unknown store type %q", storeType)
	}
}

// Build opens a store per configured shard and per entity database index and
// checks that every shard the category table needs is present. Stores are
// wrapped with call statistics.
//
// The in-memory store type serves every shard coordinate whether configured
// or not.
func Build(cfg *config.Router) (*shard.Directory, error) {
	names := make([]string, 0, len(cfg.Shards))
	for name := range cfg.Shards {
		names = append(names, name)
	}
	if cfg.StoreType == config.StoreTypeMem {
		for _, c := range topology.AllCoordinates() {
			if _, ok := cfg.Shards[c.ShardName()]; !ok {
				names = append(names, c.ShardName())
			}
		}
	}
	sort.Strings(names)

	shards := make(map[string]shard.Store, len(names))
	entities := map[string]shard.Store{}
	cleanup := func() {
		_ = shard.NewDirectory(shards, entities).Close()
	}

	for _, name := range names {
		if _, err := topology.ParseShardName(name); err != nil {
			cleanup()
			return nil, err
		}
		sh := cfg.Shards[name]
		if sh == nil {
			sh = &config.ShardCfg{}
		}
		st, err := newStore(cfg.StoreType, name, sh)
		if err != nil {
			cleanup()
			return nil, err
		}
		shards[name] = shard.Instrument(st)
	}

	// entity types sharing a database index share the handle
	byIndex := map[int]shard.Store{}
	entityTypes := make([]string, 0, len(cfg.EntityStore.Databases))
	for t := range cfg.EntityStore.Databases {
		entityTypes = append(entityTypes, t)
	}
	sort.Strings(entityTypes)

	for _, t := range entityTypes {
		sh, _ := cfg.EntityStore.ShardFor(t)
		if st, ok := byIndex[sh.DB]; ok {
			entities[t] = st
			continue
		}
		st, err := newStore(cfg.StoreType, fmt.Sprintf("entity-db%d", sh.DB), sh)
		if err != nil {
			cleanup()
			return nil, err
		}
		byIndex[sh.DB] = shard.Instrument(st)
		entities[t] = byIndex[sh.DB]
	}

	if missing := MissingShards(shards); len(missing) > 0 {
		cleanup()
		return nil, kverror.Newf(kverror.KV_CONFIGURATION_ERROR,
			"shards required by the category table are not configured: %s", strings.Join(missing, ", "))
	}

	kvlog.Zero.Info().
		Str("store-type", string(cfg.StoreType)).
		Strs("shards", names).
		Strs("entities", entityTypes).
		Msg("builder: shard directory is ready")

	return shard.NewDirectory(shards, entities), nil
}

// MissingShards lists, in order, the primary and mirror shards used by some
// category that have no store.
func MissingShards(shards map[string]shard.Store) []string {
	seen := map[string]struct{}{}
	var ret []string
	for _, name := range category.Names() {
		d, err := category.Lookup(name)
		if err != nil {
			continue
		}
		for _, z := range topology.Zones {
			for _, c := range d.Coordinates(z) {
				sn := c.ShardName()
				if _, ok := shards[sn]; ok {
					continue
				}
				if _, ok := seen[sn]; ok {
					continue
				}
				seen[sn] = struct{}{}
				ret = append(ret, sn)
			}
		}
	}
	sort.Strings(ret)
	return ret
}
