// Package engine implements record CRUD over the zone-partitioned shards.
//
// One Engine serves every category; per-category behaviour (group, zone
// rule, mirrors, parent reference, unique field) comes from the descriptor
// table in pkg/models/category. Mirror maintenance and zone migration run as
// side effects of Create, Update and Delete.
package engine

import (
	"context"
	"iter"
	"strings"
	"time"

	"go.uber.org/atomic"

	"github.com/leaguekv/leaguekv/pkg/kvlog"
	"github.com/leaguekv/leaguekv/pkg/models/category"
	"github.com/leaguekv/leaguekv/pkg/models/kverror"
	"github.com/leaguekv/leaguekv/pkg/models/recordkey"
	"github.com/leaguekv/leaguekv/pkg/models/topology"
	"github.com/leaguekv/leaguekv/pkg/shard"
	"github.com/leaguekv/leaguekv/qdb"
	"github.com/leaguekv/leaguekv/router/partition"
)

type Record struct {
	Category string
	ID       string
	Fields   map[string]string
}

// Location tells where a record's primary copy lives.
type Location struct {
	Category string
	ID       string
	Shard    string
}

// Key is the composite storage key of the record.
func (l *Location) Key() string {
	return recordkey.StorageKey(l.Category, l.ID)
}

type Engine struct {
	dir *shard.Directory
	db  qdb.QDB
}

func NewEngine(dir *shard.Directory, db qdb.QDB) *Engine {
	return &Engine{
		dir: dir,
		db:  db,
	}
}

// logFailure logs errors that are neither expected outcomes nor caller
// mistakes, with enough context to find the key.
func logFailure(err error, st string, categoryName string, key string, msg string) error {
	if err == nil || kverror.Expected(err) {
		return err
	}
	kvlog.Zero.Error().
		Err(err).
		Str("code", kverror.Code(err)).
		Str("shard", st).
		Str("category", categoryName).
		Str("key", key).
		Msg(msg)
	return err
}

// at returns the store of a coordinate, logging a shard missing from the
// directory.
func (e *Engine) at(coord topology.Coordinate, categoryName string) (shard.Store, error) {
	st, err := e.dir.At(coord)
	if err != nil {
		return nil, logFailure(err, coord.ShardName(), categoryName, recordkey.Pattern(categoryName), "engine: shard lookup failed")
	}
	return st, nil
}

// checkParent verifies that the record referenced by the parent field exists
// in its own primary shard.
func (e *Engine) checkParent(ctx context.Context, d *category.Descriptor, fields map[string]string) error {
	if d.Parent == nil {
		return nil
	}
	parentID := fields[d.Parent.Field]
	pd, coord, err := partition.Locate(d.Parent.Category, parentID)
	if err != nil {
		return logFailure(err, "", d.Parent.Category, recordkey.StorageKey(d.Parent.Category, parentID), "engine: parent resolution failed")
	}
	st, err := e.at(coord, pd.Name)
	if err != nil {
		return err
	}
	key := recordkey.StorageKey(pd.Name, parentID)
	ok, err := st.Exists(ctx, key)
	if err != nil {
		return logFailure(err, st.Name(), pd.Name, key, "engine: parent lookup failed")
	}
	if !ok {
		return kverror.Newf(kverror.KV_NOT_FOUND, "parent not found: %s", key)
	}
	return nil
}

// Create stores a new record and its mirrors and returns where it landed.
func (e *Engine) Create(ctx context.Context, categoryName string, fields map[string]string) (*Location, error) {
	d, err := category.Lookup(categoryName)
	if err != nil {
		return nil, err
	}
	norm, err := d.Normalize(fields)
	if err != nil {
		return nil, err
	}
	coord, err := partition.Resolve(d, norm)
	if err != nil {
		return nil, logFailure(err, "", d.Name, recordkey.Pattern(d.Name), "engine: shard resolution failed")
	}
	if err := e.checkParent(ctx, d, norm); err != nil {
		return nil, err
	}
	if d.UniqueField != "" && strings.TrimSpace(norm[d.UniqueField]) != "" {
		exists, err := e.ValueExists(ctx, d.Name, coord.Zone, norm[d.UniqueField])
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, kverror.Newf(kverror.KV_CONFLICT, "%s with %s %q already exists in zone %s",
				d.Name, d.UniqueField, norm[d.UniqueField], coord.Zone)
		}
	}

	st, err := e.at(coord, d.Name)
	if err != nil {
		return nil, err
	}
	id, err := recordkey.NewID(coord.Zone)
	if err != nil {
		return nil, err
	}
	key := recordkey.StorageKey(d.Name, id)

	kvlog.Zero.Debug().
		Str("category", d.Name).
		Str("shard", st.Name()).
		Str("key", key).
		Msg("engine: create record")

	if err := st.HSet(ctx, key, norm); err != nil {
		return nil, logFailure(err, st.Name(), d.Name, key, "engine: create failed")
	}
	ok, err := st.Exists(ctx, key)
	if err != nil {
		return nil, logFailure(err, st.Name(), d.Name, key, "engine: create verification failed")
	}
	if !ok {
		return nil, logFailure(
			kverror.Newf(kverror.KV_WRITE_VERIFICATION, "record %s is absent on %s right after write", key, st.Name()),
			st.Name(), d.Name, key, "engine: create verification failed")
	}

	if err := e.writeMirrors(ctx, d, coord.Zone, id, norm); err != nil {
		return nil, err
	}
	return &Location{Category: d.Name, ID: id, Shard: st.Name()}, nil
}

// Get reads a record from the primary shard its id points to.
func (e *Engine) Get(ctx context.Context, categoryName string, id string) (*Record, error) {
	d, coord, err := partition.Locate(categoryName, id)
	if err != nil {
		return nil, logFailure(err, "", categoryName, recordkey.StorageKey(categoryName, id), "engine: shard resolution failed")
	}
	st, err := e.at(coord, d.Name)
	if err != nil {
		return nil, err
	}
	key := recordkey.StorageKey(d.Name, id)
	fields, err := st.HGetAll(ctx, key)
	if err != nil {
		return nil, logFailure(err, st.Name(), d.Name, key, "engine: read failed")
	}
	if len(fields) == 0 {
		return nil, kverror.Newf(kverror.KV_NOT_FOUND, "record %s not found on %s", key, st.Name())
	}
	return &Record{Category: d.Name, ID: id, Fields: fields}, nil
}

// List enumerates the records of a category in one zone, adding the
// synthetic "id" field. The sequence can be consumed once; there is no
// ordering guarantee.
func (e *Engine) List(ctx context.Context, categoryName string, z topology.Zone) iter.Seq2[*Record, error] {
	var consumed atomic.Bool

	return func(yield func(*Record, error) bool) {
		if consumed.Swap(true) {
			yield(nil, kverror.New(kverror.KV_UNEXPECTED, "record listing can only be consumed once"))
			return
		}
		d, err := category.Lookup(categoryName)
		if err != nil {
			yield(nil, err)
			return
		}
		st, err := e.at(topology.NewCoordinate(d.Group, z), d.Name)
		if err != nil {
			yield(nil, err)
			return
		}

		for key, err := range st.Keys(ctx, recordkey.Pattern(d.Name), false) {
			if err != nil {
				yield(nil, logFailure(err, st.Name(), d.Name, recordkey.Pattern(d.Name), "engine: scan failed"))
				return
			}
			_, id, ok := recordkey.ParseStorageKey(key)
			if !ok || id == "" || strings.Contains(id, ":") {
				continue
			}
			fields, err := st.HGetAll(ctx, key)
			if err != nil {
				yield(nil, logFailure(err, st.Name(), d.Name, key, "engine: read failed"))
				return
			}
			if len(fields) == 0 {
				// deleted while scanning
				continue
			}
			fields["id"] = id
			if !yield(&Record{Category: d.Name, ID: id, Fields: fields}, nil) {
				return
			}
		}
	}
}

// Delete removes a record and its mirrors. It reports false, without
// writing anything, when the record does not exist.
func (e *Engine) Delete(ctx context.Context, categoryName string, id string) (bool, error) {
	d, _, err := partition.Locate(categoryName, id)
	if err != nil {
		return false, logFailure(err, "", categoryName, recordkey.StorageKey(categoryName, id), "engine: shard resolution failed")
	}
	settled, err := e.settleMove(ctx, d, id)
	if err != nil {
		return false, logFailure(err, "", d.Name, recordkey.StorageKey(d.Name, id), "engine: pending move not settled")
	}
	id = settled
	z, err := partition.ZoneOfID(id)
	if err != nil {
		return false, logFailure(err, "", d.Name, recordkey.StorageKey(d.Name, id), "engine: shard resolution failed")
	}
	st, err := e.at(topology.NewCoordinate(d.Group, z), d.Name)
	if err != nil {
		return false, err
	}
	key := recordkey.StorageKey(d.Name, id)

	existed, err := st.Del(ctx, key)
	if err != nil {
		return false, logFailure(err, st.Name(), d.Name, key, "engine: delete failed")
	}
	if !existed {
		return false, nil
	}

	kvlog.Zero.Debug().
		Str("category", d.Name).
		Str("shard", st.Name()).
		Str("key", key).
		Msg("engine: deleted record")

	if err := e.deleteMirrors(ctx, d, z, id); err != nil {
		return true, err
	}
	return true, nil
}

// Update overwrites a record. When the new fields resolve to another zone the
// record migrates and the returned id differs from the one passed in; the old
// id is no longer valid then.
func (e *Engine) Update(ctx context.Context, categoryName string, id string, fields map[string]string) (string, error) {
	d, _, err := partition.Locate(categoryName, id)
	if err != nil {
		return "", logFailure(err, "", categoryName, recordkey.StorageKey(categoryName, id), "engine: shard resolution failed")
	}
	norm, err := d.Normalize(fields)
	if err != nil {
		return "", err
	}
	settled, err := e.settleMove(ctx, d, id)
	if err != nil {
		return "", logFailure(err, "", d.Name, recordkey.StorageKey(d.Name, id), "engine: pending move not settled")
	}
	id = settled

	srcZone, err := partition.ZoneOfID(id)
	if err != nil {
		return "", logFailure(err, "", d.Name, recordkey.StorageKey(d.Name, id), "engine: shard resolution failed")
	}
	st, err := e.at(topology.NewCoordinate(d.Group, srcZone), d.Name)
	if err != nil {
		return "", err
	}
	key := recordkey.StorageKey(d.Name, id)

	current, err := st.HGetAll(ctx, key)
	if err != nil {
		return "", logFailure(err, st.Name(), d.Name, key, "engine: read failed")
	}
	if len(current) == 0 {
		return "", kverror.Newf(kverror.KV_NOT_FOUND, "record %s not found on %s", key, st.Name())
	}

	tgtZone, err := partition.ResolveZone(d, norm)
	if err != nil {
		return "", logFailure(err, "", d.Name, key, "engine: shard resolution failed")
	}
	if d.Parent != nil && norm[d.Parent.Field] != current[d.Parent.Field] {
		if err := e.checkParent(ctx, d, norm); err != nil {
			return "", err
		}
	}
	if err := e.checkUniqueOnUpdate(ctx, d, current, norm, srcZone, tgtZone); err != nil {
		return "", err
	}

	if srcZone == tgtZone {
		kvlog.Zero.Debug().
			Str("category", d.Name).
			Str("shard", st.Name()).
			Str("key", key).
			Msg("engine: update record in place")

		if err := st.HSet(ctx, key, norm); err != nil {
			return "", logFailure(err, st.Name(), d.Name, key, "engine: update failed")
		}
		if err := e.writeMirrors(ctx, d, srcZone, id, norm); err != nil {
			return "", err
		}
		return id, nil
	}

	return e.move(ctx, d, id, srcZone, tgtZone, norm)
}

type PingResult = shard.PingResult

// Ping round-trips every configured store.
func (e *Engine) Ping(ctx context.Context, retries uint64, backoff time.Duration) ([]PingResult, error) {
	return e.dir.Ping(ctx, retries, backoff)
}
