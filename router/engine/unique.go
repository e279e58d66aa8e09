package engine

import (
	"context"
	"strings"

	"github.com/leaguekv/leaguekv/pkg/kvlog"
	"github.com/leaguekv/leaguekv/pkg/models/category"
	"github.com/leaguekv/leaguekv/pkg/models/kverror"
	"github.com/leaguekv/leaguekv/pkg/models/recordkey"
	"github.com/leaguekv/leaguekv/pkg/models/topology"
)

// ValueExists reports whether some record of the category in zone z has
// value in its unique field, comparing trimmed values case-insensitively.
//
// This is a full scan of the primary endpoint; it is only affordable because
// a shard holds few records of a category.
func (e *Engine) ValueExists(ctx context.Context, categoryName string, z topology.Zone, value string) (bool, error) {
	d, err := category.Lookup(categoryName)
	if err != nil {
		return false, err
	}
	if d.UniqueField == "" {
		return false, kverror.Newf(kverror.KV_CONFIGURATION_ERROR, "category %s has no unique field", d.Name)
	}
	st, err := e.at(topology.NewCoordinate(d.Group, z), d.Name)
	if err != nil {
		return false, err
	}
	want := strings.TrimSpace(value)

	for key, err := range st.Keys(ctx, recordkey.Pattern(d.Name), true) {
		if err != nil {
			return false, logFailure(err, st.Name(), d.Name, recordkey.Pattern(d.Name), "engine: unique scan failed")
		}
		if _, id, ok := recordkey.ParseStorageKey(key); !ok || strings.Contains(id, ":") {
			continue
		}
		got, ok, err := st.HGet(ctx, key, d.UniqueField)
		if err != nil {
			return false, logFailure(err, st.Name(), d.Name, key, "engine: unique scan failed")
		}
		if ok && strings.EqualFold(strings.TrimSpace(got), want) {
			kvlog.Zero.Debug().
				Str("category", d.Name).
				Str("shard", st.Name()).
				Str("key", key).
				Str("value", want).
				Msg("engine: unique value taken")
			return true, nil
		}
	}
	return false, nil
}

// checkUniqueOnUpdate rejects an update that would give the record a unique
// value already used in the zone it ends up in. Nothing is checked when
// neither the value nor the zone changes.
func (e *Engine) checkUniqueOnUpdate(ctx context.Context, d *category.Descriptor, current, next map[string]string, srcZone, tgtZone topology.Zone) error {
	if d.UniqueField == "" {
		return nil
	}
	value := next[d.UniqueField]
	if strings.TrimSpace(value) == "" {
		return nil
	}
	changed := !strings.EqualFold(strings.TrimSpace(current[d.UniqueField]), strings.TrimSpace(value))
	if !changed && srcZone == tgtZone {
		return nil
	}
	exists, err := e.ValueExists(ctx, d.Name, tgtZone, value)
	if err != nil {
		return err
	}
	if exists {
		return kverror.Newf(kverror.KV_CONFLICT, "%s with %s %q already exists in zone %s", d.Name, d.UniqueField, value, tgtZone)
	}
	return nil
}
