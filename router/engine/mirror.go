package engine

import (
	"context"

	"github.com/leaguekv/leaguekv/pkg/models/category"
	"github.com/leaguekv/leaguekv/pkg/models/recordkey"
	"github.com/leaguekv/leaguekv/pkg/models/topology"
)

// writeMirrors overwrites the projections of a record in every mirror group
// of zone z. Writing the same projection again is harmless.
func (e *Engine) writeMirrors(ctx context.Context, d *category.Descriptor, z topology.Zone, id string, fields map[string]string) error {
	key := recordkey.StorageKey(d.Name, id)
	for _, m := range d.Mirrors {
		st, err := e.at(topology.NewCoordinate(m.Group, z), d.Name)
		if err != nil {
			return err
		}
		if err := st.HSet(ctx, key, m.Project(fields)); err != nil {
			return logFailure(err, st.Name(), d.Name, key, "engine: mirror write failed")
		}
	}
	return nil
}

// deleteMirrors removes the projections of a record from every mirror group
// of zone z. Absent mirrors are not an error.
func (e *Engine) deleteMirrors(ctx context.Context, d *category.Descriptor, z topology.Zone, id string) error {
	key := recordkey.StorageKey(d.Name, id)
	for _, m := range d.Mirrors {
		st, err := e.at(topology.NewCoordinate(m.Group, z), d.Name)
		if err != nil {
			return err
		}
		if _, err := st.Del(ctx, key); err != nil {
			return logFailure(err, st.Name(), d.Name, key, "engine: mirror delete failed")
		}
	}
	return nil
}
