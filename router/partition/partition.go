// Package partition computes shard coordinates for records.
//
// Every function here is pure: resolution never touches a store, so callers
// can decide placement before any network round trip.
package partition

import (
	"strings"

	"github.com/leaguekv/leaguekv/pkg/models/category"
	"github.com/leaguekv/leaguekv/pkg/models/kverror"
	"github.com/leaguekv/leaguekv/pkg/models/topology"
)

func ResolveGroup(categoryName string) (topology.Group, error) {
	d, err := category.Lookup(categoryName)
	if err != nil {
		return "", err
	}
	return d.Group, nil
}

// ResolveZone applies the category zone rule to the record fields.
func ResolveZone(d *category.Descriptor, fields map[string]string) (topology.Zone, error) {
	v := fields[d.Zone.Field]
	switch d.Zone.Kind {
	case category.ZoneByGeography:
		return ZoneFromGeography(v), nil
	case category.ZoneByParentRef:
		return ZoneOfID(v)
	default:
		return 0, kverror.Newf(kverror.KV_CONFIGURATION_ERROR, "category %s has unknown zone rule %d", d.Name, d.Zone.Kind)
	}
}

// Resolve returns the primary shard coordinate of a record.
func Resolve(d *category.Descriptor, fields map[string]string) (topology.Coordinate, error) {
	z, err := ResolveZone(d, fields)
	if err != nil {
		return topology.Coordinate{}, err
	}
	return topology.NewCoordinate(d.Group, z), nil
}

// ZoneFromGeography maps A-M to zone 1 and N-Z to zone 2, case-insensitively.
// Empty values and values not starting with a latin letter land in zone 1.
func ZoneFromGeography(value string) topology.Zone {
	value = strings.TrimSpace(value)
	if value == "" {
		return topology.ZoneOne
	}
	c := value[0]
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	if c >= 'N' && c <= 'Z' {
		return topology.ZoneTwo
	}
	return topology.ZoneOne
}

// ZoneOfID reads the zone letter of a record id.
func ZoneOfID(id string) (topology.Zone, error) {
	if id == "" {
		return 0, kverror.New(kverror.KV_RESOLUTION_ERROR, "empty id has no zone prefix")
	}
	z, ok := topology.ZoneFromLetter(id[0])
	if !ok {
		return 0, kverror.Newf(kverror.KV_RESOLUTION_ERROR, "unknown id prefix %q in %q, expected 'A' or 'B'", id[0], id)
	}
	return z, nil
}

// Locate returns the primary shard coordinate of an existing record from its id.
func Locate(categoryName string, id string) (*category.Descriptor, topology.Coordinate, error) {
	d, err := category.Lookup(categoryName)
	if err != nil {
		return nil, topology.Coordinate{}, err
	}
	z, err := ZoneOfID(id)
	if err != nil {
		return nil, topology.Coordinate{}, err
	}
	return d, topology.NewCoordinate(d.Group, z), nil
}
