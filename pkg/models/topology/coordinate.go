package topology

import (
	"strconv"

	"github.com/leaguekv/leaguekv/pkg/models/kverror"
)

// Group is the vertical partitioning dimension, fixed per category.
type Group string

const (
	GroupChampionship = Group("1")
	GroupCore         = Group("2")
	GroupSponsor      = Group("3")
)

func (g Group) Valid() bool {
	switch g {
	case GroupChampionship, GroupCore, GroupSponsor:
		return true
	default:
		return false
	}
}

// Zone is the horizontal partitioning dimension.
type Zone int

const (
	ZoneOne = Zone(1)
	ZoneTwo = Zone(2)
)

var Zones = []Zone{ZoneOne, ZoneTwo}

func (z Zone) Valid() bool {
	return z == ZoneOne || z == ZoneTwo
}

// Letter is the leading character of ids living in this zone.
func (z Zone) Letter() byte {
	if z == ZoneTwo {
		return 'B'
	}
	return 'A'
}

func (z Zone) String() string {
	return strconv.Itoa(int(z))
}

// ZoneFromLetter maps an upper case zone letter back to its zone.
func ZoneFromLetter(c byte) (Zone, bool) {
	switch c {
	case 'A':
		return ZoneOne, true
	case 'B':
		return ZoneTwo, true
	default:
		return 0, false
	}
}

// Coordinate addresses one shard.
type Coordinate struct {
	Group Group
	Zone  Zone
}

func NewCoordinate(g Group, z Zone) Coordinate {
	return Coordinate{Group: g, Zone: z}
}

func (c Coordinate) ShardName() string {
	return "DB" + string(c.Group) + c.Zone.String()
}

func (c Coordinate) String() string {
	return c.ShardName()
}

func (c Coordinate) WithZone(z Zone) Coordinate {
	return Coordinate{Group: c.Group, Zone: z}
}

func (c Coordinate) WithGroup(g Group) Coordinate {
	return Coordinate{Group: g, Zone: c.Zone}
}

// ParseShardName is the inverse of ShardName.
func ParseShardName(name string) (Coordinate, error) {
	if len(name) != 4 || name[:2] != "DB" {
		return Coordinate{}, kverror.Newf(kverror.KV_CONFIGURATION_ERROR, "malformed shard name %q", name)
	}
	g := Group(name[2:3])
	if !g.Valid() {
		return Coordinate{}, kverror.Newf(kverror.KV_CONFIGURATION_ERROR, "unknown group %q in shard name %q", g, name)
	}
	z, err := strconv.Atoi(name[3:])
	if err != nil || !Zone(z).Valid() {
		return Coordinate{}, kverror.Newf(kverror.KV_CONFIGURATION_ERROR, "unknown zone in shard name %q", name)
	}
	return Coordinate{Group: g, Zone: Zone(z)}, nil
}

// AllCoordinates lists every shard of the topology, group-major.
func AllCoordinates() []Coordinate {
	var ret []Coordinate
	for _, g := range []Group{GroupChampionship, GroupCore, GroupSponsor} {
		for _, z := range Zones {
			ret = append(ret, Coordinate{Group: g, Zone: z})
		}
	}
	return ret
}
