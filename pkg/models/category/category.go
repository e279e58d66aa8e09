package category

import (
	"sort"
	"strings"

	"github.com/leaguekv/leaguekv/pkg/models/kverror"
	"github.com/leaguekv/leaguekv/pkg/models/topology"
)

const (
	Team                = "Team"
	Player              = "Player"
	Coach               = "Coach"
	Championship        = "Championship"
	Sponsor             = "Sponsor"
	ChampionshipTeam    = "Championship_team"
	PlayerSponsor       = "Player_sponsor"
	TeamSponsor         = "Team_sponsor"
	ChampionshipSponsor = "Championship_sponsor"
)

const (
	FieldTeamID         = "fk_team_id"
	FieldSponsorID      = "fk_sponsor_id"
	FieldChampionshipID = "fk_championship_id"
	FieldPlayerID       = "fk_player_id"
)

type ZoneRuleKind int

const (
	// ZoneByGeography splits on the first letter of a free text field: A-M vs N-Z.
	ZoneByGeography = ZoneRuleKind(iota)
	// ZoneByParentRef inherits the zone letter of a referenced record id.
	ZoneByParentRef
)

type ZoneRule struct {
	Kind  ZoneRuleKind
	Field string
}

// Mirror is a reduced copy of the record kept in another group of the same zone.
type Mirror struct {
	Group  topology.Group
	Fields []string
}

type ParentRef struct {
	Category string
	Field    string
}

type Descriptor struct {
	Name        string
	Group       topology.Group
	Zone        ZoneRule
	Fields      []string
	Mirrors     []Mirror
	Parent      *ParentRef
	UniqueField string
}

var descriptors = map[string]*Descriptor{
	Team: {
		Name:   Team,
		Group:  topology.GroupCore,
		Zone:   ZoneRule{Kind: ZoneByGeography, Field: "country"},
		Fields: []string{"country", "name", "city", "value", "created_at"},
		Mirrors: []Mirror{
			{Group: topology.GroupChampionship, Fields: []string{"name", "country"}},
			{Group: topology.GroupSponsor, Fields: []string{"name", "country"}},
		},
		UniqueField: "name",
	},
	Player: {
		Name:  Player,
		Group: topology.GroupCore,
		Zone:  ZoneRule{Kind: ZoneByParentRef, Field: FieldTeamID},
		Fields: []string{
			"first_name", "last_name", "birthyear", "position", "nationality",
			"height", "goals", "assists", FieldTeamID,
		},
		Mirrors: []Mirror{
			{Group: topology.GroupSponsor, Fields: []string{"first_name", "last_name"}},
		},
		Parent: &ParentRef{Category: Team, Field: FieldTeamID},
	},
	Coach: {
		Name:   Coach,
		Group:  topology.GroupCore,
		Zone:   ZoneRule{Kind: ZoneByParentRef, Field: FieldTeamID},
		Fields: []string{"first_name", "last_name", "nationality", "experience", FieldTeamID},
		Parent: &ParentRef{Category: Team, Field: FieldTeamID},
	},
	Championship: {
		Name:   Championship,
		Group:  topology.GroupChampionship,
		Zone:   ZoneRule{Kind: ZoneByGeography, Field: "country"},
		Fields: []string{"name", "country", "season"},
	},
	Sponsor: {
		Name:   Sponsor,
		Group:  topology.GroupSponsor,
		Zone:   ZoneRule{Kind: ZoneByGeography, Field: "country"},
		Fields: []string{"name", "country", "industry"},
	},
	ChampionshipTeam: {
		Name:   ChampionshipTeam,
		Group:  topology.GroupChampionship,
		Zone:   ZoneRule{Kind: ZoneByParentRef, Field: FieldChampionshipID},
		Fields: []string{FieldChampionshipID, FieldTeamID},
		Parent: &ParentRef{Category: Championship, Field: FieldChampionshipID},
	},
	PlayerSponsor: {
		Name:   PlayerSponsor,
		Group:  topology.GroupSponsor,
		Zone:   ZoneRule{Kind: ZoneByParentRef, Field: FieldSponsorID},
		Fields: []string{FieldSponsorID, FieldPlayerID},
		Parent: &ParentRef{Category: Sponsor, Field: FieldSponsorID},
	},
	TeamSponsor: {
		Name:   TeamSponsor,
		Group:  topology.GroupSponsor,
		Zone:   ZoneRule{Kind: ZoneByParentRef, Field: FieldSponsorID},
		Fields: []string{FieldSponsorID, FieldTeamID},
		Parent: &ParentRef{Category: Sponsor, Field: FieldSponsorID},
	},
	ChampionshipSponsor: {
		Name:   ChampionshipSponsor,
		Group:  topology.GroupSponsor,
		Zone:   ZoneRule{Kind: ZoneByParentRef, Field: FieldSponsorID},
		Fields: []string{FieldSponsorID, FieldChampionshipID},
		Parent: &ParentRef{Category: Sponsor, Field: FieldSponsorID},
	},
}

// Lookup returns the descriptor of a known category.
// The category set is closed: anything else is a configuration error.
func Lookup(name string) (*Descriptor, error) {
	d, ok := descriptors[name]
	if !ok {
		return nil, kverror.Newf(kverror.KV_CONFIGURATION_ERROR, "unknown category %q", name)
	}
	return d, nil
}

// Names lists the known categories in lexical order.
func Names() []string {
	ret := make([]string, 0, len(descriptors))
	for name := range descriptors {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// Normalize checks fields against the category layout.
// Unknown fields are rejected and absent ones are stored empty.
func (d *Descriptor) Normalize(fields map[string]string) (map[string]string, error) {
	known := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		known[f] = struct{}{}
	}
	for f := range fields {
		if _, ok := known[f]; !ok {
			return nil, kverror.Newf(kverror.KV_VALIDATION_ERROR, "unknown field %q for category %s", f, d.Name)
		}
	}

	ret := make(map[string]string, len(d.Fields))
	for _, f := range d.Fields {
		ret[f] = fields[f]
	}
	if d.Parent != nil && strings.TrimSpace(ret[d.Parent.Field]) == "" {
		return nil, kverror.Newf(kverror.KV_VALIDATION_ERROR, "field %q is required for category %s", d.Parent.Field, d.Name)
	}
	return ret, nil
}

// Project cuts the mirror subset out of a full record.
func (m Mirror) Project(fields map[string]string) map[string]string {
	ret := make(map[string]string, len(m.Fields))
	for _, f := range m.Fields {
		ret[f] = fields[f]
	}
	return ret
}

// Coordinates lists the primary shard and every mirror shard of the category in zone z.
func (d *Descriptor) Coordinates(z topology.Zone) []topology.Coordinate {
	ret := []topology.Coordinate{topology.NewCoordinate(d.Group, z)}
	for _, m := range d.Mirrors {
		ret = append(ret, topology.NewCoordinate(m.Group, z))
	}
	return ret
}
