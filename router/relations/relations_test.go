package relations_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/leaguekv/leaguekv/pkg/kvlog"
	mocksh "github.com/leaguekv/leaguekv/pkg/mock/shard"
	"github.com/leaguekv/leaguekv/pkg/models/kverror"
	"github.com/leaguekv/leaguekv/pkg/shard"
	"github.com/leaguekv/leaguekv/pkg/shard/memstore"
	"github.com/leaguekv/leaguekv/router/relations"
)

type fixture struct {
	svc    *relations.Service
	stores map[string]*memstore.MemStore
}

func newFixture() *fixture {
	core := memstore.New("entity-core")
	f := &fixture{stores: map[string]*memstore.MemStore{
		"Team":         core,
		"Player":       core,
		"Coach":        core,
		"Sponsor":      memstore.New("entity-sponsor"),
		"Championship": memstore.New("entity-championship"),
	}}
	entities := map[string]shard.Store{}
	for name, st := range f.stores {
		entities[name] = st
	}
	f.svc = relations.NewService(shard.NewDirectory(nil, entities))
	return f
}

func (f *fixture) members(t *testing.T, storeType string, key string) []string {
	t.Helper()
	ret, err := f.stores[storeType].SMembers(context.TODO(), key)
	require.NoError(t, err)
	return ret
}

func (f *fixture) put(t *testing.T, entityType, id string, fields map[string]string) {
	t.Helper()
	require.NoError(t, f.svc.Put(context.TODO(), &relations.Entity{Type: entityType, ID: id, Fields: fields}))
}

func TestPutAndRead(t *testing.T) {
	assert := assert.New(t)
	f := newFixture()
	f.put(t, "Team", "t1", map[string]string{"name": "Inter"})

	got, err := f.svc.Read(context.TODO(), "Team", "t1")
	assert.NoError(err)
	assert.Equal(map[string]string{"name": "Inter"}, got)

	f.put(t, "Team", "t1", map[string]string{"city": "Milan"})
	got, err = f.svc.Read(context.TODO(), "Team", "t1")
	assert.NoError(err)
	assert.Equal(map[string]string{"name": "Inter", "city": "Milan"}, got)

	_, err = f.svc.Read(context.TODO(), "Team", "t2")
	assert.True(kverror.IsNotFound(err))
}

func TestValidation(t *testing.T) {
	f := newFixture()
	for _, e := range []*relations.Entity{
		nil,
		{ID: "1"},
		{Type: "Team", ID: "  "},
	} {
		err := f.svc.Put(context.TODO(), e)
		assert.True(t, kverror.Is(err, kverror.KV_VALIDATION_ERROR))
	}

	err := f.svc.Put(context.TODO(), &relations.Entity{Type: "Referee", ID: "1", Fields: map[string]string{"name": "x"}})
	assert.True(t, kverror.Is(err, kverror.KV_CONFIGURATION_ERROR))

	_, err = f.svc.Read(context.TODO(), "Referee", "1")
	assert.True(t, kverror.Is(err, kverror.KV_CONFIGURATION_ERROR))
}

func TestForeignKeysAreIndexed(t *testing.T) {
	assert := assert.New(t)
	f := newFixture()

	f.put(t, "Player", "p1", map[string]string{"name": "Ada", "fk_team_id": "t1"})
	assert.Equal([]string{"p1"}, f.members(t, "Team", "Team:t1:Players"))

	f.put(t, "Player", "p2", map[string]string{
		"fk_team_id":         "t1",
		"fk_sponsor_id":      "s1",
		"fk_championship_id": "c1",
	})
	assert.ElementsMatch([]string{"p1", "p2"}, f.members(t, "Team", "Team:t1:Players"))
	assert.Equal([]string{"p2"}, f.members(t, "Sponsor", "Sponsor:s1:Players"))
	assert.Equal([]string{"p2"}, f.members(t, "Championship", "Championship:c1:Players"))

	assert.Equal([]string{"s1"}, f.members(t, "Team", "Team:t1:Sponsors"))
	assert.Equal([]string{"t1"}, f.members(t, "Sponsor", "Sponsor:s1:Teams"))
	assert.Equal([]string{"c1"}, f.members(t, "Team", "Team:t1:Championships"))
	assert.Equal([]string{"t1"}, f.members(t, "Championship", "Championship:c1:Teams"))
	assert.Equal([]string{"c1"}, f.members(t, "Sponsor", "Sponsor:s1:Championships"))
	assert.Equal([]string{"s1"}, f.members(t, "Championship", "Championship:c1:Sponsors"))
}

func TestUpdateMovesBetweenParents(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	f := newFixture()
	f.put(t, "Coach", "k1", map[string]string{"name": "Jose", "fk_team_id": "t1"})

	ok, err := f.svc.Update(ctx, "Coach", "k1", map[string]string{"fk_team_id": "t2", "fk_sponsor_id": "s1"})
	require.NoError(t, err)
	assert.True(ok)

	assert.Empty(f.members(t, "Team", "Team:t1:Coachs"))
	assert.Equal([]string{"k1"}, f.members(t, "Team", "Team:t2:Coachs"))
	assert.Equal([]string{"k1"}, f.members(t, "Sponsor", "Sponsor:s1:Coachs"))
	assert.Equal([]string{"s1"}, f.members(t, "Team", "Team:t2:Sponsors"))

	got, err := f.svc.Read(ctx, "Coach", "k1")
	assert.NoError(err)
	assert.Equal("Jose", got["name"])
	assert.Equal("t2", got["fk_team_id"])

	ok, err = f.svc.Update(ctx, "Coach", "k2", map[string]string{"name": "x"})
	assert.NoError(err)
	assert.False(ok)
	_, err = f.svc.Read(ctx, "Coach", "k2")
	assert.True(kverror.IsNotFound(err))
}

func TestDeleteChild(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	f := newFixture()
	f.put(t, "Player", "p1", map[string]string{"fk_team_id": "t1", "fk_sponsor_id": "s1"})
	f.put(t, "Player", "p2", map[string]string{"fk_team_id": "t1"})

	ok, err := f.svc.Delete(ctx, "Player", "p1")
	assert.NoError(err)
	assert.True(ok)
	assert.Equal([]string{"p2"}, f.members(t, "Team", "Team:t1:Players"))
	assert.Empty(f.members(t, "Sponsor", "Sponsor:s1:Players"))

	_, err = f.svc.Read(ctx, "Player", "p1")
	assert.True(kverror.IsNotFound(err))

	ok, err = f.svc.Delete(ctx, "Player", "p1")
	assert.NoError(err)
	assert.False(ok)
}

func TestDeleteTeamCascades(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	f := newFixture()
	f.put(t, "Team", "t1", map[string]string{"name": "Inter"})
	f.put(t, "Player", "p1", map[string]string{"name": "Ada", "fk_team_id": "t1", "fk_sponsor_id": "s1", "fk_championship_id": "c1"})
	f.put(t, "Coach", "k1", map[string]string{"name": "Jose", "fk_team_id": "t1"})
	f.put(t, "Sponsor", "s9", map[string]string{"name": "Acme", "fk_team_id": "t1"})

	ok, err := f.svc.Delete(ctx, "Team", "t1")
	require.NoError(t, err)
	assert.True(ok)

	for _, set := range []string{"Players", "Coachs", "Sponsors", "Championships"} {
		assert.Empty(f.members(t, "Team", "Team:t1:"+set), set)
	}
	assert.Empty(f.members(t, "Sponsor", "Sponsor:s1:Teams"))
	assert.Empty(f.members(t, "Championship", "Championship:c1:Teams"))

	player, err := f.svc.Read(ctx, "Player", "p1")
	require.NoError(t, err)
	assert.NotContains(player, "fk_team_id")
	assert.Equal("s1", player["fk_sponsor_id"])

	coach, err := f.svc.Read(ctx, "Coach", "k1")
	require.NoError(t, err)
	assert.Equal(map[string]string{"name": "Jose"}, coach)

	sponsor, err := f.svc.Read(ctx, "Sponsor", "s9")
	require.NoError(t, err)
	assert.Equal(map[string]string{"name": "Acme"}, sponsor)
	assert.Empty(f.members(t, "Sponsor", "Sponsor:s9:Teams"))

	// the player still belongs to its sponsor
	assert.Equal([]string{"p1"}, f.members(t, "Sponsor", "Sponsor:s1:Players"))
}

func TestDeleteSponsorCascades(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	f := newFixture()
	f.put(t, "Sponsor", "s1", map[string]string{"name": "Acme"})
	f.put(t, "Player", "p1", map[string]string{"fk_team_id": "t1", "fk_sponsor_id": "s1", "fk_championship_id": "c1"})

	ok, err := f.svc.Delete(ctx, "Sponsor", "s1")
	require.NoError(t, err)
	assert.True(ok)

	assert.Empty(f.members(t, "Team", "Team:t1:Sponsors"))
	assert.Empty(f.members(t, "Championship", "Championship:c1:Sponsors"))
	assert.Empty(f.members(t, "Sponsor", "Sponsor:s1:Players"))
	assert.Equal([]string{"c1"}, f.members(t, "Team", "Team:t1:Championships"))

	player, err := f.svc.Read(ctx, "Player", "p1")
	require.NoError(t, err)
	assert.NotContains(player, "fk_sponsor_id")
}

func TestUpdateDropsStaleParentPairs(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	f := newFixture()

	f.put(t, "Player", "p1", map[string]string{"fk_team_id": "t1", "fk_sponsor_id": "s1"})
	ok, err := f.svc.Update(ctx, "Player", "p1", map[string]string{"fk_team_id": "t2"})
	require.NoError(t, err)
	assert.True(ok)

	assert.Empty(f.members(t, "Team", "Team:t1:Sponsors"))
	assert.Equal([]string{"s1"}, f.members(t, "Team", "Team:t2:Sponsors"))
	assert.Equal([]string{"t2"}, f.members(t, "Sponsor", "Sponsor:s1:Teams"))

	// p2 still pairs t2 with s1
	f.put(t, "Player", "p2", map[string]string{"fk_team_id": "t2", "fk_sponsor_id": "s1"})
	_, err = f.svc.Update(ctx, "Player", "p1", map[string]string{"fk_team_id": "t3"})
	require.NoError(t, err)
	assert.Equal([]string{"s1"}, f.members(t, "Team", "Team:t2:Sponsors"))
	assert.ElementsMatch([]string{"t2", "t3"}, f.members(t, "Sponsor", "Sponsor:s1:Teams"))
	assert.Equal([]string{"p2"}, f.members(t, "Team", "Team:t2:Players"))
}

func TestUpdateParentTypedEntityKeepsSharedPair(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	f := newFixture()

	f.put(t, "Sponsor", "s9", map[string]string{"name": "Acme", "fk_team_id": "t5"})
	f.put(t, "Player", "p3", map[string]string{"fk_team_id": "t5", "fk_sponsor_id": "s9"})

	_, err := f.svc.Update(ctx, "Sponsor", "s9", map[string]string{"fk_team_id": "t6"})
	require.NoError(t, err)
	assert.Equal([]string{"s9"}, f.members(t, "Team", "Team:t5:Sponsors"))
	assert.Equal([]string{"s9"}, f.members(t, "Team", "Team:t6:Sponsors"))

	_, err = f.svc.Update(ctx, "Player", "p3", map[string]string{"fk_team_id": "t7"})
	require.NoError(t, err)
	assert.Empty(f.members(t, "Team", "Team:t5:Sponsors"))
	assert.Equal([]string{"s9"}, f.members(t, "Team", "Team:t7:Sponsors"))
}

func TestDeleteChildDropsParentPair(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	f := newFixture()

	f.put(t, "Player", "p1", map[string]string{"fk_team_id": "t1", "fk_championship_id": "c1"})
	f.put(t, "Coach", "k1", map[string]string{"fk_team_id": "t2", "fk_championship_id": "c1"})
	f.put(t, "Player", "p2", map[string]string{"fk_team_id": "t2", "fk_championship_id": "c1"})

	_, err := f.svc.Delete(ctx, "Player", "p1")
	require.NoError(t, err)
	_, err = f.svc.Delete(ctx, "Player", "p2")
	require.NoError(t, err)

	assert.Empty(f.members(t, "Team", "Team:t1:Championships"))
	assert.Equal([]string{"c1"}, f.members(t, "Team", "Team:t2:Championships"))
	assert.Equal([]string{"t2"}, f.members(t, "Championship", "Championship:c1:Teams"))
}

func TestFailuresAreLogged(t *testing.T) {
	ctx := context.TODO()
	var buf bytes.Buffer
	prev := kvlog.Zero
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)
	kvlog.Zero = &logger
	t.Cleanup(func() { kvlog.Zero = prev })

	ctrl := gomock.NewController(t)
	st := mocksh.NewMockStore(ctrl)
	st.EXPECT().Name().Return("entity-core").AnyTimes()
	st.EXPECT().HGetAll(gomock.Any(), "Team:t1").Return(nil, errors.New("connection reset"))
	st.EXPECT().HGetAll(gomock.Any(), "Team:t2").Return(map[string]string{}, nil)
	svc := relations.NewService(shard.NewDirectory(nil, map[string]shard.Store{"Team": st}))

	_, err := svc.Read(ctx, "Team", "t2")
	assert.True(t, kverror.IsNotFound(err))
	assert.Empty(t, buf.String())

	_, err = svc.Read(ctx, "Team", "t1")
	assert.Error(t, err)
	assert.Contains(t, buf.String(), `"shard":"entity-core"`)
	assert.Contains(t, buf.String(), `"key":"Team:t1"`)

	buf.Reset()
	_, err = svc.Delete(ctx, "Referee", "r1")
	assert.True(t, kverror.Is(err, kverror.KV_CONFIGURATION_ERROR))
	assert.Contains(t, buf.String(), `"type":"Referee"`)
	assert.Contains(t, buf.String(), `"key":"Referee:r1"`)
}
