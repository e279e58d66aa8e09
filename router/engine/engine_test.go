package engine_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/leaguekv/leaguekv/pkg/kvlog"
	mocksh "github.com/leaguekv/leaguekv/pkg/mock/shard"
	"github.com/leaguekv/leaguekv/pkg/models/category"
	"github.com/leaguekv/leaguekv/pkg/models/kverror"
	"github.com/leaguekv/leaguekv/pkg/models/recordkey"
	"github.com/leaguekv/leaguekv/pkg/models/topology"
	"github.com/leaguekv/leaguekv/pkg/shard"
	"github.com/leaguekv/leaguekv/pkg/shard/memstore"
	"github.com/leaguekv/leaguekv/qdb"
	"github.com/leaguekv/leaguekv/router/engine"
)

type testEnv struct {
	eng    *engine.Engine
	stores map[string]*memstore.MemStore
	db     *qdb.MemQDB
}

func newTestEnv(t *testing.T) *testEnv {
	return newWrappedTestEnv(t, nil)
}

// newWrappedTestEnv backs every shard with a memstore; wrap, when set, may
// put a failure-injecting store in front of it.
func newWrappedTestEnv(t *testing.T, wrap func(st *memstore.MemStore) shard.Store) *testEnv {
	t.Helper()
	env := &testEnv{stores: map[string]*memstore.MemStore{}}
	shards := map[string]shard.Store{}
	for _, c := range topology.AllCoordinates() {
		st := memstore.New(c.ShardName())
		env.stores[c.ShardName()] = st
		shards[c.ShardName()] = st
		if wrap != nil {
			shards[c.ShardName()] = wrap(st)
		}
	}
	db, err := qdb.NewMemQDB("")
	require.NoError(t, err)
	env.db = db
	env.eng = engine.NewEngine(shard.NewDirectory(shards, nil), db)
	return env
}

func (env *testEnv) hash(t *testing.T, shardName string, key string) map[string]string {
	t.Helper()
	fields, err := env.stores[shardName].HGetAll(context.TODO(), key)
	require.NoError(t, err)
	return fields
}

func (env *testEnv) exists(t *testing.T, shardName string, key string) bool {
	t.Helper()
	ok, err := env.stores[shardName].Exists(context.TODO(), key)
	require.NoError(t, err)
	return ok
}

// snapshot dumps every key of every shard.
func (env *testEnv) snapshot(t *testing.T) map[string]map[string]string {
	t.Helper()
	ret := map[string]map[string]string{}
	for name, st := range env.stores {
		for key, err := range st.Keys(context.TODO(), "*", false) {
			require.NoError(t, err)
			fields, err := st.HGetAll(context.TODO(), key)
			require.NoError(t, err)
			ret[name+"/"+key] = fields
		}
	}
	return ret
}

func (env *testEnv) createTeam(t *testing.T, name, country string) *engine.Location {
	t.Helper()
	loc, err := env.eng.Create(context.TODO(), category.Team, map[string]string{
		"name":    name,
		"country": country,
		"city":    "somewhere",
	})
	require.NoError(t, err)
	return loc
}

func TestCreateTeamZoneFromCountry(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t)

	spain := env.createTeam(t, "Sevilla", "Spain")
	assert.Equal(byte('B'), spain.ID[0])
	assert.Equal("DB22", spain.Shard)
	assert.Equal("Team:"+spain.ID, spain.Key())

	italy := env.createTeam(t, "Inter", "italy")
	assert.Equal(byte('A'), italy.ID[0])
	assert.Equal("DB21", italy.Shard)

	assert.Equal("Sevilla", env.hash(t, "DB22", spain.Key())["name"])
	assert.Equal("", env.hash(t, "DB22", spain.Key())["value"])

	for _, mirror := range []string{"DB12", "DB32"} {
		assert.Equal(map[string]string{"name": "Sevilla", "country": "Spain"}, env.hash(t, mirror, spain.Key()))
	}
	for _, mirror := range []string{"DB11", "DB31"} {
		assert.Equal(map[string]string{"name": "Inter", "country": "italy"}, env.hash(t, mirror, italy.Key()))
	}
}

func TestCreateValidation(t *testing.T) {
	ctx := context.TODO()
	env := newTestEnv(t)

	for _, tt := range []struct {
		name     string
		category string
		fields   map[string]string
		code     string
	}{
		{
			name:     "unknown category",
			category: "Referee",
			fields:   map[string]string{"name": "x"},
			code:     kverror.KV_CONFIGURATION_ERROR,
		},
		{
			name:     "unknown field",
			category: category.Team,
			fields:   map[string]string{"name": "x", "stadium": "y"},
			code:     kverror.KV_VALIDATION_ERROR,
		},
		{
			name:     "missing parent reference",
			category: category.Player,
			fields:   map[string]string{"first_name": "Ada"},
			code:     kverror.KV_VALIDATION_ERROR,
		},
		{
			name:     "unknown id prefix",
			category: category.Player,
			fields:   map[string]string{"first_name": "Ada", "fk_team_id": "X0000000"},
			code:     kverror.KV_RESOLUTION_ERROR,
		},
		{
			name:     "parent not found",
			category: category.Player,
			fields:   map[string]string{"first_name": "Ada", "fk_team_id": "A0000000"},
			code:     kverror.KV_NOT_FOUND,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.eng.Create(ctx, tt.category, tt.fields)
			assert.True(t, kverror.Is(err, tt.code), "got %v", err)
		})
	}
	assert.Empty(t, env.snapshot(t))
}

func TestCreatePlayerFollowsTeamZone(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t)

	team := env.createTeam(t, "Porto", "Portugal")
	player, err := env.eng.Create(context.TODO(), category.Player, map[string]string{
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"fk_team_id": team.ID,
	})
	require.NoError(t, err)

	assert.Equal(byte('B'), player.ID[0])
	assert.Equal("DB22", player.Shard)
	assert.Equal(map[string]string{"first_name": "Ada", "last_name": "Lovelace"}, env.hash(t, "DB32", player.Key()))
	assert.False(env.exists(t, "DB12", player.Key()))

	coach, err := env.eng.Create(context.TODO(), category.Coach, map[string]string{
		"first_name": "Jose",
		"fk_team_id": team.ID,
	})
	require.NoError(t, err)
	assert.Equal("DB22", coach.Shard)
	assert.False(env.exists(t, "DB32", coach.Key()))
}

func TestCreateDuplicateTeamName(t *testing.T) {
	env := newTestEnv(t)
	env.createTeam(t, "Inter", "Italy")

	before := env.snapshot(t)
	_, err := env.eng.Create(context.TODO(), category.Team, map[string]string{"name": "  inter ", "country": "Germany"})
	assert.True(t, kverror.IsConflict(err))
	assert.Equal(t, before, env.snapshot(t))

	// other zone, other scan
	_, err = env.eng.Create(context.TODO(), category.Team, map[string]string{"name": "Inter", "country": "Norway"})
	assert.NoError(t, err)
}

func TestGet(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t)
	team := env.createTeam(t, "Ajax", "Netherlands")

	rec, err := env.eng.Get(context.TODO(), category.Team, team.ID)
	assert.NoError(err)
	assert.Equal(team.ID, rec.ID)
	assert.Equal("Ajax", rec.Fields["name"])

	_, err = env.eng.Get(context.TODO(), category.Team, recordkey.FlipZoneLetter(team.ID))
	assert.True(kverror.IsNotFound(err))

	_, err = env.eng.Get(context.TODO(), category.Team, "Z123")
	assert.True(kverror.Is(err, kverror.KV_RESOLUTION_ERROR))
}

func TestList(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	env := newTestEnv(t)

	a := env.createTeam(t, "Inter", "Italy")
	b := env.createTeam(t, "Milan", "Italy")
	env.createTeam(t, "Sevilla", "Spain")
	require.NoError(t, env.stores["DB21"].SAdd(ctx, recordkey.RelationKey(category.Team, a.ID, category.Player), "A1"))

	got := map[string]string{}
	for rec, err := range env.eng.List(ctx, category.Team, topology.ZoneOne) {
		require.NoError(t, err)
		assert.Equal(rec.ID, rec.Fields["id"])
		got[rec.ID] = rec.Fields["name"]
	}
	assert.Equal(map[string]string{a.ID: "Inter", b.ID: "Milan"}, got)
}

func TestListConsumedOnce(t *testing.T) {
	env := newTestEnv(t)
	env.createTeam(t, "Inter", "Italy")

	seq := env.eng.List(context.TODO(), category.Team, topology.ZoneOne)
	n := 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 1, n)

	for rec, err := range seq {
		assert.Nil(t, rec)
		assert.Error(t, err)
	}
}

func TestDeleteCascadesToMirrors(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t)
	team := env.createTeam(t, "Inter", "Italy")

	ok, err := env.eng.Delete(context.TODO(), category.Team, team.ID)
	assert.NoError(err)
	assert.True(ok)
	for _, name := range []string{"DB11", "DB21", "DB31"} {
		assert.False(env.exists(t, name, team.Key()), name)
	}

	ok, err = env.eng.Delete(context.TODO(), category.Team, team.ID)
	assert.NoError(err)
	assert.False(ok)
}

func TestDeleteAbsentWritesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.TODO()

	primary := mocksh.NewMockStore(ctrl)
	primary.EXPECT().Del(gomock.Any(), "Team:A0000001").Return(false, nil)
	mirror1 := mocksh.NewMockStore(ctrl)
	mirror3 := mocksh.NewMockStore(ctrl)

	db, err := qdb.NewMemQDB("")
	require.NoError(t, err)
	eng := engine.NewEngine(shard.NewDirectory(map[string]shard.Store{
		"DB21": primary,
		"DB11": mirror1,
		"DB31": mirror3,
	}, nil), db)

	ok, err := eng.Delete(ctx, category.Team, "A0000001")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateWriteVerification(t *testing.T) {
	ctrl := gomock.NewController(t)

	st := mocksh.NewMockStore(ctrl)
	st.EXPECT().Name().Return("DB12").AnyTimes()
	st.EXPECT().HSet(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, nil)

	db, err := qdb.NewMemQDB("")
	require.NoError(t, err)
	eng := engine.NewEngine(shard.NewDirectory(map[string]shard.Store{"DB12": st}, nil), db)

	_, err = eng.Create(context.TODO(), category.Championship, map[string]string{"name": "Liga", "country": "Portugal"})
	assert.True(t, kverror.Is(err, kverror.KV_WRITE_VERIFICATION))
}

func TestUpdateStayKeepsID(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t)
	team := env.createTeam(t, "Inter", "Italy")

	id, err := env.eng.Update(context.TODO(), category.Team, team.ID, map[string]string{
		"name":    "Internazionale",
		"country": "Italy",
		"value":   "100",
	})
	require.NoError(t, err)
	assert.Equal(team.ID, id)

	rec := env.hash(t, "DB21", team.Key())
	assert.Equal("Internazionale", rec["name"])
	assert.Equal("100", rec["value"])
	assert.Equal("", rec["city"])
	for _, mirror := range []string{"DB11", "DB31"} {
		assert.Equal(map[string]string{"name": "Internazionale", "country": "Italy"}, env.hash(t, mirror, team.Key()))
	}
}

func TestUpdateAbsentRecord(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.eng.Update(context.TODO(), category.Team, "A0000001", map[string]string{"name": "x", "country": "Spain"})
	assert.True(t, kverror.IsNotFound(err))
	assert.Empty(t, env.snapshot(t))
}

func TestUpdatePlayerMovesWithTeam(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	env := newTestEnv(t)

	teamA := env.createTeam(t, "Inter", "Italy")
	teamB := env.createTeam(t, "Sevilla", "Spain")
	player, err := env.eng.Create(ctx, category.Player, map[string]string{
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"goals":      "3",
		"fk_team_id": teamA.ID,
	})
	require.NoError(t, err)
	require.NoError(t, env.stores["DB21"].Expire(ctx, player.Key(), time.Hour))

	newID, err := env.eng.Update(ctx, category.Player, player.ID, map[string]string{
		"first_name": "Ada",
		"last_name":  "Byron",
		"goals":      "4",
		"fk_team_id": teamB.ID,
	})
	require.NoError(t, err)

	assert.Equal(byte('B'), newID[0])
	assert.Equal(player.ID[1:], newID[1:])
	assert.Equal(recordkey.FlipZoneLetter(player.ID), newID)

	oldKey := player.Key()
	newKey := recordkey.StorageKey(category.Player, newID)
	assert.False(env.exists(t, "DB21", oldKey))
	assert.False(env.exists(t, "DB31", oldKey))

	moved := env.hash(t, "DB22", newKey)
	assert.Equal("Byron", moved["last_name"])
	assert.Equal("4", moved["goals"])
	assert.Equal(teamB.ID, moved["fk_team_id"])
	assert.Equal(map[string]string{"first_name": "Ada", "last_name": "Byron"}, env.hash(t, "DB32", newKey))

	ttl, err := env.stores["DB22"].TTL(ctx, newKey)
	assert.NoError(err)
	assert.Greater(ttl, 59*time.Minute)

	moves, err := env.eng.ListMoves(ctx)
	assert.NoError(err)
	assert.Empty(moves)
}

func TestUpdateTeamCountryMovesMirrors(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t)
	team := env.createTeam(t, "Inter", "Italy")

	newID, err := env.eng.Update(context.TODO(), category.Team, team.ID, map[string]string{
		"name":    "Inter",
		"country": "Spain",
	})
	require.NoError(t, err)
	newKey := recordkey.StorageKey(category.Team, newID)

	for _, name := range []string{"DB11", "DB21", "DB31"} {
		assert.False(env.exists(t, name, team.Key()), name)
	}
	assert.Equal("Spain", env.hash(t, "DB22", newKey)["country"])
	for _, name := range []string{"DB12", "DB32"} {
		assert.Equal(map[string]string{"name": "Inter", "country": "Spain"}, env.hash(t, name, newKey), name)
	}
}

func TestUpdateTeamNameConflict(t *testing.T) {
	env := newTestEnv(t)
	env.createTeam(t, "Inter", "Italy")
	milan := env.createTeam(t, "Milan", "Italy")
	env.createTeam(t, "Sevilla", "Spain")

	before := env.snapshot(t)

	_, err := env.eng.Update(context.TODO(), category.Team, milan.ID, map[string]string{"name": "INTER", "country": "Italy"})
	assert.True(t, kverror.IsConflict(err))

	_, err = env.eng.Update(context.TODO(), category.Team, milan.ID, map[string]string{"name": "sevilla", "country": "Spain"})
	assert.True(t, kverror.IsConflict(err))

	assert.Equal(t, before, env.snapshot(t))
}

func TestUpdatePlayerToMissingTeam(t *testing.T) {
	ctx := context.TODO()
	env := newTestEnv(t)
	team := env.createTeam(t, "Inter", "Italy")
	player, err := env.eng.Create(ctx, category.Player, map[string]string{"first_name": "Ada", "fk_team_id": team.ID})
	require.NoError(t, err)

	before := env.snapshot(t)
	_, err = env.eng.Update(ctx, category.Player, player.ID, map[string]string{"first_name": "Ada", "fk_team_id": "B0000001"})
	assert.True(t, kverror.IsNotFound(err))
	assert.Equal(t, before, env.snapshot(t))
}

func TestValueExists(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t)
	env.createTeam(t, "Inter", "Italy")

	for value, want := range map[string]bool{
		"Inter":    true,
		" inTER  ": true,
		"Inter2":   false,
		"":         false,
	} {
		ok, err := env.eng.ValueExists(context.TODO(), category.Team, topology.ZoneOne, value)
		assert.NoError(err)
		assert.Equal(want, ok, value)
	}

	ok, err := env.eng.ValueExists(context.TODO(), category.Team, topology.ZoneTwo, "Inter")
	assert.NoError(err)
	assert.False(ok)

	_, err = env.eng.ValueExists(context.TODO(), category.Player, topology.ZoneOne, "Ada")
	assert.True(kverror.Is(err, kverror.KV_CONFIGURATION_ERROR))
}

func TestPing(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.eng.Ping(context.TODO(), 1, time.Millisecond)
	assert.NoError(t, err)
	assert.Len(t, res, 6)
	assert.Equal(t, "DB11", res[0].Name)
}

func TestMirrorWritesAndDeletesAreIdempotent(t *testing.T) {
	ctx := context.TODO()

	for _, tt := range []struct {
		name     string
		category string
		primary  string
		mirrors  []string
		create   func(t *testing.T, env *testEnv) map[string]string
		update   map[string]string
		project  map[string]string
	}{
		{
			name:     "team",
			category: category.Team,
			primary:  "DB21",
			mirrors:  []string{"DB11", "DB31"},
			create: func(t *testing.T, env *testEnv) map[string]string {
				return map[string]string{"name": "Inter", "country": "Italy", "city": "Milan"}
			},
			update:  map[string]string{"name": "Inter", "country": "Italy", "city": "Milano"},
			project: map[string]string{"name": "Inter", "country": "Italy"},
		},
		{
			name:     "player",
			category: category.Player,
			primary:  "DB21",
			mirrors:  []string{"DB31"},
			create: func(t *testing.T, env *testEnv) map[string]string {
				team := env.createTeam(t, "Inter", "Italy")
				return map[string]string{"first_name": "Ada", "last_name": "Lovelace", "fk_team_id": team.ID}
			},
			update:  map[string]string{"first_name": "Ada", "last_name": "King"},
			project: map[string]string{"first_name": "Ada", "last_name": "King"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			env := newTestEnv(t)

			fields := tt.create(t, env)
			loc, err := env.eng.Create(ctx, tt.category, fields)
			require.NoError(t, err)
			require.Equal(t, tt.primary, loc.Shard)

			update := map[string]string{}
			for k, v := range tt.update {
				update[k] = v
			}
			if team, ok := fields["fk_team_id"]; ok {
				update["fk_team_id"] = team
			}

			id, err := env.eng.Update(ctx, tt.category, loc.ID, update)
			require.NoError(t, err)
			assert.Equal(loc.ID, id)
			first := env.snapshot(t)

			id, err = env.eng.Update(ctx, tt.category, loc.ID, update)
			require.NoError(t, err)
			assert.Equal(loc.ID, id)
			assert.Equal(first, env.snapshot(t))
			for _, mirror := range tt.mirrors {
				assert.Equal(tt.project, env.hash(t, mirror, loc.Key()), mirror)
			}

			for _, mirror := range tt.mirrors {
				_, err := env.stores[mirror].Del(ctx, loc.Key())
				require.NoError(t, err)
			}
			ok, err := env.eng.Delete(ctx, tt.category, loc.ID)
			assert.NoError(err)
			assert.True(ok)
			assert.False(env.exists(t, tt.primary, loc.Key()))
			for _, mirror := range tt.mirrors {
				assert.False(env.exists(t, mirror, loc.Key()), mirror)
			}
		})
	}
}

// captureLog sends kvlog output to a buffer for the rest of the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := kvlog.Zero
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)
	kvlog.Zero = &logger
	t.Cleanup(func() { kvlog.Zero = prev })
	return &buf
}

func TestResolutionAndLookupFailuresAreLogged(t *testing.T) {
	ctx := context.TODO()

	t.Run("bad id prefix", func(t *testing.T) {
		buf := captureLog(t)
		env := newTestEnv(t)
		_, err := env.eng.Get(ctx, category.Team, "Z0000001")
		assert.True(t, kverror.Is(err, kverror.KV_RESOLUTION_ERROR))
		assert.Contains(t, buf.String(), `"key":"Team:Z0000001"`)
		assert.Contains(t, buf.String(), `"code":"`+kverror.KV_RESOLUTION_ERROR+`"`)
	})

	t.Run("missing shard", func(t *testing.T) {
		buf := captureLog(t)
		db, err := qdb.NewMemQDB("")
		require.NoError(t, err)
		eng := engine.NewEngine(shard.NewDirectory(map[string]shard.Store{}, nil), db)

		_, err = eng.Delete(ctx, category.Team, "A0000001")
		assert.True(t, kverror.Is(err, kverror.KV_CONFIGURATION_ERROR))
		assert.Contains(t, buf.String(), `"shard":"DB21"`)
		assert.Contains(t, buf.String(), `"category":"Team"`)
	})

	t.Run("not found is quiet", func(t *testing.T) {
		buf := captureLog(t)
		env := newTestEnv(t)
		_, err := env.eng.Get(ctx, category.Team, "A0000001")
		assert.True(t, kverror.IsNotFound(err))
		assert.Empty(t, buf.String())
	})
}
