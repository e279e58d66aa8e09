package instance

import (
	"context"
	"errors"

	"github.com/leaguekv/leaguekv/pkg/config"
	"github.com/leaguekv/leaguekv/pkg/kvlog"
	"github.com/leaguekv/leaguekv/pkg/shard"
	"github.com/leaguekv/leaguekv/pkg/shard/builder"
	"github.com/leaguekv/leaguekv/qdb"
	"github.com/leaguekv/leaguekv/router/engine"
	"github.com/leaguekv/leaguekv/router/relations"
)

type RouterInstance interface {
	Engine() *engine.Engine
	Entities() *relations.Service

	Ping(ctx context.Context) ([]shard.PingResult, error)
	Recover(ctx context.Context) ([]string, error)
	Close() error
}

type InstanceImpl struct {
	cfg *config.Router

	dir *shard.Directory
	db  qdb.QDB

	eng *engine.Engine
	ent *relations.Service
}

var _ RouterInstance = &InstanceImpl{}

func (r *InstanceImpl) Engine() *engine.Engine {
	return r.eng
}

func (r *InstanceImpl) Entities() *relations.Service {
	return r.ent
}

// NewRouter opens the shard stores and the move journal described by cfg.
// No store is contacted yet.
func NewRouter(cfg *config.Router) (*InstanceImpl, error) {
	dir, err := builder.Build(cfg)
	if err != nil {
		return nil, err
	}

	kvlog.Zero.Debug().
		Str("qdb-type", cfg.QdbType).
		Msg("creating move journal")

	db, err := qdb.NewQDB(cfg)
	if err != nil {
		_ = dir.Close()
		return nil, err
	}

	return &InstanceImpl{
		cfg: cfg,
		dir: dir,
		db:  db,
		eng: engine.NewEngine(dir, db),
		ent: relations.NewService(dir),
	}, nil
}

// Ping checks every store with the retry policy of the config.
func (r *InstanceImpl) Ping(ctx context.Context) ([]shard.PingResult, error) {
	return r.eng.Ping(ctx, r.cfg.PingRetries, r.cfg.PingBackoff)
}

// Recover finishes the moves a previous run left in the journal.
func (r *InstanceImpl) Recover(ctx context.Context) ([]string, error) {
	done, err := r.eng.ResumeMoves(ctx)
	if len(done) > 0 {
		kvlog.Zero.Info().Strs("moves", done).Msg("finished pending record moves")
	}
	return done, err
}

func (r *InstanceImpl) Close() error {
	return errors.Join(r.dir.Close(), r.db.Close())
}
