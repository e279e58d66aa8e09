package qdb

import (
	"context"
	"fmt"

	"github.com/leaguekv/leaguekv/pkg/config"
)

// QDB is the move journal: durable state of record moves in flight.
type QDB interface {
	// RecordMove stores a new move. A move with the same id must not exist.
	RecordMove(ctx context.Context, m *RecordMove) error
	GetMove(ctx context.Context, moveId string) (*RecordMove, error)
	ListMoves(ctx context.Context) ([]*RecordMove, error)
	UpdateMoveStatus(ctx context.Context, moveId string, s RecordMoveStatus) error
	// DeleteMove removes a completed move.
	DeleteMove(ctx context.Context, moveId string) error
	Close() error
}

func NewQDB(cfg *config.Router) (QDB, error) {
	switch cfg.QdbType {
	case config.QdbTypeEtcd:
		return NewEtcdQDB(cfg.QdbAddr)
	case config.QdbTypeBolt:
		return NewBoltQDB(cfg.BoltqdbPath)
	case config.QdbTypeMem, "":
		return RestoreQDB(cfg.MemqdbBackupPath)
	default:
		return nil, fmt.Errorf("qdb implementation %s is invalid", cfg.QdbType)
	}
}
