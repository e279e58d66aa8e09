package qdb

import (
	"context"
	"encoding/json"
	"maps"
	"os"
	"sort"
	"sync"

	"github.com/leaguekv/leaguekv/pkg/kvlog"
	"github.com/leaguekv/leaguekv/pkg/models/kverror"
)

type MemQDB struct {
	mu sync.RWMutex

	Moves map[string]*RecordMove `json:"moves"`

	backupPath string
}

var _ QDB = &MemQDB{}

func NewMemQDB(backupPath string) (*MemQDB, error) {
	return &MemQDB{
		Moves:      map[string]*RecordMove{},
		backupPath: backupPath,
	}, nil
}

// RestoreQDB loads the journal from backupPath, creating an empty backup
// file when there is none yet.
func RestoreQDB(backupPath string) (*MemQDB, error) {
	qdb, err := NewMemQDB(backupPath)
	if err != nil {
		return nil, err
	}
	if backupPath == "" {
		return qdb, nil
	}
	if _, err := os.Stat(backupPath); err != nil {
		kvlog.Zero.Info().Err(err).Str("path", backupPath).Msg("memqdb backup file not exists. Creating new one.")
		f, err := os.Create(backupPath)
		if err != nil {
			return nil, err
		}
		return qdb, f.Close()
	}
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return qdb, nil
	}
	if err := json.Unmarshal(data, qdb); err != nil {
		return nil, err
	}
	if qdb.Moves == nil {
		qdb.Moves = map[string]*RecordMove{}
	}
	kvlog.Zero.Info().Int("moves", len(qdb.Moves)).Str("path", backupPath).Msg("memqdb: restored")
	return qdb, nil
}

// DumpState writes the journal through a temporary file and a rename.
// Callers hold the write lock.
func (q *MemQDB) DumpState() error {
	if q.backupPath == "" {
		return nil
	}
	tmpPath := q.backupPath + ".tmp"

	state, err := json.MarshalIndent(q, "", "	")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmpPath, state, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, q.backupPath)
}

func copyMove(m *RecordMove) *RecordMove {
	ret := *m
	ret.Fields = maps.Clone(m.Fields)
	return &ret
}

func (q *MemQDB) RecordMove(_ context.Context, m *RecordMove) error {
	kvlog.Zero.Debug().Str("id", m.MoveId).Str("status", string(m.Status)).Msg("memqdb: record move")
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.Moves[m.MoveId]; ok {
		return kverror.Newf(kverror.KV_CONFLICT, "move %s is already in progress", m.MoveId)
	}
	return q.commit(&putMoveCommand{moves: q.Moves, move: copyMove(m)})
}

func (q *MemQDB) GetMove(_ context.Context, moveId string) (*RecordMove, error) {
	kvlog.Zero.Debug().Str("id", moveId).Msg("memqdb: get move")
	q.mu.RLock()
	defer q.mu.RUnlock()

	m, ok := q.Moves[moveId]
	if !ok {
		return nil, kverror.Newf(kverror.KV_NOT_FOUND, "move %s not found", moveId)
	}
	return copyMove(m), nil
}

func (q *MemQDB) ListMoves(_ context.Context) ([]*RecordMove, error) {
	kvlog.Zero.Debug().Msg("memqdb: list moves")
	q.mu.RLock()
	defer q.mu.RUnlock()

	ret := make([]*RecordMove, 0, len(q.Moves))
	for _, m := range q.Moves {
		ret = append(ret, copyMove(m))
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].MoveId < ret[j].MoveId
	})
	return ret, nil
}

func (q *MemQDB) UpdateMoveStatus(_ context.Context, moveId string, s RecordMoveStatus) error {
	kvlog.Zero.Debug().Str("id", moveId).Str("status", string(s)).Msg("memqdb: update move status")
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.Moves[moveId]
	if !ok {
		return kverror.Newf(kverror.KV_NOT_FOUND, "move %s not found", moveId)
	}
	upd := copyMove(m)
	upd.Status = s
	return q.commit(&putMoveCommand{moves: q.Moves, move: upd})
}

func (q *MemQDB) DeleteMove(_ context.Context, moveId string) error {
	kvlog.Zero.Debug().Str("id", moveId).Msg("memqdb: delete move")
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.Moves[moveId]
	if !ok {
		return kverror.Newf(kverror.KV_NOT_FOUND, "move %s not found", moveId)
	}
	if m.Status != RecordMoveComplete {
		return kverror.Newf(kverror.KV_UNEXPECTED, "cannot remove non-completed move %s", moveId)
	}
	return q.commit(&dropMoveCommand{moves: q.Moves, moveId: moveId})
}

func (q *MemQDB) Close() error {
	return nil
}
