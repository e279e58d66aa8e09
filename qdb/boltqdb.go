package qdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/leaguekv/leaguekv/pkg/kvlog"
	"github.com/leaguekv/leaguekv/pkg/models/kverror"
)

var recordMovesBucket = []byte("record_moves")

// BoltQDB keeps the journal in a local bbolt file. Every call is one bbolt
// transaction, so a crash never leaves a half-written move.
type BoltQDB struct {
	db *bolt.DB
}

var _ QDB = &BoltQDB{}

func NewBoltQDB(path string) (*BoltQDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open bbolt journal at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordMovesBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not ensure journal bucket exists: %w", err)
	}

	kvlog.Zero.Debug().
		Str("path", path).
		Msg("boltqdb: open journal")

	return &BoltQDB{db: db}, nil
}

func getMove(b *bolt.Bucket, moveId string) (*RecordMove, error) {
	raw := b.Get([]byte(moveId))
	if raw == nil {
		return nil, kverror.Newf(kverror.KV_NOT_FOUND, "move %s not found", moveId)
	}
	var m RecordMove
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func putMove(b *bolt.Bucket, m *RecordMove) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.Put([]byte(m.MoveId), raw)
}

func (q *BoltQDB) RecordMove(_ context.Context, m *RecordMove) error {
	kvlog.Zero.Debug().Str("id", m.MoveId).Msg("boltqdb: record move")

	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordMovesBucket)
		if b.Get([]byte(m.MoveId)) != nil {
			return kverror.Newf(kverror.KV_CONFLICT, "move %s is already in progress", m.MoveId)
		}
		return putMove(b, m)
	})
}

func (q *BoltQDB) GetMove(_ context.Context, moveId string) (*RecordMove, error) {
	var ret *RecordMove
	err := q.db.View(func(tx *bolt.Tx) error {
		m, err := getMove(tx.Bucket(recordMovesBucket), moveId)
		ret = m
		return err
	})
	return ret, err
}

// ListMoves returns moves ordered by id, the bucket's key order.
func (q *BoltQDB) ListMoves(_ context.Context) ([]*RecordMove, error) {
	var ret []*RecordMove
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordMovesBucket).ForEach(func(_, v []byte) error {
			var m RecordMove
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			ret = append(ret, &m)
			return nil
		})
	})
	return ret, err
}

func (q *BoltQDB) UpdateMoveStatus(_ context.Context, moveId string, s RecordMoveStatus) error {
	kvlog.Zero.Debug().Str("id", moveId).Str("status", string(s)).Msg("boltqdb: update move status")

	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordMovesBucket)
		m, err := getMove(b, moveId)
		if err != nil {
			return err
		}
		m.Status = s
		return putMove(b, m)
	})
}

func (q *BoltQDB) DeleteMove(_ context.Context, moveId string) error {
	kvlog.Zero.Debug().Str("id", moveId).Msg("boltqdb: delete move")

	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordMovesBucket)
		m, err := getMove(b, moveId)
		if err != nil {
			return err
		}
		if m.Status != RecordMoveComplete {
			return kverror.Newf(kverror.KV_UNEXPECTED, "cannot remove non-completed move %s", moveId)
		}
		return b.Delete([]byte(moveId))
	})
}

func (q *BoltQDB) Close() error {
	return q.db.Close()
}
