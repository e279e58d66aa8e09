package qdb

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"time"

	retry "github.com/sethvargo/go-retry"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/leaguekv/leaguekv/pkg/kvlog"
	"github.com/leaguekv/leaguekv/pkg/models/kverror"
)

const (
	recordMovesNamespace = "/record_moves/"

	etcdDialTimeout = 5 * time.Second
)

type EtcdQDB struct {
	cli *clientv3.Client
}

var _ QDB = &EtcdQDB{}

func NewEtcdQDB(addr string) (*EtcdQDB, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{addr},
		DialTimeout: etcdDialTimeout,
		DialOptions: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	})
	if err != nil {
		return nil, err
	}

	kvlog.Zero.Debug().
		Str("address", addr).
		Uint("client", kvlog.GetPointer(cli)).
		Msg("etcdqdb: NewEtcdQDB")

	return &EtcdQDB{
		cli: cli,
	}, nil
}

func recordMoveNodePath(moveId string) string {
	return path.Join(recordMovesNamespace, moveId)
}

func withRetry(ctx context.Context, f func(ctx context.Context) error) error {
	return retry.Do(ctx, retry.WithMaxRetries(7, retry.NewFibonacci(500*time.Millisecond)), f)
}

// RecordMove creates the journal node in a transaction that fails when the
// node already exists.
func (q *EtcdQDB) RecordMove(ctx context.Context, m *RecordMove) error {
	kvlog.Zero.Debug().
		Str("id", m.MoveId).
		Msg("etcdqdb: record move")

	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	nodePath := recordMoveNodePath(m.MoveId)
	resp, err := q.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(nodePath), "=", 0)).
		Then(clientv3.OpPut(nodePath, string(raw))).
		Commit()
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return kverror.Newf(kverror.KV_CONFLICT, "move %s is already in progress", m.MoveId)
	}

	kvlog.Zero.Debug().
		Interface("response", resp).
		Msg("etcdqdb: record move")
	return nil
}

func (q *EtcdQDB) GetMove(ctx context.Context, moveId string) (*RecordMove, error) {
	kvlog.Zero.Debug().
		Str("id", moveId).
		Msg("etcdqdb: get move")

	resp, err := q.cli.Get(ctx, recordMoveNodePath(moveId))
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, kverror.Newf(kverror.KV_NOT_FOUND, "move %s not found", moveId)
	}
	var m RecordMove
	if err := json.Unmarshal(resp.Kvs[0].Value, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (q *EtcdQDB) ListMoves(ctx context.Context) ([]*RecordMove, error) {
	kvlog.Zero.Debug().Msg("etcdqdb: list moves")

	resp, err := q.cli.Get(ctx, recordMovesNamespace, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	moves := make([]*RecordMove, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var m *RecordMove
		if err := json.Unmarshal(kv.Value, &m); err != nil {
			return nil, err
		}
		moves = append(moves, m)
	}
	sort.Slice(moves, func(i, j int) bool {
		return moves[i].MoveId < moves[j].MoveId
	})
	return moves, nil
}

// UpdateMoveStatus rewrites the node only if nobody changed it since it was
// read, retrying on contention.
func (q *EtcdQDB) UpdateMoveStatus(ctx context.Context, moveId string, s RecordMoveStatus) error {
	kvlog.Zero.Debug().
		Str("id", moveId).
		Str("status", string(s)).
		Msg("etcdqdb: update move status")

	nodePath := recordMoveNodePath(moveId)
	return withRetry(ctx, func(ctx context.Context) error {
		resp, err := q.cli.Get(ctx, nodePath)
		if err != nil {
			return retry.RetryableError(err)
		}
		if len(resp.Kvs) == 0 {
			return kverror.Newf(kverror.KV_NOT_FOUND, "move %s not found", moveId)
		}
		var m RecordMove
		if err := json.Unmarshal(resp.Kvs[0].Value, &m); err != nil {
			return err
		}
		m.Status = s
		raw, err := json.Marshal(m)
		if err != nil {
			return err
		}

		txn, err := q.cli.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(nodePath), "=", resp.Kvs[0].ModRevision)).
			Then(clientv3.OpPut(nodePath, string(raw))).
			Commit()
		if err != nil {
			return retry.RetryableError(err)
		}
		if !txn.Succeeded {
			return retry.RetryableError(kverror.Newf(kverror.KV_CONFLICT, "move %s was modified concurrently", moveId))
		}
		return nil
	})
}

func (q *EtcdQDB) DeleteMove(ctx context.Context, moveId string) error {
	kvlog.Zero.Debug().
		Str("id", moveId).
		Msg("etcdqdb: delete move")

	m, err := q.GetMove(ctx, moveId)
	if err != nil {
		return err
	}
	if m.Status != RecordMoveComplete {
		return kverror.Newf(kverror.KV_UNEXPECTED, "cannot remove non-completed move %s", moveId)
	}
	_, err = q.cli.Delete(ctx, recordMoveNodePath(moveId))
	return err
}

func (q *EtcdQDB) Close() error {
	return q.cli.Close()
}
