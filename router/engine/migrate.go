package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/leaguekv/leaguekv/pkg/kvlog"
	"github.com/leaguekv/leaguekv/pkg/models/category"
	"github.com/leaguekv/leaguekv/pkg/models/kverror"
	"github.com/leaguekv/leaguekv/pkg/models/recordkey"
	"github.com/leaguekv/leaguekv/pkg/models/topology"
	"github.com/leaguekv/leaguekv/qdb"
	"github.com/leaguekv/leaguekv/router/statistics"
)

// A move whose target vanishes after the copy step is copied again at most
// this many times.
const maxRecopies = 2

// move relocates a record from srcZone to tgtZone under the flipped id and
// returns that id.
func (e *Engine) move(ctx context.Context, d *category.Descriptor, id string, srcZone, tgtZone topology.Zone, fields map[string]string) (string, error) {
	src, err := e.at(topology.NewCoordinate(d.Group, srcZone), d.Name)
	if err != nil {
		return "", err
	}
	tgt, err := e.at(topology.NewCoordinate(d.Group, tgtZone), d.Name)
	if err != nil {
		return "", err
	}
	srcKey := recordkey.StorageKey(d.Name, id)
	targetID := recordkey.FlipZoneLetter(id)
	tgtKey := recordkey.StorageKey(d.Name, targetID)

	taken, err := tgt.Exists(ctx, tgtKey)
	if err != nil {
		return "", logFailure(err, tgt.Name(), d.Name, tgtKey, "engine: move target check failed")
	}
	if taken {
		return "", kverror.Newf(kverror.KV_CONFLICT, "cannot move %s: %s already exists on %s", srcKey, tgtKey, tgt.Name())
	}

	ttl, err := src.TTL(ctx, srcKey)
	if err != nil {
		return "", logFailure(err, src.Name(), d.Name, srcKey, "engine: move ttl read failed")
	}

	m := &qdb.RecordMove{
		MoveId:     qdb.MoveID(d.Name, id),
		Category:   d.Name,
		SourceId:   id,
		TargetId:   targetID,
		Group:      string(d.Group),
		SourceZone: int(srcZone),
		TargetZone: int(tgtZone),
		Fields:     fields,
		TTLMs:      ttl.Milliseconds(),
		Status:     qdb.RecordMovePlanned,
	}

	kvlog.Zero.Info().
		Str("category", d.Name).
		Str("source", src.Name()).
		Str("target", tgt.Name()).
		Str("source-id", id).
		Str("target-id", targetID).
		Dur("ttl", ttl).
		Msg("engine: move record")

	tracker := statistics.RecordMoveStart(time.Now(), false)
	t := time.Now()
	if err := e.db.RecordMove(ctx, m); err != nil {
		tracker.RecordMoveAbort()
		return "", err
	}
	tracker.RecordQDBOperation(time.Since(t))

	if err := e.runMove(ctx, d, m, tracker); err != nil {
		return "", err
	}
	return targetID, nil
}

// runMove drives a journaled move to completion from whatever status it is
// in. Every step can be repeated, so a move interrupted at any point is
// finished by running it again.
func (e *Engine) runMove(ctx context.Context, d *category.Descriptor, move *qdb.RecordMove, tracker *statistics.MoveTracker) error {
	srcZone := topology.Zone(move.SourceZone)
	tgtZone := topology.Zone(move.TargetZone)
	group := topology.Group(move.Group)

	src, err := e.at(topology.NewCoordinate(group, srcZone), move.Category)
	if err != nil {
		tracker.RecordMoveAbort()
		return err
	}
	tgt, err := e.at(topology.NewCoordinate(group, tgtZone), move.Category)
	if err != nil {
		tracker.RecordMoveAbort()
		return err
	}
	srcKey := recordkey.StorageKey(move.Category, move.SourceId)
	tgtKey := recordkey.StorageKey(move.Category, move.TargetId)

	setStatus := func(s qdb.RecordMoveStatus) error {
		t := time.Now()
		defer func() { tracker.RecordQDBOperation(time.Since(t)) }()
		if err := e.db.UpdateMoveStatus(ctx, move.MoveId, s); err != nil {
			return err
		}
		move.Status = s
		return nil
	}
	fail := func(st string, key string, err error) error {
		tracker.RecordMoveAbort()
		return logFailure(err, st, move.Category, key, fmt.Sprintf("engine: move %s stuck in %s", move.MoveId, move.Status))
	}

	recopies := 0
	for move != nil {
		switch move.Status {
		case qdb.RecordMovePlanned:
			t := time.Now()
			if _, err := tgt.Del(ctx, tgtKey); err != nil {
				return fail(tgt.Name(), tgtKey, err)
			}
			if err := tgt.HSet(ctx, tgtKey, move.Fields); err != nil {
				return fail(tgt.Name(), tgtKey, err)
			}
			if ttl := move.TTL(); ttl > 0 {
				if err := tgt.Expire(ctx, tgtKey, ttl); err != nil {
					return fail(tgt.Name(), tgtKey, err)
				}
			}
			if err := e.writeMirrors(ctx, d, tgtZone, move.TargetId, move.Fields); err != nil {
				tracker.RecordMoveAbort()
				return err
			}
			tracker.RecordShardOperation(time.Since(t))

			if err := setStatus(qdb.RecordMoveCopied); err != nil {
				return fail("qdb", move.MoveId, err)
			}
		case qdb.RecordMoveCopied:
			t := time.Now()
			ok, err := tgt.Exists(ctx, tgtKey)
			if err != nil {
				return fail(tgt.Name(), tgtKey, err)
			}
			if !ok {
				recopies++
				if recopies > maxRecopies {
					return fail(tgt.Name(), tgtKey, kverror.Newf(kverror.KV_WRITE_VERIFICATION,
						"moved record %s keeps disappearing from %s", tgtKey, tgt.Name()))
				}
				kvlog.Zero.Warn().
					Str("move", move.MoveId).
					Str("shard", tgt.Name()).
					Str("key", tgtKey).
					Msg("engine: moved record is missing on target, copying again")
				if err := setStatus(qdb.RecordMovePlanned); err != nil {
					return fail("qdb", move.MoveId, err)
				}
				continue
			}

			if _, err := src.Del(ctx, srcKey); err != nil {
				return fail(src.Name(), srcKey, err)
			}
			if err := e.deleteMirrors(ctx, d, srcZone, move.SourceId); err != nil {
				tracker.RecordMoveAbort()
				return err
			}
			tracker.RecordShardOperation(time.Since(t))

			if err := setStatus(qdb.RecordMoveComplete); err != nil {
				return fail("qdb", move.MoveId, err)
			}
		case qdb.RecordMoveComplete:
			t := time.Now()
			if err := e.db.DeleteMove(ctx, move.MoveId); err != nil {
				return fail("qdb", move.MoveId, err)
			}
			tracker.RecordQDBOperation(time.Since(t))
			tracker.RecordMoveFinish(time.Now())

			kvlog.Zero.Debug().
				Str("move", move.MoveId).
				Str("target-id", move.TargetId).
				Msg("engine: move complete")
			move = nil
		default:
			tracker.RecordMoveAbort()
			return kverror.Newf(kverror.KV_UNEXPECTED, "unknown record move status: \"%s\"", move.Status)
		}
	}
	return nil
}

// settleMove finishes a move left behind by an earlier call on the same
// record and returns the id the record lives under now.
func (e *Engine) settleMove(ctx context.Context, d *category.Descriptor, id string) (string, error) {
	move, err := e.db.GetMove(ctx, qdb.MoveID(d.Name, id))
	if kverror.IsNotFound(err) {
		return id, nil
	}
	if err != nil {
		return "", err
	}

	kvlog.Zero.Info().
		Str("move", move.MoveId).
		Str("status", string(move.Status)).
		Msg("engine: finishing pending move before operating on the record")

	if err := e.runMove(ctx, d, move, statistics.RecordMoveStart(time.Now(), true)); err != nil {
		return "", err
	}
	return move.TargetId, nil
}

// ListMoves returns the moves recorded in the journal and not finished yet.
func (e *Engine) ListMoves(ctx context.Context) ([]*qdb.RecordMove, error) {
	return e.db.ListMoves(ctx)
}

// ResumeMoves finishes every journaled move. It returns the ids of the moves
// it completed and stops at the first one that fails.
func (e *Engine) ResumeMoves(ctx context.Context) ([]string, error) {
	moves, err := e.db.ListMoves(ctx)
	if err != nil {
		return nil, err
	}

	done := make([]string, 0, len(moves))
	for _, move := range moves {
		d, err := category.Lookup(move.Category)
		if err != nil {
			return done, err
		}
		kvlog.Zero.Info().
			Str("move", move.MoveId).
			Str("status", string(move.Status)).
			Msg("engine: resuming move")

		if err := e.runMove(ctx, d, move, statistics.RecordMoveStart(time.Now(), true)); err != nil {
			return done, err
		}
		done = append(done, move.MoveId)
	}
	return done, nil
}
