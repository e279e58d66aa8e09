package statistics

import (
	"sync"
	"time"

	"github.com/leaguekv/leaguekv/pkg/kvlog"
)

type statisticsInt struct {
	QDBTimeTotal   time.Duration
	ShardTimeTotal time.Duration
	MoveTimeTotal  time.Duration
	TotalMoves     int
	ResumedMoves   int
	InProgress     int
}

var (
	moveMu         sync.Mutex
	moveStatistics = statisticsInt{}
)

// MoveStatistics holds per-move averages.
type MoveStatistics struct {
	TotalTime    time.Duration
	ShardTime    time.Duration
	QDBTime      time.Duration
	TotalMoves   int
	ResumedMoves int
	InProgress   int
}

// MoveTracker accumulates the time one record move spends in the journal
// and in shard calls. Trackers of concurrent moves are independent.
type MoveTracker struct {
	start    time.Time
	qdbTime  time.Duration
	shard    time.Duration
	resumed  bool
	finished bool
}

func RecordMoveStart(t time.Time, resumed bool) *MoveTracker {
	kvlog.Zero.Debug().Bool("resumed", resumed).Msg("move stats: record move start")

	moveMu.Lock()
	moveStatistics.InProgress++
	moveMu.Unlock()
	return &MoveTracker{start: t, resumed: resumed}
}

func (m *MoveTracker) RecordQDBOperation(duration time.Duration) {
	m.qdbTime += duration
}

func (m *MoveTracker) RecordShardOperation(duration time.Duration) {
	m.shard += duration
}

// RecordMoveFinish folds the tracker into the totals. Finishing a tracker
// twice is a no-op.
func (m *MoveTracker) RecordMoveFinish(t time.Time) {
	if m.finished {
		return
	}
	m.finished = true
	kvlog.Zero.Debug().Msg("move stats: record move finish")

	moveMu.Lock()
	defer moveMu.Unlock()
	moveStatistics.InProgress--
	moveStatistics.QDBTimeTotal += m.qdbTime
	moveStatistics.ShardTimeTotal += m.shard
	moveStatistics.MoveTimeTotal += t.Sub(m.start)
	moveStatistics.TotalMoves++
	if m.resumed {
		moveStatistics.ResumedMoves++
	}
}

// RecordMoveAbort releases an in-progress slot without counting the move.
func (m *MoveTracker) RecordMoveAbort() {
	if m.finished {
		return
	}
	m.finished = true

	moveMu.Lock()
	defer moveMu.Unlock()
	moveStatistics.InProgress--
}

func GetMoveStats() *MoveStatistics {
	moveMu.Lock()
	defer moveMu.Unlock()

	ret := &MoveStatistics{
		TotalMoves:   moveStatistics.TotalMoves,
		ResumedMoves: moveStatistics.ResumedMoves,
		InProgress:   moveStatistics.InProgress,
	}
	if moveStatistics.TotalMoves == 0 {
		return ret
	}
	n := time.Duration(moveStatistics.TotalMoves)
	ret.ShardTime = moveStatistics.ShardTimeTotal / n
	ret.QDBTime = moveStatistics.QDBTimeTotal / n
	ret.TotalTime = moveStatistics.MoveTimeTotal / n
	return ret
}

func resetMoveStats() {
	moveMu.Lock()
	defer moveMu.Unlock()
	moveStatistics = statisticsInt{}
}
