package qdb

import "time"

type RecordMoveStatus string

const (
	// RecordMovePlanned: the journal holds the source fields, nothing is
	// copied yet or the copy has to be redone.
	RecordMovePlanned = RecordMoveStatus("PLANNED")
	// RecordMoveCopied: target primary and mirrors are written, the source
	// still exists.
	RecordMoveCopied = RecordMoveStatus("COPIED")
	// RecordMoveComplete: the source is gone; only the journal entry is left.
	RecordMoveComplete = RecordMoveStatus("COMPLETE")
)

// RecordMove is the journal entry of one record relocating between zones.
// It carries everything needed to finish the move without the source record.
type RecordMove struct {
	MoveId     string            `json:"move_id"`
	Category   string            `json:"category"`
	SourceId   string            `json:"source_id"`
	TargetId   string            `json:"target_id"`
	Group      string            `json:"group"`
	SourceZone int               `json:"source_zone"`
	TargetZone int               `json:"target_zone"`
	Fields     map[string]string `json:"fields"`
	TTLMs      int64             `json:"ttl_ms"`
	Status     RecordMoveStatus  `json:"status"`
}

func (m *RecordMove) TTL() time.Duration {
	return time.Duration(m.TTLMs) * time.Millisecond
}

// MoveID is the journal key of a move: one record has at most one move in
// flight.
func MoveID(category string, sourceId string) string {
	return category + ":" + sourceId
}
