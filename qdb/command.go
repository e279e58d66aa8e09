package qdb

import (
	"fmt"

	"github.com/leaguekv/leaguekv/pkg/kvlog"
)

// Command is one reversible step of a MemQDB journal change.
type Command interface {
	Do() error
	Undo() error
}

// putMoveCommand stores a move snapshot and remembers the one it replaced.
type putMoveCommand struct {
	moves map[string]*RecordMove
	move  *RecordMove
	prev  *RecordMove
}

func (c *putMoveCommand) Do() error {
	c.prev = c.moves[c.move.MoveId]
	c.moves[c.move.MoveId] = c.move
	return nil
}

func (c *putMoveCommand) Undo() error {
	if c.prev == nil {
		delete(c.moves, c.move.MoveId)
	} else {
		c.moves[c.move.MoveId] = c.prev
	}
	return nil
}

type dropMoveCommand struct {
	moves  map[string]*RecordMove
	moveId string
	prev   *RecordMove
}

func (c *dropMoveCommand) Do() error {
	c.prev = c.moves[c.moveId]
	delete(c.moves, c.moveId)
	return nil
}

func (c *dropMoveCommand) Undo() error {
	if c.prev != nil {
		c.moves[c.moveId] = c.prev
	}
	return nil
}

// dumpCommand persists the journal. A later successful dump overwrites
// whatever it wrote, so there is nothing to undo.
type dumpCommand struct {
	q *MemQDB
}

func (c *dumpCommand) Do() error {
	return c.q.DumpState()
}

func (c *dumpCommand) Undo() error {
	return nil
}

func doCommands(commands ...Command) (int, error) {
	for i, c := range commands {
		if err := c.Do(); err != nil {
			return i, err
		}
	}
	return len(commands), nil
}

func undoCommands(commands ...Command) error {
	for i := len(commands) - 1; i >= 0; i-- {
		if err := commands[i].Undo(); err != nil {
			return err
		}
	}
	return nil
}

// commit applies the journal changes and dumps the result. When any step
// fails the applied changes are rolled back in reverse order.
// Callers hold the write lock.
func (q *MemQDB) commit(commands ...Command) error {
	commands = append(commands, &dumpCommand{q: q})
	completed, err := doCommands(commands...)
	if err == nil {
		return nil
	}

	kvlog.Zero.Info().Err(err).Int("applied", completed).Msg("memqdb: rolling back journal change")
	if undoErr := undoCommands(commands[:completed]...); undoErr != nil {
		return fmt.Errorf("failed to roll back journal change: %s, while: %w", undoErr.Error(), err)
	}
	return err
}
