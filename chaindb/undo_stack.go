// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package chaindb

import (
	"fmt"

	"github.com/carmen-db/chaindb/common"
	"github.com/carmen-db/chaindb/object"
)

// undoStage is a table's position in its session-nesting state machine.
type undoStage int

const (
	stageUnknown undoStage = iota
	stageNew
	stageStack
)

// undoState is one revision's worth of recorded change for a table: every
// row it touched during that revision, bucketed by what kind of change it
// was, plus an optional next-pk reservation undo.
type undoState struct {
	revision       common.Revision
	newValues      map[common.PK]object.ObjectValue
	oldValues      map[common.PK]object.ObjectValue
	removedValues  map[common.PK]object.ObjectValue
	hasNextPK      bool
	nextPK         common.PK
}

func newUndoState(revision common.Revision) *undoState {
	return &undoState{
		revision:      revision,
		newValues:     make(map[common.PK]object.ObjectValue),
		oldValues:     make(map[common.PK]object.ObjectValue),
		removedValues: make(map[common.PK]object.ObjectValue),
	}
}

func (s *undoState) setNextPK(pk common.PK) {
	s.hasNextPK = true
	s.nextPK = pk
}

func (s *undoState) resetNextPK() {
	s.hasNextPK = false
	s.nextPK = common.UnsetPK
}

func (s *undoState) nextPKObject(table object.TableKey) object.ObjectValue {
	return object.ObjectValue{Service: object.ServiceHeader{
		Code: table.Code, Scope: table.Scope, Table: table.Table,
		PK: s.nextPK, Revision: s.revision, UndoRecord: object.UndoRecordNextPk,
	}}
}

// tableUndoStack is the per-table undo session stack: a {Unknown, New,
// Stack} state machine layered over a deque of undoState frames. A frame
// is only pushed on the table's first write at a revision (see head),
// so tables touched by StartSession but never written take zero frame
// overhead.
type tableUndoStack struct {
	table         object.TableKey
	stage         undoStage
	revision      common.Revision
	stack         []*undoState
	undoNextPKMap map[common.Revision]common.PK
}

func newTableUndoStack(table object.TableKey, revision common.Revision) *tableUndoStack {
	return &tableUndoStack{
		table:         table,
		stage:         stageNew,
		revision:      revision,
		undoNextPKMap: make(map[common.Revision]common.PK),
	}
}

func (t *tableUndoStack) headRevision() common.Revision {
	if len(t.stack) == 0 {
		return common.StartRevision
	}
	return t.stack[len(t.stack)-1].revision
}

func (t *tableUndoStack) revisionOf() common.Revision { return t.revision }

func (t *tableUndoStack) startSession(rev common.Revision) error {
	if t.revision >= rev {
		return fmt.Errorf("bad revision %d (new %d) for table %v", t.revision, rev, t.table)
	}
	t.revision = rev
	t.stage = stageNew
	return nil
}

// head returns the frame for the table's current revision, lazily
// pushing a new frame the first time it is called after startSession.
func (t *tableUndoStack) head() (*undoState, error) {
	switch t.stage {
	case stageNew:
		t.stage = stageStack
		t.stack = append(t.stack, newUndoState(t.revision))
		fallthrough
	case stageStack:
		return t.stack[len(t.stack)-1], nil
	default:
		return nil, fmt.Errorf("wrong stage %d of table %v on getting head", t.stage, t.table)
	}
}

func (t *tableUndoStack) tail() (*undoState, error) {
	if len(t.stack) == 0 {
		return nil, fmt.Errorf("wrong stage %d of table %v on getting tail", t.stage, t.table)
	}
	return t.stack[0], nil
}

func (t *tableUndoStack) prevState() (*undoState, error) {
	switch t.stage {
	case stageStack:
		if len(t.stack) < 2 {
			return nil, fmt.Errorf("table %v doesn't have 2 states", t.table)
		}
		return t.stack[len(t.stack)-2], nil
	case stageNew:
		if len(t.stack) == 0 {
			return nil, fmt.Errorf("table %v doesn't have any state", t.table)
		}
		return t.stack[len(t.stack)-1], nil
	default:
		return nil, fmt.Errorf("wrong stage %d of table %v on getting previous state", t.stage, t.table)
	}
}

func (t *tableUndoStack) squash() error {
	switch t.stage {
	case stageStack:
		t.stack[len(t.stack)-1].revision--
	case stageNew:
	default:
		return fmt.Errorf("wrong stage %d of table %v on squashing", t.stage, t.table)
	}
	t.revision--
	t.updateStage()
	return nil
}

func (t *tableUndoStack) undo() error {
	switch t.stage {
	case stageStack:
		t.stack = t.stack[:len(t.stack)-1]
	case stageNew:
	default:
		return fmt.Errorf("wrong stage %d of table %v on undoing", t.stage, t.table)
	}
	t.revision--
	t.updateStage()
	return nil
}

func (t *tableUndoStack) commit() error {
	if len(t.stack) == 0 {
		return fmt.Errorf("wrong stage %d of table %v on committing", t.stage, t.table)
	}
	t.stack = t.stack[1:]
	if len(t.stack) == 0 {
		t.revision = common.ImpossibleRevision
		t.stage = stageUnknown
	}
	return nil
}

func (t *tableUndoStack) setUndoNextPK(rev common.Revision, undoPK common.PK) common.PK {
	if existing, ok := t.undoNextPKMap[rev]; ok {
		return existing
	}
	t.undoNextPKMap[rev] = undoPK
	return undoPK
}

func (t *tableUndoStack) moveUndoNextPK(dst, src common.Revision) {
	if v, ok := t.undoNextPKMap[src]; ok {
		t.undoNextPKMap[dst] = v
		delete(t.undoNextPKMap, src)
	}
}

func (t *tableUndoStack) removeUndoNextPK(rev common.Revision) {
	for r := range t.undoNextPKMap {
		if r < rev {
			delete(t.undoNextPKMap, r)
		}
	}
}

func (t *tableUndoStack) size() int   { return len(t.stack) }
func (t *tableUndoStack) empty() bool { return len(t.stack) == 0 }

func (t *tableUndoStack) updateStage() {
	if !t.empty() && t.revision == t.stack[len(t.stack)-1].revision {
		t.stage = stageStack
	} else if t.revision > common.StartRevision {
		t.stage = stageNew
	} else {
		t.revision = common.ImpossibleRevision
		t.stage = stageUnknown
	}
}
