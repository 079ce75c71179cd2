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

	"github.com/carmen-db/chaindb/cache"
	"github.com/carmen-db/chaindb/common"
	"github.com/carmen-db/chaindb/driver"
	"github.com/carmen-db/chaindb/journal"
	"github.com/carmen-db/chaindb/object"
)

// undoEngine composes per-table undoStacks into one session: it drives
// StartSession/Commit/Squash/Undo across every table touched in a
// revision, and implements the cross-table composition rules used to
// merge two adjacent revisions of the same table's undo frames during a
// squash.
type undoEngine struct {
	stage        undoStage
	revision     common.Revision
	tailRevision common.Revision
	undoPK       common.PK

	tables map[object.TableKey]*tableUndoStack

	jrnl   *journal.Journal
	cache  *cache.Cache
	driver driver.Driver
}

func newUndoEngine(drv driver.Driver, c *cache.Cache, jrnl *journal.Journal) *undoEngine {
	return &undoEngine{
		tables: make(map[object.TableKey]*tableUndoStack),
		undoPK: 1,
		driver: drv,
		cache:  c,
		jrnl:   jrnl,
	}
}

// Enabled reports whether a session is currently open.
func (e *undoEngine) Enabled() bool {
	return e.stage == stageNew || e.stage == stageStack
}

// SetRevision seeds the engine's starting revision; only valid before any
// table has been touched, e.g. right after Restore.
func (e *undoEngine) SetRevision(rev common.Revision) error {
	if len(e.tables) != 0 {
		return fmt.Errorf("cannot set revision while an undo stack exists")
	}
	e.revision = rev
	e.tailRevision = rev
	e.stage = stageUnknown
	return nil
}

// StartSession bumps the revision and moves every table touched so far
// into it (each table pushes its frame lazily on its first write); tables
// created afterward pick the revision up via getTable.
func (e *undoEngine) StartSession() common.Revision {
	e.revision++
	for _, t := range e.tables {
		_ = t.startSession(e.revision)
	}
	e.stage = stageStack
	return e.revision
}

func (e *undoEngine) getTable(table object.TableKey) *tableUndoStack {
	t, ok := e.tables[table]
	if !ok {
		t = newTableUndoStack(table, e.revision)
		e.tables[table] = t
	}
	return t
}

func (e *undoEngine) generateUndoPK() common.PK {
	if !common.IsGood(e.undoPK) {
		e.undoPK = 1
	}
	pk := e.undoPK
	e.undoPK++
	return pk
}

func copyUndoFields(dst *object.ServiceHeader, src object.ServiceHeader) {
	dst.Payer = src.Payer
	dst.Size = src.Size
	dst.InRAM = src.InRAM
}

func (e *undoEngine) initUndoObject(header *object.ServiceHeader, rec object.UndoRecord) {
	header.SnapshotUndoState()
	header.Revision = e.revision
	header.UndoPK = e.generateUndoPK()
	header.UndoRecord = rec
}

// ForceUndo injects an undo-stream row directly, bypassing per-table
// composition; used only by the privileged system-account path.
func (e *undoEngine) ForceUndo(table object.TableKey, obj object.ObjectValue) {
	if obj.Service.UndoPK+1 > e.undoPK {
		e.undoPK = obj.Service.UndoPK + 1
	}
	e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpInsert, Header: obj.Service, Value: obj.Value})
}

// Insert records a just-inserted row into the table's current undo
// frame, composing with any prior removal of the same pk within the
// frame (del+ins -> upd).
func (e *undoEngine) Insert(table object.TableKey, obj object.ObjectValue) error {
	if !e.Enabled() {
		e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpInsert, Header: obj.Service, Value: obj.Value})
		return nil
	}
	t := e.getTable(table)
	head, err := t.head()
	if err != nil {
		return err
	}
	pk := obj.PK()
	e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpInsert, Header: obj.Service, Value: obj.Value})

	if removed, ok := head.removedValues[pk]; ok {
		copyUndoFields(&removed.Service, obj.Service)
		removed.Service.UndoRecord = object.UndoRecordOldValue
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpUpdate, Header: removed.Service, Value: removed.Value})
		head.oldValues[pk] = removed
		delete(head.removedValues, pk)
		return nil
	}

	e.initUndoObject(&obj.Service, object.UndoRecordNewValue)
	e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpInsert, Header: obj.Service, Value: obj.Value})
	head.newValues[pk] = obj

	if !head.hasNextPK {
		head.setNextPK(pk)
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpInsert, Header: head.nextPKObject(table).Service})
	}
	return nil
}

// Update records a row change into the table's current undo frame.
func (e *undoEngine) Update(table object.TableKey, orig, obj object.ObjectValue) error {
	if !e.Enabled() {
		e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpUpdate, Header: obj.Service, Value: obj.Value})
		return nil
	}
	t := e.getTable(table)
	head, err := t.head()
	if err != nil {
		return err
	}
	pk := orig.PK()
	e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpUpdate, Header: obj.Service, Value: obj.Value})

	if n, ok := head.newValues[pk]; ok {
		copyUndoFields(&n.Service, obj.Service)
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpUpdate, Header: n.Service, Value: n.Value})
		head.newValues[pk] = n
		return nil
	}
	if o, ok := head.oldValues[pk]; ok {
		copyUndoFields(&o.Service, obj.Service)
		e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpUpdate, Header: obj.Service, Value: obj.Value})
		head.oldValues[pk] = o
		return nil
	}

	e.initUndoObject(&orig.Service, object.UndoRecordOldValue)
	copyUndoFields(&orig.Service, obj.Service)
	e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpInsert, Header: orig.Service, Value: orig.Value})
	head.oldValues[pk] = orig
	return nil
}

// Remove records a row deletion into the table's current undo frame.
func (e *undoEngine) Remove(table object.TableKey, orig object.ObjectValue) error {
	if !e.Enabled() {
		e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpRemove, Header: orig.Service})
		return nil
	}
	t := e.getTable(table)
	head, err := t.head()
	if err != nil {
		return err
	}
	pk := orig.PK()
	e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpRemove, Header: orig.Service})

	if n, ok := head.newValues[pk]; ok {
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: n.Service, Value: n.Value})
		delete(head.newValues, pk)
		return nil
	}
	if o, ok := head.oldValues[pk]; ok {
		o.Service.UndoRecord = object.UndoRecordRemovedValue
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpUpdate, Header: o.Service, Value: o.Value})
		head.removedValues[pk] = o
		delete(head.oldValues, pk)
		return nil
	}

	e.initUndoObject(&orig.Service, object.UndoRecordRemovedValue)
	e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpInsert, Header: orig.Service, Value: orig.Value})
	head.removedValues[pk] = orig
	return nil
}

func (e *undoEngine) removeNextPK(table object.TableKey, t *tableUndoStack, state *undoState) {
	if !state.hasNextPK {
		return
	}
	e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: state.nextPKObject(table).Service})
	state.resetNextPK()
}

// Undo reverts one revision across every touched table, restoring each
// row's pre-change state into the cache and journal.
func (e *undoEngine) Undo(undoRev common.Revision) error {
	if e.revision != undoRev {
		return fmt.Errorf("wrong undo revision %d != %d", e.revision, undoRev)
	}
	for table, t := range e.tables {
		if t.empty() {
			continue
		}
		if err := e.undoTable(table, t, undoRev); err != nil {
			return err
		}
	}
	e.pruneEmptyTables()
	e.revision--
	if e.revision == e.tailRevision {
		e.stage = stageUnknown
	}
	return nil
}

func (e *undoEngine) undoTable(table object.TableKey, t *tableUndoStack, undoRev common.Revision) error {
	if undoRev > t.headRevision() {
		return t.undo()
	}
	head, err := t.head()
	if err != nil {
		return err
	}
	if head.revision != undoRev {
		return fmt.Errorf("wrong undo revision %d != %d for table %v", head.revision, undoRev, table)
	}

	e.cache.DropTable(table)

	for pk, obj := range head.oldValues {
		// Cancel this pk's persisted undo row using its Header as last
		// written (Revision == this frame's own revision) before
		// RestoreUndoState overwrites Revision with the pre-image's.
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: obj.Service})
		obj.Service.RestoreUndoState()
		e.cache.Put(obj)
		e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpUpdate, Header: obj.Service, Value: obj.Value})
		_ = pk
	}
	for pk, obj := range head.newValues {
		e.cache.MarkAbsent(table, pk)
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: obj.Service})
		e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpRemove, Header: object.ServiceHeader{Code: table.Code, Scope: table.Scope, Table: table.Table, PK: pk}})
	}
	for _, obj := range head.removedValues {
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: obj.Service})
		obj.Service.RestoreUndoState()
		e.cache.Put(obj)
		e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpInsert, Header: obj.Service, Value: obj.Value})
	}
	if head.hasNextPK {
		e.cache.SetNextPK(table, head.nextPK)
	}
	e.removeNextPK(table, t, head)

	return t.undo()
}

func (e *undoEngine) pruneEmptyTables() {
	for key, t := range e.tables {
		if t.empty() {
			delete(e.tables, key)
		}
	}
}

// Squash merges the current revision's undo frame for every touched
// table into the revision below it.
func (e *undoEngine) Squash(squashRev common.Revision) error {
	if e.revision != squashRev {
		return fmt.Errorf("wrong squash revision %d != %d", e.revision, squashRev)
	}
	for table, t := range e.tables {
		if t.empty() {
			continue
		}
		if err := e.squashTable(table, t, squashRev); err != nil {
			return err
		}
	}
	e.pruneEmptyTables()
	e.revision--
	if e.revision == e.tailRevision {
		e.stage = stageUnknown
	}
	return nil
}

func (e *undoEngine) squashTable(table object.TableKey, t *tableUndoStack, squashRev common.Revision) error {
	if squashRev > t.headRevision() {
		return t.squash()
	}
	state, err := t.head()
	if err != nil {
		return err
	}
	if state.revision != squashRev {
		return fmt.Errorf("wrong squash revision %d != %d for table %v", state.revision, squashRev, table)
	}

	if t.size() == 1 {
		if state.revision-1 > e.tailRevision {
			return e.squashLoneState(table, t, state)
		}
		return e.removeState(table, t, state)
	}

	prev, err := t.prevState()
	if err != nil {
		return err
	}
	if prev.revision != state.revision-1 {
		return e.squashLoneState(table, t, state)
	}
	return e.mergeStates(table, t, prev, state)
}

// squashLoneState demotes a single-frame state down one revision without
// merging it into a neighbour (there isn't one at the tail, or the
// neighbour isn't adjacent).
func (e *undoEngine) squashLoneState(table object.TableKey, t *tableUndoStack, state *undoState) error {
	for pk, obj := range state.oldValues {
		e.cache.SetRevisionHint(table, pk, state.revision-1)
		e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpRevision, FromRevision: state.revision, Header: obj.Service, Value: obj.Value})
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRevision, FromRevision: state.revision, Header: obj.Service, Value: obj.Value})
		obj.Service.Revision = state.revision - 1
		state.oldValues[pk] = obj
	}
	for pk, obj := range state.newValues {
		e.cache.SetRevisionHint(table, pk, state.revision-1)
		e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpRevision, FromRevision: state.revision, Header: obj.Service, Value: obj.Value})
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRevision, FromRevision: state.revision, Header: obj.Service, Value: obj.Value})
		obj.Service.Revision = state.revision - 1
		state.newValues[pk] = obj
	}
	for pk, obj := range state.removedValues {
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRevision, FromRevision: state.revision, Header: obj.Service, Value: obj.Value})
		obj.Service.Revision = state.revision - 1
		state.removedValues[pk] = obj
	}
	if state.hasNextPK {
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRevision, FromRevision: state.revision, Header: state.nextPKObject(table).Service})
		t.moveUndoNextPK(state.revision-1, state.revision)
	}
	return t.squash()
}

// removeState drops a state that is squashing below the tail revision:
// it can never be undone past the tail, so its undo rows are discarded
// rather than demoted.
func (e *undoEngine) removeState(table object.TableKey, t *tableUndoStack, state *undoState) error {
	for pk, obj := range state.oldValues {
		e.cache.SetRevisionHint(table, pk, state.revision-1)
		e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpRevision, FromRevision: state.revision, Header: obj.Service, Value: obj.Value})
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: obj.Service})
	}
	for pk, obj := range state.newValues {
		e.cache.SetRevisionHint(table, pk, state.revision-1)
		e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpRevision, FromRevision: state.revision, Header: obj.Service, Value: obj.Value})
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: obj.Service})
	}
	for _, obj := range state.removedValues {
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: obj.Service})
	}
	e.removeNextPK(table, t, state)
	return t.undo()
}

// mergeStates composes two adjacent frames (prev=A, state=B) in place
// into prev, following the squash composition table: new+upd->new (A),
// upd+upd->upd(was=X) (A), del+ins->upd (C), new+del->nop (C); del+upd
// and del+del are causally impossible and are reported as bugs.
func (e *undoEngine) mergeStates(table object.TableKey, t *tableUndoStack, prev, state *undoState) error {
	for pk, obj := range state.oldValues {
		if n, ok := prev.newValues[pk]; ok {
			copyUndoFields(&n.Service, obj.Service)
			e.cache.SetRevisionHint(table, pk, prev.revision)
			e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpRevision, FromRevision: state.revision, Header: n.Service, Value: n.Value})
			e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: n.Service})
			prev.newValues[pk] = n
			continue
		}
		if o, ok := prev.oldValues[pk]; ok {
			copyUndoFields(&o.Service, obj.Service)
			e.cache.SetRevisionHint(table, pk, prev.revision)
			e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpRevision, FromRevision: state.revision, Header: o.Service, Value: o.Value})
			e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: o.Service})
			prev.oldValues[pk] = o
			continue
		}
		if _, ok := prev.removedValues[pk]; ok {
			panic(fmt.Sprintf("impossible squash composition for table %v: delete then update", table))
		}

		e.cache.SetRevisionHint(table, pk, prev.revision)
		e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpRevision, FromRevision: state.revision, Header: obj.Service, Value: obj.Value})
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRevision, FromRevision: state.revision, Header: obj.Service, Value: obj.Value})
		obj.Service.Revision = prev.revision
		prev.oldValues[pk] = obj
	}

	for pk, obj := range state.newValues {
		e.cache.SetRevisionHint(table, pk, prev.revision)
		if removed, ok := prev.removedValues[pk]; ok {
			e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: obj.Service})
			removed.Service.UndoRecord = object.UndoRecordOldValue
			e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpUpdate, Header: removed.Service, Value: removed.Value})
			prev.oldValues[pk] = removed
			delete(prev.removedValues, pk)
			continue
		}
		e.jrnl.WriteData(table, journal.WriteOperation{Type: journal.OpRevision, FromRevision: state.revision, Header: obj.Service, Value: obj.Value})
		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRevision, FromRevision: state.revision, Header: obj.Service, Value: obj.Value})
		obj.Service.Revision = prev.revision
		prev.newValues[pk] = obj
	}

	for pk, obj := range state.removedValues {
		if n, ok := prev.newValues[pk]; ok {
			delete(prev.newValues, pk)
			e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: n.Service})
			e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: obj.Service})
			continue
		}
		if o, ok := prev.oldValues[pk]; ok {
			delete(prev.oldValues, pk)
			prev.removedValues[pk] = o
			e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: obj.Service})
			continue
		}
		if _, ok := prev.removedValues[pk]; ok {
			panic(fmt.Sprintf("impossible squash composition for table %v: delete then delete", table))
		}

		e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRevision, FromRevision: state.revision, Header: obj.Service, Value: obj.Value})
		obj.Service.Revision = prev.revision
		prev.removedValues[pk] = obj
	}

	if state.hasNextPK {
		if !prev.hasNextPK {
			e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRevision, FromRevision: state.revision, Header: state.nextPKObject(table).Service})
			prev.hasNextPK = true
			prev.nextPK = state.nextPK
		} else {
			e.removeNextPK(table, t, state)
		}
	}

	return t.undo()
}

// Commit retires every frame at or below commitRev, discarding their undo
// rows since they can no longer be reverted.
func (e *undoEngine) Commit(commitRev common.Revision) error {
	if commitRev <= e.tailRevision {
		return nil
	}
	for table, t := range e.tables {
		if err := e.commitTable(table, t, commitRev); err != nil {
			return err
		}
	}
	e.pruneEmptyTables()
	e.tailRevision = commitRev
	if e.revision == e.tailRevision {
		e.stage = stageUnknown
	}
	return nil
}

func (e *undoEngine) commitTable(table object.TableKey, t *tableUndoStack, commitRev common.Revision) error {
	t.removeUndoNextPK(commitRev)
	for !t.empty() {
		state, err := t.tail()
		if err != nil {
			return err
		}
		if state.revision > commitRev {
			return nil
		}
		for _, obj := range state.oldValues {
			e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: obj.Service})
		}
		for _, obj := range state.newValues {
			e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: obj.Service})
		}
		for _, obj := range state.removedValues {
			e.jrnl.WriteUndo(table, journal.WriteOperation{Type: journal.OpRemove, Header: obj.Service})
		}
		e.removeNextPK(table, t, state)
		if err := t.commit(); err != nil {
			return err
		}
	}
	return nil
}
