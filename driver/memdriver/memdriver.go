// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package memdriver is an in-memory reference driver.Driver, grounded on
// the teacher's memoryDbStore test double: a map-backed store with the
// same contract as the leveldb/sqlite drivers, used for fast controller
// and undo-engine unit tests that don't need real persistence.
package memdriver

import (
	"sort"

	"github.com/carmen-db/chaindb/common"
	"github.com/carmen-db/chaindb/driver"
	"github.com/carmen-db/chaindb/journal"
	"github.com/carmen-db/chaindb/object"
)

type undoKey struct {
	revision common.Revision
	undoPK   common.PK
}

type tableStore struct {
	rows map[common.PK]object.ObjectValue
	undo map[undoKey]driver.UndoRow
}

// Driver is a map-backed driver.Driver; it round-trips object.Value
// directly, without any byte encoding, since it is for in-process tests.
type Driver struct {
	tables map[object.TableKey]*tableStore
}

var _ driver.Driver = (*Driver)(nil)

// New returns an empty Driver.
func New() *Driver {
	return &Driver{tables: make(map[object.TableKey]*tableStore)}
}

func (d *Driver) table(key object.TableKey) *tableStore {
	t, ok := d.tables[key]
	if !ok {
		t = &tableStore{rows: make(map[common.PK]object.ObjectValue), undo: make(map[undoKey]driver.UndoRow)}
		d.tables[key] = t
	}
	return t
}

func (d *Driver) sortedPKs(key object.TableKey) []common.PK {
	t := d.table(key)
	pks := make([]common.PK, 0, len(t.rows))
	for pk := range t.rows {
		pks = append(pks, pk)
	}
	sort.Slice(pks, func(i, j int) bool { return pks[i] < pks[j] })
	return pks
}

func (d *Driver) Begin(table object.TableKey, index object.IndexID) (driver.Cursor, error) {
	pks := d.sortedPKs(table)
	if len(pks) == 0 {
		return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
	}
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: pks[0]}, nil
}

func (d *Driver) End(table object.TableKey, index object.IndexID) (driver.Cursor, error) {
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
}

func (d *Driver) Find(table object.TableKey, index object.IndexID, pk common.PK) (driver.Cursor, error) {
	if _, ok := d.table(table).rows[pk]; !ok {
		return d.End(table, index)
	}
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: pk}, nil
}

func (d *Driver) LowerBound(table object.TableKey, index object.IndexID, key []object.Value) (driver.Cursor, error) {
	pk := key[0].(common.PK)
	for _, candidate := range d.sortedPKs(table) {
		if candidate >= pk {
			return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: candidate}, nil
		}
	}
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
}

func (d *Driver) UpperBound(table object.TableKey, index object.IndexID, key []object.Value) (driver.Cursor, error) {
	pk := key[0].(common.PK)
	for _, candidate := range d.sortedPKs(table) {
		if candidate > pk {
			return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: candidate}, nil
		}
	}
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
}

func (d *Driver) Dereference(cursor driver.Cursor) (object.ObjectValue, error) {
	if cursor.Kind == driver.CursorEnd {
		return object.ObjectValue{Service: object.ServiceHeader{PK: common.EndPK}}, nil
	}
	obj, ok := d.table(cursor.Table).rows[cursor.PK]
	if !ok {
		return object.ObjectValue{Service: object.ServiceHeader{PK: common.EndPK}}, nil
	}
	return obj, nil
}

func (d *Driver) Advance(cursor driver.Cursor) (driver.Cursor, error) {
	if cursor.Kind == driver.CursorEnd {
		return cursor, nil
	}
	for _, candidate := range d.sortedPKs(cursor.Table) {
		if candidate > cursor.PK {
			return driver.Cursor{Table: cursor.Table, Index: cursor.Index, Kind: driver.CursorPK, PK: candidate}, nil
		}
	}
	return driver.Cursor{Table: cursor.Table, Index: cursor.Index, Kind: driver.CursorEnd}, nil
}

func (d *Driver) AvailablePK(table object.TableKey) (common.PK, error) {
	pks := d.sortedPKs(table)
	if len(pks) == 0 {
		return 0, nil
	}
	return pks[len(pks)-1].Next(), nil
}

func (d *Driver) ApplyAllChanges(table object.TableKey, data, undo []journal.WriteOperation) error {
	t := d.table(table)
	for _, op := range data {
		switch op.Type {
		case journal.OpInsert, journal.OpUpdate:
			t.rows[op.Header.PK] = object.ObjectValue{Service: op.Header, Value: op.Value}
		case journal.OpRemove:
			delete(t.rows, op.Header.PK)
		case journal.OpRevision:
		}
	}
	for _, op := range undo {
		key := undoKey{revision: op.Header.Revision, undoPK: op.Header.UndoPK}
		if op.Type == journal.OpRemove {
			delete(t.undo, key)
			continue
		}
		t.undo[key] = driver.UndoRow{
			Revision: op.Header.Revision, UndoPK: op.Header.UndoPK,
			Header: op.Header, Value: op.Value, UndoRecord: op.Header.UndoRecord,
		}
	}
	return nil
}

func (d *Driver) LoadUndoStream(table object.TableKey) ([]driver.UndoRow, error) {
	t := d.table(table)
	rows := make([]driver.UndoRow, 0, len(t.undo))
	for _, row := range t.undo {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Revision != rows[j].Revision {
			return rows[i].Revision < rows[j].Revision
		}
		return rows[i].UndoPK < rows[j].UndoPK
	})
	return rows, nil
}

func (d *Driver) DropTable(table object.TableKey) error {
	delete(d.tables, table)
	return nil
}

func (d *Driver) HasIndex(table object.TableKey, indexFields []string, unique bool) bool {
	return len(indexFields) == 1 && unique
}
