// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package journal buffers the writes a session produces before they are
// flushed to a backing driver: one stream of live-table changes ("data")
// and one stream of undo-table changes ("undo"), each kept in arrival
// order and flushed per-table, per-pk.
package journal

import (
	"github.com/carmen-db/chaindb/common"
	"github.com/carmen-db/chaindb/object"
)

// OpType tags what a WriteOperation does to a row.
type OpType int

const (
	OpInsert OpType = iota
	OpUpdate
	OpRemove
	OpRevision
)

func (t OpType) String() string {
	switch t {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	case OpRevision:
		return "revision"
	default:
		return "unknown"
	}
}

// WriteOperation is one pending change against a table or its undo stream.
// Value is populated for OpInsert/OpUpdate; Header alone suffices for
// OpRemove; FromRevision is only meaningful for OpRevision.
type WriteOperation struct {
	Type         OpType
	Header       object.ServiceHeader
	Value        object.Value
	FromRevision common.Revision
}

// Driver is the subset of driver.Driver the journal needs to flush
// buffered operations; kept local to avoid an import cycle with driver.
type Driver interface {
	ApplyAllChanges(table object.TableKey, data, undo []WriteOperation) error
}

type tableStream struct {
	data []WriteOperation
	undo []WriteOperation
}

// Journal buffers per-table data/undo write streams for a single session.
type Journal struct {
	tables map[object.TableKey]*tableStream
	order  []object.TableKey
}

// New returns an empty Journal.
func New() *Journal {
	return &Journal{tables: make(map[object.TableKey]*tableStream)}
}

func (j *Journal) stream(table object.TableKey) *tableStream {
	s, ok := j.tables[table]
	if !ok {
		s = &tableStream{}
		j.tables[table] = s
		j.order = append(j.order, table)
	}
	return s
}

// WriteData appends an operation to the table's live-data stream.
func (j *Journal) WriteData(table object.TableKey, op WriteOperation) {
	s := j.stream(table)
	s.data = append(s.data, op)
}

// WriteUndo appends an operation to the table's undo stream.
func (j *Journal) WriteUndo(table object.TableKey, op WriteOperation) {
	s := j.stream(table)
	s.undo = append(s.undo, op)
}

// Empty reports whether nothing has been journaled.
func (j *Journal) Empty() bool {
	return len(j.order) == 0
}

// ApplyAllChanges flushes every table's data and undo streams, in the
// order tables were first touched, then clears the journal. A flush error
// aborts before clearing so the caller can inspect what failed.
func (j *Journal) ApplyAllChanges(driver Driver) error {
	for _, table := range j.order {
		s := j.tables[table]
		if len(s.data) == 0 && len(s.undo) == 0 {
			continue
		}
		if err := driver.ApplyAllChanges(table, s.data, s.undo); err != nil {
			return common.NewError(common.KindDriver, "apply_changes", "", err)
		}
	}
	j.Clear()
	return nil
}

// ApplyCodeChanges flushes only the tables belonging to code, leaving the
// rest of the journal intact — used when committing a single contract's
// changes independently of the surrounding session.
func (j *Journal) ApplyCodeChanges(driver Driver, code object.Code) error {
	remaining := j.order[:0]
	for _, table := range j.order {
		if table.Code != code {
			remaining = append(remaining, table)
			continue
		}
		s := j.tables[table]
		if len(s.data) > 0 || len(s.undo) > 0 {
			if err := driver.ApplyAllChanges(table, s.data, s.undo); err != nil {
				return common.NewError(common.KindDriver, "apply_code_changes", "", err)
			}
		}
		delete(j.tables, table)
	}
	j.order = remaining
	return nil
}

// Clear discards all buffered operations without flushing them.
func (j *Journal) Clear() {
	j.tables = make(map[object.TableKey]*tableStream)
	j.order = nil
}
