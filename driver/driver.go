// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package driver fixes the contract a backing key-value store must meet
// to sit underneath a chaindb controller: cursor-based ordered lookup,
// batched apply of journaled writes, and persistence of the undo stream
// itself for crash recovery. Concrete drivers (leveldb, sqlite) live in
// subpackages; chaindb's own tests use the map-backed driver/memdriver
// fixture instead of a generated mock.
package driver

import (
	"github.com/carmen-db/chaindb/common"
	"github.com/carmen-db/chaindb/journal"
	"github.com/carmen-db/chaindb/object"
)

// CursorKind selects which index/direction a cursor walks.
type CursorKind int

const (
	// CursorPK walks the primary-key index in ascending order.
	CursorPK CursorKind = iota
	// CursorEnd is the fixed "one past the last row" position.
	CursorEnd
)

// Cursor identifies a position within a table's index. End is a sentinel
// position, never dereferenced.
type Cursor struct {
	Table object.TableKey
	Index object.IndexID
	Kind  CursorKind
	PK    common.PK
}

// Driver is the storage backend a controller reads through and flushes
// journaled writes to.
type Driver interface {
	// Begin returns a cursor at the table's first row.
	Begin(table object.TableKey, index object.IndexID) (Cursor, error)
	// End returns the table's fixed end cursor.
	End(table object.TableKey, index object.IndexID) (Cursor, error)
	// Find resolves the cursor exactly at pk, or End if absent.
	Find(table object.TableKey, index object.IndexID, pk common.PK) (Cursor, error)
	// LowerBound resolves the first position >= the given key fields.
	LowerBound(table object.TableKey, index object.IndexID, key []object.Value) (Cursor, error)
	// UpperBound resolves the first position strictly greater than the
	// given key fields.
	UpperBound(table object.TableKey, index object.IndexID, key []object.Value) (Cursor, error)

	// Dereference reads the row at a cursor; IsNull on the result if End.
	Dereference(cursor Cursor) (object.ObjectValue, error)
	// Advance returns the cursor for the row following cursor.
	Advance(cursor Cursor) (Cursor, error)

	// AvailablePK returns a PK not currently in use in the table.
	AvailablePK(table object.TableKey) (common.PK, error)

	// ApplyAllChanges flushes one table's journaled data and undo
	// operations atomically.
	ApplyAllChanges(table object.TableKey, data, undo []journal.WriteOperation) error

	// LoadUndoStream reads back the persisted undo stream for crash
	// recovery, ordered by (revision ASC, undo_pk ASC).
	LoadUndoStream(table object.TableKey) ([]UndoRow, error)

	// DropTable removes a table and all its persisted data/undo rows.
	DropTable(table object.TableKey) error

	// HasIndex reports whether table currently has a physical index
	// matching the given definition's field ordering; used by
	// schema.Schema.VerifyTablesStructure.
	HasIndex(table object.TableKey, indexFields []string, unique bool) bool
}

// UndoRow is one persisted undo-stream record as read back during restore.
type UndoRow struct {
	Revision   common.Revision
	UndoPK     common.PK
	Header     object.ServiceHeader
	Value      object.Value
	UndoRecord object.UndoRecord
}

// Codec translates between a table's structured Values and their
// canonical wire bytes. Reference drivers accept one at construction time
// so they never need to import the schema package directly; the chaindb
// package supplies an adapter backed by a schema.Schema.
type Codec interface {
	Encode(table object.TableKey, value object.Value) ([]byte, error)
	Decode(table object.TableKey, data []byte) (object.Value, error)
}

// IndexKey is one physical secondary-index entry: a declared index's ID
// plus the canonical encoding of the key fields a row's value resolves to
// under it.
type IndexKey struct {
	Index object.IndexID
	Key   []byte
}

// IndexSource is an optional capability a Codec may additionally implement
// so a driver can physically maintain secondary-index storage without ever
// inspecting Value's internal shape itself — the same reason Codec exists.
// A driver checks for it with a type assertion at construction time; a
// Codec that does not implement it simply gets no secondary-index
// maintenance from that driver.
type IndexSource interface {
	// IndexKeys returns the (index, key bytes) entries value resolves to
	// under table's declared unique secondary indexes.
	IndexKeys(table object.TableKey, value object.Value) ([]IndexKey, error)
	// EncodeIndexKey canonically encodes a query-supplied lookup key the
	// same way IndexKeys encodes a row's own field values, so a driver's
	// lookup compares like with like.
	EncodeIndexKey(key []object.Value) []byte
}
