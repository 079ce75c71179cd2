// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package object defines the row model every other package in this module
// operates on: a ServiceHeader of metadata alongside a schema-typed value.
package object

import "github.com/carmen-db/chaindb/common"

// UndoRecord tags what role an undo-stream row plays.
type UndoRecord int

const (
	UndoRecordNone UndoRecord = iota
	UndoRecordNewValue
	UndoRecordOldValue
	UndoRecordRemovedValue
	UndoRecordNextPk
)

func (r UndoRecord) String() string {
	switch r {
	case UndoRecordNone:
		return "none"
	case UndoRecordNewValue:
		return "new"
	case UndoRecordOldValue:
		return "old"
	case UndoRecordRemovedValue:
		return "removed"
	case UndoRecordNextPk:
		return "next_pk"
	default:
		return "unknown"
	}
}

// TableID identifies a table within an account/scope's namespace.
type TableID uint64

// IndexID identifies a secondary index within a table.
type IndexID uint64

// Code identifies the account/contract a table belongs to.
type Code uint64

// Scope subdivides a table's rows (EOSIO-style scope / multi-tenant shard).
type Scope uint64

// TableKey identifies a table uniquely: (Code, Scope, Table).
type TableKey struct {
	Code  Code
	Scope Scope
	Table TableID
}

// ServiceHeader is the per-row metadata stored alongside every value: its
// identity, payer/owner accounting, storage size, RAM residency, revision,
// and — for undo-stream rows only — the undo bookkeeping fields.
type ServiceHeader struct {
	Code  Code
	Scope Scope
	Table TableID
	PK    common.PK

	Payer string
	Owner string
	Size  int
	InRAM bool

	Revision common.Revision

	// Shadow fields, meaningful only for rows stored in the undo stream.
	UndoPK       common.PK
	UndoRecord   UndoRecord
	UndoRevision common.Revision
	UndoPayer    string
	UndoSize     int
	UndoInRAM    bool
}

// TableKeyOf returns the (Code, Scope, Table) identity of this row's table.
func (s ServiceHeader) TableKeyOf() TableKey {
	return TableKey{Code: s.Code, Scope: s.Scope, Table: s.Table}
}

// CloneService returns a detached, independent copy of the header — used
// when a record needs to be mutated for a journal emission without
// disturbing the original (mirrors `clone_service()` in the source system).
func (s ServiceHeader) CloneService() ServiceHeader {
	return s
}

// SnapshotUndoState copies the current payer/size/in_ram/revision into the
// shadow undo_* fields, the way `init_undo_object` does before an object is
// first written into an undo_state frame.
func (s *ServiceHeader) SnapshotUndoState() {
	s.UndoRevision = s.Revision
	s.UndoPayer = s.Payer
	s.UndoSize = s.Size
	s.UndoInRAM = s.InRAM
}

// RestoreUndoState copies the shadow undo_* fields back onto the live
// fields — used when a row is being restored by undo/restore.
func (s *ServiceHeader) RestoreUndoState() {
	s.Revision = s.UndoRevision
	s.Payer = s.UndoPayer
	s.Size = s.UndoSize
	s.InRAM = s.UndoInRAM
}
