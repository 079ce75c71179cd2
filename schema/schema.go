// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package schema declares the ABI-service contract the table controller
// relies on to translate typed blobs to/from structured values and to
// extract primary-key and index orderings. The schema/ABI layer itself is
// an external collaborator (spec §1); this package only fixes the
// interface and, for tests, a minimal JSON-backed reference.
package schema

import (
	"github.com/carmen-db/chaindb/common"
	"github.com/carmen-db/chaindb/object"
)

// TableDef describes a table's identity and declared indexes.
type TableDef struct {
	Code    object.Code
	Table   object.TableID
	Name    string
	PKField string
	PKOrder []string
	Indexes []IndexDef
}

// IndexDef describes a secondary (or primary-key) index.
type IndexDef struct {
	ID     object.IndexID
	Name   string
	Unique bool
	Order  []string
}

// Schema is the read-only service a controller queries to resolve table
// and index metadata and to convert between bytes/typed values.
type Schema interface {
	// FindTable resolves a table definition, or ok=false if unknown.
	FindTable(code object.Code, table object.TableID) (TableDef, bool)
	// FindIndex resolves a secondary index definition on a known table.
	FindIndex(table TableDef, index object.IndexID) (IndexDef, bool)
	// FindPKIndex returns the table's implicit primary-key index.
	FindPKIndex(table TableDef) IndexDef
	// FindPKOrder returns the ordered list of value fields composing pk.
	FindPKOrder(table TableDef) []string

	// ToObject decodes a wire blob into a structured Value for the given
	// table or index.
	ToObject(table TableDef, data []byte) (object.Value, error)
	// ToBytes encodes a structured Value into its canonical wire blob.
	ToBytes(table TableDef, value object.Value) ([]byte, error)
	// CanonicalStorageSize returns the billed storage size of value.
	CanonicalStorageSize(value object.Value) int
	// ExtractPK reads the primary key embedded in value, per FindPKOrder.
	ExtractPK(table TableDef, value object.Value) (common.PK, error)
	// ExtractIndexKey reads the ordered field values composing index's key
	// out of value, per index.Order.
	ExtractIndexKey(table TableDef, index IndexDef, value object.Value) ([]object.Value, error)

	// VerifyTablesStructure checks the backing store's physical schema
	// (indexes, etc.) matches this Schema's declarations.
	VerifyTablesStructure(verifier StructureVerifier) error
}

// StructureVerifier is the minimal surface of the backing-store driver
// needed by VerifyTablesStructure; kept separate from driver.Driver so
// schema does not need to import driver.
type StructureVerifier interface {
	HasIndex(table TableDef, index IndexDef) bool
}
