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
	"github.com/carmen-db/chaindb/driver"
	"github.com/carmen-db/chaindb/object"
	"github.com/carmen-db/chaindb/schema"
)

// DriverStructureVerifier adapts a driver.Driver into schema.Schema's
// narrower StructureVerifier contract, resolving a TableDef's identity
// into the (table, indexFields, unique) triple the driver understands.
type DriverStructureVerifier struct {
	Driver driver.Driver
}

func (v DriverStructureVerifier) HasIndex(table schema.TableDef, index schema.IndexDef) bool {
	key := object.TableKey{Code: table.Code, Table: table.Table}
	return v.Driver.HasIndex(key, index.Order, index.Unique)
}
