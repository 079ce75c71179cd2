// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package object

import "github.com/carmen-db/chaindb/common"

// ServiceField is the reserved field name used to store the ServiceHeader
// alongside a row's value on disk. No user payload may use this name
// (invariant 4).
const ServiceField = "_SERVICE_"

// ServiceKey identifies a cached or live row: (Code, Scope, Table, PK).
type ServiceKey struct {
	Code  Code
	Scope Scope
	Table TableID
	PK    common.PK
}

// Value is a dynamically-typed, schema-described document. It is produced
// and consumed exclusively by the schema package; the core never inspects
// its internal shape beyond what schema.Schema exposes.
type Value = any

// ObjectValue is a full row: its ServiceHeader plus the typed Value.
type ObjectValue struct {
	Service ServiceHeader
	Value   Value
}

// PK returns the row's primary key.
func (o ObjectValue) PK() common.PK { return o.Service.PK }

// Key returns the row's cache/service key.
func (o ObjectValue) Key() ServiceKey {
	return ServiceKey{Code: o.Service.Code, Scope: o.Service.Scope, Table: o.Service.Table, PK: o.Service.PK}
}

// IsNull reports whether this ObjectValue represents "no row" (e.g. the
// result of dereferencing an end cursor).
func (o ObjectValue) IsNull() bool {
	return o.Value == nil
}

// CloneService returns a copy of o with an independent ServiceHeader.
func (o ObjectValue) CloneService() ObjectValue {
	return ObjectValue{Service: o.Service.CloneService(), Value: o.Value}
}
