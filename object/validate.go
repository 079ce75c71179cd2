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

import (
	"fmt"

	"github.com/carmen-db/chaindb/common"
)

// ValidateReservedField asserts invariant 4: no user payload may carry the
// reserved service-header field name. value is expected to be a
// map[string]any as produced by a schema.Schema implementation's ToObject.
func ValidateReservedField(tableName string, value Value) error {
	m, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	if _, present := m[ServiceField]; present {
		return common.NewError(common.KindSchema, "reserved_field", tableName,
			fmt.Errorf("value uses reserved field %q", ServiceField))
	}
	return nil
}

// ValidateEndObject asserts that a null pk is only ever paired with a null
// value (the driver must never return a populated row for an end cursor).
func ValidateEndObject(tableName string, obj ObjectValue) error {
	if common.IsGood(obj.PK()) {
		return nil
	}
	if !obj.IsNull() {
		return common.NewError(common.KindDriver, "object_present_at_end", tableName,
			fmt.Errorf("driver returned a row %v instead of null for the end iterator", obj.Value))
	}
	return nil
}
