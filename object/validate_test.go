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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carmen-db/chaindb/common"
)

func TestValidateReservedField(t *testing.T) {
	require.NoError(t, ValidateReservedField("accounts", map[string]any{"balance": 10}))
	err := ValidateReservedField("accounts", map[string]any{ServiceField: "x"})
	require.Error(t, err)
}

func TestValidateEndObject(t *testing.T) {
	require.NoError(t, ValidateEndObject("accounts", ObjectValue{Service: ServiceHeader{PK: 5}, Value: map[string]any{}}))
	require.NoError(t, ValidateEndObject("accounts", ObjectValue{Service: ServiceHeader{PK: common.EndPK}}))

	err := ValidateEndObject("accounts", ObjectValue{Service: ServiceHeader{PK: common.EndPK}, Value: map[string]any{"x": 1}})
	require.Error(t, err)
}

func TestSnapshotAndRestoreUndoState(t *testing.T) {
	h := ServiceHeader{Payer: "alice", Size: 10, InRAM: true, Revision: 3}
	h.SnapshotUndoState()

	h.Payer = "bob"
	h.Size = 20
	h.InRAM = false
	h.Revision = 4

	h.RestoreUndoState()
	require.Equal(t, "alice", h.Payer)
	require.Equal(t, 10, h.Size)
	require.True(t, h.InRAM)
	require.Equal(t, common.Revision(3), h.Revision)
}
