// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carmen-db/chaindb/common"
	"github.com/carmen-db/chaindb/object"
)

var testTable = TableDef{
	Code: 1, Table: 1, Name: "accounts", PKOrder: []string{"pk"},
	Indexes: []IndexDef{{ID: 1, Name: "by_balance", Order: []string{"balance"}}},
}

func newTestSchema() *JSONSchema {
	return NewJSONSchema([]TableDef{testTable})
}

func TestFindTableResolvesKnownTable(t *testing.T) {
	s := newTestSchema()
	def, ok := s.FindTable(1, 1)
	require.True(t, ok)
	require.Equal(t, "accounts", def.Name)
}

func TestFindTableReportsUnknownTable(t *testing.T) {
	s := newTestSchema()
	_, ok := s.FindTable(1, 99)
	require.False(t, ok)
}

func TestToBytesThenToObjectRoundTrips(t *testing.T) {
	s := newTestSchema()
	value := map[string]any{"pk": float64(1), "balance": float64(100)}

	b, err := s.ToBytes(testTable, value)
	require.NoError(t, err)

	got, err := s.ToObject(testTable, b)
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestExtractPKReadsSingleFieldPK(t *testing.T) {
	s := newTestSchema()
	pk, err := s.ExtractPK(testTable, map[string]any{"pk": float64(7), "balance": float64(1)})
	require.NoError(t, err)
	require.Equal(t, common.PK(7), pk)
}

func TestExtractPKRejectsMissingField(t *testing.T) {
	s := newTestSchema()
	_, err := s.ExtractPK(testTable, map[string]any{"balance": float64(1)})
	require.Error(t, err)
}

func TestExtractPKRejectsMultiFieldPKOrder(t *testing.T) {
	s := NewJSONSchema([]TableDef{{Code: 1, Table: 2, Name: "multi", PKOrder: []string{"a", "b"}}})
	_, err := s.ExtractPK(TableDef{Code: 1, Table: 2, Name: "multi", PKOrder: []string{"a", "b"}}, map[string]any{"a": 1.0, "b": 2.0})
	require.Error(t, err)
}

func TestToObjectAtRevisionUsesHistoricalDefinitionBeforeCutover(t *testing.T) {
	old := TableDef{Code: 1, Table: 1, Name: "accounts_v0", PKOrder: []string{"pk"}}
	s := newTestSchema().WithHistory([]History{
		{FromRevision: 0, Tables: map[object.TableKey]TableDef{{Code: 1, Table: 1}: old}},
		{FromRevision: 10, Tables: map[object.TableKey]TableDef{{Code: 1, Table: 1}: testTable}},
	})

	value := map[string]any{"pk": float64(1)}
	b, err := s.ToBytes(old, value)
	require.NoError(t, err)

	got, err := s.ToObjectAtRevision(testTable, b, 5)
	require.NoError(t, err)
	require.Equal(t, value, got)
}

type stubVerifier struct{ has bool }

func (v stubVerifier) HasIndex(TableDef, IndexDef) bool { return v.has }

func TestVerifyTablesStructurePassesWhenIndexesPresent(t *testing.T) {
	s := newTestSchema()
	require.NoError(t, s.VerifyTablesStructure(stubVerifier{has: true}))
}

func TestVerifyTablesStructureFailsWhenIndexMissing(t *testing.T) {
	s := newTestSchema()
	require.Error(t, s.VerifyTablesStructure(stubVerifier{has: false}))
}
