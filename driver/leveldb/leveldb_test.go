// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package leveldb

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carmen-db/chaindb/common"
	"github.com/carmen-db/chaindb/driver"
	"github.com/carmen-db/chaindb/journal"
	"github.com/carmen-db/chaindb/object"
)

type jsonCodec struct{}

func (jsonCodec) Encode(_ object.TableKey, value object.Value) ([]byte, error) {
	return json.Marshal(value)
}

func (jsonCodec) Decode(_ object.TableKey, data []byte) (object.Value, error) {
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var testTable = object.TableKey{Code: 1, Scope: 1, Table: 1}

func openTestDriver(t *testing.T) *Driver {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "db"), jsonCodec{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestApplyAllChangesThenDereferenceRoundTrips(t *testing.T) {
	d := openTestDriver(t)
	header := object.ServiceHeader{Code: testTable.Code, Scope: testTable.Scope, Table: testTable.Table, PK: 1, Payer: "alice", Size: 9}
	value := map[string]any{"pk": float64(1), "balance": float64(100)}

	err := d.ApplyAllChanges(testTable, []journal.WriteOperation{
		{Type: journal.OpInsert, Header: header, Value: value},
	}, nil)
	require.NoError(t, err)

	cursor, err := d.Find(testTable, 0, 1)
	require.NoError(t, err)
	require.Equal(t, driver.CursorPK, cursor.Kind)

	got, err := d.Dereference(cursor)
	require.NoError(t, err)
	require.Equal(t, value, got.Value)
	require.Equal(t, "alice", got.Service.Payer)
}

func TestFindReturnsEndForAbsentRow(t *testing.T) {
	d := openTestDriver(t)
	cursor, err := d.Find(testTable, 0, 42)
	require.NoError(t, err)
	require.Equal(t, driver.CursorEnd, cursor.Kind)
}

func TestBeginNextAdvanceInPKOrder(t *testing.T) {
	d := openTestDriver(t)
	for _, pk := range []common.PK{3, 1, 2} {
		header := object.ServiceHeader{Code: testTable.Code, Scope: testTable.Scope, Table: testTable.Table, PK: pk}
		value := map[string]any{"pk": float64(pk)}
		require.NoError(t, d.ApplyAllChanges(testTable, []journal.WriteOperation{{Type: journal.OpInsert, Header: header, Value: value}}, nil))
	}

	cursor, err := d.Begin(testTable, 0)
	require.NoError(t, err)
	var seen []common.PK
	for cursor.Kind != driver.CursorEnd {
		seen = append(seen, cursor.PK)
		cursor, err = d.Advance(cursor)
		require.NoError(t, err)
	}
	require.Equal(t, []common.PK{1, 2, 3}, seen)
}

func TestApplyAllChangesRemoveDeletesRow(t *testing.T) {
	d := openTestDriver(t)
	header := object.ServiceHeader{Code: testTable.Code, Scope: testTable.Scope, Table: testTable.Table, PK: 1}
	value := map[string]any{"pk": float64(1)}
	require.NoError(t, d.ApplyAllChanges(testTable, []journal.WriteOperation{{Type: journal.OpInsert, Header: header, Value: value}}, nil))
	require.NoError(t, d.ApplyAllChanges(testTable, []journal.WriteOperation{{Type: journal.OpRemove, Header: header}}, nil))

	cursor, err := d.Find(testTable, 0, 1)
	require.NoError(t, err)
	require.Equal(t, driver.CursorEnd, cursor.Kind)
}

func TestAvailablePKAfterInsertsReturnsNextFree(t *testing.T) {
	d := openTestDriver(t)
	for _, pk := range []common.PK{1, 2} {
		header := object.ServiceHeader{Code: testTable.Code, Scope: testTable.Scope, Table: testTable.Table, PK: pk}
		value := map[string]any{"pk": float64(pk)}
		require.NoError(t, d.ApplyAllChanges(testTable, []journal.WriteOperation{{Type: journal.OpInsert, Header: header, Value: value}}, nil))
	}
	pk, err := d.AvailablePK(testTable)
	require.NoError(t, err)
	require.Equal(t, common.PK(3), pk)
}

func TestLoadUndoStreamReturnsRowsOrderedByRevisionThenUndoPK(t *testing.T) {
	d := openTestDriver(t)
	h1 := object.ServiceHeader{Code: testTable.Code, Scope: testTable.Scope, Table: testTable.Table, PK: 1, Revision: 2, UndoPK: 5, UndoRecord: object.UndoRecordNewValue}
	h2 := object.ServiceHeader{Code: testTable.Code, Scope: testTable.Scope, Table: testTable.Table, PK: 2, Revision: 1, UndoPK: 1, UndoRecord: object.UndoRecordNewValue}

	require.NoError(t, d.ApplyAllChanges(testTable, nil, []journal.WriteOperation{
		{Type: journal.OpInsert, Header: h1, Value: map[string]any{"pk": float64(1)}},
		{Type: journal.OpInsert, Header: h2, Value: map[string]any{"pk": float64(2)}},
	}))

	rows, err := d.LoadUndoStream(testTable)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, common.Revision(1), rows[0].Revision)
	require.Equal(t, common.Revision(2), rows[1].Revision)
}

func TestDropTableRemovesRowsAndUndoStream(t *testing.T) {
	d := openTestDriver(t)
	header := object.ServiceHeader{Code: testTable.Code, Scope: testTable.Scope, Table: testTable.Table, PK: 1, Revision: 1, UndoPK: 1, UndoRecord: object.UndoRecordNewValue}
	value := map[string]any{"pk": float64(1)}
	require.NoError(t, d.ApplyAllChanges(testTable, []journal.WriteOperation{{Type: journal.OpInsert, Header: header, Value: value}},
		[]journal.WriteOperation{{Type: journal.OpInsert, Header: header, Value: value}}))

	require.NoError(t, d.DropTable(testTable))

	cursor, err := d.Find(testTable, 0, 1)
	require.NoError(t, err)
	require.Equal(t, driver.CursorEnd, cursor.Kind)

	rows, err := d.LoadUndoStream(testTable)
	require.NoError(t, err)
	require.Empty(t, rows)
}
