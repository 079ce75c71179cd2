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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carmen-db/chaindb/driver"
)

func TestUndoRevertsInsertWithinSession(t *testing.T) {
	c := newTestController()

	session := c.StartSession()
	_, err := c.Insert(testTableKey, StoragePayer{Owner: "alice", Payer: "alice"}, 1, rowValue(1, 100))
	require.NoError(t, err)

	require.NoError(t, session.Undo())

	cursor, err := c.LocateTo(testTableKey, 0, 1)
	require.NoError(t, err)
	require.Equal(t, driver.CursorEnd, cursor.Kind)
}

func TestCommitRetainsInsertAndPreventsFurtherUndo(t *testing.T) {
	c := newTestController()

	session := c.StartSession()
	obj, err := c.Insert(testTableKey, StoragePayer{Owner: "alice", Payer: "alice"}, 1, rowValue(1, 100))
	require.NoError(t, err)
	require.NoError(t, session.Commit())
	require.ErrorIs(t, session.Undo(), ErrSessionMismatch)

	cursor, err := c.LocateTo(testTableKey, 0, 1)
	require.NoError(t, err)
	require.Equal(t, obj.PK(), cursor.PK)
}

func TestSquashMergesTwoUpdatesIntoOneUndoStep(t *testing.T) {
	c := newTestController()

	outer := c.StartSession()
	obj, err := c.Insert(testTableKey, StoragePayer{Owner: "alice", Payer: "alice"}, 1, rowValue(1, 100))
	require.NoError(t, err)
	require.NoError(t, outer.Commit())

	session1 := c.StartSession()
	updated1, err := c.Update(testTableKey, obj, StoragePayer{Owner: "alice", Payer: "alice"}, rowValue(1, 200))
	require.NoError(t, err)

	session2 := c.StartSession()
	updated2, err := c.Update(testTableKey, updated1, StoragePayer{Owner: "alice", Payer: "alice"}, rowValue(1, 300))
	require.NoError(t, err)
	require.NoError(t, session2.Squash())

	cursor, err := c.LocateTo(testTableKey, 0, 1)
	require.NoError(t, err)
	got, err := c.Current(cursor)
	require.NoError(t, err)
	require.Equal(t, rowValue(1, 300), got.Value)
	_ = updated2

	// A single undo of the merged revision restores the pre-session value.
	require.NoError(t, session1.Undo())
	cursor, err = c.LocateTo(testTableKey, 0, 1)
	require.NoError(t, err)
	got, err = c.Current(cursor)
	require.NoError(t, err)
	require.Equal(t, rowValue(1, 100), got.Value)
}

func TestForceUndoBumpsUndoPKCounter(t *testing.T) {
	c := newTestController()
	before := c.engine.undoPK

	obj, err := c.Insert(testTableKey, StoragePayer{Owner: "alice", Payer: "alice"}, 1, rowValue(1, 100))
	require.NoError(t, err)
	obj.Service.UndoPK = before + 50
	c.ForceUndo(testTableKey, obj)

	require.Equal(t, before+51, c.engine.undoPK)
}
