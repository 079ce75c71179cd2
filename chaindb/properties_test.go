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
	"github.com/carmen-db/chaindb/driver/memdriver"
	"github.com/carmen-db/chaindb/object"
	"github.com/carmen-db/chaindb/resource"
	"github.com/carmen-db/chaindb/schema"
)

// Property 3: commit-is-terminal. Once a revision is committed its undo
// rows are gone from the persisted stream, so a crash-restart has nothing
// left to revert for it.
func TestPropertyCommitIsTerminalAcrossRestart(t *testing.T) {
	drv := memdriver.New()
	sch := schema.NewJSONSchema([]schema.TableDef{
		{Code: testTableKey.Code, Table: testTableKey.Table, Name: "accounts", PKOrder: []string{"pk"}},
	})

	c1 := New(drv, sch, resource.NewMemoryManager())
	session := c1.StartSession()
	_, err := c1.Insert(testTableKey, StoragePayer{Owner: "alice", Payer: "alice"}, 1, rowValue(1, 100))
	require.NoError(t, err)
	require.NoError(t, session.Commit())
	require.NoError(t, c1.Flush())

	rows, err := drv.LoadUndoStream(testTableKey)
	require.NoError(t, err)
	require.Empty(t, rows)

	c2 := New(drv, sch, resource.NewMemoryManager())
	require.NoError(t, c2.Restore([]object.TableKey{testTableKey}))
	require.Equal(t, 0, len(c2.engine.tables))

	cursor, err := c2.LocateTo(testTableKey, 0, 1)
	require.NoError(t, err)
	got, err := c2.Current(cursor)
	require.NoError(t, err)
	require.Equal(t, rowValue(1, 100), got.Value)
}

// Property 4: squash-associative. Composing three nested updates through
// two successive squashes (innermost first, the only order the API
// allows) lands on the same final value and single-step undo target as
// a direct three-way fold would predict.
func TestPropertySquashAssociativeAcrossThreeLevels(t *testing.T) {
	c := newTestController()

	base := c.StartSession()
	obj, err := c.Insert(testTableKey, StoragePayer{Owner: "alice", Payer: "alice"}, 1, rowValue(1, 100))
	require.NoError(t, err)
	require.NoError(t, base.Commit())

	s1 := c.StartSession()
	obj, err = c.Update(testTableKey, obj, StoragePayer{Owner: "alice", Payer: "alice"}, rowValue(1, 200))
	require.NoError(t, err)

	s2 := c.StartSession()
	obj, err = c.Update(testTableKey, obj, StoragePayer{Owner: "alice", Payer: "alice"}, rowValue(1, 300))
	require.NoError(t, err)

	s3 := c.StartSession()
	_, err = c.Update(testTableKey, obj, StoragePayer{Owner: "alice", Payer: "alice"}, rowValue(1, 400))
	require.NoError(t, err)

	// Fold s3 into s2, then the merged s2 into s1: two squashes, not one.
	require.NoError(t, s3.Squash())
	require.NoError(t, s2.Squash())

	cursor, err := c.LocateTo(testTableKey, 0, 1)
	require.NoError(t, err)
	got, err := c.Current(cursor)
	require.NoError(t, err)
	require.Equal(t, rowValue(1, 400), got.Value)

	// A single undo of the fully-merged revision restores the pre-session
	// (100) value in one step, regardless of how many squashes folded it.
	require.NoError(t, s1.Undo())
	cursor, err = c.LocateTo(testTableKey, 0, 1)
	require.NoError(t, err)
	got, err = c.Current(cursor)
	require.NoError(t, err)
	require.Equal(t, rowValue(1, 100), got.Value)
}

// Property 5 (composition table): new+upd -> new(A). Inserting in an
// outer session then updating it in a nested one, once squashed, is
// still an insert carrying the latest value, not an update-with-pre-image.
func TestPropertyCompositionNewPlusUpdateStaysNew(t *testing.T) {
	c := newTestController()

	outer := c.StartSession()
	obj, err := c.Insert(testTableKey, StoragePayer{Owner: "alice", Payer: "alice"}, 1, rowValue(1, 100))
	require.NoError(t, err)

	inner := c.StartSession()
	_, err = c.Update(testTableKey, obj, StoragePayer{Owner: "alice", Payer: "alice"}, rowValue(1, 250))
	require.NoError(t, err)
	require.NoError(t, inner.Squash())

	cursor, err := c.LocateTo(testTableKey, 0, 1)
	require.NoError(t, err)
	got, err := c.Current(cursor)
	require.NoError(t, err)
	require.Equal(t, rowValue(1, 250), got.Value)

	// An undo of the merged frame removes the row entirely: it was never
	// a genuine pre-existing row, just a new(A)-composed insert.
	require.NoError(t, outer.Undo())
	cursor, err = c.LocateTo(testTableKey, 0, 1)
	require.NoError(t, err)
	require.Equal(t, driver.CursorEnd, cursor.Kind)
}

// S5: restore mid-squash. A crash between a flush and the squash that
// would have merged its frame into the parent still leaves the undo
// stack in a state from which the deferred squash can be completed.
func TestScenarioS5RestoreThenCompleteDeferredSquash(t *testing.T) {
	drv := memdriver.New()
	sch := schema.NewJSONSchema([]schema.TableDef{
		{Code: testTableKey.Code, Table: testTableKey.Table, Name: "accounts", PKOrder: []string{"pk"}},
	})

	c1 := New(drv, sch, resource.NewMemoryManager())
	outer := c1.StartSession()
	obj, err := c1.Insert(testTableKey, StoragePayer{Owner: "p1", Payer: "p1"}, 10, rowValue(10, 10))
	require.NoError(t, err)
	require.NoError(t, outer.Commit())

	removeSession := c1.StartSession()
	require.NoError(t, c1.Remove(testTableKey, obj))

	insertSession := c1.StartSession()
	b, err := c1.Insert(testTableKey, StoragePayer{Owner: "p2", Payer: "p2"}, 10, rowValue(10, 14))
	require.NoError(t, err)
	require.NoError(t, c1.Flush())
	_ = insertSession

	// Crash here: insertSession's squash never happened. A fresh
	// Controller over the same driver must reconstruct the del+ins frame
	// from the persisted undo stream alone.
	c2 := New(drv, sch, resource.NewMemoryManager())
	require.NoError(t, c2.Restore([]object.TableKey{testTableKey}))

	cursor, err := c2.LocateTo(testTableKey, 0, 10)
	require.NoError(t, err)
	got, err := c2.Current(cursor)
	require.NoError(t, err)
	require.Equal(t, b.Value, got.Value)

	require.NoError(t, c2.engine.Squash(c2.engine.revision))

	cursor, err = c2.LocateTo(testTableKey, 0, 10)
	require.NoError(t, err)
	got, err = c2.Current(cursor)
	require.NoError(t, err)
	require.Equal(t, b.Value, got.Value)
	require.Equal(t, "p2", got.Service.Payer)

	require.NoError(t, c2.engine.Undo(c2.engine.revision))
	cursor, err = c2.LocateTo(testTableKey, 0, 10)
	require.NoError(t, err)
	got, err = c2.Current(cursor)
	require.NoError(t, err)
	require.Equal(t, obj.Value, got.Value)
	require.Equal(t, "p1", got.Service.Payer)

	_ = removeSession
}
