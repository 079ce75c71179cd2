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

	"github.com/carmen-db/chaindb/common"
	"github.com/carmen-db/chaindb/driver"
	"github.com/carmen-db/chaindb/driver/memdriver"
	"github.com/carmen-db/chaindb/object"
	"github.com/carmen-db/chaindb/resource"
	"github.com/carmen-db/chaindb/schema"
)

// spyManager records every AddStorageUsage call in arrival order, for
// scenarios that assert the exact sequence of billing calls.
type spyManager struct {
	*resource.MemoryManager
	calls []spyCall
}

type spyCall struct {
	payer    string
	delta    int
	revision common.Revision
}

func newSpyManager() *spyManager {
	return &spyManager{MemoryManager: resource.NewMemoryManager()}
}

func (m *spyManager) AddStorageUsage(payer string, delta int, revision common.Revision) error {
	m.calls = append(m.calls, spyCall{payer, delta, revision})
	return m.MemoryManager.AddStorageUsage(payer, delta, revision)
}

// countingDriver wraps memdriver.Driver, counting LowerBound calls so S6
// can assert the controller's cache short-circuit never reaches it.
type countingDriver struct {
	*memdriver.Driver
	lowerBoundCalls int
}

func (d *countingDriver) LowerBound(table object.TableKey, index object.IndexID, key []object.Value) (driver.Cursor, error) {
	d.lowerBoundCalls++
	return d.Driver.LowerBound(table, index, key)
}

func newScenarioController(res resource.Manager) *Controller {
	sch := schema.NewJSONSchema([]schema.TableDef{
		{Code: testTableKey.Code, Table: testTableKey.Table, Name: "accounts", PKOrder: []string{"pk"}},
	})
	return New(memdriver.New(), sch, res)
}

// S1: insert-commit. Backing store ends up with exactly one data row at
// the session's revision, no undo rows persist, and the payer is charged
// exactly once.
func TestScenarioS1InsertCommit(t *testing.T) {
	spy := newSpyManager()
	c := newScenarioController(spy)

	session := c.StartSession()
	obj, err := c.Insert(testTableKey, StoragePayer{Owner: "p1", Payer: "p1"}, 10, rowValue(10, 1))
	require.NoError(t, err)
	require.NoError(t, session.Commit())
	require.NoError(t, c.Flush())

	rows, err := c.driver.LoadUndoStream(testTableKey)
	require.NoError(t, err)
	require.Empty(t, rows)

	got, err := c.driver.Dereference(driver.Cursor{Table: testTableKey, Kind: driver.CursorPK, PK: 10})
	require.NoError(t, err)
	require.Equal(t, obj.Value, got.Value)
	require.Equal(t, common.Revision(1), got.Service.Revision)

	require.Len(t, spy.calls, 1)
	require.Equal(t, spyCall{"p1", obj.Service.Size, 1}, spy.calls[0])
}

// S2: insert-undo. The row never reaches the backing store or the cache;
// per DESIGN.md's Open Question decision 4, the resource manager's
// charge from the insert is not automatically reversed by Undo.
func TestScenarioS2InsertUndo(t *testing.T) {
	spy := newSpyManager()
	c := newScenarioController(spy)

	session := c.StartSession()
	obj, err := c.Insert(testTableKey, StoragePayer{Owner: "p1", Payer: "p1"}, 10, rowValue(10, 1))
	require.NoError(t, err)
	require.NoError(t, session.Undo())
	require.NoError(t, c.Flush())

	cursor, err := c.LocateTo(testTableKey, 0, 10)
	require.NoError(t, err)
	require.Equal(t, driver.CursorEnd, cursor.Kind)

	got, err := c.driver.Dereference(driver.Cursor{Table: testTableKey, Kind: driver.CursorPK, PK: 10})
	require.NoError(t, err)
	require.Equal(t, common.EndPK, got.PK())

	require.Len(t, spy.calls, 1)
	require.Equal(t, spyCall{"p1", obj.Service.Size, 1}, spy.calls[0])

	// The insert's own undo-stream record never survives the revert: it
	// must be cancelled in-session rather than flushed as a stray row.
	rows, err := c.driver.LoadUndoStream(testTableKey)
	require.NoError(t, err)
	require.Empty(t, rows)
}

// S3: del+ins squash. Removing a row and re-inserting it under the same
// pk within a nested session composes into a single update frame that
// still carries the original pre-image forward for undo.
func TestScenarioS3DelInsSquash(t *testing.T) {
	c := newScenarioController(resource.NewMemoryManager())

	outer := c.StartSession()
	a, err := c.Insert(testTableKey, StoragePayer{Owner: "p1", Payer: "p1"}, 10, rowValue(10, 10))
	require.NoError(t, err)
	require.NoError(t, outer.Commit())

	removeSession := c.StartSession()
	require.NoError(t, c.Remove(testTableKey, a))

	insertSession := c.StartSession()
	b, err := c.Insert(testTableKey, StoragePayer{Owner: "p2", Payer: "p2"}, 10, rowValue(10, 14))
	require.NoError(t, err)
	require.NoError(t, insertSession.Squash())

	cursor, err := c.LocateTo(testTableKey, 0, 10)
	require.NoError(t, err)
	got, err := c.Current(cursor)
	require.NoError(t, err)
	require.Equal(t, b.Value, got.Value)
	require.Equal(t, "p2", got.Service.Payer)

	require.NoError(t, removeSession.Undo())
	cursor, err = c.LocateTo(testTableKey, 0, 10)
	require.NoError(t, err)
	got, err = c.Current(cursor)
	require.NoError(t, err)
	require.Equal(t, a.Value, got.Value)
	require.Equal(t, "p1", got.Service.Payer)
}

// S4: new+del nop. Inserting then removing the same pk within a nested
// session, once squashed into the parent, leaves no trace of the pk at
// all — not in the live table, not in the undo stream.
func TestScenarioS4NewDelNop(t *testing.T) {
	c := newScenarioController(resource.NewMemoryManager())

	outer := c.StartSession()
	obj, err := c.Insert(testTableKey, StoragePayer{Owner: "p1", Payer: "p1"}, 10, rowValue(10, 1))
	require.NoError(t, err)

	inner := c.StartSession()
	require.NoError(t, c.Remove(testTableKey, obj))
	require.NoError(t, inner.Squash())
	require.NoError(t, outer.Commit())
	require.NoError(t, c.Flush())

	cursor, err := c.LocateTo(testTableKey, 0, 10)
	require.NoError(t, err)
	require.Equal(t, driver.CursorEnd, cursor.Kind)

	rows, err := c.driver.LoadUndoStream(testTableKey)
	require.NoError(t, err)
	for _, row := range rows {
		require.NotEqual(t, common.PK(10), row.Header.PK)
	}
}

// S6: unique-index short-circuit. A lookup against a genuine secondary
// unique index resolves off the controller's own index cache, never
// reaching the driver's LowerBound at all — which matters because Insert
// and Remove never touch the driver until Flush(), so a driver round trip
// here would answer from stale (pre-write) data.
func TestScenarioS6UniqueIndexShortCircuit(t *testing.T) {
	const byBalance object.IndexID = 1
	sch := schema.NewJSONSchema([]schema.TableDef{
		{
			Code: testTableKey.Code, Table: testTableKey.Table, Name: "accounts", PKOrder: []string{"pk"},
			Indexes: []schema.IndexDef{{ID: byBalance, Name: "by_balance", Unique: true, Order: []string{"balance"}}},
		},
	})
	cd := &countingDriver{Driver: memdriver.New()}
	c := New(cd, sch, resource.NewMemoryManager())

	obj, err := c.Insert(testTableKey, StoragePayer{Owner: "p1", Payer: "p1"}, 10, rowValue(10, 100))
	require.NoError(t, err)

	// Positive: Insert populated the index cache directly, so the lookup
	// resolves before Flush() ever gives the driver a chance to see the row.
	cursor, got, err := c.LowerBound(testTableKey, byBalance, []object.Value{100}, OneRecord)
	require.NoError(t, err)
	require.Equal(t, driver.CursorPK, cursor.Kind)
	require.Equal(t, obj.Value, got.Value)
	require.Equal(t, 0, cd.lowerBoundCalls)

	require.NoError(t, c.Remove(testTableKey, obj))

	// Negative: Remove marks the vacated index key unsuccessful, so the
	// same lookup now short-circuits straight to CursorEnd.
	cursor, _, err = c.LowerBound(testTableKey, byBalance, []object.Value{100}, InRAM)
	require.NoError(t, err)
	require.Equal(t, driver.CursorEnd, cursor.Kind)
	require.Equal(t, 0, cd.lowerBoundCalls)
}

// Property 8: pk monotonicity. available_pk after N inserts equals
// initial_pk + N (initial_pk is 0 for an empty table), since every insert
// advances the cached next-pk hint past the inserted pk rather than
// asking the not-yet-flushed driver again.
func TestPropertyPKMonotonicityAcrossInserts(t *testing.T) {
	c := newScenarioController(resource.NewMemoryManager())
	for i := common.PK(0); i < 3; i++ {
		pk, err := c.availablePK(testTableKey)
		require.NoError(t, err)
		require.Equal(t, i, pk)
		_, err = c.Insert(testTableKey, StoragePayer{Owner: "p1", Payer: "p1"}, pk, rowValue(pk, 1))
		require.NoError(t, err)
	}
	pk, err := c.availablePK(testTableKey)
	require.NoError(t, err)
	require.Equal(t, common.PK(3), pk)
}

// Property 6: negative-cache invalidation. A prior negative lookup for a
// pk must not survive a write that makes the pk live.
func TestPropertyNegativeCacheInvalidatedByWrite(t *testing.T) {
	c := newScenarioController(resource.NewMemoryManager())

	cursor, err := c.LocateTo(testTableKey, 0, 10)
	require.NoError(t, err)
	require.Equal(t, driver.CursorEnd, cursor.Kind)

	_, err = c.Insert(testTableKey, StoragePayer{Owner: "p1", Payer: "p1"}, 10, rowValue(10, 1))
	require.NoError(t, err)

	cursor, err = c.LocateTo(testTableKey, 0, 10)
	require.NoError(t, err)
	require.Equal(t, common.PK(10), cursor.PK)
}
