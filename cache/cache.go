// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package cache implements the write-through row cache sitting in front of
// a driver: positive entries for rows actually read or written, negative
// entries (a bitset-backed "definitely absent" set per table) for primary
// keys confirmed missing, a (index, key) -> pk secondary-index cache with
// its own negative side, and a next-pk hint per table so repeated PK
// allocation does not round-trip to the driver.
package cache

import (
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"

	"github.com/carmen-db/chaindb/common"
	"github.com/carmen-db/chaindb/object"
)

// entry is one cached row, plus whether it reflects a real driver read.
type entry struct {
	obj   object.ObjectValue
	known bool
}

// negativeSet tracks confirmed-absent PKs for one table using a bitset
// indexed directly by PK. The bitset grows lazily to cover the largest
// marked PK; there is no separate sparse store for very large keys.
type negativeSet struct {
	bits *bitset.BitSet
}

func newNegativeSet() *negativeSet {
	return &negativeSet{bits: bitset.New(1024)}
}

func (n *negativeSet) mark(pk common.PK) {
	n.bits.Set(uint(pk))
}

func (n *negativeSet) clear(pk common.PK) {
	n.bits.Clear(uint(pk))
}

func (n *negativeSet) isMarked(pk common.PK) bool {
	return n.bits.Test(uint(pk))
}

type tableCache struct {
	rows      map[common.PK]*entry
	negative  *negativeSet
	nextPK    common.PK
	nextPKSet bool

	// indexPositive/indexNegative cache (index, key_bytes) -> pk lookups,
	// per §4.2/§4.3: a unique-index lookup this cache confirms, one way or
	// the other, never has to reach the driver.
	indexPositive map[object.IndexID]map[string]common.PK
	indexNegative map[object.IndexID]map[string]struct{}
}

func newTableCache() *tableCache {
	return &tableCache{
		rows:          make(map[common.PK]*entry),
		negative:      newNegativeSet(),
		indexPositive: make(map[object.IndexID]map[string]common.PK),
		indexNegative: make(map[object.IndexID]map[string]struct{}),
	}
}

// indexKeyBytes canonically encodes an ordered index lookup key into a
// map-comparable string: each field's dynamic type is folded into the
// encoding so e.g. int64(1) and "1" never collide.
func indexKeyBytes(key []object.Value) string {
	var b strings.Builder
	for _, v := range key {
		fmt.Fprintf(&b, "%T:%v|", v, v)
	}
	return b.String()
}

// Cache is the write-through row cache, keyed by table.
type Cache struct {
	tables map[object.TableKey]*tableCache
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{tables: make(map[object.TableKey]*tableCache)}
}

func (c *Cache) table(key object.TableKey) *tableCache {
	t, ok := c.tables[key]
	if !ok {
		t = newTableCache()
		c.tables[key] = t
	}
	return t
}

// Get returns a cached row, whether it was found, and whether the find
// result is itself cached knowledge (as opposed to a cold miss that must
// still be resolved against the driver).
func (c *Cache) Get(key object.ServiceKey) (object.ObjectValue, bool, bool) {
	t := c.table(object.TableKey{Code: key.Code, Scope: key.Scope, Table: key.Table})
	if e, ok := t.rows[key.PK]; ok {
		return e.obj, true, e.known
	}
	if t.negative.isMarked(key.PK) {
		return object.ObjectValue{}, false, true
	}
	return object.ObjectValue{}, false, false
}

// Put stores obj as a confirmed-present row, overwriting any negative mark.
// Per §4.2, any write to the table invalidates its negative index lookups.
func (c *Cache) Put(obj object.ObjectValue) {
	key := obj.Key()
	t := c.table(object.TableKey{Code: key.Code, Scope: key.Scope, Table: key.Table})
	t.rows[key.PK] = &entry{obj: obj, known: true}
	t.negative.clear(key.PK)
	c.clearUnsuccess(t)
}

// MarkAbsent records that pk is confirmed not to exist in table.
func (c *Cache) MarkAbsent(table object.TableKey, pk common.PK) {
	t := c.table(table)
	delete(t.rows, pk)
	t.negative.mark(pk)
	c.clearUnsuccess(t)
}

// Invalidate drops any cached knowledge — positive or negative — about pk.
func (c *Cache) Invalidate(table object.TableKey, pk common.PK) {
	t := c.table(table)
	delete(t.rows, pk)
	t.negative.clear(pk)
	c.clearUnsuccess(t)
}

// FindByIndex resolves a cached lookup for a unique secondary index: the pk
// it maps to, whether it was a positive hit, and whether either side of the
// cache (positive or confirmed-negative) actually has an answer — as
// opposed to a cold miss that still must be resolved against the driver.
func (c *Cache) FindByIndex(table object.TableKey, index object.IndexID, key []object.Value) (common.PK, bool, bool) {
	t := c.table(table)
	k := indexKeyBytes(key)
	if m, ok := t.indexPositive[index]; ok {
		if pk, ok := m[k]; ok {
			return pk, true, true
		}
	}
	if m, ok := t.indexNegative[index]; ok {
		if _, ok := m[k]; ok {
			return common.UnsetPK, false, true
		}
	}
	return common.UnsetPK, false, false
}

// EmplaceIndex records a confirmed index-key -> pk hit.
func (c *Cache) EmplaceIndex(table object.TableKey, index object.IndexID, key []object.Value, pk common.PK) {
	t := c.table(table)
	k := indexKeyBytes(key)
	if t.indexPositive[index] == nil {
		t.indexPositive[index] = make(map[string]common.PK)
	}
	t.indexPositive[index][k] = pk
	if m, ok := t.indexNegative[index]; ok {
		delete(m, k)
	}
}

// EmplaceUnsuccess records a confirmed index-key miss: no row currently
// maps to key under index.
func (c *Cache) EmplaceUnsuccess(table object.TableKey, index object.IndexID, key []object.Value) {
	t := c.table(table)
	k := indexKeyBytes(key)
	if t.indexNegative[index] == nil {
		t.indexNegative[index] = make(map[string]struct{})
	}
	t.indexNegative[index][k] = struct{}{}
	if m, ok := t.indexPositive[index]; ok {
		delete(m, k)
	}
}

// ClearUnsuccess drops every negative index entry for table. Per §4.2,
// negative lookups are invalidated by any write to the same table, unlike
// positive entries, which only go stale for the specific key a write
// actually touches and are corrected in place by the caller.
func (c *Cache) ClearUnsuccess(table object.TableKey) {
	c.clearUnsuccess(c.table(table))
}

func (c *Cache) clearUnsuccess(t *tableCache) {
	t.indexNegative = make(map[object.IndexID]map[string]struct{})
}

// NextPK returns the cached next-pk hint for table, if one has been set.
func (c *Cache) NextPK(table object.TableKey) (common.PK, bool) {
	t := c.table(table)
	if !t.nextPKSet {
		return common.UnsetPK, false
	}
	return t.nextPK, true
}

// SetNextPK records a next-pk hint for table.
func (c *Cache) SetNextPK(table object.TableKey, pk common.PK) {
	t := c.table(table)
	t.nextPK = pk
	t.nextPKSet = true
}

// ClearNextPK drops the next-pk hint, forcing the next allocation to
// consult the driver.
func (c *Cache) ClearNextPK(table object.TableKey) {
	t := c.table(table)
	t.nextPKSet = false
}

// SetRevisionHint updates the cached row's revision field in place, if
// the row is currently cached, without otherwise touching its value —
// used when a squash demotes a row to an earlier revision.
func (c *Cache) SetRevisionHint(table object.TableKey, pk common.PK, revision common.Revision) {
	t := c.table(table)
	if e, ok := t.rows[pk]; ok {
		e.obj.Service.Revision = revision
	}
}

// DropTable removes all cached state for a table, e.g. after it is
// squashed away or dropped entirely.
func (c *Cache) DropTable(table object.TableKey) {
	delete(c.tables, table)
}
