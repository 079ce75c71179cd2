// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package chaindb implements the transactional, versioned object store: a
// table controller façade (Controller) backed by a write-through row
// cache and a backing driver, and an undo engine that gives every
// controller call session-scoped rollback via nested StartSession/
// Commit/Squash/Undo.
package chaindb

import (
	"fmt"

	"github.com/carmen-db/chaindb/cache"
	"github.com/carmen-db/chaindb/common"
	"github.com/carmen-db/chaindb/driver"
	"github.com/carmen-db/chaindb/journal"
	"github.com/carmen-db/chaindb/object"
	"github.com/carmen-db/chaindb/resource"
	"github.com/carmen-db/chaindb/schema"
)

// FindKind selects how aggressively lower_bound may short-circuit on a
// cache hit without consulting the driver.
type FindKind int

const (
	// ManyRecords always opens a real cursor.
	ManyRecords FindKind = iota
	// InRAM refuses to open a real cursor at all; a cache miss is End.
	InRAM
	// OneRecord short-circuits on a cache hit or cache-negative hit.
	OneRecord
)

// StoragePayer carries the billing identity and mode for a write.
type StoragePayer struct {
	Owner string
	Payer string
	InRAM bool
}

// Controller is the public façade over one backing store: cache-coherent
// cursor navigation, CRUD with storage billing, and session-scoped undo
// via the embedded undoEngine.
type Controller struct {
	driver   driver.Driver
	schema   schema.Schema
	resource resource.Manager
	cache    *cache.Cache
	jrnl     *journal.Journal
	engine   *undoEngine
}

// New constructs a Controller over the given collaborators.
func New(drv driver.Driver, sch schema.Schema, res resource.Manager) *Controller {
	c := cache.New()
	j := journal.New()
	return &Controller{
		driver:   drv,
		schema:   sch,
		resource: res,
		cache:    c,
		jrnl:     j,
		engine:   newUndoEngine(drv, c, j),
	}
}

func (c *Controller) tableDef(table object.TableKey) (schema.TableDef, error) {
	def, ok := c.schema.FindTable(table.Code, table.Table)
	if !ok {
		return schema.TableDef{}, common.NewError(common.KindSchema, "unknown_table", fmt.Sprintf("%d", table.Table), ErrUnknownTable)
	}
	return def, nil
}

// LowerBound resolves the first position >= key, honoring the cache
// short-circuit rules for OneRecord/InRAM kinds. A single-field key against
// the implicit pk index (index == 0) short-circuits on the pk row cache; a
// key against any other (secondary, unique) index short-circuits on the
// cache's own (index, key) -> pk lookup, so a lookup against a row written
// earlier in the same session — and still sitting unflushed in the journal
// — never falls through to stale driver data.
func (c *Controller) LowerBound(table object.TableKey, index object.IndexID, key []object.Value, kind FindKind) (driver.Cursor, object.ObjectValue, error) {
	if index == 0 && len(key) == 1 {
		if pk, ok := key[0].(common.PK); ok {
			if obj, found, known := c.cache.Get(object.ServiceKey{Code: table.Code, Scope: table.Scope, Table: table.Table, PK: pk}); known {
				if kind != ManyRecords {
					if found {
						return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: pk}, obj, nil
					}
					return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, object.ObjectValue{}, nil
				}
			}
		}
	} else if index != 0 {
		if pk, found, known := c.cache.FindByIndex(table, index, key); known {
			if kind != ManyRecords {
				if !found {
					return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, object.ObjectValue{}, nil
				}
				cursor := driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: pk}
				obj, err := c.Current(cursor)
				return cursor, obj, err
			}
		}
	}
	if kind == InRAM {
		return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, object.ObjectValue{}, nil
	}
	cursor, err := c.driver.LowerBound(table, index, key)
	if err != nil {
		return driver.Cursor{}, object.ObjectValue{}, err
	}
	obj, err := c.Current(cursor)
	return cursor, obj, err
}

// UpperBound resolves the first position strictly greater than key.
func (c *Controller) UpperBound(table object.TableKey, index object.IndexID, key []object.Value) (driver.Cursor, error) {
	return c.driver.UpperBound(table, index, key)
}

// Begin returns a cursor at the table's first row.
func (c *Controller) Begin(table object.TableKey, index object.IndexID) (driver.Cursor, error) {
	return c.driver.Begin(table, index)
}

// End returns the table's fixed end cursor.
func (c *Controller) End(table object.TableKey, index object.IndexID) (driver.Cursor, error) {
	return c.driver.End(table, index)
}

// Next advances a cursor forward.
func (c *Controller) Next(cursor driver.Cursor) (driver.Cursor, error) {
	return c.driver.Advance(cursor)
}

// Current lazily materialises the row under a cursor positioned only by
// key, consulting the cache first.
func (c *Controller) Current(cursor driver.Cursor) (object.ObjectValue, error) {
	if cursor.Kind == driver.CursorEnd {
		return object.ObjectValue{Service: object.ServiceHeader{PK: common.EndPK}}, nil
	}
	key := object.ServiceKey{Code: cursor.Table.Code, Scope: cursor.Table.Scope, Table: cursor.Table.Table, PK: cursor.PK}
	if obj, found, known := c.cache.Get(key); known {
		if found {
			return obj, nil
		}
		return object.ObjectValue{Service: object.ServiceHeader{PK: common.EndPK}}, nil
	}
	obj, err := c.driver.Dereference(cursor)
	if err != nil {
		return object.ObjectValue{}, err
	}
	if common.IsGood(obj.PK()) {
		c.cache.Put(obj)
	} else {
		c.cache.MarkAbsent(cursor.Table, cursor.PK)
	}
	return obj, nil
}

// LocateTo resolves the cursor exactly at pk.
func (c *Controller) LocateTo(table object.TableKey, index object.IndexID, pk common.PK) (driver.Cursor, error) {
	if _, found, known := c.cache.Get(object.ServiceKey{Code: table.Code, Scope: table.Scope, Table: table.Table, PK: pk}); known {
		if found {
			return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: pk}, nil
		}
		return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
	}
	return c.driver.Find(table, index, pk)
}

func (c *Controller) availablePK(table object.TableKey) (common.PK, error) {
	if pk, ok := c.cache.NextPK(table); ok {
		return pk, nil
	}
	pk, err := c.driver.AvailablePK(table)
	if err != nil {
		return 0, err
	}
	c.cache.SetNextPK(table, pk)
	return pk, nil
}

// Insert stores a new row, charging its full size to payer.
func (c *Controller) Insert(table object.TableKey, payer StoragePayer, pk common.PK, value object.Value) (object.ObjectValue, error) {
	def, err := c.tableDef(table)
	if err != nil {
		return object.ObjectValue{}, err
	}
	if err := object.ValidateReservedField(def.Name, value); err != nil {
		return object.ObjectValue{}, err
	}
	valuePK, err := c.schema.ExtractPK(def, value)
	if err != nil {
		return object.ObjectValue{}, err
	}
	if valuePK != pk {
		return object.ObjectValue{}, common.NewError(common.KindSchema, "pk_mismatch", def.Name, fmt.Errorf("value pk %d != header pk %d", valuePK, pk))
	}

	raw, err := c.schema.ToBytes(def, value)
	if err != nil {
		return object.ObjectValue{}, err
	}
	size := len(raw)
	header := object.ServiceHeader{
		Code: table.Code, Scope: table.Scope, Table: table.Table, PK: pk,
		Payer: payer.Payer, Owner: payer.Owner, Size: size, InRAM: payer.InRAM,
		Revision: c.engine.revision,
	}
	obj := object.ObjectValue{Service: header, Value: value}

	if err := c.engine.Insert(table, obj); err != nil {
		return object.ObjectValue{}, err
	}
	c.cache.Put(obj)
	// Advance the next-pk hint past pk: the driver does not see this row
	// until the journal is flushed, so it cannot be asked again instead.
	if next, err := c.availablePK(table); err != nil {
		c.cache.ClearNextPK(table)
	} else if pk >= next {
		c.cache.SetNextPK(table, pk.Next())
	}
	c.indexRowWritten(table, def, obj)

	if err := c.bill(payer.Payer, size, header.Revision); err != nil {
		return object.ObjectValue{}, err
	}
	return obj, nil
}

// indexRowWritten populates the unique-index cache entries for a row that
// now maps to value, so a subsequent LowerBound against any of its unique
// secondary indexes short-circuits without reaching the driver.
func (c *Controller) indexRowWritten(table object.TableKey, def schema.TableDef, obj object.ObjectValue) {
	for _, idx := range def.Indexes {
		if !idx.Unique {
			continue
		}
		key, err := c.schema.ExtractIndexKey(def, idx, obj.Value)
		if err != nil {
			continue
		}
		c.cache.EmplaceIndex(table, idx.ID, key, obj.PK())
	}
}

// indexRowVacated marks every unique-index key value previously derived
// from oldValue as confirmed absent: a unique index never maps more than
// one live row to a key, so vacating it is itself a negative fact.
func (c *Controller) indexRowVacated(table object.TableKey, def schema.TableDef, oldValue object.Value) {
	for _, idx := range def.Indexes {
		if !idx.Unique {
			continue
		}
		key, err := c.schema.ExtractIndexKey(def, idx, oldValue)
		if err != nil {
			continue
		}
		c.cache.EmplaceUnsuccess(table, idx.ID, key)
	}
}

// Update rewrites an existing row.
//
// Per the rewrite-then-fill-empty payer/owner rule: the caller's payer is
// applied first, then GetPayerFrom only fills in whatever remains empty
// from the original row — it never overwrites an explicit payer/owner.
func (c *Controller) Update(table object.TableKey, orig object.ObjectValue, payer StoragePayer, value object.Value) (object.ObjectValue, error) {
	def, err := c.tableDef(table)
	if err != nil {
		return object.ObjectValue{}, err
	}
	if err := object.ValidateReservedField(def.Name, value); err != nil {
		return object.ObjectValue{}, err
	}
	valuePK, err := c.schema.ExtractPK(def, value)
	if err != nil {
		return object.ObjectValue{}, err
	}
	if valuePK != orig.PK() {
		return object.ObjectValue{}, common.NewError(common.KindSchema, "pk_mismatch", def.Name, fmt.Errorf("value pk %d != header pk %d", valuePK, orig.PK()))
	}

	raw, err := c.schema.ToBytes(def, value)
	if err != nil {
		return object.ObjectValue{}, err
	}
	size := len(raw)
	header := orig.Service
	header.Payer = payer.Payer
	header.Owner = payer.Owner
	getPayerFrom(&header, orig.Service)
	header.InRAM = payer.InRAM
	delta := size - orig.Service.Size
	header.Size = size
	header.Revision = c.engine.revision

	obj := object.ObjectValue{Service: header, Value: value}
	if err := c.engine.Update(table, orig, obj); err != nil {
		return object.ObjectValue{}, err
	}
	c.cache.Put(obj)
	c.indexRowVacated(table, def, orig.Value)
	c.indexRowWritten(table, def, obj)

	if err := c.bill(header.Payer, delta, header.Revision); err != nil {
		return object.ObjectValue{}, err
	}
	return obj, nil
}

// getPayerFrom fills empty Owner/Payer fields on dst from src — the
// "preserving" variant, chosen over overwriting non-empty fields.
func getPayerFrom(dst *object.ServiceHeader, src object.ServiceHeader) {
	if dst.Owner == "" {
		dst.Owner = src.Owner
	}
	if dst.Payer == "" {
		dst.Payer = src.Payer
	}
}

// Remove deletes a row, refunding its size to the original payer. The
// freed pk is not reserved (the driver contract has no pk-reservation
// call): once the removal is flushed, the driver's AvailablePK may return
// it again.
func (c *Controller) Remove(table object.TableKey, orig object.ObjectValue) error {
	def, err := c.tableDef(table)
	if err != nil {
		return err
	}
	if err := c.engine.Remove(table, orig); err != nil {
		return err
	}
	c.cache.MarkAbsent(table, orig.PK())
	c.indexRowVacated(table, def, orig.Value)

	return c.bill(orig.Service.Payer, -orig.Service.Size, c.engine.revision)
}

// ChangeRAMState flips in_ram with a size-zero delta: a billing-visible
// mode change that carries no storage-size cost.
func (c *Controller) ChangeRAMState(table object.TableKey, orig object.ObjectValue, payer StoragePayer) (object.ObjectValue, error) {
	header := orig.Service
	header.InRAM = payer.InRAM
	header.Revision = c.engine.revision
	obj := object.ObjectValue{Service: header, Value: orig.Value}
	if err := c.engine.Update(table, orig, obj); err != nil {
		return object.ObjectValue{}, err
	}
	c.cache.Put(obj)
	return obj, nil
}

// ForceUndo injects a privileged undo-stream row without going through
// per-table composition (system-account path only).
func (c *Controller) ForceUndo(table object.TableKey, obj object.ObjectValue) {
	c.engine.ForceUndo(table, obj)
}

func (c *Controller) bill(payer string, delta int, revision common.Revision) error {
	if revision <= common.StartRevision {
		return nil
	}
	return c.resource.AddStorageUsage(payer, delta, revision)
}

// Flush applies every journaled write to the driver and clears the
// journal.
func (c *Controller) Flush() error {
	return c.jrnl.ApplyAllChanges(c.driver)
}
