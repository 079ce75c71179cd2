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
	"fmt"
	"strings"

	"github.com/carmen-db/chaindb/driver"
	"github.com/carmen-db/chaindb/object"
	"github.com/carmen-db/chaindb/schema"
)

// SchemaCodec adapts a schema.Schema into the driver.Codec interface
// reference drivers accept, resolving the table definition by key on
// every call so the driver package never needs to import schema. It also
// implements driver.IndexSource, so a driver that physically maintains
// secondary-index storage (driver/leveldb, driver/sqlite) can derive index
// entries from a row's value the same indirect way.
type SchemaCodec struct {
	Schema schema.Schema
}

var (
	_ driver.Codec       = SchemaCodec{}
	_ driver.IndexSource = SchemaCodec{}
)

func (c SchemaCodec) Encode(table object.TableKey, value object.Value) ([]byte, error) {
	def, ok := c.Schema.FindTable(table.Code, table.Table)
	if !ok {
		return nil, fmt.Errorf("unknown table %v", table)
	}
	return c.Schema.ToBytes(def, value)
}

func (c SchemaCodec) Decode(table object.TableKey, data []byte) (object.Value, error) {
	def, ok := c.Schema.FindTable(table.Code, table.Table)
	if !ok {
		return nil, fmt.Errorf("unknown table %v", table)
	}
	return c.Schema.ToObject(def, data)
}

// IndexKeys returns the unique-index entries value resolves to for table,
// skipping any index whose key fields are absent from value (e.g. a value
// predating that index's declaration).
func (c SchemaCodec) IndexKeys(table object.TableKey, value object.Value) ([]driver.IndexKey, error) {
	def, ok := c.Schema.FindTable(table.Code, table.Table)
	if !ok {
		return nil, fmt.Errorf("unknown table %v", table)
	}
	var entries []driver.IndexKey
	for _, idx := range def.Indexes {
		if !idx.Unique {
			continue
		}
		key, err := c.Schema.ExtractIndexKey(def, idx, value)
		if err != nil {
			continue
		}
		entries = append(entries, driver.IndexKey{Index: idx.ID, Key: encodeIndexKeyFields(key)})
	}
	return entries, nil
}

// EncodeIndexKey encodes a query-supplied lookup key the same way
// IndexKeys encodes a row's own field values.
func (c SchemaCodec) EncodeIndexKey(key []object.Value) []byte {
	return encodeIndexKeyFields(key)
}

// encodeIndexKeyFields canonically encodes an ordered index key so
// distinct dynamic types never collide (mirrors cache.indexKeyBytes).
func encodeIndexKeyFields(key []object.Value) []byte {
	var b strings.Builder
	for _, v := range key {
		fmt.Fprintf(&b, "%T:%v|", v, v)
	}
	return []byte(b.String())
}
