// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/carmen-db/chaindb/chaindb"
	"github.com/carmen-db/chaindb/driver/leveldb"
	"github.com/carmen-db/chaindb/object"
	"github.com/carmen-db/chaindb/schema"
)

func tableKeysOf(sch *schema.JSONSchema, tables []schema.TableDef) []object.TableKey {
	keys := make([]object.TableKey, 0, len(tables))
	for _, t := range tables {
		keys = append(keys, object.TableKey{Code: t.Code, Table: t.Table})
	}
	return keys
}

func openLeveldb(dbPath, schemaPath string) (*leveldb.Driver, *schema.JSONSchema, []schema.TableDef, error) {
	data, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading schema file: %w", err)
	}
	var tables []schema.TableDef
	if err := json.Unmarshal(data, &tables); err != nil {
		return nil, nil, nil, fmt.Errorf("parsing schema file: %w", err)
	}
	sch := schema.NewJSONSchema(tables)

	drv, err := leveldb.Open(dbPath, chaindb.SchemaCodec{Schema: sch})
	if err != nil {
		return nil, nil, nil, err
	}
	return drv, sch, tables, nil
}
