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
	"encoding/json"
	"fmt"

	"github.com/carmen-db/chaindb/common"
	"github.com/carmen-db/chaindb/object"
)

// Codec encodes/decodes a table's structured values to/from wire bytes.
// Full schema/ABI evolution is out of scope (spec §1); JSON is a bare
// stdlib choice here deliberately, since this boundary is a test fixture
// rather than a production wire format this module owns.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default Codec, using encoding/json.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)        { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// History lets a restored row be decoded against the ABI definition in
// force at the row's own revision, a minimal analog of ABI-evolution
// support: each entry is valid starting at FromRevision, in ascending
// order.
type History struct {
	FromRevision common.Revision
	Tables       map[object.TableKey]TableDef
}

// JSONSchema is a reference Schema: a static table registry plus JSON
// encode/decode, with an optional revision-ordered History for restore.
type JSONSchema struct {
	codec   Codec
	tables  map[object.TableKey]TableDef
	history []History
}

var _ Schema = (*JSONSchema)(nil)

// NewJSONSchema builds a JSONSchema with the given static table defs.
func NewJSONSchema(tables []TableDef) *JSONSchema {
	s := &JSONSchema{codec: JSONCodec{}, tables: make(map[object.TableKey]TableDef)}
	for _, t := range tables {
		s.tables[object.TableKey{Code: t.Code, Table: t.Table}] = t
	}
	return s
}

// WithHistory attaches an ABI-evolution history used during restore.
func (s *JSONSchema) WithHistory(h []History) *JSONSchema {
	s.history = h
	return s
}

func (s *JSONSchema) FindTable(code object.Code, table object.TableID) (TableDef, bool) {
	def, ok := s.tables[object.TableKey{Code: code, Table: table}]
	return def, ok
}

func (s *JSONSchema) FindIndex(table TableDef, index object.IndexID) (IndexDef, bool) {
	for _, idx := range table.Indexes {
		if idx.ID == index {
			return idx, true
		}
	}
	return IndexDef{}, false
}

func (s *JSONSchema) FindPKIndex(table TableDef) IndexDef {
	return IndexDef{Name: "primary", Unique: true, Order: table.PKOrder}
}

func (s *JSONSchema) FindPKOrder(table TableDef) []string {
	return table.PKOrder
}

func (s *JSONSchema) ToObject(table TableDef, data []byte) (object.Value, error) {
	var v map[string]any
	if err := s.codec.Unmarshal(data, &v); err != nil {
		return nil, common.NewError(common.KindSchema, "decode", table.Name, err)
	}
	return v, nil
}

// ToObjectAtRevision decodes data using the schema in force at revision,
// per History, falling back to the current table definition.
func (s *JSONSchema) ToObjectAtRevision(table TableDef, data []byte, revision common.Revision) (object.Value, error) {
	def := table
	for _, h := range s.history {
		if h.FromRevision > revision {
			break
		}
		if t, ok := h.Tables[object.TableKey{Code: table.Code, Table: table.Table}]; ok {
			def = t
		}
	}
	return s.ToObject(def, data)
}

func (s *JSONSchema) ToBytes(table TableDef, value object.Value) ([]byte, error) {
	b, err := s.codec.Marshal(value)
	if err != nil {
		return nil, common.NewError(common.KindSchema, "encode", table.Name, err)
	}
	return b, nil
}

func (s *JSONSchema) CanonicalStorageSize(value object.Value) int {
	b, err := s.codec.Marshal(value)
	if err != nil {
		return 0
	}
	return len(b)
}

func (s *JSONSchema) ExtractPK(table TableDef, value object.Value) (common.PK, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return 0, common.NewError(common.KindSchema, "bad_value", table.Name, fmt.Errorf("expected map[string]any, got %T", value))
	}
	if len(table.PKOrder) != 1 {
		return 0, common.NewError(common.KindSchema, "unsupported_pk", table.Name, fmt.Errorf("only single-field pk extraction is supported"))
	}
	raw, ok := m[table.PKOrder[0]]
	if !ok {
		return 0, common.NewError(common.KindSchema, "missing_pk_field", table.Name, fmt.Errorf("field %q absent", table.PKOrder[0]))
	}
	switch v := raw.(type) {
	case float64:
		return common.PK(v), nil
	case common.PK:
		return v, nil
	case int:
		return common.PK(v), nil
	case int64:
		return common.PK(v), nil
	case uint64:
		return common.PK(v), nil
	default:
		return 0, common.NewError(common.KindSchema, "bad_pk_type", table.Name, fmt.Errorf("unexpected pk field type %T", raw))
	}
}

// ExtractIndexKey pulls index.Order's fields out of value in order, as raw
// dynamic values — unlike ExtractPK, no numeric coercion is applied, since
// the cache only ever compares these values back to themselves.
func (s *JSONSchema) ExtractIndexKey(table TableDef, index IndexDef, value object.Value) ([]object.Value, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, common.NewError(common.KindSchema, "bad_value", table.Name, fmt.Errorf("expected map[string]any, got %T", value))
	}
	key := make([]object.Value, 0, len(index.Order))
	for _, field := range index.Order {
		raw, ok := m[field]
		if !ok {
			return nil, common.NewError(common.KindSchema, "missing_index_field", table.Name, fmt.Errorf("field %q absent", field))
		}
		key = append(key, raw)
	}
	return key, nil
}

func (s *JSONSchema) VerifyTablesStructure(verifier StructureVerifier) error {
	for _, table := range s.tables {
		for _, idx := range table.Indexes {
			if !verifier.HasIndex(table, idx) {
				return common.NewError(common.KindSchema, "missing_index", table.Name, fmt.Errorf("index %q not present", idx.Name))
			}
		}
	}
	return nil
}
