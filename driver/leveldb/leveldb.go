// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package leveldb is a reference driver.Driver backed by goleveldb: row
// keys are a composite (code, scope, table, pk) byte encoding, so
// LevelDB's native ordered-iteration gives begin/end/lower_bound/
// upper_bound/advance for free. The undo stream is persisted under a
// disjoint key prefix in the same database for crash recovery. When the
// supplied driver.Codec also implements driver.IndexSource, unique
// secondary-index entries are maintained under a third disjoint prefix,
// incrementally kept in sync by ApplyAllChanges.
package leveldb

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"
	"github.com/syndtr/goleveldb/leveldb"
	goleveldbutil "github.com/syndtr/goleveldb/leveldb/util"

	"github.com/carmen-db/chaindb/common"
	"github.com/carmen-db/chaindb/driver"
	"github.com/carmen-db/chaindb/journal"
	"github.com/carmen-db/chaindb/object"
)

const (
	rowPrefix   = byte('R')
	undoPrefix  = byte('U')
	indexPrefix = byte('X')
)

// ErrNotFound mirrors the not-found sentinel the reference geth2 store
// uses for NodeStore.Get.
const ErrNotFound = common.ConstError("not found")

// Driver is a goleveldb-backed reference implementation of driver.Driver.
type Driver struct {
	db    *leveldb.DB
	codec driver.Codec
	index driver.IndexSource // nil if codec does not implement it
}

var _ driver.Driver = (*Driver)(nil)

// Open opens (creating if absent) a LevelDB database at path. If codec also
// implements driver.IndexSource, the driver physically maintains secondary
// unique-index entries alongside each row.
func Open(path string, codec driver.Codec) (*Driver, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, common.NewError(common.KindDriver, "open", "", err)
	}
	idx, _ := codec.(driver.IndexSource)
	return &Driver{db: db, codec: codec, index: idx}, nil
}

// Close releases the underlying database handle.
func (d *Driver) Close() error {
	return d.db.Close()
}

func rowKey(table object.TableKey, pk common.PK) []byte {
	buf := make([]byte, 1+8+8+8+8)
	buf[0] = rowPrefix
	binary.BigEndian.PutUint64(buf[1:], uint64(table.Code))
	binary.BigEndian.PutUint64(buf[9:], uint64(table.Scope))
	binary.BigEndian.PutUint64(buf[17:], uint64(table.Table))
	binary.BigEndian.PutUint64(buf[25:], uint64(pk))
	return buf
}

func tablePrefix(table object.TableKey, prefix byte) []byte {
	buf := make([]byte, 1+8+8+8)
	buf[0] = prefix
	binary.BigEndian.PutUint64(buf[1:], uint64(table.Code))
	binary.BigEndian.PutUint64(buf[9:], uint64(table.Scope))
	binary.BigEndian.PutUint64(buf[17:], uint64(table.Table))
	return buf
}

func pkOfRowKey(key []byte) common.PK {
	return common.PK(binary.BigEndian.Uint64(key[25:33]))
}

// indexTablePrefix is the fixed-length prefix shared by every physical
// entry of one (table, index), so BytesPrefix range-scans and Seeks over
// it in index-key order regardless of the variable-length key suffix.
func indexTablePrefix(table object.TableKey, index object.IndexID) []byte {
	buf := make([]byte, 1+8+8+8+8)
	buf[0] = indexPrefix
	binary.BigEndian.PutUint64(buf[1:], uint64(table.Code))
	binary.BigEndian.PutUint64(buf[9:], uint64(table.Scope))
	binary.BigEndian.PutUint64(buf[17:], uint64(table.Table))
	binary.BigEndian.PutUint64(buf[25:], uint64(index))
	return buf
}

func indexEntryKey(table object.TableKey, index object.IndexID, keyBytes []byte) []byte {
	return append(indexTablePrefix(table, index), keyBytes...)
}

func pkOfIndexEntry(value []byte) common.PK {
	return common.PK(binary.BigEndian.Uint64(value))
}

func undoKey(table object.TableKey, revision common.Revision, undoPK common.PK) []byte {
	buf := make([]byte, 1+8+8+8+8+8)
	buf[0] = undoPrefix
	binary.BigEndian.PutUint64(buf[1:], uint64(table.Code))
	binary.BigEndian.PutUint64(buf[9:], uint64(table.Scope))
	binary.BigEndian.PutUint64(buf[17:], uint64(table.Table))
	binary.BigEndian.PutUint64(buf[25:], uint64(revision))
	binary.BigEndian.PutUint64(buf[33:], uint64(undoPK))
	return buf
}

// Begin returns a cursor at the table's first row.
func (d *Driver) Begin(table object.TableKey, index object.IndexID) (driver.Cursor, error) {
	prefix := tablePrefix(table, rowPrefix)
	it := d.db.NewIterator(goleveldbutil.BytesPrefix(prefix), nil)
	defer it.Release()
	if !it.First() {
		return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
	}
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: pkOfRowKey(it.Key())}, nil
}

// End returns the table's fixed end cursor.
func (d *Driver) End(table object.TableKey, index object.IndexID) (driver.Cursor, error) {
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
}

// Find resolves the cursor exactly at pk, or End if absent.
func (d *Driver) Find(table object.TableKey, index object.IndexID, pk common.PK) (driver.Cursor, error) {
	_, err := d.db.Get(rowKey(table, pk), nil)
	if err == leveldb.ErrNotFound {
		return d.End(table, index)
	}
	if err != nil {
		return driver.Cursor{}, common.NewError(common.KindDriver, "find", "", err)
	}
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: pk}, nil
}

// LowerBound resolves the first position >= key. index == 0 means the
// primary-key index, resolved directly against the row keyspace; any other
// index resolves against the physical secondary-index keyspace maintained
// in ApplyAllChanges, provided the driver's codec supplies one (see
// driver.IndexSource).
func (d *Driver) LowerBound(table object.TableKey, index object.IndexID, key []object.Value) (driver.Cursor, error) {
	if index != 0 {
		return d.lowerBoundIndex(table, index, key)
	}
	pk, err := pkFromKey(key)
	if err != nil {
		return driver.Cursor{}, err
	}
	prefix := tablePrefix(table, rowPrefix)
	it := d.db.NewIterator(goleveldbutil.BytesPrefix(prefix), nil)
	defer it.Release()
	seek := rowKey(table, pk)
	if !it.Seek(seek) {
		return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
	}
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: pkOfRowKey(it.Key())}, nil
}

func (d *Driver) lowerBoundIndex(table object.TableKey, index object.IndexID, key []object.Value) (driver.Cursor, error) {
	if d.index == nil {
		return driver.Cursor{}, common.NewError(common.KindDriver, "unsupported_index", "", fmt.Errorf("driver has no secondary-index source configured"))
	}
	prefix := indexTablePrefix(table, index)
	it := d.db.NewIterator(goleveldbutil.BytesPrefix(prefix), nil)
	defer it.Release()
	seek := indexEntryKey(table, index, d.index.EncodeIndexKey(key))
	if !it.Seek(seek) {
		return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
	}
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: pkOfIndexEntry(it.Value())}, nil
}

// UpperBound resolves the first position strictly greater than key.
// Unlike a naive delegation to LowerBound(key+1) — which breaks for the
// maximum PK — this walks past an exact match explicitly.
func (d *Driver) UpperBound(table object.TableKey, index object.IndexID, key []object.Value) (driver.Cursor, error) {
	if index != 0 {
		return d.upperBoundIndex(table, index, key)
	}
	pk, err := pkFromKey(key)
	if err != nil {
		return driver.Cursor{}, err
	}
	prefix := tablePrefix(table, rowPrefix)
	it := d.db.NewIterator(goleveldbutil.BytesPrefix(prefix), nil)
	defer it.Release()
	seek := rowKey(table, pk)
	if !it.Seek(seek) {
		return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
	}
	if bytes.Equal(it.Key(), seek) {
		if !it.Next() {
			return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
		}
	}
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: pkOfRowKey(it.Key())}, nil
}

func (d *Driver) upperBoundIndex(table object.TableKey, index object.IndexID, key []object.Value) (driver.Cursor, error) {
	if d.index == nil {
		return driver.Cursor{}, common.NewError(common.KindDriver, "unsupported_index", "", fmt.Errorf("driver has no secondary-index source configured"))
	}
	prefix := indexTablePrefix(table, index)
	it := d.db.NewIterator(goleveldbutil.BytesPrefix(prefix), nil)
	defer it.Release()
	seek := indexEntryKey(table, index, d.index.EncodeIndexKey(key))
	if !it.Seek(seek) {
		return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
	}
	if bytes.Equal(it.Key(), seek) {
		if !it.Next() {
			return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
		}
	}
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: pkOfIndexEntry(it.Value())}, nil
}

func pkFromKey(key []object.Value) (common.PK, error) {
	if len(key) != 1 {
		return 0, common.NewError(common.KindDriver, "bad_key", "", fmt.Errorf("expected 1 key field, got %d", len(key)))
	}
	pk, ok := key[0].(common.PK)
	if !ok {
		return 0, common.NewError(common.KindDriver, "bad_key", "", fmt.Errorf("expected common.PK, got %T", key[0]))
	}
	return pk, nil
}

// Dereference reads the row at a cursor.
func (d *Driver) Dereference(cursor driver.Cursor) (object.ObjectValue, error) {
	if cursor.Kind == driver.CursorEnd {
		return object.ObjectValue{Service: object.ServiceHeader{PK: common.EndPK}}, nil
	}
	raw, err := d.db.Get(rowKey(cursor.Table, cursor.PK), nil)
	if err == leveldb.ErrNotFound {
		return object.ObjectValue{Service: object.ServiceHeader{PK: common.EndPK}}, nil
	}
	if err != nil {
		return object.ObjectValue{}, common.NewError(common.KindDriver, "dereference", "", err)
	}
	return d.decodeRow(cursor.Table, raw)
}

// Advance returns the cursor for the row following cursor.
func (d *Driver) Advance(cursor driver.Cursor) (driver.Cursor, error) {
	if cursor.Kind == driver.CursorEnd {
		return cursor, nil
	}
	prefix := tablePrefix(cursor.Table, rowPrefix)
	it := d.db.NewIterator(goleveldbutil.BytesPrefix(prefix), nil)
	defer it.Release()
	if !it.Seek(rowKey(cursor.Table, cursor.PK)) {
		return driver.Cursor{Table: cursor.Table, Index: cursor.Index, Kind: driver.CursorEnd}, nil
	}
	if !it.Next() {
		return driver.Cursor{Table: cursor.Table, Index: cursor.Index, Kind: driver.CursorEnd}, nil
	}
	return driver.Cursor{Table: cursor.Table, Index: cursor.Index, Kind: driver.CursorPK, PK: pkOfRowKey(it.Key())}, nil
}

// AvailablePK returns the next good PK after the largest one currently
// stored for table (0 for an empty table), read off the last row's key
// since rows are stored in PK order. Gaps below that PK are not reused.
func (d *Driver) AvailablePK(table object.TableKey) (common.PK, error) {
	prefix := tablePrefix(table, rowPrefix)
	it := d.db.NewIterator(goleveldbutil.BytesPrefix(prefix), nil)
	defer it.Release()
	if !it.Last() {
		return 0, nil
	}
	return pkOfRowKey(it.Key()).Next(), nil
}

// ApplyAllChanges flushes one table's journaled data and undo operations
// atomically via a single LevelDB batch.
func (d *Driver) ApplyAllChanges(table object.TableKey, data, undo []journal.WriteOperation) error {
	batch := new(leveldb.Batch)
	for _, op := range data {
		if err := d.applyDataOp(batch, table, op); err != nil {
			return err
		}
	}
	for _, op := range undo {
		if err := d.applyUndoOp(batch, table, op); err != nil {
			return err
		}
	}
	if err := d.db.Write(batch, nil); err != nil {
		return common.NewError(common.KindDriver, "apply_all_changes", "", err)
	}
	return nil
}

func (d *Driver) applyDataOp(batch *leveldb.Batch, table object.TableKey, op journal.WriteOperation) error {
	switch op.Type {
	case journal.OpInsert, journal.OpUpdate:
		if err := d.vacateIndexEntries(batch, table, op.Header.PK); err != nil {
			return err
		}
		raw, err := d.encodeRow(table, op.Header, op.Value)
		if err != nil {
			return err
		}
		batch.Put(rowKey(table, op.Header.PK), raw)
		if err := d.writeIndexEntries(batch, table, op.Header.PK, op.Value); err != nil {
			return err
		}
	case journal.OpRemove:
		if err := d.vacateIndexEntries(batch, table, op.Header.PK); err != nil {
			return err
		}
		batch.Delete(rowKey(table, op.Header.PK))
	case journal.OpRevision:
		// A pure revision marker carries no live-row change.
	}
	return nil
}

// vacateIndexEntries deletes whatever secondary-index entries currently
// point at pk's existing row (if any), reading it back to recover the
// value they were derived from.
func (d *Driver) vacateIndexEntries(batch *leveldb.Batch, table object.TableKey, pk common.PK) error {
	if d.index == nil {
		return nil
	}
	raw, err := d.db.Get(rowKey(table, pk), nil)
	if err == leveldb.ErrNotFound {
		return nil
	}
	if err != nil {
		return common.NewError(common.KindDriver, "read_row", "", err)
	}
	old, err := d.decodeRow(table, raw)
	if err != nil {
		return err
	}
	entries, err := d.index.IndexKeys(table, old.Value)
	if err != nil {
		return common.NewError(common.KindDriver, "index_keys", "", err)
	}
	for _, e := range entries {
		batch.Delete(indexEntryKey(table, e.Index, e.Key))
	}
	return nil
}

// writeIndexEntries records pk under every unique-index entry value
// resolves to.
func (d *Driver) writeIndexEntries(batch *leveldb.Batch, table object.TableKey, pk common.PK, value object.Value) error {
	if d.index == nil {
		return nil
	}
	entries, err := d.index.IndexKeys(table, value)
	if err != nil {
		return common.NewError(common.KindDriver, "index_keys", "", err)
	}
	var pkBuf [8]byte
	binary.BigEndian.PutUint64(pkBuf[:], uint64(pk))
	for _, e := range entries {
		batch.Put(indexEntryKey(table, e.Index, e.Key), pkBuf[:])
	}
	return nil
}

func (d *Driver) applyUndoOp(batch *leveldb.Batch, table object.TableKey, op journal.WriteOperation) error {
	key := undoKey(table, op.Header.Revision, op.Header.UndoPK)
	if op.Type == journal.OpRemove {
		batch.Delete(key)
		return nil
	}
	raw, err := d.encodeRow(table, op.Header, op.Value)
	if err != nil {
		return err
	}
	batch.Put(key, raw)
	return nil
}

func (d *Driver) encodeRow(table object.TableKey, header object.ServiceHeader, value object.Value) ([]byte, error) {
	var payload []byte
	if value != nil {
		encoded, err := d.codec.Encode(table, value)
		if err != nil {
			return nil, common.NewError(common.KindSchema, "encode", "", err)
		}
		payload = encoded
	}
	framed := frameRow(header, payload)
	return snappy.Encode(nil, framed), nil
}

func (d *Driver) decodeRow(table object.TableKey, raw []byte) (object.ObjectValue, error) {
	framed, err := snappy.Decode(nil, raw)
	if err != nil {
		return object.ObjectValue{}, common.NewError(common.KindDriver, "decompress", "", err)
	}
	header, payload := unframeRow(framed)
	var value object.Value
	if len(payload) > 0 {
		value, err = d.codec.Decode(table, payload)
		if err != nil {
			return object.ObjectValue{}, common.NewError(common.KindSchema, "decode", "", err)
		}
	}
	return object.ObjectValue{Service: header, Value: value}, nil
}

// LoadUndoStream reads back the persisted undo stream for table, ordered
// by (revision ASC, undo_pk ASC) — the order the undo keys already sort
// in, since the key encoding places revision ahead of undo_pk.
func (d *Driver) LoadUndoStream(table object.TableKey) ([]driver.UndoRow, error) {
	prefix := tablePrefix(table, undoPrefix)
	it := d.db.NewIterator(goleveldbutil.BytesPrefix(prefix), nil)
	defer it.Release()

	var rows []driver.UndoRow
	for it.Next() {
		framed, err := snappy.Decode(nil, it.Value())
		if err != nil {
			return nil, common.NewError(common.KindDriver, "decompress", "", err)
		}
		header, payload := unframeRow(framed)
		var value object.Value
		if len(payload) > 0 {
			value, err = d.codec.Decode(table, payload)
			if err != nil {
				return nil, common.NewError(common.KindSchema, "decode", "", err)
			}
		}
		rows = append(rows, driver.UndoRow{
			Revision:   header.Revision,
			UndoPK:     header.UndoPK,
			Header:     header,
			Value:      value,
			UndoRecord: header.UndoRecord,
		})
	}
	return rows, nil
}

// DropTable removes a table and all its persisted data/undo rows.
func (d *Driver) DropTable(table object.TableKey) error {
	batch := new(leveldb.Batch)
	for _, prefix := range [][]byte{tablePrefix(table, rowPrefix), tablePrefix(table, undoPrefix)} {
		it := d.db.NewIterator(goleveldbutil.BytesPrefix(prefix), nil)
		for it.Next() {
			batch.Delete(append([]byte(nil), it.Key()...))
		}
		it.Release()
	}
	if err := d.db.Write(batch, nil); err != nil {
		return common.NewError(common.KindDriver, "drop_table", "", err)
	}
	return nil
}

// HasIndex reports whether this driver physically maintains unique
// secondary indexes at all — true once opened with a codec implementing
// driver.IndexSource, since every declared unique index is then maintained
// incrementally by ApplyAllChanges from the row that first exercises it.
func (d *Driver) HasIndex(table object.TableKey, indexFields []string, unique bool) bool {
	return unique && d.index != nil
}

// frameRow packs a ServiceHeader and an opaque payload into one blob: a
// fixed prefix of header scalars, then the payload verbatim.
func frameRow(header object.ServiceHeader, payload []byte) []byte {
	buf := new(bytes.Buffer)
	writeUint64(buf, uint64(header.Code))
	writeUint64(buf, uint64(header.Scope))
	writeUint64(buf, uint64(header.Table))
	writeUint64(buf, uint64(header.PK))
	writeString(buf, header.Payer)
	writeString(buf, header.Owner)
	writeUint64(buf, uint64(header.Size))
	writeBool(buf, header.InRAM)
	writeUint64(buf, uint64(header.Revision))
	writeUint64(buf, uint64(header.UndoPK))
	writeUint64(buf, uint64(header.UndoRecord))
	writeUint64(buf, uint64(header.UndoRevision))
	writeString(buf, header.UndoPayer)
	writeUint64(buf, uint64(header.UndoSize))
	writeBool(buf, header.UndoInRAM)
	buf.Write(payload)
	return buf.Bytes()
}

func unframeRow(framed []byte) (object.ServiceHeader, []byte) {
	r := bytes.NewReader(framed)
	var h object.ServiceHeader
	h.Code = object.Code(readUint64(r))
	h.Scope = object.Scope(readUint64(r))
	h.Table = object.TableID(readUint64(r))
	h.PK = common.PK(readUint64(r))
	h.Payer = readString(r)
	h.Owner = readString(r)
	h.Size = int(readUint64(r))
	h.InRAM = readBool(r)
	h.Revision = common.Revision(readUint64(r))
	h.UndoPK = common.PK(readUint64(r))
	h.UndoRecord = object.UndoRecord(readUint64(r))
	h.UndoRevision = common.Revision(readUint64(r))
	h.UndoPayer = readString(r)
	h.UndoSize = int(readUint64(r))
	h.UndoInRAM = readBool(r)
	rest := make([]byte, r.Len())
	_, _ = r.Read(rest)
	return h, rest
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint64(buf, uint64(len(s)))
	buf.WriteString(s)
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readUint64(r *bytes.Reader) uint64 {
	var b [8]byte
	_, _ = r.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

func readString(r *bytes.Reader) string {
	n := readUint64(r)
	b := make([]byte, n)
	_, _ = r.Read(b)
	return string(b)
}

func readBool(r *bytes.Reader) bool {
	b, _ := r.ReadByte()
	return b != 0
}
