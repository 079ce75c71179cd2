// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package sqlite is a second reference driver.Driver, demonstrating
// secondary-index lower_bound/upper_bound via real SQL ORDER BY/WHERE:
// each chaindb table maps to one SQLite table with an INTEGER PRIMARY KEY
// on pk, so SQLite's own B-tree index gives the driver contract's
// primary-key cursors directly. When the supplied driver.Codec also
// implements driver.IndexSource, each declared unique secondary index gets
// its own SQLite table (key BLOB PRIMARY KEY, pk INTEGER), created lazily
// and kept in sync by ApplyAllChanges.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/carmen-db/chaindb/common"
	"github.com/carmen-db/chaindb/driver"
	"github.com/carmen-db/chaindb/journal"
	"github.com/carmen-db/chaindb/object"
)

// Driver is a database/sql + mattn/go-sqlite3 backed reference
// driver.Driver.
type Driver struct {
	db    *sql.DB
	codec driver.Codec
	index driver.IndexSource // nil if codec does not implement it
}

var _ driver.Driver = (*Driver)(nil)

// Open opens (creating if absent) a SQLite database at path. If codec also
// implements driver.IndexSource, the driver physically maintains secondary
// unique-index tables alongside each row table.
func Open(path string, codec driver.Codec) (*Driver, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, common.NewError(common.KindDriver, "open", "", err)
	}
	idx, _ := codec.(driver.IndexSource)
	return &Driver{db: db, codec: codec, index: idx}, nil
}

func indexTableName(table object.TableKey, index object.IndexID) string {
	return fmt.Sprintf("ix_%d_%d_%d_%d", table.Code, table.Scope, table.Table, index)
}

// Close releases the underlying database handle.
func (d *Driver) Close() error {
	return d.db.Close()
}

func tableName(table object.TableKey) string {
	return fmt.Sprintf("t_%d_%d_%d", table.Code, table.Scope, table.Table)
}

func undoTableName(table object.TableKey) string {
	return fmt.Sprintf("u_%d_%d_%d", table.Code, table.Scope, table.Table)
}

// EnsureTable creates the backing SQL table and its undo table if they do
// not already exist; callers create a table before first use.
func (d *Driver) EnsureTable(table object.TableKey) error {
	name := tableName(table)
	undo := undoTableName(table)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			pk INTEGER PRIMARY KEY,
			payer TEXT, owner TEXT, size INTEGER, in_ram INTEGER, revision INTEGER,
			blob BLOB
		)`, name),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			revision INTEGER, undo_pk INTEGER, undo_rec INTEGER,
			pk INTEGER, payer TEXT, owner TEXT, size INTEGER, in_ram INTEGER,
			undo_revision INTEGER, undo_payer TEXT, undo_size INTEGER, undo_in_ram INTEGER,
			blob BLOB,
			PRIMARY KEY (revision, undo_pk)
		)`, undo),
	}
	for _, stmt := range stmts {
		if _, err := d.db.Exec(stmt); err != nil {
			return common.NewError(common.KindDriver, "ensure_table", name, err)
		}
	}
	return nil
}

func (d *Driver) Begin(table object.TableKey, index object.IndexID) (driver.Cursor, error) {
	var pk int64
	row := d.db.QueryRow(fmt.Sprintf("SELECT pk FROM %s ORDER BY pk ASC LIMIT 1", tableName(table)))
	if err := row.Scan(&pk); err == sql.ErrNoRows {
		return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
	} else if err != nil {
		return driver.Cursor{}, common.NewError(common.KindDriver, "begin", tableName(table), err)
	}
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: common.PK(pk)}, nil
}

func (d *Driver) End(table object.TableKey, index object.IndexID) (driver.Cursor, error) {
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
}

func (d *Driver) Find(table object.TableKey, index object.IndexID, pk common.PK) (driver.Cursor, error) {
	var exists int
	row := d.db.QueryRow(fmt.Sprintf("SELECT 1 FROM %s WHERE pk = ?", tableName(table)), int64(pk))
	if err := row.Scan(&exists); err == sql.ErrNoRows {
		return d.End(table, index)
	} else if err != nil {
		return driver.Cursor{}, common.NewError(common.KindDriver, "find", tableName(table), err)
	}
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: pk}, nil
}

func (d *Driver) LowerBound(table object.TableKey, index object.IndexID, key []object.Value) (driver.Cursor, error) {
	if index != 0 {
		return d.lowerBoundIndex(table, index, key)
	}
	pk, err := pkFromKey(key)
	if err != nil {
		return driver.Cursor{}, err
	}
	var found int64
	row := d.db.QueryRow(fmt.Sprintf("SELECT pk FROM %s WHERE pk >= ? ORDER BY pk ASC LIMIT 1", tableName(table)), int64(pk))
	if err := row.Scan(&found); err == sql.ErrNoRows {
		return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
	} else if err != nil {
		return driver.Cursor{}, common.NewError(common.KindDriver, "lower_bound", tableName(table), err)
	}
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: common.PK(found)}, nil
}

// UpperBound resolves the first row strictly greater than key via a
// plain `pk > ?` predicate, rather than delegating to LowerBound(key+1),
// which would wrap incorrectly at the maximum PK.
func (d *Driver) UpperBound(table object.TableKey, index object.IndexID, key []object.Value) (driver.Cursor, error) {
	if index != 0 {
		return d.upperBoundIndex(table, index, key)
	}
	pk, err := pkFromKey(key)
	if err != nil {
		return driver.Cursor{}, err
	}
	var found int64
	row := d.db.QueryRow(fmt.Sprintf("SELECT pk FROM %s WHERE pk > ? ORDER BY pk ASC LIMIT 1", tableName(table)), int64(pk))
	if err := row.Scan(&found); err == sql.ErrNoRows {
		return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
	} else if err != nil {
		return driver.Cursor{}, common.NewError(common.KindDriver, "upper_bound", tableName(table), err)
	}
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: common.PK(found)}, nil
}

// lowerBoundIndex resolves the first pk whose secondary-index key is >=
// the given key, via a real SQL `key >= ? ORDER BY key ASC` query against
// that index's own table.
func (d *Driver) lowerBoundIndex(table object.TableKey, index object.IndexID, key []object.Value) (driver.Cursor, error) {
	if d.index == nil {
		return driver.Cursor{}, common.NewError(common.KindDriver, "unsupported_index", "", fmt.Errorf("driver has no secondary-index source configured"))
	}
	name := indexTableName(table, index)
	if err := d.ensureIndexTable(d.db, name); err != nil {
		return driver.Cursor{}, err
	}
	keyBytes := d.index.EncodeIndexKey(key)
	var pk int64
	row := d.db.QueryRow(fmt.Sprintf("SELECT pk FROM %s WHERE key >= ? ORDER BY key ASC LIMIT 1", name), keyBytes)
	if err := row.Scan(&pk); err == sql.ErrNoRows {
		return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
	} else if err != nil {
		return driver.Cursor{}, common.NewError(common.KindDriver, "lower_bound_index", name, err)
	}
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: common.PK(pk)}, nil
}

// upperBoundIndex resolves the first pk whose secondary-index key is
// strictly greater than the given key.
func (d *Driver) upperBoundIndex(table object.TableKey, index object.IndexID, key []object.Value) (driver.Cursor, error) {
	if d.index == nil {
		return driver.Cursor{}, common.NewError(common.KindDriver, "unsupported_index", "", fmt.Errorf("driver has no secondary-index source configured"))
	}
	name := indexTableName(table, index)
	if err := d.ensureIndexTable(d.db, name); err != nil {
		return driver.Cursor{}, err
	}
	keyBytes := d.index.EncodeIndexKey(key)
	var pk int64
	row := d.db.QueryRow(fmt.Sprintf("SELECT pk FROM %s WHERE key > ? ORDER BY key ASC LIMIT 1", name), keyBytes)
	if err := row.Scan(&pk); err == sql.ErrNoRows {
		return driver.Cursor{Table: table, Index: index, Kind: driver.CursorEnd}, nil
	} else if err != nil {
		return driver.Cursor{}, common.NewError(common.KindDriver, "upper_bound_index", name, err)
	}
	return driver.Cursor{Table: table, Index: index, Kind: driver.CursorPK, PK: common.PK(pk)}, nil
}

// sqlExecer is satisfied by both *sql.DB and *sql.Tx, so ensureIndexTable
// can run either outside or inside a transaction.
type sqlExecer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (d *Driver) ensureIndexTable(exec sqlExecer, name string) error {
	if _, err := exec.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (key BLOB PRIMARY KEY, pk INTEGER)`, name)); err != nil {
		return common.NewError(common.KindDriver, "ensure_index_table", name, err)
	}
	return nil
}

func pkFromKey(key []object.Value) (common.PK, error) {
	if len(key) != 1 {
		return 0, fmt.Errorf("expected 1 key field, got %d", len(key))
	}
	pk, ok := key[0].(common.PK)
	if !ok {
		return 0, fmt.Errorf("expected common.PK, got %T", key[0])
	}
	return pk, nil
}

func (d *Driver) Dereference(cursor driver.Cursor) (object.ObjectValue, error) {
	if cursor.Kind == driver.CursorEnd {
		return object.ObjectValue{Service: object.ServiceHeader{PK: common.EndPK}}, nil
	}
	var payer, owner string
	var size, revision int64
	var inRAM int
	var blob []byte
	row := d.db.QueryRow(fmt.Sprintf("SELECT payer, owner, size, in_ram, revision, blob FROM %s WHERE pk = ?", tableName(cursor.Table)), int64(cursor.PK))
	if err := row.Scan(&payer, &owner, &size, &inRAM, &revision, &blob); err == sql.ErrNoRows {
		return object.ObjectValue{Service: object.ServiceHeader{PK: common.EndPK}}, nil
	} else if err != nil {
		return object.ObjectValue{}, common.NewError(common.KindDriver, "dereference", tableName(cursor.Table), err)
	}
	value, err := d.codec.Decode(cursor.Table, blob)
	if err != nil {
		return object.ObjectValue{}, common.NewError(common.KindSchema, "decode", "", err)
	}
	header := object.ServiceHeader{
		Code: cursor.Table.Code, Scope: cursor.Table.Scope, Table: cursor.Table.Table, PK: cursor.PK,
		Payer: payer, Owner: owner, Size: int(size), InRAM: inRAM != 0, Revision: common.Revision(revision),
	}
	return object.ObjectValue{Service: header, Value: value}, nil
}

func (d *Driver) Advance(cursor driver.Cursor) (driver.Cursor, error) {
	if cursor.Kind == driver.CursorEnd {
		return cursor, nil
	}
	var pk int64
	row := d.db.QueryRow(fmt.Sprintf("SELECT pk FROM %s WHERE pk > ? ORDER BY pk ASC LIMIT 1", tableName(cursor.Table)), int64(cursor.PK))
	if err := row.Scan(&pk); err == sql.ErrNoRows {
		return driver.Cursor{Table: cursor.Table, Index: cursor.Index, Kind: driver.CursorEnd}, nil
	} else if err != nil {
		return driver.Cursor{}, common.NewError(common.KindDriver, "advance", tableName(cursor.Table), err)
	}
	return driver.Cursor{Table: cursor.Table, Index: cursor.Index, Kind: driver.CursorPK, PK: common.PK(pk)}, nil
}

func (d *Driver) AvailablePK(table object.TableKey) (common.PK, error) {
	var pk int64
	row := d.db.QueryRow(fmt.Sprintf("SELECT pk FROM %s ORDER BY pk DESC LIMIT 1", tableName(table)))
	if err := row.Scan(&pk); err == sql.ErrNoRows {
		return 0, nil
	} else if err != nil {
		return 0, common.NewError(common.KindDriver, "available_pk", tableName(table), err)
	}
	return common.PK(pk).Next(), nil
}

func (d *Driver) ApplyAllChanges(table object.TableKey, data, undo []journal.WriteOperation) error {
	tx, err := d.db.Begin()
	if err != nil {
		return common.NewError(common.KindDriver, "apply_all_changes", "", err)
	}
	defer tx.Rollback()

	for _, op := range data {
		if err := d.applyDataOp(tx, table, op); err != nil {
			return err
		}
	}
	for _, op := range undo {
		if err := d.applyUndoOp(tx, table, op); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return common.NewError(common.KindDriver, "apply_all_changes", "", err)
	}
	return nil
}

func (d *Driver) applyDataOp(tx *sql.Tx, table object.TableKey, op journal.WriteOperation) error {
	switch op.Type {
	case journal.OpInsert, journal.OpUpdate:
		if err := d.vacateIndexEntries(tx, table, op.Header.PK); err != nil {
			return err
		}
		blob, err := d.codec.Encode(table, op.Value)
		if err != nil {
			return common.NewError(common.KindSchema, "encode", "", err)
		}
		_, err = tx.Exec(fmt.Sprintf(`INSERT INTO %s (pk, payer, owner, size, in_ram, revision, blob)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(pk) DO UPDATE SET payer=excluded.payer, owner=excluded.owner,
				size=excluded.size, in_ram=excluded.in_ram, revision=excluded.revision, blob=excluded.blob`, tableName(table)),
			int64(op.Header.PK), op.Header.Payer, op.Header.Owner, op.Header.Size, boolInt(op.Header.InRAM), int64(op.Header.Revision), blob)
		if err != nil {
			return common.NewError(common.KindDriver, "apply_data", tableName(table), err)
		}
		if err := d.writeIndexEntries(tx, table, op.Header.PK, op.Value); err != nil {
			return err
		}
	case journal.OpRemove:
		if err := d.vacateIndexEntries(tx, table, op.Header.PK); err != nil {
			return err
		}
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE pk = ?", tableName(table)), int64(op.Header.PK)); err != nil {
			return common.NewError(common.KindDriver, "apply_data", tableName(table), err)
		}
	case journal.OpRevision:
	}
	return nil
}

// vacateIndexEntries removes whatever secondary-index entries the row
// currently stored under pk resolves to, read back before it is
// overwritten or deleted. A no-op if the codec carries no IndexSource.
func (d *Driver) vacateIndexEntries(tx *sql.Tx, table object.TableKey, pk common.PK) error {
	if d.index == nil {
		return nil
	}
	var blob []byte
	row := tx.QueryRow(fmt.Sprintf("SELECT blob FROM %s WHERE pk = ?", tableName(table)), int64(pk))
	if err := row.Scan(&blob); err == sql.ErrNoRows {
		return nil
	} else if err != nil {
		return common.NewError(common.KindDriver, "vacate_index", tableName(table), err)
	}
	value, err := d.codec.Decode(table, blob)
	if err != nil {
		return common.NewError(common.KindSchema, "decode", "", err)
	}
	entries, err := d.index.IndexKeys(table, value)
	if err != nil {
		return common.NewError(common.KindDriver, "index_keys", "", err)
	}
	for _, e := range entries {
		name := indexTableName(table, e.Index)
		if err := d.ensureIndexTable(tx, name); err != nil {
			return err
		}
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE key = ?", name), e.Key); err != nil {
			return common.NewError(common.KindDriver, "vacate_index", name, err)
		}
	}
	return nil
}

// writeIndexEntries records value's secondary-index entries for pk. A
// no-op if the codec carries no IndexSource.
func (d *Driver) writeIndexEntries(tx *sql.Tx, table object.TableKey, pk common.PK, value object.Value) error {
	if d.index == nil {
		return nil
	}
	entries, err := d.index.IndexKeys(table, value)
	if err != nil {
		return common.NewError(common.KindDriver, "index_keys", "", err)
	}
	for _, e := range entries {
		name := indexTableName(table, e.Index)
		if err := d.ensureIndexTable(tx, name); err != nil {
			return err
		}
		_, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s (key, pk) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET pk=excluded.pk`, name), e.Key, int64(pk))
		if err != nil {
			return common.NewError(common.KindDriver, "write_index", name, err)
		}
	}
	return nil
}

func (d *Driver) applyUndoOp(tx *sql.Tx, table object.TableKey, op journal.WriteOperation) error {
	if op.Type == journal.OpRemove {
		_, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE revision = ? AND undo_pk = ?", undoTableName(table)),
			int64(op.Header.Revision), int64(op.Header.UndoPK))
		if err != nil {
			return common.NewError(common.KindDriver, "apply_undo", undoTableName(table), err)
		}
		return nil
	}
	var blob []byte
	if op.Value != nil {
		encoded, err := d.codec.Encode(table, op.Value)
		if err != nil {
			return common.NewError(common.KindSchema, "encode", "", err)
		}
		blob = encoded
	}
	h := op.Header
	_, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s
			(revision, undo_pk, undo_rec, pk, payer, owner, size, in_ram, undo_revision, undo_payer, undo_size, undo_in_ram, blob)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(revision, undo_pk) DO UPDATE SET undo_rec=excluded.undo_rec, blob=excluded.blob`, undoTableName(table)),
		int64(h.Revision), int64(h.UndoPK), int(h.UndoRecord), int64(h.PK), h.Payer, h.Owner, h.Size, boolInt(h.InRAM),
		int64(h.UndoRevision), h.UndoPayer, h.UndoSize, boolInt(h.UndoInRAM), blob)
	if err != nil {
		return common.NewError(common.KindDriver, "apply_undo", undoTableName(table), err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// LoadUndoStream reads back the persisted undo stream ordered by
// (revision ASC, undo_pk ASC) directly via SQL's own primary-key order.
func (d *Driver) LoadUndoStream(table object.TableKey) ([]driver.UndoRow, error) {
	rows, err := d.db.Query(fmt.Sprintf(`SELECT revision, undo_pk, undo_rec, pk, payer, owner, size, in_ram,
		undo_revision, undo_payer, undo_size, undo_in_ram, blob
		FROM %s ORDER BY revision ASC, undo_pk ASC`, undoTableName(table)))
	if err != nil {
		return nil, common.NewError(common.KindDriver, "load_undo_stream", undoTableName(table), err)
	}
	defer rows.Close()

	var out []driver.UndoRow
	for rows.Next() {
		var revision, undoPK int64
		var undoRec int
		var pk int64
		var payer, owner, undoPayer string
		var size, undoSize int64
		var inRAM, undoInRAM int
		var undoRevision int64
		var blob []byte
		if err := rows.Scan(&revision, &undoPK, &undoRec, &pk, &payer, &owner, &size, &inRAM,
			&undoRevision, &undoPayer, &undoSize, &undoInRAM, &blob); err != nil {
			return nil, common.NewError(common.KindDriver, "load_undo_stream", undoTableName(table), err)
		}
		var value object.Value
		if len(blob) > 0 {
			value, err = d.codec.Decode(table, blob)
			if err != nil {
				return nil, common.NewError(common.KindSchema, "decode", "", err)
			}
		}
		header := object.ServiceHeader{
			Code: table.Code, Scope: table.Scope, Table: table.Table, PK: common.PK(pk),
			Payer: payer, Owner: owner, Size: int(size), InRAM: inRAM != 0,
			Revision:     common.Revision(revision),
			UndoPK:       common.PK(undoPK), UndoRecord: object.UndoRecord(undoRec), UndoRevision: common.Revision(undoRevision),
			UndoPayer: undoPayer, UndoSize: int(undoSize), UndoInRAM: undoInRAM != 0,
		}
		out = append(out, driver.UndoRow{
			Revision: common.Revision(revision), UndoPK: common.PK(undoPK),
			Header: header, Value: value, UndoRecord: object.UndoRecord(undoRec),
		})
	}
	return out, rows.Err()
}

func (d *Driver) DropTable(table object.TableKey) error {
	for _, name := range []string{tableName(table), undoTableName(table)} {
		if _, err := d.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
			return common.NewError(common.KindDriver, "drop_table", name, err)
		}
	}
	return nil
}

func (d *Driver) HasIndex(table object.TableKey, indexFields []string, unique bool) bool {
	return unique && d.index != nil
}
