package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/docrepo/internal/ir"
	"github.com/roach88/docrepo/internal/queryir"
	"github.com/roach88/docrepo/internal/querysql"
)

// Mode is a transaction mode.
type Mode int

const (
	ModeRead Mode = iota
	ModeReadWrite
)

func (m Mode) String() string {
	if m == ModeReadWrite {
		return "rw"
	}
	return "r"
}

// Row is one stored document. Key is the canonical key encoding (JSON), so
// it can be decoded straight into the caller's key type.
type Row struct {
	Key string
	Doc []byte
}

// Tx is a transaction scoped to one table.
type Tx struct {
	ctx     context.Context
	tx      *sql.Tx
	table   *tableInfo
	mode    Mode
	source  string
	changed bool
	clock   Clock
}

// Transaction runs fn inside a transaction on table. The transaction commits
// when fn returns nil and rolls back otherwise. Subscribers are notified of
// committed writes.
func (db *DB) Transaction(ctx context.Context, mode Mode, table string, fn func(*Tx) error) error {
	db.mu.RLock()
	conn := db.conn
	var info *tableInfo
	if conn != nil {
		info = db.tables[table]
	}
	db.mu.RUnlock()

	if conn == nil {
		return errNotOpen(table)
	}
	if info == nil {
		return &Error{Code: ErrCodeNoSuchTable, Table: table, Message: "table is not part of the open schema"}
	}

	sqlTx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s transaction: %w", mode, mapDriverError(err, table))
	}
	tx := &Tx{ctx: ctx, tx: sqlTx, table: info, mode: mode, clock: db.clock}

	if err := fn(tx); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", mapDriverError(err, table))
	}
	if tx.changed {
		db.feed.notify()
	}
	return nil
}

// SetSource tags every change written by this transaction.
func (tx *Tx) SetSource(source string) {
	tx.source = source
}

// Source returns the tag set with SetSource.
func (tx *Tx) Source() string {
	return tx.source
}

// Table returns the table name.
func (tx *Tx) Table() string {
	return tx.table.name
}

// KeyPath returns the descriptor name of the primary key.
func (tx *Tx) KeyPath() string {
	return tx.table.key.Name
}

// Get returns the document stored under key.
func (tx *Tx) Get(key any) ([]byte, bool, error) {
	enc, err := ir.Encode(key)
	if err != nil {
		return nil, false, &Error{Code: ErrCodeInvalidKey, Table: tx.table.name, Message: "invalid key", Err: err}
	}
	doc, found, err := tx.getEncoded(enc)
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}
	return doc, found, nil
}

func (tx *Tx) getEncoded(key string) ([]byte, bool, error) {
	var doc string
	err := tx.tx.QueryRowContext(tx.ctx,
		"SELECT doc FROM "+querysql.QuoteIdent(tx.table.name)+" WHERE key = ?", key,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapDriverError(err, tx.table.name)
	}
	return []byte(doc), true, nil
}

// Put inserts or replaces a document and returns its canonical key.
//
// For incremental tables a missing, null or zero key property is assigned
// the next number and written back into the stored document.
func (tx *Tx) Put(doc []byte) (string, error) {
	if err := tx.writable(); err != nil {
		return "", err
	}
	key, err := tx.put(doc)
	if err != nil {
		return "", fmt.Errorf("put: %w", err)
	}
	return key, nil
}

// BulkPut puts every document in order and returns one key per document.
// All puts share the transaction, so either all of them land or none.
func (tx *Tx) BulkPut(docs [][]byte) ([]string, error) {
	if err := tx.writable(); err != nil {
		return nil, err
	}
	keys := make([]string, len(docs))
	for i, doc := range docs {
		key, err := tx.put(doc)
		if err != nil {
			return nil, fmt.Errorf("bulk put [%d]: %w", i, err)
		}
		keys[i] = key
	}
	return keys, nil
}

func (tx *Tx) put(doc []byte) (string, error) {
	props, err := decodeDoc(doc)
	if err != nil {
		return "", &Error{Code: ErrCodeInvalidKey, Table: tx.table.name, Message: "document is not a JSON object", Err: err}
	}

	var explicitSeq int64
	key, err := tx.keyOf(props)
	switch {
	case err != nil:
		return "", err
	case key == "" && tx.table.key.Incremental:
		next, err := tx.nextSeq()
		if err != nil {
			return "", err
		}
		explicitSeq = next
		key = strconv.FormatInt(next, 10)
		if doc, err = setProperty(doc, tx.table.key.Name, next); err != nil {
			return "", err
		}
	case tx.table.key.Incremental:
		explicitSeq, _ = strconv.ParseInt(key, 10, 64)
	}

	old, exists, err := tx.getEncoded(key)
	if err != nil {
		return "", err
	}

	name := querysql.QuoteIdent(tx.table.name)
	switch {
	case exists:
		_, err = tx.tx.ExecContext(tx.ctx, "UPDATE "+name+" SET doc = ? WHERE key = ?", string(doc), key)
	case explicitSeq > 0:
		_, err = tx.tx.ExecContext(tx.ctx, "INSERT INTO "+name+" (seq, key, doc) VALUES (?, ?, ?)", explicitSeq, key, string(doc))
	default:
		_, err = tx.tx.ExecContext(tx.ctx, "INSERT INTO "+name+" (key, doc) VALUES (?, ?)", key, string(doc))
	}
	if err != nil {
		return "", mapDriverError(err, tx.table.name)
	}

	if exists {
		err = tx.record(ChangeUpdate, key, doc, old)
	} else {
		err = tx.record(ChangeCreate, key, doc, nil)
	}
	if err != nil {
		return "", err
	}
	return key, nil
}

// keyOf extracts the canonical key from a decoded document. It returns ""
// without error when an incremental key still has to be assigned.
func (tx *Tx) keyOf(props map[string]any) (string, error) {
	pk := tx.table.key

	if pk.IsCompound() {
		parts := make([]any, len(pk.Members))
		for i, m := range pk.Members {
			v, ok := props[m]
			if !ok || v == nil {
				return "", &Error{Code: ErrCodeInvalidKey, Table: tx.table.name, Message: fmt.Sprintf("compound key member %q is missing", m)}
			}
			parts[i] = v
		}
		return tx.encodeKey(parts)
	}

	v, ok := props[pk.Name]
	if pk.Incremental {
		if !ok || v == nil || v == json.Number("0") {
			return "", nil
		}
		n, isNum := v.(json.Number)
		if i, err := n.Int64(); !isNum || err != nil || i < 0 {
			return "", &Error{Code: ErrCodeInvalidKey, Table: tx.table.name, Message: fmt.Sprintf("incremental key %q must be a positive integer, got %v", pk.Name, v)}
		}
	}
	if !ok || v == nil {
		return "", &Error{Code: ErrCodeInvalidKey, Table: tx.table.name, Message: fmt.Sprintf("key property %q is missing", pk.Name)}
	}
	return tx.encodeKey(v)
}

func (tx *Tx) encodeKey(v any) (string, error) {
	key, err := ir.Encode(v)
	if err != nil {
		return "", &Error{Code: ErrCodeInvalidKey, Table: tx.table.name, Message: "invalid key", Err: err}
	}
	return key, nil
}

// nextSeq returns the next incremental key. Keys are never reused, even
// after delete or clear.
func (tx *Tx) nextSeq() (int64, error) {
	var next int64
	err := tx.tx.QueryRowContext(tx.ctx, `
		SELECT MAX(
			COALESCE((SELECT seq FROM sqlite_sequence WHERE name = ?), 0),
			COALESCE((SELECT MAX(seq) FROM `+querysql.QuoteIdent(tx.table.name)+`), 0)
		) + 1`, tx.table.name,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next key: %w", mapDriverError(err, tx.table.name))
	}
	return next, nil
}

// Delete removes the document stored under key. Deleting a missing key is
// not an error and records no change.
func (tx *Tx) Delete(key any) error {
	if err := tx.writable(); err != nil {
		return err
	}
	enc, err := ir.Encode(key)
	if err != nil {
		return &Error{Code: ErrCodeInvalidKey, Table: tx.table.name, Message: "invalid key", Err: err}
	}
	old, exists, err := tx.getEncoded(enc)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if !exists {
		return nil
	}
	if _, err := tx.tx.ExecContext(tx.ctx,
		"DELETE FROM "+querysql.QuoteIdent(tx.table.name)+" WHERE key = ?", enc,
	); err != nil {
		return fmt.Errorf("delete: %w", mapDriverError(err, tx.table.name))
	}
	if err := tx.record(ChangeDelete, enc, nil, old); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Clear removes every document, recording one delete change per row.
func (tx *Tx) Clear() error {
	if err := tx.writable(); err != nil {
		return err
	}
	rows, err := tx.ToArray()
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if _, err := tx.tx.ExecContext(tx.ctx, "DELETE FROM "+querysql.QuoteIdent(tx.table.name)); err != nil {
		return fmt.Errorf("clear: %w", mapDriverError(err, tx.table.name))
	}
	for _, row := range rows {
		if err := tx.record(ChangeDelete, row.Key, nil, row.Doc); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}
	return nil
}

// Count returns the number of documents.
func (tx *Tx) Count() (int, error) {
	return tx.CountWhere(nil)
}

// ToArray returns every document in insertion order.
// Returns an empty slice (not nil) for an empty table.
func (tx *Tx) ToArray() ([]Row, error) {
	return tx.Select(nil)
}

// PrimaryKeys returns every canonical key in insertion order.
func (tx *Tx) PrimaryKeys() ([]string, error) {
	rows, err := tx.tx.QueryContext(tx.ctx, "SELECT key FROM "+querysql.QuoteIdent(tx.table.name)+" ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("primary keys: %w", mapDriverError(err, tx.table.name))
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("primary keys: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate primary keys: %w", err)
	}
	return keys, nil
}

// Select returns the documents matching filter in insertion order.
// Returns an empty slice (not nil) when nothing matches.
func (tx *Tx) Select(filter queryir.Predicate) ([]Row, error) {
	if err := tx.checkIndexed(filter); err != nil {
		return nil, err
	}
	plan, err := querysql.NewSQLCompiler(tx.table.key.Name).Compile(queryir.Select{From: tx.table.name, Filter: filter})
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}

	rows, err := tx.tx.QueryContext(tx.ctx, plan.SQL, plan.Params...)
	if err != nil {
		return nil, fmt.Errorf("select: %w", mapDriverError(err, tx.table.name))
	}
	defer rows.Close()

	result := []Row{}
	leaves := make([]bool, plan.LeafColumns)
	for rows.Next() {
		var (
			seq int64
			row Row
			doc string
		)
		dest := []any{&seq, &row.Key, &doc}
		for i := range leaves {
			dest = append(dest, &leaves[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("select: scan: %w", err)
		}
		row.Doc = []byte(doc)

		if plan.Residual != nil {
			ok, err := plan.Residual(leaves, row.Doc)
			if err != nil {
				return nil, fmt.Errorf("select: %w", err)
			}
			if !ok {
				continue
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate select: %w", err)
	}
	return result, nil
}

// CountWhere returns the number of documents matching filter.
func (tx *Tx) CountWhere(filter queryir.Predicate) (int, error) {
	if queryir.HasMatch(filter) {
		rows, err := tx.Select(filter)
		if err != nil {
			return 0, err
		}
		return len(rows), nil
	}
	if err := tx.checkIndexed(filter); err != nil {
		return 0, err
	}
	plan, err := querysql.NewSQLCompiler(tx.table.key.Name).Compile(queryir.Count{From: tx.table.name, Filter: filter})
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	var n int
	if err := tx.tx.QueryRowContext(tx.ctx, plan.SQL, plan.Params...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", mapDriverError(err, tx.table.name))
	}
	return n, nil
}

// checkIndexed rejects filters whose index lookups name unindexed properties.
func (tx *Tx) checkIndexed(filter queryir.Predicate) error {
	for _, leaf := range queryir.IndexedLeaves(filter) {
		field := comparisonField(leaf)
		if !tx.table.indexed[field] {
			return &Error{
				Code:    ErrCodeNotIndexed,
				Table:   tx.table.name,
				Message: fmt.Sprintf("property %q is not indexed", field),
			}
		}
	}
	return nil
}

func comparisonField(p queryir.Predicate) string {
	switch pred := p.(type) {
	case queryir.Equals:
		return pred.Field
	case *queryir.Equals:
		return pred.Field
	case queryir.NotEquals:
		return pred.Field
	case *queryir.NotEquals:
		return pred.Field
	}
	return ""
}

func (tx *Tx) writable() error {
	if tx.mode != ModeReadWrite {
		return &Error{Code: ErrCodeReadOnly, Table: tx.table.name, Message: "write in a read transaction"}
	}
	return nil
}

// record appends a change inside the transaction.
func (tx *Tx) record(typ ChangeType, key string, obj, oldObj []byte) error {
	_, err := tx.tx.ExecContext(tx.ctx, `
		INSERT INTO _docrepo_changes (tbl, type, key, obj, old_obj, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, tx.table.name, int(typ), key, nullableDoc(obj), nullableDoc(oldObj), tx.source, tx.clock.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("record change: %w", err)
	}
	tx.changed = true
	return nil
}

func nullableDoc(doc []byte) any {
	if doc == nil {
		return nil
	}
	return string(doc)
}

// decodeDoc decodes a JSON object keeping numbers exact.
func decodeDoc(doc []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var props map[string]any
	if err := dec.Decode(&props); err != nil {
		return nil, err
	}
	if props == nil {
		return nil, fmt.Errorf("document is null")
	}
	return props, nil
}

// setProperty writes one top-level property into a JSON object.
func setProperty(doc []byte, field string, value any) ([]byte, error) {
	var props map[string]json.RawMessage
	if err := json.Unmarshal(doc, &props); err != nil {
		return nil, fmt.Errorf("set %s: %w", field, err)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", field, err)
	}
	props[field] = raw
	out, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", field, err)
	}
	return out, nil
}
