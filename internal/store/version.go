package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/docrepo/internal/querysql"
	"github.com/roach88/docrepo/internal/schema"
)

const metaPrefix = "_docrepo_"

// TableSchema names a table and its schema descriptor.
type TableSchema struct {
	Name   string
	Schema string
}

// tableInfo is the parsed schema of one open table.
type tableInfo struct {
	name    string
	schema  string
	fields  []schema.FieldSpec
	key     schema.FieldSpec
	indexed map[string]bool
}

func newTableInfo(name, descriptor string) (*tableInfo, error) {
	fields, err := schema.ParseSchemaString(descriptor)
	if err != nil {
		return nil, err
	}
	t := &tableInfo{
		name:    name,
		schema:  descriptor,
		fields:  fields,
		key:     fields[0],
		indexed: make(map[string]bool, len(fields)),
	}
	for _, f := range fields {
		t.indexed[f.Name] = true
	}
	return t, nil
}

// Version is a version being declared on a closed handle.
type Version struct {
	db *DB
	n  int
}

// Version starts declaring version n.
func (db *DB) Version(n int) *Version {
	return &Version{db: db, n: n}
}

// Stores declares table schemas for the version. Declarations merge: tables
// declared in earlier versions carry forward, a table declared again takes
// the new schema, and an empty schema deletes the table from this version on.
//
//	db.Version(1).Stores(map[string]string{"books": "++id, title, author"})
func (v *Version) Stores(tables map[string]string) error {
	if v.n < 1 {
		return &Error{Code: ErrCodeSchema, Message: fmt.Sprintf("version must be >= 1, got %d", v.n)}
	}
	for name, descriptor := range tables {
		if err := validTableName(name); err != nil {
			return err
		}
		if descriptor == "" {
			continue
		}
		if _, err := schema.ParseSchemaString(descriptor); err != nil {
			return &Error{Code: ErrCodeSchema, Table: name, Message: "invalid schema", Err: err}
		}
	}

	v.db.mu.Lock()
	defer v.db.mu.Unlock()
	if v.db.conn != nil {
		return &Error{Code: ErrCodeSchema, Message: "cannot declare a version while the database is open"}
	}
	declared, ok := v.db.versions[v.n]
	if !ok {
		declared = make(map[string]string)
		v.db.versions[v.n] = declared
	}
	maps.Copy(declared, tables)
	return nil
}

// Redeclare closes the handle, runs declare and reopens it. When declare or
// the reopen fails, the declarations in place before the call are restored
// and the handle is reopened if it was open, so other users of the handle
// keep working. Not safe for concurrent use with other calls on db.
func (db *DB) Redeclare(ctx context.Context, declare func() error) error {
	wasOpen := db.IsOpen()
	if err := db.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	db.mu.Lock()
	saved := make(map[int]map[string]string, len(db.versions))
	for n, tables := range db.versions {
		saved[n] = maps.Clone(tables)
	}
	db.mu.Unlock()

	err := declare()
	if err == nil {
		if err = db.Open(ctx); err == nil {
			return nil
		}
	}

	db.mu.Lock()
	db.versions = saved
	db.mu.Unlock()
	if wasOpen {
		if reopenErr := db.Open(ctx); reopenErr != nil {
			return errors.Join(err, fmt.Errorf("reopen: %w", reopenErr))
		}
	}
	return err
}

func validTableName(name string) error {
	if name == "" {
		return &Error{Code: ErrCodeSchema, Message: "table name is empty"}
	}
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, metaPrefix) || strings.HasPrefix(lower, "sqlite_") {
		return &Error{Code: ErrCodeSchema, Table: name, Message: "table name uses a reserved prefix"}
	}
	return nil
}

// maxDeclared returns the highest declared version. Caller holds mu.
func (db *DB) maxDeclared() int {
	highest := 0
	for n := range db.versions {
		highest = max(highest, n)
	}
	return highest
}

// declaredSchema folds all declared versions ≤ upTo over base. Caller holds mu.
func (db *DB) declaredSchema(base map[string]string, upTo int) map[string]string {
	result := maps.Clone(base)
	if result == nil {
		result = make(map[string]string)
	}
	versions := slices.Sorted(maps.Keys(db.versions))
	for _, n := range versions {
		if n > upTo {
			break
		}
		for name, descriptor := range db.versions[n] {
			if descriptor == "" {
				delete(result, name)
				continue
			}
			result[name] = descriptor
		}
	}
	return result
}

// upgrade brings the file to the highest declared version and returns the
// opened version and table set. Caller holds mu.
//
// Tables present in the file but never declared are kept. When the declared
// version equals the stored one, missing tables and indexes are added; the
// stored schema is never narrowed at the same version.
func (db *DB) upgrade(ctx context.Context, conn *sql.DB) (int, map[string]*tableInfo, error) {
	var stored int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&stored); err != nil {
		return 0, nil, fmt.Errorf("get user_version: %w", err)
	}
	declared := db.maxDeclared()

	if declared > 0 && declared < stored {
		return 0, nil, &Error{
			Code:    ErrCodeVersion,
			Message: fmt.Sprintf("declared version %d is lower than stored version %d", declared, stored),
		}
	}

	current, err := readStoredSchema(ctx, conn)
	if err != nil {
		return 0, nil, err
	}

	target := max(declared, stored)
	next := db.declaredSchema(current, target)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("upgrade: begin tx: %w", err)
	}
	defer tx.Rollback()

	tables := make(map[string]*tableInfo, len(next))
	for _, name := range slices.Sorted(maps.Keys(next)) {
		info, err := newTableInfo(name, next[name])
		if err != nil {
			return 0, nil, &Error{Code: ErrCodeSchema, Table: name, Message: "invalid schema", Err: err}
		}

		var old *tableInfo
		if descriptor, exists := current[name]; exists {
			if old, err = newTableInfo(name, descriptor); err != nil {
				return 0, nil, &Error{Code: ErrCodeSchema, Table: name, Message: "invalid stored schema", Err: err}
			}
		}
		if err := migrateTable(ctx, tx, old, info, target > stored); err != nil {
			return 0, nil, err
		}
		if old != nil && target == stored {
			if info, err = widen(old, info); err != nil {
				return 0, nil, &Error{Code: ErrCodeSchema, Table: name, Message: "invalid schema", Err: err}
			}
		}
		tables[name] = info
	}

	if target > stored {
		for name := range current {
			if _, kept := next[name]; kept {
				continue
			}
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+querysql.QuoteIdent(name)); err != nil {
				return 0, nil, fmt.Errorf("upgrade: drop table %s: %w", name, err)
			}
			db.logger.Info("table deleted", "table", name, "version", target)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM _docrepo_schema WHERE version = ?", target); err != nil {
		return 0, nil, fmt.Errorf("upgrade: clear schema record: %w", err)
	}
	for name, info := range tables {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO _docrepo_schema (version, tbl, schema) VALUES (?, ?, ?)",
			target, name, info.schema,
		); err != nil {
			return 0, nil, fmt.Errorf("upgrade: record schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", target)); err != nil {
		return 0, nil, fmt.Errorf("set user_version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("upgrade: commit: %w", mapDriverError(err, ""))
	}

	if target > stored {
		db.logger.Info("database upgraded", "path", db.path, "from", stored, "to", target)
	}
	return target, tables, nil
}

// readStoredSchema returns the table set recorded for the newest version.
func readStoredSchema(ctx context.Context, conn *sql.DB) (map[string]string, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT tbl, schema FROM _docrepo_schema
		WHERE version = (SELECT MAX(version) FROM _docrepo_schema)
	`)
	if err != nil {
		return nil, fmt.Errorf("read stored schema: %w", err)
	}
	defer rows.Close()

	tables := make(map[string]string)
	for rows.Next() {
		var name, descriptor string
		if err := rows.Scan(&name, &descriptor); err != nil {
			return nil, fmt.Errorf("read stored schema: %w", err)
		}
		tables[name] = descriptor
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stored schema: %w", err)
	}
	return tables, nil
}

// migrateTable creates a table or moves its indexes from old to next.
// Indexes are only dropped when the version grows.
func migrateTable(ctx context.Context, tx *sql.Tx, old, next *tableInfo, versionChanged bool) error {
	if old == nil {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL UNIQUE,
			doc TEXT NOT NULL
		)`, querysql.QuoteIdent(next.name)))
		if err != nil {
			return fmt.Errorf("upgrade: create table %s: %w", next.name, err)
		}
		return createIndexes(ctx, tx, next, next.fields[1:])
	}

	if old.key.Name != next.key.Name || old.key.Incremental != next.key.Incremental {
		return &Error{
			Code:    ErrCodeUpgrade,
			Table:   next.name,
			Message: fmt.Sprintf("changing primary key from %q to %q is not supported", old.key.String(), next.key.String()),
		}
	}

	if versionChanged {
		for _, f := range old.fields[1:] {
			if slices.ContainsFunc(next.fields[1:], func(n schema.FieldSpec) bool { return n.Name == f.Name && n.Unique == f.Unique }) {
				continue
			}
			if _, err := tx.ExecContext(ctx, "DROP INDEX IF EXISTS "+querysql.QuoteIdent(indexName(next.name, f))); err != nil {
				return fmt.Errorf("upgrade: drop index %s: %w", f.Name, err)
			}
		}
	}
	return createIndexes(ctx, tx, next, next.fields[1:])
}

// widen adds the secondary fields of old that next lacks, so a same-version
// open never hides an index that exists in the file.
func widen(old, next *tableInfo) (*tableInfo, error) {
	fields := slices.Clone(next.fields)
	for _, f := range old.fields[1:] {
		if !next.indexed[f.Name] {
			fields = append(fields, f)
		}
	}
	if len(fields) == len(next.fields) {
		return next, nil
	}
	return newTableInfo(next.name, schema.FormatSchemaString(fields))
}

// createIndexes creates one expression index per secondary field. Unique
// fields get a UNIQUE index; rows without the property are not constrained.
func createIndexes(ctx context.Context, tx *sql.Tx, t *tableInfo, fields []schema.FieldSpec) error {
	for _, f := range fields {
		var exprs []string
		if f.IsCompound() {
			for _, m := range f.Members {
				exprs = append(exprs, jsonExtractLiteral(m))
			}
		} else {
			exprs = []string{jsonExtractLiteral(f.Name)}
		}
		unique := ""
		if f.Unique {
			unique = "UNIQUE "
		}
		stmt := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
			unique, querysql.QuoteIdent(indexName(t.name, f)), querysql.QuoteIdent(t.name), strings.Join(exprs, ", "))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return mapDriverError(fmt.Errorf("upgrade: create index %s on %s: %w", f.Name, t.name, err), t.name)
		}
	}
	return nil
}

func indexName(table string, f schema.FieldSpec) string {
	if f.Unique {
		return "uidx_" + table + "_" + f.Name
	}
	return "idx_" + table + "_" + f.Name
}

// jsonExtractLiteral renders json_extract with an inline path. Index
// expressions cannot take parameters; the path comes from the schema only.
func jsonExtractLiteral(field string) string {
	path := querysql.PropertyPath(field)
	return "json_extract(doc, '" + strings.ReplaceAll(path, "'", "''") + "')"
}

func sortedTables(tables map[string]*tableInfo) []TableSchema {
	out := make([]TableSchema, 0, len(tables))
	for _, name := range slices.Sorted(maps.Keys(tables)) {
		out = append(out, TableSchema{Name: name, Schema: tables[name].schema})
	}
	return out
}
