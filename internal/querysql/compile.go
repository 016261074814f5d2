package querysql

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/docrepo/internal/ir"
	"github.com/roach88/docrepo/internal/queryir"
	"github.com/roach88/docrepo/internal/schema"
)

// SQLCompiler compiles queryir queries to parameterized SQLite over a
// document table with the layout
//
//	seq INTEGER PRIMARY KEY AUTOINCREMENT, key TEXT NOT NULL UNIQUE, doc TEXT NOT NULL
//
// CRITICAL: every Select is ordered by seq (insertion order).
// CRITICAL: values and JSON paths are always parameters, never interpolated.
type SQLCompiler struct {
	// KeyPath is the descriptor name of the table's primary key ("id",
	// "[firstName+lastName]"). Comparisons on it use the key column.
	KeyPath string
}

// NewSQLCompiler creates a compiler for a table whose primary key is keyPath.
func NewSQLCompiler(keyPath string) *SQLCompiler {
	return &SQLCompiler{KeyPath: keyPath}
}

// Residual decides a candidate row when the WHERE clause over-selects.
// leaves holds the value of every comparison column, in select order.
type Residual func(leaves []bool, doc []byte) (bool, error)

// Plan is a compiled query.
//
// For Select the result columns are seq, key, doc followed by LeafColumns
// boolean columns. Residual is nil when the WHERE clause is exact; otherwise
// every returned row must be passed through it.
//
// For Count the single result column is the row count.
type Plan struct {
	SQL         string
	Params      []any
	LeafColumns int
	Residual    Residual
}

// Compile converts a query to a Plan.
func (c *SQLCompiler) Compile(q queryir.Query) (Plan, error) {
	switch query := q.(type) {
	case nil:
		return Plan{}, fmt.Errorf("cannot compile nil query")
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	case queryir.Count:
		return c.compileCount(query)
	case *queryir.Count:
		return c.compileCount(*query)
	default:
		return Plan{}, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (Plan, error) {
	if err := queryir.Validate(q.Filter); err != nil {
		return Plan{}, fmt.Errorf("compile select: %w", err)
	}

	var (
		columns = "seq, key, doc"
		params  []any
		plan    Plan
	)

	if queryir.HasMatch(q.Filter) {
		var leafSQL []string
		seeded := queryir.IndexSeeded(q.Filter)
		for i, leaf := range queryir.Leaves(q.Filter) {
			if isMatch(leaf) {
				continue
			}
			sql, leafParams, err := c.compileLeaf(leaf, seeded[i])
			if err != nil {
				return Plan{}, fmt.Errorf("compile select: %w", err)
			}
			leafSQL = append(leafSQL, fmt.Sprintf("COALESCE((%s), 0)", sql))
			params = append(params, leafParams...)
		}
		if len(leafSQL) > 0 {
			columns += ", " + strings.Join(leafSQL, ", ")
		}
		plan.LeafColumns = len(leafSQL)

		next := 0
		plan.Residual = compileResidual(q.Filter, &next)
	}

	where, whereParams, err := c.compileWhere(q.Filter)
	if err != nil {
		return Plan{}, fmt.Errorf("compile select: %w", err)
	}
	params = append(params, whereParams...)

	// MANDATORY: insertion order
	plan.SQL = fmt.Sprintf("SELECT %s FROM %s%s ORDER BY seq ASC", columns, QuoteIdent(q.From), where)
	plan.Params = params
	return plan, nil
}

func (c *SQLCompiler) compileCount(q queryir.Count) (Plan, error) {
	if err := queryir.Validate(q.Filter); err != nil {
		return Plan{}, fmt.Errorf("compile count: %w", err)
	}
	if queryir.HasMatch(q.Filter) {
		return Plan{}, fmt.Errorf("compile count: match predicates cannot be counted in SQL")
	}
	where, params, err := c.compileWhere(q.Filter)
	if err != nil {
		return Plan{}, fmt.Errorf("compile count: %w", err)
	}
	return Plan{
		SQL:    fmt.Sprintf("SELECT COUNT(*) FROM %s%s", QuoteIdent(q.From), where),
		Params: params,
	}, nil
}

func (c *SQLCompiler) compileWhere(p queryir.Predicate) (string, []any, error) {
	if p == nil {
		return "", nil, nil
	}
	cur := &leafCursor{seeded: queryir.IndexSeeded(p)}
	sql, params, err := c.compilePredicate(p, cur)
	if err != nil {
		return "", nil, err
	}
	return " WHERE " + sql, params, nil
}

// leafCursor walks IndexSeeded alongside a compiling tree.
type leafCursor struct {
	seeded []bool
	next   int
}

func (c *leafCursor) advance() bool {
	i := c.next
	c.next++
	return i < len(c.seeded) && c.seeded[i]
}

// compilePredicate compiles a predicate to a WHERE fragment.
// Match nodes compile to TRUE: the tree has no negation, so the result is a
// superset that the Residual narrows.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate, cur *leafCursor) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.And:
		return c.compileJunction(pred.Predicates, cur, " AND ", "1 = 1")
	case *queryir.And:
		return c.compileJunction(pred.Predicates, cur, " AND ", "1 = 1")
	case queryir.Or:
		return c.compileJunction(pred.Predicates, cur, " OR ", "1 = 0")
	case *queryir.Or:
		return c.compileJunction(pred.Predicates, cur, " OR ", "1 = 0")
	case queryir.Match, *queryir.Match:
		cur.advance()
		return "1 = 1", nil, nil
	default:
		return c.compileLeaf(p, cur.advance())
	}
}

// compileLeaf compiles one comparison. seeded marks a comparison that opens
// an index lookup.
func (c *SQLCompiler) compileLeaf(p queryir.Predicate, seeded bool) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		return c.compileComparison(pred.Field, pred.Value, "=", false)
	case *queryir.Equals:
		return c.compileComparison(pred.Field, pred.Value, "=", false)
	case queryir.NotEquals:
		return c.compileComparison(pred.Field, pred.Value, "<>", !seeded)
	case *queryir.NotEquals:
		return c.compileComparison(pred.Field, pred.Value, "<>", !seeded)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileJunction(preds []queryir.Predicate, cur *leafCursor, op, empty string) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(preds))
	var params []any
	for _, child := range preds {
		sql, childParams, err := c.compilePredicate(child, cur)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, childParams...)
	}
	if len(parts) == 1 {
		return parts[0], params, nil
	}
	return "(" + strings.Join(parts, op) + ")", params, nil
}

// compileComparison compiles one field comparison.
//
//   - the primary key path compares the canonical key column
//   - other compound paths compare every member
//   - plain properties compare json_extract(doc, path)
//
// With orMissing, a "<>" comparison also matches rows that lack the property.
func (c *SQLCompiler) compileComparison(field string, value any, op string, orMissing bool) (string, []any, error) {
	if field == c.KeyPath {
		key, err := ir.Encode(value)
		if err != nil {
			return "", nil, fmt.Errorf("field %q: %w", field, err)
		}
		return "key " + op + " ?", []any{key}, nil
	}

	if strings.HasPrefix(field, "[") {
		return compileCompound(field, value, op, orMissing)
	}

	param, err := paramValue(value)
	if err != nil {
		return "", nil, fmt.Errorf("field %q: %w", field, err)
	}
	path := PropertyPath(field)
	if orMissing {
		return "(json_extract(doc, ?) IS NULL OR json_extract(doc, ?) " + op + " ?)", []any{path, path, param}, nil
	}
	return "json_extract(doc, ?) " + op + " ?", []any{path, param}, nil
}

func compileCompound(field string, value any, op string, orMissing bool) (string, []any, error) {
	specs, err := schema.ParseSchemaString(field)
	if err != nil {
		return "", nil, fmt.Errorf("field %q: %w", field, err)
	}
	members := specs[0].Members

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return "", nil, fmt.Errorf("field %q: compound value must be a list, got %T", field, value)
	}
	if rv.Len() != len(members) {
		return "", nil, fmt.Errorf("field %q: expected %d values, got %d", field, len(members), rv.Len())
	}

	parts := make([]string, len(members))
	params := make([]any, 0, 2*len(members))
	for i, m := range members {
		param, err := paramValue(rv.Index(i).Interface())
		if err != nil {
			return "", nil, fmt.Errorf("field %q member %q: %w", field, m, err)
		}
		parts[i] = "json_extract(doc, ?) = ?"
		params = append(params, PropertyPath(m), param)
	}
	sql := "(" + strings.Join(parts, " AND ") + ")"
	switch {
	case op == "<>" && orMissing:
		sql = "NOT COALESCE(" + sql + ", 0)"
	case op == "<>":
		// Every member must be present for the row to be in a compound index.
		present := make([]string, len(members))
		for i := range members {
			present[i] = "json_extract(doc, ?) IS NOT NULL"
			params = append(params, PropertyPath(members[i]))
		}
		sql = "(NOT " + sql + " AND " + strings.Join(present, " AND ") + ")"
	}
	return sql, params, nil
}

// paramValue converts a comparison value to a SQLite parameter. Values that
// are not plain scalars are normalized through their JSON form, so named
// types and time.Time compare the way they are stored.
func paramValue(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("cannot compare with nil")
	case string, bool, int, int8, int16, int32, int64, uint8, uint16, uint32, float32, float64:
		return val, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		return val.Float64()
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("convert value: %w", err)
	}
	var decoded any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("convert value: %w", err)
	}
	switch d := decoded.(type) {
	case string, bool, json.Number:
		return paramValue(d)
	default:
		return nil, fmt.Errorf("unsupported comparison value of type %T", v)
	}
}

// compileResidual builds the in-process evaluator for a tree with Match
// nodes. Comparison leaves read their precomputed column; next tracks the
// column index in Leaves order.
func compileResidual(p queryir.Predicate, next *int) Residual {
	switch pred := p.(type) {
	case nil:
		return func([]bool, []byte) (bool, error) { return true, nil }
	case queryir.And:
		return junction(pred.Predicates, next, true)
	case *queryir.And:
		return junction(pred.Predicates, next, true)
	case queryir.Or:
		return junction(pred.Predicates, next, false)
	case *queryir.Or:
		return junction(pred.Predicates, next, false)
	case queryir.Match:
		return matchResidual(pred)
	case *queryir.Match:
		return matchResidual(*pred)
	default:
		i := *next
		*next = i + 1
		return func(leaves []bool, _ []byte) (bool, error) { return leaves[i], nil }
	}
}

func junction(preds []queryir.Predicate, next *int, all bool) Residual {
	children := make([]Residual, len(preds))
	for i, child := range preds {
		children[i] = compileResidual(child, next)
	}
	return func(leaves []bool, doc []byte) (bool, error) {
		for _, child := range children {
			ok, err := child(leaves, doc)
			if err != nil {
				return false, err
			}
			if ok != all {
				return ok, nil
			}
		}
		return all, nil
	}
}

func matchResidual(m queryir.Match) Residual {
	return func(_ []bool, doc []byte) (bool, error) {
		ok, err := m.Fn(doc)
		if err != nil {
			return false, fmt.Errorf("match %q: %w", m.Name, err)
		}
		return ok, nil
	}
}

func isMatch(p queryir.Predicate) bool {
	switch p.(type) {
	case queryir.Match, *queryir.Match:
		return true
	}
	return false
}

// QuoteIdent quotes an SQLite identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// PropertyPath returns the JSON path of a top-level document property.
func PropertyPath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
}
