package querysql

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docrepo/internal/queryir"
)

func containsTitle(word string) queryir.Match {
	return queryir.Match{Name: "title contains " + word, Fn: func(doc []byte) (bool, error) {
		return bytes.Contains(doc, []byte(word)), nil
	}}
}

func TestCompile_SelectAll(t *testing.T) {
	plan, err := NewSQLCompiler("id").Compile(queryir.Select{From: "books"})
	require.NoError(t, err)

	assert.Equal(t, `SELECT seq, key, doc FROM "books" ORDER BY seq ASC`, plan.SQL)
	assert.Empty(t, plan.Params)
	assert.Nil(t, plan.Residual)
	assert.Zero(t, plan.LeafColumns)
}

func TestCompile_SelectPointer(t *testing.T) {
	plan, err := NewSQLCompiler("id").Compile(&queryir.Select{
		From:   "books",
		Filter: &queryir.Equals{Field: "author", Value: "GRRM"},
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT seq, key, doc FROM "books" WHERE json_extract(doc, ?) = ? ORDER BY seq ASC`, plan.SQL)
	assert.Equal(t, []any{`$."author"`, "GRRM"}, plan.Params)
}

func TestCompile_ValuesNeverInterpolated(t *testing.T) {
	plan, err := NewSQLCompiler("id").Compile(queryir.Select{
		From:   "books",
		Filter: queryir.Equals{Field: "title", Value: "'; DROP TABLE books; --"},
	})
	require.NoError(t, err)
	assert.NotContains(t, plan.SQL, "DROP")
	assert.NotContains(t, plan.SQL, "title")
}

func TestCompile_OrderByMandatory(t *testing.T) {
	filters := []queryir.Predicate{
		nil,
		queryir.Equals{Field: "a", Value: 1},
		queryir.Or{Predicates: []queryir.Predicate{queryir.Equals{Field: "a", Value: 1}, queryir.Equals{Field: "a", Value: 2}}},
		containsTitle("Of"),
	}
	for _, f := range filters {
		plan, err := NewSQLCompiler("id").Compile(queryir.Select{From: "t", Filter: f})
		require.NoError(t, err)
		assert.Contains(t, plan.SQL, "ORDER BY seq ASC")
	}
}

func TestCompile_KeyPathUsesKeyColumn(t *testing.T) {
	tests := []struct {
		name    string
		keyPath string
		filter  queryir.Predicate
		sql     string
		params  []any
	}{
		{
			name:    "scalar key",
			keyPath: "name",
			filter:  queryir.Equals{Field: "name", Value: "gandalf"},
			sql:     `key = ?`,
			params:  []any{`"gandalf"`},
		},
		{
			name:    "incremental key",
			keyPath: "id",
			filter:  queryir.NotEquals{Field: "id", Value: 4},
			sql:     `key <> ?`,
			params:  []any{`4`},
		},
		{
			name:    "compound key",
			keyPath: "[firstName+lastName]",
			filter:  queryir.Equals{Field: "[firstName+lastName]", Value: []string{"Frodo", "Baggins"}},
			sql:     `key = ?`,
			params:  []any{`["Frodo","Baggins"]`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := NewSQLCompiler(tt.keyPath).Compile(queryir.Select{From: "t", Filter: tt.filter})
			require.NoError(t, err)
			assert.Equal(t, `SELECT seq, key, doc FROM "t" WHERE `+tt.sql+` ORDER BY seq ASC`, plan.SQL)
			assert.Equal(t, tt.params, plan.Params)
		})
	}
}

func TestCompile_SecondaryCompound(t *testing.T) {
	c := NewSQLCompiler("id")

	plan, err := c.Compile(queryir.Select{From: "t", Filter: queryir.Equals{Field: "[a+b]", Value: []any{"x", 2}}})
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, `WHERE (json_extract(doc, ?) = ? AND json_extract(doc, ?) = ?)`)
	assert.Equal(t, []any{`$."a"`, "x", `$."b"`, 2}, plan.Params)

	plan, err = c.Compile(queryir.Select{From: "t", Filter: queryir.NotEquals{Field: "[a+b]", Value: []any{"x", 2}}})
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, `NOT (json_extract(doc, ?) = ? AND json_extract(doc, ?) = ?) AND json_extract(doc, ?) IS NOT NULL`)
	assert.Equal(t, []any{`$."a"`, "x", `$."b"`, 2, `$."a"`, `$."b"`}, plan.Params)

	_, err = c.Compile(queryir.Select{From: "t", Filter: queryir.Equals{Field: "[a+b]", Value: "x"}})
	assert.Error(t, err)
	_, err = c.Compile(queryir.Select{From: "t", Filter: queryir.Equals{Field: "[a+b]", Value: []any{"x"}}})
	assert.Error(t, err)
}

func TestCompile_Junctions(t *testing.T) {
	filter := queryir.Or{Predicates: []queryir.Predicate{
		queryir.And{Predicates: []queryir.Predicate{
			queryir.Equals{Field: "author", Value: "GRRM"},
			queryir.NotEquals{Field: "title", Value: "A Game Of Thrones"},
		}},
		queryir.Equals{Field: "author", Value: "JRRT"},
	}}

	plan, err := NewSQLCompiler("id").Compile(queryir.Select{From: "books", Filter: filter})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT seq, key, doc FROM "books" WHERE ((json_extract(doc, ?) = ? AND (json_extract(doc, ?) IS NULL OR json_extract(doc, ?) <> ?)) OR json_extract(doc, ?) = ?) ORDER BY seq ASC`,
		plan.SQL)
	assert.Equal(t, []any{`$."author"`, "GRRM", `$."title"`, `$."title"`, "A Game Of Thrones", `$."author"`, "JRRT"}, plan.Params)
}

func TestCompile_NarrowingNotEqualKeepsMissing(t *testing.T) {
	c := NewSQLCompiler("id")

	plan, err := c.Compile(queryir.Count{From: "books", Filter: queryir.And{Predicates: []queryir.Predicate{
		queryir.Equals{Field: "author", Value: "X"},
		queryir.NotEquals{Field: "tag", Value: "y"},
	}}})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT COUNT(*) FROM "books" WHERE (json_extract(doc, ?) = ? AND (json_extract(doc, ?) IS NULL OR json_extract(doc, ?) <> ?))`,
		plan.SQL)
	assert.Equal(t, []any{`$."author"`, "X", `$."tag"`, `$."tag"`, "y"}, plan.Params)

	// Seeding an Or branch still requires the property.
	plan, err = c.Compile(queryir.Count{From: "books", Filter: queryir.Or{Predicates: []queryir.Predicate{
		queryir.Equals{Field: "author", Value: "X"},
		queryir.NotEquals{Field: "tag", Value: "y"},
	}}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "books" WHERE (json_extract(doc, ?) = ? OR json_extract(doc, ?) <> ?)`, plan.SQL)

	plan, err = c.Compile(queryir.Count{From: "t", Filter: queryir.And{Predicates: []queryir.Predicate{
		queryir.Equals{Field: "a", Value: "x"},
		queryir.NotEquals{Field: "[a+b]", Value: []any{"x", 2}},
	}}})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT COUNT(*) FROM "t" WHERE (json_extract(doc, ?) = ? AND NOT COALESCE((json_extract(doc, ?) = ? AND json_extract(doc, ?) = ?), 0))`,
		plan.SQL)
}

func TestCompile_EmptyJunctions(t *testing.T) {
	plan, err := NewSQLCompiler("id").Compile(queryir.Select{From: "t", Filter: queryir.And{}})
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "WHERE 1 = 1")

	plan, err = NewSQLCompiler("id").Compile(queryir.Select{From: "t", Filter: queryir.Or{}})
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "WHERE 1 = 0")
}

func TestCompile_MatchAddsLeafColumnsAndResidual(t *testing.T) {
	filter := queryir.And{Predicates: []queryir.Predicate{
		queryir.Equals{Field: "author", Value: "GRRM"},
		containsTitle("Of"),
	}}

	plan, err := NewSQLCompiler("id").Compile(queryir.Select{From: "books", Filter: filter})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT seq, key, doc, COALESCE((json_extract(doc, ?) = ?), 0) FROM "books" WHERE (json_extract(doc, ?) = ? AND 1 = 1) ORDER BY seq ASC`,
		plan.SQL)
	assert.Equal(t, []any{`$."author"`, "GRRM", `$."author"`, "GRRM"}, plan.Params)
	assert.Equal(t, 1, plan.LeafColumns)
	require.NotNil(t, plan.Residual)

	ok, err := plan.Residual([]bool{true}, []byte(`{"title":"A Clash Of Kings"}`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = plan.Residual([]bool{false}, []byte(`{"title":"A Clash Of Kings"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = plan.Residual([]bool{true}, []byte(`{"title":"The Hobbit"}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompile_ResidualOrderFollowsLeaves(t *testing.T) {
	filter := queryir.Or{Predicates: []queryir.Predicate{
		queryir.And{Predicates: []queryir.Predicate{
			containsTitle("Of"),
			queryir.Equals{Field: "a", Value: 1},
		}},
		queryir.Equals{Field: "b", Value: 2},
	}}
	plan, err := NewSQLCompiler("id").Compile(queryir.Select{From: "t", Filter: filter})
	require.NoError(t, err)
	require.Equal(t, 2, plan.LeafColumns)

	// leaves = [a, b]
	ok, err := plan.Residual([]bool{false, true}, []byte(`{}`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = plan.Residual([]bool{true, false}, []byte(`{"t":"x"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = plan.Residual([]bool{true, false}, []byte(`{"t":"Of"}`))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompile_Count(t *testing.T) {
	plan, err := NewSQLCompiler("id").Compile(queryir.Count{From: "books", Filter: queryir.Equals{Field: "author", Value: "JRRT"}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "books" WHERE json_extract(doc, ?) = ?`, plan.SQL)

	_, err = NewSQLCompiler("id").Compile(queryir.Count{From: "books", Filter: containsTitle("Of")})
	assert.Error(t, err)
}

func TestCompile_Errors(t *testing.T) {
	c := NewSQLCompiler("id")

	_, err := c.Compile(nil)
	assert.Error(t, err)

	_, err = c.Compile(queryir.Select{From: "t", Filter: queryir.Equals{Field: "a"}})
	assert.Error(t, err)

	_, err = c.Compile(queryir.Select{From: "t", Filter: queryir.Equals{Field: "a", Value: map[string]any{"x": 1}}})
	assert.Error(t, err)

	_, err = c.Compile(queryir.Select{From: "t", Filter: queryir.Equals{Field: "id", Value: 1.5}})
	assert.Error(t, err)
}

type author string

func TestParamValue(t *testing.T) {
	v, err := paramValue(author("GRRM"))
	require.NoError(t, err)
	assert.Equal(t, "GRRM", v)

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	v, err = paramValue(ts)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T03:04:05Z", v)

	v, err = paramValue(uint64(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, `"books"`, QuoteIdent("books"))
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
	assert.Equal(t, `$."title"`, PropertyPath("title"))
}
