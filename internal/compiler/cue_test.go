package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docrepo/internal/schema"
)

func compileCUE(t *testing.T, src, path string) (*Declaration, error) {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return CompileEntity(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileEntityBasic(t *testing.T) {
	decl, err := compileCUE(t, `
		entity: book: {
			table: "books"
			fields: {
				id:     "IncrementalId"
				title:  "Indexed"
				author: "Indexed"
			}
		}
	`, "entity.book")
	require.NoError(t, err)

	assert.Equal(t, "book", decl.Name)
	assert.Equal(t, "books", decl.TableName())
	assert.Equal(t, []FieldDecl{
		{Field: "id", Kind: "IncrementalId", Line: decl.Fields[0].Line},
		{Field: "title", Kind: "Indexed", Line: decl.Fields[1].Line},
		{Field: "author", Kind: "Indexed", Line: decl.Fields[2].Line},
	}, decl.Fields)

	entity, err := decl.Entity()
	require.NoError(t, err)
	ts, err := schema.BuildTableSchema(entity, 1)
	require.NoError(t, err)
	assert.Equal(t, "++id, title, author", ts.SchemaString)
}

func TestCompileEntityTableDefaultsToName(t *testing.T) {
	decl, err := compileCUE(t, `
		entity: characters: fields: name: "Id"
	`, "entity.characters")
	require.NoError(t, err)
	assert.Empty(t, decl.Table)
	assert.Equal(t, "characters", decl.TableName())
}

func TestCompileEntityStructAndListForms(t *testing.T) {
	decl, err := compileCUE(t, `
		entity: contact: fields: {
			name:    ["Id", "Indexed"]
			address: {kind: "Unique", since: 3}
		}
	`, "entity.contact")
	require.NoError(t, err)
	require.Len(t, decl.Fields, 3)

	assert.Equal(t, "name", decl.Fields[0].Field)
	assert.Equal(t, "Id", decl.Fields[0].Kind)
	assert.Equal(t, "name", decl.Fields[1].Field)
	assert.Equal(t, "Indexed", decl.Fields[1].Kind)
	assert.Equal(t, FieldDecl{Field: "address", Kind: "Unique", Since: 3, Line: decl.Fields[2].Line}, decl.Fields[2])

	entity, err := decl.Entity()
	require.NoError(t, err)
	versions, err := schema.ResolveVersions(entity)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, versions)
}

func TestCompileEntityCompoundKey(t *testing.T) {
	decl, err := compileCUE(t, `
		entity: fellow: fields: {
			firstName: ["CompoundId", "Indexed"]
			lastName:  ["CompoundId", "Indexed"]
		}
	`, "entity.fellow")
	require.NoError(t, err)

	entity, err := decl.Entity()
	require.NoError(t, err)
	ts, err := schema.BuildTableSchema(entity, 1)
	require.NoError(t, err)
	assert.Equal(t, "[firstName+lastName]", ts.IDPropertyName)
}

func TestCompileEntityMissingFields(t *testing.T) {
	_, err := compileCUE(t, `
		entity: empty: table: "empty"
	`, "entity.empty")
	require.Error(t, err)

	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "fields", compileErr.Field)
	assert.Equal(t, "fields is required", compileErr.Message)
}

func TestCompileEntityUnknownKind(t *testing.T) {
	_, err := compileCUE(t, `
		entity: bad: fields: id: "PrimaryKey"
	`, "entity.bad")

	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "fields.id", compileErr.Field)
	assert.Contains(t, compileErr.Message, `"PrimaryKey"`)
}

func TestCompileEntityWrongShapes(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"number annotation", `entity: x: fields: id: 42`, "fields.id"},
		{"struct without kind", `entity: x: fields: id: {since: 2}`, "fields.id.kind"},
		{"since not int", `entity: x: fields: id: {kind: "Id", since: "two"}`, "fields.id.since"},
		{"table not string", `entity: x: {table: 1, fields: id: "Id"}`, "table"},
		{"empty list", `entity: x: fields: id: []`, "fields.id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileCUE(t, tt.src, "entity.x")
			var compileErr *CompileError
			require.ErrorAs(t, err, &compileErr)
			assert.Equal(t, tt.field, compileErr.Field)
		})
	}
}

func TestCompileEntityDeclarationErrorPropagates(t *testing.T) {
	decl, err := compileCUE(t, `
		entity: twice: fields: {
			a: "Id"
			b: "Id"
		}
	`, "entity.twice")
	require.NoError(t, err)

	_, err = decl.Entity()
	require.Error(t, err)
	assert.True(t, schema.IsDeclarationError(err))

	var declErr *schema.DeclarationError
	require.ErrorAs(t, err, &declErr)
	assert.Equal(t, schema.ErrCodeDuplicateKey, declErr.Code)
	assert.Equal(t, "b", declErr.Field)
}

func TestCompileEntityInvalidCUE(t *testing.T) {
	v := cuecontext.New().CompileString(`
		entity: bad: {
			this is not valid CUE
		}
	`)
	require.Error(t, v.Err())
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "fields", Message: "fields is required"}
	assert.Equal(t, "fields: fields is required", err.Error())

	err = &CompileError{Field: "entity.x", Message: "declaration must be a mapping", Line: 4}
	assert.Equal(t, "line 4: entity.x: declaration must be a mapping", err.Error())
}
