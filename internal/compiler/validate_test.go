package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codes(errs []ValidationError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func TestValidateValid(t *testing.T) {
	decl := &Declaration{
		Name: "contact",
		Fields: []FieldDecl{
			{Field: "name", Kind: "Id"},
			{Field: "address", Kind: "Unique", Since: 3},
		},
	}
	assert.Empty(t, Validate(decl))
}

func TestValidateCompoundKeyIsNotDuplicate(t *testing.T) {
	decl := &Declaration{
		Name: "fellow",
		Fields: []FieldDecl{
			{Field: "firstName", Kind: "CompoundId"},
			{Field: "lastName", Kind: "CompoundId"},
		},
	}
	assert.Empty(t, Validate(decl))
}

func TestValidateCollectsAllErrors(t *testing.T) {
	decl := &Declaration{
		Name: "broken",
		Fields: []FieldDecl{
			{Field: "a+b", Kind: "Indexed", Line: 3},
			{Field: "c", Kind: "Sorted", Line: 4},
			{Field: "d", Kind: "Unique", Since: -1, Line: 5},
			{Field: "d", Kind: "Unique", Line: 6},
		},
	}
	errs := Validate(decl)
	assert.Equal(t, []string{
		ErrInvalidFieldName,
		ErrUnknownKind,
		ErrInvalidSince,
		ErrDuplicateAnnotation,
		ErrNoPrimaryKey,
	}, codes(errs))
	assert.Equal(t, 3, errs[0].Line)
	assert.Contains(t, errs[4].Message, "Id, IncrementalId or CompoundId")
}

func TestValidatePrimaryKeyConflicts(t *testing.T) {
	tests := []struct {
		name   string
		fields []FieldDecl
		want   string
	}{
		{"two ids", []FieldDecl{{Field: "a", Kind: "Id"}, {Field: "b", Kind: "Id"}}, ErrDuplicateKey},
		{"two incremental", []FieldDecl{{Field: "a", Kind: "IncrementalId"}, {Field: "b", Kind: "IncrementalId"}}, ErrDuplicateKey},
		{"id and incremental", []FieldDecl{{Field: "a", Kind: "Id"}, {Field: "b", Kind: "IncrementalId"}}, ErrConflictingKey},
		{"compound and id", []FieldDecl{{Field: "a", Kind: "CompoundId"}, {Field: "b", Kind: "Id"}}, ErrConflictingKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&Declaration{Name: "e", Fields: tt.fields})
			require.Len(t, errs, 1)
			assert.Equal(t, tt.want, errs[0].Code)
		})
	}
}

func TestValidateEmpty(t *testing.T) {
	errs := Validate(&Declaration{})
	assert.Equal(t, []string{ErrEntityNameEmpty, ErrNoFields}, codes(errs))
}

func TestValidateAllDuplicateTable(t *testing.T) {
	decls := []*Declaration{
		{Name: "book", Table: "books", Fields: []FieldDecl{{Field: "id", Kind: "IncrementalId"}}},
		{Name: "books", Fields: []FieldDecl{{Field: "isbn", Kind: "Id"}}},
	}
	errs := ValidateAll(decls)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDuplicateTable, errs[0].Code)
	assert.Contains(t, errs[0].Message, "book")
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{Field: "x.fields", Message: "at least one annotated field is required", Code: ErrNoFields}
	assert.Equal(t, "[E101] x.fields: at least one annotated field is required", err.Error())

	err.Line = 7
	assert.Equal(t, "[E101] line 7: x.fields: at least one annotated field is required", err.Error())
}

func TestValidateFieldNameMustBeNFC(t *testing.T) {
	decl := &Declaration{
		Name: "cafe",
		Fields: []FieldDecl{
			{Field: "cafe\u0301", Kind: "Id", Line: 2},
			{Field: "caf\u00e9s", Kind: "Indexed", Line: 3},
		},
	}
	errs := Validate(decl)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrInvalidFieldName, errs[0].Code)
	assert.Equal(t, 2, errs[0].Line)
	assert.Contains(t, errs[0].Message, "NFC")
}
