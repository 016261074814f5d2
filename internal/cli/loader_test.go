package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docrepo/internal/compiler"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func loadErrorCodes(t *testing.T, errs []error) []string {
	t.Helper()
	codes := make([]string, 0, len(errs))
	for _, err := range errs {
		var loadErr *LoadError
		require.True(t, errors.As(err, &loadErr), "unexpected error type %T: %v", err, err)
		codes = append(codes, loadErr.Code)
	}
	return codes
}

func TestLoadEntities(t *testing.T) {
	result, errs := LoadEntities(testDeclarations, LoadModeFailFast)
	require.Empty(t, errs)

	assert.Equal(t, 2, result.FileCount)
	names := make([]string, 0, len(result.Declarations))
	for _, d := range result.Declarations {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"book", "character", "contact"}, names)
	assert.Equal(t, []string{"book", "character", "contact"}, result.Registry.Names())

	contact := result.Declarations[2]
	assert.Equal(t, "contacts.yaml", contact.Source)
	entity, ok := result.Entity(contact)
	require.True(t, ok)
	assert.Equal(t, "contact", entity.Name())
}

func TestLoadEntitiesMissingDirectory(t *testing.T) {
	result, errs := LoadEntities("/nonexistent/declarations", LoadModeCollectAll)
	assert.Nil(t, result)
	assert.Equal(t, []string{ErrCodeNotFound}, loadErrorCodes(t, errs))
}

func TestLoadEntitiesNotADirectory(t *testing.T) {
	_, errs := LoadEntities(filepath.Join(testDeclarations, "contacts.yaml"), LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeNotFound}, loadErrorCodes(t, errs))
	assert.Contains(t, errs[0].Error(), "not a directory")
}

func TestLoadEntitiesEmptyDirectory(t *testing.T) {
	result, errs := LoadEntities(t.TempDir(), LoadModeCollectAll)
	assert.Nil(t, result)
	assert.Equal(t, []string{ErrCodeNoFiles}, loadErrorCodes(t, errs))
}

func TestLoadEntitiesNoEntities(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "settings.yaml", "db: app.db\n")

	_, errs := LoadEntities(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeGeneric}, loadErrorCodes(t, errs))
	assert.Contains(t, errs[0].Error(), "no entities declared")
}

const invalidEntities = `
entity:
  keyless:
    fields:
      email: Unique
  conflicting:
    fields:
      id: Id
      seq: IncrementalId
`

func TestLoadEntitiesCollectAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", invalidEntities)

	result, errs := LoadEntities(dir, LoadModeCollectAll)
	require.NotNil(t, result)
	assert.Equal(t, []string{compiler.ErrNoPrimaryKey, compiler.ErrConflictingKey}, loadErrorCodes(t, errs))
	assert.Empty(t, result.Registry.Names(), "invalid declarations are not built")

	var loadErr *LoadError
	require.True(t, errors.As(errs[1], &loadErr))
	assert.Equal(t, "bad.yaml", loadErr.File)
	assert.Positive(t, loadErr.Line)
	assert.Contains(t, loadErr.Error(), "bad.yaml:")
}

func TestLoadEntitiesFailFast(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", invalidEntities)

	_, errs := LoadEntities(dir, LoadModeFailFast)
	assert.Equal(t, []string{compiler.ErrNoPrimaryKey}, loadErrorCodes(t, errs))
}

func TestLoadEntitiesDuplicateTable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "entity:\n  hero:\n    table: people\n    fields: {name: Id}\n")
	writeFile(t, dir, "b.yaml", "entity:\n  villain:\n    table: people\n    fields: {name: Id}\n")

	_, errs := LoadEntities(dir, LoadModeCollectAll)
	assert.Equal(t, []string{compiler.ErrDuplicateTable}, loadErrorCodes(t, errs))
}

func TestLoadEntitiesDuplicateName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "entity:\n  hero:\n    table: heroes\n    fields: {name: Id}\n")
	writeFile(t, dir, "b.yaml", "entity:\n  hero:\n    table: legends\n    fields: {name: Id}\n")

	result, errs := LoadEntities(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeDeclaration}, loadErrorCodes(t, errs))
	assert.Contains(t, errs[0].Error(), "already registered")
	assert.Equal(t, []string{"hero"}, result.Registry.Names())
}

func TestLoadEntitiesCUECompileError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.cue", "package bad\n\nentity: broken: fields: 42\n")

	_, errs := LoadEntities(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeDeclaration}, loadErrorCodes(t, errs))
	assert.Contains(t, errs[0].Error(), "fields")
}

func TestLoadEntitiesCUESyntaxError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.cue", "package bad\n\nentity: {\n")

	_, errs := LoadEntities(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeLoadFailed}, loadErrorCodes(t, errs))
}

func TestLoadEntitiesUnknownKind(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "typo.yaml", "entity:\n  hero:\n    fields:\n      name: Id\n      nick: Nickname\n")

	_, errs := LoadEntities(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeDeclaration}, loadErrorCodes(t, errs))
	assert.Contains(t, errs[0].Error(), "typo.yaml:5")
	assert.Contains(t, errs[0].Error(), `unknown annotation "Nickname"`)
}

func TestLoadEntitiesYAMLSyntaxError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", "entity: [unclosed\n")

	_, errs := LoadEntities(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeLoadFailed}, loadErrorCodes(t, errs))
}

func TestFindDeclarationFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	writeFile(t, dir, "b.cue", "")
	writeFile(t, dir, "a.yml", "")
	writeFile(t, dir, "notes.txt", "")
	writeFile(t, filepath.Join(dir, "nested"), "c.yaml", "")

	cueFiles, yamlFiles, err := FindDeclarationFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.cue")}, cueFiles)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "nested", "c.yaml")}, yamlFiles)
}

func TestLoadErrorFormat(t *testing.T) {
	assert.Equal(t, "E001: boom", (&LoadError{Code: "E001", Message: "boom"}).Error())
	assert.Equal(t, "a.yaml: E004: boom", (&LoadError{Code: "E004", Message: "boom", File: "a.yaml"}).Error())
	assert.Equal(t, "a.yaml:3: E102: boom", (&LoadError{Code: "E102", Message: "boom", File: "a.yaml", Line: 3}).Error())
}

func TestMapFieldToErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeLoadFailed, MapFieldToErrorCode("yaml"))
	assert.Equal(t, ErrCodeLoadFailed, MapFieldToErrorCode("cue"))
	assert.Equal(t, ErrCodeDeclaration, MapFieldToErrorCode("entity.book.fields"))
}
