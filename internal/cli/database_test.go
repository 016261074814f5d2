package cli

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docrepo/internal/compiler"
	"github.com/roach88/docrepo/internal/schema"
	"github.com/roach88/docrepo/internal/testutil"
)

func TestApplyDeclaresEveryEntity(t *testing.T) {
	path := testutil.TempDBPath(t, "apply.db")

	out, err := execute(t, NewApplyCommand(&RootOptions{Format: "text", DB: path}), testDeclarations)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Applied 3 entities")
	assert.Contains(t, out, path+" (version 3)")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Regexp(t, `^\s+books\s+0 rows\s+\+\+id, title, author$`, lines[2])
	assert.Regexp(t, `^\s+characters\s+0 rows\s+&name, salary$`, lines[3])
	assert.Regexp(t, `^\s+contacts\s+0 rows\s+&name, &address$`, lines[4])
}

func TestApplyIsRepeatable(t *testing.T) {
	path := seedBooks(t, "The Hobbit", "The Silmarillion")
	opts := &RootOptions{Format: "json", DB: path}

	for range 2 {
		out, err := execute(t, NewApplyCommand(opts), testDeclarations)
		require.NoError(t, err)

		var resp struct {
			Data DatabaseInfo `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, 3, resp.Data.Version)
		require.Len(t, resp.Data.Tables, 3)
		assert.Equal(t, TableInfo{Name: "books", Schema: "++id, title, author", Rows: 2}, resp.Data.Tables[0])
	}
}

func TestApplyInvalidDeclarations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", invalidEntities)
	path := testutil.TempDBPath(t, "apply.db")

	_, err := execute(t, NewApplyCommand(&RootOptions{Format: "text", DB: path}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "nothing is written for invalid declarations")
}

func TestDeclaredEntity(t *testing.T) {
	loaded := &LoadResult{Registry: schema.NewRegistry()}
	book := &compiler.Declaration{Name: "book", Fields: []compiler.FieldDecl{{Field: "id", Kind: "IncrementalId"}}}
	entity, err := book.Entity()
	require.NoError(t, err)
	require.NoError(t, loaded.Registry.Register(entity))

	got, err := declaredEntity(loaded, book)
	require.NoError(t, err)
	assert.Same(t, entity, got)

	conflicting := &compiler.Declaration{Name: "character", Fields: []compiler.FieldDecl{
		{Field: "name", Kind: "Id"},
		{Field: "nickname", Kind: "IncrementalId"},
	}}
	_, err = declaredEntity(loaded, conflicting)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity character:")
	assert.NotContains(t, err.Error(), "entity is nil")

	unregistered := &compiler.Declaration{Name: "contact", Fields: []compiler.FieldDecl{{Field: "name", Kind: "Id"}}}
	_, err = declaredEntity(loaded, unregistered)
	assert.EqualError(t, err, "entity contact is not registered")
}

func TestInspect(t *testing.T) {
	path := seedBooks(t, "The Hobbit", "The Silmarillion", "Unfinished Tales")

	out, err := execute(t, NewInspectCommand(&RootOptions{Format: "json", DB: path}))
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   DatabaseInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, DatabaseInfo{
		Path:    path,
		Version: 1,
		Tables:  []TableInfo{{Name: "books", Schema: "++id, title, author", Rows: 3}},
	}, resp.Data)
}

func TestInspectMissingDatabase(t *testing.T) {
	path := testutil.TempDBPath(t, "missing.db")

	out, err := execute(t, NewInspectCommand(&RootOptions{Format: "text", DB: path}))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]: database not found")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "inspect does not create databases")
}

func TestDump(t *testing.T) {
	path := seedBooks(t, "The Hobbit", "The Silmarillion", "Unfinished Tales")

	out, err := execute(t, NewDumpCommand(&RootOptions{Format: "text", DB: path}), "books")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for i, title := range []string{"The Hobbit", "The Silmarillion", "Unfinished Tales"} {
		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[i]), &doc))
		assert.Equal(t, title, doc["title"])
		assert.Equal(t, float64(i+1), doc["id"])
	}
}

func TestDumpJSONWithLimit(t *testing.T) {
	path := seedBooks(t, "The Hobbit", "The Silmarillion", "Unfinished Tales")

	out, err := execute(t, NewDumpCommand(&RootOptions{Format: "json", DB: path}), "--limit", "2", "books")
	require.NoError(t, err)

	var resp struct {
		Data []DumpRow `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.JSONEq(t, `1`, string(resp.Data[0].Key))
	assert.JSONEq(t, `2`, string(resp.Data[1].Key))
	assert.Contains(t, string(resp.Data[1].Doc), "The Silmarillion")
}

func TestDumpUnknownTable(t *testing.T) {
	path := seedBooks(t, "The Hobbit")

	out, err := execute(t, NewDumpCommand(&RootOptions{Format: "text", DB: path}), "scrolls")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [NO_SUCH_TABLE]")
}

func TestDropRequiresForce(t *testing.T) {
	path := seedBooks(t, "The Hobbit")

	out, err := execute(t, NewDropCommand(&RootOptions{Format: "text", DB: path}))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "without --force")

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestDrop(t *testing.T) {
	path := seedBooks(t, "The Hobbit")

	out, err := execute(t, NewDropCommand(&RootOptions{Format: "text", DB: path}), "--force")
	require.NoError(t, err)
	assert.Equal(t, "✓ Deleted "+path+"\n", out)

	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		_, statErr := os.Stat(p)
		assert.True(t, os.IsNotExist(statErr), p)
	}

	// Dropping a missing database is not an error.
	_, err = execute(t, NewDropCommand(&RootOptions{Format: "text", DB: path}), "--force")
	assert.NoError(t, err)
}
