package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docrepo/internal/repository"
	"github.com/roach88/docrepo/internal/schema"
	"github.com/roach88/docrepo/internal/store"
	"github.com/roach88/docrepo/internal/testutil"
)

var testDeclarations = filepath.Join("testdata", "declarations")

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var bookEntity = schema.Declare("book").
	IncrementalID("id").
	Indexed("title").
	Indexed("author").
	MustBuild()

// execute runs a subcommand with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// seedBooks creates a database at a fresh path holding titles as books
// and returns the path.
func seedBooks(t *testing.T, titles ...string) string {
	t.Helper()
	ctx := context.Background()
	path := testutil.TempDBPath(t, "books.db")

	db := store.New(path, store.WithLogger(discardLogger))
	defer db.Close()
	repo, err := repository.NewRepository[map[string]any, any](ctx, db, bookEntity, "books",
		repository.WithLogger(discardLogger))
	require.NoError(t, err)
	defer repo.Close()

	docs := make([]map[string]any, 0, len(titles))
	for _, title := range titles {
		docs = append(docs, map[string]any{"title": title, "author": "JRRT"})
	}
	_, err = repo.SaveAll(ctx, docs...)
	require.NoError(t, err)
	return path
}
