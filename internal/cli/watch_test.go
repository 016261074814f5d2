package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docrepo/internal/repository"
	"github.com/roach88/docrepo/internal/store"
)

// syncBuffer is a bytes.Buffer safe to read while a command writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// watchWhileWriting runs watch with args and keeps saving books through a
// separate handle until the command returns.
func watchWhileWriting(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DOCREPO_POLL_INTERVAL", "10ms")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := &syncBuffer{}
	cmd := NewWatchCommand(opts)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	db := store.New(opts.DB, store.WithLogger(discardLogger))
	defer db.Close()
	repo, err := repository.NewRepository[map[string]any, any](ctx, db, bookEntity, "books",
		repository.WithLogger(discardLogger))
	require.NoError(t, err)
	defer repo.Close()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case err := <-done:
			return out.String(), err
		case <-ctx.Done():
			t.Fatal("watch did not return")
		case <-ticker.C:
			_, err := repo.Save(ctx, map[string]any{"title": fmt.Sprintf("Volume %d", i), "author": "JRRT"})
			require.NoError(t, err)
		}
	}
}

func TestWatchPrintsChanges(t *testing.T) {
	path := seedBooks(t, "The Hobbit")

	out, err := watchWhileWriting(t, &RootOptions{Format: "text", DB: path}, "--count", "2", "books")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Regexp(t, `^\d+ create books \d+ \{.*"author":"JRRT".*\}$`, line)
	}
}

func TestWatchJSON(t *testing.T) {
	path := seedBooks(t, "The Hobbit")

	out, err := watchWhileWriting(t, &RootOptions{Format: "json", DB: path}, "--count", "1")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   WatchEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "books", resp.Data.Table)
	assert.Equal(t, "create", resp.Data.Type)
	assert.Positive(t, resp.Data.Rev)
	assert.NotEmpty(t, resp.Data.Source, "writes carry the repository token")
	assert.Nil(t, resp.Data.Previous)
	assert.Contains(t, string(resp.Data.Doc), "Volume")
}

func TestWatchStopsOnCancel(t *testing.T) {
	path := seedBooks(t, "The Hobbit")

	ctx, cancel := context.WithCancel(context.Background())
	cmd := NewWatchCommand(&RootOptions{Format: "text", DB: path})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"scrolls"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch ignored cancellation")
	}
}

func TestWatchMissingDatabase(t *testing.T) {
	_, err := execute(t, NewWatchCommand(&RootOptions{Format: "text", DB: "/nonexistent/docrepo.db"}))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPrintChangeDelete(t *testing.T) {
	out := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: out}

	require.NoError(t, printChange(formatter, store.Change{
		Rev:    7,
		Table:  "books",
		Type:   store.ChangeDelete,
		Key:    "3",
		OldObj: []byte(`{"id":3}`),
	}))
	assert.Equal(t, "7 delete books 3 {\"id\":3}\n", out.String())
}
