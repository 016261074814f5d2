package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestDB returns a closed handle on a fresh file with the given versions
// declared.
func newTestDB(t *testing.T, path string, versions map[int]map[string]string) *DB {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "test.db")
	}
	db := New(path, WithPollInterval(10*time.Millisecond))
	for n, tables := range versions {
		require.NoError(t, db.Version(n).Stores(tables))
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// openTestDB is newTestDB followed by Open.
func openTestDB(t *testing.T, versions map[int]map[string]string) *DB {
	t.Helper()
	db := newTestDB(t, "", versions)
	require.NoError(t, db.Open(context.Background()))
	return db
}

func put(t *testing.T, db *DB, table, doc string) string {
	t.Helper()
	var key string
	err := db.Transaction(context.Background(), ModeReadWrite, table, func(tx *Tx) error {
		var err error
		key, err = tx.Put([]byte(doc))
		return err
	})
	require.NoError(t, err)
	return key
}

func readAll(t *testing.T, db *DB, table string) []Row {
	t.Helper()
	var rows []Row
	err := db.Transaction(context.Background(), ModeRead, table, func(tx *Tx) error {
		var err error
		rows, err = tx.ToArray()
		return err
	})
	require.NoError(t, err)
	return rows
}
