package testutil

import (
	"path/filepath"
	"testing"
)

// TempDBPath returns a database path inside a per-test temporary directory.
// The directory and everything in it is removed when the test ends.
func TempDBPath(t testing.TB, name string) string {
	t.Helper()
	if name == "" {
		name = "test.db"
	}
	return filepath.Join(t.TempDir(), name)
}
