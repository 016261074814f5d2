// Package testutil provides deterministic stand-ins for tests: a manual
// clock, fixed instance tokens and temporary database paths.
package testutil
