package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/docrepo/internal/config"
	"github.com/roach88/docrepo/internal/store"
)

// DatabaseInfo describes an open database.
type DatabaseInfo struct {
	Path    string      `json:"path"`
	Version int         `json:"version"`
	Tables  []TableInfo `json:"tables"`
}

// TableInfo describes one table of an open database.
type TableInfo struct {
	Name   string `json:"name"`
	Schema string `json:"schema"`
	Rows   int    `json:"rows"`
}

// openExisting opens the configured database without declaring anything.
// A missing file is an error rather than a new database.
func openExisting(ctx context.Context, cfg config.Config, logger *slog.Logger) (*store.DB, error) {
	if _, err := os.Stat(cfg.DB); err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("database not found: %s", cfg.DB)}
		}
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing database: %v", err)}
	}
	db := cfg.Open(logger)
	if err := db.Open(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// describe reads the version, tables and row counts of an open database.
func describe(ctx context.Context, db *store.DB) (DatabaseInfo, error) {
	verno, err := db.Verno(ctx)
	if err != nil {
		return DatabaseInfo{}, err
	}
	tables, err := db.Tables()
	if err != nil {
		return DatabaseInfo{}, err
	}

	info := DatabaseInfo{Path: db.Path(), Version: verno, Tables: make([]TableInfo, 0, len(tables))}
	for _, t := range tables {
		var n int
		err := db.Transaction(ctx, store.ModeRead, t.Name, func(tx *store.Tx) error {
			var err error
			n, err = tx.Count()
			return err
		})
		if err != nil {
			return DatabaseInfo{}, err
		}
		info.Tables = append(info.Tables, TableInfo{Name: t.Name, Schema: t.Schema, Rows: n})
	}
	return info, nil
}

func writeDatabaseInfo(formatter *OutputFormatter, info DatabaseInfo) {
	w := formatter.Writer
	fmt.Fprintf(w, "%s (version %d)\n", info.Path, info.Version)
	if len(info.Tables) == 0 {
		fmt.Fprintln(w, "  no tables")
		return
	}
	for _, t := range info.Tables {
		fmt.Fprintf(w, "  %-20s %6d rows  %s\n", t.Name, t.Rows, t.Schema)
	}
}

// errorCode returns the code of a store or load error, or fallback.
func errorCode(err error, fallback string) string {
	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		return string(storeErr.Code)
	}
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	return fallback
}

// storeFailure reports a database error and returns its exit error.
func storeFailure(formatter *OutputFormatter, message string, err error) error {
	_ = formatter.Error(errorCode(err, ErrCodeStore), err.Error(), nil)
	return WrapExitError(ExitCommandError, message, err)
}
