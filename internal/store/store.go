package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultPollInterval is how often the change feed looks for writes made
	// through other handles on the same file.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultChangeRetention is how long change records are kept.
	DefaultChangeRetention = 10 * time.Minute
)

// DB is a handle on one logical document database stored in a SQLite file.
//
// A handle goes through declare → open → use → close cycles. Versions can only
// be declared while the handle is closed; Open brings the file up to the
// highest declared version. Subscriptions survive close and reopen.
type DB struct {
	path         string
	logger       *slog.Logger
	pollInterval time.Duration
	retention    time.Duration
	clock        Clock

	mu       sync.RWMutex
	versions map[int]map[string]string
	conn     *sql.DB
	verno    int
	tables   map[string]*tableInfo

	feed *feed
}

// Clock supplies wall time for change records and their pruning.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// WithPollInterval sets how often the change feed polls the file.
func WithPollInterval(d time.Duration) Option {
	return func(db *DB) {
		if d > 0 {
			db.pollInterval = d
		}
	}
}

// WithChangeRetention sets how long change records are kept before pruning.
func WithChangeRetention(d time.Duration) Option {
	return func(db *DB) {
		if d > 0 {
			db.retention = d
		}
	}
}

// WithClock sets the clock used to stamp and prune change records.
func WithClock(c Clock) Option {
	return func(db *DB) {
		if c != nil {
			db.clock = c
		}
	}
}

// New creates a closed handle for the database file at path.
// The file is created on first Open.
func New(path string, opts ...Option) *DB {
	db := &DB{
		path:         path,
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
		retention:    DefaultChangeRetention,
		clock:        systemClock{},
		versions:     make(map[int]map[string]string),
	}
	for _, opt := range opts {
		opt(db)
	}
	db.feed = newFeed(db.logger, db.clock)
	return db
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// IsOpen reports whether the handle is open.
func (db *DB) IsOpen() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn != nil
}

// Open creates or opens the database file and upgrades it to the highest
// declared version.
//
// The connection is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// Open on an open handle is a no-op.
func (db *DB) Open(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.conn != nil {
		return nil
	}

	conn, err := openConn(ctx, db.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", db.path, err)
	}

	verno, tables, err := db.upgrade(ctx, conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("open %s: %w", db.path, err)
	}

	lastRev, err := maxRevision(ctx, conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("open %s: %w", db.path, err)
	}

	db.conn = conn
	db.verno = verno
	db.tables = tables
	db.feed.start(conn, lastRev, db.pollInterval, db.retention)

	db.logger.Info("database opened", "path", db.path, "version", verno, "tables", len(tables))
	return nil
}

// Close stops the change feed and closes the connection. Declared versions
// and subscriptions are kept so the handle can be reopened.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.conn == nil {
		return nil
	}
	db.feed.stop()
	err := db.conn.Close()
	db.conn = nil
	db.tables = nil
	db.logger.Debug("database closed", "path", db.path)
	return err
}

// Verno returns the version the database is (or will be) opened at: the
// opened version when open, otherwise max(highest declared, stored version).
func (db *DB) Verno(ctx context.Context) (int, error) {
	db.mu.RLock()
	if db.conn != nil {
		defer db.mu.RUnlock()
		return db.verno, nil
	}
	declared := db.maxDeclared()
	db.mu.RUnlock()

	stored, err := peekUserVersion(ctx, db.path)
	if err != nil {
		return 0, fmt.Errorf("verno: %w", err)
	}
	return max(declared, stored), nil
}

// Tables returns the name and schema string of every table in the open
// schema, sorted by name.
func (db *DB) Tables() ([]TableSchema, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.conn == nil {
		return nil, errNotOpen("")
	}
	return sortedTables(db.tables), nil
}

// Delete closes the handle and removes the database files.
func (db *DB) Delete() error {
	if err := db.Close(); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return Delete(db.path)
}

// Delete removes the database file at path together with its WAL and
// shared-memory files. Missing files are ignored.
func Delete(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", p, err)
		}
	}
	return nil
}

// openConn opens the file and applies pragmas and meta tables.
func openConn(ctx context.Context, path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer at a time
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applyMetaSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply meta schema: %w", err)
	}
	return conn, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

const metaSchemaSQL = `
CREATE TABLE IF NOT EXISTS _docrepo_schema (
	version INTEGER NOT NULL,
	tbl     TEXT NOT NULL,
	schema  TEXT NOT NULL,
	PRIMARY KEY (version, tbl)
);
CREATE TABLE IF NOT EXISTS _docrepo_changes (
	rev        INTEGER PRIMARY KEY AUTOINCREMENT,
	tbl        TEXT NOT NULL,
	type       INTEGER NOT NULL,
	key        TEXT NOT NULL,
	obj        TEXT,
	old_obj    TEXT,
	source     TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_docrepo_changes_created ON _docrepo_changes(created_at);
`

// applyMetaSchema creates the bookkeeping tables. Idempotent.
func applyMetaSchema(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, metaSchemaSQL); err != nil {
		return fmt.Errorf("failed to execute meta schema: %w", err)
	}
	return nil
}

// peekUserVersion reads the stored version without keeping the file open.
// A missing file is version 0.
func peekUserVersion(ctx context.Context, path string) (int, error) {
	if path == ":memory:" {
		return 0, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var version int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

func maxRevision(ctx context.Context, conn *sql.DB) (int64, error) {
	var rev int64
	err := conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(rev), 0) FROM _docrepo_changes").Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("read last revision: %w", err)
	}
	return rev, nil
}
