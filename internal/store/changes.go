package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ChangeType is the kind of a recorded write.
type ChangeType int

const (
	ChangeCreate ChangeType = 1
	ChangeUpdate ChangeType = 2
	ChangeDelete ChangeType = 3
)

func (c ChangeType) String() string {
	switch c {
	case ChangeCreate:
		return "create"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	}
	return fmt.Sprintf("ChangeType(%d)", int(c))
}

// Change is one committed write. Obj is nil for deletes and OldObj is nil
// for creates. Source is the tag set with Tx.SetSource, empty if none.
type Change struct {
	Rev    int64
	Table  string
	Type   ChangeType
	Key    string
	Obj    []byte
	OldObj []byte
	Source string
}

// pollBatch bounds how many changes one poll reads.
const pollBatch = 500

// pruneEvery is how many polls pass between retention sweeps.
const pruneEvery = 40

// feed reads committed changes from the file and hands them to subscribers.
// Local commits wake it immediately; writes through other handles are picked
// up on the next tick.
type feed struct {
	logger *slog.Logger
	clock  Clock

	mu     sync.Mutex
	subs   map[int]func([]Change)
	nextID int

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func newFeed(logger *slog.Logger, clock Clock) *feed {
	return &feed{
		logger: logger,
		clock:  clock,
		subs:   make(map[int]func([]Change)),
	}
}

// start launches the poll loop from lastRev. Not safe to call twice without
// stop in between.
func (f *feed) start(conn *sql.DB, lastRev int64, interval, retention time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	wake := make(chan struct{}, 1)
	done := make(chan struct{})

	f.mu.Lock()
	f.wake = wake
	f.cancel = cancel
	f.done = done
	f.mu.Unlock()

	go f.run(ctx, conn, lastRev, interval, retention, wake, done)
}

// stop delivers anything committed so far and ends the poll loop.
func (f *feed) stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.wake = nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// notify wakes the poll loop without blocking.
func (f *feed) notify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.wake == nil {
		return
	}
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *feed) subscribe(fn func([]Change)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *feed) run(ctx context.Context, conn *sql.DB, rev int64, interval, retention time.Duration, wake <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			f.drain(context.Background(), conn, rev)
			return
		case <-wake:
		case <-ticker.C:
			polls++
			if polls%pruneEvery == 0 {
				f.prune(ctx, conn, retention)
			}
		}
		rev = f.drain(ctx, conn, rev)
	}
}

// drain delivers every change after rev and returns the last revision seen.
func (f *feed) drain(ctx context.Context, conn *sql.DB, rev int64) int64 {
	for {
		batch, err := readChanges(ctx, conn, rev, pollBatch)
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Warn("change feed poll failed", "error", err)
			}
			return rev
		}
		if len(batch) == 0 {
			return rev
		}
		rev = batch[len(batch)-1].Rev
		f.deliver(batch)
		if len(batch) < pollBatch {
			return rev
		}
	}
}

func (f *feed) deliver(batch []Change) {
	f.mu.Lock()
	subs := make([]func([]Change), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(batch)
	}
}

func (f *feed) prune(ctx context.Context, conn *sql.DB, retention time.Duration) {
	n, err := pruneChanges(ctx, conn, f.clock.Now().Add(-retention))
	if err != nil {
		if ctx.Err() == nil {
			f.logger.Warn("change pruning failed", "error", err)
		}
		return
	}
	if n > 0 {
		f.logger.Debug("changes pruned", "count", n)
	}
}

// pruneChanges deletes change records created before cutoff.
func pruneChanges(ctx context.Context, conn *sql.DB, cutoff time.Time) (int64, error) {
	res, err := conn.ExecContext(ctx, "DELETE FROM _docrepo_changes WHERE created_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune changes: %w", err)
	}
	return res.RowsAffected()
}

func readChanges(ctx context.Context, conn *sql.DB, after int64, limit int) ([]Change, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT rev, tbl, type, key, obj, old_obj, source
		FROM _docrepo_changes
		WHERE rev > ?
		ORDER BY rev ASC
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var (
			c           Change
			typ         int
			obj, oldObj sql.NullString
		)
		if err := rows.Scan(&c.Rev, &c.Table, &typ, &c.Key, &obj, &oldObj, &c.Source); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Type = ChangeType(typ)
		if obj.Valid {
			c.Obj = []byte(obj.String)
		}
		if oldObj.Valid {
			c.OldObj = []byte(oldObj.String)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}

// PruneChanges deletes change records older than the retention window and
// returns how many were removed. The feed also prunes periodically.
func (db *DB) PruneChanges(ctx context.Context) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.conn == nil {
		return 0, errNotOpen("")
	}
	return pruneChanges(ctx, db.conn, db.clock.Now().Add(-db.retention))
}

// Subscribe registers fn for every batch of committed changes, across all
// tables and all handles on the file. fn runs on the feed goroutine in
// revision order and must not block. Subscriptions survive close and reopen.
func (db *DB) Subscribe(fn func([]Change)) (cancel func()) {
	return db.feed.subscribe(fn)
}
