package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/docrepo/internal/schema"
	"github.com/roach88/docrepo/internal/store"
)

// Repository stores values of type V as models of type M in one table,
// keyed by K.
//
// Every operation runs in its own store transaction. Operations are safe
// for concurrent use; concurrent writes are each atomic but not atomic with
// respect to each other.
type Repository[V, M, K any] struct {
	db         *store.DB
	entity     *schema.Entity
	mapper     Mapper[V, M]
	name       string
	idProperty string
	token      string
	logger     *slog.Logger

	events      *hub[V, K]
	unsubscribe func()
	closed      atomic.Bool
}

type options struct {
	logger *slog.Logger
	tokens TokenGenerator
}

// Option configures a Repository.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTokenGenerator sets the source of the instance token.
// Defaults to UUIDv7Generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(o *options) { o.tokens = g }
}

// New creates a repository for entity stored in table name of db.
//
// New derives every schema version of entity, declares them on db and
// (re)opens it. An entity without a usable primary key fails here with a
// *schema.SchemaError and nothing is declared. db is closed and reopened,
// so it must not be used concurrently while New runs. If declaring or
// opening fails, db gets its previous declarations back and is reopened
// when it was open.
func New[V, M, K any](ctx context.Context, db *store.DB, entity *schema.Entity, mapper Mapper[V, M], name string, opts ...Option) (*Repository[V, M, K], error) {
	if name == "" {
		return nil, ErrNameRequired
	}
	if entity == nil {
		return nil, fmt.Errorf("repository %s: entity is nil", name)
	}

	o := options{logger: slog.Default(), tokens: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(&o)
	}

	verno, err := db.Verno(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", name, err)
	}
	versions, err := schema.BuildAll(entity, verno)
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", name, err)
	}

	err = db.Redeclare(ctx, func() error {
		for _, ts := range versions {
			if err := db.Version(ts.Version).Stores(map[string]string{name: ts.SchemaString}); err != nil {
				return fmt.Errorf("declare version %d: %w", ts.Version, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", name, err)
	}

	r := &Repository[V, M, K]{
		db:         db,
		entity:     entity,
		mapper:     mapper,
		name:       name,
		idProperty: versions[len(versions)-1].IDPropertyName,
		token:      o.tokens.Generate(),
		logger:     o.logger,
		events:     newHub[V, K](o.logger, name),
	}
	r.unsubscribe = db.Subscribe(r.onChanges)

	r.logger.Debug("repository created",
		"repository", name, "entity", entity.Name(), "versions", len(versions), "id", r.idProperty)
	return r, nil
}

// NewRepository creates a repository that stores values as they are.
func NewRepository[V, K any](ctx context.Context, db *store.DB, entity *schema.Entity, name string, opts ...Option) (*Repository[V, V, K], error) {
	return New[V, V, K](ctx, db, entity, NoopMapper[V]{}, name, opts...)
}

// Name returns the table name.
func (r *Repository[V, M, K]) Name() string {
	return r.name
}

// IDPropertyName returns the primary key descriptor at the newest version,
// e.g. "id" or "[firstName+lastName]".
func (r *Repository[V, M, K]) IDPropertyName() string {
	return r.idProperty
}

// Token returns the tag this instance puts on its writes.
func (r *Repository[V, M, K]) Token() string {
	return r.token
}

// Save stores value and returns its key. For incremental keys a zero key
// is replaced by the next number.
func (r *Repository[V, M, K]) Save(ctx context.Context, value V) (K, error) {
	var key K
	doc, err := r.toDoc(ctx, value)
	if err != nil {
		return key, fmt.Errorf("save: %w", err)
	}

	var raw string
	err = r.write(ctx, func(tx *store.Tx) error {
		var err error
		raw, err = tx.Put(doc)
		return err
	})
	if err != nil {
		return key, fmt.Errorf("save: %w", err)
	}
	if key, err = decodeKey[K](raw); err != nil {
		return key, fmt.Errorf("save: %w", err)
	}
	return key, nil
}

// SaveAll stores every value in one transaction and returns one key per
// value in input order. Values are mapped concurrently.
func (r *Repository[V, M, K]) SaveAll(ctx context.Context, values ...V) ([]K, error) {
	docs := make([][]byte, len(values))
	g, gctx := errgroup.WithContext(ctx)
	for i, value := range values {
		g.Go(func() error {
			doc, err := r.toDoc(gctx, value)
			if err != nil {
				return fmt.Errorf("value %d: %w", i, err)
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("save all: %w", err)
	}

	var raws []string
	err := r.write(ctx, func(tx *store.Tx) error {
		var err error
		raws, err = tx.BulkPut(docs)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("save all: %w", err)
	}

	keys := make([]K, len(raws))
	for i, raw := range raws {
		k, err := decodeKey[K](raw)
		if err != nil {
			return nil, fmt.Errorf("save all: %w", err)
		}
		keys[i] = k
	}
	return keys, nil
}

// FindByID returns the value stored under key. A missing key reports
// false with a nil error.
func (r *Repository[V, M, K]) FindByID(ctx context.Context, key K) (V, bool, error) {
	var (
		value V
		doc   []byte
		found bool
	)
	err := r.read(ctx, func(tx *store.Tx) error {
		var err error
		doc, found, err = tx.Get(key)
		return err
	})
	if err != nil || !found {
		if err != nil {
			err = fmt.Errorf("find by id: %w", err)
		}
		return value, false, err
	}
	if value, err = r.fromDoc(ctx, doc); err != nil {
		return value, false, fmt.Errorf("find by id: %w", err)
	}
	return value, true, nil
}

// FindAll returns every stored value in insertion order.
// Returns an empty slice (not nil) for an empty table.
func (r *Repository[V, M, K]) FindAll(ctx context.Context) ([]V, error) {
	var rows []store.Row
	err := r.read(ctx, func(tx *store.Tx) error {
		var err error
		rows, err = tx.ToArray()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find all: %w", err)
	}
	values, err := r.fromRows(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("find all: %w", err)
	}
	return values, nil
}

// PrimaryKeys returns every stored key in insertion order.
func (r *Repository[V, M, K]) PrimaryKeys(ctx context.Context) ([]K, error) {
	var raws []string
	err := r.read(ctx, func(tx *store.Tx) error {
		var err error
		raws, err = tx.PrimaryKeys()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("primary keys: %w", err)
	}
	keys := make([]K, len(raws))
	for i, raw := range raws {
		if keys[i], err = decodeKey[K](raw); err != nil {
			return nil, fmt.Errorf("primary keys: %w", err)
		}
	}
	return keys, nil
}

// Delete removes the value stored under key. Deleting a missing key is not
// an error.
func (r *Repository[V, M, K]) Delete(ctx context.Context, key K) error {
	err := r.write(ctx, func(tx *store.Tx) error {
		return tx.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Clear removes every value.
func (r *Repository[V, M, K]) Clear(ctx context.Context) error {
	if err := r.write(ctx, (*store.Tx).Clear); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Count returns the number of stored values.
func (r *Repository[V, M, K]) Count(ctx context.Context) (int, error) {
	var n int
	err := r.read(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.Count()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Search starts a query. The returned Query is single-use.
func (r *Repository[V, M, K]) Search() *Query[V, M, K] {
	return &Query[V, M, K]{repo: r}
}

// Events subscribes to changes made by other instances on this table.
// buffer sizes the channel; events that do not fit are dropped. The channel
// is closed by cancel or by Close.
func (r *Repository[V, M, K]) Events(buffer int) (<-chan Event[V, K], func()) {
	return r.events.subscribe(buffer)
}

// Close stops event delivery and closes every event channel. The store
// stays open; other repositories may still use it.
func (r *Repository[V, M, K]) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.unsubscribe()
	r.events.close()
	return nil
}

func (r *Repository[V, M, K]) read(ctx context.Context, fn func(*store.Tx) error) error {
	return r.transaction(ctx, store.ModeRead, fn)
}

func (r *Repository[V, M, K]) write(ctx context.Context, fn func(*store.Tx) error) error {
	return r.transaction(ctx, store.ModeReadWrite, fn)
}

// transaction runs fn in a transaction tagged with the instance token.
func (r *Repository[V, M, K]) transaction(ctx context.Context, mode store.Mode, fn func(*store.Tx) error) error {
	if r.closed.Load() {
		return ErrClosed
	}
	return r.db.Transaction(ctx, mode, r.name, func(tx *store.Tx) error {
		tx.SetSource(r.token)
		return fn(tx)
	})
}

func (r *Repository[V, M, K]) toDoc(ctx context.Context, value V) ([]byte, error) {
	model, err := r.mapper.ToModel(ctx, value)
	if err != nil {
		return nil, fmt.Errorf("map to model: %w", err)
	}
	doc, err := json.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	return doc, nil
}

func (r *Repository[V, M, K]) fromDoc(ctx context.Context, doc []byte) (V, error) {
	var (
		model M
		value V
	)
	if err := json.Unmarshal(doc, &model); err != nil {
		return value, fmt.Errorf("decode model: %w", err)
	}
	value, err := r.mapper.FromModel(ctx, model)
	if err != nil {
		return value, fmt.Errorf("map from model: %w", err)
	}
	return value, nil
}

// fromRows maps rows concurrently, keeping row order.
func (r *Repository[V, M, K]) fromRows(ctx context.Context, rows []store.Row) ([]V, error) {
	values := make([]V, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	for i, row := range rows {
		g.Go(func() error {
			v, err := r.fromDoc(gctx, row.Doc)
			if err != nil {
				return fmt.Errorf("row %s: %w", row.Key, err)
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}

// onChanges turns feed changes on this table into events. Changes tagged
// with this instance's token are its own writes and are skipped.
func (r *Repository[V, M, K]) onChanges(batch []store.Change) {
	ctx := context.Background()
	for _, c := range batch {
		if c.Table != r.name || c.Source == r.token {
			continue
		}
		ev, err := r.toEvent(ctx, c)
		if err != nil {
			r.logger.Warn("dropping change that cannot be mapped",
				"repository", r.name, "rev", c.Rev, "key", c.Key, "error", err)
			continue
		}
		r.events.broadcast(ev)
	}
}

func (r *Repository[V, M, K]) toEvent(ctx context.Context, c store.Change) (Event[V, K], error) {
	var ev Event[V, K]
	switch c.Type {
	case store.ChangeCreate:
		ev.Type = EventCreate
	case store.ChangeUpdate:
		ev.Type = EventUpdate
	case store.ChangeDelete:
		ev.Type = EventDelete
	default:
		return ev, fmt.Errorf("unknown change type %d", int(c.Type))
	}

	var err error
	if ev.Key, err = decodeKey[K](c.Key); err != nil {
		return ev, err
	}
	if c.Obj != nil {
		v, err := r.fromDoc(ctx, c.Obj)
		if err != nil {
			return ev, err
		}
		ev.NewValue = &v
	}
	if c.OldObj != nil {
		v, err := r.fromDoc(ctx, c.OldObj)
		if err != nil {
			return ev, err
		}
		ev.PreviousValue = &v
	}
	return ev, nil
}

func decodeKey[K any](raw string) (K, error) {
	var key K
	if err := json.Unmarshal([]byte(raw), &key); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return key, fmt.Errorf("key %s does not fit %T: %w", raw, key, err)
		}
		return key, fmt.Errorf("decode key %s: %w", raw, err)
	}
	return key, nil
}
