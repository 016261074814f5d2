package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/docrepo/internal/queryir"
	"github.com/roach88/docrepo/internal/store"
)

// Query accumulates a selection over a repository's table.
//
// The first constraint seeds an index lookup, so its property must be
// indexed (or be the primary key). Later And* calls narrow the selection
// and Or* calls widen it; every Or branch is an index lookup too. And with
// a function filters candidate models in process.
//
// A Query is single-use: after Find or Count, further calls fail with
// ErrQueryConsumed. Builder methods mutate and return the same Query.
type Query[V, M, K any] struct {
	repo     *Repository[V, M, K]
	filter   queryir.Predicate
	matches  int
	consumed bool
	err      error
}

// AndEqual keeps models whose property equals value.
func (q *Query[V, M, K]) AndEqual(property string, value any) *Query[V, M, K] {
	return q.and(queryir.Equals{Field: property, Value: value})
}

// AndNotEqual keeps models whose property is present and differs from value.
func (q *Query[V, M, K]) AndNotEqual(property string, value any) *Query[V, M, K] {
	return q.and(queryir.NotEquals{Field: property, Value: value})
}

// OrEqual adds models whose property equals value.
func (q *Query[V, M, K]) OrEqual(property string, value any) *Query[V, M, K] {
	return q.or(queryir.Equals{Field: property, Value: value})
}

// OrNotEqual adds models whose property is present and differs from value.
func (q *Query[V, M, K]) OrNotEqual(property string, value any) *Query[V, M, K] {
	return q.or(queryir.NotEquals{Field: property, Value: value})
}

// And keeps models for which fn returns true. As the first constraint it
// scans the whole table.
func (q *Query[V, M, K]) And(fn func(model M) bool) *Query[V, M, K] {
	q.matches++
	return q.and(queryir.Match{
		Name: fmt.Sprintf("predicate#%d", q.matches),
		Fn: func(doc []byte) (bool, error) {
			var model M
			if err := json.Unmarshal(doc, &model); err != nil {
				return false, fmt.Errorf("decode model: %w", err)
			}
			return fn(model), nil
		},
	})
}

func (q *Query[V, M, K]) and(p queryir.Predicate) *Query[V, M, K] {
	if q.consumed {
		q.err = ErrQueryConsumed
		return q
	}
	q.filter = queryir.AndOf(q.filter, p)
	return q
}

func (q *Query[V, M, K]) or(p queryir.Predicate) *Query[V, M, K] {
	if q.consumed {
		q.err = ErrQueryConsumed
		return q
	}
	q.filter = queryir.OrOf(q.filter, p)
	return q
}

// Predicate returns the accumulated selection, nil when unconstrained.
func (q *Query[V, M, K]) Predicate() queryir.Predicate {
	return q.filter
}

// Find runs the query in a read transaction and returns the matching
// values in insertion order. Returns an empty slice (not nil) when nothing
// matches.
func (q *Query[V, M, K]) Find(ctx context.Context) ([]V, error) {
	if err := q.consume(); err != nil {
		return nil, err
	}

	var rows []store.Row
	err := q.repo.read(ctx, func(tx *store.Tx) error {
		var err error
		rows, err = tx.Select(q.filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	values, err := q.repo.fromRows(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	return values, nil
}

// Count runs the query and returns the number of matches.
func (q *Query[V, M, K]) Count(ctx context.Context) (int, error) {
	if err := q.consume(); err != nil {
		return 0, err
	}

	var n int
	err := q.repo.read(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.CountWhere(q.filter)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (q *Query[V, M, K]) consume() error {
	if q.consumed {
		return ErrQueryConsumed
	}
	q.consumed = true
	return q.err
}
