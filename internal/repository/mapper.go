package repository

import "context"

// Mapper converts between application values and persisted models.
//
// Both directions are plain blocking calls. A mapper that does its work
// elsewhere (a remote lookup, a worker) waits for the result before
// returning.
type Mapper[V, M any] interface {
	ToModel(ctx context.Context, value V) (M, error)
	FromModel(ctx context.Context, model M) (V, error)
}

// NoopMapper stores values as they are.
type NoopMapper[V any] struct{}

func (NoopMapper[V]) ToModel(_ context.Context, value V) (V, error) {
	return value, nil
}

func (NoopMapper[V]) FromModel(_ context.Context, model V) (V, error) {
	return model, nil
}

// MapperFuncs adapts a pair of functions to Mapper.
type MapperFuncs[V, M any] struct {
	To   func(ctx context.Context, value V) (M, error)
	From func(ctx context.Context, model M) (V, error)
}

func (m MapperFuncs[V, M]) ToModel(ctx context.Context, value V) (M, error) {
	return m.To(ctx, value)
}

func (m MapperFuncs[V, M]) FromModel(ctx context.Context, model M) (V, error) {
	return m.From(ctx, model)
}
