package relay

import "context"

// contextKey is generic so registries of different payload types never
// collide in the same context.
type contextKey[T any] struct{}

// NewContext returns a copy of ctx carrying r.
func NewContext[T any](ctx context.Context, r *Registry[T]) context.Context {
	return context.WithValue(ctx, contextKey[T]{}, r)
}

// FromContext returns the Registry stored in ctx by NewContext.
func FromContext[T any](ctx context.Context) (*Registry[T], bool) {
	r, ok := ctx.Value(contextKey[T]{}).(*Registry[T])
	return r, ok && r != nil
}
