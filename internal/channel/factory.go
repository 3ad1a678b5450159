//go:build !debug

package channel

// New creates a receiver inbox with the given buffer size.
// Production builds queue up to size deliveries.
func New[T any](size int) Channel[T] {
	return NewBuffered[T](size)
}
