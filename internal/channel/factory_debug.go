//go:build debug

package channel

// New creates a receiver inbox.
// Debug builds hold a single delivery (ignores size), so a receiver that falls
// behind by more than one render shows up as dropped deliveries right away.
func New[T any](size int) Channel[T] {
	return NewBuffered[T](1)
}
