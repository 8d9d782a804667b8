package address

// ByFamily holds one value per address family. The engine keeps one
// limiter, dedup cache and recidivism cache in each slot so IPv4 and
// IPv6 state never share a table.
type ByFamily[T any] struct {
	V4 T
	V6 T
}

// NewByFamily builds both slots with init, stopping at the first error.
func NewByFamily[T any](init func(Family) (T, error)) (ByFamily[T], error) {
	v4, err := init(V4)
	if err != nil {
		return ByFamily[T]{}, err
	}
	v6, err := init(V6)
	if err != nil {
		return ByFamily[T]{}, err
	}
	return ByFamily[T]{V4: v4, V6: v6}, nil
}

// Get returns the value for family f.
func (b ByFamily[T]) Get(f Family) T {
	if f == V4 {
		return b.V4
	}
	return b.V6
}

// Each calls fn for both families, IPv4 first.
func (b ByFamily[T]) Each(fn func(Family, T)) {
	fn(V4, b.V4)
	fn(V6, b.V6)
}
