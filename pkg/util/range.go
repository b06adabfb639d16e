package util

import (
	"cmp"
	"fmt"
)

// Range is a closed interval [Start, End].
type Range[T cmp.Ordered] struct {
	Start T
	End   T
}

// NewRange fails when start is greater than end.
func NewRange[T cmp.Ordered](start, end T) (Range[T], error) {
	if start > end {
		return Range[T]{}, fmt.Errorf("%v is greater than %v", start, end)
	}
	return Range[T]{Start: start, End: end}, nil
}

// Fits reports whether v lies inside the range, bounds included.
func (r Range[T]) Fits(v T) bool {
	return v >= r.Start && v <= r.End
}

func (r Range[T]) String() string {
	return fmt.Sprintf("Range [start=%v, end=%v]", r.Start, r.End)
}
