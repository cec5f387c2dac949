package utils

import (
	"golang.org/x/exp/constraints"
)

// Returns an all ones bitmask of n bits of the given unsigned integer type
func AllOnes[T constraints.Unsigned](bits int) T {
	return (T(1) << bits) - T(1)
}

// Rounds value up to the next multiple of align. align must be a power of two.
func AlignUp[T constraints.Unsigned](value, align T) T {
	return (value + align - 1) &^ (align - 1)
}
