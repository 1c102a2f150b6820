package memutils

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	~int | ~uint | ~uint32 | ~uint64
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// AlignUp64 is AlignUp for unsigned 64-bit values such as GPU addresses and page counts
func AlignUp64(value uint64, alignment uint64) uint64 {
	return (value + alignment - 1) &^ (alignment - 1)
}

// DivRoundUp divides n by d, rounding up
func DivRoundUp(n, d uint64) uint64 {
	return (n + d - 1) / d
}

// Log2 returns floor(log2(value)). Log2(0) is 0.
func Log2(value uint64) int {
	if value == 0 {
		return 0
	}
	return bits.Len64(value) - 1
}

// Clamp restricts value to the inclusive range [low, high]
func Clamp[T constraints.Ordered](value, low, high T) T {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

// CheckRange verifies that [offset, offset+length) fits in a region of the given size
func CheckRange(offset, length, size int) error {
	if offset < 0 || length < 0 || offset+length > size {
		return cerrors.Wrapf(RangeError, "offset %d length %d size %d", offset, length, size)
	}
	return nil
}
