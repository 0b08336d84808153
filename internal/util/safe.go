package util

import "math"

// SafeInt64Diff subtracts u2 from u1, returning 0 instead of
// underflowing or overflowing int64.
func SafeInt64Diff(u1, u2 uint64) int64 {
	if u1 < u2 {
		return 0
	}
	diff := u1 - u2
	if diff > math.MaxInt64 {
		return 0
	}
	return int64(diff)
}
