package geom

// FloorDiv divides rounding toward negative infinity.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// FloorMod is the remainder matching FloorDiv: always in [0, |b|).
func FloorMod(a, b int64) int64 {
	return a - FloorDiv(a, b)*b
}
