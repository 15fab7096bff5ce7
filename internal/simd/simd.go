package simd

// DotStrided computes sum(a[k] * b[k*stride]) for k in [0, len(a)).
// Used to walk a column of a row-major matrix without materializing it.
func DotStrided(a, b []float32, stride int) float32 {
	var sum float32
	n := len(a)
	k := 0
	off := 0
	for ; k <= n-4; k += 4 {
		sum += a[k] * b[off]
		sum += a[k+1] * b[off+stride]
		sum += a[k+2] * b[off+2*stride]
		sum += a[k+3] * b[off+3*stride]
		off += 4 * stride
	}
	for ; k < n; k++ {
		sum += a[k] * b[off]
		off += stride
	}
	return sum
}

// Fill sets every element of dst to v.
func Fill(dst []float32, v float32) {
	if len(dst) == 0 {
		return
	}
	dst[0] = v
	// Doubling copy
	for filled := 1; filled < len(dst); filled *= 2 {
		copy(dst[filled:], dst[:filled])
	}
}
