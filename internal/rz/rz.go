// Package rz converts 32-bit integers to IEEE 754 single precision with
// round-toward-zero semantics, using integer operations only.
package rz

import "math"

// Int32ToFloat32 returns the binary32 encoding of a, truncated toward zero.
// Bits below the 24-bit significand are dropped, never rounded.
func Int32ToFloat32(a int32) Bits {
	if a == 0 {
		return 0
	}

	// Absolute value. For math.MinInt32 the negation wraps back to
	// 0x80000000, which read as unsigned is the correct magnitude 2^31.
	m := uint32(a)
	if a < 0 {
		m = 0 - m
	}

	// Normalize so the MSB is bit 31. Fixed ladder, no data-dependent loop.
	var shift uint32
	if m <= 0x0000FFFF {
		m <<= 16
		shift += 16
	}
	if m <= 0x00FFFFFF {
		m <<= 8
		shift += 8
	}
	if m <= 0x0FFFFFFF {
		m <<= 4
		shift += 4
	}
	if m <= 0x3FFFFFFF {
		m <<= 2
		shift += 2
	}
	if m <= 0x7FFFFFFF {
		m <<= 1
		shift += 1
	}

	// Mantissa with the explicit integer bit at bit 23. This is where
	// truncation happens.
	m >>= 8

	// The integer bit carries one into the exponent field, hence the -1.
	m += (Bias + 31 - 1 - shift) << MantissaBits

	if a < 0 {
		m |= SignMask
	}
	return Bits(m)
}

// Truncate is Int32ToFloat32 reinterpreted as a float32.
func Truncate(a int32) float32 {
	return Int32ToFloat32(a).Float32()
}

// Native returns the pattern produced by Go's own conversion, which rounds
// to nearest with ties to even.
func Native(a int32) Bits {
	return Bits(math.Float32bits(float32(a)))
}
