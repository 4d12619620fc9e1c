package rz

import (
	"fmt"
	"math"
)

// IEEE 754 binary32 layout.
const (
	Bias         = 127
	MantissaBits = 23
	SignMask     = 0x80000000
	ExponentMask = 0x7F800000
	MantissaMask = 0x007FFFFF
)

// Bits is the raw bit pattern of an IEEE 754 single-precision value.
type Bits uint32

// Sign returns bit 31 (1 for negative values).
func (b Bits) Sign() uint32 {
	return uint32(b) >> 31
}

// Exponent returns the biased 8-bit exponent field.
func (b Bits) Exponent() uint32 {
	return (uint32(b) & ExponentMask) >> MantissaBits
}

// Mantissa returns the 23-bit fraction field without the implicit leading 1.
func (b Bits) Mantissa() uint32 {
	return uint32(b) & MantissaMask
}

// Float32 reinterprets the pattern as a float32.
func (b Bits) Float32() float32 {
	return math.Float32frombits(uint32(b))
}

func (b Bits) String() string {
	return fmt.Sprintf("0x%08X", uint32(b))
}

// ULPDistance returns how many representable values separate x and y.
// Both patterns must carry the same sign; for finite values of one sign the
// binary32 encoding is monotonic, so the raw difference is the distance.
func ULPDistance(x, y Bits) uint32 {
	if x > y {
		return uint32(x - y)
	}
	return uint32(y - x)
}
